package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/repositories"
)

// Registry groups the Firestore repositories over one shared provider.
type Registry struct {
	provider  *pfirestore.Provider
	addresses *AddressRepository
	carts     *CartRepository
	products  *ProductRepository
	orders    *OrderRepository
	payments  *PaymentRepository
	counters  *CounterRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs every Firestore repository.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	addresses, err := NewAddressRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	payments, err := NewPaymentRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider:  provider,
		addresses: addresses,
		carts:     carts,
		products:  products,
		orders:    orders,
		payments:  payments,
		counters:  counters,
	}, nil
}

// Close releases the shared Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func (r *Registry) Addresses() repositories.AddressRepository { return r.addresses }
func (r *Registry) Carts() repositories.CartRepository         { return r.carts }
func (r *Registry) Products() repositories.ProductRepository   { return r.products }
func (r *Registry) Orders() repositories.OrderRepository       { return r.orders }
func (r *Registry) Payments() repositories.PaymentRepository   { return r.payments }
func (r *Registry) Counters() repositories.CounterRepository   { return r.counters }

// ProductStore exposes catalog seeding.
func (r *Registry) ProductStore() *ProductRepository { return r.products }
