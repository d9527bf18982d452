// Package memory provides in-process repository implementations with the same conditional
// write semantics as the Firestore repositories. They back local development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/storefront/api/internal/repositories"
)

// Error implements repositories.RepositoryError for the memory store.
type Error struct {
	op       string
	err      error
	notFound bool
	conflict bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the error represents a missing record.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports whether a conditional write lost against a concurrent update.
func (e *Error) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable is always false; the memory store never goes away.
func (e *Error) IsUnavailable() bool { return false }

var (
	errNotFound = errors.New("not found")
	errConflict = errors.New("precondition failed")
)

func notFound(op string) error {
	return &Error{op: op, err: errNotFound, notFound: true}
}

func conflict(op string, format string, args ...any) error {
	return &Error{op: op, err: fmt.Errorf("%w: %s", errConflict, fmt.Sprintf(format, args...)), conflict: true}
}

// Registry groups the memory repositories behind repositories.Registry.
type Registry struct {
	addresses *AddressRepository
	carts     *CartRepository
	products  *ProductRepository
	orders    *OrderRepository
	payments  *PaymentRepository
	counters  *CounterRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs empty memory repositories sharing one registry.
func NewRegistry() *Registry {
	orders := NewOrderRepository()
	return &Registry{
		addresses: NewAddressRepository(),
		carts:     NewCartRepository(),
		products:  NewProductRepository(),
		orders:    orders,
		payments:  NewPaymentRepository(),
		counters:  NewCounterRepository(),
	}
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Addresses() repositories.AddressRepository { return r.addresses }
func (r *Registry) Carts() repositories.CartRepository         { return r.carts }
func (r *Registry) Products() repositories.ProductRepository   { return r.products }
func (r *Registry) Orders() repositories.OrderRepository       { return r.orders }
func (r *Registry) Payments() repositories.PaymentRepository   { return r.payments }
func (r *Registry) Counters() repositories.CounterRepository   { return r.counters }

// ProductStore exposes the concrete product repository so callers can seed the catalog.
func (r *Registry) ProductStore() *ProductRepository { return r.products }
