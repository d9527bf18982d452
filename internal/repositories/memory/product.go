package memory

import (
	"context"
	"sync"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

// ProductRepository holds catalog products. Stock writes are compare-and-set under the lock.
type ProductRepository struct {
	mu       sync.Mutex
	products map[string]domain.Product
}

// NewProductRepository constructs an empty product repository.
func NewProductRepository() *ProductRepository {
	return &ProductRepository{products: make(map[string]domain.Product)}
}

// Put seeds or replaces a product.
func (r *ProductRepository) Put(product domain.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[product.ID] = product
}

func (r *ProductRepository) Get(_ context.Context, productID string) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.products[productID]
	if !ok {
		return domain.Product{}, notFound("products.get")
	}
	return product, nil
}

func (r *ProductRepository) DecrementStock(_ context.Context, productID string, qty int) (domain.Product, error) {
	if qty <= 0 {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorInvalidQuantity, productID, qty, 0)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.products[productID]
	if !ok {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorProductNotFound, productID, qty, 0)
	}
	if product.Stock < qty {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorInsufficient, productID, qty, product.Stock)
	}
	product.Stock -= qty
	r.products[productID] = product
	return product, nil
}

func (r *ProductRepository) RestoreStock(_ context.Context, productID string, qty int) (domain.Product, error) {
	if qty <= 0 {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorInvalidQuantity, productID, qty, 0)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.products[productID]
	if !ok {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorProductNotFound, productID, qty, 0)
	}
	product.Stock += qty
	r.products[productID] = product
	return product, nil
}
