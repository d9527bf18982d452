package memory

import (
	"context"
	"sync"

	domain "github.com/storefront/api/internal/domain"
)

// CartRepository stores one active cart per user guarded by a version check.
type CartRepository struct {
	mu    sync.Mutex
	carts map[string]domain.Cart
}

// NewCartRepository constructs an empty cart repository.
func NewCartRepository() *CartRepository {
	return &CartRepository{carts: make(map[string]domain.Cart)}
}

func (r *CartRepository) GetCart(_ context.Context, userID string) (domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.carts[userID]
	if !ok {
		return domain.Cart{}, notFound("carts.get")
	}
	return cloneCart(cart), nil
}

func (r *CartRepository) SaveCart(_ context.Context, cart domain.Cart, expectedVersion int64) (domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.carts[cart.UserID]
	switch {
	case !exists && expectedVersion != 0:
		return domain.Cart{}, conflict("carts.save", "cart for %s no longer exists", cart.UserID)
	case exists && current.Version != expectedVersion:
		return domain.Cart{}, conflict("carts.save", "cart version %d, expected %d", current.Version, expectedVersion)
	}

	stored := cloneCart(cart)
	stored.Version = expectedVersion + 1
	r.carts[cart.UserID] = stored
	return cloneCart(stored), nil
}

func cloneCart(cart domain.Cart) domain.Cart {
	clone := cart
	clone.Items = domain.CloneCartItems(cart.Items)
	return clone
}
