package memory

import (
	"context"
	"sort"
	"sync"

	domain "github.com/storefront/api/internal/domain"
)

// OrderRepository stores orders and applies status changes as compare-and-set writes.
type OrderRepository struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

// NewOrderRepository constructs an empty order repository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]domain.Order)}
}

func (r *OrderRepository) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return conflict("orders.insert", "order %s already exists", order.ID)
	}
	r.orders[order.ID] = domain.CloneOrder(order)
	return nil
}

func (r *OrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.find")
	}
	return domain.CloneOrder(order), nil
}

func (r *OrderRepository) ListByUser(_ context.Context, userID string) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Order
	for _, order := range r.orders {
		if order.UserID == userID {
			out = append(out, domain.CloneOrder(order))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *OrderRepository) UpdateStatus(_ context.Context, order domain.Order, expected domain.OrderStatus) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.orders[order.ID]
	if !ok {
		return domain.Order{}, notFound("orders.update_status")
	}
	if current.Status != expected {
		return domain.Order{}, conflict("orders.update_status", "status is %s, expected %s", current.Status, expected)
	}
	if current.Version != order.Version {
		return domain.Order{}, conflict("orders.update_status", "version is %d, expected %d", current.Version, order.Version)
	}
	stored := domain.CloneOrder(order)
	stored.Version = current.Version + 1
	r.orders[order.ID] = stored
	return domain.CloneOrder(stored), nil
}

func (r *OrderRepository) HasPendingForAddress(_ context.Context, userID string, addressID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, order := range r.orders {
		if order.UserID == userID && order.Status == domain.OrderStatusPending && order.ShippingAddress.ID == addressID {
			return true, nil
		}
	}
	return false, nil
}
