package repositories

import (
	"context"

	domain "github.com/storefront/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Addresses() AddressRepository
	Carts() CartRepository
	Products() ProductRepository
	Orders() OrderRepository
	Payments() PaymentRepository
	Counters() CounterRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// AddressRepository stores shipping addresses per user. Saving an address with IsDefault set
// clears the flag on every other address of the same user in the same atomic write.
type AddressRepository interface {
	List(ctx context.Context, userID string) ([]domain.Address, error)
	Get(ctx context.Context, userID string, addressID string) (domain.Address, error)
	Save(ctx context.Context, addr domain.Address) (domain.Address, error)
	Delete(ctx context.Context, userID string, addressID string) error
	SetDefault(ctx context.Context, userID string, addressID string) (domain.Address, error)
}

// CartRepository persists the per-user active cart with version based optimistic locking.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	// SaveCart writes cart only if the stored version still equals expectedVersion.
	// expectedVersion zero means the cart must not exist yet. The stored version is bumped.
	SaveCart(ctx context.Context, cart domain.Cart, expectedVersion int64) (domain.Cart, error)
}

// ProductRepository is the catalog collaborator: reads price/stock and applies conditional
// stock writes. Each stock call is a single-document atomic write.
type ProductRepository interface {
	Get(ctx context.Context, productID string) (domain.Product, error)
	// DecrementStock reduces stock by qty only when stock >= qty, otherwise returns a StockError.
	DecrementStock(ctx context.Context, productID string, qty int) (domain.Product, error)
	RestoreStock(ctx context.Context, productID string, qty int) (domain.Product, error)
}

// OrderRepository persists orders. Orders are never deleted.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
	// UpdateStatus replaces the order only if its persisted status equals expected and its
	// version equals order.Version. The stored version is bumped.
	UpdateStatus(ctx context.Context, order domain.Order, expected domain.OrderStatus) (domain.Order, error)
	HasPendingForAddress(ctx context.Context, userID string, addressID string) (bool, error)
}

// PaymentRepository stores payment attempts and enforces (provider, transactionId) uniqueness.
type PaymentRepository interface {
	Insert(ctx context.Context, payment domain.Payment) error
	FindByID(ctx context.Context, paymentID string) (domain.Payment, error)
	FindByTransaction(ctx context.Context, provider string, transactionID string) (domain.Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error)
	// Transition replaces the payment only if its persisted status equals expected. When the
	// payment carries a transaction id not yet claimed by it, the claim is created in the same
	// write and fails with PaymentErrorDuplicateTransaction if another payment owns it.
	Transition(ctx context.Context, payment domain.Payment, expected domain.PaymentStatus) (domain.Payment, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}
