package services

import (
	"context"
	"time"

	domain "github.com/storefront/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Address           = domain.Address
	Product           = domain.Product
	Cart              = domain.Cart
	CartItem          = domain.CartItem
	Order             = domain.Order
	OrderItem         = domain.OrderItem
	OrderStatus       = domain.OrderStatus
	OrderStatusChange = domain.OrderStatusChange
	Payment           = domain.Payment
	PaymentStatus     = domain.PaymentStatus
)

// ActorRoleSystem identifies internal callers such as the payment reconciler.
const ActorRoleSystem = "system"

// Actor identifies who is performing an operation.
type Actor struct {
	ID   string
	Role string
}

// SystemActor returns the actor used for reconciler-driven transitions.
func SystemActor() Actor {
	return Actor{ID: "system", Role: ActorRoleSystem}
}

// IsAdmin reports whether the actor carries the admin role.
func (a Actor) IsAdmin() bool { return a.Role == domain.RoleAdmin }

// IsSystem reports whether the actor is the internal system actor.
func (a Actor) IsSystem() bool { return a.Role == ActorRoleSystem }

// SaveAddressCommand creates an address (empty AddressID) or replaces an existing one.
// IsDefault nil leaves the default flag untouched.
type SaveAddressCommand struct {
	UserID    string
	AddressID string
	Locale    string
	Address   Address
	IsDefault *bool
}

// PlaceOrderItem is one requested order line.
type PlaceOrderItem struct {
	ProductID string
	Quantity  int
}

// PlaceOrderCommand compiles an order. Empty Items means "use the active cart".
type PlaceOrderCommand struct {
	UserID    string
	AddressID string
	Items     []PlaceOrderItem
}

// TransitionCommand requests an order status change guarded by the expected current status.
type TransitionCommand struct {
	OrderID string
	From    OrderStatus
	To      OrderStatus
	Actor   Actor
	Reason  string
}

// CancelOrderCommand cancels an order from whatever cancellable status it is in.
type CancelOrderCommand struct {
	OrderID string
	Actor   Actor
	Reason  string
}

// InitiatePaymentCommand opens a payment attempt for a pending order.
type InitiatePaymentCommand struct {
	OrderID        string
	Provider       string
	Method         string
	Actor          Actor
	IdempotencyKey string
}

// ConfirmPaymentCommand applies a provider-reported result to a payment.
// An empty PaymentID resolves the payment already bound to the transaction.
type ConfirmPaymentCommand struct {
	PaymentID     string
	Provider      string
	TransactionID string
	Status        PaymentStatus
	RawResponse   map[string]any
}

// RefundPaymentCommand refunds a successful payment.
type RefundPaymentCommand struct {
	PaymentID string
	Actor     Actor
	Reason    string
}

// AddressService manages the per-user shipping address book.
type AddressService interface {
	ListAddresses(ctx context.Context, userID string) ([]Address, error)
	GetAddress(ctx context.Context, userID string, addressID string) (Address, error)
	CreateAddress(ctx context.Context, cmd SaveAddressCommand) (Address, error)
	UpdateAddress(ctx context.Context, cmd SaveAddressCommand) (Address, error)
	DeleteAddress(ctx context.Context, userID string, addressID string) error
	SetDefault(ctx context.Context, userID string, addressID string) (Address, error)
}

// CartService mutates the per-user active cart and keeps its total derived from its lines.
type CartService interface {
	GetCart(ctx context.Context, userID string) (Cart, error)
	AddItem(ctx context.Context, userID string, productID string, qty int) (Cart, error)
	UpdateQuantity(ctx context.Context, userID string, productID string, qty int) (Cart, error)
	RemoveItem(ctx context.Context, userID string, productID string) (Cart, error)
	Clear(ctx context.Context, userID string) (Cart, error)
}

// OrderService compiles orders from revalidated items and exposes order reads.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error)
	ListOrders(ctx context.Context, userID string) ([]Order, error)
}

// StatusOrchestrator is the only writer of order status.
type StatusOrchestrator interface {
	Initial(order Order, actor Actor) Order
	Transition(ctx context.Context, cmd TransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	CanTransitionPayment(from, to PaymentStatus) bool
}

// PaymentService reconciles provider results with payment and order state.
type PaymentService interface {
	InitiatePayment(ctx context.Context, cmd InitiatePaymentCommand) (Payment, error)
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Payment, error)
	RefundPayment(ctx context.Context, cmd RefundPaymentCommand) (Payment, error)
	ListPayments(ctx context.Context, orderID string, actor Actor) ([]Payment, error)
}

// ProductReader reads catalog products. The cart may be served through a cache; placement never is.
type ProductReader interface {
	Get(ctx context.Context, productID string) (Product, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	OrderNumber    string         `json:"orderNumber,omitempty"`
	UserID         string         `json:"userId,omitempty"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// PaymentGateway talks to payment service providers on behalf of the reconciler.
type PaymentGateway interface {
	Supports(provider string) bool
	CreateIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error)
	Refund(ctx context.Context, req PaymentRefundRequest) error
}

// PaymentIntentRequest asks a provider to open a payment intent for a payment record.
type PaymentIntentRequest struct {
	Provider       string
	PaymentID      string
	OrderID        string
	OrderNumber    string
	UserID         string
	Amount         int64
	Currency       string
	IdempotencyKey string
}

// PaymentIntent is the provider-side handle returned to the client.
type PaymentIntent struct {
	IntentID     string
	ClientSecret string
	Raw          map[string]any
}

// PaymentRefundRequest asks a provider to refund a captured intent.
type PaymentRefundRequest struct {
	Provider       string
	PaymentID      string
	IntentID       string
	Amount         int64
	Reason         string
	IdempotencyKey string
}
