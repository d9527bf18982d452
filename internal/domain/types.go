package domain

import (
	"time"
)

// Role names recognised on user identities.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User mirrors the authenticated account that owns addresses, carts and orders.
type User struct {
	ID         string
	Name       string
	Email      string
	Role       string
	IsVerified bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AddressProfile selects the locale specific field set required on an address.
type AddressProfile string

const (
	// AddressProfileGeneric uses line1/line2/city style addresses.
	AddressProfileGeneric AddressProfile = "generic"
	// AddressProfileMX uses street/exterior number/colonia/municipio addresses.
	AddressProfileMX AddressProfile = "mx"
)

// Address is the canonical postal address entity. Fields that do not belong to the
// selected profile are left empty.
type Address struct {
	ID                   string
	UserID               string
	Profile              AddressProfile
	FullName             string
	Line1                string
	Line2                string
	City                 string
	Street               string
	ExtNumber            string
	IntNumber            string
	Neighborhood         string
	Municipality         string
	State                string
	PostalCode           string
	Country              string
	Phone                string
	DeliveryInstructions string
	IsDefault            bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Clone returns an independent copy of the address.
func (a Address) Clone() Address {
	return a
}

// Product exposes the catalog fields the order core reads. Stock is the only field it writes.
type Product struct {
	ID            string
	SKU           string
	Name          string
	Price         int64
	DiscountPrice *int64
	Currency      string
	Stock         int
	UpdatedAt     time.Time
}

// EffectivePrice returns the discount price when one is active, otherwise the list price.
func (p Product) EffectivePrice() int64 {
	if p.DiscountPrice != nil && *p.DiscountPrice >= 0 && *p.DiscountPrice < p.Price {
		return *p.DiscountPrice
	}
	return p.Price
}

// Cart is the per-user active cart. TotalPrice is always derived from Items.
type Cart struct {
	ID         string
	UserID     string
	Items      []CartItem
	TotalPrice int64
	Currency   string
	IsActive   bool
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CartItem captures a product line with the price observed when it was added.
type CartItem struct {
	ProductID string
	Quantity  int
	Price     int64
	AddedAt   time.Time
}

// OrderStatus enumerates order lifecycle states.
type OrderStatus string

const (
	// OrderStatusPending marks a placed order awaiting payment.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid marks an order with a successful payment.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusShipped marks an order handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered is terminal.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is created once from a cart. Items, prices and ShippingAddress never change afterwards.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	Items           []OrderItem
	TotalPrice      int64
	Currency        string
	ShippingAddress Address
	Status          OrderStatus
	StatusHistory   []OrderStatusChange
	Version         int64
	CancelReason    string
	PaidAt          *time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItem stores the revalidated product line captured at placement.
type OrderItem struct {
	ProductID string
	SKU       string
	Name      string
	Quantity  int
	Price     int64
}

// OrderStatusChange is one entry in an order's append-only status history.
type OrderStatusChange struct {
	From      OrderStatus
	To        OrderStatus
	Actor     string
	Reason    string
	ChangedAt time.Time
}

// PaymentStatus enumerates payment attempt states.
type PaymentStatus string

const (
	PaymentStatusInitiated  PaymentStatus = "initiated"
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusSuccessful PaymentStatus = "successful"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// Payment providers accepted on payment records.
const (
	PaymentProviderStripe = "stripe"
	PaymentProviderPayPal = "paypal"
)

// Payment records one attempt to settle an order. (Provider, TransactionID) is globally unique
// once TransactionID is assigned.
type Payment struct {
	ID            string
	OrderID       string
	UserID        string
	Provider      string
	Method        string
	TransactionID string
	IntentID      string
	ClientSecret  string
	Amount        int64
	Currency      string
	Status        PaymentStatus
	RawResponse   map[string]any
	History       []PaymentStatusChange
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PaymentStatusChange records a committed payment transition.
type PaymentStatusChange struct {
	From      PaymentStatus
	To        PaymentStatus
	ChangedAt time.Time
}

// TransactionKey builds the uniqueness key for a provider transaction.
func TransactionKey(provider, transactionID string) string {
	return provider + ":" + transactionID
}
