package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/storefront/api/internal/domain"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists orders and applies status changes as compare-and-set transactions.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
	}, nil
}

// Insert creates the order document, failing when the ID is already taken.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.orders.Create(ctx, order.ID, newOrderDocument(order))
}

// FindByID loads an order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("order repository: user id is required")
	}
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", uid).OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return orders, nil
}

// UpdateStatus replaces the order when its stored status and version still match.
func (r *OrderRepository) UpdateStatus(ctx context.Context, order domain.Order, expected domain.OrderStatus) (domain.Order, error) {
	var saved domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.Ref(ctx, order.ID)
		if err != nil {
			return err
		}
		current, found, err := pfirestore.ReadTx[orderDocument](tx, ref)
		if err != nil {
			return err
		}
		if !found {
			return pfirestore.NotFoundError("orders.updateStatus", "order "+order.ID)
		}
		if domain.OrderStatus(current.Status) != expected {
			return pfirestore.ConflictError("orders.updateStatus", "status is %s, expected %s", current.Status, expected)
		}
		if current.Version != order.Version {
			return pfirestore.ConflictError("orders.updateStatus", "version is %d, expected %d", current.Version, order.Version)
		}

		doc := newOrderDocument(order)
		doc.Version = current.Version + 1
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		saved = doc.toDomain(order.ID)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.updateStatus", err)
	}
	return saved, nil
}

// HasPendingForAddress reports whether a pending order of the user ships to the address.
func (r *OrderRepository) HasPendingForAddress(ctx context.Context, userID string, addressID string) (bool, error) {
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", strings.TrimSpace(userID)).
			Where("status", "==", string(domain.OrderStatusPending)).
			Where("shippingAddressId", "==", strings.TrimSpace(addressID)).
			Limit(1)
	})
	if err != nil {
		return false, err
	}
	return len(docs) > 0, nil
}

type orderDocument struct {
	OrderNumber       string               `firestore:"orderNumber"`
	UserID            string               `firestore:"userId"`
	Items             []orderItemDocument  `firestore:"items"`
	TotalPrice        int64                `firestore:"totalPrice"`
	Currency          string               `firestore:"currency"`
	ShippingAddressID string               `firestore:"shippingAddressId"`
	ShippingAddress   addressDocument      `firestore:"shippingAddress"`
	Status            string               `firestore:"status"`
	StatusHistory     []statusChangeRecord `firestore:"statusHistory"`
	Version           int64                `firestore:"version"`
	CancelReason      string               `firestore:"cancelReason,omitempty"`
	PaidAt            *time.Time           `firestore:"paidAt,omitempty"`
	ShippedAt         *time.Time           `firestore:"shippedAt,omitempty"`
	DeliveredAt       *time.Time           `firestore:"deliveredAt,omitempty"`
	CancelledAt       *time.Time           `firestore:"cancelledAt,omitempty"`
	CreatedAt         time.Time            `firestore:"createdAt"`
	UpdatedAt         time.Time            `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	SKU       string `firestore:"sku,omitempty"`
	Name      string `firestore:"name,omitempty"`
	Quantity  int    `firestore:"quantity"`
	Price     int64  `firestore:"price"`
}

type statusChangeRecord struct {
	From      string    `firestore:"from,omitempty"`
	To        string    `firestore:"to"`
	Actor     string    `firestore:"actor,omitempty"`
	Reason    string    `firestore:"reason,omitempty"`
	ChangedAt time.Time `firestore:"changedAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument(item))
	}
	history := make([]statusChangeRecord, 0, len(order.StatusHistory))
	for _, change := range order.StatusHistory {
		history = append(history, statusChangeRecord{
			From:      string(change.From),
			To:        string(change.To),
			Actor:     change.Actor,
			Reason:    change.Reason,
			ChangedAt: change.ChangedAt.UTC(),
		})
	}
	return orderDocument{
		OrderNumber:       order.OrderNumber,
		UserID:            order.UserID,
		Items:             items,
		TotalPrice:        order.TotalPrice,
		Currency:          order.Currency,
		ShippingAddressID: order.ShippingAddress.ID,
		ShippingAddress:   newAddressDocument(order.ShippingAddress),
		Status:            string(order.Status),
		StatusHistory:     history,
		Version:           order.Version,
		CancelReason:      order.CancelReason,
		PaidAt:            utcPtr(order.PaidAt),
		ShippedAt:         utcPtr(order.ShippedAt),
		DeliveredAt:       utcPtr(order.DeliveredAt),
		CancelledAt:       utcPtr(order.CancelledAt),
		CreatedAt:         order.CreatedAt.UTC(),
		UpdatedAt:         order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.OrderItem(item))
	}
	history := make([]domain.OrderStatusChange, 0, len(d.StatusHistory))
	for _, change := range d.StatusHistory {
		history = append(history, domain.OrderStatusChange{
			From:      domain.OrderStatus(change.From),
			To:        domain.OrderStatus(change.To),
			Actor:     change.Actor,
			Reason:    change.Reason,
			ChangedAt: change.ChangedAt,
		})
	}
	return domain.Order{
		ID:              id,
		OrderNumber:     d.OrderNumber,
		UserID:          d.UserID,
		Items:           items,
		TotalPrice:      d.TotalPrice,
		Currency:        d.Currency,
		ShippingAddress: d.ShippingAddress.toDomain(d.ShippingAddressID, d.UserID),
		Status:          domain.OrderStatus(d.Status),
		StatusHistory:   history,
		Version:         d.Version,
		CancelReason:    d.CancelReason,
		PaidAt:          utcPtr(d.PaidAt),
		ShippedAt:       utcPtr(d.ShippedAt),
		DeliveredAt:     utcPtr(d.DeliveredAt),
		CancelledAt:     utcPtr(d.CancelledAt),
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	value := t.UTC()
	return &value
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
