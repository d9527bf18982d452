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

const cartCollection = "carts"

// CartRepository persists the active cart of each user keyed by user ID.
type CartRepository struct {
	carts    *pfirestore.Collection[cartDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		carts:    pfirestore.NewCollection[cartDocument](provider, cartCollection),
		provider: provider,
	}, nil
}

// GetCart loads the user's cart.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.carts == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	doc, err := r.carts.Get(ctx, strings.TrimSpace(userID))
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// SaveCart writes the cart when the stored version matches expectedVersion.
func (r *CartRepository) SaveCart(ctx context.Context, cart domain.Cart, expectedVersion int64) (domain.Cart, error) {
	if r == nil || r.carts == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	userID := strings.TrimSpace(cart.UserID)
	if userID == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	var saved domain.Cart
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.carts.Ref(ctx, userID)
		if err != nil {
			return err
		}
		current, found, err := pfirestore.ReadTx[cartDocument](tx, ref)
		if err != nil {
			return err
		}
		if !found && expectedVersion != 0 {
			return pfirestore.ConflictError("carts.save", "cart for %s no longer exists", userID)
		}
		if found && current.Version != expectedVersion {
			return pfirestore.ConflictError("carts.save", "cart version %d, expected %d", current.Version, expectedVersion)
		}

		doc := newCartDocument(cart)
		doc.Version = expectedVersion + 1
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		saved = doc.toDomain(userID)
		return nil
	})
	if err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.save", err)
	}
	return saved, nil
}

type cartDocument struct {
	Items      []cartItemDocument `firestore:"items"`
	TotalPrice int64              `firestore:"totalPrice"`
	Currency   string             `firestore:"currency,omitempty"`
	IsActive   bool               `firestore:"isActive"`
	Version    int64              `firestore:"version"`
	CreatedAt  time.Time          `firestore:"createdAt"`
	UpdatedAt  time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ProductID string    `firestore:"productId"`
	Quantity  int       `firestore:"quantity"`
	Price     int64     `firestore:"price"`
	AddedAt   time.Time `firestore:"addedAt"`
}

func newCartDocument(cart domain.Cart) cartDocument {
	items := make([]cartItemDocument, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, cartItemDocument{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
			AddedAt:   item.AddedAt.UTC(),
		})
	}
	return cartDocument{
		Items:      items,
		TotalPrice: cart.TotalPrice,
		Currency:   strings.ToUpper(strings.TrimSpace(cart.Currency)),
		IsActive:   cart.IsActive,
		Version:    cart.Version,
		CreatedAt:  cart.CreatedAt.UTC(),
		UpdatedAt:  cart.UpdatedAt.UTC(),
	}
}

func (d cartDocument) toDomain(userID string) domain.Cart {
	items := make([]domain.CartItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.CartItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
			AddedAt:   item.AddedAt,
		})
	}
	return domain.Cart{
		ID:         userID,
		UserID:     userID,
		Items:      items,
		TotalPrice: d.TotalPrice,
		Currency:   d.Currency,
		IsActive:   d.IsActive,
		Version:    d.Version,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

var _ repositories.CartRepository = (*CartRepository)(nil)
