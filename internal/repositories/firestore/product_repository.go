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

const productsCollection = "products"

// ProductRepository reads catalog products and applies conditional stock writes.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.Collection[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		provider: provider,
		products: pfirestore.NewCollection[productDocument](provider, productsCollection),
	}, nil
}

// Get loads a product by ID.
func (r *ProductRepository) Get(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Put seeds or replaces a catalog product.
func (r *ProductRepository) Put(ctx context.Context, product domain.Product) error {
	return r.products.Set(ctx, product.ID, newProductDocument(product))
}

// DecrementStock reduces stock by qty when enough units remain.
func (r *ProductRepository) DecrementStock(ctx context.Context, productID string, qty int) (domain.Product, error) {
	return r.adjustStock(ctx, "products.decrementStock", productID, qty, -1)
}

// RestoreStock adds qty units back to the product.
func (r *ProductRepository) RestoreStock(ctx context.Context, productID string, qty int) (domain.Product, error) {
	return r.adjustStock(ctx, "products.restoreStock", productID, qty, 1)
}

func (r *ProductRepository) adjustStock(ctx context.Context, op string, productID string, qty int, sign int) (domain.Product, error) {
	if r == nil || r.provider == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if qty <= 0 {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorInvalidQuantity, id, qty, 0)
	}
	if id == "" {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorProductNotFound, id, qty, 0)
	}

	var updated domain.Product
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.products.Ref(ctx, id)
		if err != nil {
			return err
		}
		doc, found, err := pfirestore.ReadTx[productDocument](tx, ref)
		if err != nil {
			return err
		}
		if !found {
			return repositories.NewStockError(repositories.StockErrorProductNotFound, id, qty, 0)
		}
		if sign < 0 && doc.Stock < qty {
			return repositories.NewStockError(repositories.StockErrorInsufficient, id, qty, doc.Stock)
		}

		doc.Stock += sign * qty
		doc.UpdatedAt = time.Now().UTC()
		if err := tx.Update(ref, []firestore.Update{
			{Path: "stock", Value: doc.Stock},
			{Path: "updatedAt", Value: doc.UpdatedAt},
		}); err != nil {
			return err
		}
		updated = doc.toDomain(id)
		return nil
	})
	if err != nil {
		var stockErr *repositories.StockError
		if errors.As(err, &stockErr) {
			stockErr.Op = op
			return domain.Product{}, stockErr
		}
		return domain.Product{}, pfirestore.WrapError(op, err)
	}
	return updated, nil
}

type productDocument struct {
	SKU           string    `firestore:"sku"`
	Name          string    `firestore:"name"`
	Price         int64     `firestore:"price"`
	DiscountPrice *int64    `firestore:"discountPrice,omitempty"`
	Currency      string    `firestore:"currency"`
	Stock         int       `firestore:"stock"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func newProductDocument(product domain.Product) productDocument {
	return productDocument{
		SKU:           product.SKU,
		Name:          product.Name,
		Price:         product.Price,
		DiscountPrice: product.DiscountPrice,
		Currency:      strings.ToUpper(product.Currency),
		Stock:         product.Stock,
		UpdatedAt:     product.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	var discount *int64
	if d.DiscountPrice != nil {
		value := *d.DiscountPrice
		discount = &value
	}
	return domain.Product{
		ID:            id,
		SKU:           d.SKU,
		Name:          d.Name,
		Price:         d.Price,
		DiscountPrice: discount,
		Currency:      d.Currency,
		Stock:         d.Stock,
		UpdatedAt:     d.UpdatedAt,
	}
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
