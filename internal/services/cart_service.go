package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

const (
	defaultCartWriteAttempts = 3
	maxLineQuantity          = 999
)

// CartServiceDeps bundles collaborators required to construct the cart service.
type CartServiceDeps struct {
	Carts           repositories.CartRepository
	Products        ProductReader
	Clock           func() time.Time
	Logger          func(ctx context.Context, event string, fields map[string]any)
	DefaultCurrency string
	// WriteAttempts bounds how often a mutation is re-applied after losing a version check.
	WriteAttempts int
}

type cartService struct {
	carts           repositories.CartRepository
	products        ProductReader
	clock           func() time.Time
	logger          func(context.Context, string, map[string]any)
	defaultCurrency string
	writeAttempts   int
}

// NewCartService wires dependencies into a concrete CartService implementation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product reader is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = defaultCurrencyCode
	}
	attempts := deps.WriteAttempts
	if attempts <= 0 {
		attempts = defaultCartWriteAttempts
	}

	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:          logger,
		defaultCurrency: currency,
		writeAttempts:   attempts,
	}, nil
}

func (s *cartService) GetCart(ctx context.Context, userID string) (Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return s.emptyCart(userID, s.clock()), nil
		}
		return Cart{}, mapRepositoryError(err)
	}
	return cart, nil
}

func (s *cartService) AddItem(ctx context.Context, userID string, productID string, qty int) (Cart, error) {
	userID, productID, err := normaliseCartKeys(userID, productID)
	if err != nil {
		return Cart{}, err
	}
	if err := validateLineQuantity(qty); err != nil {
		return Cart{}, err
	}
	product, err := s.products.Get(ctx, productID)
	if err != nil {
		return Cart{}, mapRepositoryError(err)
	}

	return s.mutate(ctx, userID, func(cart *Cart, now time.Time) error {
		if err := s.checkCurrency(cart, product); err != nil {
			return err
		}
		for i := range cart.Items {
			if cart.Items[i].ProductID == productID {
				// the line keeps the price captured when it was first added
				merged := cart.Items[i].Quantity + qty
				if merged > maxLineQuantity {
					return fmt.Errorf("%w: quantity for %s would exceed %d", ErrValidation, productID, maxLineQuantity)
				}
				cart.Items[i].Quantity = merged
				return nil
			}
		}
		cart.Items = append(cart.Items, CartItem{
			ProductID: productID,
			Quantity:  qty,
			Price:     product.EffectivePrice(),
			AddedAt:   now,
		})
		return nil
	})
}

func (s *cartService) UpdateQuantity(ctx context.Context, userID string, productID string, qty int) (Cart, error) {
	userID, productID, err := normaliseCartKeys(userID, productID)
	if err != nil {
		return Cart{}, err
	}
	if err := validateLineQuantity(qty); err != nil {
		return Cart{}, err
	}
	if _, err := s.products.Get(ctx, productID); err != nil {
		return Cart{}, mapRepositoryError(err)
	}

	return s.mutate(ctx, userID, func(cart *Cart, _ time.Time) error {
		for i := range cart.Items {
			if cart.Items[i].ProductID == productID {
				cart.Items[i].Quantity = qty
				return nil
			}
		}
		return fmt.Errorf("%w: product %s is not in the cart", ErrNotFound, productID)
	})
}

func (s *cartService) RemoveItem(ctx context.Context, userID string, productID string) (Cart, error) {
	userID, productID, err := normaliseCartKeys(userID, productID)
	if err != nil {
		return Cart{}, err
	}

	return s.mutate(ctx, userID, func(cart *Cart, _ time.Time) error {
		for i := range cart.Items {
			if cart.Items[i].ProductID == productID {
				cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: product %s is not in the cart", ErrNotFound, productID)
	})
}

func (s *cartService) Clear(ctx context.Context, userID string) (Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	return s.mutate(ctx, userID, func(cart *Cart, _ time.Time) error {
		cart.Items = nil
		return nil
	})
}

// mutate re-reads the cart, applies fn and writes it back conditioned on the version that
// was read. A lost race re-runs fn against the fresh cart, up to writeAttempts times.
func (s *cartService) mutate(ctx context.Context, userID string, fn func(cart *Cart, now time.Time) error) (Cart, error) {
	var lastErr error
	for attempt := 1; attempt <= s.writeAttempts; attempt++ {
		now := s.clock()
		cart, err := s.carts.GetCart(ctx, userID)
		if err != nil {
			if !isRepoNotFound(err) {
				return Cart{}, mapRepositoryError(err)
			}
			cart = s.emptyCart(userID, now)
		}
		expected := cart.Version

		if err := fn(&cart, now); err != nil {
			return Cart{}, err
		}
		if len(cart.Items) == 0 {
			cart.Currency = s.defaultCurrency
		}
		domain.RecalculateCart(&cart)
		cart.UpdatedAt = now

		saved, err := s.carts.SaveCart(ctx, cart, expected)
		if err == nil {
			return saved, nil
		}
		lastErr = mapRepositoryError(err)
		if !IsRetryable(lastErr) {
			return Cart{}, lastErr
		}
		s.logger(ctx, "cart.write.retry", map[string]any{
			"userId":  userID,
			"attempt": attempt,
			"version": expected,
		})
	}
	return Cart{}, lastErr
}

func (s *cartService) checkCurrency(cart *Cart, product Product) error {
	currency := strings.ToUpper(strings.TrimSpace(product.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}
	if len(cart.Items) == 0 {
		cart.Currency = currency
		return nil
	}
	if cart.Currency != currency {
		return fmt.Errorf("%w: product %s is priced in %s, cart is in %s", ErrValidation, product.ID, currency, cart.Currency)
	}
	return nil
}

func (s *cartService) emptyCart(userID string, now time.Time) Cart {
	return Cart{
		ID:        userID,
		UserID:    userID,
		Currency:  s.defaultCurrency,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func normaliseCartKeys(userID, productID string) (string, string, error) {
	userID = strings.TrimSpace(userID)
	productID = strings.TrimSpace(productID)
	if userID == "" {
		return "", "", fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if productID == "" {
		return "", "", fmt.Errorf("%w: product id is required", ErrValidation)
	}
	return userID, productID, nil
}

func validateLineQuantity(qty int) error {
	if qty < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
	}
	if qty > maxLineQuantity {
		return fmt.Errorf("%w: quantity must be at most %d", ErrValidation, maxLineQuantity)
	}
	return nil
}
