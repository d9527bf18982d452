package services

import (
	"context"
	"errors"
	"math"
	"testing"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
	"github.com/storefront/api/internal/repositories/memory"
)

func assertCartTotal(t *testing.T, cart Cart) {
	t.Helper()
	var want int64
	for _, item := range cart.Items {
		want += item.Price * int64(item.Quantity)
	}
	if cart.TotalPrice != want {
		t.Fatalf("cart total %d does not match sum of lines %d", cart.TotalPrice, want)
	}
}

func TestCartServiceTotalAlwaysMatchesLines(t *testing.T) {
	h := newHarness(t)
	h.seedProduct("p1", 10, 50)
	h.seedProduct("p2", 25, 50)
	ctx := context.Background()

	steps := []func() (Cart, error){
		func() (Cart, error) { return h.carts.AddItem(ctx, "user-1", "p1", 2) },
		func() (Cart, error) { return h.carts.AddItem(ctx, "user-1", "p2", 1) },
		func() (Cart, error) { return h.carts.AddItem(ctx, "user-1", "p1", 3) },
		func() (Cart, error) { return h.carts.UpdateQuantity(ctx, "user-1", "p2", 4) },
		func() (Cart, error) { return h.carts.RemoveItem(ctx, "user-1", "p1") },
		func() (Cart, error) { return h.carts.Clear(ctx, "user-1") },
	}
	wantTotals := []int64{20, 45, 75, 150, 100, 0}
	for i, step := range steps {
		cart, err := step()
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		assertCartTotal(t, cart)
		if cart.TotalPrice != wantTotals[i] {
			t.Fatalf("step %d: expected total %d, got %d", i, wantTotals[i], cart.TotalPrice)
		}
	}
}

func TestCartServiceAddItemUsesDiscountPrice(t *testing.T) {
	h := newHarness(t)
	discount := int64(8)
	h.repos.ProductStore().Put(domain.Product{ID: "p1", Price: 10, DiscountPrice: &discount, Currency: "MXN", Stock: 5})

	cart, err := h.carts.AddItem(context.Background(), "user-1", "p1", 2)
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if cart.TotalPrice != 16 {
		t.Fatalf("expected discounted total 16, got %d", cart.TotalPrice)
	}
}

func TestCartServiceValidation(t *testing.T) {
	h := newHarness(t)
	h.seedProduct("p1", 10, 5)
	ctx := context.Background()

	if _, err := h.carts.AddItem(ctx, "user-1", "p1", 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for zero quantity, got %v", err)
	}
	if _, err := h.carts.AddItem(ctx, "user-1", "missing", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown product, got %v", err)
	}
	if _, err := h.carts.RemoveItem(ctx, "user-1", "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound removing absent line, got %v", err)
	}
	if _, err := h.carts.UpdateQuantity(ctx, "user-1", "p1", -1); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for negative quantity, got %v", err)
	}
}

func TestCartServiceCapsLineQuantity(t *testing.T) {
	h := newHarness(t)
	h.seedProduct("p1", 10, 5)
	ctx := context.Background()

	if _, err := h.carts.AddItem(ctx, "user-1", "p1", math.MaxInt); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for huge quantity, got %v", err)
	}
	if _, err := h.carts.AddItem(ctx, "user-1", "p1", maxLineQuantity); err != nil {
		t.Fatalf("AddItem at cap: %v", err)
	}
	if _, err := h.carts.AddItem(ctx, "user-1", "p1", 1); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation when merge exceeds cap, got %v", err)
	}
	if _, err := h.carts.UpdateQuantity(ctx, "user-1", "p1", maxLineQuantity+1); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for update above cap, got %v", err)
	}

	cart, err := h.carts.GetCart(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != maxLineQuantity {
		t.Fatalf("expected line to stay at %d, got %#v", maxLineQuantity, cart.Items)
	}
	assertCartTotal(t, cart)
	if cart.TotalPrice != 10*maxLineQuantity {
		t.Fatalf("expected total %d, got %d", 10*maxLineQuantity, cart.TotalPrice)
	}
}

func TestCartServiceMergeKeepsCapturedPrice(t *testing.T) {
	h := newHarness(t)
	h.seedProduct("p1", 10, 50)
	ctx := context.Background()

	if _, err := h.carts.AddItem(ctx, "user-1", "p1", 2); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	h.seedProduct("p1", 14, 50)
	cart, err := h.carts.AddItem(ctx, "user-1", "p1", 1)
	if err != nil {
		t.Fatalf("AddItem merge: %v", err)
	}
	if cart.Items[0].Price != 10 || cart.Items[0].Quantity != 3 || cart.TotalPrice != 30 {
		t.Fatalf("expected captured price 10 over 3 units, got %#v total %d", cart.Items[0], cart.TotalPrice)
	}
	cart, err = h.carts.UpdateQuantity(ctx, "user-1", "p1", 4)
	if err != nil {
		t.Fatalf("UpdateQuantity: %v", err)
	}
	if cart.Items[0].Price != 10 || cart.TotalPrice != 40 {
		t.Fatalf("expected captured price kept on update, got %#v total %d", cart.Items[0], cart.TotalPrice)
	}
}

func TestCartServiceRejectsMixedCurrencies(t *testing.T) {
	h := newHarness(t)
	h.seedProduct("p1", 10, 5)
	h.repos.ProductStore().Put(domain.Product{ID: "usd", Price: 3, Currency: "USD", Stock: 5})
	ctx := context.Background()

	if _, err := h.carts.AddItem(ctx, "user-1", "p1", 1); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := h.carts.AddItem(ctx, "user-1", "usd", 1); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for mixed currency, got %v", err)
	}
}

func TestCartServiceGetCartReturnsEmptyCart(t *testing.T) {
	h := newHarness(t)
	cart, err := h.carts.GetCart(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if !cart.IsActive || len(cart.Items) != 0 || cart.Currency != "MXN" {
		t.Fatalf("unexpected empty cart %#v", cart)
	}
}

// conflictingCarts loses the first n conditional writes, as if another request won the race.
type conflictingCarts struct {
	repositories.CartRepository
	losses int
	calls  int
}

func (c *conflictingCarts) SaveCart(ctx context.Context, cart domain.Cart, expected int64) (domain.Cart, error) {
	c.calls++
	if c.losses > 0 {
		c.losses--
		// a competing writer bumps the version first
		current, err := c.CartRepository.GetCart(ctx, cart.UserID)
		if err != nil {
			current = domain.Cart{ID: cart.UserID, UserID: cart.UserID}
		}
		if _, err := c.CartRepository.SaveCart(ctx, current, current.Version); err != nil {
			return domain.Cart{}, err
		}
		return c.CartRepository.SaveCart(ctx, cart, expected)
	}
	return c.CartRepository.SaveCart(ctx, cart, expected)
}

func TestCartServiceRetriesLostVersionRace(t *testing.T) {
	repos := memory.NewRegistry()
	repos.ProductStore().Put(domain.Product{ID: "p1", Price: 10, Currency: "MXN", Stock: 5})
	carts := &conflictingCarts{CartRepository: repos.Carts(), losses: 1}

	svc, err := NewCartService(CartServiceDeps{Carts: carts, Products: repos.Products(), Clock: fixedClock})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	cart, err := svc.AddItem(context.Background(), "user-1", "p1", 2)
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if carts.calls != 2 {
		t.Fatalf("expected one retry, got %d writes", carts.calls)
	}
	assertCartTotal(t, cart)
	if cart.TotalPrice != 20 {
		t.Fatalf("expected total 20, got %d", cart.TotalPrice)
	}
}

func TestCartServiceGivesUpAfterBoundedAttempts(t *testing.T) {
	repos := memory.NewRegistry()
	repos.ProductStore().Put(domain.Product{ID: "p1", Price: 10, Currency: "MXN", Stock: 5})
	carts := &conflictingCarts{CartRepository: repos.Carts(), losses: 10}

	svc, err := NewCartService(CartServiceDeps{Carts: carts, Products: repos.Products(), Clock: fixedClock, WriteAttempts: 3})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	_, err = svc.AddItem(context.Background(), "user-1", "p1", 1)
	if !errors.Is(err, ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}
	if carts.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", carts.calls)
	}
}
