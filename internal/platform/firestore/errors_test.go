package firestore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/storefront/api/internal/platform/config"
)

func TestWrapErrorClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{codes.NotFound, true, false, false},
		{codes.AlreadyExists, false, true, false},
		{codes.Aborted, false, true, false},
		{codes.Unavailable, false, false, true},
		{codes.PermissionDenied, false, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.code.String(), func(t *testing.T) {
			err := WrapError("orders.get", status.Error(tc.code, "boom"))
			var classified *Error
			if !errors.As(err, &classified) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if classified.IsNotFound() != tc.notFound || classified.IsConflict() != tc.conflict || classified.IsUnavailable() != tc.unavailable {
				t.Fatalf("unexpected classification %+v", classified)
			}
		})
	}
}

func TestWrapErrorPassesCancellationThrough(t *testing.T) {
	if err := WrapError("op", status.Error(codes.Canceled, "gone")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("op", fmt.Errorf("wrapped: %w", context.DeadlineExceeded)); err != context.DeadlineExceeded {
		t.Fatalf("expected bare deadline error, got %v", err)
	}
}

func TestWrapErrorKeepsExistingClassification(t *testing.T) {
	inner := ConflictError("", "version %d, expected %d", 3, 2)
	err := WrapError("carts.save", fmt.Errorf("transaction: %w", inner))
	var classified *Error
	if !errors.As(err, &classified) || !classified.IsConflict() {
		t.Fatalf("expected conflict, got %v", err)
	}
	if classified.Op != "carts.save" {
		t.Fatalf("expected op filled in, got %q", classified.Op)
	}
}

func TestCollectionRefRequiresID(t *testing.T) {
	coll := NewCollection[struct{}](NewProvider(testFirestoreConfig()), "orders")
	if _, err := coll.Ref(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for blank id")
	}
}

func TestProviderClosedRejectsClient(t *testing.T) {
	p := NewProvider(testFirestoreConfig())
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := p.Client(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
}

func testFirestoreConfig() config.FirestoreConfig {
	return config.FirestoreConfig{ProjectID: "storefront-test"}
}
