package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/storefront/api/internal/services"
)

type fakeProvider struct {
	lastOp     string
	intent     Intent
	payment    PaymentDetails
	lastIntent IntentRequest
	lastRefund RefundRequest
	err        error
}

func (f *fakeProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	f.lastOp = "create"
	f.lastIntent = req
	return f.intent, f.err
}

func (f *fakeProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	f.lastOp = "refund"
	f.lastRefund = req
	return f.payment, f.err
}

func (f *fakeProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	f.lastOp = "lookup"
	return f.payment, f.err
}

func TestManagerCreateIntentUsesPreferredProvider(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{intent: Intent{ID: "pi_stripe"}}
	paypal := &fakeProvider{intent: Intent{ID: "pp_paypal"}}

	mgr, err := NewManager(map[string]Provider{
		"stripe": stripe,
		"paypal": paypal,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	intent, err := mgr.CreateIntent(ctx, PaymentContext{PreferredProvider: "paypal"}, IntentRequest{Currency: "MXN"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.Provider != "paypal" {
		t.Fatalf("expected provider 'paypal', got %q", intent.Provider)
	}
	if paypal.lastOp != "create" {
		t.Fatalf("expected paypal provider to handle call")
	}
	if stripe.lastOp != "" {
		t.Fatalf("expected stripe provider to remain unused")
	}
}

func TestManagerRoutesByCurrency(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{intent: Intent{ID: "pi_stripe"}}
	paypal := &fakeProvider{intent: Intent{ID: "pp_paypal"}}

	mgr, err := NewManager(
		map[string]Provider{
			"stripe": stripe,
			"paypal": paypal,
		},
		WithCurrencyRoutes(map[string]string{"usd": "paypal"}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	intent, err := mgr.CreateIntent(ctx, PaymentContext{Currency: "USD"}, IntentRequest{Currency: "USD"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.Provider != "paypal" {
		t.Fatalf("expected provider 'paypal', got %q", intent.Provider)
	}
}

func TestManagerFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{payment: PaymentDetails{Provider: "stripe"}}

	mgr, err := NewManager(map[string]Provider{"stripe": stripe})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	details, err := mgr.LookupPayment(ctx, PaymentContext{}, LookupRequest{IntentID: "pi_123"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if stripe.lastOp != "lookup" {
		t.Fatalf("expected lookup to invoke default provider")
	}
	if details.Provider != "stripe" {
		t.Fatalf("unexpected provider in details: %q", details.Provider)
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(map[string]Provider{"stripe": &fakeProvider{}, "paypal": &fakeProvider{}}, WithDefaultProvider(""))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	_, err = mgr.CreateIntent(ctx, PaymentContext{PreferredProvider: "unknown"}, IntentRequest{Currency: "MXN"})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestManagerNamedProviderNeverFallsBack(t *testing.T) {
	stripe := &fakeProvider{}
	mgr, err := NewManager(map[string]Provider{"stripe": stripe})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	_, err = mgr.Refund(context.Background(), PaymentContext{PreferredProvider: "paypal"}, RefundRequest{IntentID: "PAY-1"})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
	if stripe.lastOp != "" {
		t.Fatalf("stripe must not receive a paypal refund")
	}
}

func TestNewManagerValidatesProviders(t *testing.T) {
	if _, err := NewManager(map[string]Provider{"bad": nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when providers empty")
	}
}

func TestGatewaySupportsOnlyRegisteredProviders(t *testing.T) {
	mgr, err := NewManager(map[string]Provider{"stripe": &fakeProvider{}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	gw, err := NewGateway(mgr)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	if !gw.Supports("Stripe") {
		t.Fatalf("expected stripe to be supported")
	}
	if gw.Supports("paypal") {
		t.Fatalf("paypal is not registered and must not be supported")
	}
}

func TestGatewayMapsIntentAndRefund(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{intent: Intent{ID: "pi_1", ClientSecret: "pi_1_secret"}}
	mgr, err := NewManager(map[string]Provider{"stripe": stripe})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	gw, err := NewGateway(mgr)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}

	intent, err := gw.CreateIntent(ctx, services.PaymentIntentRequest{
		Provider:       "stripe",
		PaymentID:      "pay_1",
		OrderID:        "ord_1",
		UserID:         "user-1",
		Amount:         2000,
		Currency:       "MXN",
		IdempotencyKey: "idem-1",
	})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if intent.IntentID != "pi_1" || intent.ClientSecret != "pi_1_secret" {
		t.Fatalf("unexpected intent %#v", intent)
	}
	if stripe.lastIntent.PaymentID != "pay_1" || stripe.lastIntent.CustomerRef != "user-1" || stripe.lastIntent.IdempotencyKey != "idem-1" {
		t.Fatalf("unexpected provider request %#v", stripe.lastIntent)
	}

	if err := gw.Refund(ctx, services.PaymentRefundRequest{Provider: "stripe", PaymentID: "pay_1", IntentID: "pi_1", Amount: 2000}); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if stripe.lastRefund.IntentID != "pi_1" || stripe.lastRefund.Amount == nil || *stripe.lastRefund.Amount != 2000 {
		t.Fatalf("unexpected refund request %#v", stripe.lastRefund)
	}
	if stripe.lastRefund.Metadata[MetadataPaymentID] != "pay_1" {
		t.Fatalf("expected payment id metadata on refund")
	}
}
