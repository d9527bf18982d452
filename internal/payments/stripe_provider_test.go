package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v78"
)

type fakeStripeIntents struct {
	created *stripe.PaymentIntentParams
	intent  *stripe.PaymentIntent
	err     error
}

func (f *fakeStripeIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.created = params
	return f.intent, f.err
}

func (f *fakeStripeIntents) Get(id string, _ *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if f.err != nil {
		return nil, f.err
	}
	intent := *f.intent
	intent.ID = id
	return &intent, nil
}

type fakeStripeRefunds struct {
	params *stripe.RefundParams
}

func (f *fakeStripeRefunds) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	f.params = params
	return &stripe.Refund{ID: "re_1"}, nil
}

func TestStripeProviderCreateIntent(t *testing.T) {
	intents := &fakeStripeIntents{intent: &stripe.PaymentIntent{
		ID:           "pi_123",
		ClientSecret: "pi_123_secret_abc",
		Amount:       2000,
		Currency:     stripe.CurrencyMXN,
		Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
	}}
	provider, err := NewStripeProvider(StripeProviderConfig{
		Clients: &stripeClients{intents: intents, refunds: &fakeStripeRefunds{}},
	})
	if err != nil {
		t.Fatalf("NewStripeProvider: %v", err)
	}

	intent, err := provider.CreateIntent(context.Background(), IntentRequest{
		Amount:         2000,
		Currency:       "MXN",
		PaymentID:      "pay_1",
		OrderID:        "ord_1",
		OrderNumber:    "SF-2025-000001",
		IdempotencyKey: "idem-1",
	})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if intent.ID != "pi_123" || intent.ClientSecret != "pi_123_secret_abc" {
		t.Fatalf("unexpected intent %#v", intent)
	}
	if intent.Status != StatusPending {
		t.Fatalf("expected pending, got %s", intent.Status)
	}
	if _, leaked := intent.Raw["client_secret"]; leaked {
		t.Fatalf("raw payload must not carry the client secret")
	}

	params := intents.created
	if params == nil {
		t.Fatalf("expected stripe call")
	}
	if *params.Amount != 2000 || *params.Currency != "mxn" {
		t.Fatalf("unexpected amount/currency %d %s", *params.Amount, *params.Currency)
	}
	if params.Metadata[MetadataPaymentID] != "pay_1" || params.Metadata["order_id"] != "ord_1" {
		t.Fatalf("unexpected metadata %#v", params.Metadata)
	}
	if params.IdempotencyKey == nil || *params.IdempotencyKey != "idem-1" {
		t.Fatalf("expected idempotency key")
	}
}

func TestStripeProviderCreateIntentRejectsZeroAmount(t *testing.T) {
	provider, err := NewStripeProvider(StripeProviderConfig{
		Clients: &stripeClients{intents: &fakeStripeIntents{}, refunds: &fakeStripeRefunds{}},
	})
	if err != nil {
		t.Fatalf("NewStripeProvider: %v", err)
	}
	if _, err := provider.CreateIntent(context.Background(), IntentRequest{Currency: "MXN"}); err == nil {
		t.Fatalf("expected error for zero amount")
	}
}

func TestStripeProviderRefundMapsReasonAndLooksUp(t *testing.T) {
	intents := &fakeStripeIntents{intent: &stripe.PaymentIntent{
		Amount:   2000,
		Currency: stripe.CurrencyMXN,
		Status:   stripe.PaymentIntentStatusSucceeded,
		LatestCharge: &stripe.Charge{
			Amount:         2000,
			AmountRefunded: 2000,
		},
	}}
	refunds := &fakeStripeRefunds{}
	provider, err := NewStripeProvider(StripeProviderConfig{
		Clients: &stripeClients{intents: intents, refunds: refunds},
	})
	if err != nil {
		t.Fatalf("NewStripeProvider: %v", err)
	}

	details, err := provider.Refund(context.Background(), RefundRequest{IntentID: "pi_9", Reason: "Requested_By_Customer"})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if refunds.params == nil || *refunds.params.PaymentIntent != "pi_9" {
		t.Fatalf("expected refund for pi_9")
	}
	if refunds.params.Reason == nil || *refunds.params.Reason != string(stripe.RefundReasonRequestedByCustomer) {
		t.Fatalf("expected mapped refund reason")
	}
	if details.Status != StatusRefunded || details.IntentID != "pi_9" {
		t.Fatalf("unexpected details %#v", details)
	}
}

func TestStripeProviderWrapsErrors(t *testing.T) {
	boom := errors.New("boom")
	provider, err := NewStripeProvider(StripeProviderConfig{
		Clients: &stripeClients{intents: &fakeStripeIntents{err: boom}, refunds: &fakeStripeRefunds{}},
	})
	if err != nil {
		t.Fatalf("NewStripeProvider: %v", err)
	}
	if _, err := provider.LookupPayment(context.Background(), LookupRequest{IntentID: "pi_1"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestNewStripeProviderRequiresKey(t *testing.T) {
	if _, err := NewStripeProvider(StripeProviderConfig{}); err == nil {
		t.Fatalf("expected error without api key")
	}
}
