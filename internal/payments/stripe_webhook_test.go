package payments

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	domain "github.com/storefront/api/internal/domain"
)

const testWebhookSecret = "whsec_test_secret"

func signedEvent(t *testing.T, eventType string, object map[string]any) ([]byte, string) {
	t.Helper()
	rawObject, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("marshal object: %v", err)
	}
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": json.RawMessage(rawObject)},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func newTestVerifier(t *testing.T) *StripeWebhookVerifier {
	t.Helper()
	v, err := NewStripeWebhookVerifier(testWebhookSecret, 0)
	if err != nil {
		t.Fatalf("NewStripeWebhookVerifier: %v", err)
	}
	return v
}

func TestStripeWebhookMapsIntentEvents(t *testing.T) {
	v := newTestVerifier(t)
	cases := map[string]domain.PaymentStatus{
		"payment_intent.succeeded":      domain.PaymentStatusSuccessful,
		"payment_intent.processing":     domain.PaymentStatusPending,
		"payment_intent.payment_failed": domain.PaymentStatusFailed,
	}
	for eventType, want := range cases {
		payload, header := signedEvent(t, eventType, map[string]any{
			"id":       "pi_123",
			"object":   "payment_intent",
			"status":   "succeeded",
			"metadata": map[string]string{MetadataPaymentID: "pay_1"},
		})
		note, err := v.Parse(payload, header)
		if err != nil {
			t.Fatalf("%s: Parse: %v", eventType, err)
		}
		if note.Status != want || note.PaymentID != "pay_1" || note.TransactionID != "pi_123" {
			t.Fatalf("%s: unexpected notification %#v", eventType, note)
		}
		if note.Provider != domain.PaymentProviderStripe || note.Raw["event_id"] != "evt_1" {
			t.Fatalf("%s: expected stripe provider and event id, got %#v", eventType, note)
		}
	}
}

func TestStripeWebhookMapsFullRefund(t *testing.T) {
	v := newTestVerifier(t)
	payload, header := signedEvent(t, "charge.refunded", map[string]any{
		"id":             "ch_1",
		"object":         "charge",
		"refunded":       true,
		"payment_intent": "pi_777",
		"metadata":       map[string]string{MetadataPaymentID: "pay_7"},
	})
	note, err := v.Parse(payload, header)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if note.Status != domain.PaymentStatusRefunded || note.TransactionID != "pi_777" || note.PaymentID != "pay_7" {
		t.Fatalf("unexpected notification %#v", note)
	}
}

func TestStripeWebhookRefundWithoutChargeMetadata(t *testing.T) {
	v := newTestVerifier(t)
	payload, header := signedEvent(t, "charge.refunded", map[string]any{
		"id":             "ch_dash",
		"object":         "charge",
		"refunded":       true,
		"payment_intent": "pi_888",
	})
	note, err := v.Parse(payload, header)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if note.PaymentID != "" || note.TransactionID != "pi_888" || note.Status != domain.PaymentStatusRefunded {
		t.Fatalf("expected refund keyed by intent only, got %#v", note)
	}

	payload, header = signedEvent(t, "charge.refunded", map[string]any{"id": "ch_orphan", "object": "charge", "refunded": true})
	if _, err := v.Parse(payload, header); !errors.Is(err, ErrIgnoredEvent) {
		t.Fatalf("expected ErrIgnoredEvent for refund without intent, got %v", err)
	}
}

func TestStripeWebhookIgnoresUnrelatedEvents(t *testing.T) {
	v := newTestVerifier(t)
	payload, header := signedEvent(t, "customer.created", map[string]any{"id": "cus_1", "object": "customer"})
	if _, err := v.Parse(payload, header); !errors.Is(err, ErrIgnoredEvent) {
		t.Fatalf("expected ErrIgnoredEvent, got %v", err)
	}

	payload, header = signedEvent(t, "payment_intent.succeeded", map[string]any{"id": "pi_foreign", "object": "payment_intent"})
	if _, err := v.Parse(payload, header); !errors.Is(err, ErrIgnoredEvent) {
		t.Fatalf("expected ErrIgnoredEvent for intent without payment id, got %v", err)
	}
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	v := newTestVerifier(t)
	payload, _ := signedEvent(t, "payment_intent.succeeded", map[string]any{"id": "pi_1", "object": "payment_intent"})
	if _, err := v.Parse(payload, "t=1,v1=deadbeef"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestNewStripeWebhookVerifierRequiresSecret(t *testing.T) {
	if _, err := NewStripeWebhookVerifier(" ", 0); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
