package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	domain "github.com/storefront/api/internal/domain"
)

var (
	// ErrInvalidSignature indicates the webhook payload could not be authenticated.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrIgnoredEvent indicates a well-formed event the reconciler does not act on.
	ErrIgnoredEvent = errors.New("payments: event ignored")
)

// Notification is a provider callback normalised for payment confirmation.
type Notification struct {
	EventID       string
	EventType     string
	Provider      string
	PaymentID     string
	TransactionID string
	Status        domain.PaymentStatus
	Raw           map[string]any
}

// StripeWebhookVerifier authenticates Stripe webhook deliveries and maps them to notifications.
type StripeWebhookVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewStripeWebhookVerifier constructs a verifier for the endpoint signing secret.
func NewStripeWebhookVerifier(secret string, tolerance time.Duration) (*StripeWebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("stripe webhook: signing secret is required")
	}
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeWebhookVerifier{secret: secret, tolerance: tolerance}, nil
}

// Parse verifies the Stripe-Signature header and extracts the payment notification.
func (v *StripeWebhookVerifier) Parse(payload []byte, signature string) (Notification, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	note := Notification{
		EventID:   event.ID,
		EventType: string(event.Type),
		Provider:  domain.PaymentProviderStripe,
	}

	switch string(event.Type) {
	case "payment_intent.succeeded", "payment_intent.processing", "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return Notification{}, fmt.Errorf("stripe webhook: decode payment intent: %w", err)
		}
		note.TransactionID = intent.ID
		note.PaymentID = intent.Metadata[MetadataPaymentID]
		note.Status = webhookIntentStatus(string(event.Type))
		note.Raw = eventRaw(event, stripeRaw(&intent))
	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return Notification{}, fmt.Errorf("stripe webhook: decode charge: %w", err)
		}
		if !charge.Refunded {
			return Notification{}, fmt.Errorf("%w: partial refund on %s", ErrIgnoredEvent, charge.ID)
		}
		if charge.PaymentIntent != nil {
			note.TransactionID = charge.PaymentIntent.ID
		}
		note.PaymentID = charge.Metadata[MetadataPaymentID]
		note.Status = domain.PaymentStatusRefunded
		note.Raw = eventRaw(event, stripeRaw(&charge))
	default:
		return Notification{}, fmt.Errorf("%w: %s", ErrIgnoredEvent, event.Type)
	}

	// Refunds issued outside the storefront carry no payment metadata on the charge; the
	// reconciler resolves those through the intent id it bound on success.
	if note.TransactionID == "" || (note.PaymentID == "" && note.Status != domain.PaymentStatusRefunded) {
		return Notification{}, fmt.Errorf("%w: %s carries no storefront payment", ErrIgnoredEvent, event.Type)
	}
	return note, nil
}

func webhookIntentStatus(eventType string) domain.PaymentStatus {
	switch eventType {
	case "payment_intent.succeeded":
		return domain.PaymentStatusSuccessful
	case "payment_intent.payment_failed":
		return domain.PaymentStatusFailed
	default:
		return domain.PaymentStatusPending
	}
}

func eventRaw(event stripe.Event, object map[string]any) map[string]any {
	if object == nil {
		object = map[string]any{}
	}
	object["event_id"] = event.ID
	object["event_type"] = string(event.Type)
	return object
}
