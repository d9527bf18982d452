package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/storefront/api/internal/services"
)

// Gateway adapts the Manager to the reconciler's PaymentGateway contract.
type Gateway struct {
	manager *Manager
}

var _ services.PaymentGateway = (*Gateway)(nil)

// NewGateway wraps the manager for use by the payment service.
func NewGateway(manager *Manager) (*Gateway, error) {
	if manager == nil {
		return nil, errors.New("payments: manager is required")
	}
	return &Gateway{manager: manager}, nil
}

// Supports reports whether a provider is registered for the given name.
func (g *Gateway) Supports(provider string) bool {
	return g != nil && g.manager.Has(provider)
}

// CreateIntent opens a provider intent for the payment record.
func (g *Gateway) CreateIntent(ctx context.Context, req services.PaymentIntentRequest) (services.PaymentIntent, error) {
	intent, err := g.manager.CreateIntent(ctx, PaymentContext{
		PreferredProvider: req.Provider,
		Currency:          req.Currency,
	}, IntentRequest{
		Amount:         req.Amount,
		Currency:       req.Currency,
		PaymentID:      req.PaymentID,
		OrderID:        req.OrderID,
		OrderNumber:    req.OrderNumber,
		CustomerRef:    req.UserID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return services.PaymentIntent{}, err
	}
	return services.PaymentIntent{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Raw:          intent.Raw,
	}, nil
}

// Refund refunds the full captured amount of the intent.
func (g *Gateway) Refund(ctx context.Context, req services.PaymentRefundRequest) error {
	refund := RefundRequest{
		IntentID:       req.IntentID,
		Reason:         strings.TrimSpace(req.Reason),
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       map[string]string{MetadataPaymentID: req.PaymentID},
	}
	if req.Amount > 0 {
		amount := req.Amount
		refund.Amount = &amount
	}
	_, err := g.manager.Refund(ctx, PaymentContext{PreferredProvider: req.Provider}, refund)
	return err
}
