package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/requestctx"
	"github.com/storefront/api/internal/services"
)

const maxWebhookBodySize = 256 * 1024

// NotificationParser authenticates a provider delivery and normalises it.
type NotificationParser interface {
	Parse(payload []byte, signature string) (payments.Notification, error)
}

// WebhookHandlers receives payment provider callbacks.
type WebhookHandlers struct {
	payments services.PaymentService
	stripe   NotificationParser
}

// NewWebhookHandlers constructs webhook handlers. A nil parser disables the provider's route.
func NewWebhookHandlers(paymentsSvc services.PaymentService, stripe NotificationParser) *WebhookHandlers {
	return &WebhookHandlers{payments: paymentsSvc, stripe: stripe}
}

// Routes registers webhook endpoints. Mount under /webhooks.
func (h *WebhookHandlers) Routes(r chi.Router) {
	r.Post("/payments/stripe", h.stripeWebhook)
}

// stripeWebhook acknowledges permanent failures with 200 so the provider stops redelivering,
// and answers transient failures with a non-2xx status so it retries.
func (h *WebhookHandlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil || h.stripe == nil {
		serviceUnavailable(ctx, w, "payment")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read body", http.StatusBadRequest))
		return
	}
	if len(body) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook payload too large", http.StatusRequestEntityTooLarge))
		return
	}

	logger := requestctx.Logger(ctx)
	note, err := h.stripe.Parse(body, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, payments.ErrIgnoredEvent):
		logger.Debug("stripe event ignored", zap.Error(err))
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	case errors.Is(err, payments.ErrInvalidSignature):
		logger.Warn("stripe webhook signature rejected", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	payment, err := h.payments.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		PaymentID:     note.PaymentID,
		Provider:      note.Provider,
		TransactionID: note.TransactionID,
		Status:        note.Status,
		RawResponse:   note.Raw,
	})
	fields := []zap.Field{
		zap.String("eventId", note.EventID),
		zap.String("eventType", note.EventType),
		zap.String("paymentId", note.PaymentID),
		zap.String("transactionId", note.TransactionID),
	}
	if err != nil {
		if isPermanentConfirmError(err) {
			logger.Warn("stripe notification rejected", append(fields, zap.Error(err))...)
			httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
			return
		}
		writeServiceError(ctx, w, err)
		return
	}

	logger.Info("stripe notification applied", append(fields, zap.String("status", string(payment.Status)))...)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "processed", "paymentStatus": string(payment.Status)})
}

func isPermanentConfirmError(err error) bool {
	return errors.Is(err, services.ErrValidation) ||
		errors.Is(err, services.ErrNotFound) ||
		errors.Is(err, services.ErrDuplicateTransaction) ||
		errors.Is(err, services.ErrInvalidTransition)
}
