package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/requestctx"
	"github.com/storefront/api/internal/services"
)

// PaymentHandlers exposes payment confirmation and refunds.
type PaymentHandlers struct {
	payments services.PaymentService
}

// NewPaymentHandlers constructs payment handlers.
func NewPaymentHandlers(payments services.PaymentService) *PaymentHandlers {
	return &PaymentHandlers{payments: payments}
}

// Routes registers the operator-facing payment endpoints. Mount under /payments.
func (h *PaymentHandlers) Routes(r chi.Router) {
	r.Post("/{paymentID}:confirm", h.confirmAsAdmin)
	r.Post("/{paymentID}:refund", h.refundPayment)
}

// InternalRoutes registers the confirmation endpoint for trusted workers. Mount under /internal
// behind OIDC verification.
func (h *PaymentHandlers) InternalRoutes(r chi.Router) {
	r.Post("/payments/{paymentID}:confirm", h.confirmAsService)
}

type confirmPaymentRequest struct {
	Provider      string         `json:"provider"`
	TransactionID string         `json:"transactionId"`
	Status        string         `json:"status"`
	RawResponse   map[string]any `json:"rawResponse"`
}

type refundPaymentRequest struct {
	Reason string `json:"reason"`
}

func (h *PaymentHandlers) confirmAsAdmin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if !identity.IsAdmin() {
		httpx.WriteError(ctx, w, httpx.NewError("unauthorized", "payment confirmation requires an admin", http.StatusForbidden))
		return
	}
	h.confirm(w, r, identity.UID)
}

func (h *PaymentHandlers) confirmAsService(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	svc, ok := auth.ServiceIdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "service identity required", http.StatusUnauthorized))
		return
	}
	caller := svc.Email
	if caller == "" {
		caller = svc.Subject
	}
	h.confirm(w, r, caller)
}

func (h *PaymentHandlers) confirm(w http.ResponseWriter, r *http.Request, caller string) {
	ctx := r.Context()
	if h.payments == nil {
		serviceUnavailable(ctx, w, "payment")
		return
	}
	paymentID, ok := pathParam(ctx, w, r, "paymentID")
	if !ok {
		return
	}

	var req confirmPaymentRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	payment, err := h.payments.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		PaymentID:     paymentID,
		Provider:      req.Provider,
		TransactionID: req.TransactionID,
		Status:        domain.PaymentStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		RawResponse:   req.RawResponse,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	requestctx.Logger(ctx).Info("payment confirmation applied",
		zap.String("paymentId", payment.ID),
		zap.String("status", string(payment.Status)),
		zap.String("caller", caller),
	)
	httpx.WriteJSON(w, http.StatusOK, buildPaymentPayload(payment, false))
}

func (h *PaymentHandlers) refundPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		serviceUnavailable(ctx, w, "payment")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	paymentID, ok := pathParam(ctx, w, r, "paymentID")
	if !ok {
		return
	}

	var req refundPaymentRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	payment, err := h.payments.RefundPayment(ctx, services.RefundPaymentCommand{
		PaymentID: paymentID,
		Actor:     actorFromIdentity(identity),
		Reason:    strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildPaymentPayload(payment, false))
}

type paymentPayload struct {
	ID            string                       `json:"id"`
	OrderID       string                       `json:"orderId"`
	Provider      string                       `json:"provider"`
	Method        string                       `json:"method,omitempty"`
	Status        string                       `json:"status"`
	Amount        int64                        `json:"amount"`
	Currency      string                       `json:"currency"`
	TransactionID string                       `json:"transactionId,omitempty"`
	IntentID      string                       `json:"intentId,omitempty"`
	ClientSecret  string                       `json:"clientSecret,omitempty"`
	History       []paymentStatusChangePayload `json:"history"`
	CreatedAt     string                       `json:"createdAt"`
	UpdatedAt     string                       `json:"updatedAt"`
}

type paymentStatusChangePayload struct {
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	ChangedAt string `json:"changedAt"`
}

// buildPaymentPayload renders a payment. The client secret is only echoed on creation.
func buildPaymentPayload(payment services.Payment, withSecret bool) paymentPayload {
	payload := paymentPayload{
		ID:            payment.ID,
		OrderID:       payment.OrderID,
		Provider:      payment.Provider,
		Method:        payment.Method,
		Status:        string(payment.Status),
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		TransactionID: payment.TransactionID,
		IntentID:      payment.IntentID,
		History:       make([]paymentStatusChangePayload, 0, len(payment.History)),
		CreatedAt:     formatTime(payment.CreatedAt),
		UpdatedAt:     formatTime(payment.UpdatedAt),
	}
	if withSecret {
		payload.ClientSecret = payment.ClientSecret
	}
	for _, change := range payment.History {
		payload.History = append(payload.History, paymentStatusChangePayload{
			From:      string(change.From),
			To:        string(change.To),
			ChangedAt: formatTime(change.ChangedAt),
		})
	}
	return payload
}
