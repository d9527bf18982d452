package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/services"
)

// AdminHandlers exposes operator workflows. The /admin group must require the admin role.
type AdminHandlers struct {
	status services.StatusOrchestrator
	orders services.OrderService
}

// NewAdminHandlers constructs admin handlers.
func NewAdminHandlers(status services.StatusOrchestrator, orders services.OrderService) *AdminHandlers {
	return &AdminHandlers{status: status, orders: orders}
}

// Routes registers admin endpoints. Mount under /admin.
func (h *AdminHandlers) Routes(r chi.Router) {
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}:transition", h.transitionOrder)
}

type transitionOrderRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := pathParam(ctx, w, r, "orderID")
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, orderID, actorFromIdentity(identity))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *AdminHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.status == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := pathParam(ctx, w, r, "orderID")
	if !ok {
		return
	}

	var req transitionOrderRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	from, okFrom := parseOrderStatus(req.From)
	to, okTo := parseOrderStatus(req.To)
	if !okFrom || !okTo {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "from and to must be known order statuses", http.StatusBadRequest))
		return
	}

	order, err := h.status.Transition(ctx, services.TransitionCommand{
		OrderID: orderID,
		From:    from,
		To:      to,
		Actor:   actorFromIdentity(identity),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func parseOrderStatus(raw string) (services.OrderStatus, bool) {
	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case domain.OrderStatusPending, domain.OrderStatusPaid, domain.OrderStatusShipped,
		domain.OrderStatusDelivered, domain.OrderStatusCancelled:
		return status, true
	default:
		return "", false
	}
}
