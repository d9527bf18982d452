package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/idempotency"
	"github.com/storefront/api/internal/services"
)

// OrderHandlers exposes order placement, reads, cancellation and the order's payments.
type OrderHandlers struct {
	orders   services.OrderService
	status   services.StatusOrchestrator
	payments services.PaymentService
}

// NewOrderHandlers constructs order handlers. Any collaborator may be nil; its routes answer 503.
func NewOrderHandlers(orders services.OrderService, status services.StatusOrchestrator, payments services.PaymentService) *OrderHandlers {
	return &OrderHandlers{orders: orders, status: status, payments: payments}
}

// Routes registers order endpoints. Mount under /orders.
func (h *OrderHandlers) Routes(r chi.Router) {
	r.Post("/", h.placeOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Post("/{orderID}/payments", h.initiatePayment)
	r.Get("/{orderID}/payments", h.listPayments)
}

type placeOrderRequest struct {
	AddressID string                 `json:"addressId"`
	Items     []placeOrderItemRequest `json:"items"`
}

type placeOrderItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type initiatePaymentRequest struct {
	Provider string `json:"provider"`
	Method   string `json:"method"`
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req placeOrderRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	cmd := services.PlaceOrderCommand{
		UserID:    identity.UID,
		AddressID: strings.TrimSpace(req.AddressID),
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.PlaceOrderItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	order, err := h.orders.PlaceOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+order.ID)
	httpx.WriteJSON(w, http.StatusCreated, buildOrderPayload(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orders, err := h.orders.ListOrders(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]orderSummaryPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderSummary(order))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"orders": items})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
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

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
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

	var req cancelOrderRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	order, err := h.status.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		Actor:   actorFromIdentity(identity),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) initiatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		serviceUnavailable(ctx, w, "payment")
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

	var req initiatePaymentRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	payment, err := h.payments.InitiatePayment(ctx, services.InitiatePaymentCommand{
		OrderID:        orderID,
		Provider:       req.Provider,
		Method:         req.Method,
		Actor:          actorFromIdentity(identity),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotency.DefaultHeader)),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, buildPaymentPayload(payment, true))
}

func (h *OrderHandlers) listPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		serviceUnavailable(ctx, w, "payment")
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

	payments, err := h.payments.ListPayments(ctx, orderID, actorFromIdentity(identity))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]paymentPayload, 0, len(payments))
	for _, payment := range payments {
		items = append(items, buildPaymentPayload(payment, false))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"payments": items})
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"orderNumber"`
	Status      string `json:"status"`
	TotalPrice  int64  `json:"totalPrice"`
	Currency    string `json:"currency"`
	ItemCount   int    `json:"itemCount"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

type orderPayload struct {
	orderSummaryPayload
	UserID          string                     `json:"userId"`
	Items           []orderItemPayload         `json:"items"`
	ShippingAddress addressPayload             `json:"shippingAddress"`
	StatusHistory   []orderStatusChangePayload `json:"statusHistory"`
	CancelReason    string                     `json:"cancelReason,omitempty"`
	PaidAt          string                     `json:"paidAt,omitempty"`
	ShippedAt       string                     `json:"shippedAt,omitempty"`
	DeliveredAt     string                     `json:"deliveredAt,omitempty"`
	CancelledAt     string                     `json:"cancelledAt,omitempty"`
}

type orderItemPayload struct {
	ProductID string `json:"productId"`
	SKU       string `json:"sku,omitempty"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
	Subtotal  int64  `json:"subtotal"`
}

type orderStatusChangePayload struct {
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	Actor     string `json:"actor,omitempty"`
	Reason    string `json:"reason,omitempty"`
	ChangedAt string `json:"changedAt"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	summary := orderSummaryPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		TotalPrice:  order.TotalPrice,
		Currency:    order.Currency,
		CreatedAt:   formatTime(order.CreatedAt),
		UpdatedAt:   formatTime(order.UpdatedAt),
	}
	for _, item := range order.Items {
		summary.ItemCount += item.Quantity
	}
	return summary
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		orderSummaryPayload: buildOrderSummary(order),
		UserID:              order.UserID,
		Items:               make([]orderItemPayload, 0, len(order.Items)),
		ShippingAddress:     buildAddressPayload(order.ShippingAddress),
		StatusHistory:       make([]orderStatusChangePayload, 0, len(order.StatusHistory)),
		CancelReason:        order.CancelReason,
		PaidAt:              formatTimePtr(order.PaidAt),
		ShippedAt:           formatTimePtr(order.ShippedAt),
		DeliveredAt:         formatTimePtr(order.DeliveredAt),
		CancelledAt:         formatTimePtr(order.CancelledAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     item.Price,
			Subtotal:  item.Price * int64(item.Quantity),
		})
	}
	for _, change := range order.StatusHistory {
		payload.StatusHistory = append(payload.StatusHistory, orderStatusChangePayload{
			From:      string(change.From),
			To:        string(change.To),
			Actor:     change.Actor,
			Reason:    change.Reason,
			ChangedAt: formatTime(change.ChangedAt),
		})
	}
	return payload
}
