package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/services"
)

type stubAddressService struct {
	list       func(ctx context.Context, userID string) ([]services.Address, error)
	create     func(ctx context.Context, cmd services.SaveAddressCommand) (services.Address, error)
	update     func(ctx context.Context, cmd services.SaveAddressCommand) (services.Address, error)
	remove     func(ctx context.Context, userID, addressID string) error
	setDefault func(ctx context.Context, userID, addressID string) (services.Address, error)
}

func (s *stubAddressService) ListAddresses(ctx context.Context, userID string) ([]services.Address, error) {
	return s.list(ctx, userID)
}

func (s *stubAddressService) GetAddress(context.Context, string, string) (services.Address, error) {
	return services.Address{}, services.ErrNotFound
}

func (s *stubAddressService) CreateAddress(ctx context.Context, cmd services.SaveAddressCommand) (services.Address, error) {
	return s.create(ctx, cmd)
}

func (s *stubAddressService) UpdateAddress(ctx context.Context, cmd services.SaveAddressCommand) (services.Address, error) {
	return s.update(ctx, cmd)
}

func (s *stubAddressService) DeleteAddress(ctx context.Context, userID, addressID string) error {
	return s.remove(ctx, userID, addressID)
}

func (s *stubAddressService) SetDefault(ctx context.Context, userID, addressID string) (services.Address, error) {
	return s.setDefault(ctx, userID, addressID)
}

type stubCartService struct {
	get    func(ctx context.Context, userID string) (services.Cart, error)
	add    func(ctx context.Context, userID, productID string, qty int) (services.Cart, error)
	update func(ctx context.Context, userID, productID string, qty int) (services.Cart, error)
	remove func(ctx context.Context, userID, productID string) (services.Cart, error)
	clear  func(ctx context.Context, userID string) (services.Cart, error)
}

func (s *stubCartService) GetCart(ctx context.Context, userID string) (services.Cart, error) {
	return s.get(ctx, userID)
}

func (s *stubCartService) AddItem(ctx context.Context, userID, productID string, qty int) (services.Cart, error) {
	return s.add(ctx, userID, productID, qty)
}

func (s *stubCartService) UpdateQuantity(ctx context.Context, userID, productID string, qty int) (services.Cart, error) {
	return s.update(ctx, userID, productID, qty)
}

func (s *stubCartService) RemoveItem(ctx context.Context, userID, productID string) (services.Cart, error) {
	return s.remove(ctx, userID, productID)
}

func (s *stubCartService) Clear(ctx context.Context, userID string) (services.Cart, error) {
	return s.clear(ctx, userID)
}

type stubOrderService struct {
	place func(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error)
	get   func(ctx context.Context, orderID string, actor services.Actor) (services.Order, error)
	list  func(ctx context.Context, userID string) ([]services.Order, error)
}

func (s *stubOrderService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
	return s.place(ctx, cmd)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string, actor services.Actor) (services.Order, error) {
	return s.get(ctx, orderID, actor)
}

func (s *stubOrderService) ListOrders(ctx context.Context, userID string) ([]services.Order, error) {
	return s.list(ctx, userID)
}

type stubStatusOrchestrator struct {
	transition func(ctx context.Context, cmd services.TransitionCommand) (services.Order, error)
	cancel     func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error)
}

func (s *stubStatusOrchestrator) Initial(order services.Order, _ services.Actor) services.Order {
	return order
}

func (s *stubStatusOrchestrator) Transition(ctx context.Context, cmd services.TransitionCommand) (services.Order, error) {
	return s.transition(ctx, cmd)
}

func (s *stubStatusOrchestrator) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	return s.cancel(ctx, cmd)
}

func (s *stubStatusOrchestrator) CanTransitionPayment(services.PaymentStatus, services.PaymentStatus) bool {
	return true
}

type stubPaymentService struct {
	initiate func(ctx context.Context, cmd services.InitiatePaymentCommand) (services.Payment, error)
	confirm  func(ctx context.Context, cmd services.ConfirmPaymentCommand) (services.Payment, error)
	refund   func(ctx context.Context, cmd services.RefundPaymentCommand) (services.Payment, error)
	list     func(ctx context.Context, orderID string, actor services.Actor) ([]services.Payment, error)
}

func (s *stubPaymentService) InitiatePayment(ctx context.Context, cmd services.InitiatePaymentCommand) (services.Payment, error) {
	return s.initiate(ctx, cmd)
}

func (s *stubPaymentService) ConfirmPayment(ctx context.Context, cmd services.ConfirmPaymentCommand) (services.Payment, error) {
	return s.confirm(ctx, cmd)
}

func (s *stubPaymentService) RefundPayment(ctx context.Context, cmd services.RefundPaymentCommand) (services.Payment, error) {
	return s.refund(ctx, cmd)
}

func (s *stubPaymentService) ListPayments(ctx context.Context, orderID string, actor services.Actor) ([]services.Payment, error) {
	return s.list(ctx, orderID, actor)
}

// serve routes req through a router built by routes, with identity attached when non-nil.
func serve(t *testing.T, routes RouteRegistrar, req *http.Request, identity *auth.Identity) *httptest.ResponseRecorder {
	t.Helper()
	router := chi.NewRouter()
	routes(router)
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, rr, &body)
	return body.Error
}

func shopper(uid string) *auth.Identity {
	return &auth.Identity{UID: uid, Roles: []string{auth.RoleUser}}
}

func operator(uid string) *auth.Identity {
	return &auth.Identity{UID: uid, Roles: []string{auth.RoleAdmin}}
}

func serveRouter(router http.Handler, req *http.Request, svc *auth.ServiceIdentity) *httptest.ResponseRecorder {
	if svc != nil {
		req = req.WithContext(auth.WithServiceIdentity(req.Context(), svc))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}
