package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/services"
)

func TestPaymentHandlers_ConfirmRequiresAdmin(t *testing.T) {
	called := false
	svc := &stubPaymentService{confirm: func(context.Context, services.ConfirmPaymentCommand) (services.Payment, error) {
		called = true
		return services.Payment{}, nil
	}}
	req := jsonRequest(t, http.MethodPost, "/pay_1:confirm", map[string]any{"provider": "stripe", "transactionId": "pi_12345", "status": "successful"})
	rr := serve(t, NewPaymentHandlers(svc).Routes, req, shopper("user-1"))

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if called {
		t.Fatalf("service must not be reached")
	}
}

func TestPaymentHandlers_AdminConfirm(t *testing.T) {
	var got services.ConfirmPaymentCommand
	svc := &stubPaymentService{confirm: func(_ context.Context, cmd services.ConfirmPaymentCommand) (services.Payment, error) {
		got = cmd
		return services.Payment{ID: cmd.PaymentID, Status: cmd.Status, TransactionID: cmd.TransactionID}, nil
	}}
	req := jsonRequest(t, http.MethodPost, "/pay_1:confirm", map[string]any{
		"provider":      "stripe",
		"transactionId": "pi_12345",
		"status":        "Successful",
		"rawResponse":   map[string]any{"id": "pi_12345"},
	})
	rr := serve(t, NewPaymentHandlers(svc).Routes, req, operator("ops-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.PaymentID != "pay_1" || got.Status != domain.PaymentStatusSuccessful || got.RawResponse["id"] != "pi_12345" {
		t.Fatalf("unexpected command %+v", got)
	}
}

func TestPaymentHandlers_DuplicateTransaction(t *testing.T) {
	svc := &stubPaymentService{confirm: func(context.Context, services.ConfirmPaymentCommand) (services.Payment, error) {
		return services.Payment{}, fmt.Errorf("%w: stripe:pi_12345 is bound to payment pay_0", services.ErrDuplicateTransaction)
	}}
	req := jsonRequest(t, http.MethodPost, "/pay_1:confirm", map[string]any{"provider": "stripe", "transactionId": "pi_12345", "status": "successful"})
	rr := serve(t, NewPaymentHandlers(svc).Routes, req, operator("ops-1"))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "duplicate_transaction" {
		t.Fatalf("expected duplicate_transaction, got %s", code)
	}
}

func TestPaymentHandlers_InternalConfirmUsesServiceIdentity(t *testing.T) {
	confirmed := ""
	svc := &stubPaymentService{confirm: func(_ context.Context, cmd services.ConfirmPaymentCommand) (services.Payment, error) {
		confirmed = cmd.PaymentID
		return services.Payment{ID: cmd.PaymentID, Status: cmd.Status}, nil
	}}
	h := NewPaymentHandlers(svc)
	router := chi.NewRouter()
	h.InternalRoutes(router)

	body := map[string]any{"provider": "stripe", "transactionId": "pi_12345", "status": "successful"}

	rr := serveRouter(router, jsonRequest(t, http.MethodPost, "/payments/pay_1:confirm", body), nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without service identity, got %d", rr.Code)
	}

	svcIdentity := &auth.ServiceIdentity{Subject: "1234", Email: "reconciler@project.iam.gserviceaccount.com"}
	rr = serveRouter(router, jsonRequest(t, http.MethodPost, "/payments/pay_1:confirm", body), svcIdentity)
	if rr.Code != http.StatusOK || confirmed != "pay_1" {
		t.Fatalf("expected confirmation, status %d confirmed %q", rr.Code, confirmed)
	}
}

func TestPaymentHandlers_Refund(t *testing.T) {
	var got services.RefundPaymentCommand
	svc := &stubPaymentService{refund: func(_ context.Context, cmd services.RefundPaymentCommand) (services.Payment, error) {
		got = cmd
		if !cmd.Actor.IsAdmin() {
			return services.Payment{}, services.ErrUnauthorized
		}
		return services.Payment{ID: cmd.PaymentID, Status: domain.PaymentStatusRefunded}, nil
	}}
	h := NewPaymentHandlers(svc)

	rr := serve(t, h.Routes, jsonRequest(t, http.MethodPost, "/pay_1:refund", map[string]any{"reason": "damaged"}), shopper("user-1"))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for shopper, got %d", rr.Code)
	}

	rr = serve(t, h.Routes, jsonRequest(t, http.MethodPost, "/pay_1:refund", map[string]any{"reason": "damaged"}), operator("ops-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.Reason != "damaged" || got.Actor.ID != "ops-1" {
		t.Fatalf("unexpected command %+v", got)
	}
	var payload paymentPayload
	decodeBody(t, rr, &payload)
	if payload.Status != "refunded" {
		t.Fatalf("expected refunded, got %s", payload.Status)
	}
}
