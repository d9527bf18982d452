package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	domain "github.com/storefront/api/internal/domain"
)

type stubGateway struct {
	provider  string
	createFn  func(context.Context, PaymentIntentRequest) (PaymentIntent, error)
	refundFn  func(context.Context, PaymentRefundRequest) error
	refundReq []PaymentRefundRequest
}

func (s *stubGateway) Supports(provider string) bool { return provider == s.provider }

func (s *stubGateway) CreateIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error) {
	if s.createFn != nil {
		return s.createFn(ctx, req)
	}
	return PaymentIntent{IntentID: "pi_" + req.PaymentID, ClientSecret: "secret_" + req.PaymentID}, nil
}

func (s *stubGateway) Refund(ctx context.Context, req PaymentRefundRequest) error {
	s.refundReq = append(s.refundReq, req)
	if s.refundFn != nil {
		return s.refundFn(ctx, req)
	}
	return nil
}

func initiate(t *testing.T, h *harness, order Order) Payment {
	t.Helper()
	payment, err := h.payments.InitiatePayment(context.Background(), InitiatePaymentCommand{
		OrderID:  order.ID,
		Provider: domain.PaymentProviderStripe,
		Method:   "card",
		Actor:    userActor(order.UserID),
	})
	if err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}
	return payment
}

func TestPaymentServiceInitiateCopiesOrderAmount(t *testing.T) {
	h := newHarness(t)
	h.seedProduct("p1", 10, 5)
	order := h.placeOrder(t, "user-1", PlaceOrderItem{ProductID: "p1", Quantity: 2})

	payment := initiate(t, h, order)

	if payment.Status != domain.PaymentStatusInitiated {
		t.Fatalf("expected initiated, got %s", payment.Status)
	}
	if payment.Amount != 20 || payment.Currency != "MXN" {
		t.Fatalf("expected 20 MXN, got %d %s", payment.Amount, payment.Currency)
	}
}

func TestPaymentServiceInitiateCreatesProviderIntent(t *testing.T) {
	gw := &stubGateway{provider: domain.PaymentProviderStripe}
	h := newHarness(t, withGateway(gw))
	h.seedProduct("p1", 10, 5)
	order := h.placeOrder(t, "user-1", PlaceOrderItem{ProductID: "p1", Quantity: 1})

	payment := initiate(t, h, order)

	if payment.IntentID != "pi_"+payment.ID || payment.ClientSecret == "" {
		t.Fatalf("expected intent and client secret, got %#v", payment)
	}
	stored, err := h.repos.Payments().FindByID(context.Background(), payment.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.ClientSecret != "" {
		t.Fatalf("client secret must not be persisted")
	}
	if stored.IntentID != payment.IntentID {
		t.Fatalf("expected stored intent id %q, got %q", payment.IntentID, stored.IntentID)
	}
}

func TestPaymentServiceInitiateRequiresPendingOwnedOrder(t *testing.T) {
	h := newHarness(t)
	h.seedProduct("p1", 10, 5)
	order := h.placeOrder(t, "user-1", PlaceOrderItem{ProductID: "p1", Quantity: 1})
	ctx := context.Background()

	if _, err := h.payments.InitiatePayment(ctx, InitiatePaymentCommand{OrderID: order.ID, Actor: userActor("user-2")}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign order, got %v", err)
	}
	if _, err := h.payments.InitiatePayment(ctx, InitiatePaymentCommand{OrderID: order.ID, Provider: "bitcoin", Actor: userActor("user-1")}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown provider, got %v", err)
	}

	if _, err := h.status.Cancel(ctx, CancelOrderCommand{OrderID: order.ID, Actor: userActor("user-1")}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := h.payments.InitiatePayment(ctx, InitiatePaymentCommand{OrderID: order.ID, Actor: userActor("user-1")}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for cancelled order, got %v", err)
	}
}

func TestPaymentServiceDuplicateConfirmationMarksOrderPaidOnce(t *testing.T) {
	h := newHarness(t)
	h.seedProduct("p1", 10, 5)
	order := h.placeOrder(t, "user-1", PlaceOrderItem{ProductID: "p1", Quantity: 2})
	payment := initiate(t, h, order)
	ctx := context.Background()

	cmd := ConfirmPaymentCommand{
		PaymentID:     payment.ID,
		Provider:      domain.PaymentProviderStripe,
		TransactionID: "txn_12345",
		Status:        domain.PaymentStatusSuccessful,
	}
	first, err := h.payments.ConfirmPayment(ctx, cmd)
	if err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	second, err := h.payments.ConfirmPayment(ctx, cmd)
	if err != nil {
		t.Fatalf("second confirm: %v", err)
	}
	if first.Status != domain.PaymentStatusSuccessful || second.Status != domain.PaymentStatusSuccessful {
		t.Fatalf("expected successful payment, got %s / %s", first.Status, second.Status)
	}
	if second.Version != first.Version {
		t.Fatalf("expected redelivery to be a no-op, version %d -> %d", first.Version, second.Version)
	}

	stored, err := h.repos.Orders().FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Status != domain.OrderStatusPaid {
		t.Fatalf("expected order paid, got %s", stored.Status)
	}
	paidTransitions := 0
	for _, change := range stored.StatusHistory {
		if change.To == domain.OrderStatusPaid {
			paidTransitions++
		}
	}
	if paidTransitions != 1 {
		t.Fatalf("expected exactly one paid transition, got %d", paidTransitions)
	}
	if got := len(h.events.ofType(orderEventStatusChanged)); got != 1 {
		t.Fatalf("expected one status event, got %d", got)
	}
}

func TestPaymentServiceConcurrentConfirmationsMarkOrderPaidOnce(t *testing.T) {
	h := newHarness(t)
	h.seedProduct("p1", 10, 5)
	order := h.placeOrder(t, "user-1", PlaceOrderItem{ProductID: "p1", Quantity: 1})
	payment := initiate(t, h, order)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.payments.ConfirmPayment(context.Background(), ConfirmPaymentCommand{
				PaymentID:     payment.ID,
				Provider:      domain.PaymentProviderStripe,
				TransactionID: "txn_concurrent",
				Status:        domain.PaymentStatusSuccessful,
			})
			if err != nil {
				t.Errorf("confirm: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	stored, err := h.repos.Orders().FindByID(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid, got %s", stored.Status)
	}
	if got := len(h.events.ofType(orderEventStatusChanged)); got != 1 {
		t.Fatalf("expected one status event, got %d", got)
	}
}

func TestPaymentServiceInitiatedToSuccessfulRecordsImplicitPending(t *testing.T) {
	h := newHarness(t)
	h.seedProduct("p1", 10, 5)
	order := h.placeOrder(t, "user-1", PlaceOrderItem{ProductID: "p1", Quantity: 1})
	payment := initiate(t, h, order)

	confirmed, err := h.payments.ConfirmPayment(context.Background(), ConfirmPaymentCommand{
		PaymentID:     payment.ID,
		Provider:      domain.PaymentProviderStripe,
		TransactionID: "txn_direct",
		Status:        domain.PaymentStatusSuccessful,
		RawResponse:   map[string]any{"id": "pi_1", "client_secret": "leak", "status": "succeeded"},
	})
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	want := []PaymentStatus{domain.PaymentStatusInitiated, domain.PaymentStatusPending, domain.PaymentStatusSuccessful}
	if len(confirmed.History) != len(want) {
		t.Fatalf("expected %d history entries, got %#v", len(want), confirmed.History)
	}
	for i, status := range want {
		if confirmed.History[i].To != status {
			t.Fatalf("history[%d]: expected %s, got %s", i, status, confirmed.History[i].To)
		}
	}
	if _, leaked := confirmed.RawResponse["client_secret"]; leaked {
		t.Fatalf("raw response must drop secrets")
	}
	if confirmed.RawResponse["status"] != "succeeded" {
		t.Fatalf("expected status kept in raw response, got %#v", confirmed.RawResponse)
	}
}

func TestPaymentServiceStepwiseConfirmation(t *testing.T) {
	h := newHarness(t)
	h.seedProduct("p1", 10, 5)
	order := h.placeOrder(t, "user-1", PlaceOrderItem{ProductID: "p1", Quantity: 1})
	payment := initiate(t, h, order)
	ctx := context.Background()

	pending, err := h.payments.ConfirmPayment(ctx, ConfirmPaymentCommand{PaymentID: payment.ID, Provider: "stripe", TransactionID: "txn_steps", Status: domain.PaymentStatusPending})
	if err != nil {
		t.Fatalf("confirm pending: %v", err)
	}
	if pending.Status != domain.PaymentStatusPending {
		t.Fatalf("expected pending, got %s", pending.Status)
	}
	stored, _ := h.repos.Orders().FindByID(ctx, order.ID)
	if stored.Status != domain.OrderStatusPending {
		t.Fatalf("order must stay pending until payment succeeds, got %s", stored.Status)
	}

	if _, err := h.payments.ConfirmPayment(ctx, ConfirmPaymentCommand{PaymentID: payment.ID, Provider: "stripe", TransactionID: "txn_steps", Status: domain.PaymentStatusSuccessful}); err != nil {
		t.Fatalf("confirm successful: %v", err)
	}
	stored, _ = h.repos.Orders().FindByID(ctx, order.ID)
	if stored.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid, got %s", stored.Status)
	}
}

func TestPaymentServiceTransactionBoundToAnotherPayment(t *testing.T) {
	h := newHarness(t)
	h.seedProduct("p1", 10, 5)
	orderA := h.placeOrder(t, "user-1", PlaceOrderItem{ProductID: "p1", Quantity: 1})
	orderB := h.placeOrder(t, "user-1", PlaceOrderItem{ProductID: "p1", Quantity: 1})
	paymentA := initiate(t, h, orderA)
	paymentB := initiate(t, h, orderB)
	ctx := context.Background()

	if _, err := h.payments.ConfirmPayment(ctx, ConfirmPaymentCommand{PaymentID: paymentA.ID, Provider: "stripe", TransactionID: "txn_shared", Status: domain.PaymentStatusSuccessful}); err != nil {
		t.Fatalf("confirm A: %v", err)
	}
	_, err := h.payments.ConfirmPayment(ctx, ConfirmPaymentCommand{PaymentID: paymentB.ID, Provider: "stripe", TransactionID: "txn_shared", Status: domain.PaymentStatusSuccessful})
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected ErrDuplicateTransaction, got %v", err)
	}

	stored, _ := h.repos.Orders().FindByID(ctx, orderB.ID)
	if stored.Status != domain.OrderStatusPending {
		t.Fatalf("order B must stay pending, got %s", stored.Status)
	}
}

func TestPaymentServiceRejectsIllegalPaymentEdges(t *testing.T) {
	h := newHarness(t)
	h.seedProduct("p1", 10, 5)
	order := h.placeOrder(t, "user-1", PlaceOrderItem{ProductID: "p1", Quantity: 1})
	payment := initiate(t, h, order)
	ctx := context.Background()

	if _, err := h.payments.ConfirmPayment(ctx, ConfirmPaymentCommand{PaymentID: payment.ID, Provider: "stripe", TransactionID: "txn_fail", Status: domain.PaymentStatusFailed}); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	_, err := h.payments.ConfirmPayment(ctx, ConfirmPaymentCommand{PaymentID: payment.ID, Provider: "stripe", TransactionID: "txn_fail", Status: domain.PaymentStatusSuccessful})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestPaymentServiceValidatesConfirmation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []ConfirmPaymentCommand{
		{PaymentID: "pay_1", Provider: "stripe", TransactionID: "abc", Status: domain.PaymentStatusSuccessful},
		{PaymentID: "pay_1", Provider: "square", TransactionID: "txn_12345", Status: domain.PaymentStatusSuccessful},
		{PaymentID: "pay_1", Provider: "stripe", TransactionID: "txn_12345", Status: domain.PaymentStatusInitiated},
	}
	for i, cmd := range cases {
		if _, err := h.payments.ConfirmPayment(ctx, cmd); !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d: expected ErrValidation, got %v", i, err)
		}
	}
}

func TestPaymentServiceSuccessOnCancelledOrderLeavesOrderCancelled(t *testing.T) {
	h := newHarness(t)
	h.seedProduct("p1", 10, 5)
	order := h.placeOrder(t, "user-1", PlaceOrderItem{ProductID: "p1", Quantity: 1})
	payment := initiate(t, h, order)
	ctx := context.Background()

	if _, err := h.status.Cancel(ctx, CancelOrderCommand{OrderID: order.ID, Actor: userActor("user-1")}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := h.payments.ConfirmPayment(ctx, ConfirmPaymentCommand{PaymentID: payment.ID, Provider: "stripe", TransactionID: "txn_late", Status: domain.PaymentStatusSuccessful}); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	stored, _ := h.repos.Orders().FindByID(ctx, order.ID)
	if stored.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", stored.Status)
	}
	if !h.logs.has("payment.succeeded_on_cancelled_order") {
		t.Fatalf("expected late payment to be logged")
	}
	flagged := h.events.ofType(orderEventRefundRequired)
	if len(flagged) != 1 {
		t.Fatalf("expected one refund_required event, got %d", len(flagged))
	}
	if flagged[0].OrderID != order.ID || flagged[0].Metadata["paymentId"] != payment.ID || flagged[0].Metadata["transactionId"] != "txn_late" {
		t.Fatalf("unexpected refund_required event %#v", flagged[0])
	}
}

func TestPaymentServiceConfirmResolvesPaymentByTransaction(t *testing.T) {
	h := newHarness(t)
	h.seedProduct("p1", 10, 5)
	order := h.placeOrder(t, "user-1", PlaceOrderItem{ProductID: "p1", Quantity: 1})
	payment := initiate(t, h, order)
	ctx := context.Background()

	if _, err := h.payments.ConfirmPayment(ctx, ConfirmPaymentCommand{PaymentID: payment.ID, Provider: "stripe", TransactionID: "pi_bound", Status: domain.PaymentStatusSuccessful}); err != nil {
		t.Fatalf("ConfirmPayment success: %v", err)
	}

	refunded, err := h.payments.ConfirmPayment(ctx, ConfirmPaymentCommand{Provider: "stripe", TransactionID: "pi_bound", Status: domain.PaymentStatusRefunded})
	if err != nil {
		t.Fatalf("ConfirmPayment refund by transaction: %v", err)
	}
	if refunded.ID != payment.ID || refunded.Status != domain.PaymentStatusRefunded {
		t.Fatalf("expected payment %s refunded, got %#v", payment.ID, refunded)
	}

	_, err = h.payments.ConfirmPayment(ctx, ConfirmPaymentCommand{Provider: "stripe", TransactionID: "pi_unknown", Status: domain.PaymentStatusRefunded})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unbound transaction, got %v", err)
	}
}

func TestPaymentServiceRefund(t *testing.T) {
	gw := &stubGateway{provider: domain.PaymentProviderStripe}
	h := newHarness(t, withGateway(gw))
	h.seedProduct("p1", 10, 5)
	order := h.placeOrder(t, "user-1", PlaceOrderItem{ProductID: "p1", Quantity: 1})
	payment := initiate(t, h, order)
	ctx := context.Background()

	if _, err := h.payments.RefundPayment(ctx, RefundPaymentCommand{PaymentID: payment.ID, Actor: adminActor()}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("refunding initiated payment: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := h.payments.ConfirmPayment(ctx, ConfirmPaymentCommand{PaymentID: payment.ID, Provider: "stripe", TransactionID: "txn_refund", Status: domain.PaymentStatusSuccessful}); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if _, err := h.payments.RefundPayment(ctx, RefundPaymentCommand{PaymentID: payment.ID, Actor: userActor("user-1")}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for owner refund, got %v", err)
	}

	refunded, err := h.payments.RefundPayment(ctx, RefundPaymentCommand{PaymentID: payment.ID, Actor: adminActor(), Reason: "requested_by_customer"})
	if err != nil {
		t.Fatalf("RefundPayment: %v", err)
	}
	if refunded.Status != domain.PaymentStatusRefunded {
		t.Fatalf("expected refunded, got %s", refunded.Status)
	}
	if len(gw.refundReq) != 1 || gw.refundReq[0].IntentID != payment.IntentID {
		t.Fatalf("expected one provider refund for %s, got %#v", payment.IntentID, gw.refundReq)
	}

	again, err := h.payments.RefundPayment(ctx, RefundPaymentCommand{PaymentID: payment.ID, Actor: adminActor()})
	if err != nil || again.Status != domain.PaymentStatusRefunded {
		t.Fatalf("expected idempotent refund, got %v %v", again.Status, err)
	}
	if len(gw.refundReq) != 1 {
		t.Fatalf("expected no second provider refund, got %d", len(gw.refundReq))
	}
}

func TestPaymentServiceGatewayFailureIsUnavailable(t *testing.T) {
	gw := &stubGateway{
		provider: domain.PaymentProviderStripe,
		createFn: func(context.Context, PaymentIntentRequest) (PaymentIntent, error) {
			return PaymentIntent{}, errors.New("stripe down")
		},
	}
	h := newHarness(t, withGateway(gw))
	h.seedProduct("p1", 10, 5)
	order := h.placeOrder(t, "user-1", PlaceOrderItem{ProductID: "p1", Quantity: 1})

	_, err := h.payments.InitiatePayment(context.Background(), InitiatePaymentCommand{OrderID: order.ID, Actor: userActor("user-1")})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	payments, err := h.payments.ListPayments(context.Background(), order.ID, userActor("user-1"))
	if err != nil {
		t.Fatalf("ListPayments: %v", err)
	}
	if len(payments) != 0 {
		t.Fatalf("expected no payment records, got %d", len(payments))
	}
}
