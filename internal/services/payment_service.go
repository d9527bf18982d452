package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

const (
	paymentIDPrefix = "pay_"

	minTransactionIDLength = 5
	maxTransactionIDLength = 255
)

// rawResponseKeys is the provider payload subset retained on payment records.
var rawResponseKeys = map[string]struct{}{
	"id":                  {},
	"object":              {},
	"status":              {},
	"amount":              {},
	"amount_received":     {},
	"currency":            {},
	"created":             {},
	"livemode":            {},
	"latest_charge":       {},
	"failure_code":        {},
	"failure_message":     {},
	"cancellation_reason": {},
	"event_id":            {},
	"event_type":          {},
}

// PaymentServiceDeps bundles collaborators required to construct the payment reconciler.
type PaymentServiceDeps struct {
	Payments        repositories.PaymentRepository
	Orders          repositories.OrderRepository
	Status          StatusOrchestrator
	Gateway         PaymentGateway
	Events          OrderEventPublisher
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(ctx context.Context, event string, fields map[string]any)
	DefaultCurrency string
}

type paymentService struct {
	payments        repositories.PaymentRepository
	orders          repositories.OrderRepository
	status          StatusOrchestrator
	gateway         PaymentGateway
	events          OrderEventPublisher
	clock           func() time.Time
	newID           func() string
	logger          func(context.Context, string, map[string]any)
	defaultCurrency string
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Payments == nil {
		return nil, errors.New("payment service: payment repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Status == nil {
		return nil, errors.New("payment service: status orchestrator is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = defaultCurrencyCode
	}

	return &paymentService{
		payments: deps.Payments,
		orders:   deps.Orders,
		status:   deps.Status,
		gateway:  deps.Gateway,
		events:   deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:           idGen,
		logger:          logger,
		defaultCurrency: currency,
	}, nil
}

func (s *paymentService) InitiatePayment(ctx context.Context, cmd InitiatePaymentCommand) (Payment, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Payment{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	provider, err := normaliseProvider(cmd.Provider, true)
	if err != nil {
		return Payment{}, err
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Payment{}, mapRepositoryError(err)
	}
	if !cmd.Actor.IsAdmin() && order.UserID != cmd.Actor.ID {
		return Payment{}, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	if order.Status != domain.OrderStatusPending {
		return Payment{}, fmt.Errorf("%w: order %s is %s, payments require a pending order", ErrValidation, order.ID, order.Status)
	}

	now := s.clock()
	currency := strings.ToUpper(strings.TrimSpace(order.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}
	payment := Payment{
		ID:       paymentIDPrefix + s.newID(),
		OrderID:  order.ID,
		UserID:   order.UserID,
		Provider: provider,
		Method:   strings.TrimSpace(cmd.Method),
		Amount:   order.TotalPrice,
		Currency: currency,
		Status:   domain.PaymentStatusInitiated,
		History: []domain.PaymentStatusChange{{
			To:        domain.PaymentStatusInitiated,
			ChangedAt: now,
		}},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	clientSecret := ""
	if s.gateway != nil && s.gateway.Supports(provider) {
		key := strings.TrimSpace(cmd.IdempotencyKey)
		if key == "" {
			key = payment.ID
		}
		intent, err := s.gateway.CreateIntent(ctx, PaymentIntentRequest{
			Provider:       provider,
			PaymentID:      payment.ID,
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			UserID:         order.UserID,
			Amount:         payment.Amount,
			Currency:       payment.Currency,
			IdempotencyKey: key,
		})
		if err != nil {
			return Payment{}, fmt.Errorf("%w: create %s intent: %v", ErrUnavailable, provider, err)
		}
		payment.IntentID = intent.IntentID
		payment.RawResponse = sanitizeRawResponse(intent.Raw)
		clientSecret = intent.ClientSecret
	}

	if err := s.payments.Insert(ctx, payment); err != nil {
		return Payment{}, mapRepositoryError(err)
	}

	s.logger(ctx, "payment.initiated", map[string]any{
		"paymentId": payment.ID,
		"orderId":   order.ID,
		"provider":  provider,
		"amount":    payment.Amount,
		"intentId":  payment.IntentID,
	})

	payment.ClientSecret = clientSecret
	return payment, nil
}

func (s *paymentService) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Payment, error) {
	paymentID := strings.TrimSpace(cmd.PaymentID)
	provider, err := normaliseProvider(cmd.Provider, false)
	if err != nil {
		return Payment{}, err
	}
	txn := strings.TrimSpace(cmd.TransactionID)
	if n := utf8.RuneCountInString(txn); n < minTransactionIDLength || n > maxTransactionIDLength {
		return Payment{}, fmt.Errorf("%w: transaction id must be %d..%d characters", ErrValidation, minTransactionIDLength, maxTransactionIDLength)
	}
	target := cmd.Status
	switch target {
	case domain.PaymentStatusPending, domain.PaymentStatusSuccessful, domain.PaymentStatusFailed, domain.PaymentStatusRefunded:
	default:
		return Payment{}, fmt.Errorf("%w: unsupported confirmation status %q", ErrValidation, target)
	}

	bound, err := s.payments.FindByTransaction(ctx, provider, txn)
	switch {
	case err == nil:
		if paymentID == "" {
			paymentID = bound.ID
		}
		if bound.ID != paymentID {
			return Payment{}, fmt.Errorf("%w: %s is bound to payment %s", ErrDuplicateTransaction, domain.TransactionKey(provider, txn), bound.ID)
		}
		if bound.Status == target {
			return s.settled(ctx, bound)
		}
	case !isRepoNotFound(err):
		return Payment{}, mapRepositoryError(err)
	case paymentID == "":
		return Payment{}, fmt.Errorf("%w: no payment is bound to %s", ErrNotFound, domain.TransactionKey(provider, txn))
	}

	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return Payment{}, mapRepositoryError(err)
	}
	if payment.Provider != provider {
		return Payment{}, fmt.Errorf("%w: payment %s belongs to provider %s", ErrValidation, payment.ID, payment.Provider)
	}
	if payment.TransactionID != "" && payment.TransactionID != txn {
		return Payment{}, fmt.Errorf("%w: payment %s is bound to another transaction", ErrValidation, payment.ID)
	}
	if payment.Status == target {
		return s.settled(ctx, payment)
	}

	path, ok := s.paymentPath(payment.Status, target)
	if !ok {
		return Payment{}, fmt.Errorf("%w: payment %s -> %s", ErrInvalidTransition, payment.Status, target)
	}

	now := s.clock()
	from := payment.Status
	step := from
	for _, next := range path {
		payment.History = append(payment.History, domain.PaymentStatusChange{From: step, To: next, ChangedAt: now})
		step = next
	}
	payment.Status = target
	payment.TransactionID = txn
	if raw := sanitizeRawResponse(cmd.RawResponse); raw != nil {
		payment.RawResponse = raw
	}
	payment.UpdatedAt = now

	updated, err := s.payments.Transition(ctx, payment, from)
	if err != nil {
		if isStatusMismatch(err) {
			current, readErr := s.payments.FindByID(ctx, paymentID)
			if readErr == nil && current.Status == target && current.TransactionID == txn {
				return s.settled(ctx, current)
			}
		}
		return Payment{}, mapRepositoryError(err)
	}

	s.logger(ctx, "payment.confirmed", map[string]any{
		"paymentId":     updated.ID,
		"orderId":       updated.OrderID,
		"provider":      provider,
		"transactionId": txn,
		"from":          string(from),
		"to":            string(target),
	})

	return s.settled(ctx, updated)
}

func (s *paymentService) RefundPayment(ctx context.Context, cmd RefundPaymentCommand) (Payment, error) {
	if !cmd.Actor.IsAdmin() {
		return Payment{}, fmt.Errorf("%w: refunds require an admin", ErrUnauthorized)
	}
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if paymentID == "" {
		return Payment{}, fmt.Errorf("%w: payment id is required", ErrValidation)
	}

	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return Payment{}, mapRepositoryError(err)
	}
	if payment.Status == domain.PaymentStatusRefunded {
		return payment, nil
	}
	if !s.status.CanTransitionPayment(payment.Status, domain.PaymentStatusRefunded) {
		return Payment{}, fmt.Errorf("%w: payment %s -> %s", ErrInvalidTransition, payment.Status, domain.PaymentStatusRefunded)
	}

	if s.gateway != nil && s.gateway.Supports(payment.Provider) && payment.IntentID != "" {
		if err := s.gateway.Refund(ctx, PaymentRefundRequest{
			Provider:       payment.Provider,
			PaymentID:      payment.ID,
			IntentID:       payment.IntentID,
			Amount:         payment.Amount,
			Reason:         strings.TrimSpace(cmd.Reason),
			IdempotencyKey: "refund_" + payment.ID,
		}); err != nil {
			return Payment{}, fmt.Errorf("%w: refund via %s: %v", ErrUnavailable, payment.Provider, err)
		}
	}

	now := s.clock()
	from := payment.Status
	payment.History = append(payment.History, domain.PaymentStatusChange{From: from, To: domain.PaymentStatusRefunded, ChangedAt: now})
	payment.Status = domain.PaymentStatusRefunded
	payment.UpdatedAt = now

	updated, err := s.payments.Transition(ctx, payment, from)
	if err != nil {
		if isStatusMismatch(err) {
			if current, readErr := s.payments.FindByID(ctx, paymentID); readErr == nil && current.Status == domain.PaymentStatusRefunded {
				return current, nil
			}
		}
		return Payment{}, mapRepositoryError(err)
	}

	s.logger(ctx, "payment.refunded", map[string]any{
		"paymentId": updated.ID,
		"orderId":   updated.OrderID,
		"actorId":   cmd.Actor.ID,
	})
	return updated, nil
}

func (s *paymentService) ListPayments(ctx context.Context, orderID string, actor Actor) ([]Payment, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	if !actor.IsAdmin() && !actor.IsSystem() && order.UserID != actor.ID {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	payments, err := s.payments.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return payments, nil
}

// settled returns the payment after making sure a successful payment is reflected on its order.
// It runs on every confirmation, including no-op redeliveries, so a crash between the payment
// write and the order transition heals on the next delivery.
func (s *paymentService) settled(ctx context.Context, payment Payment) (Payment, error) {
	if payment.Status != domain.PaymentStatusSuccessful {
		return payment, nil
	}
	if err := s.ensureOrderPaid(ctx, payment); err != nil {
		return payment, err
	}
	return payment, nil
}

func (s *paymentService) ensureOrderPaid(ctx context.Context, payment Payment) error {
	order, err := s.orders.FindByID(ctx, payment.OrderID)
	if err != nil {
		return mapRepositoryError(err)
	}
	switch order.Status {
	case domain.OrderStatusPaid, domain.OrderStatusShipped, domain.OrderStatusDelivered:
		return nil
	case domain.OrderStatusCancelled:
		s.logger(ctx, "payment.succeeded_on_cancelled_order", map[string]any{
			"paymentId": payment.ID,
			"orderId":   order.ID,
		})
		publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
			Type:          orderEventRefundRequired,
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			UserID:        order.UserID,
			CurrentStatus: string(order.Status),
			ActorID:       SystemActor().ID,
			OccurredAt:    s.clock(),
			Metadata: map[string]any{
				"paymentId":     payment.ID,
				"provider":      payment.Provider,
				"transactionId": payment.TransactionID,
				"amount":        payment.Amount,
				"currency":      payment.Currency,
			},
		})
		return nil
	}

	_, err = s.status.Transition(ctx, TransitionCommand{
		OrderID: order.ID,
		From:    domain.OrderStatusPending,
		To:      domain.OrderStatusPaid,
		Actor:   SystemActor(),
		Reason:  "payment " + payment.ID,
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConcurrencyConflict) {
		current, readErr := s.orders.FindByID(ctx, order.ID)
		if readErr == nil && current.Status != domain.OrderStatusPending {
			return nil
		}
	}
	return err
}

// paymentPath lists the statuses a payment passes through on its way to target. Providers
// often report completion straight from initiated, which is taken as an implicit pending step.
func (s *paymentService) paymentPath(from, to PaymentStatus) ([]PaymentStatus, bool) {
	if s.status.CanTransitionPayment(from, to) {
		return []PaymentStatus{to}, true
	}
	if from == domain.PaymentStatusInitiated &&
		s.status.CanTransitionPayment(domain.PaymentStatusInitiated, domain.PaymentStatusPending) &&
		s.status.CanTransitionPayment(domain.PaymentStatusPending, to) {
		return []PaymentStatus{domain.PaymentStatusPending, to}, true
	}
	return nil, false
}

func normaliseProvider(provider string, allowDefault bool) (string, error) {
	value := strings.ToLower(strings.TrimSpace(provider))
	if value == "" && allowDefault {
		value = domain.PaymentProviderStripe
	}
	switch value {
	case domain.PaymentProviderStripe, domain.PaymentProviderPayPal:
		return value, nil
	default:
		return "", fmt.Errorf("%w: unsupported payment provider %q", ErrValidation, provider)
	}
}

func sanitizeRawResponse(raw map[string]any) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]any)
	for key, value := range raw {
		if _, ok := rawResponseKeys[key]; ok {
			out[key] = value
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
