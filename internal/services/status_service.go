package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

const (
	orderEventPlaced        = "order.placed"
	orderEventStatusChanged = "order.status_changed"

	// orderEventRefundRequired flags money captured for an order that was already cancelled.
	orderEventRefundRequired = "order.refund_required"

	defaultRestoreAttempts = 3
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	domain.OrderStatusPending: {domain.OrderStatusPaid, domain.OrderStatusCancelled},
	domain.OrderStatusPaid:    {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped: {domain.OrderStatusDelivered},
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	domain.PaymentStatusInitiated:  {domain.PaymentStatusPending},
	domain.PaymentStatusPending:    {domain.PaymentStatusSuccessful, domain.PaymentStatusFailed},
	domain.PaymentStatusSuccessful: {domain.PaymentStatusRefunded},
}

// StatusServiceDeps bundles collaborators required to construct the status orchestrator.
type StatusServiceDeps struct {
	Orders   repositories.OrderRepository
	Products repositories.ProductRepository
	Events   OrderEventPublisher
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
	// RestoreAttempts bounds retries of each compensating stock restore on cancellation.
	RestoreAttempts int
}

type statusService struct {
	orders          repositories.OrderRepository
	products        repositories.ProductRepository
	events          OrderEventPublisher
	clock           func() time.Time
	logger          func(context.Context, string, map[string]any)
	restoreAttempts int
}

// NewStatusService wires dependencies into the StatusOrchestrator implementation.
func NewStatusService(deps StatusServiceDeps) (StatusOrchestrator, error) {
	if deps.Orders == nil {
		return nil, errors.New("status service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("status service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	attempts := deps.RestoreAttempts
	if attempts <= 0 {
		attempts = defaultRestoreAttempts
	}

	return &statusService{
		orders:   deps.Orders,
		products: deps.Products,
		events:   deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:          logger,
		restoreAttempts: attempts,
	}, nil
}

func (s *statusService) Initial(order Order, actor Actor) Order {
	order.Status = domain.OrderStatusPending
	order.StatusHistory = []OrderStatusChange{{
		To:        domain.OrderStatusPending,
		Actor:     actor.ID,
		ChangedAt: order.CreatedAt,
	}}
	return order
}

func (s *statusService) CanTransitionPayment(from, to PaymentStatus) bool {
	return slices.Contains(paymentTransitions[from], to)
}

func (s *statusService) Transition(ctx context.Context, cmd TransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	if !canTransitionOrder(cmd.From, cmd.To) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cmd.From, cmd.To)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	if err := authorizeTransition(order, cmd.From, cmd.To, cmd.Actor); err != nil {
		return Order{}, err
	}
	if order.Status != cmd.From {
		return Order{}, fmt.Errorf("%w: order %s is %s, expected %s", ErrConcurrencyConflict, order.ID, order.Status, cmd.From)
	}

	now := s.clock()
	reason := strings.TrimSpace(cmd.Reason)
	order.Status = cmd.To
	order.UpdatedAt = now
	order.StatusHistory = append(order.StatusHistory, OrderStatusChange{
		From:      cmd.From,
		To:        cmd.To,
		Actor:     cmd.Actor.ID,
		Reason:    reason,
		ChangedAt: now,
	})
	stampStatusTime(&order, cmd.To, now)
	if cmd.To == domain.OrderStatusCancelled {
		order.CancelReason = reason
	}

	updated, err := s.orders.UpdateStatus(ctx, order, cmd.From)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	s.logger(ctx, "order.status.changed", map[string]any{
		"orderId": updated.ID,
		"from":    string(cmd.From),
		"to":      string(cmd.To),
		"actorId": cmd.Actor.ID,
	})

	var restoreErr error
	if cmd.To == domain.OrderStatusCancelled {
		restoreErr = s.restoreStock(ctx, updated)
	}

	metadata := map[string]any{}
	if reason != "" {
		metadata["reason"] = reason
	}
	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		UserID:         updated.UserID,
		PreviousStatus: string(cmd.From),
		CurrentStatus:  string(cmd.To),
		ActorID:        cmd.Actor.ID,
		OccurredAt:     now,
		Metadata:       metadata,
	})

	if restoreErr != nil {
		return updated, restoreErr
	}
	return updated, nil
}

func (s *statusService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	return s.Transition(ctx, TransitionCommand{
		OrderID: orderID,
		From:    order.Status,
		To:      domain.OrderStatusCancelled,
		Actor:   cmd.Actor,
		Reason:  cmd.Reason,
	})
}

// restoreStock runs after the cancellation has committed, so only the winning canceller
// restores. Each line is retried independently; lines that still fail are logged for
// manual reconciliation and reported as ErrUnavailable.
func (s *statusService) restoreStock(ctx context.Context, order Order) error {
	ctx = context.WithoutCancel(ctx)
	var failed []string
	for _, item := range order.Items {
		var err error
		for attempt := 1; attempt <= s.restoreAttempts; attempt++ {
			if _, err = s.products.RestoreStock(ctx, item.ProductID, item.Quantity); err == nil {
				break
			}
		}
		if err != nil {
			failed = append(failed, item.ProductID)
			s.logger(ctx, "order.cancel.restore_failed", map[string]any{
				"orderId":   order.ID,
				"productId": item.ProductID,
				"quantity":  item.Quantity,
				"error":     err.Error(),
			})
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: order %s cancelled but stock restore failed for %s", ErrUnavailable, order.ID, strings.Join(failed, ","))
	}
	return nil
}

func canTransitionOrder(from, to OrderStatus) bool {
	return slices.Contains(orderTransitions[from], to)
}

func authorizeTransition(order Order, from, to OrderStatus, actor Actor) error {
	allowed := false
	switch to {
	case domain.OrderStatusPaid:
		allowed = actor.IsSystem() || actor.IsAdmin()
	case domain.OrderStatusShipped, domain.OrderStatusDelivered:
		allowed = actor.IsAdmin()
	case domain.OrderStatusCancelled:
		switch from {
		case domain.OrderStatusPending:
			allowed = actor.IsAdmin() || (actor.ID != "" && actor.ID == order.UserID)
		case domain.OrderStatusPaid:
			allowed = actor.IsAdmin()
		}
	}
	if !allowed {
		return fmt.Errorf("%w: actor %q may not move order %s from %s to %s", ErrUnauthorized, actor.ID, order.ID, from, to)
	}
	return nil
}

func stampStatusTime(order *Order, status OrderStatus, now time.Time) {
	switch status {
	case domain.OrderStatusPaid:
		order.PaidAt = &now
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		order.CancelledAt = &now
	}
}

func publishOrderEvent(ctx context.Context, events OrderEventPublisher, logger func(context.Context, string, map[string]any), event OrderEvent) {
	if events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := events.PublishOrderEvent(ctx, event); err != nil {
		logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}
