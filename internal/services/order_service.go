package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

const (
	orderIDPrefix       = "ord_"
	orderCounterID      = "orders"
	defaultOrderPrefix  = "SF"
	defaultCurrencyCode = "MXN"
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders          repositories.OrderRepository
	Products        repositories.ProductRepository
	Addresses       repositories.AddressRepository
	Carts           repositories.CartRepository
	Counters        repositories.CounterRepository
	Status          StatusOrchestrator
	Events          OrderEventPublisher
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(ctx context.Context, event string, fields map[string]any)
	NumberPrefix    string
	DefaultCurrency string
	// RestoreAttempts bounds retries of each compensating stock restore when placement fails.
	RestoreAttempts int
}

type orderService struct {
	orders          repositories.OrderRepository
	products        repositories.ProductRepository
	addresses       repositories.AddressRepository
	carts           repositories.CartRepository
	counters        repositories.CounterRepository
	status          StatusOrchestrator
	events          OrderEventPublisher
	clock           func() time.Time
	newID           func() string
	logger          func(context.Context, string, map[string]any)
	numberPrefix    string
	defaultCurrency string
	restoreAttempts int
}

type stockClaim struct {
	productID string
	quantity  int
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Addresses == nil {
		return nil, errors.New("order service: address repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Status == nil {
		return nil, errors.New("order service: status orchestrator is required")
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
	prefix := strings.TrimSpace(deps.NumberPrefix)
	if prefix == "" {
		prefix = defaultOrderPrefix
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = defaultCurrencyCode
	}
	attempts := deps.RestoreAttempts
	if attempts <= 0 {
		attempts = defaultRestoreAttempts
	}

	return &orderService{
		orders:    deps.Orders,
		products:  deps.Products,
		addresses: deps.Addresses,
		carts:     deps.Carts,
		counters:  deps.Counters,
		status:    deps.Status,
		events:    deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:           idGen,
		logger:          logger,
		numberPrefix:    prefix,
		defaultCurrency: currency,
		restoreAttempts: attempts,
	}, nil
}

func (s *orderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	addressID := strings.TrimSpace(cmd.AddressID)
	if addressID == "" {
		return Order{}, fmt.Errorf("%w: address id is required", ErrValidation)
	}

	requested := cmd.Items
	var sourceCart *Cart
	if len(requested) == 0 {
		cart, err := s.carts.GetCart(ctx, userID)
		if err != nil && !isRepoNotFound(err) {
			return Order{}, mapRepositoryError(err)
		}
		if len(cart.Items) == 0 {
			return Order{}, fmt.Errorf("%w: no items requested and cart is empty", ErrValidation)
		}
		sourceCart = &cart
		requested = make([]PlaceOrderItem, 0, len(cart.Items))
		for _, item := range cart.Items {
			requested = append(requested, PlaceOrderItem{ProductID: item.ProductID, Quantity: item.Quantity})
		}
	}

	lines, err := mergeOrderLines(requested)
	if err != nil {
		return Order{}, err
	}

	address, err := s.addresses.Get(ctx, userID, addressID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	claims := make([]stockClaim, 0, len(lines))
	items := make([]OrderItem, 0, len(lines))
	currency := ""
	for _, line := range lines {
		product, err := s.products.DecrementStock(ctx, line.ProductID, line.Quantity)
		if err != nil {
			s.compensate(ctx, userID, claims)
			return Order{}, mapRepositoryError(err)
		}
		claims = append(claims, stockClaim{productID: line.ProductID, quantity: line.Quantity})

		productCurrency := strings.ToUpper(strings.TrimSpace(product.Currency))
		if productCurrency == "" {
			productCurrency = s.defaultCurrency
		}
		if currency == "" {
			currency = productCurrency
		} else if currency != productCurrency {
			s.compensate(ctx, userID, claims)
			return Order{}, fmt.Errorf("%w: product %s is priced in %s, order is in %s", ErrValidation, product.ID, productCurrency, currency)
		}

		items = append(items, OrderItem{
			ProductID: product.ID,
			SKU:       product.SKU,
			Name:      product.Name,
			Quantity:  line.Quantity,
			Price:     product.EffectivePrice(),
		})
	}

	now := s.clock()
	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		s.compensate(ctx, userID, claims)
		return Order{}, mapRepositoryError(err)
	}

	order := Order{
		ID:              orderIDPrefix + s.newID(),
		OrderNumber:     number,
		UserID:          userID,
		Items:           items,
		TotalPrice:      domain.OrderTotal(items),
		Currency:        currency,
		ShippingAddress: address.Clone(),
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	order = s.status.Initial(order, Actor{ID: userID, Role: domain.RoleUser})

	if err := s.orders.Insert(ctx, order); err != nil {
		s.compensate(ctx, userID, claims)
		return Order{}, mapRepositoryError(err)
	}

	s.logger(ctx, "order.placed", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"userId":      userID,
		"total":       order.TotalPrice,
		"items":       len(order.Items),
	})

	if sourceCart != nil {
		s.clearCart(ctx, *sourceCart, now)
	}

	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:          orderEventPlaced,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		CurrentStatus: string(order.Status),
		ActorID:       userID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"totalPrice": order.TotalPrice,
			"currency":   order.Currency,
		},
	})

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	if !actor.IsAdmin() && !actor.IsSystem() && order.UserID != actor.ID {
		return Order{}, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, userID string) ([]Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return orders, nil
}

// compensate restores every applied decrement in reverse order. It ignores cancellation of
// the request context so an abandoned request still rolls back.
func (s *orderService) compensate(ctx context.Context, userID string, claims []stockClaim) {
	ctx = context.WithoutCancel(ctx)
	for i := len(claims) - 1; i >= 0; i-- {
		claim := claims[i]
		var err error
		for attempt := 1; attempt <= s.restoreAttempts; attempt++ {
			if _, err = s.products.RestoreStock(ctx, claim.productID, claim.quantity); err == nil {
				break
			}
		}
		if err != nil {
			s.logger(ctx, "order.place.compensation_failed", map[string]any{
				"userId":    userID,
				"productId": claim.productID,
				"quantity":  claim.quantity,
				"error":     err.Error(),
			})
		}
	}
}

func (s *orderService) clearCart(ctx context.Context, cart Cart, now time.Time) {
	cart.Items = nil
	cart.UpdatedAt = now
	domain.RecalculateCart(&cart)
	if _, err := s.carts.SaveCart(ctx, cart, cart.Version); err != nil {
		s.logger(ctx, "order.place.cart_clear_failed", map[string]any{
			"userId": cart.UserID,
			"error":  err.Error(),
		})
	}
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	year := now.Year()
	seq, err := s.counters.Next(ctx, fmt.Sprintf("%s-%04d", orderCounterID, year), 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%04d-%06d", s.numberPrefix, year, seq), nil
}

func mergeOrderLines(items []PlaceOrderItem) ([]PlaceOrderItem, error) {
	merged := make([]PlaceOrderItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: product id is required", ErrValidation)
		}
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity for %s must be at least 1", ErrValidation, productID)
		}
		if pos, ok := index[productID]; ok {
			merged[pos].Quantity += item.Quantity
			continue
		}
		index[productID] = len(merged)
		merged = append(merged, PlaceOrderItem{ProductID: productID, Quantity: item.Quantity})
	}
	return merged, nil
}
