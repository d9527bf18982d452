package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories/memory"
)

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%04d", n.Add(1))
	}
}

type captureOrderEvents struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureOrderEvents) ofType(eventType string) []OrderEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []OrderEvent
	for _, e := range c.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type captureLogs struct {
	mu      sync.Mutex
	entries []string
}

func (c *captureLogs) log(_ context.Context, event string, _ map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, event)
}

func (c *captureLogs) has(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e == event {
			return true
		}
	}
	return false
}

// harness wires every service against one memory registry.
type harness struct {
	repos    *memory.Registry
	events   *captureOrderEvents
	logs     *captureLogs
	status   StatusOrchestrator
	orders   OrderService
	payments PaymentService
	carts    CartService
	address  AddressService
}

type harnessOption func(*PaymentServiceDeps)

func withGateway(gw PaymentGateway) harnessOption {
	return func(d *PaymentServiceDeps) { d.Gateway = gw }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	repos := memory.NewRegistry()
	events := &captureOrderEvents{}
	logs := &captureLogs{}
	ids := sequentialIDs()

	status, err := NewStatusService(StatusServiceDeps{
		Orders:   repos.Orders(),
		Products: repos.Products(),
		Events:   events,
		Clock:    fixedClock,
		Logger:   logs.log,
	})
	if err != nil {
		t.Fatalf("NewStatusService: %v", err)
	}
	orders, err := NewOrderService(OrderServiceDeps{
		Orders:      repos.Orders(),
		Products:    repos.Products(),
		Addresses:   repos.Addresses(),
		Carts:       repos.Carts(),
		Counters:    repos.Counters(),
		Status:      status,
		Events:      events,
		Clock:       fixedClock,
		IDGenerator: ids,
		Logger:      logs.log,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	paymentDeps := PaymentServiceDeps{
		Payments:    repos.Payments(),
		Orders:      repos.Orders(),
		Status:      status,
		Events:      events,
		Clock:       fixedClock,
		IDGenerator: ids,
		Logger:      logs.log,
	}
	for _, opt := range opts {
		opt(&paymentDeps)
	}
	payments, err := NewPaymentService(paymentDeps)
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	carts, err := NewCartService(CartServiceDeps{
		Carts:    repos.Carts(),
		Products: repos.Products(),
		Clock:    fixedClock,
		Logger:   logs.log,
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	address, err := NewAddressService(AddressServiceDeps{
		Addresses:   repos.Addresses(),
		Orders:      repos.Orders(),
		Clock:       fixedClock,
		IDGenerator: ids,
		Logger:      logs.log,
	})
	if err != nil {
		t.Fatalf("NewAddressService: %v", err)
	}

	return &harness{
		repos:    repos,
		events:   events,
		logs:     logs,
		status:   status,
		orders:   orders,
		payments: payments,
		carts:    carts,
		address:  address,
	}
}

func (h *harness) seedProduct(id string, price int64, stock int) {
	h.repos.ProductStore().Put(domain.Product{
		ID:       id,
		SKU:      "SKU-" + id,
		Name:     "Product " + id,
		Price:    price,
		Currency: "MXN",
		Stock:    stock,
	})
}

func (h *harness) stock(t *testing.T, id string) int {
	t.Helper()
	product, err := h.repos.Products().Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get product %s: %v", id, err)
	}
	return product.Stock
}

func (h *harness) seedAddress(t *testing.T, userID string) Address {
	t.Helper()
	addr, err := h.address.CreateAddress(context.Background(), SaveAddressCommand{
		UserID:  userID,
		Address: mxAddress(),
	})
	if err != nil {
		t.Fatalf("CreateAddress: %v", err)
	}
	return addr
}

func (h *harness) placeOrder(t *testing.T, userID string, items ...PlaceOrderItem) Order {
	t.Helper()
	addr := h.seedAddress(t, userID)
	order, err := h.orders.PlaceOrder(context.Background(), PlaceOrderCommand{
		UserID:    userID,
		AddressID: addr.ID,
		Items:     items,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	return order
}

func mxAddress() Address {
	return Address{
		Profile:      domain.AddressProfileMX,
		FullName:     "María López",
		Street:       "Av. Reforma",
		ExtNumber:    "222",
		Neighborhood: "Juárez",
		Municipality: "Cuauhtémoc",
		State:        "CDMX",
		PostalCode:   "06600",
		Phone:        "5512345678",
	}
}

func adminActor() Actor { return Actor{ID: "admin-1", Role: domain.RoleAdmin} }

func userActor(id string) Actor { return Actor{ID: id, Role: domain.RoleUser} }

func boolPtr(v bool) *bool { return &v }
