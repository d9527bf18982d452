package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/storefront/api/internal/platform/config"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/platform/observability"
	"github.com/storefront/api/internal/repositories"
	firestoreRepo "github.com/storefront/api/internal/repositories/firestore"
	"github.com/storefront/api/internal/repositories/memory"
	"github.com/storefront/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Addresses services.AddressService
	Carts     services.CartService
	Orders    services.OrderService
	Status    services.StatusOrchestrator
	Payments  services.PaymentService
}

// Infrastructure carries the optional adapters services can use. Nil fields are skipped:
// no event publishing, no provider intents, and cart reads go straight to the repository.
type Infrastructure struct {
	Events       services.OrderEventPublisher
	Gateway      services.PaymentGateway
	CartProducts services.ProductReader
	Logger       *zap.Logger
	Clock        func() time.Time
	IDGenerator  func() string
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewRegistry selects the persistence backend named by cfg.Persistence. The Firestore provider
// is only consulted for the firestore backend.
func NewRegistry(cfg config.Config, provider *pfirestore.Provider) (repositories.Registry, error) {
	switch cfg.Persistence {
	case config.PersistenceMemory:
		return memory.NewRegistry(), nil
	case config.PersistenceFirestore, "":
		if provider == nil {
			return nil, errors.New("firestore provider is required")
		}
		return firestoreRepo.NewRegistry(provider)
	default:
		return nil, fmt.Errorf("unsupported persistence backend %q", cfg.Persistence)
	}
}

// NewContainer constructs the services over reg.
func NewContainer(cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(cfg, reg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, reg repositories.Registry, infra Infrastructure) (Services, error) {
	var svc Services

	base := infra.Logger
	if base == nil {
		base = zap.NewNop()
	}
	clock := infra.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	newID := infra.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	cartProducts := infra.CartProducts
	if cartProducts == nil {
		cartProducts = reg.Products()
	}

	addresses, err := services.NewAddressService(services.AddressServiceDeps{
		Addresses:   reg.Addresses(),
		Orders:      reg.Orders(),
		Clock:       clock,
		IDGenerator: newID,
		Logger:      observability.EventLogger(base.Named("addresses")),
	})
	if err != nil {
		return svc, fmt.Errorf("address service: %w", err)
	}
	svc.Addresses = addresses

	carts, err := services.NewCartService(services.CartServiceDeps{
		Carts:           reg.Carts(),
		Products:        cartProducts,
		Clock:           clock,
		Logger:          observability.EventLogger(base.Named("cart")),
		DefaultCurrency: cfg.Orders.DefaultCurrency,
		WriteAttempts:   cfg.Orders.CartWriteAttempts,
	})
	if err != nil {
		return svc, fmt.Errorf("cart service: %w", err)
	}
	svc.Carts = carts

	status, err := services.NewStatusService(services.StatusServiceDeps{
		Orders:          reg.Orders(),
		Products:        reg.Products(),
		Events:          infra.Events,
		Clock:           clock,
		Logger:          observability.EventLogger(base.Named("status")),
		RestoreAttempts: cfg.Orders.CartWriteAttempts,
	})
	if err != nil {
		return svc, fmt.Errorf("status service: %w", err)
	}
	svc.Status = status

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:          reg.Orders(),
		Products:        reg.Products(),
		Addresses:       reg.Addresses(),
		Carts:           reg.Carts(),
		Counters:        reg.Counters(),
		Status:          status,
		Events:          infra.Events,
		Clock:           clock,
		IDGenerator:     newID,
		Logger:          observability.EventLogger(base.Named("orders")),
		NumberPrefix:    cfg.Orders.NumberPrefix,
		DefaultCurrency: cfg.Orders.DefaultCurrency,
		RestoreAttempts: cfg.Orders.CartWriteAttempts,
	})
	if err != nil {
		return svc, fmt.Errorf("order service: %w", err)
	}
	svc.Orders = orders

	payments, err := services.NewPaymentService(services.PaymentServiceDeps{
		Payments:        reg.Payments(),
		Orders:          reg.Orders(),
		Status:          status,
		Gateway:         infra.Gateway,
		Events:          infra.Events,
		Clock:           clock,
		IDGenerator:     newID,
		Logger:          observability.EventLogger(base.Named("payments")),
		DefaultCurrency: cfg.Orders.DefaultCurrency,
	})
	if err != nil {
		return svc, fmt.Errorf("payment service: %w", err)
	}
	svc.Payments = payments

	return svc, nil
}
