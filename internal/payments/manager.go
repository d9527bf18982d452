package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Manager picks the adapter for a payment. A payment that names its provider is served by
// exactly that adapter; otherwise the currency route applies, then the default.
type Manager struct {
	providers  map[string]Provider
	byCurrency map[string]string
	fallback   string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider sets the adapter used when neither the provider nor a currency route
// decides. An empty name disables the fallback.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) { m.fallback = normaliseProvider(provider) }
}

// WithCurrencyRoutes maps ISO currency codes to provider names.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		for currency, provider := range routes {
			m.byCurrency[strings.ToUpper(strings.TrimSpace(currency))] = normaliseProvider(provider)
		}
	}
}

// NewManager registers providers by lower-cased name. Stripe is the default when present.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	m := &Manager{
		providers:  make(map[string]Provider, len(providers)),
		byCurrency: make(map[string]string),
	}
	for name, provider := range providers {
		key := normaliseProvider(name)
		if key == "" || provider == nil {
			return nil, fmt.Errorf("payments: invalid provider registration %q", name)
		}
		m.providers[key] = provider
	}
	if _, ok := m.providers["stripe"]; ok {
		m.fallback = "stripe"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// PaymentContext carries what the caller knows about the payment when choosing an adapter.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

// Has reports whether name is registered.
func (m *Manager) Has(name string) bool {
	if m == nil {
		return false
	}
	_, ok := m.providers[normaliseProvider(name)]
	return ok
}

func (m *Manager) pick(pc PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	// A named provider must be registered. It never falls back to another adapter.
	if name := normaliseProvider(pc.PreferredProvider); name != "" {
		if p, ok := m.providers[name]; ok {
			return name, p, nil
		}
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, name)
	}

	candidates := []string{m.byCurrency[strings.ToUpper(strings.TrimSpace(pc.Currency))], m.fallback}
	for _, name := range candidates {
		if p, ok := m.providers[name]; ok && name != "" {
			return name, p, nil
		}
	}
	if len(m.providers) == 1 {
		for name, p := range m.providers {
			return name, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateIntent opens an intent with the chosen adapter and stamps its name on the result.
func (m *Manager) CreateIntent(ctx context.Context, pc PaymentContext, req IntentRequest) (Intent, error) {
	name, provider, err := m.pick(pc)
	if err != nil {
		return Intent{}, err
	}
	intent, err := provider.CreateIntent(ctx, req)
	if err != nil {
		return Intent{}, err
	}
	intent.Provider = name
	return intent, nil
}

func (m *Manager) Refund(ctx context.Context, pc PaymentContext, req RefundRequest) (PaymentDetails, error) {
	_, provider, err := m.pick(pc)
	if err != nil {
		return PaymentDetails{}, err
	}
	return provider.Refund(ctx, req)
}

func (m *Manager) LookupPayment(ctx context.Context, pc PaymentContext, req LookupRequest) (PaymentDetails, error) {
	_, provider, err := m.pick(pc)
	if err != nil {
		return PaymentDetails{}, err
	}
	return provider.LookupPayment(ctx, req)
}

func normaliseProvider(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
