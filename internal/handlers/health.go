package handlers

import (
	"net/http"
	"time"

	"github.com/storefront/api/internal/platform/health"
	"github.com/storefront/api/internal/platform/httpx"
)

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	prober  *health.Prober
	started time.Time
	now     func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthClock injects the clock used for uptime and timestamps.
func WithHealthClock(now func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if now != nil {
			h.now = now
			h.started = now()
		}
	}
}

// NewHealthHandlers builds handlers. A nil prober makes /readyz report ok without checks.
func NewHealthHandlers(prober *health.Prober, opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{prober: prober, now: time.Now}
	h.started = h.now()
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Healthz reports process liveness. It never touches dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.now()
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    health.StatusOK,
		"uptime":    now.Sub(h.started).Round(time.Second).String(),
		"timestamp": now.UTC().Format(time.RFC3339),
	})
}

// Readyz runs dependency probes. An error report answers 503 so the instance is drained.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.prober == nil {
		httpx.WriteJSON(w, http.StatusOK, health.Report{
			Status:      health.StatusOK,
			Checks:      map[string]health.Result{},
			GeneratedAt: h.now().UTC(),
		})
		return
	}

	report := h.prober.Collect(r.Context())
	status := http.StatusOK
	if report.Status == health.StatusError {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, report)
}
