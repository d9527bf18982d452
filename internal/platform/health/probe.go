// Package health aggregates dependency probes for the readiness endpoint.
package health

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// Status values reported per dependency and for the whole report.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusError    = "error"
)

// Check is a named dependency probe.
type Check struct {
	Name    string
	Timeout time.Duration
	Probe   func(context.Context) error
}

// Result is the outcome of one probe.
type Result struct {
	Status    string        `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	Latency   time.Duration `json:"latencyNs"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// Report aggregates every probe result.
type Report struct {
	Status      string            `json:"status"`
	Checks      map[string]Result `json:"checks"`
	GeneratedAt time.Time         `json:"generatedAt"`
}

// Prober runs all checks concurrently.
type Prober struct {
	checks  []Check
	timeout time.Duration
	now     func() time.Time
}

// Option customises a Prober.
type Option func(*Prober)

// WithTimeout sets the timeout for checks that do not declare their own.
func WithTimeout(timeout time.Duration) Option {
	return func(p *Prober) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithClock injects the clock used for timestamps and latency.
func WithClock(clock func() time.Time) Option {
	return func(p *Prober) {
		if clock != nil {
			p.now = clock
		}
	}
}

// NewProber validates the checks and builds a Prober.
func NewProber(checks []Check, opts ...Option) (*Prober, error) {
	if len(checks) == 0 {
		return nil, errors.New("health: at least one check is required")
	}
	for _, check := range checks {
		if strings.TrimSpace(check.Name) == "" {
			return nil, errors.New("health: check name is required")
		}
		if check.Probe == nil {
			return nil, errors.New("health: check " + check.Name + " has no probe")
		}
	}
	p := &Prober{
		checks:  append([]Check(nil), checks...),
		timeout: defaultProbeTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Collect runs every probe and folds the results. Any error result makes the report an error;
// otherwise any degraded result makes it degraded.
func (p *Prober) Collect(ctx context.Context) Report {
	results := make(map[string]Result, len(p.checks))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, check := range p.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := p.run(ctx, check)
			mu.Lock()
			results[check.Name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	status := StatusOK
	for _, result := range results {
		switch {
		case result.Status == StatusError:
			status = StatusError
		case result.Status == StatusDegraded && status == StatusOK:
			status = StatusDegraded
		}
	}
	return Report{Status: status, Checks: results, GeneratedAt: p.now()}
}

func (p *Prober) run(ctx context.Context, check Check) Result {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := p.now()
	err := check.Probe(probeCtx)
	if err == nil {
		err = probeCtx.Err()
	}
	end := p.now()

	result := Result{Status: StatusOK, Latency: end.Sub(start), CheckedAt: end}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		result.Status, result.Detail = StatusError, "timeout"
	case errors.Is(err, context.Canceled):
		result.Status, result.Detail = StatusError, "cancelled"
	default:
		result.Status, result.Detail = StatusDegraded, err.Error()
	}
	return result
}
