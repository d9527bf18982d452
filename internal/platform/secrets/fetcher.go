// Package secrets resolves secret://name references against Google Secret Manager.
package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultCacheTTL = 10 * time.Minute

// ErrNotFound is returned when neither Secret Manager nor the fallback file holds the secret.
var ErrNotFound = errors.New("secrets: secret not found")

type accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Reference is a parsed secret://NAME[?project=P&version=V] URI.
type Reference struct {
	Name    string
	Project string
	Version string
}

// ParseReference parses ref. The sm:// scheme is accepted as an alias of secret://.
func ParseReference(ref string) (Reference, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return Reference{}, fmt.Errorf("secrets: invalid reference: %w", err)
	}
	if u.Scheme != "secret" && u.Scheme != "sm" {
		return Reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return Reference{}, errors.New("secrets: reference has no secret name")
	}
	q := u.Query()
	version := strings.TrimSpace(q.Get("version"))
	if version == "" {
		version = "latest"
	}
	return Reference{Name: name, Project: strings.TrimSpace(q.Get("project")), Version: version}, nil
}

type cached struct {
	value     string
	expiresAt time.Time
}

// Fetcher resolves references with a TTL cache. When Secret Manager is unreachable or
// denies access, values from an optional KEY=VALUE fallback file are used instead.
type Fetcher struct {
	client    accessor
	owns      bool
	project   string
	ttl       time.Duration
	now       func() time.Time
	logger    *zap.Logger
	retry     []gax.CallOption
	lookups   metric.Int64Counter
	fallback  map[string]string
	fallbackP string

	mu    sync.Mutex
	cache map[string]cached
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithCacheTTL overrides how long resolved values are cached.
func WithCacheTTL(ttl time.Duration) Option {
	return func(f *Fetcher) {
		if ttl > 0 {
			f.ttl = ttl
		}
	}
}

// WithFallbackFile names a KEY=VALUE file consulted when Secret Manager is unavailable.
func WithFallbackFile(path string) Option {
	return func(f *Fetcher) { f.fallbackP = strings.TrimSpace(path) }
}

// WithClock injects a clock.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) {
		if now != nil {
			f.now = now
		}
	}
}

func withAccessor(client accessor) Option {
	return func(f *Fetcher) { f.client = client }
}

// NewFetcher builds a Fetcher for project. A Secret Manager client is created unless one is injected.
func NewFetcher(ctx context.Context, project string, opts []Option, clientOpts ...option.ClientOption) (*Fetcher, error) {
	f := &Fetcher{
		project: strings.TrimSpace(project),
		ttl:     defaultCacheTTL,
		now:     time.Now,
		logger:  zap.NewNop(),
		cache:   make(map[string]cached),
		retry: []gax.CallOption{
			gax.WithRetry(func() gax.Retryer {
				return gax.OnCodes([]codes.Code{codes.Unavailable, codes.DeadlineExceeded}, gax.Backoff{
					Initial:    100 * time.Millisecond,
					Max:        2 * time.Second,
					Multiplier: 2,
				})
			}),
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}

	counter, err := otel.Meter("github.com/storefront/api/internal/platform/secrets").
		Int64Counter("secrets.lookups", metric.WithDescription("Secret resolutions by source"))
	if err == nil {
		f.lookups = counter
	}

	if f.fallbackP != "" {
		values, err := readFallbackFile(f.fallbackP)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("secrets: read fallback file: %w", err)
		}
		f.fallback = values
	}

	if f.client == nil {
		client, err := secretmanager.NewClient(ctx, clientOpts...)
		if err != nil {
			if f.fallback == nil {
				return nil, fmt.Errorf("secrets: create secret manager client: %w", err)
			}
			f.logger.Warn("secret manager unavailable, using fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.owns = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the Fetcher created it.
func (f *Fetcher) Close() error {
	if f.owns && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret implements config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	parsed, err := ParseReference(ref)
	if err != nil {
		return "", err
	}
	key := parsed.resourceName(f.project)

	f.mu.Lock()
	entry, ok := f.cache[key]
	f.mu.Unlock()
	if ok && f.now().Before(entry.expiresAt) {
		f.count(ctx, "cache")
		return entry.value, nil
	}

	value, source, err := f.fetch(ctx, parsed, key)
	if err != nil {
		return "", err
	}
	f.count(ctx, source)

	f.mu.Lock()
	f.cache[key] = cached{value: value, expiresAt: f.now().Add(f.ttl)}
	f.mu.Unlock()
	return value, nil
}

// Invalidate drops every cached value so the next resolution reaches Secret Manager.
func (f *Fetcher) Invalidate() {
	f.mu.Lock()
	f.cache = make(map[string]cached)
	f.mu.Unlock()
}

func (f *Fetcher) fetch(ctx context.Context, ref Reference, resource string) (string, string, error) {
	if f.client == nil {
		return f.fromFallback(ref)
	}
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource}, f.retry...)
	if err == nil {
		return string(resp.GetPayload().GetData()), "secret_manager", nil
	}
	switch status.Code(err) {
	case codes.NotFound:
		return "", "", fmt.Errorf("%w: %s", ErrNotFound, ref.Name)
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		if value, source, ferr := f.fromFallback(ref); ferr == nil {
			f.logger.Warn("secret manager access failed, using fallback", zap.String("secret", ref.Name), zap.Error(err))
			return value, source, nil
		}
	}
	return "", "", fmt.Errorf("secrets: access %s: %w", ref.Name, err)
}

func (f *Fetcher) fromFallback(ref Reference) (string, string, error) {
	if value, ok := f.fallback[ref.Name]; ok {
		return value, "fallback", nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrNotFound, ref.Name)
}

func (f *Fetcher) count(ctx context.Context, source string) {
	if f.lookups != nil {
		f.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
	}
}

func (r Reference) resourceName(defaultProject string) string {
	if strings.HasPrefix(r.Name, "projects/") {
		if strings.Contains(r.Name, "/versions/") {
			return r.Name
		}
		return r.Name + "/versions/" + r.Version
	}
	project := r.Project
	if project == "" {
		project = defaultProject
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, r.Name, r.Version)
}

// readFallbackFile parses KEY=VALUE lines. Blank lines and # comments are skipped.
func readFallbackFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"`)
	}
	return values, scanner.Err()
}
