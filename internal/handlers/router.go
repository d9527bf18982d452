package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/storefront/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// Zone is an access tier. Every route group in a zone runs the zone's middleware chain.
type Zone int

const (
	ZoneShopper Zone = iota
	ZoneAdmin
	ZoneWebhook
	ZoneInternal
)

// Route group prefixes under /api/v1.
const (
	PrefixMe       = "/me"
	PrefixCart     = "/cart"
	PrefixOrders   = "/orders"
	PrefixPayments = "/payments"
	PrefixAdmin    = "/admin"
	PrefixWebhooks = "/webhooks"
	PrefixInternal = "/internal"
)

const (
	apiBasePath    = "/api/v1"
	requestTimeout = 60 * time.Second
)

type group struct {
	prefix string
	zone   Zone
	routes RouteRegistrar
}

type routerConfig struct {
	global []func(http.Handler) http.Handler
	zones  map[Zone][]func(http.Handler) http.Handler
	groups []group
	health *HealthHandlers
}

// Option customises NewRouter.
type Option func(*routerConfig)

// WithMiddlewares appends middleware run for every request, health probes included.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.global = append(cfg.global, mw...) }
}

// WithHealthHandlers serves /healthz and /readyz from h.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithZoneMiddlewares appends middleware to every group in zone. Authentication belongs
// here, ahead of anything that reads the caller identity.
func WithZoneMiddlewares(zone Zone, mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.zones[zone] = append(cfg.zones[zone], mw...) }
}

// WithRoutes mounts routes under prefix. The zone of a known prefix is fixed; zone only
// applies to prefixes outside the storefront surface.
func WithRoutes(prefix string, zone Zone, routes RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		for i := range cfg.groups {
			if cfg.groups[i].prefix == prefix {
				cfg.groups[i].routes = routes
				return
			}
		}
		cfg.groups = append(cfg.groups, group{prefix: prefix, zone: zone, routes: routes})
	}
}

// NewRouter builds the chi router. Storefront groups that nobody registered answer 501 so
// clients can tell a disabled surface from a mistyped path.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		global: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(requestTimeout),
		},
		zones: make(map[Zone][]func(http.Handler) http.Handler),
		groups: []group{
			{prefix: PrefixMe, zone: ZoneShopper},
			{prefix: PrefixCart, zone: ZoneShopper},
			{prefix: PrefixOrders, zone: ZoneShopper},
			{prefix: PrefixPayments, zone: ZoneShopper},
			{prefix: PrefixAdmin, zone: ZoneAdmin},
			{prefix: PrefixWebhooks, zone: ZoneWebhook},
			{prefix: PrefixInternal, zone: ZoneInternal},
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers(nil)
	}

	r := chi.NewRouter()
	for _, mw := range cfg.global {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("%s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiBasePath, func(api chi.Router) {
		for _, g := range cfg.groups {
			api.Route(g.prefix, func(sub chi.Router) {
				for _, mw := range cfg.zones[g.zone] {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if g.routes == nil {
					notImplemented(sub, g.prefix)
					return
				}
				g.routes(sub)
			})
		}
	})
	return r
}

func notImplemented(r chi.Router, prefix string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", prefix+" routes are not enabled", http.StatusNotImplemented))
	}
	r.HandleFunc("/", handler)
	r.HandleFunc("/*", handler)
}
