package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/storefront/api/internal/di"
	"github.com/storefront/api/internal/handlers"
	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/cache"
	"github.com/storefront/api/internal/platform/config"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/platform/health"
	"github.com/storefront/api/internal/platform/idempotency"
	"github.com/storefront/api/internal/platform/jobs"
	"github.com/storefront/api/internal/platform/observability"
	"github.com/storefront/api/internal/platform/requestctx"
	"github.com/storefront/api/internal/platform/secrets"
)

func main() {
	ctx := context.Background()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues["API_LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = requestctx.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	var checks []health.Check

	var firestoreProvider *pfirestore.Provider
	if cfg.Persistence == config.PersistenceFirestore {
		firestoreProvider = pfirestore.NewProvider(cfg.Firestore, firestoreClientOptions(cfg)...)
		firestoreClient, err := firestoreProvider.Client(ctx)
		if err != nil {
			logger.Fatal("failed to initialise firestore client", zap.Error(err))
		}
		checks = append(checks, health.Check{Name: "firestore", Probe: firestoreProbe(firestoreClient)})
	}

	registry, err := di.NewRegistry(cfg, firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}
	logger.Info("repositories ready", zap.String("persistence", cfg.Persistence))

	infra := di.Infrastructure{
		Logger: logger,
	}

	if addr := strings.TrimSpace(cfg.Cache.RedisAddr); addr != "" {
		redisClient := cache.NewRedisClient(addr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		priceCache, err := cache.NewProductPriceCache(cache.ProductPriceCacheDeps{
			Next:   registry.Products(),
			Client: redisClient,
			TTL:    cfg.Cache.PriceTTL,
			Logger: observability.EventLogger(logger.Named("cache")),
		})
		if err != nil {
			logger.Fatal("failed to initialise product price cache", zap.Error(err))
		}
		infra.CartProducts = priceCache
		checks = append(checks, health.Check{Name: "redis", Probe: redisProbe(redisClient)})
	}

	if topicName := strings.TrimSpace(cfg.PubSub.OrderEventsTopic); topicName != "" && cfg.PubSub.ProjectID != "" {
		if host := strings.TrimSpace(cfg.PubSub.EmulatorHost); host != "" && os.Getenv("PUBSUB_EMULATOR_HOST") == "" {
			_ = os.Setenv("PUBSUB_EMULATOR_HOST", host)
		}
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		topic := pubsubClient.Topic(topicName)
		defer func() {
			topic.Stop()
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		infra.Events = publisher
		checks = append(checks, health.Check{Name: "pubsub", Probe: topicProbe(topic)})
	} else {
		logger.Warn("order events: pubsub project or topic not configured; events are not published")
	}

	var webhookParser handlers.NotificationParser
	if apiKey := strings.TrimSpace(cfg.PSP.StripeAPIKey); apiKey != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: apiKey,
			Logger: observability.EventLogger(logger.Named("stripe")),
		})
		if err != nil {
			logger.Fatal("failed to initialise stripe provider", zap.Error(err))
		}
		manager, err := payments.NewManager(map[string]payments.Provider{"stripe": stripeProvider})
		if err != nil {
			logger.Fatal("failed to initialise payment manager", zap.Error(err))
		}
		gateway, err := payments.NewGateway(manager)
		if err != nil {
			logger.Fatal("failed to initialise payment gateway", zap.Error(err))
		}
		infra.Gateway = gateway
	} else {
		logger.Warn("payments: stripe api key not configured; intents are not created")
	}
	if secret := strings.TrimSpace(cfg.PSP.StripeWebhookSecret); secret != "" {
		verifier, err := payments.NewStripeWebhookVerifier(secret, 0)
		if err != nil {
			logger.Fatal("failed to initialise stripe webhook verifier", zap.Error(err))
		}
		webhookParser = verifier
	}

	container, err := di.NewContainer(cfg, registry, infra)
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
		if firestoreProvider != nil {
			if err := firestoreProvider.Close(closeCtx); err != nil {
				logger.Warn("firestore close error", zap.Error(err))
			}
		}
	}()
	svc := container.Services

	var idempotencyStore idempotency.Store
	if firestoreProvider != nil {
		store, err := idempotency.NewFirestoreStore(firestoreProvider, "")
		if err != nil {
			logger.Fatal("failed to initialise idempotency store", zap.Error(err))
		}
		idempotencyStore = store
	} else {
		idempotencyStore = idempotency.NewMemoryStore()
	}
	idempotencyMiddleware := idempotency.Middleware(idempotencyStore, idempotency.Options{
		Header: cfg.Idempotency.Header,
		TTL:    cfg.Idempotency.TTL,
	})

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		idempotency.RunSweeper(cleanupCtx, idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	}()

	var verifierOpts []auth.FirebaseOption
	if cfg.Firebase.CheckRevoked {
		verifierOpts = append(verifierOpts, auth.WithRevocationCheck())
	}
	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, verifierOpts...)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)
	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg)

	var prober *health.Prober
	if len(checks) > 0 {
		prober, err = health.NewProber(checks)
		if err != nil {
			logger.Fatal("failed to initialise health prober", zap.Error(err))
		}
	}

	addressHandlers := handlers.NewAddressHandlers(svc.Addresses)
	cartHandlers := handlers.NewCartHandlers(svc.Carts)
	orderHandlers := handlers.NewOrderHandlers(svc.Orders, svc.Status, svc.Payments)
	paymentHandlers := handlers.NewPaymentHandlers(svc.Payments)
	adminHandlers := handlers.NewAdminHandlers(svc.Status, svc.Orders)
	webhookHandlers := handlers.NewWebhookHandlers(svc.Payments, webhookParser)

	httpLogger := logger.Named("http")
	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware(traceProjectID(cfg)),
		observability.RequestLogger(httpLogger),
		observability.Recoverer,
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(prober)),
		handlers.WithZoneMiddlewares(handlers.ZoneShopper, authenticator.RequireFirebaseAuth(), idempotencyMiddleware),
		handlers.WithZoneMiddlewares(handlers.ZoneAdmin, authenticator.RequireFirebaseAuth(auth.RoleAdmin), idempotencyMiddleware),
		handlers.WithRoutes(handlers.PrefixMe, handlers.ZoneShopper, addressHandlers.Routes),
		handlers.WithRoutes(handlers.PrefixCart, handlers.ZoneShopper, cartHandlers.Routes),
		handlers.WithRoutes(handlers.PrefixOrders, handlers.ZoneShopper, orderHandlers.Routes),
		handlers.WithRoutes(handlers.PrefixPayments, handlers.ZoneShopper, paymentHandlers.Routes),
		handlers.WithRoutes(handlers.PrefixAdmin, handlers.ZoneAdmin, adminHandlers.Routes),
		handlers.WithRoutes(handlers.PrefixWebhooks, handlers.ZoneWebhook, webhookHandlers.Routes),
	}
	if oidcMiddleware != nil {
		opts = append(opts,
			handlers.WithZoneMiddlewares(handlers.ZoneInternal, oidcMiddleware, idempotencyMiddleware),
			handlers.WithRoutes(handlers.PrefixInternal, handlers.ZoneInternal, paymentHandlers.InternalRoutes),
		)
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := httpLogger.With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront api listening", zap.String("environment", cfg.Security.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes are disabled")
		return nil
	}

	jwks := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL)
	validator := auth.NewOIDCValidator(jwks, logger)
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func firestoreClientOptions(cfg config.Config) []pfirestore.ProviderOption {
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		return []pfirestore.ProviderOption{pfirestore.WithClientOptions(option.WithCredentialsFile(file))}
	}
	return nil
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("API_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	var clientOpts []option.ClientOption
	if file := lookup("API_FIREBASE_CREDENTIALS_FILE"); file != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(file))
	}
	return secrets.NewFetcher(ctx, project, opts, clientOpts...)
}

// requiredSecretNames lists the secrets that must resolve. Stripe keys are only required outside
// local development so the API can run against the memory backend without a PSP.
func requiredSecretNames(env map[string]string) []string {
	envLabel := strings.ToLower(strings.TrimSpace(env["API_SECURITY_ENVIRONMENT"]))
	if envLabel == "" || envLabel == "local" {
		return nil
	}
	required := []string{"PSP.StripeAPIKey", "PSP.StripeWebhookSecret"}
	if strings.TrimSpace(env["API_PSP_PAYPAL_CLIENT_ID"]) != "" {
		required = append(required, "PSP.PayPalSecret")
	}
	return required
}

func firestoreProbe(client *firestore.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		iter := client.Collection("products").Limit(1).Documents(ctx)
		defer iter.Stop()
		if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
			return err
		}
		return nil
	}
}

func redisProbe(client *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

func topicProbe(topic *pubsub.Topic) func(context.Context) error {
	return func(ctx context.Context) error {
		ok, err := topic.Exists(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("topic %s does not exist", topic.ID())
		}
		return nil
	}
}
