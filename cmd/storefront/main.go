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

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/KachiAlex/ojawaecommerce-sub002/internal/handlers"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/auth"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/config"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/cryptobox"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/events"
	pfirestore "github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/firestore"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/idempotency"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/observability"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/secrets"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/repositories"
	firestoreRepo "github.com/KachiAlex/ojawaecommerce-sub002/internal/repositories/firestore"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/repositories/memory"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/repositories/redisstore"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/services"
)

const (
	serviceName           = "ojawa-storefront"
	idempotencyCollection = "idempotency_keys"
	idempotencyRedisSpace = "ojawa:idem:"
	quoteRateLimit        = 60
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(observability.LoggerOptions{
		Service:     serviceName,
		Version:     buildVersion(envValues),
		Environment: strings.ToLower(strings.TrimSpace(envValues["OJAWA_SECURITY_ENVIRONMENT"])),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("storefront")
	ctx = observability.WithLogger(ctx, logger)

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
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets("CartCrypto.Passphrase"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := services.BuildInfo{
		Version:     buildVersion(envValues),
		CommitSHA:   buildCommit(envValues),
		Environment: cfg.Security.Environment,
		StartedAt:   startedAt,
	}

	sealer, err := cryptobox.New(cryptobox.Config{
		Pepper:     cfg.CartCrypto.Passphrase,
		Salt:       []byte(cfg.CartCrypto.Salt),
		Iterations: cfg.CartCrypto.Iterations,
	})
	if err != nil {
		logger.Fatal("failed to initialise cart encryption", zap.Error(err))
	}

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise cart backend", zap.String("backend", cfg.Persistence.Backend), zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := backend.close(closeCtx); err != nil {
			logger.Warn("cart backend close error", zap.Error(err))
		}
	}()

	publisher, stopPublisher, err := newItemAddedPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise cart event publisher", zap.Error(err))
	}
	defer stopPublisher()

	persistence, err := services.NewCartPersistence(services.CartPersistenceDeps{
		Slots:  backend.slots,
		Sealer: sealer,
		Logger: logger.Named("cart_persistence"),
	})
	if err != nil {
		logger.Fatal("failed to initialise cart persistence", zap.Error(err))
	}
	sessions, err := services.NewCartSessionRegistry(services.CartSessionDeps{
		Persistence: persistence,
		Publisher:   publisher,
		Logger:      logger.Named("cart"),
	})
	if err != nil {
		logger.Fatal("failed to initialise cart sessions", zap.Error(err))
	}

	policyService, err := services.NewPricingPolicyService(services.PricingPolicyServiceDeps{
		Policies:   backend.policies,
		Carriers:   backend.carriers,
		UnitOfWork: backend.uow,
		Logger:     logger.Named("pricing_policy"),
	})
	if err != nil {
		logger.Fatal("failed to initialise pricing policy service", zap.Error(err))
	}
	checkoutPricing, err := services.NewCheckoutPricingService(services.CheckoutPricingServiceDeps{
		Provider: policyService,
		Logger:   logger.Named("checkout_pricing"),
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout pricing service", zap.Error(err))
	}

	systemService, err := newSystemService(backend.checks, fetcher, buildInfo, sessions.Len)
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}

	authenticator, err := newAuthenticator(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}

	cartHandlers := handlers.NewCartHandlers(handlers.CartHandlersDeps{
		Scope: handlers.NewCartScope(sessions, handlers.GuestCookie{
			Name:   cfg.Security.GuestCookie,
			MaxAge: cfg.Security.GuestCookieMaxAge,
			Secure: cfg.Security.CookieSecure,
		}, logger.Named("cart_scope")),
		Pricing:     checkoutPricing,
		Auth:        authenticator,
		Idempotency: backend.idempotency,
		Currency:    cfg.Pricing.Currency,
		Locale:      cfg.Pricing.Locale,
		Logger:      logger.Named("cart_http"),
	})
	pricingHandlers := handlers.NewPricingHandlers(handlers.PricingHandlersDeps{
		Policies:    policyService,
		Auth:        authenticator,
		AdminRole:   cfg.Security.AdminRole,
		Currency:    cfg.Pricing.Currency,
		Locale:      cfg.Pricing.Locale,
		Logger:      logger.Named("pricing_http"),
		QuoteLimit:  quoteRateLimit,
		QuoteWindow: time.Minute,
	})

	janitorCtx, janitorCancel := context.WithCancel(context.Background())
	var janitorWG sync.WaitGroup
	janitorWG.Add(1)
	go func() {
		defer janitorWG.Done()
		runJanitor(janitorCtx, cfg.Persistence, sessions, backend.memoryKeys, logger.Named("janitor"))
	}()

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(buildInfo)}
	if systemService != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(systemService))
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithPricingRoutes(pricingHandlers.Routes),
		handlers.WithAdminRoutes(pricingHandlers.AdminRoutes),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("backend", cfg.Persistence.Backend))
	go func() {
		serverLogger.Info("ojawa storefront listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	janitorCancel()
	janitorWG.Wait()

	// Flushes pending cart writes before the slot backend is closed.
	if err := sessions.Close(shutdownCtx); err != nil {
		logger.Error("cart sessions did not flush", zap.Error(err))
	}
}

// cartBackend groups the repositories that share one storage backend.
type cartBackend struct {
	slots       repositories.CartSlotRepository
	policies    repositories.PricingPolicyRepository
	carriers    repositories.CarrierRepository
	uow         repositories.UnitOfWork
	idempotency idempotency.Store
	// memoryKeys is set when idempotency records live in process and need sweeping.
	memoryKeys *idempotency.MemoryStore
	checks     []repositories.DependencyCheck
	close      func(context.Context) error
}

func openBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (*cartBackend, error) {
	switch cfg.Persistence.Backend {
	case config.BackendRedis:
		return openRedisBackend(ctx, cfg, logger)
	case config.BackendFirestore:
		return openFirestoreBackend(ctx, cfg)
	default:
		keys := idempotency.NewMemoryStore()
		logger.Warn("cart slots are held in memory and will not survive a restart")
		return &cartBackend{
			slots:       memory.NewCartSlotRepository(),
			policies:    memory.NewPricingPolicyRepository(),
			carriers:    memory.NewCarrierRepository(),
			idempotency: keys,
			memoryKeys:  keys,
			close:       func(context.Context) error { return nil },
		}, nil
	}
}

func openRedisBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (*cartBackend, error) {
	client, err := redisstore.Connect(ctx, &redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, cfg.Redis.ConnectAttempts, cfg.Redis.ConnectBackoff)
	if err != nil {
		return nil, err
	}
	slots, err := redisstore.NewCartSlotRepository(client,
		redisstore.WithTTL(cfg.Persistence.SlotTTL),
		redisstore.WithKeyPrefix(cfg.Persistence.SlotKeyPrefix),
	)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	keys, err := idempotency.NewRedisStore(client, idempotencyRedisSpace)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	logger.Info("pricing policy is held in memory; admin updates apply to this instance only")
	return &cartBackend{
		slots:       slots,
		policies:    memory.NewPricingPolicyRepository(),
		carriers:    memory.NewCarrierRepository(),
		idempotency: keys,
		checks: []repositories.DependencyCheck{{
			Name:     "redis",
			Timeout:  time.Second,
			Critical: true,
			Check:    slots.Ping,
		}},
		close: func(context.Context) error { return client.Close() },
	}, nil
}

func openFirestoreBackend(ctx context.Context, cfg config.Config) (*cartBackend, error) {
	var opts []pfirestore.ProviderOption
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		opts = append(opts, pfirestore.WithClientOptions(option.WithCredentialsFile(file)))
	}
	provider := pfirestore.NewProvider(cfg.Firestore, opts...)
	if _, err := provider.Client(ctx); err != nil {
		return nil, err
	}

	checks := []repositories.DependencyCheck{{
		Name:     "firestore",
		Timeout:  1500 * time.Millisecond,
		Critical: true,
		Check:    provider.Ping,
	}}
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		_ = provider.Close(ctx)
		return nil, err
	}
	registry, err := firestoreRepo.NewRegistry(firestoreRepo.RegistryDeps{
		Provider: provider,
		Health:   health,
		SlotOpts: []firestoreRepo.CartSlotOption{firestoreRepo.WithSlotTTL(cfg.Persistence.SlotTTL)},
	})
	if err != nil {
		_ = provider.Close(ctx)
		return nil, err
	}
	keys, err := idempotency.NewFirestoreStore(provider, idempotencyCollection)
	if err != nil {
		_ = registry.Close(ctx)
		return nil, err
	}
	return &cartBackend{
		slots:       registry.CartSlots(),
		policies:    registry.PricingPolicies(),
		carriers:    registry.Carriers(),
		uow:         registry,
		idempotency: keys,
		checks:      checks,
		close:       registry.Close,
	}, nil
}

// newItemAddedPublisher returns a nil publisher when no topic is configured.
func newItemAddedPublisher(ctx context.Context, cfg config.Config) (services.CartEventPublisher, func(), error) {
	topicName := strings.TrimSpace(cfg.PubSub.ItemAddedTopic)
	projectID := strings.TrimSpace(cfg.PubSub.ProjectID)
	if topicName == "" || projectID == "" {
		return nil, func() {}, nil
	}
	var opts []option.ClientOption
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		opts = append(opts, option.WithCredentialsFile(file))
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, nil, err
	}
	topic := client.Topic(topicName)
	topic.EnableMessageOrdering = true
	publisher, err := events.NewPubSubCartEventPublisher(topic)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return publisher, func() {
		publisher.Stop()
		_ = client.Close()
	}, nil
}

// newAuthenticator returns nil in guest-only mode, when no Firebase project is configured.
func newAuthenticator(ctx context.Context, cfg config.Config, logger *zap.Logger) (*auth.Authenticator, error) {
	if strings.TrimSpace(cfg.Firebase.ProjectID) == "" {
		logger.Warn("firebase project not configured; serving guest carts only")
		return nil, nil
	}
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		return nil, err
	}
	return auth.NewAuthenticator(verifier), nil
}

func runJanitor(ctx context.Context, cfg config.PersistenceConfig, sessions *services.CartSessionRegistry, keys *idempotency.MemoryStore, logger *zap.Logger) {
	ticker := time.NewTicker(cfg.EvictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if evicted := sessions.EvictIdle(cfg.SessionIdle); evicted > 0 {
				logger.Info("idle cart sessions evicted", zap.Int("count", evicted), zap.Int("live", sessions.Len()))
			}
			if keys != nil {
				if removed := keys.CleanupExpired(time.Now().UTC(), 0); removed > 0 {
					logger.Debug("idempotency records expired", zap.Int("count", removed))
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func newSystemService(checks []repositories.DependencyCheck, fetcher *secrets.Fetcher, build services.BuildInfo, liveSessions func() int) (services.SystemService, error) {
	all := append([]repositories.DependencyCheck(nil), checks...)
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		all = append(all, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if len(all) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	repo, err := repositories.NewDependencyHealthRepository(all)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Clock:            time.Now,
		Build:            build,
		LiveSessions:     liveSessions,
	})
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("OJAWA_SECRETS_PROJECT_ID")
	if project == "" {
		project = lookup("OJAWA_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("OJAWA_SECRETS_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if file := lookup("OJAWA_FIREBASE_CREDENTIALS_FILE"); file != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(file)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func buildVersion(env map[string]string) string {
	if v := strings.TrimSpace(env["OJAWA_BUILD_VERSION"]); v != "" {
		return v
	}
	return "dev"
}

func buildCommit(env map[string]string) string {
	if v := strings.TrimSpace(env["OJAWA_BUILD_COMMIT_SHA"]); v != "" {
		return v
	}
	return "unknown"
}
