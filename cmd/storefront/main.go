package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/bazaar-commerce/storefront/internal/checkout"
	"github.com/bazaar-commerce/storefront/internal/commerce"
	"github.com/bazaar-commerce/storefront/internal/events"
	"github.com/bazaar-commerce/storefront/internal/handlers"
	"github.com/bazaar-commerce/storefront/internal/platform/config"
	pfirestore "github.com/bazaar-commerce/storefront/internal/platform/firestore"
	"github.com/bazaar-commerce/storefront/internal/platform/observability"
	"github.com/bazaar-commerce/storefront/internal/platform/secrets"
	"github.com/bazaar-commerce/storefront/internal/resume"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("storefront")
	ctx = observability.WithLogger(ctx, logger)

	fetcher := secrets.NewFetcher(
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithDefaultProject(os.Getenv("STOREFRONT_FIRESTORE_PROJECT_ID")),
	)
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames()...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.Names()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	apiClient, err := commerce.NewClient(commerce.Config{
		BaseURL:     cfg.Commerce.BaseURL,
		APIKey:      cfg.Commerce.APIKey,
		Timeout:     cfg.Commerce.Timeout,
		BreakerName: "commerce",
	})
	if err != nil {
		logger.Fatal("failed to initialise commerce client", zap.Error(err))
	}

	markerStore, closeMarkers, err := newMarkerStore(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise resume marker store", zap.Error(err))
	}
	defer closeMarkers(logger)

	publisher, closePublisher, err := newEventPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise event publisher", zap.Error(err))
	}
	defer closePublisher(logger)

	hook := observability.CheckoutEventHook()

	quotes := checkout.NewPriceCalculationCache(checkout.PriceCacheDeps{TTL: cfg.Checkout.QuoteTTL})
	shipping, err := checkout.NewShippingMethodSelector(checkout.ShippingMethodSelectorDeps{
		API:    apiClient,
		Quotes: quotes,
		Logger: hook,
	})
	if err != nil {
		logger.Fatal("failed to initialise shipping selector", zap.Error(err))
	}

	sessions, err := checkout.NewPaymentSessionManager(checkout.PaymentSessionManagerDeps{
		API:      apiClient,
		Registry: checkout.NewPendingRequestRegistry(),
		Logger:   hook,
	})
	if err != nil {
		logger.Fatal("failed to initialise session manager", zap.Error(err))
	}

	placement, err := checkout.NewOrderPlacementCoordinator(checkout.OrderPlacementCoordinatorDeps{
		API:       apiClient,
		Resolver:  checkout.NewPaymentRedirectResolver(checkout.RedirectResolverDeps{Logger: hook}),
		Resume:    markerStore,
		Events:    publisher,
		Logger:    hook,
		MarkerTTL: cfg.Checkout.ResumeTTL,
	})
	if err != nil {
		logger.Fatal("failed to initialise placement coordinator", zap.Error(err))
	}

	orchestrator, err := checkout.NewOrchestrator(checkout.OrchestratorDeps{
		API:       apiClient,
		Shipping:  shipping,
		Sessions:  sessions,
		Placement: placement,
		Events:    publisher,
		Logger:    hook,
	})
	if err != nil {
		logger.Fatal("failed to initialise orchestrator", zap.Error(err))
	}

	checkoutHandlers := handlers.NewCheckoutHandlers(orchestrator, cfg.Checkout.DefaultLocale)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(startedAt)),
		handlers.WithHealthReadiness(commerceReadiness(cfg.Commerce.BaseURL)),
	)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(cfg.Trace.ProjectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(cfg.Trace.ProjectID),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
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

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront checkout listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// newMarkerStore prefers Firestore persistence and falls back to the in-memory
// store when no project is configured, which keeps local runs dependency free.
func newMarkerStore(ctx context.Context, cfg config.Config) (resume.Store, func(*zap.Logger), error) {
	if cfg.Firestore.ProjectID == "" && cfg.Firestore.EmulatorHost == "" {
		return resume.NewMemoryStore(), func(*zap.Logger) {}, nil
	}
	provider := pfirestore.NewProvider(cfg.Firestore)
	client, err := provider.Client(ctx)
	if err != nil {
		return nil, nil, err
	}
	store := resume.NewFirestoreStore(client, resume.WithCollection(cfg.Firestore.ResumeCollection))
	closeFn := func(logger *zap.Logger) {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}
	return store, closeFn, nil
}

// newEventPublisher wires the Pub/Sub topic when configured; otherwise events
// are dropped.
func newEventPublisher(ctx context.Context, cfg config.Config) (events.Publisher, func(*zap.Logger), error) {
	if cfg.PubSub.CheckoutTopic == "" {
		return events.NopPublisher{}, func(*zap.Logger) {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	topic := client.Topic(cfg.PubSub.CheckoutTopic)
	publisher, err := events.NewPubSubPublisher(topic)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	closeFn := func(logger *zap.Logger) {
		topic.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
	return publisher, closeFn, nil
}

// commerceReadiness reports the backend reachable when any HTTP response comes
// back; status classification is left to the request path.
func commerceReadiness(baseURL string) handlers.ReadinessCheck {
	client := &http.Client{Timeout: 3 * time.Second}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		return nil
	}
}

func requiredSecretNames() []string {
	value := strings.TrimSpace(os.Getenv("STOREFRONT_COMMERCE_API_KEY"))
	if strings.HasPrefix(value, "secret://") || strings.HasPrefix(value, "sm://") {
		return []string{"Commerce.APIKey"}
	}
	return nil
}

func buildInfoFromEnv(started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(os.Getenv("STOREFRONT_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("STOREFRONT_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(os.Getenv("STOREFRONT_ENVIRONMENT"))
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}
