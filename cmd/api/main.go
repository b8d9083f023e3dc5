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
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/sourcelane/api/internal/di"
	"github.com/sourcelane/api/internal/handlers"
	"github.com/sourcelane/api/internal/payments"
	"github.com/sourcelane/api/internal/platform/auth"
	"github.com/sourcelane/api/internal/platform/config"
	pfirestore "github.com/sourcelane/api/internal/platform/firestore"
	"github.com/sourcelane/api/internal/platform/idempotency"
	"github.com/sourcelane/api/internal/platform/jobs"
	"github.com/sourcelane/api/internal/platform/observability"
	"github.com/sourcelane/api/internal/platform/secrets"
	platformstorage "github.com/sourcelane/api/internal/platform/storage"
	"github.com/sourcelane/api/internal/repositories"
	firestoreRepo "github.com/sourcelane/api/internal/repositories/firestore"
	"github.com/sourcelane/api/internal/services"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

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
		config.WithRequiredSecrets("Stripe.APIKey", "Stripe.WebhookSecret"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.Notifications.ProjectID)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()
	notificationTopic := pubsubClient.Topic(cfg.Notifications.Topic)
	defer notificationTopic.Stop()

	publisher, err := jobs.NewPubSubNotificationPublisher(notificationTopic)
	if err != nil {
		logger.Fatal("failed to initialise notification publisher", zap.Error(err))
	}

	var objectStore services.ObjectStore
	if bucket := strings.TrimSpace(cfg.Storage.MediaBucket); bucket != "" {
		deleter, err := platformstorage.NewObjectDeleter(ctx, bucket, storageClientOptions(cfg))
		if err != nil {
			logger.Fatal("failed to initialise media object deleter", zap.Error(err))
		}
		defer func() {
			if err := deleter.Close(); err != nil {
				logger.Warn("media object deleter close error", zap.Error(err))
			}
		}()
		objectStore = deleter
	} else {
		logger.Warn("media bucket not configured; product media objects will be left behind on deletion")
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repository registry", zap.Error(err))
	}
	if health, err := newHealthRepository(firestoreClient, pubsubClient, cfg.Notifications.Topic); err != nil {
		logger.Warn("health probes unavailable", zap.Error(err))
	} else {
		registry = registry.WithHealth(health)
	}

	container, err := di.NewContainer(ctx, cfg, registry, di.Dependencies{
		Publisher: publisher,
		Objects:   objectStore,
		Logger:    zapEventLogger(logger.Named("services")),
	})
	if err != nil {
		logger.Fatal("failed to build service container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithUserGetter(firebaseVerifier))

	webhookDecoder, err := payments.NewWebhookDecoder(payments.WebhookDecoderDeps{
		SigningSecret: cfg.Stripe.WebhookSecret,
	})
	if err != nil {
		logger.Fatal("failed to initialise webhook decoder", zap.Error(err))
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	var backgroundWG sync.WaitGroup

	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker := time.NewTicker(cfg.Idempotency.CleanupInterval)
		backgroundWG.Add(1)
		go func() {
			defer backgroundWG.Done()
			defer cleanupTicker.Stop()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(backgroundCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-backgroundCtx.Done():
					return
				}
			}
		}()
	}

	// Stale processing claims are swept in-process; the /internal endpoint
	// remains available as a scheduler-driven fallback.
	if cfg.Requests.ClaimSweepInterval > 0 && container.Services.Requests != nil {
		sweepTicker := time.NewTicker(cfg.Requests.ClaimSweepInterval)
		backgroundWG.Add(1)
		go func() {
			defer backgroundWG.Done()
			defer sweepTicker.Stop()
			sweepLogger := logger.Named("claims")
			for {
				select {
				case <-sweepTicker.C:
					runCtx, cancel := context.WithTimeout(backgroundCtx, 30*time.Second)
					released, err := container.Services.Requests.ReleaseStaleClaims(runCtx)
					cancel()
					if err != nil {
						sweepLogger.Error("stale claim sweep error", zap.Error(err))
						continue
					}
					if released > 0 {
						sweepLogger.Info("released stale processing claims", zap.Int("count", released))
					}
				case <-backgroundCtx.Done():
					return
				}
			}
		}()
	}

	requestHandlers := handlers.NewRequestHandlers(authenticator, container.Services.Requests, container.Services.Deletion)
	notificationHandlers := handlers.NewNotificationHandlers(authenticator, container.Services.Notifications)
	adminHandlers := handlers.NewAdminHandlers(authenticator, container.Services.Requests, container.Services.Deletion)
	webhookHandlers := handlers.NewWebhookHandlers(webhookDecoder, container.Services.InvoiceSync)
	internalHandlers := handlers.NewInternalHandlers(container.Services.Requests)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthSystemService(container.Services.System),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
		idempotencyMiddleware,
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithRoutes(handlers.Routes{
			Requests:      requestHandlers.Routes,
			Notifications: notificationHandlers.Routes,
			Admin:         adminHandlers.Routes,
			Webhooks:      webhookHandlers.Routes,
			Internal:      internalHandlers.Routes,
		}),
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
		serverLogger.Info("sourcelane api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	backgroundCancel()
	backgroundWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func zapEventLogger(logger *zap.Logger) func(context.Context, string, map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Info(event, zFields...)
	}
}

func newHealthRepository(client *firestore.Client, pubsubClient *pubsub.Client, topicName string) (repositories.HealthRepository, error) {
	probes := make([]repositories.HealthProbe, 0, 2)
	if client != nil {
		c := client
		probes = append(probes, repositories.HealthProbe{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := c.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if pubsubClient != nil && strings.TrimSpace(topicName) != "" {
		p := pubsubClient
		name := topicName
		probes = append(probes, repositories.HealthProbe{
			Name:    "pubsub",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := p.Topic(name).Exists(ctx)
				return err
			},
		})
	}
	if len(probes) == 0 {
		return nil, errors.New("health: no dependency probes configured")
	}
	return repositories.NewProbeHealthRepository(probes)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func storageClientOptions(cfg config.Config) []option.ClientOption {
	if path := strings.TrimSpace(cfg.Firebase.CredentialsFile); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	envLabel := strings.ToLower(lookup("API_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}
