package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/dentprep/exam-service/internal/ai"
	"github.com/dentprep/exam-service/internal/cache"
	"github.com/dentprep/exam-service/internal/config"
	"github.com/dentprep/exam-service/internal/events"
	"github.com/dentprep/exam-service/internal/handlers"
	"github.com/dentprep/exam-service/internal/jobs"
	"github.com/dentprep/exam-service/internal/observability"
	"github.com/dentprep/exam-service/internal/repositories/casdoor"
	"github.com/dentprep/exam-service/internal/repositories/postgres"
	"github.com/dentprep/exam-service/internal/services"
	"github.com/dentprep/exam-service/internal/storage"
	"github.com/dentprep/exam-service/internal/utils"
	"github.com/dentprep/exam-service/internal/validator"
	"github.com/dentprep/exam-service/pkg"
)

const (
	shutdownTimeout    = 30 * time.Second
	expireStaleEvery   = time.Minute
	eventRouterStartup = 10 * time.Second
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})).With("service", cfg.ServiceName)
	slog.SetDefault(slogLogger)
	logger := utils.NewSlogLogger(slogLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := observability.InitTracing(ctx, cfg, slogLogger)

	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Redis is optional: caches, leaderboards and XP dedupe degrade without it
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = pkg.NewRedisClient(cfg)
		if err != nil {
			logger.Warn("Redis unavailable, continuing without it", "error", err)
			redisClient = nil
		}
	}

	repoManager := postgres.NewRepositoryManager(postgres.RepositoryConfig{
		DB:          db,
		RedisClient: redisClient,
		CasdoorConfig: casdoor.CasdoorConfig{
			Endpoint:         cfg.Casdoor.Endpoint,
			ClientID:         cfg.Casdoor.ClientID,
			ClientSecret:     cfg.Casdoor.ClientSecret,
			Certificate:      cfg.Casdoor.Cert,
			OrganizationName: cfg.Casdoor.Organization,
			ApplicationName:  cfg.Casdoor.Application,
		},
	})
	if err := repoManager.Initialize(); err != nil {
		log.Fatalf("Failed to initialize repositories: %v", err)
	}
	repo := repoManager.GetRepository()

	store, err := newObjectStore(ctx, cfg, slogLogger)
	if err != nil {
		log.Fatalf("Failed to initialize object storage: %v", err)
	}

	aiClient, err := newAIClient(cfg, slogLogger)
	if err != nil {
		log.Fatalf("Failed to initialize AI client: %v", err)
	}

	wmPublisher, wmSubscriber, err := events.NewPubSub(cfg.Kafka, slogLogger)
	if err != nil {
		log.Fatalf("Failed to initialize event bus: %v", err)
	}
	publisher := events.NewWatermillPublisher(wmPublisher, slogLogger)

	validate := validator.New()
	serviceManager := services.NewServiceManager(services.Dependencies{
		DB:        db,
		Repo:      repo,
		Logger:    slogLogger,
		Validator: validate,
		Publisher: publisher,
		Store:     store,
		Generator: ai.NewGenerator(aiClient),
		Cache:     cache.NewCacheManager(redisClient),
		Config:    cfg,
	})
	if err := serviceManager.Initialize(ctx); err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}

	// Background work: generation jobs and session expiry
	pool := jobs.NewPool(repo.Generation(), jobs.ConfigFrom(cfg.Worker), slogLogger)
	for kind, handler := range serviceManager.Generation().Handlers() {
		pool.Register(kind, handler)
	}
	pool.Every("expire_stale_sessions", expireStaleEvery, func(ctx context.Context) error {
		n, err := serviceManager.Quiz().ExpireStale(ctx)
		if err == nil && n > 0 {
			logger.Info("Expired stale quiz sessions", "count", n)
		}
		return err
	})

	eventRouter, err := events.NewRouter(wmSubscriber, slogLogger)
	if err != nil {
		log.Fatalf("Failed to initialize event router: %v", err)
	}
	eventRouter.Handle("progress_on_quiz_completed", events.TopicQuizCompleted, serviceManager.Progress().HandleQuizCompleted)
	eventRouter.Handle("worker_on_generation_requested", events.TopicGenerationRequested, func(ctx context.Context, _ *events.Event) error {
		pool.Notify()
		return nil
	})

	go func() {
		if err := eventRouter.Run(ctx); err != nil {
			logger.Error("Event router stopped", "error", err)
		}
	}()
	select {
	case <-eventRouter.Running():
	case <-time.After(eventRouterStartup):
		logger.Warn("Event router not running yet, continuing")
	}

	pool.Start(ctx)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	handlers.SetupMiddleware(router, handlers.MiddlewareConfig{
		ServiceName: tracingServiceName(cfg),
		CORSOrigins: cfg.CORSOrigins,
	}, logger)

	authMiddleware := handlers.NewCasdoorAuthMiddleware(cfg.Casdoor, repo.User())
	handlerManager := handlers.NewHandlerManager(serviceManager, validate, authMiddleware, repo.User(), handlers.RouterOptions{
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		ServiceName:    cfg.ServiceName,
		Version:        cfg.Version,
	}, logger)
	handlerManager.SetupRoutes(router)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting server", "port", cfg.Port, "environment", cfg.Environment, "version", cfg.Version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// ctx is already cancelled, so the workers are draining
	pool.Wait()

	if err := eventRouter.Close(); err != nil {
		logger.Error("Failed to close event router", "error", err)
	}
	if err := serviceManager.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown services", "error", err)
	}
	// Closes the database pool and the redis client
	if err := repoManager.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to close repositories", "error", err)
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close object storage", "error", err)
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("Failed to flush traces", "error", err)
	}

	logger.Info("Server exited")
}

// newObjectStore uses the GCS bucket when one is configured and keeps
// documents in memory otherwise.
func newObjectStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.ObjectStore, error) {
	if cfg.Storage.Bucket == "" {
		logger.Warn("GCS_BUCKET not set, documents are kept in memory")
		return storage.NewMemoryStore(), nil
	}
	return storage.NewGCSStore(ctx, cfg.Storage.Bucket, cfg.Storage.CredentialsFile, logger)
}

// newAIClient uses the OpenAI-compatible API when a key is configured and the
// offline static client otherwise.
func newAIClient(cfg *config.Config, logger *slog.Logger) (ai.Client, error) {
	if cfg.AI.APIKey == "" {
		logger.Warn("OPENAI_API_KEY not set, using the static generator")
		return ai.NewStaticClient(), nil
	}
	return ai.NewOpenAIClient(cfg.AI, logger)
}

func tracingServiceName(cfg *config.Config) string {
	if !cfg.Tracing.Enabled {
		return ""
	}
	return cfg.ServiceName
}
