package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gallery/pkg/access"
	"github.com/ekaya-inc/ekaya-gallery/pkg/artifacts"
	"github.com/ekaya-inc/ekaya-gallery/pkg/config"
	"github.com/ekaya-inc/ekaya-gallery/pkg/database"
	"github.com/ekaya-inc/ekaya-gallery/pkg/handlers"
	"github.com/ekaya-inc/ekaya-gallery/pkg/logging"
	"github.com/ekaya-inc/ekaya-gallery/pkg/middleware"
	"github.com/ekaya-inc/ekaya-gallery/pkg/repositories"
	"github.com/ekaya-inc/ekaya-gallery/pkg/retry"
	"github.com/ekaya-inc/ekaya-gallery/pkg/search"
	"github.com/ekaya-inc/ekaya-gallery/pkg/services"
	"github.com/ekaya-inc/ekaya-gallery/pkg/wordcloud"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.String("error", logging.SanitizeError(err)))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connStr := cfg.Database.ConnectionString()
	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(connStr)),
		zap.String("redis", cfg.Redis.Addr()),
		zap.String("search_index", cfg.Search.IndexPath),
		zap.String("artifacts_dir", cfg.Artifacts.Dir),
	)

	db, err := retry.DoIfRetryable(ctx, retry.StartupConfig(), func() (*database.DB, error) {
		conn, err := database.NewConnection(ctx, &database.Config{
			URL:            connStr,
			MaxConnections: cfg.Database.MaxConnections,
		})
		if err != nil {
			logger.Warn("Database not ready", zap.String("error", logging.SanitizeError(err)))
		}
		return conn, err
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.MigrateFromPool(db, cfg.Database.MigrationsPath, logger); err != nil {
		return err
	}

	redisClient, err := retry.DoIfRetryable(ctx, retry.StartupConfig(), func() (*redis.Client, error) {
		return database.NewRedisClient(ctx, &cfg.Redis)
	})
	if err != nil {
		return err
	}
	var lease services.Lease = services.NopLease{}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		lease = services.NewRedisLease(redisClient, cfg.Artifacts.LeaseTTL, logger)
	} else {
		logger.Info("Redis not configured; artifact regeneration is deduplicated in-process only")
	}

	index, err := search.Open(ctx, cfg.Search.IndexPath, logger)
	if err != nil {
		return err
	}
	defer func() { _ = index.Close() }()

	store, err := artifacts.NewStore(cfg.Artifacts.Dir)
	if err != nil {
		return err
	}
	generator, err := wordcloud.NewGenerator(wordcloud.Options{LinkPrefix: "/api/notebooks?q="})
	if err != nil {
		return err
	}

	// Repositories
	notebookRepo := repositories.NewNotebookRepository()
	summaryRepo := repositories.NewSummaryRepository()
	clickRepo := repositories.NewClickRepository()
	executionRepo := repositories.NewExecutionRepository()
	codeCellRepo := repositories.NewCodeCellRepository()
	similarityRepo := repositories.NewSimilarityRepository()
	suggestionRepo := repositories.NewSuggestionRepository()
	keywordRepo := repositories.NewKeywordRepository()

	// Services
	withScope := database.NewScopeFunc(db)
	builder := access.NewBuilder()

	indexService := services.NewIndexService(withScope, notebookRepo, summaryRepo, index, logger)
	accessService := services.NewAccessService(withScope, builder, notebookRepo, logger)
	metrics := services.NewMetricsAggregator(withScope, summaryRepo, clickRepo, executionRepo, notebookRepo,
		index, cfg.Health, services.DefaultRecomputeConcurrency, logger)
	fingerprints := services.NewFingerprintService(withScope, notebookRepo, codeCellRepo, similarityRepo, indexService,
		cfg.Fingerprint.FuzzyThreshold, logger)
	cache := services.NewArtifactCache(store, generator, lease, services.ArtifactCacheConfig{
		TTL:               cfg.Artifacts.TTL,
		GenerationTimeout: cfg.Artifacts.GenerationTimeout,
	}, logger)
	retrieval := services.NewRetrievalService(withScope, builder, notebookRepo, similarityRepo, suggestionRepo,
		index, cfg.Ranking, cfg.Search.PageSize, logger)
	notebooks := services.NewNotebookService(withScope, notebookRepo, keywordRepo, clickRepo, executionRepo,
		cache, indexService, logger)

	// The index is derived data; rebuild it in the background so a fresh or
	// stale index file catches up without delaying startup.
	go func() {
		var n int
		err := retry.Do(ctx, retry.StartupConfig(), func() error {
			var err error
			n, err = indexService.Rebuild(ctx)
			return err
		})
		if err != nil {
			logger.Error("Search index rebuild failed", zap.Int("indexed", n), zap.String("error", logging.SanitizeError(err)))
			return
		}
		logger.Info("Search index rebuilt", zap.Int("indexed", n))
	}()

	// Handlers
	mux := http.NewServeMux()

	checks := map[string]handlers.HealthCheck{
		"database":     db.Ping,
		"search_index": index.Ping,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	handlers.NewHealthHandler(cfg, checks, logger).RegisterRoutes(mux)

	notebooksHandler := handlers.NewNotebooksHandler(retrieval, accessService, metrics, fingerprints, notebooks, logger)
	notebooksHandler.RegisterRoutes(mux, database.WithScope(db, logger))

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-gallery", zap.String("addr", server.Addr), zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
