package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SscSPs/mma_exchange/internal/adapters/ecb"
	portsrepo "github.com/SscSPs/mma_exchange/internal/core/ports/repositories"
	"github.com/SscSPs/mma_exchange/internal/core/services"
	"github.com/SscSPs/mma_exchange/internal/handlers"
	"github.com/SscSPs/mma_exchange/internal/middleware"
	"github.com/SscSPs/mma_exchange/internal/platform/config"
	"github.com/SscSPs/mma_exchange/internal/repositories/database/pgsql"
	"github.com/SscSPs/mma_exchange/internal/repositories/filecache"
	"github.com/SscSPs/mma_exchange/pkg/database"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Exchange service stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	repos, closeRepos, err := setupRepositories(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepos()

	source := ecb.NewLoggingSource(logger, ecb.NewClient(
		ecb.WithBaseURL(cfg.ECBBaseURL),
		ecb.WithTimeout(cfg.ECBHTTPTimeout),
		ecb.WithMaxRetries(cfg.ECBMaxRetries),
	))

	logger.Info("Initializing exchange engine", slog.String("rate_cache", cfg.RateCache))
	container, engine, err := services.NewServiceContainer(ctx, cfg, source, repos, logger)
	if err != nil {
		return err
	}
	go services.RunReloadLoop(ctx, engine, cfg.RefreshInterval, logger)

	if cfg.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	limiterInstance, err := middleware.NewRateLimiter(cfg.RateLimit)
	if err != nil {
		return err
	}

	r := gin.New()

	// Global middleware (logging, recovery, CORS, rate limiting)
	r.Use(
		middleware.StructuredLoggingMiddleware(logger),
		gin.Recovery(),
		middleware.CORS(cfg.CORSAllowedOrigins),
		middleware.RateLimit(limiterInstance),
	)

	if err := r.SetTrustedProxies(nil); err != nil {
		return err
	}

	if err := handlers.RegisterRoutes(r, cfg, container); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// setupRepositories opens the configured rate cache. The returned func releases its resources.
func setupRepositories(ctx context.Context, cfg *config.Config, logger *slog.Logger) (portsrepo.RepositoryProvider, func(), error) {
	switch cfg.RateCache {
	case config.RateCachePostgres:
		dbPool, err := database.NewPgxPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return portsrepo.RepositoryProvider{}, nil, err
		}
		if err := database.RunMigrations(cfg.DatabaseURL, "file://migrations", logger); err != nil {
			database.ClosePgxPool(dbPool)
			return portsrepo.RepositoryProvider{}, nil, err
		}
		return pgsql.NewRepositoryProvider(dbPool), func() { database.ClosePgxPool(dbPool) }, nil
	default:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return portsrepo.RepositoryProvider{}, nil, err
		}
		logger.Info("Using file rate cache", slog.String("dir", cfg.DataDir))
		return filecache.NewRepositoryProvider(cfg.DataDir), func() {}, nil
	}
}
