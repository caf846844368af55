package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"badgeforge/internal/cache"
	"badgeforge/internal/config"
	"badgeforge/internal/database"
	"badgeforge/internal/events"
	"badgeforge/internal/handlers"
	"badgeforge/internal/repositories"
	"badgeforge/internal/services"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting badge worker",
		zap.String("environment", cfg.Server.Environment),
		zap.String("port", cfg.Server.Port),
	)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Worker exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// Database
	dbManager, err := database.NewManager(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("database initialization failed: %w", err)
	}
	defer dbManager.Close()

	if cfg.Database.RunMigrations {
		if err := dbManager.Migrate(cfg.Database.MigrationsPath); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	// Catalog cache: optional, the worker runs without it
	var catalogCache *cache.CatalogCache
	if cfg.Redis.Enabled {
		catalogCache, err = cache.NewCatalogCache(&cfg.Redis, logger)
		if err != nil {
			logger.Warn("Catalog cache unavailable, continuing without it", zap.Error(err))
			catalogCache = nil
		} else {
			defer catalogCache.Close()
		}
	}

	// Event bus
	bus := events.NewEventBus(&events.EventBusConfig{
		BufferSize:     cfg.Engine.QueueBufferSize,
		WorkerCount:    cfg.Engine.WorkerCount,
		HandlerTimeout: cfg.Engine.TemplateTimeout * 2,
	}, logger)

	// Repositories and the evaluation dispatcher
	catalog := repositories.NewBadgeRepository(dbManager, catalogCache, logger)
	ledger := repositories.NewCompletionRepository(dbManager, logger)
	store := repositories.NewEarnedBadgeRepository(dbManager, logger)
	badgeService := services.NewBadgeService(catalog, ledger, store, bus, &cfg.Engine, logger)

	if err := services.RegisterCompletionHandler(bus, badgeService, logger); err != nil {
		return fmt.Errorf("failed to subscribe badge evaluation handler: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}

	// Health + read-only dashboard surface
	checks := map[string]handlers.HealthChecker{
		"database": handlers.HealthFunc(dbManager.Health),
		"eventbus": handlers.HealthFunc(func(context.Context) error { return bus.Health() }),
	}
	if catalogCache != nil {
		checks["cache"] = handlers.HealthFunc(catalogCache.Health)
	}

	handler := handlers.NewBadgeHandler(badgeService, checks, logger)
	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	// Graceful shutdown: stop accepting HTTP, then drain the bus so every
	// in-flight evaluation completes before the process exits.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", zap.Error(err))
	}
	if err := bus.Stop(shutdownCtx); err != nil {
		logger.Warn("Event bus drain failed", zap.Error(err))
	}

	logger.Info("Worker stopped")
	return nil
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}

	var zapCfg zap.Config
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = level
	zapCfg.Encoding = cfg.Logging.Format

	return zapCfg.Build()
}
