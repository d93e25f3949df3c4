package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/open-wander/tally/internal/cache"
	"github.com/open-wander/tally/internal/config"
	"github.com/open-wander/tally/internal/db"
	"github.com/open-wander/tally/internal/logger"
	"github.com/open-wander/tally/internal/metrics"
	"github.com/open-wander/tally/internal/server"
	"github.com/open-wander/tally/internal/service"
	"github.com/open-wander/tally/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("tally stopped", zap.Error(err))
	}
	log.Info("shutdown complete")
}

// newCacheStore connects the report cache. Caching is optional, so an
// unreachable Redis degrades to the no-op store instead of failing startup.
func newCacheStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (cache.Store, func()) {
	if cfg.RedisAddr == "" {
		log.Warn("TALLY_REDIS_ADDR not set, report caching disabled")
		return cache.NopStore{}, func() {}
	}
	rs, err := cache.NewRedisStore(ctx, cache.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, log)
	if err != nil {
		log.Warn("redis unavailable, report caching disabled", zap.Error(err))
		return cache.NopStore{}, func() {}
	}
	return rs, func() { rs.Close() }
}

func run(cfg *config.Config, log *zap.Logger) error {
	// Setup shutdown signal handler
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	events, err := db.Open(startCtx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer events.Close()
	log.Info("event store ready", zap.String("driver", cfg.DBDriver), zap.String("dialect", events.Dialect.Name()))

	m := metrics.NewCollector()

	cacheStore, closeCache := newCacheStore(startCtx, cfg, log)
	defer closeCache()
	gw := cache.New(cacheStore, cfg.CachePrefix, log, m)

	queries := store.New(events)
	svc := service.New(queries, queries, cfg.Tenants, gw, log, m, service.Options{
		SummaryTTL:   cfg.SummaryCacheTTL,
		SeriesTTL:    cfg.SeriesCacheTTL,
		QueryTimeout: cfg.QueryTimeout,
	})

	srv, err := server.New(cfg, svc, events, log, m)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	// Start server in goroutine (since it blocks)
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}
	return nil
}
