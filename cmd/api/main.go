package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/tynys-aq/telemetry/internal/cache"
	"github.com/tynys-aq/telemetry/internal/config"
	"github.com/tynys-aq/telemetry/internal/db"
	httpserver "github.com/tynys-aq/telemetry/internal/http"
	"github.com/tynys-aq/telemetry/internal/ingest"
	"github.com/tynys-aq/telemetry/internal/logger"
	"github.com/tynys-aq/telemetry/internal/query"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logg, err := logger.New(cfg.LogLevel, cfg.LogFormat, "telemetry-api")
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer logg.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logg.Fatal("db connection failed", zap.Error(err))
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		logg.Fatal("schema setup failed", zap.Error(err))
	}

	var feedCache *cache.Cache
	if cfg.RedisURL != "" {
		feedCache, err = cache.New(ctx, cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			// The API is fully functional without Redis, just slower on the
			// live map path.
			logg.Warn("redis unavailable, running without cache", zap.Error(err))
		} else {
			defer feedCache.Close()
		}
	}

	ing := ingest.New(store, feedCache, logg)
	qry := query.New(store, feedCache, logg)

	srv := httpserver.New(cfg, ing, qry, logg)
	logg.Info("REST API listening", zap.String("addr", cfg.ListenAddr()))

	if err := srv.Run(ctx); err != nil {
		logg.Fatal("server error", zap.Error(err))
	}
}
