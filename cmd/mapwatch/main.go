package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/tynys-aq/telemetry/internal/config"
	"github.com/tynys-aq/telemetry/internal/logger"
	"github.com/tynys-aq/telemetry/internal/mapfeed"
)

func main() {
	cfg, err := config.LoadWatcher()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logg, err := logger.New(cfg.LogLevel, cfg.LogFormat, "telemetry-mapwatch")
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer logg.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := mapfeed.NewClient(cfg.APIBaseURL, cfg.RequestTimeout)
	sources := []mapfeed.Source{
		mapfeed.NewLiveSource(client),
		mapfeed.NewOwnedSource(client),
	}

	poller := mapfeed.NewPoller(sources, cfg.PollInterval, cfg.PollMax, logg)
	logg.Info("map poller starting",
		zap.String("api", cfg.APIBaseURL),
		zap.Duration("interval", cfg.PollInterval))

	poller.Run(ctx)
	logg.Info("map poller stopped")
}
