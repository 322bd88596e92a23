package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/notisend/gateway/internal/notification/app"
	"github.com/notisend/gateway/internal/notification/repository/postgres"
	"github.com/notisend/gateway/internal/platform/config"
	"github.com/notisend/gateway/internal/platform/database"
	"github.com/notisend/gateway/internal/platform/logger"
	"github.com/notisend/gateway/internal/platform/messagebroker"
)

func main() {
	cfg, err := config.Load("scheduler_service")
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info("Scheduler service starting",
		"log_level", cfg.LogLevel,
		"interval", cfg.SchedulerPollingInterval.String(),
		"batch_size", cfg.SchedulerBatchSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewDBPool(ctx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, "notify-scheduler", appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	messageRepo := postgres.NewPgMessageRepository()
	eventRepo := postgres.NewPgEventRepository()

	dispatcher := app.NewDispatcher(dbPool, messageRepo, eventRepo, natsClient, appLogger)
	scheduler := app.NewScheduler(dbPool, messageRepo, dispatcher, app.SchedulerConfig{
		PollingInterval: cfg.SchedulerPollingInterval,
		BatchSize:       cfg.SchedulerBatchSize,
	}, appLogger)

	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Scheduler stopped with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Scheduler service shut down")
}
