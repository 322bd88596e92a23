package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/notisend/gateway/internal/notification/app"
	"github.com/notisend/gateway/internal/notification/domain"
	"github.com/notisend/gateway/internal/notification/provider"
	"github.com/notisend/gateway/internal/notification/repository/postgres"
	"github.com/notisend/gateway/internal/platform/config"
	"github.com/notisend/gateway/internal/platform/database"
	"github.com/notisend/gateway/internal/platform/logger"
	"github.com/notisend/gateway/internal/platform/messagebroker"
)

// buildRegistry wires one provider per configured channel. Channels without
// vendor configuration stay unregistered and their jobs terminate as
// channel_not_supported. With no vendor configured at all, mock providers are
// registered so a local stack delivers end to end.
func buildRegistry(cfg *config.Config, appLogger *slog.Logger) *provider.Registry {
	registry := provider.NewRegistry()

	if cfg.EmailAPIURL != "" {
		registry.Register(domain.ChannelEmail, provider.NewEmailProvider(appLogger, cfg.EmailAPIURL, cfg.EmailAPIKey, cfg.EmailSender, nil))
	}
	if cfg.SMSAPIURL != "" {
		registry.Register(domain.ChannelSMS, provider.NewSMSProvider(appLogger, cfg.SMSAPIURL, cfg.SMSAPIKey, cfg.SMSSenderID, nil))
	}
	if cfg.SlackAPIURL != "" {
		registry.Register(domain.ChannelSlack, provider.NewSlackProvider(appLogger, cfg.SlackAPIURL, cfg.SlackToken, nil))
	}
	if cfg.PushAPIURL != "" {
		registry.Register(domain.ChannelPush, provider.NewPushProvider(appLogger, cfg.PushAPIURL, cfg.PushAPIKey, nil))
	}

	if len(registry.Channels()) == 0 {
		appLogger.Warn("no provider configured, registering mock providers for local delivery")
		registry.Register(domain.ChannelEmail, provider.NewMockProvider(appLogger, domain.ChannelEmail))
		registry.Register(domain.ChannelSMS, provider.NewMockProvider(appLogger, domain.ChannelSMS))
	}
	return registry
}

func main() {
	cfg, err := config.Load("delivery_worker")
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info("Delivery worker starting", "log_level", cfg.LogLevel, "concurrency", cfg.WorkerConcurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewDBPool(ctx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, "notify-delivery-worker", appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	messageRepo := postgres.NewPgMessageRepository()
	attemptRepo := postgres.NewPgAttemptRepository()
	eventRepo := postgres.NewPgEventRepository()

	registry := buildRegistry(cfg, appLogger)
	appLogger.Info("provider registry built", "channels", registry.Channels())

	aggregator := app.NewAggregator(dbPool, messageRepo, attemptRepo, eventRepo, appLogger)
	processor := app.NewProcessor(dbPool, messageRepo, attemptRepo, eventRepo, registry, aggregator, cfg.SendTimeout, appLogger)

	worker := app.NewWorker(natsClient, processor, app.WorkerConfig{
		Concurrency:  cfg.WorkerConcurrency,
		MaxDeliver:   cfg.JobMaxDeliver,
		RetryBackoff: cfg.JobRetryBackoff,
	}, appLogger)

	if err := worker.Start(ctx); err != nil {
		appLogger.Error("Failed to start delivery worker", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	appLogger.Info("Shutdown signal received, draining delivery worker")
	worker.Stop()
	appLogger.Info("Delivery worker shut down")
}
