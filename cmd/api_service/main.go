package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	apimiddleware "github.com/notisend/gateway/internal/api_service/middleware"
	apihttp "github.com/notisend/gateway/internal/api_service/transport/http"
	"github.com/notisend/gateway/internal/notification/app"
	"github.com/notisend/gateway/internal/notification/repository/postgres"
	"github.com/notisend/gateway/internal/platform/config"
	"github.com/notisend/gateway/internal/platform/database"
	"github.com/notisend/gateway/internal/platform/logger"
	"github.com/notisend/gateway/internal/platform/messagebroker"
)

func main() {
	cfg, err := config.Load("api_service")
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info("API service starting", "log_level", cfg.LogLevel, "port", cfg.APIServicePort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewDBPool(ctx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, "notify-api-service", appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	messageRepo := postgres.NewPgMessageRepository()
	attemptRepo := postgres.NewPgAttemptRepository()
	eventRepo := postgres.NewPgEventRepository()
	projectRepo := postgres.NewPgProjectRepository()

	intake := app.NewIntakeService(dbPool, messageRepo, attemptRepo, eventRepo, appLogger)
	dispatcher := app.NewDispatcher(dbPool, messageRepo, eventRepo, natsClient, appLogger)

	handler := apihttp.NewMessageHandler(intake, dispatcher, appLogger)
	authMW := apimiddleware.AuthMiddleware(projectRepo, dbPool, cfg.JWTSecret, appLogger)
	router := apihttp.NewRouter(handler, authMW)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.APIServicePort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	appLogger.Info("Shutdown signal received, draining HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server shutdown failed", "error", err)
	}
	appLogger.Info("API service shut down")
}
