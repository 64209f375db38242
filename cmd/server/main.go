// Package main provides the API server entry point for the invoice sync service.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/invoice-sync/internal/api"
	"github.com/invoice-sync/internal/app"
	"github.com/invoice-sync/internal/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := app.InitLogging(cfg).WithComponent("server")
	logger.WithFields(map[string]interface{}{
		"level":   cfg.Logging.Level,
		"format":  cfg.Logging.Format,
		"storage": cfg.Database.Backend,
	}).Info("Invoice sync API server starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.New(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize services")
	}
	defer deps.Close()

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		RateLimitRPS:    cfg.Server.RateLimitRPS,
		RateLimitBurst:  cfg.Server.RateLimitBurst,
		WebhookSecret:   cfg.Server.WebhookSecret,
		MaxBodyBytes:    cfg.Import.MaxXMLBytes,
	}
	if serverConfig.WebhookSecret == "" {
		logger.Warn("PLATFORM_WEBHOOK_SECRET is empty; webhook signatures are not checked")
	}

	server := api.NewServer(serverConfig, deps.Jobs, deps.Reconciliation, deps.Imports)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.WithError(err).Fatal("Server failed")
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		os.Exit(1)
	}
	logger.Info("Server exited")
}
