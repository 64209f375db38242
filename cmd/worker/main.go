// Package main provides the sync worker entry point. It ticks every due sync
// job until it is stopped.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/invoice-sync/internal/app"
	"github.com/invoice-sync/internal/config"
	"github.com/invoice-sync/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := app.InitLogging(cfg).WithComponent("worker")
	logger.Info("Starting invoice sync worker...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := app.New(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize services")
	}
	defer deps.Close()

	tickWorker, err := worker.NewTickWorker(&worker.TickWorkerConfig{
		Ticker:       deps.Jobs,
		PollInterval: cfg.Sync.TickInterval,
		Workers:      cfg.Sync.Workers,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create tick worker")
	}

	if err := tickWorker.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start tick worker")
	}
	logger.WithFields(map[string]interface{}{
		"pollInterval": cfg.Sync.TickInterval.String(),
		"workers":      cfg.Sync.Workers,
		"maxAttempts":  cfg.Sync.MaxAttempts,
	}).Info("Tick worker started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("Shutdown signal received, stopping worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := tickWorker.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error stopping tick worker")
	}
	cancel()

	status := tickWorker.GetStatus()
	logger.WithFields(map[string]interface{}{
		"jobsTicked": status.JobsTicked,
		"tickErrors": status.TickErrors,
	}).Info("Worker stopped. Goodbye!")
}
