// Package app wires configuration, storage, remote clients and services into the
// components shared by the server, the worker and the CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/invoice-sync/internal/adapter"
	"github.com/invoice-sync/internal/config"
	"github.com/invoice-sync/internal/document"
	"github.com/invoice-sync/internal/job"
	"github.com/invoice-sync/internal/logging"
	"github.com/invoice-sync/internal/ratelimit"
	"github.com/invoice-sync/internal/retry"
	"github.com/invoice-sync/internal/service"
	"github.com/invoice-sync/internal/storage"
)

// App holds the wired components
type App struct {
	Config         *config.Config
	Jobs           *job.SyncJobController
	Reconciliation *service.ReconciliationService
	Imports        *service.ImportService

	redis   *storage.RedisCache
	closers []func() error
	logger  *logging.Logger
}

// Backends groups the storage implementations an App runs on
type Backends struct {
	Invoices storage.InvoiceStore
	SyncJobs storage.SyncJobStore
	Locker   storage.Locker
	Cleaner  service.InvoiceCleaner
}

// InitLogging configures the global logger from cfg
func InitLogging(cfg *config.Config) *logging.Logger {
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	return logging.GetGlobalLogger()
}

// New connects to the configured backends and builds every service. Startup
// connections are retried with backoff.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, logger: logging.WithComponent("app")}

	backends, err := a.openBackends(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	platformOpts := []adapter.Option{
		adapter.WithBaseURL(cfg.Platform.BaseURL),
		adapter.WithTimeout(cfg.Platform.Timeout),
		adapter.WithRateLimit(cfg.Platform.RequestsPerSec),
		adapter.WithPageSize(cfg.Platform.PageSize),
		adapter.WithCircuitBreaker(adapter.NewPlatformBreaker(cfg.Platform.BreakerThreshold, cfg.Platform.BreakerTimeout)),
	}
	budget, err := a.platformBudget()
	if err != nil {
		a.Close()
		return nil, err
	}
	if budget != nil {
		platformOpts = append(platformOpts, adapter.WithBudget(budget))
	}

	platform, err := adapter.NewPlatformClient(cfg.Platform.APIKey, platformOpts...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create platform client: %w", err)
	}

	ledger, err := adapter.NewLedgerClient(cfg.Ledger.APIKey,
		adapter.WithBaseURL(cfg.Ledger.BaseURL),
		adapter.WithTimeout(cfg.Ledger.Timeout),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create ledger client: %w", err)
	}

	a.build(backends, platform, ledger)
	return a, nil
}

// NewWithBackends builds the services on already opened backends and clients
func NewWithBackends(cfg *config.Config, backends *Backends, fetcher adapter.RemoteInvoiceFetcher, ledger adapter.LedgerBridge) *App {
	a := &App{Config: cfg, logger: logging.WithComponent("app")}
	a.build(backends, fetcher, ledger)
	return a
}

func (a *App) build(b *Backends, fetcher adapter.RemoteInvoiceFetcher, ledger adapter.LedgerBridge) {
	cfg := a.Config
	documents := document.NewRegistry()

	a.Reconciliation = service.NewReconciliationService(b.Invoices, fetcher, ledger, b.Locker, documents,
		&service.ReconciliationConfig{LockTTL: cfg.Sync.LockTTL})

	a.Jobs = job.NewSyncJobController(b.SyncJobs, fetcher, a.Reconciliation, b.Locker, &job.Config{
		YearsBack: cfg.Sync.YearsBack,
		LockTTL:   cfg.Sync.LockTTL,
		Retry: &retry.RetryConfig{
			MaxAttempts:  cfg.Sync.MaxAttempts,
			InitialDelay: cfg.Sync.RetryInitialDelay,
			MaxDelay:     cfg.Sync.RetryMaxDelay,
			Multiplier:   cfg.Sync.RetryMultiplier,
		},
	})

	a.Imports = service.NewImportService(a.Reconciliation, b.Cleaner, documents, cfg.Import.CSVChunkSize)
}

func (a *App) openBackends(ctx context.Context) (*Backends, error) {
	cfg := a.Config
	if cfg.Database.Backend == config.StorageMemory {
		a.logger.Warn("Using in-memory storage; state is lost on exit")
		invoices := storage.NewMemoryInvoiceStore()
		return &Backends{
			Invoices: invoices,
			SyncJobs: storage.NewMemorySyncJobStore(),
			Locker:   storage.NewMemoryLocker(),
			Cleaner:  invoices,
		}, nil
	}

	startup := &retry.RetryConfig{MaxAttempts: 5, InitialDelay: 2 * time.Second, MaxDelay: 30 * time.Second, Multiplier: 2}

	var postgres *storage.PostgresDB
	err := retry.WithRetry(ctx, startup, func(ctx context.Context, attempt int) error {
		var err error
		postgres, err = storage.NewPostgresDB(&cfg.Database.Postgres)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	a.closers = append(a.closers, func() error { postgres.Close(); return nil })

	invoices := storage.NewInvoiceRepository(postgres)
	backends := &Backends{
		Invoices: invoices,
		SyncJobs: storage.NewSyncJobRepository(postgres),
		Cleaner:  invoices,
	}

	if !cfg.Database.Redis.Enabled {
		a.logger.Warn("Redis disabled; invoice and job locks are process-local")
		backends.Locker = storage.NewMemoryLocker()
		return backends, nil
	}

	var redis *storage.RedisCache
	err = retry.WithRetry(ctx, startup, func(ctx context.Context, attempt int) error {
		var err error
		redis, err = storage.NewRedisCache(&cfg.Database.Redis)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	a.closers = append(a.closers, redis.Close)
	a.redis = redis
	backends.Locker = storage.NewRedisLocker(redis)

	a.logger.Info("Database connections established")
	return backends, nil
}

// platformBudget returns the cross-process request budget, or nil when it is off
func (a *App) platformBudget() (*ratelimit.RequestBudget, error) {
	cfg := a.Config.Platform
	if cfg.BudgetPerSecond == 0 {
		return nil, nil
	}
	if a.redis == nil {
		a.logger.Warn("PLATFORM_BUDGET_PER_SEC needs Redis; only the per-process rate limit applies")
		return nil, nil
	}
	budget, err := ratelimit.NewRequestBudget(&ratelimit.Config{
		Redis:    a.redis.Client(),
		Total:    cfg.BudgetPerSecond,
		Reserved: cfg.BudgetReserved,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create platform budget: %w", err)
	}
	a.logger.WithFields(map[string]interface{}{
		"perSecond": cfg.BudgetPerSecond,
		"reserved":  cfg.BudgetReserved,
	}).Info("Shared platform request budget enabled")
	return budget, nil
}

// Close releases every connection opened by New
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WithError(err).Warn("Failed to close connection")
		}
	}
	a.closers = nil
}
