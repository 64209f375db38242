// Package worker runs the scheduler that ticks sync jobs.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/invoice-sync/internal/job"
	"github.com/invoice-sync/internal/logging"
	"github.com/invoice-sync/internal/models"
)

// JobTicker is the part of the sync job controller the worker drives
type JobTicker interface {
	ListActive(ctx context.Context, limit int) ([]*models.SyncJob, error)
	Tick(ctx context.Context, jobID string) (*models.SyncJob, error)
}

// TickWorker polls for due sync jobs and ticks each of them once per poll.
// Job state lives in the store, so any number of workers may run; the
// per-job lock keeps them from processing the same month twice.
type TickWorker struct {
	ticker       JobTicker
	pollInterval time.Duration
	workers      int
	batchSize    int
	tickTimeout  time.Duration
	logger       *logging.Logger

	mu           sync.RWMutex
	running      bool
	stopCh       chan struct{}
	doneCh       chan struct{}
	lastPollTime time.Time
	jobsTicked   int64
	tickErrors   int64
}

// TickWorkerConfig holds configuration for a tick worker
type TickWorkerConfig struct {
	Ticker       JobTicker
	PollInterval time.Duration // default: 5s
	Workers      int           // concurrent ticks per poll (default: 4)
	BatchSize    int           // jobs fetched per poll (default: 4 * Workers)
	TickTimeout  time.Duration // upper bound of one tick (default: 2m)
}

// NewTickWorker creates a new tick worker
func NewTickWorker(cfg *TickWorkerConfig) (*TickWorker, error) {
	if cfg.Ticker == nil {
		return nil, fmt.Errorf("job ticker cannot be nil")
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 4 * workers
	}
	tickTimeout := cfg.TickTimeout
	if tickTimeout <= 0 {
		tickTimeout = 2 * time.Minute
	}

	return &TickWorker{
		ticker:       cfg.Ticker,
		pollInterval: pollInterval,
		workers:      workers,
		batchSize:    batchSize,
		tickTimeout:  tickTimeout,
		logger:       logging.WithComponent("tick-worker"),
	}, nil
}

// Start begins polling in a goroutine
func (w *TickWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("tick worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	w.logger.WithFields(map[string]interface{}{
		"pollInterval": w.pollInterval.String(),
		"workers":      w.workers,
	}).Info("Starting tick worker")

	go w.pollLoop(ctx, w.stopCh, w.doneCh)
	return nil
}

// Stop signals the loop to exit and waits for in-flight ticks
func (w *TickWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("tick worker is not running")
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.running = false
	w.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		w.logger.Info("Tick worker stopped gracefully")
		return nil
	case <-ctx.Done():
		w.logger.Warn("Tick worker stop timed out")
		return ctx.Err()
	}
}

func (w *TickWorker) pollLoop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Context cancelled, tick worker exiting")
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if _, err := w.PollOnce(ctx); err != nil {
				w.logger.WithError(err).Warn("Poll failed")
			}
		}
	}
}

// PollOnce ticks every due job once with at most Workers ticks in flight
// and returns the number of jobs ticked
func (w *TickWorker) PollOnce(ctx context.Context) (int, error) {
	w.mu.Lock()
	w.lastPollTime = time.Now()
	w.mu.Unlock()

	jobs, err := w.ticker.ListActive(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list active jobs: %w", err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	sem := make(chan struct{}, w.workers)
	var wg sync.WaitGroup
	for _, j := range jobs {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return 0, ctx.Err()
		}
		wg.Add(1)
		go func(jobID string) {
			defer wg.Done()
			defer func() { <-sem }()
			w.tick(ctx, jobID)
		}(j.ID)
	}
	wg.Wait()
	return len(jobs), nil
}

func (w *TickWorker) tick(ctx context.Context, jobID string) {
	tickCtx, cancel := context.WithTimeout(ctx, w.tickTimeout)
	defer cancel()

	logger := w.logger.WithField("jobId", jobID)
	updated, err := w.ticker.Tick(tickCtx, jobID)

	w.mu.Lock()
	w.jobsTicked++
	if err != nil && !job.IsNoProgress(err) {
		w.tickErrors++
	}
	w.mu.Unlock()

	switch {
	case err == nil:
		logger.WithFields(map[string]interface{}{
			"status":    updated.Status,
			"processed": updated.ProcessedMonths,
			"total":     updated.TotalMonths,
		}).Debug("Job ticked")
	case job.IsNoProgress(err):
		logger.WithError(err).Debug("Tick skipped")
	default:
		logger.WithError(err).Error("Tick failed")
	}
}

// TickWorkerStatus represents the status of the tick worker
type TickWorkerStatus struct {
	Running      bool      `json:"running"`
	PollInterval string    `json:"pollInterval"`
	Workers      int       `json:"workers"`
	LastPollTime time.Time `json:"lastPollTime"`
	JobsTicked   int64     `json:"jobsTicked"`
	TickErrors   int64     `json:"tickErrors"`
}

// GetStatus returns the current status of the tick worker
func (w *TickWorker) GetStatus() *TickWorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return &TickWorkerStatus{
		Running:      w.running,
		PollInterval: w.pollInterval.String(),
		Workers:      w.workers,
		LastPollTime: w.lastPollTime,
		JobsTicked:   w.jobsTicked,
		TickErrors:   w.tickErrors,
	}
}
