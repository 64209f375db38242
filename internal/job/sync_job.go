// Package job drives the month-by-month historical sync of a company's invoices.
// A job is a persisted state machine; something outside (the tick worker, the API,
// the CLI) calls Tick and each call processes at most one month.
package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/invoice-sync/internal/adapter"
	apperrors "github.com/invoice-sync/internal/errors"
	"github.com/invoice-sync/internal/logging"
	"github.com/invoice-sync/internal/models"
	"github.com/invoice-sync/internal/retry"
	"github.com/invoice-sync/internal/storage"
	"github.com/invoice-sync/internal/types"
)

// MaxYearsBack bounds the backfill depth a caller may request
const MaxYearsBack = 10

// InvoiceMerger stores fetched records; implemented by the reconciliation service
type InvoiceMerger interface {
	Upsert(ctx context.Context, records []models.RemoteInvoiceRecord) (*models.UpsertResult, error)
}

// Config configures a SyncJobController
type Config struct {
	YearsBack int                // used when Start is called with yearsBack <= 0
	LockTTL   time.Duration      // lifetime of the per-job tick lock
	Retry     *retry.RetryConfig // per-month attempt cap and backoff
}

// DefaultConfig returns three years back, three attempts per month
func DefaultConfig() *Config {
	return &Config{
		YearsBack: 3,
		LockTTL:   2 * time.Minute,
		Retry:     retry.DefaultRetryConfig(),
	}
}

// JobProgress is the pollable view of a job
type JobProgress struct {
	JobID            string          `json:"jobId"`
	CompanyID        string          `json:"companyId"`
	Direction        types.Direction `json:"direction"`
	Status           types.JobStatus `json:"status"`
	ProcessedMonths  int             `json:"processedMonths"`
	TotalMonths      int             `json:"totalMonths"`
	PercentComplete  float64         `json:"percentComplete"`
	CurrentMonth     *time.Time      `json:"currentMonth,omitempty"`
	InvoicesFound    int64           `json:"invoicesFound"`
	InvoicesSaved    int64           `json:"invoicesSaved"`
	InvoicesRejected int64           `json:"invoicesRejected"`
	MonthAttempts    int             `json:"monthAttempts"`
	NextAttemptAt    *time.Time      `json:"nextAttemptAt,omitempty"`
	LastError        *string         `json:"lastError,omitempty"`
	ErrorMessage     *string         `json:"errorMessage,omitempty"`
	Cancelled        bool            `json:"cancelled"`
	LastUpdated      time.Time       `json:"lastUpdated"`
}

// SyncJobController creates, advances and cancels sync jobs
type SyncJobController struct {
	jobs      storage.SyncJobStore
	fetcher   adapter.RemoteInvoiceFetcher
	merger    InvoiceMerger
	locker    storage.Locker
	policy    *retry.Policy
	yearsBack int
	lockTTL   time.Duration
	now       func() time.Time
	logger    *logging.Logger
}

// NewSyncJobController creates a controller; a nil config uses DefaultConfig
func NewSyncJobController(
	jobs storage.SyncJobStore,
	fetcher adapter.RemoteInvoiceFetcher,
	merger InvoiceMerger,
	locker storage.Locker,
	config *Config,
) *SyncJobController {
	if config == nil {
		config = DefaultConfig()
	}
	yearsBack := config.YearsBack
	if yearsBack < 1 {
		yearsBack = 3
	}
	lockTTL := config.LockTTL
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	return &SyncJobController{
		jobs:      jobs,
		fetcher:   fetcher,
		merger:    merger,
		locker:    locker,
		policy:    retry.NewPolicy(config.Retry),
		yearsBack: yearsBack,
		lockTTL:   lockTTL,
		now:       time.Now,
		logger:    logging.WithComponent("sync-job"),
	}
}

// WithClock replaces the time source, for tests
func (c *SyncJobController) WithClock(now func() time.Time) *SyncJobController {
	c.now = now
	c.policy.WithClock(now)
	return c
}

// Start creates a pending job covering yearsBack*12 months that end with the
// current month. A non-terminal job for the same company and direction is a conflict.
func (c *SyncJobController) Start(ctx context.Context, companyID string, direction types.Direction, yearsBack int) (*models.SyncJob, error) {
	if companyID == "" {
		return nil, apperrors.NewValidationError("company id is required")
	}
	if !direction.Valid() {
		return nil, apperrors.NewInvalidParameterError("direction", fmt.Sprintf("unknown direction %q", direction))
	}
	if yearsBack <= 0 {
		yearsBack = c.yearsBack
	}
	if yearsBack > MaxYearsBack {
		return nil, apperrors.NewInvalidParameterError("yearsBack", fmt.Sprintf("must be at most %d", MaxYearsBack))
	}

	// Fast path; the store's uniqueness constraint is what actually guarantees it
	active, err := c.jobs.GetActive(ctx, companyID, direction)
	if err != nil {
		return nil, fmt.Errorf("failed to check active sync job: %w", err)
	}
	if active != nil {
		return nil, apperrors.NewJobConflictError(companyID, direction, active.ID)
	}

	now := c.now().UTC()
	total := yearsBack * 12
	periodStart := monthStart(now).AddDate(0, -(total - 1), 0)

	job := &models.SyncJob{
		ID:           uuid.New().String(),
		CompanyID:    companyID,
		Direction:    direction,
		Status:       types.JobStatusPending,
		PeriodStart:  periodStart,
		TotalMonths:  total,
		CurrentMonth: &periodStart,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := c.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	c.jobLogger(job).WithFields(map[string]interface{}{
		"totalMonths": total,
		"periodStart": periodStart.Format("2006-01"),
	}).Info("Sync job created")
	return job, nil
}

// Tick processes the job's next month. Terminal jobs and jobs waiting for a retry
// are returned unchanged. Progress is committed only while the job is still running,
// so a cancel that lands during the remote call wins.
func (c *SyncJobController) Tick(ctx context.Context, jobID string) (*models.SyncJob, error) {
	job, err := c.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !c.due(job) {
		return job, nil
	}

	release, err := c.locker.Acquire(ctx, storage.JobLockKey(jobID), c.lockTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			c.logger.WithError(err).WithField("jobId", jobID).Warn("Failed to release job lock")
		}
	}()

	// Re-read under the lock: another worker may have just advanced it
	job, err = c.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !c.due(job) {
		return job, nil
	}

	if job.ProcessedMonths >= job.TotalMonths {
		return c.commit(ctx, job, c.completed(job), job.Status)
	}

	running := job.Clone()
	running.Status = types.JobStatusRunning
	running.UpdatedAt = c.now().UTC()
	ok, err := c.jobs.UpdateIfStatus(ctx, running, types.NonTerminalJobStatuses()...)
	if err != nil {
		return nil, err
	}
	if !ok {
		return c.jobs.GetByID(ctx, jobID)
	}

	window := MonthWindow(running.PeriodStart, running.ProcessedMonths, c.now().UTC())
	logger := c.jobLogger(running).WithField("month", window.From.Format("2006-01"))

	result, err := c.processMonth(ctx, running, window, logger)
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		// The caller went away; the month is redone by the next tick
		logger.WithError(err).Warn("Tick interrupted")
		return nil, ctx.Err()
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		// a month that outlives the tick deadline is a failed attempt like any timeout
		if err != nil && !apperrors.IsRetryable(err) && !apperrors.IsFatalRemote(err) {
			err = apperrors.NewTimeoutError(fmt.Sprintf("sync of %s", window.From.Format("2006-01")), err)
		}
		ctx = context.WithoutCancel(ctx)
	}

	var next *models.SyncJob
	if err != nil {
		next = c.failedAttempt(running, err, logger)
	} else {
		next = c.advanced(running, result)
		logger.WithFields(map[string]interface{}{
			"found":     result.Found,
			"saved":     result.Saved(),
			"processed": next.ProcessedMonths,
			"total":     next.TotalMonths,
		}).Info("Month synced")
	}
	return c.commit(ctx, running, next, types.JobStatusRunning)
}

// processMonth fetches and merges one window. Busy invoices fail the attempt (upsert
// is idempotent, so redoing the month is safe); invalid records are only counted.
func (c *SyncJobController) processMonth(ctx context.Context, job *models.SyncJob, window Window, logger *logging.Logger) (*models.UpsertResult, error) {
	records, err := c.fetcher.FetchInvoices(ctx, job.CompanyID, job.Direction, window.From, window.To)
	if err != nil {
		return nil, err
	}
	result, err := c.merger.Upsert(ctx, records)
	if err != nil {
		return nil, err
	}
	if busy := result.FailedWith(models.RowBusy); len(busy) > 0 {
		return nil, fmt.Errorf("%d of %d invoices are locked by another writer (first: %s): %w",
			len(busy), result.Found, busy[0].Reference, apperrors.NewServiceUnavailableError("invoice lock"))
	}
	if invalid := result.FailedWith(models.RowInvalid); len(invalid) > 0 {
		logger.WithFields(map[string]interface{}{
			"rejected":    len(invalid),
			"firstRemote": invalid[0].Reference,
			"firstReason": invalid[0].Reason,
		}).Warn("Skipped invalid invoices")
	}
	return result, nil
}

func (c *SyncJobController) advanced(job *models.SyncJob, result *models.UpsertResult) *models.SyncJob {
	next := job.Clone()
	now := c.now().UTC()
	next.ProcessedMonths++
	next.InvoicesFound += int64(result.Found)
	next.InvoicesSaved += int64(result.Saved())
	next.InvoicesRejected += int64(len(result.FailedWith(models.RowInvalid)))
	next.MonthAttempts = 0
	next.NextAttemptAt = nil
	next.LastError = nil
	next.UpdatedAt = now
	if next.ProcessedMonths >= next.TotalMonths {
		return c.completed(next)
	}
	next.Status = types.JobStatusPartial
	next.CurrentMonth = next.NextMonth()
	return next
}

func (c *SyncJobController) completed(job *models.SyncJob) *models.SyncJob {
	next := job.Clone()
	now := c.now().UTC()
	next.Status = types.JobStatusCompleted
	next.ProcessedMonths = next.TotalMonths
	next.CurrentMonth = nil
	next.NextAttemptAt = nil
	next.UpdatedAt = now
	next.CompletedAt = &now
	return next
}

func (c *SyncJobController) failedAttempt(job *models.SyncJob, cause error, logger *logging.Logger) *models.SyncJob {
	next := job.Clone()
	now := c.now().UTC()
	msg := cause.Error()
	decision := c.policy.Decide(job.MonthAttempts, cause)

	next.MonthAttempts = decision.Attempts
	next.UpdatedAt = now
	next.LastError = &msg

	switch decision.Outcome {
	case retry.OutcomeRetry:
		next.Status = types.JobStatusPartial
		next.NextAttemptAt = &decision.RetryAt
		logger.WithError(cause).WithFields(map[string]interface{}{
			"attempt":     decision.Attempts,
			"maxAttempts": c.policy.MaxAttempts(),
			"retryAt":     decision.RetryAt,
		}).Warn("Month failed, will retry")
	default:
		next.Status = types.JobStatusFailed
		next.ErrorMessage = &msg
		next.NextAttemptAt = nil
		next.CompletedAt = &now
		logger.WithError(cause).WithField("attempts", decision.Attempts).Error("Sync job failed")
	}
	return next
}

func (c *SyncJobController) commit(ctx context.Context, current, next *models.SyncJob, expected types.JobStatus) (*models.SyncJob, error) {
	ok, err := c.jobs.UpdateIfStatus(ctx, next, expected)
	if err != nil {
		return nil, err
	}
	if !ok {
		c.jobLogger(current).Info("Sync job changed during tick, progress discarded")
		return c.jobs.GetByID(ctx, current.ID)
	}
	if next.Status == types.JobStatusCompleted {
		c.jobLogger(next).WithFields(map[string]interface{}{
			"invoicesFound":    next.InvoicesFound,
			"invoicesSaved":    next.InvoicesSaved,
			"invoicesRejected": next.InvoicesRejected,
		}).Info("Sync job completed")
	}
	return next, nil
}

func (c *SyncJobController) due(job *models.SyncJob) bool {
	if job.Status.IsTerminal() {
		return false
	}
	return job.NextAttemptAt == nil || !c.now().Before(*job.NextAttemptAt)
}

// Cancel stops a non-terminal job. Invoices it already saved stay in the store.
// Cancelling an already cancelled job returns it unchanged.
func (c *SyncJobController) Cancel(ctx context.Context, jobID string) (*models.SyncJob, error) {
	job, err := c.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.IsCancelled() {
		return job, nil
	}

	ok, err := c.jobs.FailIfActive(ctx, jobID, models.CancelledMessage, c.now().UTC())
	if err != nil {
		return nil, err
	}
	job, err = c.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !ok && !job.IsCancelled() {
		return nil, apperrors.NewConflictError(fmt.Sprintf("sync job %s is already %s", jobID, job.Status))
	}

	c.jobLogger(job).WithField("processedMonths", job.ProcessedMonths).Info("Sync job cancelled")
	return job, nil
}

// Get returns a job
func (c *SyncJobController) Get(ctx context.Context, jobID string) (*models.SyncJob, error) {
	return c.jobs.GetByID(ctx, jobID)
}

// GetProgress returns the pollable progress of a job
func (c *SyncJobController) GetProgress(ctx context.Context, jobID string) (*JobProgress, error) {
	job, err := c.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return NewJobProgress(job), nil
}

// NewJobProgress builds the progress view of job
func NewJobProgress(job *models.SyncJob) *JobProgress {
	return &JobProgress{
		JobID:            job.ID,
		CompanyID:        job.CompanyID,
		Direction:        job.Direction,
		Status:           job.Status,
		ProcessedMonths:  job.ProcessedMonths,
		TotalMonths:      job.TotalMonths,
		PercentComplete:  job.Progress() * 100,
		CurrentMonth:     job.CurrentMonth,
		InvoicesFound:    job.InvoicesFound,
		InvoicesSaved:    job.InvoicesSaved,
		InvoicesRejected: job.InvoicesRejected,
		MonthAttempts:    job.MonthAttempts,
		NextAttemptAt:    job.NextAttemptAt,
		LastError:        job.LastError,
		ErrorMessage:     job.ErrorMessage,
		Cancelled:        job.IsCancelled(),
		LastUpdated:      job.UpdatedAt,
	}
}

// ListActive returns the jobs a scheduler should tick now
func (c *SyncJobController) ListActive(ctx context.Context, limit int) ([]*models.SyncJob, error) {
	return c.jobs.ListRunnable(ctx, c.now().UTC(), limit)
}

// ListByCompany returns a company's most recent jobs
func (c *SyncJobController) ListByCompany(ctx context.Context, companyID string, limit int) ([]*models.SyncJob, error) {
	return c.jobs.ListByCompany(ctx, companyID, limit)
}

// SyncState summarises a company's sync jobs for the date-range inputs of a client:
// while any job is non-terminal the range is locked.
type SyncState struct {
	CompanyID       string                           `json:"companyId"`
	DateRangeLocked bool                             `json:"dateRangeLocked"`
	Active          map[types.Direction]*JobProgress `json:"active"`
}

// State reports whether a company has sync jobs in flight
func (c *SyncJobController) State(ctx context.Context, companyID string) (*SyncState, error) {
	state := &SyncState{CompanyID: companyID, Active: map[types.Direction]*JobProgress{}}
	for _, direction := range []types.Direction{types.DirectionPurchase, types.DirectionSales} {
		job, err := c.jobs.GetActive(ctx, companyID, direction)
		if err != nil {
			return nil, err
		}
		if job != nil {
			state.Active[direction] = NewJobProgress(job)
			state.DateRangeLocked = true
		}
	}
	return state, nil
}

func (c *SyncJobController) jobLogger(job *models.SyncJob) *logging.Logger {
	return c.logger.WithFields(map[string]interface{}{
		"jobId":     job.ID,
		"companyId": job.CompanyID,
		"direction": job.Direction,
	})
}

// IsNoProgress reports whether err left the job untouched (lock busy or caller gone)
func IsNoProgress(err error) bool {
	return apperrors.HasCode(err, "LOCKED") || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
