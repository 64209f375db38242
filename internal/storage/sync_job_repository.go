package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	apperrors "github.com/invoice-sync/internal/errors"
	"github.com/invoice-sync/internal/models"
	"github.com/invoice-sync/internal/types"
)

// activeJobConstraint is the partial unique index allowing one non-terminal job per key
const activeJobConstraint = "sync_jobs_one_active"

// SyncJobRepository handles sync job persistence
type SyncJobRepository struct {
	db *PostgresDB
}

var _ SyncJobStore = (*SyncJobRepository)(nil)

// NewSyncJobRepository creates a new sync job repository
func NewSyncJobRepository(db *PostgresDB) *SyncJobRepository {
	return &SyncJobRepository{db: db}
}

const jobColumns = `
	id, company_id, direction, status, period_start, total_months, processed_months,
	current_month, invoices_found, invoices_saved, invoices_rejected, month_attempts,
	next_attempt_at, last_error, error_message, created_at, updated_at, completed_at`

// Create inserts a new job. A second non-terminal job for the same
// (company, direction) violates the partial unique index and becomes a conflict.
func (r *SyncJobRepository) Create(ctx context.Context, job *models.SyncJob) error {
	query := `
		INSERT INTO sync_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err := r.db.Pool().Exec(ctx, query, jobArgs(job)...)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok && constraint == activeJobConstraint {
			existing, getErr := r.GetActive(ctx, job.CompanyID, job.Direction)
			existingID := ""
			if getErr == nil && existing != nil {
				existingID = existing.ID
			}
			return apperrors.NewJobConflictError(job.CompanyID, job.Direction, existingID)
		}
		return apperrors.NewDatabaseError("create sync job", err)
	}
	return nil
}

// GetByID retrieves a sync job by ID
func (r *SyncJobRepository) GetByID(ctx context.Context, id string) (*models.SyncJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NewNotFoundError("sync job", id)
	}
	query := `SELECT ` + jobColumns + ` FROM sync_jobs WHERE id = $1`
	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("sync job", id)
		}
		return nil, fmt.Errorf("failed to get sync job: %w", err)
	}
	return job, nil
}

// GetActive returns the non-terminal job for (company, direction), or nil
func (r *SyncJobRepository) GetActive(ctx context.Context, companyID string, direction types.Direction) (*models.SyncJob, error) {
	query := `SELECT ` + jobColumns + ` FROM sync_jobs
		WHERE company_id = $1 AND direction = $2 AND status = ANY($3::text[])
		LIMIT 1`
	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, companyID, direction, jobStatusStrings(types.NonTerminalJobStatuses())))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active sync job: %w", err)
	}
	return job, nil
}

// ListByCompany returns a company's jobs, newest first
func (r *SyncJobRepository) ListByCompany(ctx context.Context, companyID string, limit int) ([]*models.SyncJob, error) {
	query := `SELECT ` + jobColumns + ` FROM sync_jobs
		WHERE company_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	return r.queryJobs(ctx, query, companyID, limit)
}

// ListRunnable returns non-terminal jobs that are due, oldest first
func (r *SyncJobRepository) ListRunnable(ctx context.Context, now time.Time, limit int) ([]*models.SyncJob, error) {
	query := `SELECT ` + jobColumns + ` FROM sync_jobs
		WHERE status = ANY($1::text[])
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
		ORDER BY created_at
		LIMIT $3`
	return r.queryJobs(ctx, query, jobStatusStrings(types.NonTerminalJobStatuses()), now, limit)
}

// UpdateIfStatus writes every mutable field of job, but only while the stored
// status is one of expected
func (r *SyncJobRepository) UpdateIfStatus(ctx context.Context, job *models.SyncJob, expected ...types.JobStatus) (bool, error) {
	query := `
		UPDATE sync_jobs SET
			status = $2,
			processed_months = $3,
			current_month = $4,
			invoices_found = $5,
			invoices_saved = $6,
			invoices_rejected = $7,
			month_attempts = $8,
			next_attempt_at = $9,
			last_error = $10,
			error_message = $11,
			updated_at = $12,
			completed_at = $13
		WHERE id = $1 AND status = ANY($14::text[])`

	result, err := r.db.Pool().Exec(ctx, query,
		job.ID,
		job.Status,
		job.ProcessedMonths,
		job.CurrentMonth,
		job.InvoicesFound,
		job.InvoicesSaved,
		job.InvoicesRejected,
		job.MonthAttempts,
		job.NextAttemptAt,
		job.LastError,
		job.ErrorMessage,
		job.UpdatedAt,
		job.CompletedAt,
		jobStatusStrings(expected),
	)
	if err != nil {
		return false, apperrors.NewDatabaseError("update sync job", err)
	}
	return result.RowsAffected() == 1, nil
}

// FailIfActive sets status failed and error_message on a non-terminal job.
// Progress columns are left to the tick that owns them.
func (r *SyncJobRepository) FailIfActive(ctx context.Context, id, message string, at time.Time) (bool, error) {
	query := `
		UPDATE sync_jobs SET
			status = 'failed',
			error_message = $2,
			next_attempt_at = NULL,
			updated_at = $3,
			completed_at = $3
		WHERE id = $1 AND status = ANY($4::text[])`
	result, err := r.db.Pool().Exec(ctx, query, id, message, at, jobStatusStrings(types.NonTerminalJobStatuses()))
	if err != nil {
		return false, apperrors.NewDatabaseError("fail sync job", err)
	}
	return result.RowsAffected() == 1, nil
}

func (r *SyncJobRepository) queryJobs(ctx context.Context, query string, args ...interface{}) ([]*models.SyncJob, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync jobs: %w", err)
	}
	return jobs, nil
}

func jobArgs(job *models.SyncJob) []interface{} {
	return []interface{}{
		job.ID,
		job.CompanyID,
		job.Direction,
		job.Status,
		job.PeriodStart,
		job.TotalMonths,
		job.ProcessedMonths,
		job.CurrentMonth,
		job.InvoicesFound,
		job.InvoicesSaved,
		job.InvoicesRejected,
		job.MonthAttempts,
		job.NextAttemptAt,
		job.LastError,
		job.ErrorMessage,
		job.CreatedAt,
		job.UpdatedAt,
		job.CompletedAt,
	}
}

func scanJob(row pgx.Row) (*models.SyncJob, error) {
	var job models.SyncJob
	err := row.Scan(
		&job.ID,
		&job.CompanyID,
		&job.Direction,
		&job.Status,
		&job.PeriodStart,
		&job.TotalMonths,
		&job.ProcessedMonths,
		&job.CurrentMonth,
		&job.InvoicesFound,
		&job.InvoicesSaved,
		&job.InvoicesRejected,
		&job.MonthAttempts,
		&job.NextAttemptAt,
		&job.LastError,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func jobStatusStrings(statuses []types.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
