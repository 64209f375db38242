package storage

import (
	"context"
	"time"

	"github.com/invoice-sync/internal/models"
	"github.com/invoice-sync/internal/types"
)

// InvoiceStore is the canonical invoice archive. (company, direction, remote id)
// is unique; conditional updates report false when the row was not in the
// expected state instead of overwriting it.
type InvoiceStore interface {
	// Upsert inserts a new pending invoice or refreshes the remote-derived fields of
	// an existing one. inserted is true only for a new row.
	Upsert(ctx context.Context, rec *models.RemoteInvoiceRecord) (inv *models.StoredInvoice, inserted bool, err error)
	GetByID(ctx context.Context, id string) (*models.StoredInvoice, error)
	GetByKey(ctx context.Context, key models.InvoiceKey) (*models.StoredInvoice, error)
	List(ctx context.Context, filter models.InvoiceFilter) ([]*models.StoredInvoice, int, error)
	// ListIncomplete pages through invoices missing summary fields, oldest first.
	// A nil cursor starts from the beginning.
	ListIncomplete(ctx context.Context, companyID string, after *models.IncompleteCursor, limit int) ([]*models.StoredInvoice, error)
	ListImported(ctx context.Context, companyID string, direction types.Direction) ([]*models.StoredInvoice, error)

	// UpdateLocalStatus moves local_status to `to` (and sets remote_status) only if the
	// current local status may transition to it.
	UpdateLocalStatus(ctx context.Context, id string, to types.LocalStatus, remote types.RemoteStatus) (bool, error)
	UpdateRemoteStatus(ctx context.Context, id string, remote types.RemoteStatus) error
	// MarkImported links a ledger entry to an invoice that has none yet
	MarkImported(ctx context.Context, id, ledgerID string) (bool, error)
	// Relink replaces the ledger link of an imported invoice whose link still equals expected
	Relink(ctx context.Context, id string, expected *string, ledgerID string) (bool, error)

	Delete(ctx context.Context, id string) error
	// DeleteNotImported removes a company's invoices that carry no ledger link
	DeleteNotImported(ctx context.Context, companyID string) (int64, error)
}

// SyncJobStore persists sync jobs. At most one non-terminal job may exist per
// (company, direction); Create reports a conflict otherwise.
type SyncJobStore interface {
	Create(ctx context.Context, job *models.SyncJob) error
	GetByID(ctx context.Context, id string) (*models.SyncJob, error)
	// GetActive returns the non-terminal job for the key, or nil when there is none
	GetActive(ctx context.Context, companyID string, direction types.Direction) (*models.SyncJob, error)
	ListByCompany(ctx context.Context, companyID string, limit int) ([]*models.SyncJob, error)
	// ListRunnable returns non-terminal jobs whose retry time has passed, oldest first
	ListRunnable(ctx context.Context, now time.Time, limit int) ([]*models.SyncJob, error)
	// UpdateIfStatus writes job only if the stored status is one of expected
	UpdateIfStatus(ctx context.Context, job *models.SyncJob, expected ...types.JobStatus) (bool, error)
	// FailIfActive moves a non-terminal job to failed without touching its progress
	FailIfActive(ctx context.Context, id, message string, at time.Time) (bool, error)
}

// Locker hands out short-lived mutual-exclusion keys. Acquire fails with a
// LOCKED conflict error when the key is held.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// InvoiceLockKey is the mutual-exclusion key shared by every writer of one invoice
func InvoiceLockKey(key models.InvoiceKey) string {
	return "invoice:" + key.CompanyID + ":" + string(key.Direction) + ":" + key.RemoteID
}

// JobLockKey serialises ticks of one sync job
func JobLockKey(jobID string) string {
	return "sync-job:" + jobID
}
