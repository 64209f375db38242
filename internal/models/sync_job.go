package models

import (
	"time"

	"github.com/invoice-sync/internal/types"
)

// CancelledMessage is the error_message of a job stopped by the user
const CancelledMessage = "cancelled by user"

// SyncJob represents a resumable backfill of one company's invoices in one direction,
// processed one calendar month per tick (oldest first).
type SyncJob struct {
	ID               string          `json:"id" db:"id"`
	CompanyID        string          `json:"companyId" db:"company_id"`
	Direction        types.Direction `json:"direction" db:"direction"`
	Status           types.JobStatus `json:"status" db:"status"`
	PeriodStart      time.Time       `json:"periodStart" db:"period_start"` // first day of the oldest month
	TotalMonths      int             `json:"totalMonths" db:"total_months"`
	ProcessedMonths  int             `json:"processedMonths" db:"processed_months"`
	CurrentMonth     *time.Time      `json:"currentMonth,omitempty" db:"current_month"`
	InvoicesFound    int64           `json:"invoicesFound" db:"invoices_found"`
	InvoicesSaved    int64           `json:"invoicesSaved" db:"invoices_saved"`
	// listed records the store refused as invalid; they do not fail the month
	InvoicesRejected int64           `json:"invoicesRejected" db:"invoices_rejected"`
	MonthAttempts    int             `json:"monthAttempts" db:"month_attempts"`
	NextAttemptAt    *time.Time      `json:"nextAttemptAt,omitempty" db:"next_attempt_at"`
	LastError        *string         `json:"lastError,omitempty" db:"last_error"`
	ErrorMessage     *string         `json:"errorMessage,omitempty" db:"error_message"`
	CreatedAt        time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time       `json:"updatedAt" db:"updated_at"`
	CompletedAt      *time.Time      `json:"completedAt,omitempty" db:"completed_at"`
}

// MonthAt returns the first day of the i-th month of the job's period
func (j *SyncJob) MonthAt(i int) time.Time {
	return j.PeriodStart.AddDate(0, i, 0)
}

// NextMonth returns the month the next tick will process, or nil when every month is done
func (j *SyncJob) NextMonth() *time.Time {
	if j.ProcessedMonths >= j.TotalMonths {
		return nil
	}
	m := j.MonthAt(j.ProcessedMonths)
	return &m
}

// Progress returns processed/total in [0,1]
func (j *SyncJob) Progress() float64 {
	if j.TotalMonths == 0 {
		return 0
	}
	return float64(j.ProcessedMonths) / float64(j.TotalMonths)
}

// IsCancelled reports whether the job was stopped by the user
func (j *SyncJob) IsCancelled() bool {
	return j.Status == types.JobStatusFailed && j.ErrorMessage != nil && *j.ErrorMessage == CancelledMessage
}

// Clone returns a copy that shares no pointers with j
func (j *SyncJob) Clone() *SyncJob {
	c := *j
	c.CurrentMonth = cloneTime(j.CurrentMonth)
	c.NextAttemptAt = cloneTime(j.NextAttemptAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	c.LastError = cloneString(j.LastError)
	c.ErrorMessage = cloneString(j.ErrorMessage)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
