package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/invoice-sync/internal/errors"
	"github.com/invoice-sync/internal/models"
	"github.com/invoice-sync/internal/types"
)

// MemoryInvoiceStore is an in-process InvoiceStore with the same uniqueness and
// conditional-update rules as the Postgres repository. Used by tests and by the
// memory storage backend.
type MemoryInvoiceStore struct {
	mu    sync.RWMutex
	byID  map[string]*models.StoredInvoice
	byKey map[models.InvoiceKey]string
	now   func() time.Time
}

var _ InvoiceStore = (*MemoryInvoiceStore)(nil)

// NewMemoryInvoiceStore creates an empty store
func NewMemoryInvoiceStore() *MemoryInvoiceStore {
	return &MemoryInvoiceStore{
		byID:  make(map[string]*models.StoredInvoice),
		byKey: make(map[models.InvoiceKey]string),
		now:   time.Now,
	}
}

// Upsert inserts or merges one record
func (s *MemoryInvoiceStore) Upsert(ctx context.Context, rec *models.RemoteInvoiceRecord) (*models.StoredInvoice, bool, error) {
	if err := rec.Validate(); err != nil {
		return nil, false, apperrors.NewValidationError(err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if id, ok := s.byKey[rec.Key()]; ok {
		inv := s.byID[id]
		inv.ApplyRemote(rec)
		inv.FetchedAt = now
		inv.UpdatedAt = now
		return inv.Clone(), false, nil
	}

	inv := models.NewStoredInvoice(uuid.NewString(), rec, now)
	s.byID[inv.ID] = inv
	s.byKey[inv.Key()] = inv.ID
	return inv.Clone(), true, nil
}

// GetByID retrieves an invoice by ID
func (s *MemoryInvoiceStore) GetByID(ctx context.Context, id string) (*models.StoredInvoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.byID[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("invoice", id)
	}
	return inv.Clone(), nil
}

// GetByKey retrieves an invoice by its idempotence key
func (s *MemoryInvoiceStore) GetByKey(ctx context.Context, key models.InvoiceKey) (*models.StoredInvoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, apperrors.NewNotFoundError("invoice", key.RemoteID)
	}
	return s.byID[id].Clone(), nil
}

// List filters, sorts and pages the company's invoices
func (s *MemoryInvoiceStore) List(ctx context.Context, f models.InvoiceFilter) ([]*models.StoredInvoice, int, error) {
	less, ok := memorySorters[f.SortBy]
	if !ok {
		return nil, 0, apperrors.NewInvalidParameterError("sort", "unsupported sort column")
	}

	s.mu.RLock()
	var matched []*models.StoredInvoice
	for _, inv := range s.byID {
		if matchesFilter(inv, f) {
			matched = append(matched, inv.Clone())
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if f.Descending {
			a, b = b, a
		}
		if less(a, b) {
			return true
		}
		if less(b, a) {
			return false
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	start := min(max(f.Offset, 0), total)
	end := min(start+limit, total)
	return matched[start:end], total, nil
}

var memorySorters = map[string]func(a, b *models.StoredInvoice) bool{
	"":               func(a, b *models.StoredInvoice) bool { return a.IssueDate.Before(b.IssueDate) },
	"issue_date":     func(a, b *models.StoredInvoice) bool { return a.IssueDate.Before(b.IssueDate) },
	"total_amount":   func(a, b *models.StoredInvoice) bool { return a.TotalAmount.LessThan(b.TotalAmount) },
	"invoice_number": func(a, b *models.StoredInvoice) bool { return a.InvoiceNumber < b.InvoiceNumber },
	"created_at":     func(a, b *models.StoredInvoice) bool { return a.CreatedAt.Before(b.CreatedAt) },
	"counterparty":   func(a, b *models.StoredInvoice) bool { return a.CounterpartyName < b.CounterpartyName },
}

func matchesFilter(inv *models.StoredInvoice, f models.InvoiceFilter) bool {
	switch {
	case inv.CompanyID != f.CompanyID:
		return false
	case f.Direction != "" && inv.Direction != f.Direction:
		return false
	case f.LocalStatus != "" && inv.LocalStatus != f.LocalStatus:
		return false
	case f.RemoteStatus != "" && inv.RemoteStatus != f.RemoteStatus:
		return false
	case f.From != nil && (inv.IssueDate.IsZero() || inv.IssueDate.Before(*f.From)):
		return false
	case f.To != nil && (inv.IssueDate.IsZero() || inv.IssueDate.After(*f.To)):
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		return strings.Contains(strings.ToLower(inv.InvoiceNumber), q) ||
			strings.Contains(strings.ToLower(inv.CounterpartyName), q) ||
			strings.Contains(strings.ToLower(inv.CounterpartyTaxID), q)
	}
	return true
}

// ListIncomplete returns invoices missing summary fields that sort after the cursor, oldest first
func (s *MemoryInvoiceStore) ListIncomplete(ctx context.Context, companyID string, after *models.IncompleteCursor, limit int) ([]*models.StoredInvoice, error) {
	s.mu.RLock()
	var out []*models.StoredInvoice
	for _, inv := range s.byID {
		if inv.CompanyID == companyID && inv.IsIncomplete() && after.After(inv) {
			out = append(out, inv.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListImported returns imported invoices of one direction
func (s *MemoryInvoiceStore) ListImported(ctx context.Context, companyID string, direction types.Direction) ([]*models.StoredInvoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.StoredInvoice
	for _, inv := range s.byID {
		if inv.CompanyID == companyID && inv.Direction == direction && inv.LocalStatus == types.LocalStatusImported {
			out = append(out, inv.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateLocalStatus applies a guarded local transition
func (s *MemoryInvoiceStore) UpdateLocalStatus(ctx context.Context, id string, to types.LocalStatus, remote types.RemoteStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.byID[id]
	if !ok || !inv.LocalStatus.CanTransitionTo(to) {
		return false, nil
	}
	inv.LocalStatus = to
	inv.RemoteStatus = remote
	inv.UpdatedAt = s.now().UTC()
	return true, nil
}

// UpdateRemoteStatus records a status the platform confirmed
func (s *MemoryInvoiceStore) UpdateRemoteStatus(ctx context.Context, id string, remote types.RemoteStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.byID[id]
	if !ok {
		return apperrors.NewNotFoundError("invoice", id)
	}
	inv.RemoteStatus = remote
	inv.UpdatedAt = s.now().UTC()
	return nil
}

// MarkImported links a ledger entry once
func (s *MemoryInvoiceStore) MarkImported(ctx context.Context, id, ledgerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.byID[id]
	if !ok || inv.LinkedLedgerID != nil || !inv.LocalStatus.CanTransitionTo(types.LocalStatusImported) {
		return false, nil
	}
	inv.LocalStatus = types.LocalStatusImported
	inv.LinkedLedgerID = &ledgerID
	inv.UpdatedAt = s.now().UTC()
	return true, nil
}

// Relink swaps the ledger link if it still equals expected
func (s *MemoryInvoiceStore) Relink(ctx context.Context, id string, expected *string, ledgerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.byID[id]
	if !ok || inv.LocalStatus != types.LocalStatusImported || !sameLink(inv.LinkedLedgerID, expected) {
		return false, nil
	}
	inv.LinkedLedgerID = &ledgerID
	inv.UpdatedAt = s.now().UTC()
	return true, nil
}

func sameLink(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Delete removes an invoice
func (s *MemoryInvoiceStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.byID[id]
	if !ok {
		return apperrors.NewNotFoundError("invoice", id)
	}
	delete(s.byKey, inv.Key())
	delete(s.byID, id)
	return nil
}

// DeleteNotImported removes a company's invoices without a ledger link
func (s *MemoryInvoiceStore) DeleteNotImported(ctx context.Context, companyID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, inv := range s.byID {
		if inv.CompanyID == companyID && !inv.IsImported() {
			delete(s.byKey, inv.Key())
			delete(s.byID, id)
			n++
		}
	}
	return n, nil
}

// MemorySyncJobStore is an in-process SyncJobStore enforcing one non-terminal
// job per (company, direction)
type MemorySyncJobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.SyncJob
}

var _ SyncJobStore = (*MemorySyncJobStore)(nil)

// NewMemorySyncJobStore creates an empty store
func NewMemorySyncJobStore() *MemorySyncJobStore {
	return &MemorySyncJobStore{jobs: make(map[string]*models.SyncJob)}
}

// Create inserts job unless another non-terminal job holds its key
func (s *MemorySyncJobStore) Create(ctx context.Context, job *models.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if active := s.activeLocked(job.CompanyID, job.Direction); active != nil {
		return apperrors.NewJobConflictError(job.CompanyID, job.Direction, active.ID)
	}
	if _, ok := s.jobs[job.ID]; ok {
		return apperrors.NewConflictError("sync job " + job.ID + " already exists")
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// GetByID retrieves a job
func (s *MemorySyncJobStore) GetByID(ctx context.Context, id string) (*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("sync job", id)
	}
	return job.Clone(), nil
}

// GetActive returns the non-terminal job for the key, or nil
func (s *MemorySyncJobStore) GetActive(ctx context.Context, companyID string, direction types.Direction) (*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job := s.activeLocked(companyID, direction); job != nil {
		return job.Clone(), nil
	}
	return nil, nil
}

func (s *MemorySyncJobStore) activeLocked(companyID string, direction types.Direction) *models.SyncJob {
	for _, job := range s.jobs {
		if job.CompanyID == companyID && job.Direction == direction && !job.Status.IsTerminal() {
			return job
		}
	}
	return nil
}

// ListByCompany returns a company's jobs, newest first
func (s *MemorySyncJobStore) ListByCompany(ctx context.Context, companyID string, limit int) ([]*models.SyncJob, error) {
	s.mu.Lock()
	var out []*models.SyncJob
	for _, job := range s.jobs {
		if job.CompanyID == companyID {
			out = append(out, job.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListRunnable returns due non-terminal jobs, oldest first
func (s *MemorySyncJobStore) ListRunnable(ctx context.Context, now time.Time, limit int) ([]*models.SyncJob, error) {
	s.mu.Lock()
	var out []*models.SyncJob
	for _, job := range s.jobs {
		if job.Status.IsTerminal() {
			continue
		}
		if job.NextAttemptAt != nil && job.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, job.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateIfStatus replaces the stored job while its status is one of expected
func (s *MemorySyncJobStore) UpdateIfStatus(ctx context.Context, job *models.SyncJob, expected ...types.JobStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[job.ID]
	if !ok {
		return false, apperrors.NewNotFoundError("sync job", job.ID)
	}
	for _, status := range expected {
		if current.Status == status {
			s.jobs[job.ID] = job.Clone()
			return true, nil
		}
	}
	return false, nil
}

// FailIfActive fails a non-terminal job, keeping its progress
func (s *MemorySyncJobStore) FailIfActive(ctx context.Context, id, message string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, apperrors.NewNotFoundError("sync job", id)
	}
	if job.Status.IsTerminal() {
		return false, nil
	}
	job.Status = types.JobStatusFailed
	job.ErrorMessage = &message
	job.NextAttemptAt = nil
	job.UpdatedAt = at
	job.CompletedAt = &at
	return true, nil
}

// MemoryLocker is a process-local Locker
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]memoryLock
	now  func() time.Time
}

type memoryLock struct {
	token   string
	expires time.Time
}

var _ Locker = (*MemoryLocker)(nil)

// NewMemoryLocker creates an empty locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryLock), now: time.Now}
}

// Acquire takes key for ttl or fails with a LOCKED error
func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if lock, ok := l.held[key]; ok && now.Before(lock.expires) {
		return nil, apperrors.NewLockedError(key)
	}
	token := uuid.NewString()
	l.held[key] = memoryLock{token: token, expires: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if lock, ok := l.held[key]; ok && lock.token == token {
			delete(l.held, key)
		}
		return nil
	}, nil
}
