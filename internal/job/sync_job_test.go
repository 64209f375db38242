package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoice-sync/internal/adapter"
	apperrors "github.com/invoice-sync/internal/errors"
	"github.com/invoice-sync/internal/models"
	"github.com/invoice-sync/internal/retry"
	"github.com/invoice-sync/internal/service"
	"github.com/invoice-sync/internal/storage"
	"github.com/invoice-sync/internal/types"
)

type fakeFetcher struct {
	mu      sync.Mutex
	windows []Window
	perCall int
	err     error
	hook    func()
}

func (f *fakeFetcher) FetchInvoices(ctx context.Context, companyID string, direction types.Direction, from, to time.Time) ([]models.RemoteInvoiceRecord, error) {
	f.mu.Lock()
	f.windows = append(f.windows, Window{From: from, To: to})
	hook, err, n := f.hook, f.err, f.perCall
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	records := make([]models.RemoteInvoiceRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, models.RemoteInvoiceRecord{
			CompanyID:     companyID,
			Direction:     direction,
			RemoteID:      fmt.Sprintf("%s-%d", from.Format("2006-01"), i),
			InvoiceNumber: fmt.Sprintf("INV-%s-%d", from.Format("200601"), i),
			IssueDate:     from,
			TotalAmount:   decimal.NewFromInt(100),
			Source:        types.SourceFetch,
		})
	}
	return records, nil
}

func (f *fakeFetcher) FetchDocument(ctx context.Context, companyID, remoteID string) ([]byte, error) {
	return nil, errors.New("not used")
}

func (f *fakeFetcher) ChangeState(ctx context.Context, companyID, remoteID string, action types.StateAction, comment string) error {
	return errors.New("not used")
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.windows)
}

type storeMerger struct {
	store storage.InvoiceStore
}

func (m *storeMerger) Upsert(ctx context.Context, records []models.RemoteInvoiceRecord) (*models.UpsertResult, error) {
	result := &models.UpsertResult{Found: len(records)}
	for i := range records {
		_, inserted, err := m.store.Upsert(ctx, &records[i])
		if err != nil {
			return nil, err
		}
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
	}
	return result, nil
}

type testEnv struct {
	controller *SyncJobController
	jobs       *storage.MemorySyncJobStore
	invoices   *storage.MemoryInvoiceStore
	locker     *storage.MemoryLocker
	fetcher    *fakeFetcher
	now        time.Time
}

func newTestEnv(t *testing.T, maxAttempts int) *testEnv {
	t.Helper()
	env := &testEnv{
		jobs:     storage.NewMemorySyncJobStore(),
		invoices: storage.NewMemoryInvoiceStore(),
		locker:   storage.NewMemoryLocker(),
		fetcher:  &fakeFetcher{perCall: 2},
		now:      time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC),
	}
	cfg := &Config{
		YearsBack: 3,
		LockTTL:   time.Minute,
		Retry:     &retry.RetryConfig{MaxAttempts: maxAttempts, InitialDelay: time.Minute, MaxDelay: time.Hour, Multiplier: 2},
	}
	env.controller = NewSyncJobController(env.jobs, env.fetcher, &storeMerger{store: env.invoices}, env.locker, cfg).
		WithClock(func() time.Time { return env.now })
	return env
}

func TestStart_ThreeYearsIs36Months(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()

	job, err := env.controller.Start(ctx, "c1", types.DirectionPurchase, 3)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, job.Status)
	assert.Equal(t, 36, job.TotalMonths)
	assert.Equal(t, time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC), job.PeriodStart)

	for i := 0; i < 36; i++ {
		job, err = env.controller.Tick(ctx, job.ID)
		require.NoError(t, err)
	}

	assert.Equal(t, types.JobStatusCompleted, job.Status)
	assert.Equal(t, 36, job.ProcessedMonths)
	assert.Equal(t, job.TotalMonths, job.ProcessedMonths)
	assert.LessOrEqual(t, job.InvoicesSaved, job.InvoicesFound)
	assert.Equal(t, int64(72), job.InvoicesFound)
	assert.Nil(t, job.CurrentMonth)
	assert.NotNil(t, job.CompletedAt)

	require.Len(t, env.fetcher.windows, 36)
	assert.Equal(t, time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC), env.fetcher.windows[0].From)
	assert.Equal(t, time.Date(2023, 11, 30, 0, 0, 0, 0, time.UTC), env.fetcher.windows[0].To)
	last := env.fetcher.windows[35]
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), last.From)
	assert.Equal(t, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), last.To, "current month is clipped to today")

	// further ticks are no-ops
	again, err := env.controller.Tick(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, again.Status)
	assert.Equal(t, 36, env.fetcher.calls())
}

func TestTick_RefetchingSavesNothingNew(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()

	first, err := env.controller.Start(ctx, "c1", types.DirectionSales, 1)
	require.NoError(t, err)
	for i := 0; i < 12; i++ {
		first, err = env.controller.Tick(ctx, first.ID)
		require.NoError(t, err)
	}
	require.Equal(t, types.JobStatusCompleted, first.Status)
	assert.Equal(t, int64(24), first.InvoicesSaved)

	second, err := env.controller.Start(ctx, "c1", types.DirectionSales, 1)
	require.NoError(t, err)
	for i := 0; i < 12; i++ {
		second, err = env.controller.Tick(ctx, second.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, types.JobStatusCompleted, second.Status)
	assert.Equal(t, int64(24), second.InvoicesFound)
	assert.Equal(t, int64(0), second.InvoicesSaved)
}

func TestStart_ConflictKeepsSingleJob(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()

	first, err := env.controller.Start(ctx, "c1", types.DirectionSales, 3)
	require.NoError(t, err)

	_, err = env.controller.Start(ctx, "c1", types.DirectionSales, 1)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	assert.True(t, apperrors.HasCode(err, "SYNC_JOB_ACTIVE"))

	jobs, err := env.controller.ListByCompany(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, first.ID, jobs[0].ID)

	_, err = env.controller.Start(ctx, "c1", types.DirectionPurchase, 3)
	assert.NoError(t, err, "the other direction is independent")
}

func TestStart_Validation(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()

	_, err := env.controller.Start(ctx, "", types.DirectionSales, 1)
	assert.Error(t, err)
	_, err = env.controller.Start(ctx, "c1", types.Direction("inbound"), 1)
	assert.Error(t, err)
	_, err = env.controller.Start(ctx, "c1", types.DirectionSales, MaxYearsBack+1)
	assert.Error(t, err)

	job, err := env.controller.Start(ctx, "c1", types.DirectionSales, 0)
	require.NoError(t, err)
	assert.Equal(t, 36, job.TotalMonths, "zero falls back to the configured default")
}

func TestCancel_HaltsProgress(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()

	job, err := env.controller.Start(ctx, "c1", types.DirectionPurchase, 1)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		job, err = env.controller.Tick(ctx, job.ID)
		require.NoError(t, err)
	}
	require.Equal(t, types.JobStatusPartial, job.Status)

	cancelled, err := env.controller.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, cancelled.Status)
	assert.True(t, cancelled.IsCancelled())
	assert.Equal(t, models.CancelledMessage, *cancelled.ErrorMessage)
	assert.Equal(t, 3, cancelled.ProcessedMonths)

	for i := 0; i < 3; i++ {
		after, err := env.controller.Tick(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, after.ProcessedMonths)
	}
	assert.Equal(t, 3, env.fetcher.calls())

	// already saved invoices stay
	_, total, err := env.invoices.List(ctx, models.InvoiceFilter{CompanyID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 6, total)

	again, err := env.controller.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, again.IsCancelled())

	// a new job may start once the old one is terminal
	_, err = env.controller.Start(ctx, "c1", types.DirectionPurchase, 1)
	assert.NoError(t, err)
}

func TestCancel_CompletedJobIsConflict(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()

	job, err := env.controller.Start(ctx, "c1", types.DirectionPurchase, 1)
	require.NoError(t, err)
	for i := 0; i < 12; i++ {
		job, err = env.controller.Tick(ctx, job.ID)
		require.NoError(t, err)
	}

	_, err = env.controller.Cancel(ctx, job.ID)
	assert.True(t, apperrors.IsConflict(err))
}

func TestCancel_DuringInFlightMonth(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()

	job, err := env.controller.Start(ctx, "c1", types.DirectionPurchase, 1)
	require.NoError(t, err)
	job, err = env.controller.Tick(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, 1, job.ProcessedMonths)

	env.fetcher.hook = func() {
		_, cancelErr := env.controller.Cancel(context.Background(), job.ID)
		assert.NoError(t, cancelErr)
	}

	after, err := env.controller.Tick(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, after.IsCancelled())
	assert.Equal(t, 1, after.ProcessedMonths, "the in-flight month is not committed")
	assert.Equal(t, int64(2), after.InvoicesFound)
}

func TestTick_TransientFailuresRespectCap(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()
	env.fetcher.err = apperrors.NewRemoteTransientError("platform", 503, errors.New("maintenance"))

	job, err := env.controller.Start(ctx, "c1", types.DirectionSales, 1)
	require.NoError(t, err)

	job, err = env.controller.Tick(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPartial, job.Status)
	assert.Equal(t, 1, job.MonthAttempts)
	require.NotNil(t, job.NextAttemptAt)
	assert.Equal(t, env.now.Add(time.Minute), *job.NextAttemptAt)
	assert.Nil(t, job.ErrorMessage)
	require.NotNil(t, job.LastError)

	// before the retry time nothing happens
	same, err := env.controller.Tick(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, same.MonthAttempts)
	assert.Equal(t, 1, env.fetcher.calls())

	env.now = env.now.Add(time.Minute)
	job, err = env.controller.Tick(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPartial, job.Status)
	assert.Equal(t, 2, job.MonthAttempts)
	assert.Equal(t, env.now.Add(2*time.Minute), *job.NextAttemptAt)

	env.now = env.now.Add(2 * time.Minute)
	job, err = env.controller.Tick(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, job.Status)
	assert.Equal(t, 3, job.MonthAttempts)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "platform")
	assert.False(t, job.IsCancelled())
	assert.Equal(t, 0, job.ProcessedMonths)
}

func TestTick_RecoversAfterTransientFailure(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()
	env.fetcher.err = apperrors.NewRemoteTransientError("platform", 429, errors.New("slow down"))

	job, err := env.controller.Start(ctx, "c1", types.DirectionSales, 1)
	require.NoError(t, err)
	job, err = env.controller.Tick(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, 1, job.MonthAttempts)

	env.fetcher.err = nil
	env.now = env.now.Add(time.Hour)
	job, err = env.controller.Tick(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPartial, job.Status)
	assert.Equal(t, 1, job.ProcessedMonths)
	assert.Equal(t, 0, job.MonthAttempts)
	assert.Nil(t, job.NextAttemptAt)
	assert.Nil(t, job.LastError)
}

func TestTick_AttemptCapIsConfigurable(t *testing.T) {
	env := newTestEnv(t, 5)
	ctx := context.Background()
	env.fetcher.err = apperrors.NewRemoteTransientError("platform", 502, errors.New("bad gateway"))

	job, err := env.controller.Start(ctx, "c1", types.DirectionPurchase, 1)
	require.NoError(t, err)
	for i := 1; i <= 4; i++ {
		job, err = env.controller.Tick(ctx, job.ID)
		require.NoError(t, err)
		require.Equal(t, types.JobStatusPartial, job.Status, "attempt %d", i)
		env.now = env.now.Add(2 * time.Hour)
	}
	job, err = env.controller.Tick(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, job.Status)
	assert.Equal(t, 5, env.fetcher.calls())
}

func TestTick_FatalErrorFailsImmediately(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()
	env.fetcher.err = apperrors.NewRemoteFatalError("platform", 401, errors.New("invalid api key"))

	job, err := env.controller.Start(ctx, "c1", types.DirectionPurchase, 1)
	require.NoError(t, err)
	job, err = env.controller.Tick(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.MonthAttempts)
	require.NotNil(t, job.ErrorMessage)
}

func TestTick_BusyLock(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()

	job, err := env.controller.Start(ctx, "c1", types.DirectionPurchase, 1)
	require.NoError(t, err)

	release, err := env.locker.Acquire(ctx, storage.JobLockKey(job.ID), time.Minute)
	require.NoError(t, err)

	_, err = env.controller.Tick(ctx, job.ID)
	require.Error(t, err)
	assert.True(t, IsNoProgress(err))
	assert.Equal(t, 0, env.fetcher.calls())

	require.NoError(t, release(ctx))
	job, err = env.controller.Tick(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, job.ProcessedMonths)
}

func TestTick_CallerCancellationPersistsNothing(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx, cancel := context.WithCancel(context.Background())

	job, err := env.controller.Start(ctx, "c1", types.DirectionPurchase, 1)
	require.NoError(t, err)

	env.fetcher.hook = cancel
	env.fetcher.err = context.Canceled

	_, err = env.controller.Tick(ctx, job.ID)
	require.ErrorIs(t, err, context.Canceled)

	stored, err := env.controller.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.MonthAttempts)
	assert.Equal(t, 0, stored.ProcessedMonths)
	assert.False(t, stored.Status.IsTerminal())

	// a later tick resumes the same month
	env.fetcher.hook = nil
	env.fetcher.err = nil
	stored, err = env.controller.Tick(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ProcessedMonths)
}

func TestState_LocksDateRangeWhileActive(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()

	state, err := env.controller.State(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, state.DateRangeLocked)

	job, err := env.controller.Start(ctx, "c1", types.DirectionSales, 1)
	require.NoError(t, err)
	state, err = env.controller.State(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, state.DateRangeLocked)
	require.Contains(t, state.Active, types.DirectionSales)

	_, err = env.controller.Cancel(ctx, job.ID)
	require.NoError(t, err)
	state, err = env.controller.State(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, state.DateRangeLocked)
}

func TestGetProgress(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()

	job, err := env.controller.Start(ctx, "c1", types.DirectionSales, 1)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = env.controller.Tick(ctx, job.ID)
		require.NoError(t, err)
	}

	progress, err := env.controller.GetProgress(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, progress.ProcessedMonths)
	assert.Equal(t, 12, progress.TotalMonths)
	assert.InDelta(t, 25.0, progress.PercentComplete, 0.001)
	require.NotNil(t, progress.CurrentMonth)
	assert.Equal(t, job.PeriodStart.AddDate(0, 3, 0), *progress.CurrentMonth)

	_, err = env.controller.GetProgress(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

type listFetcher struct {
	fakeFetcher
	records []models.RemoteInvoiceRecord
}

func (f *listFetcher) FetchInvoices(ctx context.Context, companyID string, direction types.Direction, from, to time.Time) ([]models.RemoteInvoiceRecord, error) {
	out := make([]models.RemoteInvoiceRecord, len(f.records))
	copy(out, f.records)
	return out, nil
}

type stalledFetcher struct {
	fakeFetcher
}

func (f *stalledFetcher) FetchInvoices(ctx context.Context, companyID string, direction types.Direction, from, to time.Time) ([]models.RemoteInvoiceRecord, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (env *testEnv) controllerWith(fetcher adapter.RemoteInvoiceFetcher, merger InvoiceMerger, maxAttempts int) *SyncJobController {
	cfg := &Config{
		YearsBack: 3,
		LockTTL:   time.Minute,
		Retry:     &retry.RetryConfig{MaxAttempts: maxAttempts, InitialDelay: time.Minute, MaxDelay: time.Hour, Multiplier: 2},
	}
	return NewSyncJobController(env.jobs, fetcher, merger, env.locker, cfg).
		WithClock(func() time.Time { return env.now })
}

func purchaseRecord(remoteID string, status types.RemoteStatus) models.RemoteInvoiceRecord {
	return models.RemoteInvoiceRecord{
		CompanyID:     "c1",
		Direction:     types.DirectionPurchase,
		RemoteID:      remoteID,
		InvoiceNumber: "FV/" + remoteID,
		IssueDate:     time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		TotalAmount:   decimal.NewFromInt(10),
		RemoteStatus:  status,
		Source:        types.SourceFetch,
	}
}

func TestTick_InvalidRecordIsCountedNotRetried(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()
	fetcher := &listFetcher{records: []models.RemoteInvoiceRecord{
		purchaseRecord("R1", types.RemoteStatusNew),
		purchaseRecord("R2", types.RemoteStatus("pending_approval")),
	}}
	reconciliation := service.NewReconciliationService(env.invoices, fetcher, nil, env.locker, nil, nil)
	controller := env.controllerWith(fetcher, reconciliation, 3)

	job, err := controller.Start(ctx, "c1", types.DirectionPurchase, 1)
	require.NoError(t, err)

	job, err = controller.Tick(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPartial, job.Status)
	assert.Equal(t, 1, job.ProcessedMonths)
	assert.Equal(t, 0, job.MonthAttempts)
	assert.Equal(t, int64(2), job.InvoicesFound)
	assert.Equal(t, int64(1), job.InvoicesSaved)
	assert.Equal(t, int64(1), job.InvoicesRejected)
	assert.Nil(t, job.LastError)

	for job.Status != types.JobStatusCompleted {
		job, err = controller.Tick(ctx, job.ID)
		require.NoError(t, err)
		require.NotEqual(t, types.JobStatusFailed, job.Status)
	}
	assert.Equal(t, 12, job.ProcessedMonths)
	assert.Equal(t, int64(12), job.InvoicesRejected)
}

func TestTick_LockedInvoiceRetriesTheMonth(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()
	rec := purchaseRecord("R1", types.RemoteStatusNew)
	fetcher := &listFetcher{records: []models.RemoteInvoiceRecord{rec}}
	reconciliation := service.NewReconciliationService(env.invoices, fetcher, nil, env.locker, nil,
		&service.ReconciliationConfig{LockWait: 10 * time.Millisecond})
	controller := env.controllerWith(fetcher, reconciliation, 3)

	job, err := controller.Start(ctx, "c1", types.DirectionPurchase, 1)
	require.NoError(t, err)

	release, err := env.locker.Acquire(ctx, storage.InvoiceLockKey(rec.Key()), time.Minute)
	require.NoError(t, err)

	job, err = controller.Tick(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPartial, job.Status)
	assert.Equal(t, 0, job.ProcessedMonths)
	assert.Equal(t, 1, job.MonthAttempts)
	require.NotNil(t, job.LastError)
	assert.Contains(t, *job.LastError, "R1")

	require.NoError(t, release(ctx))
	env.now = env.now.Add(time.Hour)
	job, err = controller.Tick(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, job.ProcessedMonths)
	assert.Equal(t, int64(1), job.InvoicesSaved)
}

func TestTick_DeadlineCountsAsFailedAttempt(t *testing.T) {
	env := newTestEnv(t, 3)
	controller := env.controllerWith(&stalledFetcher{}, &storeMerger{store: env.invoices}, 3)

	job, err := controller.Start(context.Background(), "c1", types.DirectionPurchase, 1)
	require.NoError(t, err)

	tick := func() *models.SyncJob {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		ticked, err := controller.Tick(ctx, job.ID)
		require.NoError(t, err)
		return ticked
	}

	job = tick()
	assert.Equal(t, types.JobStatusPartial, job.Status)
	assert.Equal(t, 1, job.MonthAttempts)
	require.NotNil(t, job.LastError)
	assert.Contains(t, *job.LastError, "timed out")

	stored, err := controller.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.MonthAttempts, "the attempt is persisted")

	for i := 0; i < 2; i++ {
		env.now = env.now.Add(time.Hour)
		job = tick()
	}
	assert.Equal(t, types.JobStatusFailed, job.Status)
	assert.Equal(t, 3, job.MonthAttempts)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, 0, job.ProcessedMonths)
}
