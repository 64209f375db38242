// Package service holds the reconciliation engine and the file import pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/invoice-sync/internal/adapter"
	"github.com/invoice-sync/internal/document"
	apperrors "github.com/invoice-sync/internal/errors"
	"github.com/invoice-sync/internal/logging"
	"github.com/invoice-sync/internal/models"
	"github.com/invoice-sync/internal/ratelimit"
	"github.com/invoice-sync/internal/storage"
	"github.com/invoice-sync/internal/types"
)

const (
	defaultLockTTL  = 2 * time.Minute
	defaultLockWait = 5 * time.Second
	lockRetryEvery  = 50 * time.Millisecond
	enrichBatchSize = 500
)

// ReconciliationConfig tunes the per-invoice lock
type ReconciliationConfig struct {
	LockTTL     time.Duration // lifetime of a held invoice lock
	LockWait    time.Duration // how long a writer waits for a busy invoice
	EnrichBatch int           // enrichment candidates read per page
}

// ReconciliationService merges remote invoices into the local store and
// orchestrates user actions on them. Every write to one invoice runs under the
// invoice's (company, direction, remote id) lock.
type ReconciliationService struct {
	store     storage.InvoiceStore
	fetcher   adapter.RemoteInvoiceFetcher
	ledger    adapter.LedgerBridge
	locker    storage.Locker
	documents *document.Registry
	lockTTL     time.Duration
	lockWait    time.Duration
	enrichBatch int
	logger      *logging.Logger
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(
	store storage.InvoiceStore,
	fetcher adapter.RemoteInvoiceFetcher,
	ledger adapter.LedgerBridge,
	locker storage.Locker,
	documents *document.Registry,
	config *ReconciliationConfig,
) *ReconciliationService {
	if documents == nil {
		documents = document.NewRegistry()
	}
	s := &ReconciliationService{
		store:       store,
		fetcher:     fetcher,
		ledger:      ledger,
		locker:      locker,
		documents:   documents,
		lockTTL:     defaultLockTTL,
		lockWait:    defaultLockWait,
		enrichBatch: enrichBatchSize,
		logger:      logging.WithComponent("reconciliation"),
	}
	if config != nil {
		if config.LockTTL > 0 {
			s.lockTTL = config.LockTTL
		}
		if config.LockWait > 0 {
			s.lockWait = config.LockWait
		}
		if config.EnrichBatch > 0 {
			s.enrichBatch = config.EnrichBatch
		}
	}
	return s
}

// lock takes the invoice's mutual-exclusion key, waiting up to lockWait for it
func (s *ReconciliationService) lock(ctx context.Context, key models.InvoiceKey) (func(), error) {
	deadline := time.Now().Add(s.lockWait)
	for {
		release, err := s.locker.Acquire(ctx, storage.InvoiceLockKey(key), s.lockTTL)
		if err == nil {
			return func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					s.logger.WithError(err).WithField("remoteId", key.RemoteID).Warn("Failed to release invoice lock")
				}
			}, nil
		}
		if !apperrors.HasCode(err, "LOCKED") || !time.Now().Before(deadline) {
			return nil, err
		}
		select {
		case <-time.After(lockRetryEvery):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Upsert merges records by (company, direction, remote id). New invoices start
// pending; existing ones only get their remote-derived fields refreshed. Records
// that are invalid or whose lock stays busy are reported in Failed; a storage
// failure aborts the batch.
func (s *ReconciliationService) Upsert(ctx context.Context, records []models.RemoteInvoiceRecord) (*models.UpsertResult, error) {
	result := &models.UpsertResult{Found: len(records)}
	for i := range records {
		rec := &records[i]
		if err := rec.Validate(); err != nil {
			result.Failed = append(result.Failed, models.RowError{Row: i, Reference: rec.RemoteID, Code: models.RowInvalid, Reason: err.Error()})
			continue
		}

		inserted, err := s.upsertOne(ctx, rec)
		if err != nil {
			if apperrors.HasCode(err, "LOCKED") {
				result.Failed = append(result.Failed, models.RowError{Row: i, Reference: rec.RemoteID, Code: models.RowBusy, Reason: err.Error()})
				continue
			}
			return result, fmt.Errorf("failed to upsert invoice %s: %w", rec.RemoteID, err)
		}
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
	}
	return result, nil
}

func (s *ReconciliationService) upsertOne(ctx context.Context, rec *models.RemoteInvoiceRecord) (bool, error) {
	unlock, err := s.lock(ctx, rec.Key())
	if err != nil {
		return false, err
	}
	defer unlock()

	_, inserted, err := s.store.Upsert(ctx, rec)
	return inserted, err
}

// EnrichIncomplete fetches the full document of every invoice that lacks a
// number, a counterparty or an amount and fills the gaps. Candidates are read
// page by page, so invoices that cannot be enriched never hide the ones after
// them. Complete invoices are not touched, so it is safe to re-run. A transient
// remote failure stops the run.
func (s *ReconciliationService) EnrichIncomplete(ctx context.Context, companyID string) (int, error) {
	logger := s.logger.WithField("companyId", companyID)
	var (
		cursor     *models.IncompleteCursor
		candidates int
		enriched   int
	)
	for {
		invoices, err := s.store.ListIncomplete(ctx, companyID, cursor, s.enrichBatch)
		if err != nil {
			return enriched, err
		}
		candidates += len(invoices)

		for _, inv := range invoices {
			ok, err := s.enrichOne(ctx, inv)
			switch {
			case err == nil:
				if ok {
					enriched++
				}
			case apperrors.IsTransient(err) || ctx.Err() != nil:
				return enriched, err
			default:
				logger.WithError(err).WithField("remoteId", inv.RemoteID).Warn("Could not enrich invoice")
			}
		}

		if len(invoices) < s.enrichBatch {
			break
		}
		last := invoices[len(invoices)-1]
		cursor = &models.IncompleteCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}

	logger.WithFields(map[string]interface{}{
		"candidates": candidates,
		"enriched":   enriched,
	}).Info("Enrichment finished")
	return enriched, nil
}

func (s *ReconciliationService) enrichOne(ctx context.Context, inv *models.StoredInvoice) (bool, error) {
	raw, err := s.fetcher.FetchDocument(ctx, inv.CompanyID, inv.RemoteID)
	if err != nil {
		return false, err
	}
	doc, err := s.documents.Parse(ctx, raw)
	if err != nil {
		return false, err
	}

	rec := doc.ToRecord(inv.CompanyID, inv.Direction, inv.Source)
	rec.RemoteID = inv.RemoteID
	// status comes from the platform listing, not from the document snapshot
	rec.RemoteStatus = ""

	unlock, err := s.lock(ctx, inv.Key())
	if err != nil {
		return false, err
	}
	defer unlock()

	current, err := s.store.GetByKey(ctx, inv.Key())
	if err != nil {
		return false, err
	}
	if !current.IsIncomplete() {
		return false, nil
	}
	updated, _, err := s.store.Upsert(ctx, &rec)
	if err != nil {
		return false, err
	}
	return !updated.IsIncomplete(), nil
}

// Approve accepts a purchase invoice on the platform, then locally
func (s *ReconciliationService) Approve(ctx context.Context, companyID, remoteID string) (*models.StoredInvoice, error) {
	return s.decide(ctx, companyID, remoteID, types.ActionApprove, types.LocalStatusApproved, "")
}

// Reject refuses a purchase invoice on the platform, then locally
func (s *ReconciliationService) Reject(ctx context.Context, companyID, remoteID, comment string) (*models.StoredInvoice, error) {
	return s.decide(ctx, companyID, remoteID, types.ActionReject, types.LocalStatusRejected, comment)
}

// decide applies a purchase decision. The stored invoice changes only after the
// platform accepted the action.
func (s *ReconciliationService) decide(ctx context.Context, companyID, remoteID string, action types.StateAction, to types.LocalStatus, comment string) (*models.StoredInvoice, error) {
	key := models.InvoiceKey{CompanyID: companyID, Direction: types.DirectionPurchase, RemoteID: remoteID}
	unlock, err := s.lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	inv, err := s.store.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if !inv.LocalStatus.CanTransitionTo(to) {
		return nil, apperrors.NewInvalidTransitionError(inv.LocalStatus, to)
	}

	if err := s.fetcher.ChangeState(ratelimit.WithPriority(ctx, ratelimit.PriorityHigh), companyID, remoteID, action, comment); err != nil {
		return nil, err
	}

	remote := adapter.ResultingRemoteStatus(action)
	ok, err := s.store.UpdateLocalStatus(ctx, inv.ID, to, remote)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NewInvalidTransitionError(inv.LocalStatus, to)
	}

	s.logger.WithFields(map[string]interface{}{
		"companyId": companyID,
		"remoteId":  remoteID,
		"action":    action,
	}).Info("Invoice state changed")
	return s.store.GetByID(ctx, inv.ID)
}

// CancelSales withdraws a sales invoice on the platform: storno when the buyer may
// already hold it, plain cancel otherwise. Only remote_status changes locally.
func (s *ReconciliationService) CancelSales(ctx context.Context, companyID, remoteID, comment string) (*models.StoredInvoice, error) {
	key := models.InvoiceKey{CompanyID: companyID, Direction: types.DirectionSales, RemoteID: remoteID}
	unlock, err := s.lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	inv, err := s.store.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if inv.RemoteStatus.IsCancelled() {
		return nil, apperrors.NewConflictError(fmt.Sprintf("invoice %s is already %s", remoteID, inv.RemoteStatus))
	}

	action := adapter.SalesCancelAction(inv.RemoteStatus)
	if err := s.fetcher.ChangeState(ratelimit.WithPriority(ctx, ratelimit.PriorityHigh), companyID, remoteID, action, comment); err != nil {
		return nil, err
	}
	if err := s.store.UpdateRemoteStatus(ctx, inv.ID, adapter.ResultingRemoteStatus(action)); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"companyId": companyID,
		"remoteId":  remoteID,
		"action":    action,
	}).Info("Sales invoice cancelled")
	return s.store.GetByID(ctx, inv.ID)
}

// ledgerKey is the idempotency key of an invoice's ledger entry. It is derived from
// the invoice identity, so a deleted and re-fetched invoice maps to the same entry.
func ledgerKey(key models.InvoiceKey) string {
	return key.CompanyID + ":" + string(key.Direction) + ":" + key.RemoteID
}

// ImportToLedger creates the ledger entry of a sales invoice at most once.
// An invoice that is already linked, or cancelled on the platform, yields an
// AlreadyImportedError instead of a second entry.
func (s *ReconciliationService) ImportToLedger(ctx context.Context, invoice *models.StoredInvoice) (string, error) {
	if invoice.Direction != types.DirectionSales {
		return "", apperrors.NewWrongDirectionError("ledger import", types.DirectionSales)
	}

	unlock, err := s.lock(ctx, invoice.Key())
	if err != nil {
		return "", err
	}
	defer unlock()

	inv, err := s.store.GetByKey(ctx, invoice.Key())
	if err != nil {
		return "", err
	}
	if err := importable(inv); err != nil {
		return "", err
	}

	ledgerID, err := s.ledger.CreateEntry(ctx, adapter.NewLedgerEntry(inv), ledgerKey(inv.Key()))
	if err != nil {
		return "", fmt.Errorf("failed to create ledger entry for %s: %w", inv.RemoteID, err)
	}

	ok, err := s.store.MarkImported(ctx, inv.ID, ledgerID)
	if err != nil {
		return "", err
	}
	if !ok {
		current, getErr := s.store.GetByID(ctx, inv.ID)
		if getErr != nil {
			return "", getErr
		}
		if err := importable(current); err != nil {
			return "", err
		}
		return "", apperrors.NewConflictError(fmt.Sprintf("invoice %s changed during ledger import", inv.RemoteID))
	}

	s.logger.WithFields(map[string]interface{}{
		"invoiceId": inv.ID,
		"remoteId":  inv.RemoteID,
		"ledgerId":  ledgerID,
	}).Info("Invoice imported to ledger")
	return ledgerID, nil
}

func importable(inv *models.StoredInvoice) error {
	if inv.IsImported() {
		linked := ""
		if inv.LinkedLedgerID != nil {
			linked = *inv.LinkedLedgerID
		}
		return &apperrors.AlreadyImportedError{InvoiceID: inv.ID, LedgerID: linked, Reason: apperrors.ReasonImported}
	}
	if inv.RemoteStatus.IsCancelled() {
		return &apperrors.AlreadyImportedError{InvoiceID: inv.ID, Reason: apperrors.ReasonCancelled}
	}
	if !inv.LocalStatus.CanTransitionTo(types.LocalStatusImported) {
		return apperrors.NewInvalidTransitionError(inv.LocalStatus, types.LocalStatusImported)
	}
	return nil
}

// BulkImportToLedger imports each invoice independently. Already imported or
// cancelled invoices count as skipped; one failure never stops the batch.
func (s *ReconciliationService) BulkImportToLedger(ctx context.Context, invoices []*models.StoredInvoice) *models.ImportBatch {
	batch := &models.ImportBatch{}
	for i, inv := range invoices {
		_, err := s.ImportToLedger(ctx, inv)
		switch {
		case err == nil:
			batch.AddImported()
		case apperrors.IsNoOp(err):
			batch.AddSkipped()
		default:
			batch.AddFailure(i+1, inv.RemoteID, err.Error())
		}
	}
	return batch
}

// BulkImportByIDs resolves invoice ids of one company and imports them
func (s *ReconciliationService) BulkImportByIDs(ctx context.Context, companyID string, ids []string) *models.ImportBatch {
	batch := &models.ImportBatch{}
	var invoices []*models.StoredInvoice
	for i, id := range ids {
		inv, err := s.store.GetByID(ctx, id)
		if err == nil && inv.CompanyID != companyID {
			err = apperrors.NewNotFoundError("invoice", id)
		}
		if err != nil {
			batch.AddFailure(i+1, id, err.Error())
			continue
		}
		invoices = append(invoices, inv)
	}
	batch.Merge(s.BulkImportToLedger(ctx, invoices))
	return batch
}

// SyncMissingLedgerEntries recreates the ledger entries of imported sales invoices
// that have no link or whose linked entry no longer exists. It is the only path
// that replaces an existing ledger link. Returns the number of entries recreated.
func (s *ReconciliationService) SyncMissingLedgerEntries(ctx context.Context, companyID string) (int, error) {
	invoices, err := s.store.ListImported(ctx, companyID, types.DirectionSales)
	if err != nil {
		return 0, err
	}

	logger := s.logger.WithField("companyId", companyID)
	recreated := 0
	var errs []error
	for _, inv := range invoices {
		ok, err := s.relinkOne(ctx, inv)
		if err != nil {
			if apperrors.IsTransient(err) || ctx.Err() != nil {
				return recreated, err
			}
			logger.WithError(err).WithField("remoteId", inv.RemoteID).Warn("Could not repair ledger entry")
			errs = append(errs, fmt.Errorf("%s: %w", inv.RemoteID, err))
			continue
		}
		if ok {
			recreated++
		}
	}

	logger.WithFields(map[string]interface{}{
		"checked":   len(invoices),
		"recreated": recreated,
	}).Info("Ledger sync finished")
	return recreated, errors.Join(errs...)
}

func (s *ReconciliationService) relinkOne(ctx context.Context, invoice *models.StoredInvoice) (bool, error) {
	unlock, err := s.lock(ctx, invoice.Key())
	if err != nil {
		return false, err
	}
	defer unlock()

	inv, err := s.store.GetByID(ctx, invoice.ID)
	if err != nil {
		return false, err
	}
	if inv.LocalStatus != types.LocalStatusImported {
		return false, nil
	}

	old := ""
	if inv.LinkedLedgerID != nil {
		old = *inv.LinkedLedgerID
		exists, err := s.ledger.EntryExists(ctx, old)
		if err != nil {
			return false, err
		}
		if exists {
			return false, nil
		}
	}

	// a fresh key, because the ledger would hand back the deleted entry for the old one
	ledgerID, err := s.ledger.CreateEntry(ctx, adapter.NewLedgerEntry(inv), ledgerKey(inv.Key())+":resync:"+old)
	if err != nil {
		return false, fmt.Errorf("failed to recreate ledger entry: %w", err)
	}
	ok, err := s.store.Relink(ctx, inv.ID, inv.LinkedLedgerID, ledgerID)
	if err != nil {
		return false, err
	}
	if ok {
		s.logger.WithFields(map[string]interface{}{
			"invoiceId":   inv.ID,
			"oldLedgerId": old,
			"ledgerId":    ledgerID,
		}).Info("Ledger entry recreated")
	}
	return ok, nil
}

// Delete removes an invoice from the local archive only
func (s *ReconciliationService) Delete(ctx context.Context, id string) error {
	inv, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	unlock, err := s.lock(ctx, inv.Key())
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.WithFields(map[string]interface{}{
		"invoiceId": id,
		"remoteId":  inv.RemoteID,
	}).Info("Invoice deleted from archive")
	return nil
}

// Get returns one stored invoice
func (s *ReconciliationService) Get(ctx context.Context, id string) (*models.StoredInvoice, error) {
	return s.store.GetByID(ctx, id)
}

// List returns one page of a company's invoices and the total match count
func (s *ReconciliationService) List(ctx context.Context, filter models.InvoiceFilter) ([]*models.StoredInvoice, int, error) {
	if filter.CompanyID == "" {
		return nil, 0, apperrors.NewValidationError("company id is required")
	}
	return s.store.List(ctx, filter)
}

// Document returns the raw document of an invoice, from the archive when cached
func (s *ReconciliationService) Document(ctx context.Context, companyID, remoteID string) ([]byte, error) {
	for _, direction := range []types.Direction{types.DirectionPurchase, types.DirectionSales} {
		inv, err := s.store.GetByKey(ctx, models.InvoiceKey{CompanyID: companyID, Direction: direction, RemoteID: remoteID})
		if err == nil && inv.HasDocument() {
			return inv.RawDocument, nil
		}
		if err != nil && !apperrors.IsNotFound(err) {
			return nil, err
		}
	}
	return s.fetcher.FetchDocument(ratelimit.WithPriority(ctx, ratelimit.PriorityHigh), companyID, remoteID)
}
