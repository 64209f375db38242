package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	apperrors "github.com/invoice-sync/internal/errors"
	"github.com/invoice-sync/internal/models"
	"github.com/invoice-sync/internal/types"
)

// InvoiceRepository handles stored invoice persistence in Postgres
type InvoiceRepository struct {
	db  *PostgresDB
	now func() time.Time
}

var _ InvoiceStore = (*InvoiceRepository)(nil)

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *PostgresDB) *InvoiceRepository {
	return &InvoiceRepository{db: db, now: time.Now}
}

const invoiceColumns = `
	id, company_id, direction, remote_id, invoice_number, issue_date,
	counterparty_name, counterparty_tax_id, total_amount::text, currency, raw_document,
	fetched_at, remote_status, local_status, linked_ledger_id, source, created_at, updated_at`

// Upsert merges one record keyed by (company_id, direction, remote_id).
// local_status and linked_ledger_id are never part of the update set.
func (r *InvoiceRepository) Upsert(ctx context.Context, rec *models.RemoteInvoiceRecord) (*models.StoredInvoice, bool, error) {
	if err := rec.Validate(); err != nil {
		return nil, false, apperrors.NewValidationError(err.Error())
	}

	query := `
		INSERT INTO stored_invoices (
			id, company_id, direction, remote_id, invoice_number, issue_date,
			counterparty_name, counterparty_tax_id, total_amount, currency, raw_document,
			fetched_at, remote_status, local_status, source, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11, $12,
			COALESCE(NULLIF($13, ''), $14), 'pending', $15, $12, $12)
		ON CONFLICT (company_id, direction, remote_id) DO UPDATE SET
			invoice_number      = COALESCE(NULLIF(EXCLUDED.invoice_number, ''), stored_invoices.invoice_number),
			issue_date          = COALESCE(EXCLUDED.issue_date, stored_invoices.issue_date),
			counterparty_name   = COALESCE(NULLIF(EXCLUDED.counterparty_name, ''), stored_invoices.counterparty_name),
			counterparty_tax_id = COALESCE(NULLIF(EXCLUDED.counterparty_tax_id, ''), stored_invoices.counterparty_tax_id),
			total_amount        = CASE WHEN EXCLUDED.total_amount <> 0 THEN EXCLUDED.total_amount ELSE stored_invoices.total_amount END,
			currency            = COALESCE(NULLIF(EXCLUDED.currency, ''), stored_invoices.currency),
			raw_document        = COALESCE(EXCLUDED.raw_document, stored_invoices.raw_document),
			remote_status       = COALESCE(NULLIF($13, ''), stored_invoices.remote_status),
			fetched_at          = EXCLUDED.fetched_at,
			updated_at          = EXCLUDED.updated_at
		RETURNING ` + invoiceColumns + `, (xmax = 0) AS inserted`

	now := r.now().UTC()
	var issueDate *time.Time
	if !rec.IssueDate.IsZero() {
		issueDate = &rec.IssueDate
	}
	var raw []byte
	if len(rec.RawDocument) > 0 {
		raw = rec.RawDocument
	}

	var inserted bool
	inv, err := scanInvoice(r.db.Pool().QueryRow(ctx, query,
		uuid.NewString(),
		rec.CompanyID,
		rec.Direction,
		rec.RemoteID,
		rec.InvoiceNumber,
		issueDate,
		rec.CounterpartyName,
		rec.CounterpartyTaxID,
		rec.TotalAmount.String(),
		rec.Currency,
		raw,
		now,
		string(rec.RemoteStatus),
		string(types.DefaultRemoteStatus(rec.Direction)),
		rec.Source,
	), &inserted)
	if err != nil {
		return nil, false, apperrors.NewDatabaseError("upsert invoice", err)
	}
	return inv, inserted, nil
}

// GetByID retrieves an invoice by ID
func (r *InvoiceRepository) GetByID(ctx context.Context, id string) (*models.StoredInvoice, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NewNotFoundError("invoice", id)
	}
	query := `SELECT ` + invoiceColumns + ` FROM stored_invoices WHERE id = $1`
	inv, err := scanInvoice(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("invoice", id)
		}
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return inv, nil
}

// GetByKey retrieves an invoice by its idempotence key
func (r *InvoiceRepository) GetByKey(ctx context.Context, key models.InvoiceKey) (*models.StoredInvoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM stored_invoices
		WHERE company_id = $1 AND direction = $2 AND remote_id = $3`
	inv, err := scanInvoice(r.db.Pool().QueryRow(ctx, query, key.CompanyID, key.Direction, key.RemoteID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("invoice", key.RemoteID)
		}
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return inv, nil
}

var sortColumns = map[string]string{
	"":               "issue_date",
	"issue_date":     "issue_date",
	"total_amount":   "total_amount",
	"invoice_number": "invoice_number",
	"created_at":     "created_at",
	"counterparty":   "counterparty_name",
}

// List returns one page of invoices matching filter and the total match count
func (r *InvoiceRepository) List(ctx context.Context, filter models.InvoiceFilter) ([]*models.StoredInvoice, int, error) {
	where, args := buildInvoiceFilter(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM stored_invoices WHERE ` + where
	if err := r.db.Pool().QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count invoices: %w", err)
	}

	column, ok := sortColumns[filter.SortBy]
	if !ok {
		return nil, 0, apperrors.NewInvalidParameterError("sort", "unsupported sort column")
	}
	order := "ASC"
	if filter.Descending {
		order = "DESC"
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	args = append(args, limit, max(filter.Offset, 0))
	query := fmt.Sprintf(`SELECT %s FROM stored_invoices WHERE %s ORDER BY %s %s NULLS LAST, id LIMIT $%d OFFSET $%d`,
		invoiceColumns, where, column, order, len(args)-1, len(args))

	invoices, err := r.queryInvoices(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return invoices, total, nil
}

func buildInvoiceFilter(f models.InvoiceFilter) (string, []interface{}) {
	conds := []string{"company_id = $1"}
	args := []interface{}{f.CompanyID}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Direction != "" {
		add("direction = $%d", f.Direction)
	}
	if f.LocalStatus != "" {
		add("local_status = $%d", f.LocalStatus)
	}
	if f.RemoteStatus != "" {
		add("remote_status = $%d", f.RemoteStatus)
	}
	if f.From != nil {
		add("issue_date >= $%d", *f.From)
	}
	if f.To != nil {
		add("issue_date <= $%d", *f.To)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		args = append(args, "%"+s+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(invoice_number ILIKE $%d OR counterparty_name ILIKE $%d OR counterparty_tax_id ILIKE $%d)", n, n, n))
	}
	return strings.Join(conds, " AND "), args
}

// ListIncomplete returns invoices missing a number, a counterparty or an amount,
// one keyset page at a time
func (r *InvoiceRepository) ListIncomplete(ctx context.Context, companyID string, after *models.IncompleteCursor, limit int) ([]*models.StoredInvoice, error) {
	if after == nil {
		query := `SELECT ` + invoiceColumns + ` FROM stored_invoices
			WHERE company_id = $1
			  AND (invoice_number = '' OR counterparty_name = '' OR total_amount = 0)
			ORDER BY created_at, id
			LIMIT $2`
		return r.queryInvoices(ctx, query, companyID, limit)
	}
	query := `SELECT ` + invoiceColumns + ` FROM stored_invoices
		WHERE company_id = $1
		  AND (invoice_number = '' OR counterparty_name = '' OR total_amount = 0)
		  AND (created_at, id) > ($2, $3::uuid)
		ORDER BY created_at, id
		LIMIT $4`
	return r.queryInvoices(ctx, query, companyID, after.CreatedAt, after.ID, limit)
}

// ListImported returns imported invoices of one direction
func (r *InvoiceRepository) ListImported(ctx context.Context, companyID string, direction types.Direction) ([]*models.StoredInvoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM stored_invoices
		WHERE company_id = $1 AND direction = $2 AND local_status = 'imported'
		ORDER BY issue_date NULLS LAST, id`
	return r.queryInvoices(ctx, query, companyID, direction)
}

func (r *InvoiceRepository) queryInvoices(ctx context.Context, query string, args ...interface{}) ([]*models.StoredInvoice, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*models.StoredInvoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invoices: %w", err)
	}
	return invoices, nil
}

// UpdateLocalStatus applies a local transition guarded by the current status
func (r *InvoiceRepository) UpdateLocalStatus(ctx context.Context, id string, to types.LocalStatus, remote types.RemoteStatus) (bool, error) {
	from := types.StatesFrom(to)
	if len(from) == 0 {
		return false, apperrors.NewInvalidTransitionError("", to)
	}
	query := `
		UPDATE stored_invoices
		SET local_status = $2, remote_status = $3, updated_at = $4
		WHERE id = $1 AND local_status = ANY($5::text[])`
	result, err := r.db.Pool().Exec(ctx, query, id, to, remote, r.now().UTC(), localStatusStrings(from))
	if err != nil {
		return false, apperrors.NewDatabaseError("update local status", err)
	}
	return result.RowsAffected() == 1, nil
}

// UpdateRemoteStatus records a status the platform confirmed
func (r *InvoiceRepository) UpdateRemoteStatus(ctx context.Context, id string, remote types.RemoteStatus) error {
	query := `UPDATE stored_invoices SET remote_status = $2, updated_at = $3 WHERE id = $1`
	result, err := r.db.Pool().Exec(ctx, query, id, remote, r.now().UTC())
	if err != nil {
		return apperrors.NewDatabaseError("update remote status", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("invoice", id)
	}
	return nil
}

// MarkImported sets the ledger link once; a second call matches no row
func (r *InvoiceRepository) MarkImported(ctx context.Context, id, ledgerID string) (bool, error) {
	query := `
		UPDATE stored_invoices
		SET local_status = 'imported', linked_ledger_id = $2, updated_at = $3
		WHERE id = $1
		  AND linked_ledger_id IS NULL
		  AND local_status IN ('pending', 'approved')`
	result, err := r.db.Pool().Exec(ctx, query, id, ledgerID, r.now().UTC())
	if err != nil {
		return false, apperrors.NewDatabaseError("mark imported", err)
	}
	return result.RowsAffected() == 1, nil
}

// Relink swaps the ledger link of an imported invoice if it still equals expected
func (r *InvoiceRepository) Relink(ctx context.Context, id string, expected *string, ledgerID string) (bool, error) {
	query := `
		UPDATE stored_invoices
		SET linked_ledger_id = $3, updated_at = $4
		WHERE id = $1
		  AND local_status = 'imported'
		  AND linked_ledger_id IS NOT DISTINCT FROM $2`
	result, err := r.db.Pool().Exec(ctx, query, id, expected, ledgerID, r.now().UTC())
	if err != nil {
		return false, apperrors.NewDatabaseError("relink ledger entry", err)
	}
	return result.RowsAffected() == 1, nil
}

// Delete removes an invoice from the local archive
func (r *InvoiceRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperrors.NewNotFoundError("invoice", id)
	}
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM stored_invoices WHERE id = $1`, id)
	if err != nil {
		return apperrors.NewDatabaseError("delete invoice", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("invoice", id)
	}
	return nil
}

// DeleteNotImported clears a company's archive except rows linked to the ledger
func (r *InvoiceRepository) DeleteNotImported(ctx context.Context, companyID string) (int64, error) {
	query := `
		DELETE FROM stored_invoices
		WHERE company_id = $1 AND local_status <> 'imported' AND linked_ledger_id IS NULL`
	result, err := r.db.Pool().Exec(ctx, query, companyID)
	if err != nil {
		return 0, apperrors.NewDatabaseError("clear invoices", err)
	}
	return result.RowsAffected(), nil
}

func scanInvoice(row pgx.Row, extra ...interface{}) (*models.StoredInvoice, error) {
	var inv models.StoredInvoice
	var issueDate *time.Time
	var amount string

	dest := []interface{}{
		&inv.ID,
		&inv.CompanyID,
		&inv.Direction,
		&inv.RemoteID,
		&inv.InvoiceNumber,
		&issueDate,
		&inv.CounterpartyName,
		&inv.CounterpartyTaxID,
		&amount,
		&inv.Currency,
		&inv.RawDocument,
		&inv.FetchedAt,
		&inv.RemoteStatus,
		&inv.LocalStatus,
		&inv.LinkedLedgerID,
		&inv.Source,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	if issueDate != nil {
		inv.IssueDate = *issueDate
	}
	total, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	inv.TotalAmount = total
	return &inv, nil
}

func localStatusStrings(states []types.LocalStatus) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
