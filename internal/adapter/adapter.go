// Package adapter holds the clients for the remote e-invoice platform and the
// accounting ledger. Clients classify failures as transient or fatal and never retry.
package adapter

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/invoice-sync/internal/models"
	"github.com/invoice-sync/internal/types"
)

// RemoteInvoiceFetcher reads invoices from the e-invoice platform and requests
// state changes on it. Every error it returns is either transient
// (errors.IsTransient) or fatal (errors.IsFatalRemote).
type RemoteInvoiceFetcher interface {
	// FetchInvoices lists invoices issued in [from, to] (dates inclusive)
	FetchInvoices(ctx context.Context, companyID string, direction types.Direction, from, to time.Time) ([]models.RemoteInvoiceRecord, error)
	// FetchDocument returns the full XML document of one invoice
	FetchDocument(ctx context.Context, companyID, remoteID string) ([]byte, error)
	// ChangeState asks the platform to approve, reject, cancel or storno an invoice
	ChangeState(ctx context.Context, companyID, remoteID string, action types.StateAction, comment string) error
}

// LedgerEntry is what the ledger receives for one imported invoice
type LedgerEntry struct {
	CompanyID         string          `json:"companyId"`
	Direction         types.Direction `json:"direction"`
	ExternalRef       string          `json:"externalRef"`
	DocumentNumber    string          `json:"documentNumber"`
	IssueDate         string          `json:"issueDate"`
	CounterpartyName  string          `json:"counterpartyName"`
	CounterpartyTaxID string          `json:"counterpartyTaxId"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	Currency          string          `json:"currency"`
}

// NewLedgerEntry maps a stored invoice to a ledger entry
func NewLedgerEntry(inv *models.StoredInvoice) LedgerEntry {
	return LedgerEntry{
		CompanyID:         inv.CompanyID,
		Direction:         inv.Direction,
		ExternalRef:       inv.RemoteID,
		DocumentNumber:    inv.InvoiceNumber,
		IssueDate:         inv.IssueDate.Format(dateLayout),
		CounterpartyName:  inv.CounterpartyName,
		CounterpartyTaxID: inv.CounterpartyTaxID,
		TotalAmount:       inv.TotalAmount,
		Currency:          inv.Currency,
	}
}

// LedgerBridge is the accounting side. Creating an entry with an idempotency key the
// ledger has already seen returns the existing entry id.
type LedgerBridge interface {
	CreateEntry(ctx context.Context, entry LedgerEntry, idempotencyKey string) (string, error)
	EntryExists(ctx context.Context, ledgerID string) (bool, error)
}

// SalesCancelAction picks the platform action that withdraws a sales invoice:
// documents the buyer may already hold need a storno.
func SalesCancelAction(status types.RemoteStatus) types.StateAction {
	if status.RequiresStorno() {
		return types.ActionStorno
	}
	return types.ActionCancel
}

// ResultingRemoteStatus is the platform status after a successful action
func ResultingRemoteStatus(action types.StateAction) types.RemoteStatus {
	switch action {
	case types.ActionApprove:
		return types.RemoteStatusApproved
	case types.ActionReject:
		return types.RemoteStatusRejected
	case types.ActionStorno:
		return types.RemoteStatusStorno
	default:
		return types.RemoteStatusCancelled
	}
}

const dateLayout = "2006-01-02"
