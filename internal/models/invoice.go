package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/invoice-sync/internal/types"
)

// InvoiceKey identifies an invoice across fetches, pushes and file imports
type InvoiceKey struct {
	CompanyID string          `json:"companyId"`
	Direction types.Direction `json:"direction"`
	RemoteID  string          `json:"remoteId"`
}

// RemoteInvoiceRecord is the platform-derived view of an invoice.
// Merging one into the store never touches local decisions.
type RemoteInvoiceRecord struct {
	CompanyID         string              `json:"companyId"`
	Direction         types.Direction     `json:"direction"`
	RemoteID          string              `json:"remoteId"`
	InvoiceNumber     string              `json:"invoiceNumber"`
	IssueDate         time.Time           `json:"issueDate"`
	CounterpartyName  string              `json:"counterpartyName"`
	CounterpartyTaxID string              `json:"counterpartyTaxId"`
	TotalAmount       decimal.Decimal     `json:"totalAmount"`
	Currency          string              `json:"currency"`
	RemoteStatus      types.RemoteStatus  `json:"remoteStatus"`
	RawDocument       []byte              `json:"-"`
	Source            types.InvoiceSource `json:"source"`
}

// Key returns the record's identity
func (r *RemoteInvoiceRecord) Key() InvoiceKey {
	return InvoiceKey{CompanyID: r.CompanyID, Direction: r.Direction, RemoteID: r.RemoteID}
}

// EffectiveStatus is the status a new row gets: the record's own, or the
// direction default when the source carried none
func (r *RemoteInvoiceRecord) EffectiveStatus() types.RemoteStatus {
	if r.RemoteStatus != "" {
		return r.RemoteStatus
	}
	return types.DefaultRemoteStatus(r.Direction)
}

// Validate checks the fields every stored invoice needs
func (r *RemoteInvoiceRecord) Validate() error {
	switch {
	case r.CompanyID == "":
		return fmt.Errorf("company id is required")
	case !r.Direction.Valid():
		return fmt.Errorf("invalid direction %q", r.Direction)
	case r.RemoteID == "":
		return fmt.Errorf("remote id is required")
	case r.RemoteStatus != "" && !r.RemoteStatus.Valid():
		return fmt.Errorf("unknown remote status %q", r.RemoteStatus)
	}
	return nil
}

// NewStoredInvoice builds the row inserted for a record seen for the first time
func NewStoredInvoice(id string, r *RemoteInvoiceRecord, now time.Time) *StoredInvoice {
	inv := &StoredInvoice{
		ID:          id,
		CompanyID:   r.CompanyID,
		Direction:   r.Direction,
		RemoteID:    r.RemoteID,
		LocalStatus: types.LocalStatusPending,
		Source:      r.Source,
		FetchedAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	inv.ApplyRemote(r)
	inv.RemoteStatus = r.EffectiveStatus()
	return inv
}

// StoredInvoice represents the canonical local copy of an invoice
type StoredInvoice struct {
	ID                string              `json:"id" db:"id"`
	CompanyID         string              `json:"companyId" db:"company_id"`
	Direction         types.Direction     `json:"direction" db:"direction"`
	RemoteID          string              `json:"remoteId" db:"remote_id"`
	InvoiceNumber     string              `json:"invoiceNumber" db:"invoice_number"`
	IssueDate         time.Time           `json:"issueDate" db:"issue_date"`
	CounterpartyName  string              `json:"counterpartyName" db:"counterparty_name"`
	CounterpartyTaxID string              `json:"counterpartyTaxId" db:"counterparty_tax_id"`
	TotalAmount       decimal.Decimal     `json:"totalAmount" db:"total_amount"`
	Currency          string              `json:"currency" db:"currency"`
	RawDocument       []byte              `json:"-" db:"raw_document"`
	FetchedAt         time.Time           `json:"fetchedAt" db:"fetched_at"`
	RemoteStatus      types.RemoteStatus  `json:"remoteStatus" db:"remote_status"`
	LocalStatus       types.LocalStatus   `json:"localStatus" db:"local_status"`
	LinkedLedgerID    *string             `json:"linkedLedgerId,omitempty" db:"linked_ledger_id"`
	Source            types.InvoiceSource `json:"source" db:"source"`
	CreatedAt         time.Time           `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time           `json:"updatedAt" db:"updated_at"`
}

// Key returns the invoice's identity
func (i *StoredInvoice) Key() InvoiceKey {
	return InvoiceKey{CompanyID: i.CompanyID, Direction: i.Direction, RemoteID: i.RemoteID}
}

// IsIncomplete reports whether summary fields are missing and need the full document
func (i *StoredInvoice) IsIncomplete() bool {
	return i.InvoiceNumber == "" || i.CounterpartyName == "" || i.TotalAmount.IsZero()
}

// IsImported reports whether a ledger entry exists for this invoice
func (i *StoredInvoice) IsImported() bool {
	return i.LocalStatus == types.LocalStatusImported || i.LinkedLedgerID != nil
}

// HasDocument reports whether the raw document is cached locally
func (i *StoredInvoice) HasDocument() bool {
	return len(i.RawDocument) > 0
}

// Clone returns a deep copy of i
func (i *StoredInvoice) Clone() *StoredInvoice {
	c := *i
	c.LinkedLedgerID = cloneString(i.LinkedLedgerID)
	if i.RawDocument != nil {
		c.RawDocument = append([]byte(nil), i.RawDocument...)
	}
	return &c
}

// ApplyRemote overwrites the remote-derived fields of i with r.
// Local status and the ledger link are left as they are. Empty summary fields in r
// do not erase values already present (an enriched record stays enriched).
func (i *StoredInvoice) ApplyRemote(r *RemoteInvoiceRecord) {
	if r.InvoiceNumber != "" {
		i.InvoiceNumber = r.InvoiceNumber
	}
	if !r.IssueDate.IsZero() {
		i.IssueDate = r.IssueDate
	}
	if r.CounterpartyName != "" {
		i.CounterpartyName = r.CounterpartyName
	}
	if r.CounterpartyTaxID != "" {
		i.CounterpartyTaxID = r.CounterpartyTaxID
	}
	if !r.TotalAmount.IsZero() {
		i.TotalAmount = r.TotalAmount
	}
	if r.Currency != "" {
		i.Currency = r.Currency
	}
	if r.RemoteStatus != "" {
		i.RemoteStatus = r.RemoteStatus
	}
	if len(r.RawDocument) > 0 {
		i.RawDocument = append([]byte(nil), r.RawDocument...)
	}
}

// IncompleteCursor marks the last invoice of a page of enrichment candidates.
// Candidates are ordered by (CreatedAt, ID).
type IncompleteCursor struct {
	CreatedAt time.Time
	ID        string
}

// After reports whether inv sorts after the cursor
func (c *IncompleteCursor) After(inv *StoredInvoice) bool {
	if c == nil {
		return true
	}
	if inv.CreatedAt.Equal(c.CreatedAt) {
		return inv.ID > c.ID
	}
	return inv.CreatedAt.After(c.CreatedAt)
}

// InvoiceFilter narrows an invoice listing
type InvoiceFilter struct {
	CompanyID    string
	Direction    types.Direction
	LocalStatus  types.LocalStatus
	RemoteStatus types.RemoteStatus
	From         *time.Time
	To           *time.Time
	Search       string // matches number, counterparty name or tax id
	SortBy       string // issue_date, total_amount, invoice_number, created_at
	Descending   bool
	Limit        int
	Offset       int
}
