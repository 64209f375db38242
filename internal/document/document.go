// Package document parses single e-invoice XML documents in the layouts the
// platform exports, and maps them onto invoice records.
package document

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/invoice-sync/internal/models"
	"github.com/invoice-sync/internal/types"
)

// Format names a recognised XML layout
type Format string

const (
	FormatNative Format = "native"
	FormatUBL    Format = "ubl"
)

// Party is one side of an invoice
type Party struct {
	Name  string
	TaxID string
}

// Document is the format-independent content of an invoice XML
type Document struct {
	Format    Format
	RemoteID  string
	Number    string
	IssueDate time.Time
	Seller    Party
	Buyer     Party
	Total     decimal.Decimal
	Currency  string
	Status    types.RemoteStatus // empty when the layout carries none
	Raw       []byte
}

// ParseError reports a document that could not be read
type ParseError struct {
	Format  Format
	Field   string
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Format, e.Field, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Format, e.Field, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

func newParseError(format Format, field, message string, cause error) *ParseError {
	return &ParseError{Format: format, Field: field, Message: message, Cause: cause}
}

// Adapter parses one XML layout
type Adapter interface {
	Parse(ctx context.Context, r io.Reader) (*Document, error)
	// CanParse reports whether the document's root element belongs to this layout
	CanParse(root xml.Name) bool
	Format() Format
}

// Registry holds all registered adapters
type Registry struct {
	adapters []Adapter
}

// NewRegistry creates a registry with the built-in layouts
func NewRegistry() *Registry {
	return &Registry{
		adapters: []Adapter{
			NewNativeAdapter(),
			NewUBLAdapter(),
		},
	}
}

// RegisterAdapter adds an adapter that takes priority over the built-in ones
func (r *Registry) RegisterAdapter(a Adapter) {
	r.adapters = append([]Adapter{a}, r.adapters...)
}

// Detect identifies the layout from the root element
func (r *Registry) Detect(content []byte) (Adapter, error) {
	root, err := rootElement(content)
	if err != nil {
		return nil, newParseError("unknown", "root", "not an XML document", err)
	}
	for _, a := range r.adapters {
		if a.CanParse(root) {
			return a, nil
		}
	}
	return nil, newParseError("unknown", "root", fmt.Sprintf("unknown XML layout <%s>", root.Local), nil)
}

// Parse parses content with the matching adapter. The raw bytes are kept on the result.
func (r *Registry) Parse(ctx context.Context, content []byte) (*Document, error) {
	adapter, err := r.Detect(content)
	if err != nil {
		return nil, err
	}
	doc, err := adapter.Parse(ctx, bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	doc.Raw = content
	return doc, nil
}

func rootElement(content []byte) (xml.Name, error) {
	dec := xml.NewDecoder(bytes.NewReader(content))
	for {
		tok, err := dec.Token()
		if err != nil {
			return xml.Name{}, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name, nil
		}
	}
}

// Direction derives purchase or sales from the company's tax id
func (d *Document) Direction(companyTaxID string) (types.Direction, error) {
	tax := normalizeTaxID(companyTaxID)
	switch {
	case tax == "":
		return "", fmt.Errorf("direction unknown: no company tax id given")
	case normalizeTaxID(d.Seller.TaxID) == tax:
		return types.DirectionSales, nil
	case normalizeTaxID(d.Buyer.TaxID) == tax:
		return types.DirectionPurchase, nil
	default:
		return "", fmt.Errorf("company tax id %s is neither seller nor buyer", companyTaxID)
	}
}

// Counterparty returns the other side of the invoice for the given direction
func (d *Document) Counterparty(direction types.Direction) Party {
	if direction == types.DirectionSales {
		return d.Buyer
	}
	return d.Seller
}

// ToRecord maps the document onto a remote invoice record. A layout without a
// status leaves RemoteStatus empty: the store applies the direction default on
// insert and keeps a known status on merge.
func (d *Document) ToRecord(companyID string, direction types.Direction, source types.InvoiceSource) models.RemoteInvoiceRecord {
	cp := d.Counterparty(direction)
	return models.RemoteInvoiceRecord{
		CompanyID:         companyID,
		Direction:         direction,
		RemoteID:          d.RemoteID,
		InvoiceNumber:     d.Number,
		IssueDate:         d.IssueDate,
		CounterpartyName:  cp.Name,
		CounterpartyTaxID: cp.TaxID,
		TotalAmount:       d.Total,
		Currency:          d.Currency,
		RemoteStatus:      d.Status,
		RawDocument:       d.Raw,
		Source:            source,
	}
}

func normalizeTaxID(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
