package document

import (
	"context"
	"encoding/xml"
	"io"
	"strings"
)

// UBL 2.1 invoice; elements are matched by local name so the cac/cbc
// namespaces need no declaration here.
type ublInvoice struct {
	XMLName   xml.Name    `xml:"Invoice"`
	ID        string      `xml:"ID"`
	UUID      string      `xml:"UUID"`
	IssueDate string      `xml:"IssueDate"`
	Currency  string      `xml:"DocumentCurrencyCode"`
	Supplier  ublParty    `xml:"AccountingSupplierParty>Party"`
	Customer  ublParty    `xml:"AccountingCustomerParty>Party"`
	Total     ublMonetary `xml:"LegalMonetaryTotal"`
}

type ublParty struct {
	Name      string `xml:"PartyName>Name"`
	LegalName string `xml:"PartyLegalEntity>RegistrationName"`
	TaxID     string `xml:"PartyTaxScheme>CompanyID"`
}

type ublAmount struct {
	Currency string `xml:"currencyID,attr"`
	Value    string `xml:",chardata"`
}

type ublMonetary struct {
	Payable ublAmount `xml:"PayableAmount"`
	TaxIncl ublAmount `xml:"TaxInclusiveAmount"`
}

// UBLAdapter parses UBL 2.1 invoices
type UBLAdapter struct{}

// NewUBLAdapter creates a new UBL adapter
func NewUBLAdapter() *UBLAdapter {
	return &UBLAdapter{}
}

// Format returns the layout name
func (a *UBLAdapter) Format() Format {
	return FormatUBL
}

// CanParse checks for the <Invoice> root
func (a *UBLAdapter) CanParse(root xml.Name) bool {
	return root.Local == "Invoice"
}

// Parse parses a UBL document. UBL carries no platform status.
func (a *UBLAdapter) Parse(ctx context.Context, r io.Reader) (*Document, error) {
	var inv ublInvoice
	if err := xml.NewDecoder(r).Decode(&inv); err != nil {
		return nil, newParseError(FormatUBL, "xml", "failed to parse XML", err)
	}

	remoteID := strings.TrimSpace(inv.UUID)
	if remoteID == "" {
		remoteID = strings.TrimSpace(inv.ID)
	}
	if remoteID == "" {
		return nil, newParseError(FormatUBL, "ID", "missing invoice id", nil)
	}

	doc := &Document{
		Format:   FormatUBL,
		RemoteID: remoteID,
		Number:   strings.TrimSpace(inv.ID),
		Seller:   ublPartyOf(inv.Supplier),
		Buyer:    ublPartyOf(inv.Customer),
		Currency: strings.ToUpper(strings.TrimSpace(inv.Currency)),
	}

	if inv.IssueDate != "" {
		date, err := parseDate(inv.IssueDate)
		if err != nil {
			return nil, newParseError(FormatUBL, "IssueDate", "invalid date", err)
		}
		doc.IssueDate = date
	}

	amount := inv.Total.Payable
	if strings.TrimSpace(amount.Value) == "" {
		amount = inv.Total.TaxIncl
	}
	total, err := parseAmount(amount.Value)
	if err != nil {
		return nil, newParseError(FormatUBL, "LegalMonetaryTotal", "invalid amount", err)
	}
	doc.Total = total
	if doc.Currency == "" {
		doc.Currency = strings.ToUpper(strings.TrimSpace(amount.Currency))
	}
	return doc, nil
}

func ublPartyOf(p ublParty) Party {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = strings.TrimSpace(p.LegalName)
	}
	return Party{Name: name, TaxID: strings.TrimSpace(p.TaxID)}
}
