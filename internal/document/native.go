package document

import (
	"context"
	"encoding/xml"
	"io"
	"strings"

	"github.com/invoice-sync/internal/types"
)

// Native export layout of the platform:
//
//	<EInvoice><Id/><Number/><IssueDate/><Status/><Seller/><Buyer/><Total currency=""/></EInvoice>
type nativeInvoice struct {
	XMLName   xml.Name    `xml:"EInvoice"`
	ID        string      `xml:"Id"`
	Number    string      `xml:"Number"`
	IssueDate string      `xml:"IssueDate"`
	Status    string      `xml:"Status"`
	Seller    nativeParty `xml:"Seller"`
	Buyer     nativeParty `xml:"Buyer"`
	Total     nativeTotal `xml:"Total"`
}

type nativeParty struct {
	Name  string `xml:"Name"`
	TaxID string `xml:"TaxId"`
}

type nativeTotal struct {
	Currency string `xml:"currency,attr"`
	Value    string `xml:",chardata"`
}

// NativeAdapter parses the platform's own export layout
type NativeAdapter struct{}

// NewNativeAdapter creates a new native layout adapter
func NewNativeAdapter() *NativeAdapter {
	return &NativeAdapter{}
}

// Format returns the layout name
func (a *NativeAdapter) Format() Format {
	return FormatNative
}

// CanParse checks for the <EInvoice> root
func (a *NativeAdapter) CanParse(root xml.Name) bool {
	return root.Local == "EInvoice"
}

// Parse parses a native XML document
func (a *NativeAdapter) Parse(ctx context.Context, r io.Reader) (*Document, error) {
	var inv nativeInvoice
	if err := xml.NewDecoder(r).Decode(&inv); err != nil {
		return nil, newParseError(FormatNative, "xml", "failed to parse XML", err)
	}
	if strings.TrimSpace(inv.ID) == "" {
		return nil, newParseError(FormatNative, "Id", "missing invoice id", nil)
	}

	doc := &Document{
		Format:   FormatNative,
		RemoteID: strings.TrimSpace(inv.ID),
		Number:   strings.TrimSpace(inv.Number),
		Seller:   Party{Name: strings.TrimSpace(inv.Seller.Name), TaxID: strings.TrimSpace(inv.Seller.TaxID)},
		Buyer:    Party{Name: strings.TrimSpace(inv.Buyer.Name), TaxID: strings.TrimSpace(inv.Buyer.TaxID)},
		Currency: strings.ToUpper(strings.TrimSpace(inv.Total.Currency)),
	}

	if inv.IssueDate != "" {
		date, err := parseDate(inv.IssueDate)
		if err != nil {
			return nil, newParseError(FormatNative, "IssueDate", "invalid date", err)
		}
		doc.IssueDate = date
	}

	total, err := parseAmount(inv.Total.Value)
	if err != nil {
		return nil, newParseError(FormatNative, "Total", "invalid amount", err)
	}
	doc.Total = total

	if s := strings.TrimSpace(inv.Status); s != "" {
		status, err := types.ParseRemoteStatus(s)
		if err != nil {
			return nil, newParseError(FormatNative, "Status", "unknown status", err)
		}
		doc.Status = status
	}
	return doc, nil
}
