package document

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoice-sync/internal/types"
)

const nativeXML = `<?xml version="1.0" encoding="UTF-8"?>
<EInvoice>
  <Id>KSeF-2025-0001</Id>
  <Number>FV/03/2025</Number>
  <IssueDate>2025-03-14</IssueDate>
  <Status>seen</Status>
  <Seller><Name>Supplier Sp. z o.o.</Name><TaxId>PL 111-222-33-44</TaxId></Seller>
  <Buyer><Name>Our Company</Name><TaxId>5556667788</TaxId></Buyer>
  <Total currency="pln">1230.00</Total>
</EInvoice>`

const ublXML = `<?xml version="1.0" encoding="UTF-8"?>
<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
  xmlns:cac="urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
  xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2">
  <cbc:ID>S-2025-17</cbc:ID>
  <cbc:UUID>6f1c2a3e-0000-4000-8000-000000000017</cbc:UUID>
  <cbc:IssueDate>2025-04-01</cbc:IssueDate>
  <cbc:DocumentCurrencyCode>EUR</cbc:DocumentCurrencyCode>
  <cac:AccountingSupplierParty><cac:Party>
    <cac:PartyTaxScheme><cbc:CompanyID>5556667788</cbc:CompanyID></cac:PartyTaxScheme>
    <cac:PartyLegalEntity><cbc:RegistrationName>Our Company</cbc:RegistrationName></cac:PartyLegalEntity>
  </cac:Party></cac:AccountingSupplierParty>
  <cac:AccountingCustomerParty><cac:Party>
    <cac:PartyName><cbc:Name>Customer GmbH</cbc:Name></cac:PartyName>
    <cac:PartyTaxScheme><cbc:CompanyID>DE999</cbc:CompanyID></cac:PartyTaxScheme>
  </cac:Party></cac:AccountingCustomerParty>
  <cac:LegalMonetaryTotal><cbc:PayableAmount currencyID="EUR">99.90</cbc:PayableAmount></cac:LegalMonetaryTotal>
</Invoice>`

func TestParseNative(t *testing.T) {
	doc, err := NewRegistry().Parse(context.Background(), []byte(nativeXML))
	require.NoError(t, err)

	assert.Equal(t, FormatNative, doc.Format)
	assert.Equal(t, "KSeF-2025-0001", doc.RemoteID)
	assert.Equal(t, "FV/03/2025", doc.Number)
	assert.Equal(t, "2025-03-14", doc.IssueDate.Format("2006-01-02"))
	assert.Equal(t, types.RemoteStatusSeen, doc.Status)
	assert.Equal(t, "PLN", doc.Currency)
	assert.Equal(t, "1230", doc.Total.String())
	assert.Equal(t, []byte(nativeXML), doc.Raw)

	dir, err := doc.Direction("5556667788")
	require.NoError(t, err)
	assert.Equal(t, types.DirectionPurchase, dir)

	rec := doc.ToRecord("c-1", dir, types.SourceFile)
	assert.Equal(t, "Supplier Sp. z o.o.", rec.CounterpartyName)
	assert.Equal(t, types.RemoteStatusSeen, rec.RemoteStatus)
	assert.Equal(t, types.SourceFile, rec.Source)
}

func TestParseUBL(t *testing.T) {
	doc, err := NewRegistry().Parse(context.Background(), []byte(ublXML))
	require.NoError(t, err)

	assert.Equal(t, FormatUBL, doc.Format)
	assert.Equal(t, "6f1c2a3e-0000-4000-8000-000000000017", doc.RemoteID)
	assert.Equal(t, "S-2025-17", doc.Number)
	assert.Equal(t, "Our Company", doc.Seller.Name)
	assert.Equal(t, "Customer GmbH", doc.Buyer.Name)
	assert.Equal(t, "99.9", doc.Total.String())
	assert.Empty(t, doc.Status)

	dir, err := doc.Direction("555-666-77-88")
	require.NoError(t, err)
	assert.Equal(t, types.DirectionSales, dir)

	rec := doc.ToRecord("c-1", dir, types.SourceFile)
	assert.Equal(t, "Customer GmbH", rec.CounterpartyName)
	assert.Equal(t, "DE999", rec.CounterpartyTaxID)
	assert.Empty(t, rec.RemoteStatus, "layout has no status")
	assert.Equal(t, types.RemoteStatusSent, rec.EffectiveStatus())
}

func TestDirectionUnknown(t *testing.T) {
	doc, err := NewRegistry().Parse(context.Background(), []byte(nativeXML))
	require.NoError(t, err)

	_, err = doc.Direction("")
	assert.Error(t, err)
	_, err = doc.Direction("000")
	assert.Error(t, err)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not xml", "direction,remote_id"},
		{"unknown root", "<Order><Id>1</Id></Order>"},
		{"native without id", "<EInvoice><Number>1</Number></EInvoice>"},
		{"native bad date", "<EInvoice><Id>1</Id><IssueDate>14.03.2025</IssueDate></EInvoice>"},
		{"native bad amount", "<EInvoice><Id>1</Id><Total>abc</Total></EInvoice>"},
		{"native bad status", "<EInvoice><Id>1</Id><Status>archived</Status></EInvoice>"},
		{"ubl without id", "<Invoice><IssueDate>2025-01-01</IssueDate></Invoice>"},
		{"truncated", "<EInvoice><Id>1</Id>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry().Parse(context.Background(), []byte(tt.input))
			require.Error(t, err)
			var perr *ParseError
			assert.True(t, errors.As(err, &perr))
		})
	}
}
