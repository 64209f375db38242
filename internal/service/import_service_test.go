package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoice-sync/internal/models"
	"github.com/invoice-sync/internal/types"
)

const csvHeader = "direction,remote_id,invoice_number,issue_date,counterparty_name,counterparty_tax_id,total_amount,currency,remote_status\n"

type countingCleaner struct {
	InvoiceCleaner
	calls []string
}

func (c *countingCleaner) DeleteNotImported(ctx context.Context, companyID string) (int64, error) {
	c.calls = append(c.calls, companyID)
	return c.InvoiceCleaner.DeleteNotImported(ctx, companyID)
}

func newImportEnv(chunkSize int) (*testEnv, *countingCleaner, *ImportService) {
	env := newTestEnv()
	cleaner := &countingCleaner{InvoiceCleaner: env.store}
	return env, cleaner, NewImportService(env.svc, cleaner, nil, chunkSize)
}

func csvRows(n int) string {
	var b strings.Builder
	b.WriteString(csvHeader)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "purchase,R-%03d,FV/%d/2026,2026-08-%02d,Supplier %d,PL%010d,%d.50,pln,\n", i, i, i%28+1, i, i, 100+i)
	}
	return b.String()
}

func TestImportCSV101RowsOneMalformed(t *testing.T) {
	env, _, svc := newImportEnv(0)
	ctx := context.Background()

	lines := strings.Split(strings.TrimSuffix(csvRows(101), "\n"), "\n")
	lines[37] = "purchase,R-036,FV/36/2026,2026-08-07"

	batch := svc.ImportCSV(ctx, "c1", []byte(strings.Join(lines, "\n")+"\n"), false)
	assert.Equal(t, 100, batch.Imported)
	assert.Equal(t, 1, batch.ParseErrors)
	assert.Equal(t, 101, batch.Total())
	require.Len(t, batch.Rejected, 1)
	assert.Equal(t, 38, batch.Rejected[0].Row)
	assert.Equal(t, "R-036", batch.Rejected[0].Reference)

	_, total, err := env.store.List(ctx, models.InvoiceFilter{CompanyID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 100, total)

	// a second upload of the same file stores nothing new
	batch = svc.ImportCSV(ctx, "c1", []byte(strings.Join(lines, "\n")+"\n"), false)
	assert.Zero(t, batch.Imported)
	assert.Equal(t, 100, batch.Updated)
}

func TestImportCSVClearsOnlyBeforeFirstChunk(t *testing.T) {
	env, cleaner, svc := newImportEnv(10)
	ctx := context.Background()

	imported := env.seed(t, record("S-LEDGER", types.DirectionSales))[0]
	_, err := env.svc.ImportToLedger(ctx, imported)
	require.NoError(t, err)
	env.seed(t, record("P-OLD", types.DirectionPurchase))

	batch := svc.ImportCSV(ctx, "c1", []byte(csvRows(25)), true)
	assert.Equal(t, 25, batch.Imported)
	assert.Equal(t, []string{"c1"}, cleaner.calls)

	_, total, err := env.store.List(ctx, models.InvoiceFilter{CompanyID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 26, total)

	kept, err := env.store.GetByID(ctx, imported.ID)
	require.NoError(t, err)
	assert.Equal(t, types.LocalStatusImported, kept.LocalStatus)
}

func TestImportCSVChunkIgnoresClearAfterFirstChunk(t *testing.T) {
	env, cleaner, svc := newImportEnv(0)
	ctx := context.Background()
	env.seed(t, record("P-OLD", types.DirectionPurchase))

	rows, err := ReadCSV(strings.NewReader(csvRows(3)), &models.ImportBatch{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 2, rows[0].Line)

	batch := svc.ImportCSVChunk(ctx, "c1", rows, 1, true)
	assert.Equal(t, 3, batch.Imported)
	assert.Empty(t, cleaner.calls)

	_, total, err := env.store.List(ctx, models.InvoiceFilter{CompanyID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
}

func TestImportCSVEmptyFileStillClears(t *testing.T) {
	env, cleaner, svc := newImportEnv(0)
	env.seed(t, record("P-OLD", types.DirectionPurchase))

	batch := svc.ImportCSV(context.Background(), "c1", []byte(csvHeader), true)
	assert.Zero(t, batch.Total())
	assert.Len(t, cleaner.calls, 1)
}

func TestImportCSVRejectsBadHeader(t *testing.T) {
	_, cleaner, svc := newImportEnv(0)

	batch := svc.ImportCSV(context.Background(), "c1", []byte("id,amount\n1,2\n"), true)
	assert.Equal(t, 1, batch.ParseErrors)
	assert.Zero(t, batch.Imported)
	assert.Empty(t, cleaner.calls)

	batch = svc.ImportCSV(context.Background(), "c1", nil, false)
	assert.Equal(t, 1, batch.ParseErrors)
}

func TestParseCSVRow(t *testing.T) {
	tests := []struct {
		name   string
		row    string
		errMsg string
	}{
		{"valid", "sales,S1,FV/1,2026-01-31,Buyer,DE1,10.00,EUR,delivered", ""},
		{"empty status", "sales,S1,FV/1,2026-01-31,Buyer,DE1,10.00,EUR,", ""},
		{"short row", "sales,S1,FV/1", "expected 9 columns"},
		{"bad direction", "inbound,S1,FV/1,2026-01-31,Buyer,DE1,10.00,EUR,", "unknown direction"},
		{"empty id", "sales,,FV/1,2026-01-31,Buyer,DE1,10.00,EUR,", "remote_id is empty"},
		{"bad date", "sales,S1,FV/1,31.01.2026,Buyer,DE1,10.00,EUR,", "invalid issue_date"},
		{"bad amount", "sales,S1,FV/1,2026-01-31,Buyer,DE1,ten,EUR,", "invalid total_amount"},
		{"bad status", "sales,S1,FV/1,2026-01-31,Buyer,DE1,10.00,EUR,paid", "unknown remote status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := parseCSVRow("c1", strings.Split(tt.row, ","))
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, types.DirectionSales, rec.Direction)
			assert.Equal(t, "10", rec.TotalAmount.String())
			assert.Equal(t, types.SourceFile, rec.Source)
		})
	}
}

func TestImportXML(t *testing.T) {
	env, _, svc := newImportEnv(0)
	ctx := context.Background()
	input := XMLImportInput{CompanyID: "c1", CompanyTaxID: "555-666-77-88"}

	batch := svc.ImportXML(ctx, input, []byte(enrichDocument))
	assert.Equal(t, 1, batch.Imported)

	inv, err := env.store.GetByKey(ctx, models.InvoiceKey{CompanyID: "c1", Direction: types.DirectionPurchase, RemoteID: "P-INC"})
	require.NoError(t, err)
	assert.Equal(t, types.RemoteStatusSeen, inv.RemoteStatus)
	assert.Equal(t, types.SourceFile, inv.Source)
	assert.True(t, inv.HasDocument())

	batch = svc.ImportXML(ctx, input, []byte(enrichDocument))
	assert.Zero(t, batch.Imported)
	assert.Equal(t, 1, batch.Updated)
}

const salesUBL = `<?xml version="1.0" encoding="UTF-8"?>
<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
  xmlns:cac="urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
  xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2">
  <cbc:ID>S-2026-9</cbc:ID>
  <cbc:UUID>S-UBL-9</cbc:UUID>
  <cbc:IssueDate>2026-09-10</cbc:IssueDate>
  <cbc:DocumentCurrencyCode>EUR</cbc:DocumentCurrencyCode>
  <cac:AccountingSupplierParty><cac:Party>
    <cac:PartyTaxScheme><cbc:CompanyID>5556667788</cbc:CompanyID></cac:PartyTaxScheme>
  </cac:Party></cac:AccountingSupplierParty>
  <cac:AccountingCustomerParty><cac:Party>
    <cac:PartyName><cbc:Name>Customer GmbH</cbc:Name></cac:PartyName>
    <cac:PartyTaxScheme><cbc:CompanyID>DE999</cbc:CompanyID></cac:PartyTaxScheme>
  </cac:Party></cac:AccountingCustomerParty>
  <cac:LegalMonetaryTotal><cbc:PayableAmount currencyID="EUR">99.90</cbc:PayableAmount></cac:LegalMonetaryTotal>
</Invoice>`

func TestImportXMLDefaultsStatusByDirection(t *testing.T) {
	env, _, svc := newImportEnv(0)
	ctx := context.Background()

	batch := svc.ImportXML(ctx, XMLImportInput{CompanyID: "c1", CompanyTaxID: "5556667788"}, []byte(salesUBL))
	require.Equal(t, 1, batch.Imported, "rejected: %v", batch.Rejected)

	inv, err := env.store.GetByKey(ctx, models.InvoiceKey{CompanyID: "c1", Direction: types.DirectionSales, RemoteID: "S-UBL-9"})
	require.NoError(t, err)
	assert.Equal(t, types.RemoteStatusSent, inv.RemoteStatus)
	assert.Equal(t, "Customer GmbH", inv.CounterpartyName)
}

func TestImportXMLFailures(t *testing.T) {
	_, _, svc := newImportEnv(0)
	ctx := context.Background()

	batch := svc.ImportXML(ctx, XMLImportInput{CompanyID: "c1", CompanyTaxID: "5556667788"}, []byte("<Order/>"))
	assert.Equal(t, 1, batch.ParseErrors)

	batch = svc.ImportXML(ctx, XMLImportInput{CompanyID: "c1", CompanyTaxID: "0000000000"}, []byte(enrichDocument))
	assert.Equal(t, 1, batch.ParseErrors)
	assert.Equal(t, "P-INC", batch.Rejected[0].Reference)

	batch = svc.ImportXML(ctx, XMLImportInput{CompanyID: "c1", Direction: types.DirectionSales}, []byte(enrichDocument))
	assert.Equal(t, 1, batch.Imported)
}
