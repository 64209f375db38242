package service

import (
	"bytes"
	"context"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/invoice-sync/internal/document"
	apperrors "github.com/invoice-sync/internal/errors"
	"github.com/invoice-sync/internal/logging"
	"github.com/invoice-sync/internal/models"
	"github.com/invoice-sync/internal/types"
)

// DefaultCSVChunkSize is the number of data rows submitted per chunk
const DefaultCSVChunkSize = 10000

// CSVColumns is the required CSV header, in order
var CSVColumns = []string{
	"direction",
	"remote_id",
	"invoice_number",
	"issue_date",
	"counterparty_name",
	"counterparty_tax_id",
	"total_amount",
	"currency",
	"remote_status",
}

// RecordMerger merges records into the invoice store
type RecordMerger interface {
	Upsert(ctx context.Context, records []models.RemoteInvoiceRecord) (*models.UpsertResult, error)
}

// InvoiceCleaner removes a company's invoices that were never imported to the ledger
type InvoiceCleaner interface {
	DeleteNotImported(ctx context.Context, companyID string) (int64, error)
}

// XMLImportInput describes where an uploaded document belongs
type XMLImportInput struct {
	CompanyID    string
	CompanyTaxID string          // used to derive the direction when Direction is empty
	Direction    types.Direction // optional
}

// CSVRow is one data row and its 1-based line number in the file
type CSVRow struct {
	Line   int
	Fields []string
}

// ImportService feeds uploaded files through the same upsert path as fetched invoices
type ImportService struct {
	merger    RecordMerger
	cleaner   InvoiceCleaner
	documents *document.Registry
	chunkSize int
	logger    *logging.Logger
}

// NewImportService creates a new import service. chunkSize <= 0 uses DefaultCSVChunkSize.
func NewImportService(merger RecordMerger, cleaner InvoiceCleaner, documents *document.Registry, chunkSize int) *ImportService {
	if documents == nil {
		documents = document.NewRegistry()
	}
	if chunkSize <= 0 {
		chunkSize = DefaultCSVChunkSize
	}
	return &ImportService{
		merger:    merger,
		cleaner:   cleaner,
		documents: documents,
		chunkSize: chunkSize,
		logger:    logging.WithComponent("import"),
	}
}

// ImportXML stores one invoice document. Parse failures are reported in the batch.
func (s *ImportService) ImportXML(ctx context.Context, input XMLImportInput, content []byte) *models.ImportBatch {
	batch := &models.ImportBatch{}

	doc, err := s.documents.Parse(ctx, content)
	if err != nil {
		batch.AddParseError(1, "", err.Error())
		return batch
	}

	direction := input.Direction
	if direction == "" {
		direction, err = doc.Direction(input.CompanyTaxID)
		if err != nil {
			batch.AddParseError(1, doc.RemoteID, err.Error())
			return batch
		}
	}

	rec := doc.ToRecord(input.CompanyID, direction, types.SourceFile)
	if err := rec.Validate(); err != nil {
		batch.AddParseError(1, doc.RemoteID, err.Error())
		return batch
	}

	s.merge(ctx, batch, []models.RemoteInvoiceRecord{rec}, []int{1})
	s.logger.WithFields(map[string]interface{}{
		"companyId": input.CompanyID,
		"remoteId":  rec.RemoteID,
		"format":    doc.Format,
		"imported":  batch.Imported,
		"updated":   batch.Updated,
	}).Info("XML document imported")
	return batch
}

// ImportCSV reads content and submits it in chunks. clearExisting is honoured once,
// before the first chunk.
func (s *ImportService) ImportCSV(ctx context.Context, companyID string, content []byte, clearExisting bool) *models.ImportBatch {
	batch := &models.ImportBatch{}
	rows, err := ReadCSV(bytes.NewReader(content), batch)
	if err != nil {
		batch.AddParseError(1, "", err.Error())
		return batch
	}

	for index, start := 0, 0; start < len(rows) || index == 0; index, start = index+1, start+s.chunkSize {
		if err := ctx.Err(); err != nil {
			batch.AddFailure(0, "", err.Error())
			break
		}
		end := start + s.chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		batch.Merge(s.ImportCSVChunk(ctx, companyID, rows[start:end], index, clearExisting))
	}

	s.logger.WithFields(map[string]interface{}{
		"companyId":   companyID,
		"rows":        len(rows),
		"imported":    batch.Imported,
		"updated":     batch.Updated,
		"parseErrors": batch.ParseErrors,
		"failed":      batch.Failed,
	}).Info("CSV import finished")
	return batch
}

// ImportCSVChunk stores one chunk of data rows. Existing non-imported invoices of the
// company are cleared only when clearExisting is set and this is chunk 0.
func (s *ImportService) ImportCSVChunk(ctx context.Context, companyID string, rows []CSVRow, chunkIndex int, clearExisting bool) *models.ImportBatch {
	batch := &models.ImportBatch{}

	if clearExisting && chunkIndex == 0 {
		removed, err := s.cleaner.DeleteNotImported(ctx, companyID)
		if err != nil {
			batch.AddFailure(0, "", fmt.Sprintf("clear existing invoices: %v", err))
			return batch
		}
		s.logger.WithFields(map[string]interface{}{
			"companyId": companyID,
			"removed":   removed,
		}).Info("Cleared invoices before import")
	}

	records := make([]models.RemoteInvoiceRecord, 0, len(rows))
	lines := make([]int, 0, len(rows))
	for _, row := range rows {
		rec, err := parseCSVRow(companyID, row.Fields)
		if err != nil {
			batch.AddParseError(row.Line, fieldAt(row.Fields, 1), err.Error())
			continue
		}
		records = append(records, rec)
		lines = append(lines, row.Line)
	}

	s.merge(ctx, batch, records, lines)
	return batch
}

// merge upserts records and maps the result onto batch. lines[i] is the input
// position of records[i].
func (s *ImportService) merge(ctx context.Context, batch *models.ImportBatch, records []models.RemoteInvoiceRecord, lines []int) {
	if len(records) == 0 {
		return
	}
	result, err := s.merger.Upsert(ctx, records)
	if result != nil {
		for i := 0; i < result.Inserted; i++ {
			batch.AddImported()
		}
		for i := 0; i < result.Updated; i++ {
			batch.AddUpdated()
		}
		for _, f := range result.Failed {
			batch.AddFailure(lines[f.Row], f.Reference, f.Reason)
		}
	}
	if err != nil {
		done := 0
		if result != nil {
			done = result.Inserted + result.Updated + len(result.Failed)
		}
		for i := done; i < len(records); i++ {
			batch.AddFailure(lines[i], records[i].RemoteID, err.Error())
		}
	}
}

// ReadCSV reads the header and every data row. Rows the CSV reader itself rejects are
// counted as parse errors in batch; a missing or wrong header fails the whole file.
func ReadCSV(r io.Reader, batch *models.ImportBatch) ([]CSVRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, apperrors.NewValidationError("CSV file is empty")
		}
		return nil, apperrors.NewValidationError(fmt.Sprintf("unreadable CSV header: %v", err))
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}

	var rows []CSVRow
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			var perr *csv.ParseError
			if stderrors.As(err, &perr) {
				batch.AddParseError(perr.Line, "", perr.Err.Error())
				continue
			}
			return rows, err
		}
		line, _ := reader.FieldPos(0)
		rows = append(rows, CSVRow{Line: line, Fields: fields})
	}
}

func checkHeader(header []string) error {
	if len(header) != len(CSVColumns) {
		return apperrors.NewValidationError(fmt.Sprintf("CSV header must have %d columns, got %d", len(CSVColumns), len(header)))
	}
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if name != CSVColumns[i] {
			return apperrors.NewValidationError(fmt.Sprintf("CSV column %d must be %q, got %q", i+1, CSVColumns[i], name))
		}
	}
	return nil
}

func parseCSVRow(companyID string, fields []string) (models.RemoteInvoiceRecord, error) {
	if len(fields) != len(CSVColumns) {
		return models.RemoteInvoiceRecord{}, fmt.Errorf("expected %d columns, got %d", len(CSVColumns), len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	direction, err := types.ParseDirection(fields[0])
	if err != nil {
		return models.RemoteInvoiceRecord{}, err
	}
	if fields[1] == "" {
		return models.RemoteInvoiceRecord{}, fmt.Errorf("remote_id is empty")
	}
	issued, err := time.Parse("2006-01-02", fields[3])
	if err != nil {
		return models.RemoteInvoiceRecord{}, fmt.Errorf("invalid issue_date %q", fields[3])
	}
	amount, err := decimal.NewFromString(fields[6])
	if err != nil {
		return models.RemoteInvoiceRecord{}, fmt.Errorf("invalid total_amount %q", fields[6])
	}
	var status types.RemoteStatus
	if fields[8] != "" {
		if status, err = types.ParseRemoteStatus(fields[8]); err != nil {
			return models.RemoteInvoiceRecord{}, err
		}
	}

	return models.RemoteInvoiceRecord{
		CompanyID:         companyID,
		Direction:         direction,
		RemoteID:          fields[1],
		InvoiceNumber:     fields[2],
		IssueDate:         issued,
		CounterpartyName:  fields[4],
		CounterpartyTaxID: fields[5],
		TotalAmount:       amount,
		Currency:          strings.ToUpper(fields[7]),
		RemoteStatus:      status,
		Source:            types.SourceFile,
	}, nil
}

func fieldAt(fields []string, i int) string {
	if i < len(fields) {
		return strings.TrimSpace(fields[i])
	}
	return ""
}
