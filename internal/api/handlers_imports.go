package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/invoice-sync/internal/models"
	"github.com/invoice-sync/internal/service"
	"github.com/invoice-sync/internal/types"
)

// readBody reads the request body up to the configured limit
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, ErrCodeInvalidInput,
			fmt.Sprintf("request body exceeds %d bytes", s.config.MaxBodyBytes), nil)
		return nil, false
	}
	if len(body) == 0 {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "request body is empty", nil)
		return nil, false
	}
	return body, true
}

// handleImportXML handles POST /api/companies/{company}/imports/xml
// The body is one invoice document; ?direction= overrides detection by ?taxId=.
func (s *Server) handleImportXML(w http.ResponseWriter, r *http.Request) {
	input := service.XMLImportInput{
		CompanyID:    mux.Vars(r)["company"],
		CompanyTaxID: r.URL.Query().Get("taxId"),
	}
	if v := r.URL.Query().Get("direction"); v != "" {
		d, err := types.ParseDirection(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
			return
		}
		input.Direction = d
	}
	if input.Direction == "" && input.CompanyTaxID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "either direction or taxId is required", nil)
		return
	}

	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	respondJSON(w, http.StatusOK, s.importService.ImportXML(r.Context(), input, body))
}

// handleImportCSV handles POST /api/companies/{company}/imports/csv
// Without ?chunk= the whole file is imported in chunks; with it the body is a
// single chunk (header included) and clearExisting applies to chunk 0 only.
func (s *Server) handleImportCSV(w http.ResponseWriter, r *http.Request) {
	companyID := mux.Vars(r)["company"]
	q := r.URL.Query()

	clearExisting := false
	if v := q.Get("clearExisting"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "clearExisting must be a boolean", nil)
			return
		}
		clearExisting = b
	}

	chunkIndex := -1
	if v := q.Get("chunk"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "chunk must be a non-negative integer", nil)
			return
		}
		chunkIndex = n
	}

	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	if chunkIndex < 0 {
		respondJSON(w, http.StatusOK, s.importService.ImportCSV(r.Context(), companyID, body, clearExisting))
		return
	}

	batch := &models.ImportBatch{}
	rows, err := service.ReadCSV(bytes.NewReader(body), batch)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	batch.Merge(s.importService.ImportCSVChunk(r.Context(), companyID, rows, chunkIndex, clearExisting))
	respondJSON(w, http.StatusOK, batch)
}

// platformPush is the payload the platform posts when invoices change
type platformPush struct {
	CompanyID string                `json:"companyId"`
	Direction string                `json:"direction"`
	Invoices  []platformPushInvoice `json:"invoices"`
}

type platformPushInvoice struct {
	ID                string          `json:"id"`
	Number            string          `json:"number"`
	IssueDate         string          `json:"issueDate"`
	CounterpartyName  string          `json:"counterpartyName"`
	CounterpartyTaxID string          `json:"counterpartyTaxId"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	Currency          string          `json:"currency"`
	Status            string          `json:"status"`
}

// handlePlatformWebhook handles POST /api/webhooks/platform
func (s *Server) handlePlatformWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if !s.validSignature(body, r.Header.Get("X-Webhook-Signature")) {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid webhook signature", nil)
		return
	}

	var push platformPush
	if err := json.Unmarshal(body, &push); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	batch, err := push.records()
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	result, err := s.invoiceService.Upsert(r.Context(), batch.records)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, batch.report(result))
}

// validSignature checks the hex HMAC-SHA256 of body when a secret is configured
func (s *Server) validSignature(body []byte, signature string) bool {
	if s.config.WebhookSecret == "" {
		return true
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.config.WebhookSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// pushBatch holds the usable records of a push. rows maps each record back to
// its position in the payload.
type pushBatch struct {
	records  []models.RemoteInvoiceRecord
	rows     []int
	rejected []models.RowError
}

// records converts the payload. A bad company or direction rejects the push; a
// bad entry is only left out and reported.
func (p *platformPush) records() (*pushBatch, error) {
	if p.CompanyID == "" {
		return nil, fmt.Errorf("companyId is required")
	}
	direction, err := types.ParseDirection(p.Direction)
	if err != nil {
		return nil, err
	}

	batch := &pushBatch{records: make([]models.RemoteInvoiceRecord, 0, len(p.Invoices))}
	for i, inv := range p.Invoices {
		var issued time.Time
		if inv.IssueDate != "" {
			if issued, err = time.Parse("2006-01-02", inv.IssueDate); err != nil {
				batch.reject(i, inv.ID, fmt.Sprintf("invalid issueDate %q", inv.IssueDate))
				continue
			}
		}
		var status types.RemoteStatus
		if inv.Status != "" {
			if status, err = types.ParseRemoteStatus(inv.Status); err != nil {
				batch.reject(i, inv.ID, err.Error())
				continue
			}
		}
		batch.rows = append(batch.rows, i)
		batch.records = append(batch.records, models.RemoteInvoiceRecord{
			CompanyID:         p.CompanyID,
			Direction:         direction,
			RemoteID:          inv.ID,
			InvoiceNumber:     inv.Number,
			IssueDate:         issued,
			CounterpartyName:  inv.CounterpartyName,
			CounterpartyTaxID: inv.CounterpartyTaxID,
			TotalAmount:       inv.TotalAmount,
			Currency:          inv.Currency,
			RemoteStatus:      status,
			Source:            types.SourcePush,
		})
	}
	return batch, nil
}

func (b *pushBatch) reject(row int, ref, reason string) {
	b.rejected = append(b.rejected, models.RowError{Row: row, Reference: ref, Code: models.RowInvalid, Reason: reason})
}

// report folds the entries left out of the upsert into its result, with rows
// numbered as in the payload
func (b *pushBatch) report(result *models.UpsertResult) *models.UpsertResult {
	for i := range result.Failed {
		if row := result.Failed[i].Row; row >= 0 && row < len(b.rows) {
			result.Failed[i].Row = b.rows[row]
		}
	}
	result.Found += len(b.rejected)
	result.Failed = append(result.Failed, b.rejected...)
	sort.SliceStable(result.Failed, func(i, j int) bool { return result.Failed[i].Row < result.Failed[j].Row })
	return result
}
