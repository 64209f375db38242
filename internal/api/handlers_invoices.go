package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/invoice-sync/internal/models"
	"github.com/invoice-sync/internal/types"
)

const maxListLimit = 500

// handleListInvoices handles GET /api/companies/{company}/invoices
func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	filter, err := parseInvoiceFilter(mux.Vars(r)["company"], r)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	invoices, total, err := s.invoiceService.List(r.Context(), filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	if invoices == nil {
		invoices = []*models.StoredInvoice{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"invoices": invoices,
		"total":    total,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	})
}

func parseInvoiceFilter(companyID string, r *http.Request) (models.InvoiceFilter, error) {
	q := r.URL.Query()
	filter := models.InvoiceFilter{
		CompanyID: companyID,
		Search:    strings.TrimSpace(q.Get("q")),
		SortBy:    q.Get("sort"),
		Limit:     50,
	}

	if v := q.Get("direction"); v != "" {
		d, err := types.ParseDirection(v)
		if err != nil {
			return filter, err
		}
		filter.Direction = d
	}
	if v := q.Get("localStatus"); v != "" {
		ls := types.LocalStatus(strings.ToLower(v))
		if !ls.Valid() {
			return filter, fmt.Errorf("unknown local status %q", v)
		}
		filter.LocalStatus = ls
	}
	if v := q.Get("remoteStatus"); v != "" {
		rs, err := types.ParseRemoteStatus(v)
		if err != nil {
			return filter, err
		}
		filter.RemoteStatus = rs
	}
	for name, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				return filter, fmt.Errorf("%s must be a date (YYYY-MM-DD)", name)
			}
			*dst = &t
		}
	}
	switch strings.ToLower(q.Get("order")) {
	case "", "asc":
	case "desc":
		filter.Descending = true
	default:
		return filter, fmt.Errorf("order must be asc or desc")
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxListLimit {
			return filter, fmt.Errorf("limit must be between 1 and %d", maxListLimit)
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("offset must be a non-negative integer")
		}
		filter.Offset = n
	}
	return filter, nil
}

// handleGetInvoice handles GET /api/invoices/{id}
func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := s.invoiceService.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, inv)
}

// handleDeleteInvoice handles DELETE /api/invoices/{id}
func (s *Server) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	if err := s.invoiceService.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetDocument handles GET /api/companies/{company}/invoices/{remoteId}/document
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	doc, err := s.invoiceService.Document(r.Context(), vars["company"], vars["remoteId"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

// readComment reads the optional {"comment": "..."} body of a state change
func readComment(r *http.Request) (string, error) {
	var req struct {
		Comment string `json:"comment"`
	}
	if err := parseJSONBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return req.Comment, nil
}

// handleApproveInvoice handles POST /api/companies/{company}/invoices/{remoteId}/approve
func (s *Server) handleApproveInvoice(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if _, err := readComment(r); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	inv, err := s.invoiceService.Approve(r.Context(), vars["company"], vars["remoteId"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, inv)
}

// handleRejectInvoice handles POST /api/companies/{company}/invoices/{remoteId}/reject
func (s *Server) handleRejectInvoice(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	comment, err := readComment(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	inv, err := s.invoiceService.Reject(r.Context(), vars["company"], vars["remoteId"], comment)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, inv)
}

// handleCancelInvoice handles POST /api/companies/{company}/invoices/{remoteId}/cancel
func (s *Server) handleCancelInvoice(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	comment, err := readComment(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	inv, err := s.invoiceService.CancelSales(r.Context(), vars["company"], vars["remoteId"], comment)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, inv)
}

// handleEnrichInvoices handles POST /api/companies/{company}/invoices/enrich
func (s *Server) handleEnrichInvoices(w http.ResponseWriter, r *http.Request) {
	enriched, err := s.invoiceService.EnrichIncomplete(r.Context(), mux.Vars(r)["company"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"enriched": enriched})
}

// handleImportToLedger handles POST /api/invoices/{id}/ledger
func (s *Server) handleImportToLedger(w http.ResponseWriter, r *http.Request) {
	inv, err := s.invoiceService.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	ledgerID, err := s.invoiceService.ImportToLedger(r.Context(), inv)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{
		"invoiceId": inv.ID,
		"ledgerId":  ledgerID,
	})
}

// handleBulkImportToLedger handles POST /api/companies/{company}/ledger/bulk
func (s *Server) handleBulkImportToLedger(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InvoiceIDs []string `json:"invoiceIds"`
	}
	if err := parseJSONBody(r, &req); err != nil || len(req.InvoiceIDs) == 0 {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invoiceIds must be a non-empty list", nil)
		return
	}

	batch := s.invoiceService.BulkImportByIDs(r.Context(), mux.Vars(r)["company"], req.InvoiceIDs)
	respondJSON(w, http.StatusOK, batch)
}

// handleSyncMissingLedger handles POST /api/companies/{company}/ledger/sync-missing
func (s *Server) handleSyncMissingLedger(w http.ResponseWriter, r *http.Request) {
	recreated, err := s.invoiceService.SyncMissingLedgerEntries(r.Context(), mux.Vars(r)["company"])
	if err != nil && recreated == 0 {
		respondServiceError(w, r, err)
		return
	}

	response := map[string]interface{}{"recreated": recreated}
	if err != nil {
		response["errors"] = err.Error()
	}
	respondJSON(w, http.StatusOK, response)
}
