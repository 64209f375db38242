package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/invoice-sync/internal/circuitbreaker"
	apperrors "github.com/invoice-sync/internal/errors"
	"github.com/invoice-sync/internal/models"
	"github.com/invoice-sync/internal/types"
)

const (
	platformProvider = "e-invoice platform"
	maxDocumentBytes = 10 << 20
)

// PlatformClient talks to the e-invoice platform REST API
type PlatformClient struct {
	http     *httpCaller
	pageSize int
}

var _ RemoteInvoiceFetcher = (*PlatformClient)(nil)

type platformInvoice struct {
	ID                string          `json:"id"`
	Number            string          `json:"number"`
	IssueDate         string          `json:"issueDate"`
	CounterpartyName  string          `json:"counterpartyName"`
	CounterpartyTaxID string          `json:"counterpartyTaxId"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	Currency          string          `json:"currency"`
	Status            string          `json:"status"`
}

type platformInvoicePage struct {
	Invoices []platformInvoice `json:"invoices"`
	NextPage *int              `json:"nextPage"`
}

type stateChangeRequest struct {
	Action  types.StateAction `json:"action"`
	Comment string            `json:"comment,omitempty"`
}

// NewPlatformClient creates a platform client. WithBaseURL is required.
func NewPlatformClient(apiKey string, opts ...Option) (*PlatformClient, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}
	if o.baseURL == "" {
		return nil, errors.New("base URL is required")
	}
	return &PlatformClient{
		http:     newHTTPCaller(platformProvider, apiKey, o),
		pageSize: o.pageSize,
	}, nil
}

// NewPlatformBreaker returns a circuit breaker that only counts transient failures:
// a rejected request still proves the platform is reachable.
func NewPlatformBreaker(maxFailures int, timeout time.Duration) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
		Name:        "platform",
		MaxFailures: maxFailures,
		Timeout:     timeout,
		IsFailure:   apperrors.IsTransient,
	})
}

// FetchInvoices lists every invoice in the window, following pagination.
// A failure on any page fails the whole window.
func (c *PlatformClient) FetchInvoices(ctx context.Context, companyID string, direction types.Direction, from, to time.Time) ([]models.RemoteInvoiceRecord, error) {
	var records []models.RemoteInvoiceRecord
	page := 1
	for {
		result, err := c.fetchPage(ctx, companyID, direction, from, to, page)
		if err != nil {
			return nil, err
		}
		for _, inv := range result.Invoices {
			rec, err := toRecord(companyID, direction, inv)
			if err != nil {
				return nil, apperrors.NewRemoteFatalError(platformProvider, http.StatusOK, err)
			}
			records = append(records, rec)
		}
		if result.NextPage == nil || *result.NextPage <= page {
			return records, nil
		}
		page = *result.NextPage
	}
}

func (c *PlatformClient) fetchPage(ctx context.Context, companyID string, direction types.Direction, from, to time.Time, page int) (*platformInvoicePage, error) {
	params := url.Values{}
	params.Set("direction", string(direction))
	params.Set("dateFrom", from.Format(dateLayout))
	params.Set("dateTo", to.Format(dateLayout))
	params.Set("page", strconv.Itoa(page))
	params.Set("limit", strconv.Itoa(c.pageSize))

	reqURL := fmt.Sprintf("%s/companies/%s/invoices?%s", c.http.baseURL, url.PathEscape(companyID), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	var result platformInvoicePage
	err = c.http.do(ctx, req, func(resp *http.Response) error {
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return apperrors.NewRemoteTransientError(platformProvider, resp.StatusCode, fmt.Errorf("decoding response: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func toRecord(companyID string, direction types.Direction, inv platformInvoice) (models.RemoteInvoiceRecord, error) {
	if inv.ID == "" {
		return models.RemoteInvoiceRecord{}, errors.New("invoice without id in listing")
	}
	rec := models.RemoteInvoiceRecord{
		CompanyID:         companyID,
		Direction:         direction,
		RemoteID:          inv.ID,
		InvoiceNumber:     inv.Number,
		CounterpartyName:  inv.CounterpartyName,
		CounterpartyTaxID: inv.CounterpartyTaxID,
		TotalAmount:       inv.TotalAmount,
		Currency:          strings.ToUpper(inv.Currency),
		RemoteStatus:      platformStatus(direction, inv.Status),
		Source:            types.SourceFetch,
	}
	if inv.IssueDate != "" {
		d, err := parseDate(inv.IssueDate)
		if err != nil {
			return models.RemoteInvoiceRecord{}, fmt.Errorf("invoice %s: bad issue date %q", inv.ID, inv.IssueDate)
		}
		rec.IssueDate = d
	}
	return rec, nil
}

// platformStatus maps a listing status. The platform may add statuses at any time;
// one this client does not know yet leaves the stored status as it is (empty), so
// the invoice itself is still merged.
func platformStatus(direction types.Direction, raw string) types.RemoteStatus {
	if strings.TrimSpace(raw) == "" {
		return types.DefaultRemoteStatus(direction)
	}
	status, err := types.ParseRemoteStatus(raw)
	if err != nil {
		return ""
	}
	return status
}

// FetchDocument downloads the XML document of one invoice
func (c *PlatformClient) FetchDocument(ctx context.Context, companyID, remoteID string) ([]byte, error) {
	reqURL := fmt.Sprintf("%s/companies/%s/invoices/%s/document", c.http.baseURL, url.PathEscape(companyID), url.PathEscape(remoteID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	var doc []byte
	err = c.http.do(ctx, req, func(resp *http.Response) error {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
		if err != nil {
			return apperrors.NewRemoteTransientError(platformProvider, resp.StatusCode, fmt.Errorf("reading document: %w", err))
		}
		if len(body) > maxDocumentBytes {
			return apperrors.NewRemoteFatalError(platformProvider, resp.StatusCode, fmt.Errorf("document %s exceeds %d bytes", remoteID, maxDocumentBytes))
		}
		doc = body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ChangeState requests a state change; only a 2xx answer counts as success
func (c *PlatformClient) ChangeState(ctx context.Context, companyID, remoteID string, action types.StateAction, comment string) error {
	payload, err := json.Marshal(stateChangeRequest{Action: action, Comment: comment})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	reqURL := fmt.Sprintf("%s/companies/%s/invoices/%s/actions", c.http.baseURL, url.PathEscape(companyID), url.PathEscape(remoteID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.do(ctx, req, nil)
}
