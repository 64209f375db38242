package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	apperrors "github.com/invoice-sync/internal/errors"
)

const ledgerProvider = "ledger"

// LedgerClient is the HTTP implementation of LedgerBridge
type LedgerClient struct {
	http *httpCaller
}

var _ LedgerBridge = (*LedgerClient)(nil)

type ledgerEntryResponse struct {
	ID string `json:"id"`
}

// NewLedgerClient creates a ledger client. WithBaseURL is required.
func NewLedgerClient(apiKey string, opts ...Option) (*LedgerClient, error) {
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
	return &LedgerClient{http: newHTTPCaller(ledgerProvider, apiKey, o)}, nil
}

// CreateEntry posts a ledger entry. The ledger deduplicates on idempotencyKey.
func (c *LedgerClient) CreateEntry(ctx context.Context, entry LedgerEntry, idempotencyKey string) (string, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("encoding entry: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.http.baseURL+"/entries", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	var created ledgerEntryResponse
	err = c.http.do(ctx, req, func(resp *http.Response) error {
		if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
			return apperrors.NewRemoteTransientError(ledgerProvider, resp.StatusCode, fmt.Errorf("decoding response: %w", err))
		}
		if created.ID == "" {
			return apperrors.NewRemoteFatalError(ledgerProvider, resp.StatusCode, errors.New("ledger returned an empty entry id"))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// EntryExists reports whether the ledger still holds the entry
func (c *LedgerClient) EntryExists(ctx context.Context, ledgerID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.http.baseURL+"/entries/"+url.PathEscape(ledgerID), nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}
	err = c.http.do(ctx, req, nil)
	if err == nil {
		return true, nil
	}
	var catErr *apperrors.CategorizedError
	if errors.As(err, &catErr) && catErr.Details["remoteStatus"] == http.StatusNotFound {
		return false, nil
	}
	return false, err
}
