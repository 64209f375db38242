package adapter

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/invoice-sync/internal/circuitbreaker"
)

// Option configures optional client settings.
type Option func(*options) error

type options struct {
	baseURL        string
	httpClient     *http.Client
	timeout        time.Duration
	requestsPerSec float64
	pageSize       int
	breaker        *circuitbreaker.CircuitBreaker
	budget         Budget
}

// Budget admits one outgoing request, blocking while the allowance is spent
type Budget interface {
	Wait(ctx context.Context) error
}

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) Option {
	return func(o *options) error {
		baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
		if baseURL == "" {
			return fmt.Errorf("base URL cannot be empty")
		}
		o.baseURL = baseURL
		return nil
	}
}

// WithHTTPClient sets a custom HTTP client. Overrides WithTimeout.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *options) error {
		if httpClient == nil {
			return fmt.Errorf("HTTP client cannot be nil")
		}
		o.httpClient = httpClient
		return nil
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", timeout)
		}
		o.timeout = timeout
		return nil
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables throttling.
func WithRateLimit(requestsPerSec float64) Option {
	return func(o *options) error {
		if requestsPerSec < 0 {
			return fmt.Errorf("rate limit cannot be negative, got %v", requestsPerSec)
		}
		o.requestsPerSec = requestsPerSec
		return nil
	}
}

// WithPageSize sets the listing page size.
func WithPageSize(size int) Option {
	return func(o *options) error {
		if size <= 0 {
			return fmt.Errorf("page size must be positive, got %d", size)
		}
		o.pageSize = size
		return nil
	}
}

// WithCircuitBreaker routes every request through cb.
func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(o *options) error {
		o.breaker = cb
		return nil
	}
}

// WithBudget makes every request wait for b first. b is shared with other processes.
func WithBudget(b Budget) Option {
	return func(o *options) error {
		if b == nil {
			return fmt.Errorf("budget cannot be nil")
		}
		o.budget = b
		return nil
	}
}

func defaultOptions() *options {
	return &options{
		timeout:  30 * time.Second,
		pageSize: 100,
	}
}
