package adapter

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/invoice-sync/internal/circuitbreaker"
	apperrors "github.com/invoice-sync/internal/errors"
)

const maxErrorBody = 4 << 10

// httpCaller is the request plumbing shared by the platform and ledger clients
type httpCaller struct {
	provider   string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuitbreaker.CircuitBreaker
	budget     Budget
}

func newHTTPCaller(provider, apiKey string, o *options) *httpCaller {
	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: o.timeout}
	}
	var limiter *rate.Limiter
	if o.requestsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.requestsPerSec), 1)
	}
	return &httpCaller{
		provider:   provider,
		apiKey:     apiKey,
		baseURL:    o.baseURL,
		httpClient: httpClient,
		limiter:    limiter,
		breaker:    o.breaker,
		budget:     o.budget,
	}
}

// do sends req and hands a 2xx response to handle. Non-2xx responses and transport
// failures come back classified; handle's own errors are returned unchanged.
func (c *httpCaller) do(ctx context.Context, req *http.Request, handle func(*http.Response) error) error {
	call := func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return c.transportError(ctx, err)
			}
		}

		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req.WithContext(ctx))
		if err != nil {
			return c.transportError(ctx, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return classifyStatus(c.provider, resp.StatusCode, body)
		}
		if handle == nil {
			return nil
		}
		return handle(resp)
	}

	// budget waits never count against the breaker
	if c.budget != nil {
		if err := c.budget.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return c.transportError(ctx, err)
			}
			return err
		}
	}

	if c.breaker == nil {
		return call(ctx)
	}
	err := c.breaker.Execute(ctx, call)
	if stderrors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return apperrors.NewRemoteTransientError(c.provider, 0, err)
	}
	return err
}

func (c *httpCaller) transportError(ctx context.Context, err error) error {
	// the caller gave up; neither the remote nor the job is at fault
	if ctx.Err() != nil && !isDeadline(ctx.Err()) {
		return ctx.Err()
	}
	return apperrors.NewRemoteTransientError(c.provider, 0, fmt.Errorf("executing request: %w", err))
}

func isDeadline(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

// classifyStatus maps an unexpected HTTP status to a transient or fatal error.
// 5xx, 408 and 429 may succeed later; any other 4xx will not.
func classifyStatus(provider string, status int, body []byte) error {
	cause := fmt.Errorf("unexpected status %d: %s", status, string(body))
	switch {
	case status >= 500, status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return apperrors.NewRemoteTransientError(provider, status, cause)
	default:
		return apperrors.NewRemoteFatalError(provider, status, cause)
	}
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}
