// Package retry holds the backoff policies used by sync jobs and startup code.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	apperrors "github.com/invoice-sync/internal/errors"
	"github.com/invoice-sync/internal/logging"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts  int           // Maximum number of attempts, including the first
	InitialDelay time.Duration // Delay before the second attempt
	MaxDelay     time.Duration // Maximum delay between attempts
	Multiplier   float64       // Multiplier for exponential backoff
}

// DefaultRetryConfig returns a default retry configuration
// Pattern: 30s, 60s, 120s ... max 10m, three attempts
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 30 * time.Second,
		MaxDelay:     10 * time.Minute,
		Multiplier:   2.0,
	}
}

// Delay returns the wait after the given failed attempt (1-based):
// initialDelay * multiplier^(attempt-1), capped at MaxDelay
func (c *RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	return time.Duration(delay)
}

// Outcome is what a job should do after an attempt failed
type Outcome int

const (
	// OutcomeRetry schedules another attempt after Decision.Delay
	OutcomeRetry Outcome = iota
	// OutcomeGiveUp stops the job: attempts are exhausted
	OutcomeGiveUp
	// OutcomeFatal stops the job: the error cannot be fixed by retrying
	OutcomeFatal
)

// Decision describes the next step after a failed attempt
type Decision struct {
	Outcome  Outcome
	Attempts int
	Delay    time.Duration
	RetryAt  time.Time
}

// Policy decides between retrying and giving up for work that is resumed
// across separate invocations (the caller persists attempts and RetryAt).
type Policy struct {
	config *RetryConfig
	now    func() time.Time
}

// NewPolicy creates a policy; a nil config uses DefaultRetryConfig
func NewPolicy(config *RetryConfig) *Policy {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Policy{config: config, now: time.Now}
}

// WithClock replaces the time source, for tests
func (p *Policy) WithClock(now func() time.Time) *Policy {
	p.now = now
	return p
}

// MaxAttempts returns the configured attempt cap
func (p *Policy) MaxAttempts() int {
	return p.config.MaxAttempts
}

// Decide classifies err after `previous` failed attempts of the same unit of work.
// Only retryable errors (remote outages, database or cache failures) are retried.
func (p *Policy) Decide(previous int, err error) Decision {
	attempts := previous + 1
	if !apperrors.IsRetryable(err) {
		return Decision{Outcome: OutcomeFatal, Attempts: attempts}
	}
	if attempts >= p.config.MaxAttempts {
		return Decision{Outcome: OutcomeGiveUp, Attempts: attempts}
	}
	delay := p.config.Delay(attempts)
	return Decision{
		Outcome:  OutcomeRetry,
		Attempts: attempts,
		Delay:    delay,
		RetryAt:  p.now().Add(delay),
	}
}

// RetryResult contains information about the retry operation
type RetryResult struct {
	Attempts      int           `json:"attempts"`
	Success       bool          `json:"success"`
	TotalDuration time.Duration `json:"totalDuration"`
	LastError     error         `json:"lastError,omitempty"`
}

// RetryFunc is a function that can be retried
type RetryFunc func(ctx context.Context, attempt int) error

// WithExponentialBackoff executes a function in-process with exponential backoff.
// Used for startup dependencies (database, cache); remote invoice calls never go through it.
func WithExponentialBackoff(ctx context.Context, config *RetryConfig, fn RetryFunc) *RetryResult {
	logger := logging.FromContext(ctx)
	startTime := time.Now()

	result := &RetryResult{}

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		err := fn(ctx, attempt)
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(startTime)
			if attempt > 1 {
				logger.WithFields(map[string]interface{}{
					"attempts":      attempt,
					"totalDuration": result.TotalDuration.String(),
				}).Info("Operation succeeded after retry")
			}
			return result
		}
		result.LastError = err

		if attempt >= config.MaxAttempts {
			logger.WithError(err).WithField("attempts", attempt).Error("Operation failed after max retry attempts")
			break
		}

		delay := config.Delay(attempt)
		logger.WithError(err).WithFields(map[string]interface{}{
			"attempt":     attempt,
			"maxAttempts": config.MaxAttempts,
			"delay":       delay.String(),
		}).Warn("Operation failed, retrying with exponential backoff")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		}
	}

	result.TotalDuration = time.Since(startTime)
	return result
}

// WithRetry runs fn with config and returns the last error on failure
func WithRetry(ctx context.Context, config *RetryConfig, fn RetryFunc) error {
	result := WithExponentialBackoff(ctx, config, fn)
	if !result.Success {
		return fmt.Errorf("operation failed after %d attempts: %w", result.Attempts, result.LastError)
	}
	return nil
}
