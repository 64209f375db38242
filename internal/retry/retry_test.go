package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/invoice-sync/internal/errors"
)

func TestDelay(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestPolicyDecide(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := NewPolicy(&RetryConfig{MaxAttempts: 3, InitialDelay: time.Minute, MaxDelay: time.Hour, Multiplier: 2}).
		WithClock(func() time.Time { return now })

	transient := apperrors.NewRemoteTransientError("platform", 503, errors.New("down"))
	fatal := apperrors.NewRemoteFatalError("platform", 401, errors.New("bad key"))

	d := p.Decide(0, transient)
	assert.Equal(t, OutcomeRetry, d.Outcome)
	assert.Equal(t, 1, d.Attempts)
	assert.Equal(t, now.Add(time.Minute), d.RetryAt)

	d = p.Decide(1, transient)
	assert.Equal(t, OutcomeRetry, d.Outcome)
	assert.Equal(t, 2*time.Minute, d.Delay)

	d = p.Decide(2, transient)
	assert.Equal(t, OutcomeGiveUp, d.Outcome)
	assert.Equal(t, 3, d.Attempts)

	d = p.Decide(0, fatal)
	assert.Equal(t, OutcomeFatal, d.Outcome)

	d = p.Decide(0, errors.New("unclassified"))
	assert.Equal(t, OutcomeFatal, d.Outcome)
}

func TestNewPolicyDefaults(t *testing.T) {
	assert.Equal(t, 3, NewPolicy(nil).MaxAttempts())
	assert.Equal(t, 1, NewPolicy(&RetryConfig{MaxAttempts: 0}).MaxAttempts())
}

func TestWithExponentialBackoff(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		result := WithExponentialBackoff(context.Background(), cfg, func(ctx context.Context, attempt int) error {
			calls++
			if attempt < 3 {
				return errors.New("not yet")
			}
			return nil
		})
		assert.True(t, result.Success)
		assert.Equal(t, 3, result.Attempts)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up", func(t *testing.T) {
		err := WithRetry(context.Background(), cfg, func(ctx context.Context, attempt int) error {
			return errors.New("never")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "3 attempts")
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := &RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}
		result := WithExponentialBackoff(ctx, slow, func(ctx context.Context, attempt int) error {
			cancel()
			return errors.New("fail")
		})
		assert.False(t, result.Success)
		assert.ErrorIs(t, result.LastError, context.Canceled)
	})
}
