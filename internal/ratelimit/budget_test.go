package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/invoice-sync/internal/errors"
)

func newTestBudget(t *testing.T, total, reserved int) (*RequestBudget, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	b, err := NewRequestBudget(&Config{Redis: client, Total: total, Reserved: reserved})
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, mr, &now
}

func consume(t *testing.T, b *RequestBudget, p Priority) bool {
	t.Helper()
	ok, _, err := b.TryConsume(context.Background(), 1, p)
	require.NoError(t, err)
	return ok
}

func TestConfigValidate(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Redis: client, Total: 10, Reserved: 4}, false},
		{"no reserve", Config{Redis: client, Total: 10}, false},
		{"missing redis", Config{Total: 10}, true},
		{"zero total", Config{Redis: client}, true},
		{"negative reserve", Config{Redis: client, Total: 10, Reserved: -1}, true},
		{"reserve above total", Config{Redis: client, Total: 10, Reserved: 11}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTryConsume_LowPriorityCannotUseReserve(t *testing.T) {
	b, _, _ := newTestBudget(t, 5, 2)

	for i := 0; i < 3; i++ {
		assert.True(t, consume(t, b, PriorityLow), "low request %d", i)
	}
	assert.False(t, consume(t, b, PriorityLow))

	assert.True(t, consume(t, b, PriorityHigh))
	assert.True(t, consume(t, b, PriorityHigh))
	assert.False(t, consume(t, b, PriorityHigh), "total is exhausted")

	usage, err := b.Usage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, usage.TotalUsed)
	assert.Equal(t, 3, usage.SharedUsed)
	assert.Equal(t, 2, usage.ReservedUsed)
}

func TestTryConsume_HighPriorityMayUseWholeBudget(t *testing.T) {
	b, _, _ := newTestBudget(t, 3, 1)

	for i := 0; i < 3; i++ {
		assert.True(t, consume(t, b, PriorityHigh))
	}
	assert.False(t, consume(t, b, PriorityLow))
}

func TestTryConsume_NewWindowResets(t *testing.T) {
	b, _, now := newTestBudget(t, 1, 0)

	assert.True(t, consume(t, b, PriorityLow))
	ok, wait, err := b.TryConsume(context.Background(), 1, PriorityLow)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))

	*now = now.Add(time.Second)
	assert.True(t, consume(t, b, PriorityLow))
}

func TestTryConsume_RedisDownIsRetryable(t *testing.T) {
	b, mr, _ := newTestBudget(t, 5, 0)
	mr.Close()

	_, _, err := b.TryConsume(context.Background(), 1, PriorityLow)
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestWait(t *testing.T) {
	b, _, _ := newTestBudget(t, 1, 0)

	require.NoError(t, b.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Wait(ctx), context.DeadlineExceeded)
}

func TestWait_UsesContextPriority(t *testing.T) {
	b, _, _ := newTestBudget(t, 2, 1)
	require.NoError(t, b.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.Error(t, b.Wait(ctx), "shared pool is spent")

	assert.NoError(t, b.Wait(WithPriority(context.Background(), PriorityHigh)))
}

func TestRecordWaitBacksOff(t *testing.T) {
	b, _, _ := newTestBudget(t, 1, 0)
	b.baseDelay = 10 * time.Millisecond
	b.maxDelay = 50 * time.Millisecond

	assert.Equal(t, 10*time.Millisecond, b.recordWait())
	assert.Equal(t, 20*time.Millisecond, b.recordWait())
	assert.Equal(t, 40*time.Millisecond, b.recordWait())
	assert.Equal(t, 50*time.Millisecond, b.recordWait())
	b.recordSuccess()
	assert.Equal(t, 10*time.Millisecond, b.recordWait())
}

func TestPriorityFromContext(t *testing.T) {
	assert.Equal(t, PriorityLow, PriorityFromContext(context.Background()))
	assert.Equal(t, PriorityHigh, PriorityFromContext(WithPriority(context.Background(), PriorityHigh)))
	assert.Equal(t, "high", PriorityHigh.String())
	assert.Equal(t, "low", PriorityLow.String())
}
