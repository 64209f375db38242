// Package ratelimit shares the platform's request allowance between every
// server, worker and CLI process through Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/invoice-sync/internal/errors"
)

// Default budget configuration values.
const (
	DefaultWindowSize = time.Second
	DefaultKeyTTL     = 2 * time.Second // window + buffer
	DefaultBaseDelay  = 50 * time.Millisecond
	DefaultMaxDelay   = 5 * time.Second
)

// Redis key prefixes for request counting.
const (
	KeyPrefixTotal    = "platform:budget:total:"
	KeyPrefixReserved = "platform:budget:reserved:"
	KeyPrefixShared   = "platform:budget:shared:"
)

// Priority selects the budget pool a request draws from.
type Priority int

const (
	// PriorityLow is for background work: sync jobs and enrichment (shared pool).
	PriorityLow Priority = iota
	// PriorityHigh is for user actions such as approve or reject (reserved pool).
	PriorityHigh
)

// String returns a string representation of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

type priorityKey struct{}

// WithPriority marks every platform request made with ctx
func WithPriority(ctx context.Context, p Priority) context.Context {
	return context.WithValue(ctx, priorityKey{}, p)
}

// PriorityFromContext returns the request priority, PriorityLow when unset
func PriorityFromContext(ctx context.Context) Priority {
	if p, ok := ctx.Value(priorityKey{}).(Priority); ok {
		return p
	}
	return PriorityLow
}

// Config holds configuration for a request budget.
type Config struct {
	// Redis is required.
	Redis redis.Cmdable

	// Total requests allowed per window across all processes.
	Total int

	// Reserved is the part of Total only high priority requests may use.
	Reserved int

	WindowSize time.Duration
	KeyTTL     time.Duration
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.Total <= 0 {
		return errors.New("total budget must be positive")
	}
	if c.Reserved < 0 {
		return errors.New("reserved budget cannot be negative")
	}
	if c.Reserved > c.Total {
		return fmt.Errorf("reserved budget (%d) cannot exceed total budget (%d)", c.Reserved, c.Total)
	}
	return nil
}

// RequestBudget is a fixed-window counter with a reserved pool for high priority
// requests and a shared pool for the rest. Both pools also count against Total.
type RequestBudget struct {
	redis      redis.Cmdable
	total      int
	reserved   int
	shared     int
	windowSize time.Duration
	keyTTL     time.Duration
	baseDelay  time.Duration
	maxDelay   time.Duration
	now        func() time.Time

	mu               sync.Mutex
	consecutiveWaits int
}

// Usage contains the counts of the current window.
type Usage struct {
	TotalUsed    int       `json:"totalUsed"`
	ReservedUsed int       `json:"reservedUsed"`
	SharedUsed   int       `json:"sharedUsed"`
	Total        int       `json:"total"`
	Reserved     int       `json:"reserved"`
	Shared       int       `json:"shared"`
	WindowStart  time.Time `json:"windowStart"`
}

// NewRequestBudget creates a budget with the given configuration.
func NewRequestBudget(cfg *Config) (*RequestBudget, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	b := &RequestBudget{
		redis:      cfg.Redis,
		total:      cfg.Total,
		reserved:   cfg.Reserved,
		shared:     cfg.Total - cfg.Reserved,
		windowSize: cfg.WindowSize,
		keyTTL:     cfg.KeyTTL,
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
		now:        time.Now,
	}
	if b.windowSize <= 0 {
		b.windowSize = DefaultWindowSize
	}
	if b.keyTTL < b.windowSize {
		b.keyTTL = b.windowSize + time.Second
	}
	if b.baseDelay <= 0 {
		b.baseDelay = DefaultBaseDelay
	}
	if b.maxDelay <= 0 {
		b.maxDelay = DefaultMaxDelay
	}
	return b, nil
}

func (b *RequestBudget) windowStart() time.Time {
	return b.now().Truncate(b.windowSize)
}

func keys(windowStart time.Time) (total, reserved, shared string) {
	ts := strconv.FormatInt(windowStart.UnixMilli(), 10)
	return KeyPrefixTotal + ts, KeyPrefixReserved + ts, KeyPrefixShared + ts
}

// consumeScript checks both the total and the pool counter before incrementing either
var consumeScript = redis.NewScript(`
local totalKey = KEYS[1]
local poolKey = KEYS[2]
local n = tonumber(ARGV[1])
local totalBudget = tonumber(ARGV[2])
local poolBudget = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local totalUsed = tonumber(redis.call('GET', totalKey) or '0')
local poolUsed = tonumber(redis.call('GET', poolKey) or '0')

if totalUsed + n > totalBudget or poolUsed + n > poolBudget then
	return {0, totalUsed, poolUsed}
end

redis.call('INCRBY', totalKey, n)
redis.call('PEXPIRE', totalKey, ttl)
redis.call('INCRBY', poolKey, n)
redis.call('PEXPIRE', poolKey, ttl)
return {1, totalUsed + n, poolUsed + n}
`)

// TryConsume takes n requests from the pool of priority. When the window is
// exhausted it returns the time until the next window.
func (b *RequestBudget) TryConsume(ctx context.Context, n int, priority Priority) (bool, time.Duration, error) {
	if n <= 0 {
		return true, 0, nil
	}

	start := b.windowStart()
	totalKey, reservedKey, sharedKey := keys(start)

	poolKey, poolBudget := sharedKey, b.shared
	if priority == PriorityHigh {
		// high priority is bounded by the total only
		poolKey, poolBudget = reservedKey, b.total
	}

	result, err := consumeScript.Run(ctx, b.redis, []string{totalKey, poolKey},
		n, b.total, poolBudget, b.keyTTL.Milliseconds()).Int64Slice()
	if err != nil {
		if ctx.Err() != nil {
			return false, 0, ctx.Err()
		}
		return false, 0, apperrors.NewCacheError("consume platform budget", err)
	}
	if result[0] == 1 {
		return true, 0, nil
	}

	wait := time.Until(start.Add(b.windowSize))
	if wait < 0 {
		wait = 0
	}
	return false, wait + time.Millisecond, nil
}

// Wait blocks until one request of the context's priority fits the budget.
// Repeated waits back off exponentially up to the configured maximum.
func (b *RequestBudget) Wait(ctx context.Context) error {
	priority := PriorityFromContext(ctx)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		allowed, windowWait, err := b.TryConsume(ctx, 1, priority)
		if err != nil {
			return err
		}
		if allowed {
			b.recordSuccess()
			return nil
		}

		delay := b.recordWait()
		if windowWait > delay {
			delay = windowWait
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (b *RequestBudget) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveWaits = 0
}

// recordWait returns baseDelay * 2^waits, capped at maxDelay
func (b *RequestBudget) recordWait() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.baseDelay
	for i := 0; i < b.consecutiveWaits; i++ {
		delay *= 2
		if delay >= b.maxDelay {
			delay = b.maxDelay
			break
		}
	}
	b.consecutiveWaits++
	return delay
}

// Usage returns the counts of the current window. Missing keys count as zero.
func (b *RequestBudget) Usage(ctx context.Context) (*Usage, error) {
	start := b.windowStart()
	totalKey, reservedKey, sharedKey := keys(start)

	pipe := b.redis.Pipeline()
	totalCmd := pipe.Get(ctx, totalKey)
	reservedCmd := pipe.Get(ctx, reservedKey)
	sharedCmd := pipe.Get(ctx, sharedKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, apperrors.NewCacheError("read platform budget", err)
	}

	return &Usage{
		TotalUsed:    intOrZero(totalCmd),
		ReservedUsed: intOrZero(reservedCmd),
		SharedUsed:   intOrZero(sharedCmd),
		Total:        b.total,
		Reserved:     b.reserved,
		Shared:       b.shared,
		WindowStart:  start,
	}, nil
}

func intOrZero(cmd *redis.StringCmd) int {
	v, err := cmd.Int()
	if err != nil {
		return 0
	}
	return v
}
