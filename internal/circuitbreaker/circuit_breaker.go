// Package circuitbreaker stops calling a remote service that keeps failing.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/invoice-sync/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means the circuit is closed and requests are allowed
	StateClosed State = "closed"
	// StateOpen means the circuit is open and requests are blocked
	StateOpen State = "open"
	// StateHalfOpen means a single probe request is allowed through
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config configures a circuit breaker
type Config struct {
	Name string
	// Consecutive failures that open the circuit
	MaxFailures int
	// Time to wait in the open state before probing
	Timeout time.Duration
	// IsFailure decides which errors count against the service.
	// Nil counts every non-nil error.
	IsFailure func(error) bool
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) *Config {
	return &Config{
		Name:        name,
		MaxFailures: 5,
		Timeout:     time.Minute,
	}
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	name        string
	maxFailures int
	timeout     time.Duration
	isFailure   func(error) bool
	now         func() time.Time
	logger      *logging.Logger

	mu               sync.Mutex
	state            State
	consecutiveFails int
	probing          bool
	lastStateChange  time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config *Config) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig("default")
	}
	isFailure := config.IsFailure
	if isFailure == nil {
		isFailure = func(err error) bool { return err != nil }
	}
	maxFailures := config.MaxFailures
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		name:            config.Name,
		maxFailures:     maxFailures,
		timeout:         config.Timeout,
		isFailure:       isFailure,
		now:             time.Now,
		logger:          logging.WithComponent("circuitbreaker").WithField("circuitBreaker", config.Name),
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Execute runs fn unless the circuit is open
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastStateChange) < cb.timeout {
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.logger.Info("Circuit breaker transitioning to half-open")
		cb.probing = true
		return nil
	case StateHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && cb.isFailure(err) {
		cb.consecutiveFails++
		switch cb.state {
		case StateHalfOpen:
			cb.probing = false
			cb.setState(StateOpen)
			cb.logger.Warn("Circuit breaker reopened after failed probe")
		case StateClosed:
			if cb.consecutiveFails >= cb.maxFailures {
				cb.setState(StateOpen)
				cb.logger.WithField("consecutiveFails", cb.consecutiveFails).Warn("Circuit breaker opened due to failures")
			}
		}
		return
	}

	cb.consecutiveFails = 0
	if cb.state == StateHalfOpen {
		cb.probing = false
		cb.setState(StateClosed)
		cb.logger.Info("Circuit breaker closed after successful probe")
	}
}

func (cb *CircuitBreaker) setState(state State) {
	cb.state = state
	cb.lastStateChange = cb.now()
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name             string    `json:"name"`
	State            State     `json:"state"`
	ConsecutiveFails int       `json:"consecutiveFails"`
	LastStateChange  time.Time `json:"lastStateChange"`
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() *Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return &Stats{
		Name:             cb.name,
		State:            cb.state,
		ConsecutiveFails: cb.consecutiveFails,
		LastStateChange:  cb.lastStateChange,
	}
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
	cb.consecutiveFails = 0
	cb.probing = false
}
