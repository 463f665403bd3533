package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half_open"
)

// ErrCircuitOpen is returned by Execute when the breaker rejects a call
// without invoking the wrapped function.
type ErrCircuitOpen struct {
	Name string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker %q is open, request rejected", e.Name)
}

type BreakerConfig struct {
	FailureThreshold    int           // consecutive failures before opening; default 5
	ResetTimeout        time.Duration // open duration before a trial window; default 30s
	HalfOpenMaxAttempts int           // consecutive successes required to close; default 1
}

// CircuitBreaker fail-fast isolates one downstream destination. One instance
// per destination identity, lifetime = process lifetime.
type CircuitBreaker struct {
	mu              sync.Mutex
	name            string
	state           CircuitState
	failureCount    int
	successCount    int
	lastFailureTime time.Time

	failureThreshold    int
	resetTimeout        time.Duration
	halfOpenMaxAttempts int

	now func() time.Time // test seam
}

func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxAttempts <= 0 {
		cfg.HalfOpenMaxAttempts = 1
	}

	return &CircuitBreaker{
		name:                name,
		state:               StateClosed,
		failureThreshold:    cfg.FailureThreshold,
		resetTimeout:        cfg.ResetTimeout,
		halfOpenMaxAttempts: cfg.HalfOpenMaxAttempts,
		now:                 time.Now,
	}
}

// Execute runs fn unless the breaker is open with the reset timeout
// unexpired, in which case it rejects immediately without invoking fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}

	if err := fn(ctx); err != nil {
		cb.onFailure()
		return err
	}

	cb.onSuccess()

	return nil
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}

	if cb.now().Sub(cb.lastFailureTime) >= cb.resetTimeout {
		cb.state = StateHalfOpen
		cb.successCount = 0
		return nil
	}

	return &ErrCircuitOpen{Name: cb.name}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.halfOpenMaxAttempts {
			cb.state = StateClosed
			cb.failureCount = 0
		}
		return
	}

	cb.failureCount = 0
}

func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = cb.now()

	if cb.state == StateHalfOpen || cb.failureCount >= cb.failureThreshold {
		cb.state = StateOpen
	}
}

// State reports the breaker's current state and counters.
func (cb *CircuitBreaker) State() (CircuitState, int, time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.state, cb.failureCount, cb.lastFailureTime
}
