package webhook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDownstream = errors.New("downstream failed")

func newTestBreaker(threshold, halfOpenAttempts int, resetTimeout time.Duration) (*CircuitBreaker, *time.Time) {
	cb := NewCircuitBreaker("endpoint", BreakerConfig{
		FailureThreshold:    threshold,
		ResetTimeout:        resetTimeout,
		HalfOpenMaxAttempts: halfOpenAttempts,
	})

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return clock }

	return cb, &clock
}

func fail(cb *CircuitBreaker) error {
	return cb.Execute(context.Background(), func(ctx context.Context) error { return errDownstream })
}

func succeed(cb *CircuitBreaker) error {
	return cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(3, 1, 30*time.Second)

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, fail(cb), errDownstream)
	}
	state, failures, _ := cb.State()
	assert.Equal(t, StateClosed, state)
	assert.Equal(t, 2, failures)

	assert.ErrorIs(t, fail(cb), errDownstream)
	state, _, _ = cb.State()
	assert.Equal(t, StateOpen, state)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(3, 1, 30*time.Second)

	require.ErrorIs(t, fail(cb), errDownstream)
	require.ErrorIs(t, fail(cb), errDownstream)
	require.NoError(t, succeed(cb))

	// consecutive means consecutive: two more failures must not open it
	require.ErrorIs(t, fail(cb), errDownstream)
	require.ErrorIs(t, fail(cb), errDownstream)

	state, failures, _ := cb.State()
	assert.Equal(t, StateClosed, state)
	assert.Equal(t, 2, failures)
}

func TestBreakerOpenRejectsWithoutInvoking(t *testing.T) {
	t.Parallel()

	cb, clock := newTestBreaker(1, 1, 30*time.Second)
	require.ErrorIs(t, fail(cb), errDownstream)

	*clock = clock.Add(29 * time.Second)

	var invoked bool
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		invoked = true
		return nil
	})

	var open *ErrCircuitOpen
	require.ErrorAs(t, err, &open)
	assert.Equal(t, "endpoint", open.Name)
	assert.False(t, invoked)
}

func TestBreakerHalfOpenAfterResetTimeout(t *testing.T) {
	t.Parallel()

	cb, clock := newTestBreaker(1, 1, 30*time.Second)
	require.ErrorIs(t, fail(cb), errDownstream)

	*clock = clock.Add(30 * time.Second)

	// one trial is permitted and closes the breaker on success
	require.NoError(t, succeed(cb))

	state, _, _ := cb.State()
	assert.Equal(t, StateClosed, state)
}

func TestBreakerHalfOpenFailureReturnsToOpen(t *testing.T) {
	t.Parallel()

	cb, clock := newTestBreaker(1, 1, 30*time.Second)
	require.ErrorIs(t, fail(cb), errDownstream)

	*clock = clock.Add(31 * time.Second)
	require.ErrorIs(t, fail(cb), errDownstream)

	state, _, _ := cb.State()
	assert.Equal(t, StateOpen, state)

	// and the fresh failure restarts the reset clock
	var open *ErrCircuitOpen
	assert.ErrorAs(t, succeed(cb), &open)
}

func TestBreakerHalfOpenRequiresConsecutiveSuccesses(t *testing.T) {
	t.Parallel()

	cb, clock := newTestBreaker(1, 3, 30*time.Second)
	require.ErrorIs(t, fail(cb), errDownstream)

	*clock = clock.Add(30 * time.Second)

	require.NoError(t, succeed(cb))
	state, _, _ := cb.State()
	assert.Equal(t, StateHalfOpen, state)

	require.NoError(t, succeed(cb))
	state, _, _ = cb.State()
	assert.Equal(t, StateHalfOpen, state)

	require.NoError(t, succeed(cb))
	state, _, _ = cb.State()
	assert.Equal(t, StateClosed, state)
}

func TestBreakerDefaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("x", BreakerConfig{})

	assert.Equal(t, 5, cb.failureThreshold)
	assert.Equal(t, 30*time.Second, cb.resetTimeout)
	assert.Equal(t, 1, cb.halfOpenMaxAttempts)
}
