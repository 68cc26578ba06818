package errors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAfterRetryableFailures(t *testing.T) {
	// Given: a breaker tripping after 2 failures
	cb := NewCircuitBreaker("index", WithMaxFailures(2), WithResetTimeout(time.Hour))
	failing := func() error { return NetworkError("503", nil) }

	// When: two retryable failures happen
	_ = cb.Execute(failing)
	_ = cb.Execute(failing)

	// Then: the circuit is open and calls fail fast
	assert.Equal(t, StateOpen, cb.State())
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.False(t, called)
}

func TestCircuitBreaker_RejectionsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreaker("index", WithMaxFailures(1))

	_ = cb.Execute(func() error { return SchemaMismatchError("400", nil) })

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker("index", WithMaxFailures(1), WithResetTimeout(5*time.Millisecond))
	_ = cb.Execute(func() error { return NetworkError("503", nil) })
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	v, err := CircuitExecute(cb, func() (int, error) { return 42, nil })
	assert.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, StateClosed, cb.State())
}
