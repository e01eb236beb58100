package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := newCircuitBreaker(circuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: 50 * time.Millisecond})

	assert.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, stateClosed, cb.State())

	cb.RecordFailure()
	assert.Equal(t, stateOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	cb := newCircuitBreaker(circuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})

	cb.RecordFailure()
	assert.Equal(t, stateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, cb.Allow())
	assert.Equal(t, stateHalfOpen, cb.State())
}

func TestCircuitBreaker_SuccessClosesFromHalfOpen(t *testing.T) {
	cb := newCircuitBreaker(circuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Millisecond})
	cb.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	cb.Allow()
	cb.RecordSuccess()
	assert.Equal(t, stateClosed, cb.State())
}

func TestCalculateSourceBackoff_CapsAt30Seconds(t *testing.T) {
	min, max := time.Second, 30*time.Second
	d := calculateSourceBackoff(10, min, max)
	assert.LessOrEqual(t, d, max)
}

func TestCalculateSourceBackoff_GrowsWithAttempt(t *testing.T) {
	min, max := time.Second, 30*time.Second
	first := calculateSourceBackoff(0, min, max)
	assert.GreaterOrEqual(t, first, min)
	later := calculateSourceBackoff(3, min, max)
	assert.Greater(t, later, first)
}
