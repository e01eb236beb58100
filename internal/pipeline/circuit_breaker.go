package pipeline

import (
	"sync"
	"time"
)

// circuitState mirrors the teacher's CircuitBreakerState enum, reused
// here to gate reconnect attempts to a camera's upstream source rather
// than MediaMTX's control API.
type circuitState int

const (
	stateClosed circuitState = iota
	stateOpen
	stateHalfOpen
)

func (s circuitState) String() string {
	switch s {
	case stateClosed:
		return "CLOSED"
	case stateOpen:
		return "OPEN"
	case stateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// circuitBreakerConfig replaces the deleted MediaMTX-era
// CircuitBreakerConfig; its fields are sized from spec §4.1's source
// recovery algorithm instead of MediaMTX's health-check cadence.
type circuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	RecoveryTimeout  time.Duration // time in Open before probing Half-Open
}

// circuitBreaker gates reconnect attempts for one camera's source.
// Ported from the teacher's internal/mediamtx circuit breaker, trimmed
// to the fields the pipeline's reconnect loop actually needs.
type circuitBreaker struct {
	mu sync.Mutex

	cfg circuitBreakerConfig

	state           circuitState
	failureCount    int
	lastFailureTime time.Time
	lastStateChange time.Time
}

func newCircuitBreaker(cfg circuitBreakerConfig) *circuitBreaker {
	return &circuitBreaker{cfg: cfg, state: stateClosed, lastStateChange: time.Now()}
}

// Allow reports whether a reconnect attempt may proceed right now.
func (cb *circuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case stateClosed:
		return true
	case stateOpen:
		if time.Since(cb.lastStateChange) >= cb.cfg.RecoveryTimeout {
			cb.setState(stateHalfOpen)
			return true
		}
		return false
	case stateHalfOpen:
		return true
	default:
		return true
	}
}

// RecordFailure registers a failed reconnect attempt.
func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = time.Now()

	if cb.state == stateHalfOpen {
		cb.setState(stateOpen)
		return
	}
	if cb.failureCount >= cb.cfg.FailureThreshold {
		cb.setState(stateOpen)
	}
}

// RecordSuccess registers a successful reconnect, closing the breaker.
func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	cb.setState(stateClosed)
}

func (cb *circuitBreaker) setState(s circuitState) {
	if cb.state == s {
		return
	}
	cb.state = s
	cb.lastStateChange = time.Now()
}

func (cb *circuitBreaker) State() circuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
