// Package middleware wraps backend adapters with the reliability
// layer: token buckets, retry with backoff, a circuit breaker, and a
// cost ceiling checked before any request is issued.
package middleware

import (
	"sync"
	"time"
)

// BreakerState is the circuit state.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker fails fast once a backend keeps failing. After the
// reset window one probe request is admitted; its outcome closes or
// re-opens the circuit.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
	probing     bool
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithMaxFailures sets the consecutive-failure threshold.
func WithMaxFailures(n int) BreakerOption {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.maxFailures = n
		}
	}
}

// WithResetTimeout sets the open-state hold time.
func WithResetTimeout(d time.Duration) BreakerOption {
	return func(cb *CircuitBreaker) {
		if d > 0 {
			cb.resetTimeout = d
		}
	}
}

// NewCircuitBreaker defaults to 5 failures and a 60 s reset window.
func NewCircuitBreaker(name string, opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:         name,
		maxFailures:  5,
		resetTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the breaker's backend name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State reports the current state, accounting for reset expiry.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentStateLocked()
}

func (cb *CircuitBreaker) currentStateLocked() BreakerState {
	if cb.state == BreakerOpen && time.Since(cb.lastFailure) > cb.resetTimeout {
		return BreakerHalfOpen
	}
	return cb.state
}

// Allow admits a request. In half-open state exactly one probe gets
// through; everyone else keeps failing fast until its outcome lands.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.currentStateLocked() {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		if cb.probing {
			return false
		}
		cb.state = BreakerHalfOpen
		cb.probing = true
		return true
	default:
		return false
	}
}

// RecordSuccess closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = BreakerClosed
	cb.probing = false
}

// RecordFailure counts a failure; the threshold opens the circuit. A
// failed half-open probe re-opens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailure = time.Now()
	if cb.state == BreakerHalfOpen || cb.probing || cb.failures >= cb.maxFailures {
		cb.state = BreakerOpen
	}
	cb.probing = false
}

// Trip forces the circuit open, regardless of the failure count.
// Quota exhaustion uses this: more requests cannot help.
func (cb *CircuitBreaker) Trip() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerOpen
	cb.lastFailure = time.Now()
	cb.probing = false
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
