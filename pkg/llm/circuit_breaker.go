package llm

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the current state of the circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit is operational and requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit has tripped due to failures and requests are blocked.
	CircuitOpen
	// CircuitHalfOpen means the circuit is testing if the service has recovered.
	CircuitHalfOpen
)

// String returns a human-readable string for the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Threshold is the number of failures within Window before the
	// circuit trips.
	Threshold int
	// Window is the sliding time window over which failures are counted.
	Window time.Duration
	// ResetAfter is how long the circuit stays open before a single probe
	// request is let through (half-open).
	ResetAfter time.Duration
}

// DefaultCircuitBreakerConfig returns sensible defaults for the circuit breaker.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Threshold:  5,
		Window:     60 * time.Second,
		ResetAfter: 30 * time.Second,
	}
}

// CircuitBreaker implements the circuit breaker pattern for LLM calls. It
// trips open after N failures within a sliding window W, and probes
// recovery with a single half-open request after a reset timeout.
// Failures older than W age out of the window, and a recorded success
// clears it, so only failures within W with no success between them count
// toward the threshold.
type CircuitBreaker struct {
	mu            sync.Mutex
	threshold     int
	window        time.Duration
	resetAfter    time.Duration
	failureTimes  []time.Time
	state         CircuitState
	openedAt      time.Time
	lastFailure   time.Time
	successCount  int
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:  config.Threshold,
		window:     config.Window,
		resetAfter: config.ResetAfter,
		state:      CircuitClosed,
	}
}

// Allow returns true if the circuit breaker allows a request to proceed.
// It transitions to half-open state after the reset timeout expires.
func (cb *CircuitBreaker) Allow() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.pruneLocked(time.Now())

	switch cb.state {
	case CircuitClosed:
		return true, nil
	case CircuitOpen:
		if time.Since(cb.openedAt) > cb.resetAfter {
			cb.state = CircuitHalfOpen
			return true, nil
		}
		return false, fmt.Errorf("circuit breaker open: LLM provider appears to be down (%d failures in window, last failure %v ago)",
			len(cb.failureTimes), time.Since(cb.lastFailure).Round(time.Second))
	case CircuitHalfOpen:
		return false, fmt.Errorf("circuit breaker half-open: testing if LLM provider has recovered")
	default:
		return false, fmt.Errorf("circuit breaker in unknown state: %v", cb.state)
	}
}

// RecordSuccess clears the failure window and closes the circuit if it
// was half-open.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successCount++
	if cb.state == CircuitHalfOpen {
		cb.closeLocked()
		return
	}
	cb.failureTimes = nil
}

// RecordFailure records a failure timestamp and trips the circuit if the
// sliding window now holds >= threshold failures. A failure while
// half-open immediately reopens the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.lastFailure = now
	cb.failureTimes = append(cb.failureTimes, now)
	cb.pruneLocked(now)

	if cb.state == CircuitHalfOpen {
		cb.openLocked(now)
		return
	}

	if cb.state == CircuitClosed && len(cb.failureTimes) >= cb.threshold {
		cb.openLocked(now)
	}
}

func (cb *CircuitBreaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-cb.window)
	kept := cb.failureTimes[:0]
	for _, t := range cb.failureTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	cb.failureTimes = kept
}

func (cb *CircuitBreaker) openLocked(now time.Time) {
	cb.state = CircuitOpen
	cb.openedAt = now
}

func (cb *CircuitBreaker) closeLocked() {
	cb.state = CircuitClosed
	cb.failureTimes = nil
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// FailuresInWindow returns the number of failures currently counted in the
// sliding window.
func (cb *CircuitBreaker) FailuresInWindow() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.pruneLocked(time.Now())
	return len(cb.failureTimes)
}

// Reset manually resets the circuit breaker to closed state. Used sparingly,
// typically only for testing or manual intervention.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.closeLocked()
}
