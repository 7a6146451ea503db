package circuitbreaker

import (
	"log"
	"sync"
	"time"
)

// CircuitBreaker implements the circuit breaker pattern for a single endpoint
type CircuitBreaker struct {
	failThreshold    int
	successThreshold int
	recoveryTimeout  time.Duration

	consecutiveFailures  int
	consecutiveSuccesses int
	open                 bool
	permanent            bool
	openedAt             time.Time
	lastFailure          time.Time
	mu                   sync.Mutex
}

// NewCircuitBreaker creates a new circuit breaker.
// The circuit opens after failThreshold consecutive failures and closes again
// after successThreshold consecutive successes once recoveryTimeout has passed.
func NewCircuitBreaker(failThreshold, successThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failThreshold:    failThreshold,
		successThreshold: successThreshold,
		recoveryTimeout:  recoveryTimeout,
	}
}

// AllowRequest reports whether a call may be attempted. An open circuit that
// has been open longer than the recovery timeout allows a half-open trial.
func (cb *CircuitBreaker) AllowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.open {
		return true
	}
	if cb.permanent {
		return false
	}
	return time.Since(cb.openedAt) > cb.recoveryTimeout
}

// RecordSuccess records a successful call. While the circuit is open it counts
// toward closing it; the circuit closes after successThreshold consecutive
// successes. A permanently tripped circuit only closes via Reset.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0

	if !cb.open || cb.permanent {
		return
	}
	cb.consecutiveSuccesses++
	if cb.consecutiveSuccesses >= cb.successThreshold {
		log.Printf("Circuit breaker: closing after %d consecutive successes", cb.consecutiveSuccesses)
		cb.open = false
		cb.permanent = false
		cb.consecutiveSuccesses = 0
	}
}

// RecordFailure records a failed call and returns true if the circuit is open
// afterwards. A failure during a half-open trial re-opens the circuit with a
// fresh timestamp.
func (cb *CircuitBreaker) RecordFailure() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.consecutiveSuccesses = 0
	cb.consecutiveFailures++
	cb.lastFailure = now

	if cb.open {
		// Half-open trial failed, restart the cooldown
		cb.openedAt = now
		return true
	}

	if cb.consecutiveFailures >= cb.failThreshold {
		cb.open = true
		cb.openedAt = now
		log.Printf("Circuit breaker tripped: %d consecutive failures", cb.consecutiveFailures)
		return true
	}

	return false
}

// TripPermanent opens the circuit without a recovery window. Used for
// endpoints that fail with errors retrying cannot fix.
func (cb *CircuitBreaker) TripPermanent() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.open = true
	cb.permanent = true
	cb.openedAt = time.Now()
}

// IsOpen returns true if the circuit is currently open
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.open
}

// Reset manually closes the circuit and clears all counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.open = false
	cb.permanent = false
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
}

// GetState returns the current counters of the circuit breaker
func (cb *CircuitBreaker) GetState() (consecutiveFailures, consecutiveSuccesses int, lastFailure time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures, cb.consecutiveSuccesses, cb.lastFailure
}

// GetOpenedAt returns the time when the circuit was last opened
func (cb *CircuitBreaker) GetOpenedAt() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.openedAt
}
