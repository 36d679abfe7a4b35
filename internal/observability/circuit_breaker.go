package observability

import (
	"sync"
	"time"
)

// CircuitState is the closed/open/half-open state of a CircuitBreaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// CircuitBreaker guards AnalyzerClient's upstream calls: once a run of
// consecutive failures crosses failureThreshold, calls are short-circuited
// until recoveryTimeout elapses, at which point one trial call is allowed
// through (half-open) to decide whether to close or re-open.
type CircuitBreaker struct {
	mu               sync.Mutex
	service          string
	operation        string
	state            CircuitState
	consecutiveFails int
	openedAt         time.Time
	failureThreshold int
	recoveryTimeout  time.Duration
}

// NewCircuitBreaker builds a breaker labeled for metrics as service/operation.
func NewCircuitBreaker(service, operation string, failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		service:          service,
		operation:        operation,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
	}
}

// ShouldAttempt reports whether a call should proceed, transitioning Open to
// HalfOpen once recoveryTimeout has elapsed.
func (c *CircuitBreaker) ShouldAttempt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CircuitClosed:
		return true
	case CircuitHalfOpen:
		return true
	default: // CircuitOpen
		if time.Since(c.openedAt) >= c.recoveryTimeout {
			c.state = CircuitHalfOpen
			RecordCircuitBreakerStatus(c.service, c.operation, int(CircuitHalfOpen))
			return true
		}
		return false
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (c *CircuitBreaker) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveFails = 0
	c.state = CircuitClosed
	RecordCircuitBreakerStatus(c.service, c.operation, int(CircuitClosed))
}

// RecordFailure increments the failure count and opens the breaker once the
// threshold is crossed (or immediately, from half-open).
func (c *CircuitBreaker) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == CircuitHalfOpen {
		c.state = CircuitOpen
		c.openedAt = time.Now()
		RecordCircuitBreakerStatus(c.service, c.operation, int(CircuitOpen))
		return
	}
	c.consecutiveFails++
	if c.consecutiveFails >= c.failureThreshold {
		c.state = CircuitOpen
		c.openedAt = time.Now()
		RecordCircuitBreakerStatus(c.service, c.operation, int(CircuitOpen))
	}
}

// State returns the current state, for tests and status endpoints.
func (c *CircuitBreaker) State() CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
