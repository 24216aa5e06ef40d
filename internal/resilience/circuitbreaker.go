// Package resilience guards upstream providers with circuit breakers and
// reports component health.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that close it again.
	SuccessThreshold int
	// Timeout is how long an open circuit rejects calls before probing.
	Timeout time.Duration
}

// DefaultCircuitBreakerConfig returns the provider defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
	}
}

// ErrCircuitOpen is returned when the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// StateChangeFunc observes circuit transitions. It runs with the breaker
// locked and must not call back into it.
type StateChangeFunc func(name string, from, to CircuitState)

// CircuitBreaker trips after consecutive provider failures and probes again
// once Timeout has passed.
type CircuitBreaker struct {
	name     string
	cfg      CircuitBreakerConfig
	now      func() time.Time
	onChange StateChangeFunc

	mu sync.Mutex
	// streak counts failures while closed and successes while half-open.
	streak      int
	state       CircuitState
	openedAt    time.Time
	changedAt   time.Time
	lastFailure time.Time

	requests int64
	failures int64
	rejected int64
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		name:      name,
		cfg:       cfg,
		now:       time.Now,
		state:     CircuitClosed,
		changedAt: time.Now(),
	}
}

// Execute runs fn unless the circuit is open. A non-nil error from fn counts
// as a failure; callers decide which outcomes are failures.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.admit() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err == nil)
	return err
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requests++
	if cb.state != CircuitOpen {
		return true
	}
	if cb.now().Sub(cb.openedAt) < cb.cfg.Timeout {
		cb.rejected++
		return false
	}
	cb.setState(CircuitHalfOpen)
	return true
}

func (cb *CircuitBreaker) record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if ok {
		switch cb.state {
		case CircuitClosed:
			cb.streak = 0
		case CircuitHalfOpen:
			if cb.streak++; cb.streak >= cb.cfg.SuccessThreshold {
				cb.setState(CircuitClosed)
			}
		}
		return
	}

	cb.failures++
	cb.lastFailure = cb.now()
	switch cb.state {
	case CircuitClosed:
		if cb.streak++; cb.streak >= cb.cfg.FailureThreshold {
			cb.setState(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.setState(CircuitOpen)
	}
}

func (cb *CircuitBreaker) setState(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.streak = 0
	cb.changedAt = cb.now()
	if to == CircuitOpen {
		cb.openedAt = cb.changedAt
	}
	if cb.onChange != nil && from != to {
		cb.onChange(cb.name, from, to)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the guarded provider's name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// CircuitBreakerStats is a point-in-time view of a breaker.
type CircuitBreakerStats struct {
	Name          string       `json:"name"`
	State         CircuitState `json:"state"`
	TotalRequests int64        `json:"total_requests"`
	TotalFailures int64        `json:"total_failures"`
	TotalRejected int64        `json:"total_rejected"`
	LastFailure   time.Time    `json:"last_failure"`
	StateSince    time.Time    `json:"state_since"`
}

// Stats returns circuit breaker statistics.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStats{
		Name:          cb.name,
		State:         cb.state,
		TotalRequests: cb.requests,
		TotalFailures: cb.failures,
		TotalRejected: cb.rejected,
		LastFailure:   cb.lastFailure,
		StateSince:    cb.changedAt,
	}
}
