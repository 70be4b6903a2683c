package identity

import (
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

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

// ErrCircuitOpen is returned when the circuit refuses a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig configures circuit breaker behavior.
type BreakerConfig struct {
	// TripThreshold is the number of consecutive failures inside
	// TrackingPeriod that opens the circuit.
	TripThreshold int
	// TrackingPeriod bounds how long a failure streak stays relevant.
	TrackingPeriod time.Duration
	// ResetInterval is how long the circuit stays open before permitting
	// trial calls.
	ResetInterval time.Duration
	// ActiveThreshold is the maximum number of concurrent trial calls in
	// half-open state.
	ActiveThreshold int
	// OnStateChange is called after each state transition.
	OnStateChange func(from, to CircuitState)
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		TripThreshold:   5,
		TrackingPeriod:  time.Minute,
		ResetInterval:   30 * time.Second,
		ActiveThreshold: 1,
	}
}

// CircuitBreaker guards calls to one external identity provider. The state
// is shared by every concurrent caller for that provider; all transitions
// happen under the breaker's mutex so two callers cannot double-trip or
// double-reset it.
type CircuitBreaker struct {
	mu     sync.Mutex
	config BreakerConfig

	state               CircuitState
	consecutiveFailures int
	firstFailureAt      time.Time
	openedAt            time.Time
	trialCount          int

	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	if config.TripThreshold <= 0 {
		config.TripThreshold = 5
	}
	if config.TrackingPeriod <= 0 {
		config.TrackingPeriod = time.Minute
	}
	if config.ResetInterval <= 0 {
		config.ResetInterval = 30 * time.Second
	}
	if config.ActiveThreshold <= 0 {
		config.ActiveThreshold = 1
	}
	return &CircuitBreaker{
		config: config,
		state:  CircuitClosed,
		now:    time.Now,
	}
}

// Allow reports whether a provider call may proceed. An open circuit past
// its reset interval moves to half-open and admits up to ActiveThreshold
// trial calls; further callers are refused until a trial settles.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) >= cb.config.ResetInterval {
			cb.transitionTo(CircuitHalfOpen)
			cb.trialCount = 1
			return nil
		}
		return ErrCircuitOpen
	case CircuitHalfOpen:
		if cb.trialCount < cb.config.ActiveThreshold {
			cb.trialCount++
			return nil
		}
		return ErrCircuitOpen
	}
	return nil
}

// RecordSuccess records a successful provider call. A half-open trial
// success closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.consecutiveFailures = 0
	case CircuitHalfOpen:
		cb.transitionTo(CircuitClosed)
	}
}

// RecordFailure records a failed provider call. In closed state a failure
// streak of TripThreshold inside TrackingPeriod opens the circuit; any
// half-open trial failure reopens it and resets the open timer.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()

	switch cb.state {
	case CircuitClosed:
		if cb.consecutiveFailures == 0 || now.Sub(cb.firstFailureAt) > cb.config.TrackingPeriod {
			cb.consecutiveFailures = 0
			cb.firstFailureAt = now
		}
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.config.TripThreshold {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transitionTo(CircuitOpen)
	}
}

func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	oldState := cb.state
	cb.state = newState

	switch newState {
	case CircuitClosed:
		cb.consecutiveFailures = 0
		cb.trialCount = 0
	case CircuitOpen:
		cb.openedAt = cb.now()
		cb.trialCount = 0
	case CircuitHalfOpen:
	}

	if cb.config.OnStateChange != nil && oldState != newState {
		cb.config.OnStateChange(oldState, newState)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
