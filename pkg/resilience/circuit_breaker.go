package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker
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

// StateChangeFunc observes circuit transitions. It is called without the
// breaker lock held.
type StateChangeFunc func(name string, from, to CircuitState)

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit
	FailureThreshold int
	// SuccessThreshold is the number of successes needed to close the circuit from half-open
	SuccessThreshold int
	// Timeout is the duration the circuit stays open before transitioning to half-open
	Timeout time.Duration
	// MaxRequests is the max number of requests allowed through in half-open state
	MaxRequests int
	// OnStateChange is optional
	OnStateChange StateChangeFunc
}

// DefaultCircuitBreakerConfig returns sensible defaults
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		MaxRequests:      3,
	}
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig

	mu               sync.Mutex
	state            CircuitState
	failures         int
	successes        int
	halfOpenRequests int
	openedAt         time.Time
	lastFailure      time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given name and config
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = 1
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  CircuitClosed,
	}
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state, moving an expired open circuit to half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	from, to := cb.advance()
	state := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return state
}

// advance moves open to half-open once the timeout passed (must hold lock).
func (cb *CircuitBreaker) advance() (CircuitState, CircuitState) {
	if cb.state == CircuitOpen && time.Since(cb.openedAt) >= cb.config.Timeout {
		return cb.transition(CircuitHalfOpen)
	}
	return cb.state, cb.state
}

// transition sets the state and resets per-state counters (must hold lock).
func (cb *CircuitBreaker) transition(to CircuitState) (CircuitState, CircuitState) {
	from := cb.state
	if from == to {
		return from, to
	}
	cb.state = to
	cb.successes = 0
	cb.halfOpenRequests = 0
	switch to {
	case CircuitOpen:
		cb.openedAt = time.Now()
	case CircuitClosed:
		cb.failures = 0
	}
	return from, to
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	if from != to && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, from, to)
	}
}

// Execute runs fn with circuit breaker protection. A context that is
// already done is returned as is and does not count as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn()

	cb.afterRequest(err)
	return err
}

// beforeRequest checks if the request should be allowed
func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	from, to := cb.advance()

	var err error
	switch cb.state {
	case CircuitOpen:
		err = ErrCircuitOpen
	case CircuitHalfOpen:
		if cb.halfOpenRequests >= cb.config.MaxRequests {
			err = ErrCircuitOpen
		} else {
			cb.halfOpenRequests++
		}
	}
	cb.mu.Unlock()

	cb.notify(from, to)
	return err
}

// afterRequest records the result of the request
func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	var from, to CircuitState
	if err != nil {
		from, to = cb.onFailure()
	} else {
		from, to = cb.onSuccess()
	}
	cb.mu.Unlock()

	cb.notify(from, to)
}

// onFailure handles a failed request
func (cb *CircuitBreaker) onFailure() (CircuitState, CircuitState) {
	cb.failures++
	cb.lastFailure = time.Now()

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			return cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any failure in half-open reopens the circuit
		return cb.transition(CircuitOpen)
	}
	return cb.state, cb.state
}

// onSuccess handles a successful request
func (cb *CircuitBreaker) onSuccess() (CircuitState, CircuitState) {
	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			return cb.transition(CircuitClosed)
		}
	}
	return cb.state, cb.state
}

// Reset resets the circuit breaker to its initial state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from, to := cb.transition(CircuitClosed)
	cb.failures = 0
	cb.mu.Unlock()

	cb.notify(from, to)
}

// Metrics returns current circuit breaker metrics
func (cb *CircuitBreaker) Metrics() map[string]interface{} {
	state := cb.State()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	return map[string]interface{}{
		"name":        cb.name,
		"state":       state.String(),
		"failures":    cb.failures,
		"successes":   cb.successes,
		"lastFailure": cb.lastFailure,
	}
}
