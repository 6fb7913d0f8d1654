// Package circuitbreaker stops hammering a failing dependency.
// The gateway puts one in front of the shared counter store so that an
// unreachable Redis costs a single timeout per cool-down period instead of
// one per request.
//
// States:
//   - Closed: calls pass through
//   - Open: calls fail immediately with domain.ErrCircuitBreakerOpen
//   - Half-Open: calls pass through again; failures reopen, successes close
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/felipepmaragno/quotagate/internal/domain"
)

// State represents the current state of a circuit breaker.
type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing fast
	StateHalfOpen              // Testing recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config defines circuit breaker behavior.
type Config struct {
	FailureThreshold int           // Consecutive failures before opening
	SuccessThreshold int           // Successes to close from half-open
	Timeout          time.Duration // Time before transitioning to half-open

	// OnStateChange, when set, is called with the breaker lock released.
	OnStateChange func(from, to State)
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          10 * time.Second,
	}
}

type CircuitBreaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	config      Config
	now         func() time.Time
}

func New(cfg Config) *CircuitBreaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	return &CircuitBreaker{
		state:  StateClosed,
		config: cfg,
		now:    time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// Allow returns nil if a call may proceed, ErrCircuitBreakerOpen otherwise.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	if cb.state != StateOpen {
		cb.mu.Unlock()
		return nil
	}

	if cb.now().Sub(cb.lastFailure) < cb.config.Timeout {
		cb.mu.Unlock()
		return domain.ErrCircuitBreakerOpen
	}

	cb.successes = 0
	notify := cb.transition(StateHalfOpen)
	cb.mu.Unlock()

	notify()
	return nil
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	notify := func() {}

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.failures = 0
			cb.successes = 0
			notify = cb.transition(StateClosed)
		}
	}
	cb.mu.Unlock()

	notify()
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	notify := func() {}
	cb.lastFailure = cb.now()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			notify = cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.successes = 0
		notify = cb.transition(StateOpen)
	}
	cb.mu.Unlock()

	notify()
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// transition must be called with mu held. The returned func runs the
// state-change hook and must be called after mu is released.
func (cb *CircuitBreaker) transition(to State) func() {
	from := cb.state
	cb.state = to
	if cb.config.OnStateChange == nil || from == to {
		return func() {}
	}
	hook := cb.config.OnStateChange
	return func() { hook(from, to) }
}
