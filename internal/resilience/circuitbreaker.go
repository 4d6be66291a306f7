// Package resilience keeps the detection pipeline answering while inference
// backends misbehave.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// sheds calls to a backend after consecutive failures. [FallbackGroup]
// composes multiple backends of one type behind per-entry breakers so a
// failing primary is bypassed in favour of healthy fallbacks, and
// [FallbackDetector] applies that to classifier backends.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker is
// shedding calls and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call to the backend.
	StateClosed State = iota

	// StateOpen sheds every call with [ErrCircuitOpen] until the reset
	// timeout elapses.
	StateOpen

	// StateHalfOpen admits a bounded number of probe calls to test whether
	// the backend has recovered.
	StateHalfOpen
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the protected backend in log output.
	Name string

	// MaxFailures is how many consecutive failures trip the breaker.
	// Default: 5.
	MaxFailures int

	// ResetTimeout is how long calls are shed before probing the backend
	// again. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget in the half-open state. Default: 3.
	HalfOpenMax int
}

// CircuitBreaker sheds calls to a failing backend until it recovers.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu        sync.Mutex
	state     State
	failures  int       // consecutive failures while closed
	trippedAt time.Time // when calls last started being shed
	probes    int       // calls admitted since entering half-open
	probeFail int
}

// NewCircuitBreaker creates a breaker from cfg, substituting defaults for
// zero-value fields.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
	}
}

// Execute runs fn unless the breaker is shedding calls, in which case it
// returns [ErrCircuitOpen] without invoking fn. fn's error is returned as-is
// and folded into the breaker's failure accounting.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probing, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()
	cb.settle(probing, err)
	return err
}

// admit decides whether a call may proceed and reports whether it counts
// against the half-open probe budget.
func (cb *CircuitBreaker) admit() (probing bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.trippedAt) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.probeFail = 0
		slog.Info("breaker probing backend after cooldown", "backend", cb.name)

	case StateHalfOpen:
		if cb.probes >= cb.halfOpenMax {
			return false, ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen {
		cb.probes++
		return true, nil
	}
	return false, nil
}

// settle folds one call outcome into the breaker state.
func (cb *CircuitBreaker) settle(probing bool, callErr error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if callErr == nil {
		if !probing {
			cb.failures = 0
			return
		}
		if cb.probes-cb.probeFail >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.failures = 0
			cb.probes = 0
			cb.probeFail = 0
			slog.Info("breaker closed, backend recovered", "backend", cb.name)
		}
		return
	}

	cb.trippedAt = time.Now()
	if probing {
		// One failed probe is enough evidence the backend is still down.
		cb.probeFail++
		cb.state = StateOpen
		cb.failures = cb.maxFailures
		slog.Warn("breaker re-opened, backend still failing", "backend", cb.name)
		return
	}

	cb.failures++
	if cb.failures >= cb.maxFailures {
		cb.state = StateOpen
		slog.Warn("breaker opened, shedding backend calls",
			"backend", cb.name,
			"consecutive_failures", cb.failures)
	}
}

// State reports the breaker's mode. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.trippedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed] and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.probes = 0
	cb.probeFail = 0
	slog.Info("breaker manually reset", "backend", cb.name)
}
