// Package resilience provides the circuit breaker that guards outbound
// connections to the live provider.
//
// [CircuitBreaker] is a three-state breaker (closed → open → half-open). It
// never retries: callers get [ErrCircuitOpen] while the breaker is open and
// decide for themselves what to do. [FallbackGroup] and [LiveFallback] put
// one breaker in front of each of several interchangeable backends.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker is
// open, or when the half-open trial budget is used up.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of trial calls through.
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
	// Name is used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful trials needed to close again.
	// Default: 1.
	HalfOpenMax int

	// IsFailure classifies errors returned by the guarded call. Nil counts
	// every non-nil error except context cancellation by the caller.
	IsFailure func(error) bool

	// OnStateChange is invoked (without locks held) after each transition.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
	trials      int
	trialWins   int
	transitions []transition
}

type transition struct{ from, to State }

// NewCircuitBreaker creates a breaker. Zero-value fields get defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = defaultIsFailure
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

func defaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute runs fn if the breaker admits the call and records the outcome.
// A call rejected by the breaker returns [ErrCircuitOpen] without running fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	trial, err := cb.admit()
	if err != nil {
		return err
	}
	callErr := fn(ctx)
	cb.record(trial, cb.cfg.IsFailure(callErr))
	return callErr
}

func (cb *CircuitBreaker) admit() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.flush()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.trials, cb.trialWins = 0, 0
		fallthrough
	case StateHalfOpen:
		if cb.trials >= cb.cfg.HalfOpenMax {
			return false, ErrCircuitOpen
		}
		cb.trials++
		return true, nil
	default:
		return false, nil
	}
}

func (cb *CircuitBreaker) record(trial, failed bool) {
	cb.mu.Lock()
	defer cb.flush()
	defer cb.mu.Unlock()

	if trial && cb.state != StateHalfOpen {
		// Another trial already decided the outcome.
		return
	}

	switch {
	case failed && trial:
		cb.trip()
	case failed:
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures {
			cb.trip()
		}
	case trial:
		cb.trialWins++
		if cb.trialWins >= cb.cfg.HalfOpenMax {
			cb.failures = 0
			cb.setState(StateClosed)
		}
	default:
		cb.failures = 0
	}
}

// trip opens the breaker. Must be called with cb.mu held.
func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.now()
	cb.setState(StateOpen)
}

// setState records a transition. Must be called with cb.mu held.
func (cb *CircuitBreaker) setState(to State) {
	if cb.state == to {
		return
	}
	cb.transitions = append(cb.transitions, transition{from: cb.state, to: to})
	cb.state = to
}

// flush logs and publishes pending transitions outside the lock.
func (cb *CircuitBreaker) flush() {
	cb.mu.Lock()
	pending := cb.transitions
	cb.transitions = nil
	failures := cb.failures
	cb.mu.Unlock()

	for _, t := range pending {
		level := slog.LevelInfo
		if t.to == StateOpen {
			level = slog.LevelWarn
		}
		slog.Log(context.Background(), level, "circuit breaker state change",
			"name", cb.cfg.Name,
			"from", t.from.String(),
			"to", t.to.String(),
			"consecutive_failures", failures,
		)
		if cb.cfg.OnStateChange != nil {
			cb.cfg.OnStateChange(cb.cfg.Name, t.from, t.to)
		}
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Check returns [ErrCircuitOpen] while the breaker rejects calls. It has the
// shape of a readiness check.
func (cb *CircuitBreaker) Check(context.Context) error {
	if cb.State() == StateOpen {
		return ErrCircuitOpen
	}
	return nil
}

// Reset forces the breaker back to [StateClosed].
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.flush()
	defer cb.mu.Unlock()
	cb.failures, cb.trials, cb.trialWins = 0, 0, 0
	cb.setState(StateClosed)
}
