package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed   State = 0
	StateOpen     State = 1
	StateHalfOpen State = 2
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

// CircuitBreaker guards one named publish path against a wedged Redis: it
// trips after maxFailures consecutive EnrichmentJob publish failures and
// rejects calls for resetTimeout before letting a single half-open probe
// through. BufferedQueue is the only caller — Name identifies which queue
// tripped in logs and in CircuitOpenError, since a deployment may eventually
// run more than one named queue against the same Redis instance.
type CircuitBreaker struct {
	Name string

	mu           sync.Mutex
	state        State
	failures     int
	maxFailures  int
	resetTimeout time.Duration
	lastFailure  time.Time

	log *slog.Logger

	// OnStateChange fires synchronously on every transition; BufferedQueue
	// hangs its flush-on-close trigger off this.
	OnStateChange func(from, to State)
}

// NewCircuitBreaker builds a named breaker with the given trip threshold
// and reset timeout. name identifies the protected resource in log lines
// and in CircuitOpenError (e.g. "enrichment_queue"); log may be nil.
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration, log *slog.Logger) *CircuitBreaker {
	return &CircuitBreaker{Name: name, maxFailures: maxFailures, resetTimeout: resetTimeout, state: StateClosed, log: log}
}

// Execute runs fn through the breaker, returning a *CircuitOpenError
// (matched by errors.Is(err, ErrCircuitOpen)) while tripped.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.transition(StateHalfOpen)
		} else {
			cb.mu.Unlock()
			return &CircuitOpenError{Name: cb.Name}
		}
	case StateHalfOpen:
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.failures++
		cb.lastFailure = time.Now()
		if cb.state == StateHalfOpen {
			cb.transition(StateOpen)
		} else if cb.failures >= cb.maxFailures {
			cb.transition(StateOpen)
		}
		return err
	}

	if cb.state == StateHalfOpen {
		cb.transition(StateClosed)
	}
	cb.failures = 0
	return nil
}

// CurrentState reports the breaker's state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures reports the current consecutive-failure count; it is reset to
// 0 by every successful call and by every transition to closed.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	if to == StateClosed {
		cb.failures = 0
	}
	if cb.log != nil {
		cb.log.Warn("queue: circuit breaker state change",
			slog.String("queue", cb.Name), slog.String("from", from.String()), slog.String("to", to.String()))
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}

// CircuitOpenError reports that a named breaker is currently tripped open.
type CircuitOpenError struct {
	Name string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("queue: circuit open for %s", e.Name)
}

// Is makes errors.Is(err, ErrCircuitOpen) match any *CircuitOpenError, for
// callers that only care that the circuit is open, not which one.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// ErrCircuitOpen is the sentinel BufferedQueue checks with errors.Is to
// decide whether to buffer a job locally rather than surface a hard error.
var ErrCircuitOpen = errors.New("queue circuit breaker is open")
