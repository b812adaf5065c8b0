package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/semihalev/zlog/v2"
)

// ErrCircuitOpen is returned while the breaker rejects calls without invoking
// the underlying operation.
var ErrCircuitOpen = errors.New("circuit open")

// BreakerState is the circuit breaker state.
type BreakerState int32

// Circuit breaker states.
const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker trips open after a run of consecutive failures and lets a
// single probe through once the reset timeout has elapsed.
type CircuitBreaker struct {
	mu sync.Mutex

	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool

	threshold    int
	resetTimeout time.Duration
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}

	return &CircuitBreaker{
		threshold:    failureThreshold,
		resetTimeout: resetTimeout,
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.state
}

// Do runs op through the breaker.
func (cb *CircuitBreaker) Do(op func() error) error {
	if err := cb.before(); err != nil {
		return err
	}

	err := op()
	cb.after(err)

	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(cb.openedAt) < cb.resetTimeout {
			return ErrCircuitOpen
		}

		cb.state = StateHalfOpen
		cb.probing = true

		zlog.Debug("Circuit breaker half-open, probing")

		return nil
	default: // StateHalfOpen
		if cb.probing {
			return ErrCircuitOpen
		}

		cb.probing = true
		return nil
	}
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.probing = false

		if err != nil {
			cb.state = StateOpen
			cb.openedAt = time.Now()

			zlog.Warn("Circuit breaker reopened after failed probe", "error", err.Error())
			return
		}

		cb.state = StateClosed
		cb.failures = 0

		zlog.Info("Circuit breaker closed after successful probe")
		return
	}

	if err == nil {
		cb.failures = 0
		return
	}

	cb.failures++
	if cb.state == StateClosed && cb.failures >= cb.threshold {
		cb.state = StateOpen
		cb.openedAt = time.Now()

		zlog.Warn("Circuit breaker tripped", "failures", cb.failures)
	}
}
