package errors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/beam-me/core/internal/logging"
)

// CircuitState is the admission state of a CircuitBreaker.
type CircuitState int

const (
	StateClosed   CircuitState = iota // calls pass through
	StateOpen                         // calls fail fast with a DegradedError
	StateHalfOpen                     // probe calls decide whether to close
)

var circuitStateNames = [...]string{"closed", "open", "half-open"}

func (s CircuitState) String() string {
	if int(s) < len(circuitStateNames) {
		return circuitStateNames[s]
	}
	return "unknown"
}

type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive transient failures that open the circuit
	SuccessThreshold int           // consecutive half-open successes that close it
	Timeout          time.Duration // time spent open before probing
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 30 * time.Second}
}

// CircuitBreaker stops calling a collaborator after repeated transient
// failures. Permanent failures do not count against it.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger logging.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    CircuitState
	streak   int // consecutive failures when closed, successes when half-open
	openedAt time.Time
}

func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logging.NewComponentLogger("circuit-breaker"),
		now:    time.Now,
	}
}

// Execute runs fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteFunc(cb, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteFunc is Execute for calls that return a value.
func ExecuteFunc[T any](cb *CircuitBreaker, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := cb.admit(); err != nil {
		var zero T
		return zero, err
	}
	result, err := fn(ctx)
	cb.record(err)
	return result, err
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return nil
	}
	remaining := cb.config.Timeout - cb.now().Sub(cb.openedAt)
	if remaining <= 0 {
		cb.moveTo(StateHalfOpen)
		return nil
	}
	return NewDegradedError(
		fmt.Errorf("circuit breaker open for %s", cb.name),
		fmt.Sprintf("%s is temporarily unavailable after repeated failures; retry in %v", cb.name, remaining),
	)
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case err == nil && cb.state == StateHalfOpen:
		cb.streak++
		if cb.streak >= cb.config.SuccessThreshold {
			cb.moveTo(StateClosed)
		}
	case err == nil:
		cb.streak = 0
	case !IsTransient(err):
	case cb.state == StateHalfOpen:
		cb.moveTo(StateOpen)
	default:
		cb.streak++
		if cb.streak >= cb.config.FailureThreshold {
			cb.moveTo(StateOpen)
		}
	}
}

// moveTo must be called with mu held.
func (cb *CircuitBreaker) moveTo(next CircuitState) {
	if next == StateOpen {
		cb.openedAt = cb.now()
		cb.logger.Warn("[%s] Circuit breaker %s -> open after %d failures", cb.name, cb.state, cb.streak)
	} else {
		cb.logger.Info("[%s] Circuit breaker %s -> %s", cb.name, cb.state, next)
	}
	cb.state = next
	cb.streak = 0
}
