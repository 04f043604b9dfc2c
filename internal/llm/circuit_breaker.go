package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call because
// the provider has been failing. Callers treat it like any other provider
// error and fall back to heuristics.
var ErrCircuitOpen = errors.New("llm: circuit breaker open")

// CircuitBreakerConfig tunes failure handling for a provider client.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit
	// opens.
	MaxFailures uint32

	// Timeout is how long the circuit stays open before probing again.
	Timeout time.Duration

	// HalfOpenMaxSuccesses is the number of successful probes required to
	// close the circuit again.
	HalfOpenMaxSuccesses uint32
}

// DefaultCircuitBreakerConfig returns the settings used by all provider
// clients unless overridden.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:          3,
		Timeout:              30 * time.Second,
		HalfOpenMaxSuccesses: 2,
	}
}

// CircuitBreakerMetrics is a point-in-time snapshot of breaker activity.
type CircuitBreakerMetrics struct {
	Calls     uint64
	Successes uint64
	Failures  uint64
	Rejected  uint64
}

// CircuitBreaker wraps provider calls with failure tracking. After
// MaxFailures consecutive errors it rejects calls for Timeout, then lets a
// few probes through before fully closing again.
type CircuitBreaker struct {
	name    string
	breaker *gobreaker.CircuitBreaker

	mu      sync.Mutex
	metrics CircuitBreakerMetrics
}

// NewCircuitBreaker creates a breaker named after the provider it guards.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{name: name}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: config.HalfOpenMaxSuccesses,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[llm] circuit breaker %s: %s -> %s", name, from, to)
		},
	}

	cb.breaker = gobreaker.NewCircuitBreaker(settings)
	return cb
}

// Execute runs fn through the breaker. Context cancellation is checked both
// before and after the call so a cancelled context never counts as a
// provider failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := cb.breaker.Execute(func() (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fn()
	})

	cb.record(err)

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, cb.name)
	}
	return err
}

// State returns the current breaker state as a string.
func (cb *CircuitBreaker) State() string {
	return cb.breaker.State().String()
}

// Metrics returns a snapshot of call counts since the breaker was created.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.metrics
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.metrics.Calls++
	switch {
	case err == nil:
		cb.metrics.Successes++
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		cb.metrics.Rejected++
	default:
		cb.metrics.Failures++
	}
}
