package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned without invoking the operation while a breaker
// is open, or while its single half-open probe is in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	Threshold int           // Consecutive failures that open the circuit (default 5)
	Cooldown  time.Duration // Time spent open before a probe is allowed (default 30s)
}

// DefaultBreakerConfig returns threshold 5 with a 30s cooldown.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 5, Cooldown: 30 * time.Second}
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Name          string
	State         State
	FailureCount  int
	LastFailureAt time.Time
}

// CircuitBreaker fails fast while an upstream is known to be failing.
// State transitions are delegated to gobreaker; the failure count and last
// failure time are tracked here for reporting.
//
// Caller cancellation says nothing about upstream health. While closed it is
// left out of the accounting entirely. A cancelled half-open probe gave no
// verdict, so it counts as a failed probe and the breaker waits another
// cooldown.
type CircuitBreaker struct {
	name string
	cb   *gobreaker.TwoStepCircuitBreaker

	mu            sync.Mutex
	failureCount  int
	lastFailureAt time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}

	threshold := uint32(cfg.Threshold)
	log := logrus.WithFields(logrus.Fields{"component": "breaker", "breaker": name})

	b := &CircuitBreaker{name: name}
	b.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,            // One probe while half-open
		Interval:    0,            // Counts are only cleared by state changes
		Timeout:     cfg.Cooldown, // Time spent open before the probe
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Warn("circuit breaker state change")
		},
	})
	return b
}

// Name returns the breaker name.
func (b *CircuitBreaker) Name() string {
	return b.name
}

// Execute runs op unless the circuit is open. The error from op is returned
// unchanged after the breaker state is updated.
func (b *CircuitBreaker) Execute(op func() error) error {
	_, err := Call(b, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

// Call is Execute for operations that produce a value.
func Call[T any](b *CircuitBreaker, op func() (T, error)) (T, error) {
	var zero T
	done, err := b.cb.Allow()
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %s", ErrCircuitOpen, b.name)
		}
		return zero, err
	}
	// Only one request is admitted while half-open, so the state seen here
	// stays half-open until done is called.
	probe := b.cb.State() == gobreaker.StateHalfOpen

	defer func() {
		if p := recover(); p != nil {
			b.record(done, errPanicked, probe)
			panic(p)
		}
	}()

	result, err := op()
	b.record(done, err, probe)
	if err != nil {
		return zero, err
	}
	return result, nil
}

var errPanicked = errors.New("operation panicked")

func (b *CircuitBreaker) record(done func(bool), err error, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case err == nil:
		b.failureCount = 0
		done(true)
	case isCancellation(err) && !probe:
		// Left out: gobreaker's counts only move when done is called.
	default:
		b.failureCount++
		b.lastFailureAt = time.Now()
		done(false)
	}
}

// State returns the current state. An open breaker whose cooldown has
// elapsed reports half_open.
func (b *CircuitBreaker) State() State {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Snapshot returns the breaker's state and failure bookkeeping.
func (b *CircuitBreaker) Snapshot() Snapshot {
	state := b.State()

	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:          b.name,
		State:         state,
		FailureCount:  b.failureCount,
		LastFailureAt: b.lastFailureAt,
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
