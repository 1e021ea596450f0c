// SPDX-License-Identifier: MIT

package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/consultease/central/internal/metrics"
)

// State represents the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// clock abstracts time operations for testability.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Breaker is a three-state circuit breaker guarding a flaky dependency.
// Consecutive failures beyond the threshold open the circuit; after the
// reset timeout one probe is allowed through, and a success closes it.
type Breaker struct {
	mu           sync.Mutex
	name         string
	state        State
	failures     int
	threshold    int
	resetTimeout time.Duration
	openedAt     time.Time
	clock        clock

	onTrip func() // invoked outside the lock after closed->open
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock substitutes the time source, for tests.
func WithClock(c clock) Option {
	return func(b *Breaker) { b.clock = c }
}

// WithTripHook registers a callback fired once per closed->open transition.
func WithTripHook(fn func()) Option {
	return func(b *Breaker) { b.onTrip = fn }
}

// New creates a circuit breaker named for metrics.
func New(name string, threshold int, resetTimeout time.Duration, opts ...Option) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}

	b := &Breaker{
		name:         name,
		state:        StateClosed,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		clock:        realClock{},
	}
	for _, opt := range opts {
		opt(b)
	}

	metrics.SetBreakerState(b.name, string(b.state))
	return b
}

// Execute runs fn respecting the breaker state. When the circuit is open
// it returns ErrCircuitOpen without invoking fn.
func (b *Breaker) Execute(fn func() error) error {
	if !b.Allow() {
		return ErrCircuitOpen
	}

	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// Allow reports whether a request may proceed, transitioning an expired
// open circuit to half-open.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.clock.Now().Sub(b.openedAt) > b.resetTimeout {
			b.transitionTo(StateHalfOpen)
			return true
		}
		return false
	default: // StateHalfOpen: let the probe through
		return true
	}
}

// RecordFailure counts one failure against the circuit.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	b.failures++

	var tripped bool
	if b.state == StateHalfOpen {
		metrics.RecordBreakerTrip(b.name, "half_open_failure")
		b.transitionTo(StateOpen)
	} else if b.state == StateClosed && b.failures >= b.threshold {
		metrics.RecordBreakerTrip(b.name, "threshold_exceeded")
		b.transitionTo(StateOpen)
		tripped = true
	}
	hook := b.onTrip
	b.mu.Unlock()

	if tripped && hook != nil {
		hook()
	}
}

// RecordSuccess resets the failure count and closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state != StateClosed {
		b.transitionTo(StateClosed)
	}
}

// transitionTo handles state transitions and updates metrics.
// Caller must hold the lock.
func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}
	b.state = newState
	if newState == StateOpen {
		b.openedAt = b.clock.Now()
	}
	metrics.SetBreakerState(b.name, string(newState))
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
