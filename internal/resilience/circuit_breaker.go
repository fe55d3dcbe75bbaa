// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resilience fails fast for upstream embed hosts that keep failing.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mzazimhenga22/movieflix/internal/metrics"
)

// State is a breaker position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// ErrCircuitOpen is returned while a breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

const (
	defaultThreshold = 3
	defaultCooldown  = 30 * time.Second
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// CircuitBreaker opens after threshold consecutive failures. Once the
// cooldown has passed it admits exactly one trial call; its outcome
// closes or reopens it.
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	clock     Clock

	mu          sync.Mutex
	state       State
	consecutive int
	retryAt     time.Time
	trialOut    bool
}

type Option func(*CircuitBreaker)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(cb *CircuitBreaker) { cb.clock = c }
}

// NewCircuitBreaker returns a closed breaker. Non-positive threshold or
// cooldown take the defaults (3 failures, 30s).
func NewCircuitBreaker(name string, threshold int, cooldown time.Duration, opts ...Option) *CircuitBreaker {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	cb := &CircuitBreaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		clock:     systemClock{},
		state:     StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	metrics.SetBreakerState(name, string(StateClosed))
	return cb
}

// Execute runs fn if the breaker admits a call. Context cancellation
// returned by fn releases the slot without counting as a host failure.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	err := fn()
	switch {
	case err == nil:
		cb.RecordSuccess()
	case errors.Is(err, context.Canceled):
		cb.Cancel()
	default:
		cb.RecordFailure()
	}
	return err
}

// Allow reports whether a call may proceed and reserves the trial slot when
// the breaker is half-open.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.clock.Now().Before(cb.retryAt) {
			return false
		}
		cb.setState(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.trialOut {
			return false
		}
		cb.trialOut = true
	}
	return true
}

// RecordFailure counts a failed call; a failed trial reopens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutive++
	switch {
	case cb.state == StateHalfOpen:
		cb.trip("trial_failed")
	case cb.state == StateClosed && cb.consecutive >= cb.threshold:
		cb.trip("threshold")
	}
}

// RecordSuccess closes the breaker and clears the failure run.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutive = 0
	cb.setState(StateClosed)
}

// Cancel returns an unused trial slot, for calls the client abandoned.
func (cb *CircuitBreaker) Cancel() {
	cb.mu.Lock()
	cb.trialOut = false
	cb.mu.Unlock()
}

// State returns the current position.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// trip opens the breaker. Caller holds mu.
func (cb *CircuitBreaker) trip(cause string) {
	metrics.RecordBreakerTrip(cb.name, cause)
	cb.retryAt = cb.clock.Now().Add(cb.cooldown)
	cb.setState(StateOpen)
}

// setState records a transition. Caller holds mu.
func (cb *CircuitBreaker) setState(s State) {
	if cb.state == s {
		return
	}
	cb.state = s
	cb.trialOut = false
	metrics.SetBreakerState(cb.name, string(s))
}
