// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"sync"
	"time"
)

// Registry hands out one breaker per key (typically an upstream hostname).
type Registry struct {
	mu           sync.Mutex
	prefix       string
	threshold    int
	resetTimeout time.Duration
	opts         []Option
	breakers     map[string]*CircuitBreaker
}

// NewRegistry creates an empty registry. prefix namespaces breaker metric names.
func NewRegistry(prefix string, threshold int, resetTimeout time.Duration, opts ...Option) *Registry {
	return &Registry{
		prefix:       prefix,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		opts:         opts,
		breakers:     make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for key, creating it on first use.
func (r *Registry) Get(key string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[key]
	if !ok {
		cb = NewCircuitBreaker(r.prefix+key, r.threshold, r.resetTimeout, r.opts...)
		r.breakers[key] = cb
	}
	return cb
}

// Snapshot returns the state of every known breaker.
func (r *Registry) Snapshot() map[string]State {
	r.mu.Lock()
	keys := make(map[string]*CircuitBreaker, len(r.breakers))
	for k, v := range r.breakers {
		keys[k] = v
	}
	r.mu.Unlock()

	out := make(map[string]State, len(keys))
	for k, cb := range keys {
		out[k] = cb.State()
	}
	return out
}
