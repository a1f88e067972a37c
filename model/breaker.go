package model

import (
	"sync"
	"time"
)

const (
	// breakerFailureLimit is how many consecutive failures open an
	// endpoint's breaker.
	breakerFailureLimit = 3

	// breakerCooldown is how long an open breaker blocks an endpoint
	// before a probe call is allowed through.
	breakerCooldown = 30 * time.Second
)

// breakerSet tracks per-endpoint failure runs so the fallback walk can
// route around endpoints that keep timing out or erroring.
type breakerSet struct {
	mu     sync.Mutex
	states map[string]*endpointBreaker
}

type endpointBreaker struct {
	failures int
	// openedAt is zero while the breaker is closed. Failures past the
	// limit re-stamp it, extending the cooldown.
	openedAt time.Time
}

func newBreakerSet() *breakerSet {
	return &breakerSet{states: make(map[string]*endpointBreaker)}
}

// MarkEndpointSuccess closes the endpoint's breaker and clears its
// failure run.
func (r *Registry) MarkEndpointSuccess(name string) {
	if r.breakers == nil {
		return
	}
	r.breakers.mu.Lock()
	defer r.breakers.mu.Unlock()

	if b, ok := r.breakers.states[name]; ok {
		b.failures = 0
		b.openedAt = time.Time{}
	}
}

// MarkEndpointFailure extends the endpoint's failure run, opening the
// breaker once the run reaches the limit.
func (r *Registry) MarkEndpointFailure(name string) {
	if r.breakers == nil {
		return
	}
	r.breakers.mu.Lock()
	defer r.breakers.mu.Unlock()

	b, ok := r.breakers.states[name]
	if !ok {
		b = &endpointBreaker{}
		r.breakers.states[name] = b
	}
	b.failures++
	if b.failures >= breakerFailureLimit {
		b.openedAt = time.Now()
	}
}

// IsEndpointAvailable reports whether the endpoint should be called.
// Endpoints with an open breaker become available again after the
// cooldown so one probe call can test recovery.
func (r *Registry) IsEndpointAvailable(name string) bool {
	if r.breakers == nil {
		return true
	}
	r.breakers.mu.Lock()
	defer r.breakers.mu.Unlock()

	b, ok := r.breakers.states[name]
	if !ok || b.openedAt.IsZero() {
		return true
	}
	return time.Since(b.openedAt) > breakerCooldown
}

// GetAvailableFallbackChain returns cap's chain with cooling-down
// endpoints removed. When every endpoint is cooling down it returns the
// full chain; trying something beats failing without a call.
func (r *Registry) GetAvailableFallbackChain(cap Capability) []string {
	chain := r.GetFallbackChain(cap)

	available := make([]string, 0, len(chain))
	for _, name := range chain {
		if r.IsEndpointAvailable(name) {
			available = append(available, name)
		}
	}
	if len(available) == 0 {
		return chain
	}
	return available
}
