package resilience

import (
	"sort"
	"sync"
)

// BreakerRegistry holds one breaker per upstream endpoint class.
type BreakerRegistry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*CircuitBreaker
}

// NewBreakerRegistry creates a registry whose breakers share cfg.
func NewBreakerRegistry(cfg BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		cfg:      cfg,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *BreakerRegistry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb := NewCircuitBreaker(name, r.cfg)
	r.breakers[name] = cb
	return cb
}

// Snapshots returns the state of every breaker, sorted by name.
func (r *BreakerRegistry) Snapshots() []Snapshot {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(breakers))
	for _, cb := range breakers {
		snapshots = append(snapshots, cb.Snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Name < snapshots[j].Name })
	return snapshots
}
