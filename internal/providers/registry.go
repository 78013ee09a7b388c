// Package providers contains the pluggable price source adapters behind the
// pricing.Provider interface. The repository walks them in priority order;
// adding or removing a source never touches the refresh orchestration.
package providers

import (
	"sort"
	"sync"

	"github.com/croptimal/blend-service/internal/pricing"
)

// prioritized pairs a provider with its fallback priority.
type prioritized struct {
	provider pricing.Provider
	priority int
}

// Registry holds the ordered provider chain. Lower priority values are
// tried first.
type Registry struct {
	mu      sync.RWMutex
	entries []prioritized
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a provider at the given priority. Registration order breaks
// ties between equal priorities.
func (r *Registry) Register(p pricing.Provider, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, prioritized{provider: p, priority: priority})
	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.entries[i].priority < r.entries[j].priority
	})
}

// Remove deletes the provider with the given slug, if present.
func (r *Registry) Remove(slug string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.provider.Slug() == slug {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

// Providers returns the chain in priority order.
func (r *Registry) Providers() []pricing.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]pricing.Provider, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.provider)
	}
	return out
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
