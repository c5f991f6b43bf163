package adapter

import (
	"fmt"
	"sort"

	"AdRelister/internal/ports"
)

// Registry keeps a mapping from adapter names to marketplace adapter implementations.
type Registry struct {
	adapters map[string]ports.ScraperAdapter
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]ports.ScraperAdapter{}}
}

// Register adds or replaces an adapter implementation.
func (r *Registry) Register(adapter ports.ScraperAdapter) {
	if r.adapters == nil {
		r.adapters = map[string]ports.ScraperAdapter{}
	}
	r.adapters[adapter.Name()] = adapter
}

// Resolve returns an adapter by name or an error if it is absent.
func (r *Registry) Resolve(name string) (ports.ScraperAdapter, error) {
	if adapter, ok := r.adapters[name]; ok {
		return adapter, nil
	}
	return nil, fmt.Errorf("scraper adapter %q is not registered (known: %v)", name, r.Names())
}

// Names lists registered adapters in alphabetical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
