package writer

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor opens a buffer for one market.
type Constructor func(params BufferParams) (MarketBuffer, error)

// Registry maps backend names to buffer constructors. New backends plug in
// by registering a constructor under a name referenced from writer.backend
// in the config.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds or replaces the constructor for a backend name.
func (r *Registry) Register(name string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = c
}

// New opens a buffer using the named backend.
func (r *Registry) New(backend string, params BufferParams) (MarketBuffer, error) {
	r.mu.RLock()
	c, ok := r.constructors[backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("writer backend '%s' is not registered", backend)
	}
	return c(params)
}

// Backends lists the registered backend names in sorted order.
func (r *Registry) Backends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
