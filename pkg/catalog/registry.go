package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/runstream/runstream/pkg/store"
)

// DriverFactory creates a store backend from driver-specific settings.
type DriverFactory func(ctx context.Context, settings map[string]interface{}) (store.Store, error)

// Registry maps driver names to store factories. Registration is an
// explicit call made by the process's composition root; nothing registers
// itself as an import-time side effect.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]DriverFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]DriverFactory)}
}

// RegisterDriver adds a store driver to the registry.
func (r *Registry) RegisterDriver(name string, factory DriverFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[name] = factory
}

// Open constructs a store using the named driver.
func (r *Registry) Open(ctx context.Context, name string, settings map[string]interface{}) (store.Store, error) {
	r.mu.RLock()
	factory, ok := r.drivers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown store driver %q (registered: %v)", name, r.Drivers())
	}
	return factory(ctx, settings)
}

// Drivers lists the registered driver names.
func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
