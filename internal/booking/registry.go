package booking

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
)

// Factory builds an adapter for one integration.
type Factory func(integration scheduling.Integration) (Adapter, error)

// Middleware decorates every adapter the registry builds.
type Middleware func(adapter Adapter, integration scheduling.Integration) Adapter

type instanceKey struct {
	integrationID string
	version       int
}

// Registry maps provider names to adapter factories and memoizes one adapter
// per (integration id, version).
type Registry struct {
	mu         sync.Mutex
	factories  map[string]Factory
	instances  map[instanceKey]Adapter
	middleware []Middleware
}

// NewRegistry creates an empty registry.
func NewRegistry(middleware ...Middleware) *Registry {
	return &Registry{
		factories:  make(map[string]Factory),
		instances:  make(map[instanceKey]Adapter),
		middleware: middleware,
	}
}

// Register adds or replaces the factory for provider.
func (r *Registry) Register(provider string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalizeProvider(provider)] = factory
}

// Providers lists registered provider names.
func (r *Registry) Providers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Resolve returns the adapter for integration, building it on first use.
func (r *Registry) Resolve(integration scheduling.Integration) (Adapter, error) {
	key := instanceKey{integrationID: integration.ID, version: integration.Version}

	r.mu.Lock()
	defer r.mu.Unlock()
	if adapter, ok := r.instances[key]; ok {
		return adapter, nil
	}
	factory, ok := r.factories[normalizeProvider(integration.Provider)]
	if !ok {
		return nil, scheduling.Internal("registry.Resolve", fmt.Errorf("no adapter registered for provider %q", integration.Provider))
	}
	adapter, err := factory(integration)
	if err != nil {
		return nil, scheduling.Wrap("registry.Resolve", fmt.Errorf("build %s adapter: %w", integration.Provider, err))
	}
	for _, mw := range r.middleware {
		adapter = mw(adapter, integration)
	}
	r.instances[key] = adapter
	return adapter, nil
}

// Evict drops memoized adapters for an integration, e.g. after credentials rotate.
func (r *Registry) Evict(integrationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.instances {
		if key.integrationID == integrationID {
			delete(r.instances, key)
		}
	}
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
