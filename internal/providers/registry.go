package providers

import (
	"fmt"
	"sync"

	"github.com/epimap/geodispatch/pkg/config"
)

// Registry is the concurrency-safe provider catalog. Records are immutable
// once registered; runtime additions affect only subsequent lookups.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
}

// NewRegistry builds a registry from the configured catalog. Invalid entries
// are rejected rather than silently skipped so misconfiguration surfaces at
// boot.
func NewRegistry(configs []config.ProviderConfig) (*Registry, error) {
	r := &Registry{
		providers: make(map[string]Provider, len(configs)),
	}

	for _, cfg := range configs {
		if err := r.Add(FromConfig(cfg)); err != nil {
			return nil, fmt.Errorf("provider %q: %w", cfg.ID, err)
		}
	}

	return r, nil
}

// Add registers a new provider. Duplicate identifiers are rejected.
func (r *Registry) Add(p Provider) error {
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[p.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, p.ID)
	}

	r.providers[p.ID] = p
	r.order = append(r.order, p.ID)
	return nil
}

// Get returns the provider for the given identifier.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[id]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return p, nil
}

// Exists reports whether a provider is registered.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.providers[id]
	return ok
}

// List returns all registered providers in registration order.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.providers[id])
	}
	return out
}

// Resolve maps a list of provider identifiers to catalog records, keeping
// the input order and dropping identifiers that are no longer registered.
func (r *Registry) Resolve(ids []string) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.providers[id]; ok {
			out = append(out, p)
		}
	}
	return out
}
