package accounting

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds an adapter bound to one session.
type Factory func(session Session) (Adapter, error)

// Registry maps providers to adapter factories. Concrete adapters live in
// sub-packages and are registered by the application at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[Provider]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Provider]Factory)}
}

// Register installs or replaces the factory for a provider.
func (r *Registry) Register(p Provider, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[p] = f
}

// NewAdapter builds an adapter for the provider and session. Known providers
// without a registered factory report "not yet implemented".
func (r *Registry) NewAdapter(p Provider, session Session) (Adapter, error) {
	const op = "NewAdapter"

	if _, known := ProviderConfigs[p]; !known {
		return nil, &UnsupportedProviderError{Provider: string(p)}
	}

	r.mu.RLock()
	f, ok := r.factories[p]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnsupportedProviderError{
			Provider: string(p),
			Reason:   fmt.Sprintf("%s integration not yet implemented", p.DisplayName()),
		}
	}

	adapter, err := f(session)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, p, err)
	}
	return adapter, nil
}

// GetAccountingAdapter resolves a provider by name and builds an adapter for
// a connection that has not loaded its credentials yet.
func (r *Registry) GetAccountingAdapter(name, connectionID, companyID string) (Adapter, error) {
	p, err := ParseProvider(name)
	if err != nil {
		return nil, err
	}
	return r.NewAdapter(p, Session{ConnectionID: connectionID, CompanyID: companyID})
}

// Providers returns the providers with a registered factory, in name order.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.factories))
	for p := range r.factories {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
