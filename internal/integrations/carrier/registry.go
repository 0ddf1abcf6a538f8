package carrier

import (
	"fmt"
)

// Registry maps provider ids to adapters. It is built once at startup and read-only afterwards.
type Registry struct {
	adapters map[ProviderID]Adapter
}

// NewRegistry fails unless every known provider has exactly one adapter.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	m := make(map[ProviderID]Adapter, len(adapters))
	for _, a := range adapters {
		p := a.Provider()
		if _, dup := m[p]; dup {
			return nil, fmt.Errorf("duplicate adapter for provider %q", p)
		}
		m[p] = a
	}
	for _, p := range KnownProviders() {
		if _, ok := m[p]; !ok {
			return nil, fmt.Errorf("no adapter registered for provider %q", p)
		}
	}
	if len(m) != len(KnownProviders()) {
		return nil, fmt.Errorf("registry has adapters for unknown providers")
	}
	return &Registry{adapters: m}, nil
}

func (r *Registry) Get(provider string) (Adapter, error) {
	p, err := ParseProvider(provider)
	if err != nil {
		return nil, err
	}
	return r.adapters[p], nil
}

// Wrap returns a registry whose adapters are decorated by fn.
func (r *Registry) Wrap(fn func(Adapter) Adapter) *Registry {
	m := make(map[ProviderID]Adapter, len(r.adapters))
	for p, a := range r.adapters {
		m[p] = fn(a)
	}
	return &Registry{adapters: m}
}
