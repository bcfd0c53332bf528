// Package provider contains the network adapters for each upstream AI
// service and the registry that resolves them at startup.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"aidispatch/internal/core"
)

// AdapterFunc lets a plain function act as an adapter.
type AdapterFunc func(ctx context.Context, req core.AdapterRequest) (string, error)

// Send implements core.Adapter
func (f AdapterFunc) Send(ctx context.Context, req core.AdapterRequest) (string, error) {
	return f(ctx, req)
}

// ProviderSource lists the providers an adapter registry must cover.
type ProviderSource interface {
	Providers() []string
	Provider(name string) (core.Provider, bool)
}

// Registry maps provider names to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]core.Adapter
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]core.Adapter)}
}

// NewRegistryFromCatalog builds one HTTP adapter per catalog provider,
// chosen by the provider's protocol.
func NewRegistryFromCatalog(source ProviderSource, client *http.Client) (*Registry, error) {
	r := NewRegistry()
	for _, name := range source.Providers() {
		p, _ := source.Provider(name)
		switch p.Protocol {
		case core.ProtocolGemini:
			r.Register(name, NewGeminiAdapter(name, p.BaseURL, client))
		case core.ProtocolOpenAI, "":
			r.Register(name, NewOpenAIAdapter(name, p.BaseURL, client, extraHeaders(name)))
		default:
			return nil, fmt.Errorf("%w: %s uses unsupported protocol %q", core.ErrNoAdapter, name, p.Protocol)
		}
	}
	return r, nil
}

func extraHeaders(provider string) map[string]string {
	if provider == "openrouter" {
		return map[string]string{
			"HTTP-Referer": "https://github.com/aidispatch",
			"X-Title":      "aidispatch",
		}
	}
	return nil
}

// Register adds or replaces an adapter
func (r *Registry) Register(provider string, adapter core.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[provider] = adapter
}

// Get returns the adapter of a provider
func (r *Registry) Get(provider string) (core.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[provider]
	return a, ok
}

// Names returns registered provider names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate fails when a catalog provider has no adapter.
func (r *Registry) Validate(source ProviderSource) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range source.Providers() {
		if _, ok := r.adapters[name]; !ok {
			return fmt.Errorf("%w for provider %s", core.ErrNoAdapter, name)
		}
	}
	return nil
}
