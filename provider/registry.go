package provider

import (
	"sync"

	"github.com/rocisdk/agentcore/errs"
)

// Factory constructs a ModelProvider for one model id, given an API key
// resolved by config.Config and any transport/base-url overrides encoded in
// settings. The config map is deliberately untyped here (map[string]string)
// so this package has no dependency on the config package's concrete type.
type Factory func(modelID string, settings map[string]string) (ModelProvider, error)

// Registry maps provider keys to factories (spec.md §4.6). One factory may
// register under multiple keys (aliases), e.g. "openai" and "oai".
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register inserts factory under every key in keys. A later call with a key
// already present overwrites the earlier factory for that key only.
func (r *Registry) Register(factory Factory, keys ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range keys {
		r.factories[key] = factory
	}
}

// CreateProvider resolves key to a factory and invokes it with modelID and
// settings, returning errs.KindModelNotFound if no factory is registered
// under key.
func (r *Registry) CreateProvider(key, modelID string, settings map[string]string) (ModelProvider, error) {
	r.mu.RLock()
	factory, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.KindModelNotFound, "no provider registered for key \""+key+"\"")
	}
	return factory(modelID, settings)
}

// Has reports whether key resolves to a registered factory, without
// constructing a provider. Used by compaction to decide whether a
// configured compaction model is resolvable before attempting to use it.
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[key]
	return ok
}
