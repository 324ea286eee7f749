// Package registry holds the in-memory name -> model.Spec mapping, guarded
// by a reader-writer lock: lock acquired, state mutated or read, lock
// released, never held across a call into another subsystem.
package registry

import (
	"sort"
	"sync"

	"github.com/localforge/localforge/pkg/errkind"
	"github.com/localforge/localforge/pkg/model"
)

// Registry maps model name to model.Spec. Reads take a shared lock; writes
// take an exclusive lock. Re-insertion under Insert always replaces, per
// the exclusive-handle contract callers are expected to honor (outside
// tests, only the server's pinned BASE_MODEL registration calls Insert;
// Refresh never replaces an existing name).
type Registry struct {
	mu     sync.RWMutex
	models map[string]model.Spec
}

func New() *Registry {
	return &Registry{models: make(map[string]model.Spec)}
}

// Insert adds or replaces the Spec for name. The caller is responsible for
// not calling Insert concurrently with an in-flight generation against the
// same name if atomic-swap semantics are required; the server only inserts
// its pinned BASE_MODEL during startup, before any model is loaded.
func (r *Registry) Insert(spec model.Spec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[spec.Name] = spec
}

// Get returns the Spec for name, or a ModelNotFound error.
func (r *Registry) Get(name string) (model.Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.models[name]
	if !ok {
		return model.Spec{}, errkind.New(errkind.ModelNotFound, "model not found: "+name)
	}
	return s, nil
}

// List returns all registered specs, stable-sorted by name.
func (r *Registry) List() []model.Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Spec, 0, len(r.models))
	for _, s := range r.models {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.models[name]
	return ok
}

// Refresh adds a Spec materialized from each discovery entry whose name is
// not yet registered. Specs already present (such as an explicitly pinned
// model) are kept unchanged, and nothing is removed.
func (r *Registry) Refresh(entries []model.Entry, defaultCtxLen int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		if _, exists := r.models[e.Name]; exists {
			continue
		}
		r.models[e.Name] = e.ToSpec(defaultCtxLen)
	}
}
