package executor

import (
	"context"
	"sort"
	"sync"
)

// Registry tracks cancellation handles for in-flight agent processes, keyed
// by task or execution ID. At most one handle is held per key.
type Registry struct {
	mu      sync.Mutex
	handles map[string]context.CancelFunc
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]context.CancelFunc)}
}

// Register stores the cancel handle for key. It reports false, leaving the
// existing handle in place, when key is already registered.
func (r *Registry) Register(key string, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handles[key]; exists {
		return false
	}
	r.handles[key] = cancel
	return true
}

// Unregister forgets key without cancelling it
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, key)
}

// Cancel cancels and forgets the handle for key. It reports false when
// nothing was registered.
func (r *Registry) Cancel(key string) bool {
	r.mu.Lock()
	cancel, ok := r.handles[key]
	delete(r.handles, key)
	r.mu.Unlock()

	if !ok {
		return false
	}
	cancel()
	return true
}

// Has reports whether key is registered
func (r *Registry) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[key]
	return ok
}

// Keys returns the registered keys in sorted order
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.handles))
	for k := range r.handles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
