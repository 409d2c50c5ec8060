package jobs

import "sync"

// BatchFunc handles a batch submission: the full job list, a send callback
// for streaming results, the originating function name, and the cooperative
// cancellation predicate.
type BatchFunc func(jobs []Job, send func(Result), fn string, cancelled func() bool)

// Registry maps function names to their handlers. INIT messages populate it
// at runtime as checker modules load.
type Registry struct {
	mu     sync.RWMutex
	batch  map[string]BatchFunc
	single map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		batch:  make(map[string]BatchFunc),
		single: make(map[string]Handler),
	}
}

// RegisterBatch installs a batch handler under name. The name includes the
// batch prefix, e.g. "batch_style".
func (r *Registry) RegisterBatch(name string, fn BatchFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batch[name] = fn
}

// RegisterSingle installs a single-job handler under name.
func (r *Registry) RegisterSingle(name string, fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.single[name] = fn
}

// Batch returns the batch handler for name, or nil.
func (r *Registry) Batch(name string) BatchFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.batch[name]
}

// Single returns the single-job handler for name, or nil.
func (r *Registry) Single(name string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.single[name]
}

// Names returns the registered handler names, batch and single alike.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.batch)+len(r.single))
	for name := range r.batch {
		names = append(names, name)
	}
	for name := range r.single {
		names = append(names, name)
	}
	return names
}
