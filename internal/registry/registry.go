// Package registry implements the Message Router's address book: a
// many-reader, single-writer map from component identifier to handler.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/axiscore/axiscore/internal/axerr"
	"github.com/axiscore/axiscore/pkg/axismsg"
)

// Handler processes one dispatched message and produces a response.
// ctx carries the dispatch's cancellation handle.
type Handler func(ctx context.Context, msg axismsg.Message) (axismsg.Message, error)

// Registry maps a component identifier to its Handler. Registration is
// serialized; lookups are lock-free after the initial registration window,
// matching the ownership model described in spec §4.1 and §5.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds id to handler. Fails with ERR_CONFLICT if id is already
// registered.
func (r *Registry) Register(id string, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[id]; exists {
		return axerr.New(axerr.CodeConflict, fmt.Sprintf("component %q already registered", id), false, 409, nil)
	}
	r.handlers[id] = handler
	return nil
}

// MustRegister is Register but panics on failure. Only safe to call from a
// composition root during startup wiring, never from request handling.
func (r *Registry) MustRegister(id string, handler Handler) {
	if err := r.Register(id, handler); err != nil {
		panic(err)
	}
}

// Unregister removes id, if present. A no-op if id was never registered.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, id)
}

// GetHandler returns the handler bound to id, and whether it was found.
func (r *Registry) GetHandler(id string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[id]
	return h, ok
}

// Has reports whether id is currently registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.GetHandler(id)
	return ok
}

// List returns the sorted set of registered component identifiers, for
// diagnostics (e.g. the gateway's /health endpoint).
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
