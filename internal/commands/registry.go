// Package commands provides the host command registry and invocation system.
package commands

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Result is what a handler reports back to the caller
type Result struct {
	Command      string `json:"command"`
	InvocationID string `json:"invocation_id"`
	Entity       int    `json:"entity,omitempty"`
	Via          string `json:"via,omitempty"`
	Skipped      bool   `json:"skipped,omitempty"`
}

// Handler executes one kind of command
type Handler interface {
	Name() string
	Handle(ctx context.Context, req Request) (*Result, error)
}

type funcHandler struct {
	name string
	fn   func(ctx context.Context, req Request) (*Result, error)
}

func (h *funcHandler) Name() string { return h.name }

func (h *funcHandler) Handle(ctx context.Context, req Request) (*Result, error) {
	return h.fn(ctx, req)
}

// Registry holds all registered command handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates a new command registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler to the registry
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[h.Name()]; exists {
		return fmt.Errorf("command %q already registered", h.Name())
	}

	r.handlers[h.Name()] = h
	return nil
}

// RegisterFunc adds a handler backed by a plain function
func (r *Registry) RegisterFunc(name string, fn func(ctx context.Context, req Request) (*Result, error)) error {
	return r.Register(&funcHandler{name: name, fn: fn})
}

// Get retrieves a handler by name
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, exists := r.handlers[name]
	return h, exists
}

// Names returns all registered command names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
