package tools

import (
	"fmt"
	"sort"
	"sync"
)

// UnknownToolError is returned by Resolve for a name with no registered factory.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// Factory constructs a tool handle bound to one task's workspace.
// Handles are never shared between tasks.
type Factory func(ws Workspace) (Tool, error)

type entry struct {
	def     Definition
	factory Factory
}

// Registry maps tool names to factories. It is filled at startup and only
// read afterwards.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a tool. Registering the same name twice is an error.
func (r *Registry) Register(def Definition, factory Factory) error {
	if def.Name == "" {
		return fmt.Errorf("tool definition has no name")
	}
	if factory == nil {
		return fmt.Errorf("tool %q: nil factory", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	r.entries[def.Name] = entry{def: def, factory: factory}
	return nil
}

// Resolve constructs the named tool bound to ws.
// Returns *UnknownToolError when the name is not registered.
func (r *Registry) Resolve(name string, ws Workspace) (Tool, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &UnknownToolError{Name: name}
	}

	t, err := e.factory(ws)
	if err != nil {
		return nil, fmt.Errorf("constructing tool %q: %w", name, err)
	}
	return t, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Definitions returns all tool definitions sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.entries))
	for _, e := range r.entries {
		defs = append(defs, e.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
