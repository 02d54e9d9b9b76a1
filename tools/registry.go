package tools

import (
	"fmt"
	"sync"
)

type entry struct {
	desc    Descriptor
	handler Handler
}

// Registry is the catalog of invocable tools. Register during startup, then
// Freeze; lookups and catalog snapshots need no locking discipline from
// callers afterwards.
type Registry struct {
	mu      sync.RWMutex
	frozen  bool
	order   []string
	entries map[string]entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a tool to the registry. Server-located tools require a
// handler; client-located tools must not have one, their execution happens
// on the client machine. Returns ErrFrozen after Freeze has been called.
func (r *Registry) Register(desc Descriptor, handler Handler) error {
	if desc.Name == "" || desc.Toolbelt == "" {
		return ErrEmptyName
	}
	if !desc.Location.Valid() {
		return fmt.Errorf("%w: %q", ErrBadLocation, desc.Location)
	}
	if desc.Location == LocationServer && handler == nil {
		return fmt.Errorf("%w: %s", ErrNoHandler, desc.Name)
	}
	if desc.Location == LocationClient && handler != nil {
		return fmt.Errorf("%w: %s", ErrClientHandler, desc.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrFrozen
	}
	if _, exists := r.entries[desc.Name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, desc.Name)
	}

	r.order = append(r.order, desc.Name)
	r.entries[desc.Name] = entry{desc: desc, handler: handler}
	return nil
}

// Freeze ends the registration phase. Further Register calls fail.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Lookup retrieves a descriptor by toolbelt and tool name.
func (r *Registry) Lookup(toolbelt, name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[name]
	if !exists || e.desc.Toolbelt != toolbelt {
		return Descriptor{}, false
	}
	return e.desc, true
}

// Find retrieves a descriptor by tool name alone. Tool names are unique
// across toolbelts.
func (r *Registry) Find(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[name]
	if !exists {
		return Descriptor{}, false
	}
	return e.desc, true
}

// Handler returns the execution handler for a server-located tool.
func (r *Registry) Handler(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[name]
	if !exists || e.handler == nil {
		return nil, false
	}
	return e.handler, true
}

// Catalog returns all descriptors in registration order.
func (r *Registry) Catalog() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descs := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		descs = append(descs, r.entries[name].desc)
	}
	return descs
}

// CatalogFor returns descriptors with the given execution location, in
// registration order.
func (r *Registry) CatalogFor(loc Location) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var descs []Descriptor
	for _, name := range r.order {
		if d := r.entries[name].desc; d.Location == loc {
			descs = append(descs, d)
		}
	}
	return descs
}

// Toolbelt returns descriptors belonging to the named toolbelt, in
// registration order.
func (r *Registry) Toolbelt(toolbelt string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var descs []Descriptor
	for _, name := range r.order {
		if d := r.entries[name].desc; d.Toolbelt == toolbelt {
			descs = append(descs, d)
		}
	}
	return descs
}
