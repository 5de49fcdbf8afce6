// Package view defines the capability set a native view type must implement
// to participate in the bridge, plus the process-wide registry that maps
// view-type tags to factories. The operation processor is written entirely
// against Factory and Handle and never branches on a concrete view type;
// adding a view type means adding a Factory implementation and a registry
// entry, nothing else.
package view

import (
	"fmt"
	"sync"
)

// Handle is an opaque reference to one native view instance. Only the
// Factory that produced a Handle may interpret it.
type Handle interface{}

// EventCallback receives a native event payload. Callbacks are invoked on
// the UI-rendering goroutine; implementations must not block.
type EventCallback func(payload map[string]any)

// Factory is the per-view-type capability set.
//
// Implementations are required to attach the underlying native listener
// lazily: the first AddEventListener for an event installs the hook, the
// last RemoveEventListener tears it down. That keeps listeners from leaking
// on views that outlive their registry entry.
type Factory interface {
	// CreateView instantiates a new native view.
	CreateView() (Handle, error)

	// UpdateProp applies a single property value to the view.
	UpdateProp(h Handle, key string, value any) error

	// InsertChild mounts child under parent at the given sibling index.
	InsertChild(parent, child Handle, index int) error

	// RemoveChild unmounts child from parent.
	RemoveChild(parent, child Handle) error

	// AddEventListener registers cb for event on the view, replacing any
	// previous callback for the same event.
	AddEventListener(h Handle, event string, cb EventCallback) error

	// RemoveEventListener removes the callback for event, if any.
	RemoveEventListener(h Handle, event string) error
}

// ErrNoFactory reports a create (or later reference) for a view-type tag
// that has no registered factory. It is recoverable by contract: the caller
// logs it and skips the operation.
type ErrNoFactory struct {
	Tag string
}

func (e *ErrNoFactory) Error() string {
	return fmt.Sprintf("no view factory registered for type %q", e.Tag)
}

// Registry is the process-wide table from view-type tag to Factory. It is
// constructed explicitly and passed by reference so reload and tests can
// scope its lifetime; there is no package-level instance.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty factory registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register installs factory under tag. Registering an existing tag replaces
// the prior factory; already-created views keep the factory that created
// them, only subsequent creates see the replacement.
func (r *Registry) Register(tag string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[tag] = factory
}

// Lookup returns the factory for tag, or *ErrNoFactory if none is
// registered.
func (r *Registry) Lookup(tag string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[tag]
	if !ok {
		return nil, &ErrNoFactory{Tag: tag}
	}
	return f, nil
}

// Tags returns the registered view-type tags, for diagnostics.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.factories))
	for tag := range r.factories {
		tags = append(tags, tag)
	}
	return tags
}
