package bridge

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/weftui/weft/internal/view"
)

// noRoot is the rootID value when no root binding is active. Node
// identifiers are script-assigned positive integers; 0 and -1 are reserved
// on the wire.
const noRoot int64 = 0

// RootSink receives the native handle elevated by setRootView, or nil when
// the root is detached. The host supplies the platform-specific "make this
// visible" step.
type RootSink func(h view.Handle)

// node is one registry record. The registry is the exclusive owner of the
// native handle once created.
type node struct {
	id       int64
	tag      string
	handle   view.Handle
	factory  view.Factory
	parent   int64 // noRoot when detached
	children []int64
	events   map[string]struct{}
}

// Registry maps script-assigned node identifiers to native views and their
// tree links. It is not safe for concurrent use: every method must run on
// the UI-rendering goroutine.
type Registry struct {
	nodes    map[int64]*node
	rootID   int64
	rootSink RootSink
	logger   *slog.Logger
}

// NewRegistry returns an empty registry. rootSink may be nil. logger may be
// nil.
func NewRegistry(rootSink RootSink, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		nodes:    make(map[int64]*node),
		rootSink: rootSink,
		logger:   logger.With("component", "registry"),
	}
}

// Create registers a new node of the given tag, instantiating its native
// view through factory. The id must not already be live.
func (r *Registry) Create(id int64, tag string, factory view.Factory) error {
	if id <= 0 {
		return fmt.Errorf("invalid node id %d", id)
	}
	if _, exists := r.nodes[id]; exists {
		return fmt.Errorf("node id %d already registered", id)
	}
	handle, err := factory.CreateView()
	if err != nil {
		return fmt.Errorf("create view %q: %w", tag, err)
	}
	r.nodes[id] = &node{
		id:      id,
		tag:     tag,
		handle:  handle,
		factory: factory,
		events:  make(map[string]struct{}),
	}
	return nil
}

// Has reports whether id is live.
func (r *Registry) Has(id int64) bool {
	_, ok := r.nodes[id]
	return ok
}

// Len returns the number of live nodes.
func (r *Registry) Len() int {
	return len(r.nodes)
}

// Handle returns the native handle for id.
func (r *Registry) Handle(id int64) (view.Handle, error) {
	n, err := r.get(id)
	if err != nil {
		return nil, err
	}
	return n.handle, nil
}

// Tag returns the view-type tag for id.
func (r *Registry) Tag(id int64) (string, error) {
	n, err := r.get(id)
	if err != nil {
		return "", err
	}
	return n.tag, nil
}

// Parent returns the parent id of id, or 0 when detached.
func (r *Registry) Parent(id int64) (int64, error) {
	n, err := r.get(id)
	if err != nil {
		return 0, err
	}
	return n.parent, nil
}

// Children returns a copy of id's ordered child list.
func (r *Registry) Children(id int64) ([]int64, error) {
	n, err := r.get(id)
	if err != nil {
		return nil, err
	}
	return slices.Clone(n.children), nil
}

// Events returns the event names currently registered on id.
func (r *Registry) Events(id int64) ([]string, error) {
	n, err := r.get(id)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(n.events))
	for name := range n.events {
		names = append(names, name)
	}
	return names, nil
}

// RootID returns the active root binding, or 0 when none.
func (r *Registry) RootID() int64 {
	return r.rootID
}

// Attach mounts child under parent. beforeID selects the sibling to insert
// in front of; pass 0 to append. A child that already has a parent is moved:
// detached from its old parent first so the one-parent invariant holds
// through the operation.
func (r *Registry) Attach(parentID, childID, beforeID int64) error {
	p, err := r.get(parentID)
	if err != nil {
		return err
	}
	c, err := r.get(childID)
	if err != nil {
		return err
	}
	if parentID == childID {
		return fmt.Errorf("node %d cannot parent itself", childID)
	}
	// walk the ancestor chain of the target parent: mounting a node under
	// its own descendant would orphan the whole subtree into a cycle
	for ancID := p.parent; ancID != noRoot; {
		if ancID == childID {
			return fmt.Errorf("attach would create a cycle: node %d is an ancestor of %d", childID, parentID)
		}
		anc, ok := r.nodes[ancID]
		if !ok {
			break
		}
		ancID = anc.parent
	}
	if c.parent != noRoot {
		if err := r.detach(c); err != nil {
			return err
		}
	}

	index := len(p.children)
	if beforeID != 0 {
		i := slices.Index(p.children, beforeID)
		if i < 0 {
			return fmt.Errorf("insertBefore: node %d is not a child of %d", beforeID, parentID)
		}
		index = i
	}
	if err := p.factory.InsertChild(p.handle, c.handle, index); err != nil {
		return fmt.Errorf("insert child %d under %d: %w", childID, parentID, err)
	}
	p.children = slices.Insert(p.children, index, childID)
	c.parent = parentID
	return nil
}

// Remove destroys id and every descendant, releasing native resources and
// event registrations transitively. The cascade completes before Remove
// returns; no reference to any removed node survives in the registry.
func (r *Registry) Remove(id int64) error {
	n, err := r.get(id)
	if err != nil {
		return err
	}
	if err := r.detach(n); err != nil {
		return err
	}
	r.release(n)
	return nil
}

// detach unlinks n from its parent, including the native unmount. No-op for
// detached nodes.
func (r *Registry) detach(n *node) error {
	if n.parent == noRoot {
		return nil
	}
	p, err := r.get(n.parent)
	if err != nil {
		return fmt.Errorf("node %d has dangling parent %d: %w", n.id, n.parent, err)
	}
	if err := p.factory.RemoveChild(p.handle, n.handle); err != nil {
		return fmt.Errorf("unmount child %d from %d: %w", n.id, p.id, err)
	}
	i := slices.Index(p.children, n.id)
	if i >= 0 {
		p.children = slices.Delete(p.children, i, i+1)
	}
	n.parent = noRoot
	return nil
}

// release drops n and its whole subtree from the registry, removing event
// listeners bottom-up. Native child views are freed with their parent; only
// listeners need explicit teardown. The root binding is cleared whenever
// the root falls inside the released subtree, not only when it is the
// subtree's top: a cascade must leave no reference behind, the root id
// included.
func (r *Registry) release(n *node) {
	for _, childID := range n.children {
		if child, ok := r.nodes[childID]; ok {
			r.release(child)
		}
	}
	for event := range n.events {
		if err := n.factory.RemoveEventListener(n.handle, event); err != nil {
			r.logger.Warn("failed to remove event listener during release",
				"nodeId", n.id, "event", event, "error", err)
		}
	}
	if r.rootID == n.id {
		r.rootID = noRoot
		if r.rootSink != nil {
			r.rootSink(nil)
		}
	}
	delete(r.nodes, n.id)
}

// AddEvent installs cb for event on id, replacing any prior handler for the
// same (node, event) key.
func (r *Registry) AddEvent(id int64, event string, cb view.EventCallback) error {
	n, err := r.get(id)
	if err != nil {
		return err
	}
	if err := n.factory.AddEventListener(n.handle, event, cb); err != nil {
		return fmt.Errorf("add listener %q on %d: %w", event, id, err)
	}
	n.events[event] = struct{}{}
	return nil
}

// RemoveEvent removes the handler for (id, event). Removing an event that
// was never registered is a no-op.
func (r *Registry) RemoveEvent(id int64, event string) error {
	n, err := r.get(id)
	if err != nil {
		return err
	}
	if _, ok := n.events[event]; !ok {
		return nil
	}
	if err := n.factory.RemoveEventListener(n.handle, event); err != nil {
		return fmt.Errorf("remove listener %q on %d: %w", event, id, err)
	}
	delete(n.events, event)
	return nil
}

// SetRoot elevates id to be the visible root. At most one root is active;
// the previous root, if different, is detached and discarded with a full
// cascade.
func (r *Registry) SetRoot(id int64) error {
	n, err := r.get(id)
	if err != nil {
		return err
	}
	if r.rootID == id {
		return nil
	}
	if r.rootID != noRoot {
		prev := r.rootID
		r.rootID = noRoot
		if old, ok := r.nodes[prev]; ok {
			if err := r.detach(old); err != nil {
				r.logger.Warn("failed to detach previous root", "nodeId", prev, "error", err)
			}
			r.release(old)
		}
	}
	r.rootID = id
	if r.rootSink != nil {
		r.rootSink(n.handle)
	}
	return nil
}

// Clear discards all registry state: node map, links, event registrations,
// and the root binding. Used by the hot-reload coordinator between
// generations.
func (r *Registry) Clear() {
	for _, n := range r.nodes {
		for event := range n.events {
			if err := n.factory.RemoveEventListener(n.handle, event); err != nil {
				r.logger.Warn("failed to remove event listener during clear",
					"nodeId", n.id, "event", event, "error", err)
			}
		}
	}
	r.nodes = make(map[int64]*node)
	r.rootID = noRoot
	if r.rootSink != nil {
		r.rootSink(nil)
	}
}

func (r *Registry) get(id int64) (*node, error) {
	n, ok := r.nodes[id]
	if !ok {
		return nil, fmt.Errorf("unknown node id %d", id)
	}
	return n, nil
}
