package event

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Wire sentinels for the pending-callback resolution path. A delivery with
// NodeID == CallbackNodeID and this event name resolves a pending callback
// instead of reaching generic event dispatch.
const (
	CallbackNodeID = int64(-1)
	CallbackEvent  = "__callback__"
)

// globalNodeID keys deliveries that are not attached to any node
// (app-lifecycle, connectivity, hardware signals).
const globalNodeID = int64(0)

// Submitter posts fn onto the script goroutine. It reports false when the
// script loop is gone, in which case the delivery is dropped.
type Submitter func(fn func()) bool

// Handler receives node-scoped events on the script goroutine.
type Handler func(nodeID int64, eventName string, payload map[string]any)

// GlobalHandler receives non-node-scoped events on the script goroutine.
type GlobalHandler func(eventName string, payload map[string]any)

// Target is the script-side attachment of a Dispatcher. A new Target is
// bound per program generation.
type Target struct {
	Submit   Submitter
	OnEvent  Handler
	OnGlobal GlobalHandler
}

type queueKey struct {
	nodeID int64
	event  string
}

type delivery struct {
	gen     uint64
	nodeID  int64
	event   string
	payload map[string]any
}

// Dispatcher marshals events from the UI-rendering goroutine to the script
// goroutine. Ordering between two events on the same (node, event) key is
// FIFO; ordering across keys is unspecified. Every delivery carries the
// program generation active when it was produced, and a mismatch against
// the dispatcher's active generation drops it silently.
type Dispatcher struct {
	gen       atomic.Uint64
	callbacks *Callbacks
	logger    *slog.Logger

	mu       sync.Mutex
	target   *Target
	queues   map[queueKey][]delivery
	draining map[queueKey]bool
}

// NewDispatcher returns a dispatcher resolving sentinel deliveries through
// callbacks. logger may be nil.
func NewDispatcher(callbacks *Callbacks, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		callbacks: callbacks,
		logger:    logger.With("component", "dispatcher"),
		queues:    make(map[queueKey][]delivery),
		draining:  make(map[queueKey]bool),
	}
	d.gen.Store(1)
	return d
}

// Callbacks exposes the pending-callback table for invocation minting.
func (d *Dispatcher) Callbacks() *Callbacks {
	return d.callbacks
}

// SetGeneration makes gen the active generation. Queued deliveries from
// older generations are dropped when their drain runs.
func (d *Dispatcher) SetGeneration(gen uint64) {
	d.gen.Store(gen)
}

// Generation returns the active generation.
func (d *Dispatcher) Generation() uint64 {
	return d.gen.Load()
}

// Bind attaches the script-side target for the current generation,
// replacing any previous one.
func (d *Dispatcher) Bind(t *Target) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.target = t
}

// Unbind detaches the script-side target; subsequent deliveries are dropped
// until a new target is bound.
func (d *Dispatcher) Unbind() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.target = nil
}

// Dispatch forwards (nodeID, event, payload) produced under gen. The
// callback sentinel is special-cased before generic dispatch.
func (d *Dispatcher) Dispatch(gen uint64, nodeID int64, eventName string, payload map[string]any) {
	if gen != d.gen.Load() {
		d.logger.Debug("dropping stale-generation event",
			"eventGeneration", gen, "activeGeneration", d.gen.Load(),
			"nodeId", nodeID, "event", eventName)
		return
	}
	if nodeID == CallbackNodeID && eventName == CallbackEvent {
		d.resolveCallback(payload)
		return
	}
	d.enqueue(delivery{gen: gen, nodeID: nodeID, event: eventName, payload: payload})
}

// DispatchGlobal forwards a non-node-scoped event produced under gen.
func (d *Dispatcher) DispatchGlobal(gen uint64, eventName string, payload map[string]any) {
	if gen != d.gen.Load() {
		d.logger.Debug("dropping stale-generation global event",
			"eventGeneration", gen, "activeGeneration", d.gen.Load(), "event", eventName)
		return
	}
	d.enqueue(delivery{gen: gen, nodeID: globalNodeID, event: eventName, payload: payload})
}

// resolveCallback unpacks the sentinel payload {callbackId, result, error}.
func (d *Dispatcher) resolveCallback(payload map[string]any) {
	id, ok := numberToInt64(payload["callbackId"])
	if !ok {
		d.logger.Warn("callback sentinel without usable callbackId", "payload", payload)
		return
	}
	var errMsg string
	if e, ok := payload["error"].(string); ok {
		errMsg = e
	}
	d.callbacks.Resolve(id, payload["result"], errMsg)
}

// enqueue appends onto the per-key FIFO and schedules a drain if one is not
// already pending for that key.
func (d *Dispatcher) enqueue(del delivery) {
	key := queueKey{nodeID: del.nodeID, event: del.event}
	d.mu.Lock()
	if d.target == nil {
		d.mu.Unlock()
		d.logger.Debug("dropping event with no script target bound",
			"nodeId", del.nodeID, "event", del.event)
		return
	}
	d.queues[key] = append(d.queues[key], del)
	if d.draining[key] {
		d.mu.Unlock()
		return
	}
	d.draining[key] = true
	target := d.target
	d.mu.Unlock()

	if !target.Submit(func() { d.drain(key) }) {
		d.mu.Lock()
		d.draining[key] = false
		delete(d.queues, key)
		d.mu.Unlock()
	}
}

// drain runs on the script goroutine and delivers the key's queue in order.
func (d *Dispatcher) drain(key queueKey) {
	for {
		d.mu.Lock()
		q := d.queues[key]
		if len(q) == 0 {
			delete(d.queues, key)
			d.draining[key] = false
			d.mu.Unlock()
			return
		}
		del := q[0]
		d.queues[key] = q[1:]
		target := d.target
		d.mu.Unlock()

		if del.gen != d.gen.Load() || target == nil {
			continue
		}
		if del.nodeID == globalNodeID {
			if target.OnGlobal != nil {
				target.OnGlobal(del.event, del.payload)
			}
			continue
		}
		if target.OnEvent != nil {
			target.OnEvent(del.nodeID, del.event, del.payload)
		}
	}
}

// numberToInt64 handles the numeric types a payload's callbackId may arrive
// as (JSON decode, goja export, native Go).
func numberToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	default:
		return 0, false
	}
}
