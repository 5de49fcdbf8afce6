package bridge

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/weftui/weft/internal/event"
	"github.com/weftui/weft/internal/view"
)

// textNodeTag is the factory tag used for createText nodes.
const textNodeTag = "RawText"

// EventSink receives events captured on registered nodes. The processor
// calls it on the UI-rendering goroutine (or a throttle timer goroutine for
// trailing deliveries).
type EventSink func(nodeID int64, eventName string, payload map[string]any)

// Processor applies decoded operation batches against the node registry
// through the factory abstraction. It runs exclusively on the UI-rendering
// goroutine. A malformed or failing operation is logged and skipped; it
// never aborts the rest of the batch.
type Processor struct {
	registry  *Registry
	factories *view.Registry
	sink      EventSink
	logger    *slog.Logger

	// throttled maps high-frequency event names to their window. Listeners
	// for these events are wrapped in a leading+trailing throttle.
	throttled map[string]time.Duration
	throttles map[throttleKey]*event.Throttle
}

type throttleKey struct {
	nodeID int64
	event  string
}

// NewProcessor returns a processor over registry and factories. sink
// receives captured events; throttled lists event names to rate-limit (nil
// for none). logger may be nil.
func NewProcessor(registry *Registry, factories *view.Registry, sink EventSink, throttled map[string]time.Duration, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		registry:  registry,
		factories: factories,
		sink:      sink,
		logger:    logger.With("component", "processor"),
		throttled: throttled,
		throttles: make(map[throttleKey]*event.Throttle),
	}
}

// ApplyJSON decodes and applies a JSON operation batch. A payload that is
// not valid JSON is logged and rejected as a whole; per-record problems are
// skipped individually inside Apply.
func (p *Processor) ApplyJSON(data []byte) error {
	ops, err := ParseBatch(data)
	if err != nil {
		p.logger.Warn("rejecting operation batch", "error", err)
		return err
	}
	p.Apply(ops)
	return nil
}

// Apply executes the batch in order. Each failing operation is logged with
// its opcode and skipped; subsequent, unrelated mutations still run.
func (p *Processor) Apply(ops []Op) {
	for i, op := range ops {
		if err := p.apply(op); err != nil {
			p.logger.Warn("skipping operation", "index", i, "op", op.Name, "error", err)
		}
	}
}

func (p *Processor) apply(op Op) error {
	if err := checkArity(op); err != nil {
		return err
	}
	switch op.Name {
	case OpCreate:
		return p.create(op.Args)
	case OpCreateText:
		return p.createText(op.Args)
	case OpAppendChild:
		return p.appendChild(op.Args)
	case OpInsertBefore:
		return p.insertBefore(op.Args)
	case OpRemoveChild:
		return p.removeChild(op.Args)
	case OpUpdateProp:
		return p.updateProp(op.Args)
	case OpUpdateStyle:
		return p.updateStyle(op.Args)
	case OpSetText:
		return p.setText(op.Args)
	case OpAddEventListener:
		return p.addEventListener(op.Args)
	case OpRemoveEventListener:
		return p.removeEventListener(op.Args)
	case OpSetRootView:
		return p.setRootView(op.Args)
	}
	return fmt.Errorf("unknown opcode %q", op.Name)
}

func (p *Processor) create(args []any) error {
	id, err := intArg(args, 0)
	if err != nil {
		return err
	}
	tag, err := stringArg(args, 1)
	if err != nil {
		return err
	}
	factory, err := p.factories.Lookup(tag)
	if err != nil {
		// Recoverable "no factory": the id is never registered, later
		// references to it fail as unknown-node and are skipped the same way.
		return err
	}
	return p.registry.Create(id, tag, factory)
}

func (p *Processor) createText(args []any) error {
	id, err := intArg(args, 0)
	if err != nil {
		return err
	}
	text, err := stringArg(args, 1)
	if err != nil {
		return err
	}
	factory, err := p.factories.Lookup(textNodeTag)
	if err != nil {
		return err
	}
	if err := p.registry.Create(id, textNodeTag, factory); err != nil {
		return err
	}
	h, err := p.registry.Handle(id)
	if err != nil {
		return err
	}
	return factory.UpdateProp(h, "text", text)
}

func (p *Processor) appendChild(args []any) error {
	parentID, err := intArg(args, 0)
	if err != nil {
		return err
	}
	childID, err := intArg(args, 1)
	if err != nil {
		return err
	}
	return p.registry.Attach(parentID, childID, 0)
}

func (p *Processor) insertBefore(args []any) error {
	parentID, err := intArg(args, 0)
	if err != nil {
		return err
	}
	childID, err := intArg(args, 1)
	if err != nil {
		return err
	}
	beforeID, err := intArg(args, 2)
	if err != nil {
		return err
	}
	return p.registry.Attach(parentID, childID, beforeID)
}

func (p *Processor) removeChild(args []any) error {
	id, err := intArg(args, 0)
	if err != nil {
		return err
	}
	if err := p.registry.Remove(id); err != nil {
		return err
	}
	p.reapThrottles()
	return nil
}

func (p *Processor) updateProp(args []any) error {
	id, err := intArg(args, 0)
	if err != nil {
		return err
	}
	key, err := stringArg(args, 1)
	if err != nil {
		return err
	}
	n, err := p.node(id)
	if err != nil {
		return err
	}
	return n.factory.UpdateProp(n.handle, key, args[2])
}

func (p *Processor) updateStyle(args []any) error {
	id, err := intArg(args, 0)
	if err != nil {
		return err
	}
	styles, err := mapArg(args, 1)
	if err != nil {
		return err
	}
	n, err := p.node(id)
	if err != nil {
		return err
	}
	return n.factory.UpdateProp(n.handle, "style", styles)
}

func (p *Processor) setText(args []any) error {
	id, err := intArg(args, 0)
	if err != nil {
		return err
	}
	text, err := stringArg(args, 1)
	if err != nil {
		return err
	}
	n, err := p.node(id)
	if err != nil {
		return err
	}
	return n.factory.UpdateProp(n.handle, "text", text)
}

func (p *Processor) addEventListener(args []any) error {
	id, err := intArg(args, 0)
	if err != nil {
		return err
	}
	eventName, err := stringArg(args, 1)
	if err != nil {
		return err
	}
	cb := p.buildCallback(id, eventName)
	return p.registry.AddEvent(id, eventName, cb)
}

// buildCallback wires a native event to the sink, inserting a throttle for
// high-frequency event names. A payload with "phase": "end" is the release
// signal: it flushes the latest value synchronously instead of waiting for
// the trailing window.
func (p *Processor) buildCallback(id int64, eventName string) view.EventCallback {
	interval, isThrottled := p.throttled[eventName]
	if !isThrottled {
		return func(payload map[string]any) {
			p.sink(id, eventName, payload)
		}
	}
	key := throttleKey{nodeID: id, event: eventName}
	if old, ok := p.throttles[key]; ok {
		old.Cancel()
	}
	th := event.NewThrottle(interval, func(payload map[string]any) {
		p.sink(id, eventName, payload)
	})
	p.throttles[key] = th
	return func(payload map[string]any) {
		if phase, _ := payload["phase"].(string); phase == "end" {
			th.Fire(payload)
			th.Flush()
			return
		}
		th.Fire(payload)
	}
}

func (p *Processor) removeEventListener(args []any) error {
	id, err := intArg(args, 0)
	if err != nil {
		return err
	}
	eventName, err := stringArg(args, 1)
	if err != nil {
		return err
	}
	if th, ok := p.throttles[throttleKey{nodeID: id, event: eventName}]; ok {
		th.Cancel()
		delete(p.throttles, throttleKey{nodeID: id, event: eventName})
	}
	return p.registry.RemoveEvent(id, eventName)
}

func (p *Processor) setRootView(args []any) error {
	id, err := intArg(args, 0)
	if err != nil {
		return err
	}
	if err := p.registry.SetRoot(id); err != nil {
		return err
	}
	p.reapThrottles()
	return nil
}

// Reset cancels all throttles and clears the registry. Used by the reload
// coordinator between program generations.
func (p *Processor) Reset() {
	for key, th := range p.throttles {
		th.Cancel()
		delete(p.throttles, key)
	}
	p.registry.Clear()
}

// reapThrottles cancels throttles whose node has left the registry, which
// is how cascade removal propagates into pending trailing timers.
func (p *Processor) reapThrottles() {
	for key, th := range p.throttles {
		if !p.registry.Has(key.nodeID) {
			th.Cancel()
			delete(p.throttles, key)
		}
	}
}

func (p *Processor) node(id int64) (*node, error) {
	return p.registry.get(id)
}
