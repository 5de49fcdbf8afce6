package bridge

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/weftui/weft/internal/view"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sinkRecorder struct {
	mu     sync.Mutex
	events []sinkEvent
}

type sinkEvent struct {
	nodeID  int64
	event   string
	payload map[string]any
}

func (s *sinkRecorder) sink(nodeID int64, eventName string, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sinkEvent{nodeID: nodeID, event: eventName, payload: payload})
}

func (s *sinkRecorder) snapshot() []sinkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sinkEvent, len(s.events))
	copy(out, s.events)
	return out
}

func newTestProcessor(t *testing.T, throttled map[string]time.Duration) (*Processor, *Registry, *sinkRecorder) {
	t.Helper()
	reg := NewRegistry(nil, testLogger(t))
	factories := view.NewRegistry()
	view.HostCatalog(factories)
	rec := &sinkRecorder{}
	return NewProcessor(reg, factories, rec.sink, throttled, testLogger(t)), reg, rec
}

func TestProcessorAppliesBatch(t *testing.T) {
	p, reg, _ := newTestProcessor(t, nil)

	batch := []byte(`[
		{"op": "create", "args": [1, "View"]},
		{"op": "create", "args": [2, "Text"]},
		{"op": "createText", "args": [3, "hello"]},
		{"op": "appendChild", "args": [1, 2]},
		{"op": "appendChild", "args": [2, 3]},
		{"op": "updateProp", "args": [2, "numberOfLines", 2]},
		{"op": "updateStyle", "args": [1, {"flex": 1}]},
		{"op": "setText", "args": [3, "hello world"]},
		{"op": "setRootView", "args": [1]}
	]`)
	if err := p.ApplyJSON(batch); err != nil {
		t.Fatal(err)
	}

	if reg.Len() != 3 {
		t.Fatalf("registry holds %d nodes, want 3", reg.Len())
	}
	if reg.RootID() != 1 {
		t.Fatalf("root = %d, want 1", reg.RootID())
	}
	h, err := reg.Handle(3)
	if err != nil {
		t.Fatal(err)
	}
	if text := h.(*view.HostView).Text; text != "hello world" {
		t.Fatalf("text node content = %q", text)
	}
	h1, _ := reg.Handle(1)
	style, ok := h1.(*view.HostView).Props["style"].(map[string]any)
	if !ok || style["flex"] != float64(1) {
		t.Fatalf("style prop not applied: %#v", h1.(*view.HostView).Props["style"])
	}
}

func TestProcessorSkipsMalformedRecords(t *testing.T) {
	p, reg, _ := newTestProcessor(t, nil)

	// unknown opcode, bad arity, unknown node reference, then valid ops:
	// one bad record must not block subsequent unrelated mutations.
	batch := []byte(`[
		{"op": "transmogrify", "args": [1]},
		{"op": "create", "args": [1]},
		{"op": "updateProp", "args": [42, "k", "v"]},
		{"op": "create", "args": [1, "View"]},
		{"op": "createText", "args": [2, "ok"]},
		{"op": "appendChild", "args": [1, 2]}
	]`)
	if err := p.ApplyJSON(batch); err != nil {
		t.Fatal(err)
	}
	if reg.Len() != 2 {
		t.Fatalf("registry holds %d nodes, want 2", reg.Len())
	}
	children, err := reg.Children(1)
	if err != nil || len(children) != 1 || children[0] != 2 {
		t.Fatalf("children = %v (err %v)", children, err)
	}
}

func TestProcessorRejectsInvalidJSON(t *testing.T) {
	p, reg, _ := newTestProcessor(t, nil)
	if err := p.ApplyJSON([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for invalid JSON payload")
	}
	if reg.Len() != 0 {
		t.Fatal("invalid payload mutated the registry")
	}
}

func TestProcessorUnknownTypeCreate(t *testing.T) {
	p, reg, _ := newTestProcessor(t, nil)

	p.Apply([]Op{
		{Name: OpCreate, Args: []any{float64(1), "Nonexistent"}},
	})
	if reg.Has(1) {
		t.Fatal("node registered despite missing factory")
	}

	// subsequent reference is also a skipped no-op, not a crash
	p.Apply([]Op{
		{Name: OpUpdateProp, Args: []any{float64(1), "key", "value"}},
		{Name: OpRemoveChild, Args: []any{float64(1)}},
	})
	if reg.Len() != 0 {
		t.Fatal("registry changed by operations on an unregistered node")
	}
}

func TestProcessorInsertBeforeOrdering(t *testing.T) {
	p, reg, _ := newTestProcessor(t, nil)

	p.Apply([]Op{
		{Name: OpCreate, Args: []any{float64(1), "View"}},
		{Name: OpCreate, Args: []any{float64(2), "Text"}},
		{Name: OpCreate, Args: []any{float64(3), "Text"}},
		{Name: OpCreate, Args: []any{float64(4), "Text"}},
		{Name: OpAppendChild, Args: []any{float64(1), float64(2)}},
		{Name: OpAppendChild, Args: []any{float64(1), float64(4)}},
		{Name: OpInsertBefore, Args: []any{float64(1), float64(3), float64(4)}},
	})

	children, err := reg.Children(1)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{2, 3, 4}
	for i := range want {
		if children[i] != want[i] {
			t.Fatalf("children = %v, want %v", children, want)
		}
	}

	// native sibling order must match the registry's order
	h, _ := reg.Handle(1)
	native := h.(*view.HostView).Children()
	if len(native) != 3 {
		t.Fatalf("native children = %d, want 3", len(native))
	}
}

func TestProcessorEventRoundTrip(t *testing.T) {
	p, reg, rec := newTestProcessor(t, nil)

	p.Apply([]Op{
		{Name: OpCreate, Args: []any{float64(1), "Slider"}},
		{Name: OpAddEventListener, Args: []any{float64(1), "press"}},
	})
	h, err := reg.Handle(1)
	if err != nil {
		t.Fatal(err)
	}
	if !h.(*view.HostView).Emit("press", map[string]any{"x": 10.0}) {
		t.Fatal("no listener installed")
	}
	events := rec.snapshot()
	if len(events) != 1 {
		t.Fatalf("sink saw %d events, want 1", len(events))
	}
	if events[0].nodeID != 1 || events[0].event != "press" {
		t.Fatalf("unexpected event %+v", events[0])
	}

	p.Apply([]Op{{Name: OpRemoveEventListener, Args: []any{float64(1), "press"}}})
	if h.(*view.HostView).Emit("press", nil) {
		t.Fatal("listener survived removal")
	}
}

func TestProcessorThrottledListener(t *testing.T) {
	const window = 50 * time.Millisecond
	p, reg, rec := newTestProcessor(t, map[string]time.Duration{"scroll": window})

	p.Apply([]Op{
		{Name: OpCreate, Args: []any{float64(1), "ScrollView"}},
		{Name: OpAddEventListener, Args: []any{float64(1), "scroll"}},
	})
	h, _ := reg.Handle(1)
	hv := h.(*view.HostView)

	hv.Emit("scroll", map[string]any{"offset": 1.0})
	hv.Emit("scroll", map[string]any{"offset": 2.0})
	hv.Emit("scroll", map[string]any{"offset": 3.0})

	// leading edge only, so far
	if got := len(rec.snapshot()); got != 1 {
		t.Fatalf("saw %d deliveries before window elapsed, want 1", got)
	}

	deadline := time.Now().Add(10 * window)
	for len(rec.snapshot()) < 2 && time.Now().Before(deadline) {
		time.Sleep(window / 10)
	}
	events := rec.snapshot()
	if len(events) != 2 {
		t.Fatalf("saw %d deliveries, want 2 (leading + trailing)", len(events))
	}
	if events[1].payload["offset"] != 3.0 {
		t.Fatalf("trailing delivery carried %v, want latest offset 3", events[1].payload["offset"])
	}
}

func TestProcessorReleaseFlushesThrottle(t *testing.T) {
	const window = time.Hour // nothing trailing should ever fire on its own
	p, reg, rec := newTestProcessor(t, map[string]time.Duration{"drag": window})

	p.Apply([]Op{
		{Name: OpCreate, Args: []any{float64(1), "Slider"}},
		{Name: OpAddEventListener, Args: []any{float64(1), "drag"}},
	})
	h, _ := reg.Handle(1)
	hv := h.(*view.HostView)

	hv.Emit("drag", map[string]any{"value": 0.1})
	hv.Emit("drag", map[string]any{"value": 0.7})
	hv.Emit("drag", map[string]any{"value": 0.9, "phase": "end"})

	events := rec.snapshot()
	if len(events) != 2 {
		t.Fatalf("saw %d deliveries, want leading plus flushed final", len(events))
	}
	if events[1].payload["value"] != 0.9 {
		t.Fatalf("final delivery carried %v, want 0.9", events[1].payload["value"])
	}
}

func TestProcessorRemoveChildCancelsThrottle(t *testing.T) {
	const window = 30 * time.Millisecond
	p, reg, rec := newTestProcessor(t, map[string]time.Duration{"scroll": window})

	p.Apply([]Op{
		{Name: OpCreate, Args: []any{float64(1), "View"}},
		{Name: OpCreate, Args: []any{float64(2), "ScrollView"}},
		{Name: OpAppendChild, Args: []any{float64(1), float64(2)}},
		{Name: OpAddEventListener, Args: []any{float64(2), "scroll"}},
	})
	h, _ := reg.Handle(2)
	hv := h.(*view.HostView)
	hv.Emit("scroll", map[string]any{"offset": 1.0})
	hv.Emit("scroll", map[string]any{"offset": 2.0})

	p.Apply([]Op{{Name: OpRemoveChild, Args: []any{float64(2)}}})
	if reg.Has(2) {
		t.Fatal("node survived removal")
	}

	time.Sleep(3 * window)
	if got := len(rec.snapshot()); got != 1 {
		t.Fatalf("throttle fired after cascade removal: %d deliveries", got)
	}
}
