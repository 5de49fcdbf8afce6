package event

import (
	"sync"
	"testing"
	"time"
)

// scriptStub emulates the script goroutine: submitted jobs run in order on
// one worker.
type scriptStub struct {
	mu     sync.Mutex
	jobs   chan func()
	closed bool
	wg     sync.WaitGroup
}

func newScriptStub() *scriptStub {
	s := &scriptStub{jobs: make(chan func(), 128)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for fn := range s.jobs {
			fn()
		}
	}()
	return s
}

func (s *scriptStub) submit(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.jobs <- fn
	return true
}

func (s *scriptStub) close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.jobs)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	nodeID  int64
	event   string
	payload map[string]any
}

func (r *eventRecorder) handler(nodeID int64, eventName string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{nodeID, eventName, payload})
}

func (r *eventRecorder) global(eventName string, payload map[string]any) {
	r.handler(0, eventName, payload)
}

func (r *eventRecorder) snapshot() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recordedEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) waitFor(t *testing.T, n int) []recordedEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := r.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, have %d", n, len(r.snapshot()))
	return nil
}

func newBoundDispatcher(t *testing.T) (*Dispatcher, *scriptStub, *eventRecorder) {
	t.Helper()
	stub := newScriptStub()
	t.Cleanup(stub.close)
	rec := &eventRecorder{}
	d := NewDispatcher(NewCallbacks(testLogger(t)), testLogger(t))
	d.Bind(&Target{Submit: stub.submit, OnEvent: rec.handler, OnGlobal: rec.global})
	return d, stub, rec
}

func TestDispatcherPerKeyFIFO(t *testing.T) {
	d, _, rec := newBoundDispatcher(t)
	gen := d.Generation()

	for i := 0; i < 50; i++ {
		d.Dispatch(gen, 7, "scroll", map[string]any{"seq": i})
	}
	events := rec.waitFor(t, 50)
	for i, e := range events {
		if e.nodeID != 7 || e.payload["seq"] != i {
			t.Fatalf("event %d out of order: %+v", i, e)
		}
	}
}

func TestDispatcherDropsStaleGeneration(t *testing.T) {
	d, _, rec := newBoundDispatcher(t)
	gen := d.Generation()

	d.Dispatch(gen, 1, "press", map[string]any{"live": true})
	d.Dispatch(gen-1, 1, "press", map[string]any{"stale": true})
	d.SetGeneration(gen + 1)
	d.Dispatch(gen, 1, "press", map[string]any{"stale": true})

	events := rec.waitFor(t, 1)
	time.Sleep(20 * time.Millisecond)
	events = rec.snapshot()
	if len(events) != 1 {
		t.Fatalf("delivered %d events, want only the live one", len(events))
	}
	if events[0].payload["live"] != true {
		t.Fatalf("wrong event survived: %+v", events[0])
	}
}

func TestDispatcherCallbackSentinel(t *testing.T) {
	d, _, rec := newBoundDispatcher(t)
	gen := d.Generation()

	done := make(chan any, 1)
	id := d.Callbacks().Mint(func(result any, errMsg string) {
		if errMsg != "" {
			done <- errMsg
			return
		}
		done <- result
	})

	d.Dispatch(gen, CallbackNodeID, CallbackEvent, map[string]any{
		"callbackId": float64(id),
		"result":     "native says hi",
	})

	select {
	case got := <-done:
		if got != "native says hi" {
			t.Fatalf("callback resolved with %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("sentinel did not resolve the callback")
	}

	// the sentinel must never reach generic event dispatch
	time.Sleep(20 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("sentinel leaked into event dispatch: %+v", got)
	}
}

func TestDispatcherGlobalEvents(t *testing.T) {
	d, _, rec := newBoundDispatcher(t)
	gen := d.Generation()

	d.DispatchGlobal(gen, "appStateChange", map[string]any{"state": "background"})
	events := rec.waitFor(t, 1)
	if events[0].nodeID != 0 || events[0].event != "appStateChange" {
		t.Fatalf("unexpected global event %+v", events[0])
	}
}

func TestDispatcherUnboundDropsQuietly(t *testing.T) {
	d := NewDispatcher(NewCallbacks(testLogger(t)), testLogger(t))
	// no target bound: must not panic or queue forever
	d.Dispatch(d.Generation(), 1, "press", nil)
	d.Unbind()
	d.Dispatch(d.Generation(), 1, "press", nil)
}

func TestDispatcherCrossKeyIndependence(t *testing.T) {
	d, _, rec := newBoundDispatcher(t)
	gen := d.Generation()

	for i := 0; i < 10; i++ {
		d.Dispatch(gen, 1, "press", map[string]any{"seq": i})
		d.Dispatch(gen, 2, "press", map[string]any{"seq": i})
	}
	events := rec.waitFor(t, 20)

	// per-node sequences must each be in order, interleaving is free
	next := map[int64]int{1: 0, 2: 0}
	for _, e := range events {
		if e.payload["seq"] != next[e.nodeID] {
			t.Fatalf("node %d saw seq %v, want %d", e.nodeID, e.payload["seq"], next[e.nodeID])
		}
		next[e.nodeID]++
	}
}
