// Package event moves native UI events and asynchronous native-module
// results from the UI-rendering goroutine back to the script goroutine. It
// carries the per-node ordering guarantee, the high-frequency event
// throttle, and the pending-callback correlation table.
package event

import (
	"sync"
	"time"
)

// Throttle rate-limits a stream of event payloads with leading plus
// trailing delivery: the first payload in a quiescent window is delivered
// immediately, later payloads within the window coalesce to the latest one,
// and the latest pending payload is delivered exactly once when the window
// elapses. Flush delivers any pending payload synchronously and cancels the
// trailing timer, so a release signal (touch-up) never drops the final
// value.
//
// All methods are safe for concurrent use. The delivery function runs
// without the throttle's lock held.
type Throttle struct {
	mu        sync.Mutex
	interval  time.Duration
	deliver   func(payload map[string]any)
	timer     *time.Timer
	pending   map[string]any
	isPending bool
	open      bool
	cancelled bool
}

// NewThrottle returns a throttle delivering through fn at most once per
// interval after the leading edge.
func NewThrottle(interval time.Duration, fn func(payload map[string]any)) *Throttle {
	return &Throttle{interval: interval, deliver: fn}
}

// Fire submits a payload. The first payload in a quiescent window is
// delivered before Fire returns; later ones replace the pending value.
func (t *Throttle) Fire(payload map[string]any) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	if t.open {
		t.pending = payload
		t.isPending = true
		t.mu.Unlock()
		return
	}
	t.open = true
	t.timer = time.AfterFunc(t.interval, t.onWindowElapsed)
	t.mu.Unlock()
	t.deliver(payload)
}

// onWindowElapsed runs on the timer goroutine when the window closes. The
// cancellation flag is checked before touching the stored callback: Cancel
// must win even against an already-queued timer callback.
func (t *Throttle) onWindowElapsed() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	if !t.isPending {
		t.open = false
		t.mu.Unlock()
		return
	}
	payload := t.pending
	t.pending = nil
	t.isPending = false
	t.timer = time.AfterFunc(t.interval, t.onWindowElapsed)
	t.mu.Unlock()
	t.deliver(payload)
}

// Flush handles the explicit release signal: the latest pending payload, if
// any, is delivered synchronously, the trailing timer is cancelled, and the
// throttle returns to quiescent. Flushing with nothing pending only resets
// the window.
func (t *Throttle) Flush() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.open = false
	if !t.isPending {
		t.mu.Unlock()
		return
	}
	payload := t.pending
	t.pending = nil
	t.isPending = false
	t.mu.Unlock()
	t.deliver(payload)
}

// Cancel permanently disables the throttle. Idempotent; a trailing callback
// that is already queued will observe the flag and not fire.
func (t *Throttle) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = nil
	t.isPending = false
	t.open = false
}
