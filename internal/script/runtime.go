// Package script owns the script-thread half of the bridge: a goja runtime
// driven by a goja_nodejs event loop, the engine that evaluates program
// bundles against it, and the native modules exposed to script code.
package script

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
	"github.com/weftui/weft/internal/goroutineid"
)

// ErrLoopStopped reports an operation against a runtime whose event loop is
// no longer running.
var ErrLoopStopped = errors.New("script event loop not running")

// DefaultSyncTimeout bounds RunOnLoopSync waits.
const DefaultSyncTimeout = 5 * time.Second

// Runtime wraps a goja_nodejs event loop. goja.Runtime is not
// goroutine-safe, so every access is routed through RunOnLoop; the loop
// goroutine is the script thread. Timer polyfill state (setTimeout /
// setInterval) lives inside the event loop and is discarded with it, which
// is what resets timers across a hot reload.
type Runtime struct {
	loop     *eventloop.EventLoop
	registry *require.Registry
	timeout  time.Duration

	loopGoroutineID atomic.Int64

	mu      sync.RWMutex
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRuntime creates and starts a runtime. The parent context controls
// lifecycle: when it is cancelled the runtime closes.
func NewRuntime(parent context.Context) (*Runtime, error) {
	registry := require.NewRegistry()
	loop := eventloop.NewEventLoop(
		eventloop.WithRegistry(registry),
		eventloop.EnableConsole(true),
	)

	ctx, cancel := context.WithCancel(context.Background())
	rt := &Runtime{
		loop:     loop,
		registry: registry,
		timeout:  DefaultSyncTimeout,
		ctx:      ctx,
		cancel:   cancel,
	}

	loop.Start()
	rt.mu.Lock()
	rt.started = true
	rt.mu.Unlock()

	// Capture the loop goroutine's id for the direct-run fast path.
	ready := make(chan struct{})
	if ok := loop.RunOnLoop(func(*goja.Runtime) {
		rt.loopGoroutineID.Store(goroutineid.Get())
		close(ready)
	}); !ok {
		cancel()
		return nil, ErrLoopStopped
	}
	<-ready

	if parent.Done() != nil {
		context.AfterFunc(parent, func() { _ = rt.Close() })
	}
	return rt, nil
}

// Registry returns the CommonJS require registry. Native modules must be
// registered before any script that requires them runs.
func (rt *Runtime) Registry() *require.Registry {
	return rt.registry
}

// Close stops the event loop after pending jobs finish. Safe to call more
// than once.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	if rt.stopped {
		rt.mu.Unlock()
		return nil
	}
	rt.stopped = true
	rt.mu.Unlock()

	rt.cancel()
	rt.loop.Stop()
	return nil
}

// Done is closed once the runtime has stopped.
func (rt *Runtime) Done() <-chan struct{} {
	return rt.ctx.Done()
}

// IsRunning reports whether the loop is accepting work.
func (rt *Runtime) IsRunning() bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.started && !rt.stopped
}

// RunOnLoop schedules fn on the script thread. Reports false if the loop is
// not running.
func (rt *Runtime) RunOnLoop(fn func(vm *goja.Runtime)) bool {
	if !rt.IsRunning() {
		return false
	}
	return rt.loop.RunOnLoop(fn)
}

// RunOnLoopSync schedules fn on the script thread and waits for it.
func (rt *Runtime) RunOnLoopSync(fn func(vm *goja.Runtime) error) error {
	if !rt.IsRunning() {
		return ErrLoopStopped
	}
	errCh := make(chan error, 1)
	if ok := rt.loop.RunOnLoop(func(vm *goja.Runtime) {
		errCh <- fn(vm)
	}); !ok {
		return ErrLoopStopped
	}

	timer := time.NewTimer(rt.timeout)
	defer timer.Stop()
	select {
	case err := <-errCh:
		return err
	case <-rt.ctx.Done():
		return ErrLoopStopped
	case <-timer.C:
		return fmt.Errorf("script loop operation timed out after %v", rt.timeout)
	}
}

// TryRunOnLoopSync runs fn directly when the caller is already on the
// script thread, otherwise posts and waits. Required for native callbacks
// that re-enter JS while a script is mid-execution.
func (rt *Runtime) TryRunOnLoopSync(currentVM *goja.Runtime, fn func(vm *goja.Runtime) error) error {
	if !rt.IsRunning() {
		return ErrLoopStopped
	}
	if id := rt.loopGoroutineID.Load(); id > 0 && id == goroutineid.Get() {
		return fn(currentVM)
	}
	return rt.RunOnLoopSync(fn)
}

// RunProgram compiles and executes src under name on the script thread.
func (rt *Runtime) RunProgram(name, src string) error {
	return rt.RunOnLoopSync(func(vm *goja.Runtime) error {
		prg, err := goja.Compile(name, src, true)
		if err != nil {
			return fmt.Errorf("compile %s: %w", name, err)
		}
		if _, err := vm.RunProgram(prg); err != nil {
			return fmt.Errorf("run %s: %w", name, err)
		}
		return nil
	})
}

// SetTimeout overrides the synchronous wait bound. Intended for tests.
func (rt *Runtime) SetTimeout(d time.Duration) {
	rt.timeout = d
}
