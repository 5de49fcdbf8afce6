package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	"github.com/weftui/weft/internal/event"
)

// ErrContextGone reports dependent registration against a script context
// that no longer exists. Initialization order is a contract here: the
// context must be created before dependents register against it, and the
// inverted order is a hard error rather than a silently dropped
// registration.
var ErrContextGone = errors.New("script context does not exist; dependents must register after context creation")

// ErrAlreadyRegistered reports a second RegisterDependents call.
var ErrAlreadyRegistered = errors.New("dependents already registered for this script context")

// Dependents bundles everything the program needs wired into its script
// context. Registration is the second phase of the two-phase
// initialization: NewEngine creates the context, RegisterDependents wires
// these against it.
type Dependents struct {
	// EmitBatch ships one JSON operation batch toward the UI-rendering
	// loop. The coordinator binds the program generation into this closure.
	EmitBatch func(batch []byte)

	// Modules serves asynchronous native invocations.
	Modules *NativeModules

	// Callbacks mints and resolves pending-callback identifiers.
	Callbacks *event.Callbacks

	// DeliverResult routes a completed invocation's sentinel payload
	// ({callbackId, result, error}) back through the event dispatcher.
	DeliverResult func(payload map[string]any)

	// RegisterBuiltins, when set, registers require()-style native modules
	// against the context's module registry.
	RegisterBuiltins func(registry *require.Registry)
}

// Engine binds one program generation to one script context. A hot reload
// discards the engine wholesale and builds a fresh one.
type Engine struct {
	rt     *Runtime
	ctx    context.Context
	gen    uint64
	logger *slog.Logger
	deps   Dependents

	// vm is loop-affine: stashed during registration, only ever touched on
	// the loop goroutine.
	vm *goja.Runtime

	mu         sync.Mutex
	registered bool
	onEvent    goja.Callable
	onGlobal   goja.Callable
	teardown   goja.Callable
}

// NewEngine creates the script execution context for generation gen. No
// dependent may touch the context until RegisterDependents has completed.
// logger may be nil.
func NewEngine(ctx context.Context, gen uint64, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt, err := NewRuntime(ctx)
	if err != nil {
		return nil, fmt.Errorf("create script context: %w", err)
	}
	return &Engine{
		rt:     rt,
		ctx:    ctx,
		gen:    gen,
		logger: logger.With("component", "engine", "generation", gen),
	}, nil
}

// Generation returns the program generation this engine belongs to.
func (e *Engine) Generation() uint64 {
	return e.gen
}

// Runtime exposes the underlying script runtime.
func (e *Engine) Runtime() *Runtime {
	return e.rt
}

// RegisterDependents wires deps into the script context and installs the
// __weft bridge global. It fails with ErrContextGone when the context has
// been torn down: registering against a nonexistent context would otherwise
// be dropped silently, which is exactly the defect class this guards.
func (e *Engine) RegisterDependents(deps Dependents) error {
	if !e.rt.IsRunning() {
		return ErrContextGone
	}
	e.mu.Lock()
	if e.registered {
		e.mu.Unlock()
		return ErrAlreadyRegistered
	}
	e.registered = true
	e.deps = deps
	e.mu.Unlock()

	if deps.RegisterBuiltins != nil {
		deps.RegisterBuiltins(e.rt.Registry())
	}

	err := e.rt.RunOnLoopSync(func(vm *goja.Runtime) error {
		e.vm = vm
		bridge := vm.NewObject()
		_ = bridge.Set("generation", e.gen)
		_ = bridge.Set("emit", e.jsEmit)
		_ = bridge.Set("invoke", func(call goja.FunctionCall) goja.Value {
			return e.jsInvoke(vm, call)
		})
		_ = bridge.Set("onEvent", func(call goja.FunctionCall) goja.Value {
			e.storeCallable(&e.onEvent, call.Argument(0))
			return goja.Undefined()
		})
		_ = bridge.Set("onGlobalEvent", func(call goja.FunctionCall) goja.Value {
			e.storeCallable(&e.onGlobal, call.Argument(0))
			return goja.Undefined()
		})
		_ = bridge.Set("teardown", func(call goja.FunctionCall) goja.Value {
			e.storeCallable(&e.teardown, call.Argument(0))
			return goja.Undefined()
		})
		return vm.Set("__weft", bridge)
	})
	if err != nil {
		return fmt.Errorf("install bridge global: %w", err)
	}
	return nil
}

func (e *Engine) storeCallable(slot *goja.Callable, v goja.Value) {
	fn, ok := goja.AssertFunction(v)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !ok {
		*slot = nil
		return
	}
	*slot = fn
}

// jsEmit receives one JSON operation batch from the program.
func (e *Engine) jsEmit(call goja.FunctionCall) goja.Value {
	batch := call.Argument(0).String()
	e.mu.Lock()
	emit := e.deps.EmitBatch
	e.mu.Unlock()
	if emit == nil {
		e.logger.Warn("operation batch emitted before dependents registered")
		return goja.Undefined()
	}
	emit([]byte(batch))
	return goja.Undefined()
}

// jsInvoke starts an asynchronous native-module invocation and returns its
// callback identifier. The JS callback receives (err, result) node-style on
// the script thread once the native side resolves.
func (e *Engine) jsInvoke(vm *goja.Runtime, call goja.FunctionCall) goja.Value {
	module := call.Argument(0).String()
	method := call.Argument(1).String()

	var args map[string]any
	if arg := call.Argument(2); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
		if m, ok := arg.Export().(map[string]any); ok {
			args = m
		}
	}

	e.mu.Lock()
	deps := e.deps
	e.mu.Unlock()
	if deps.Modules == nil || deps.Callbacks == nil || deps.DeliverResult == nil {
		panic(vm.NewGoError(errors.New("native invocation before dependents registered")))
	}

	var id int64
	if cb, ok := goja.AssertFunction(call.Argument(3)); ok {
		id = deps.Callbacks.Mint(func(result any, errMsg string) {
			e.rt.RunOnLoop(func(vm *goja.Runtime) {
				errVal := goja.Value(goja.Null())
				if errMsg != "" {
					errVal = vm.ToValue(errMsg)
				}
				if _, err := cb(goja.Undefined(), errVal, vm.ToValue(result)); err != nil {
					e.logger.Warn("invoke callback failed", "module", module, "method", method, "error", err)
				}
			})
		})
	}

	go func() {
		result, err := deps.Modules.Invoke(e.ctx, module, method, args)
		if id == 0 {
			// fire-and-forget: no pending callback to resolve, so nothing
			// rides the sentinel path
			if err != nil {
				e.logger.Warn("fire-and-forget invocation failed", "module", module, "method", method, "error", err)
			}
			return
		}
		payload := map[string]any{"callbackId": id}
		if err != nil {
			payload["error"] = err.Error()
		} else {
			payload["result"] = result
		}
		deps.DeliverResult(payload)
	}()

	return vm.ToValue(id)
}

// Target returns the dispatcher attachment delivering events into this
// engine's script context.
func (e *Engine) Target() *event.Target {
	return &event.Target{
		Submit: func(fn func()) bool {
			return e.rt.RunOnLoop(func(*goja.Runtime) { fn() })
		},
		OnEvent:  e.deliverEvent,
		OnGlobal: e.deliverGlobal,
	}
}

// deliverEvent runs on the script thread.
func (e *Engine) deliverEvent(nodeID int64, eventName string, payload map[string]any) {
	e.mu.Lock()
	fn := e.onEvent
	e.mu.Unlock()
	if fn == nil {
		e.logger.Debug("dropping event with no script handler", "nodeId", nodeID, "event", eventName)
		return
	}
	vm := e.vm
	if _, err := fn(goja.Undefined(), vm.ToValue(nodeID), vm.ToValue(eventName), vm.ToValue(payload)); err != nil {
		e.logger.Warn("event handler failed", "nodeId", nodeID, "event", eventName, "error", err)
	}
}

// deliverGlobal runs on the script thread.
func (e *Engine) deliverGlobal(eventName string, payload map[string]any) {
	e.mu.Lock()
	fn := e.onGlobal
	e.mu.Unlock()
	if fn == nil {
		e.logger.Debug("dropping global event with no script handler", "event", eventName)
		return
	}
	vm := e.vm
	if _, err := fn(goja.Undefined(), vm.ToValue(eventName), vm.ToValue(payload)); err != nil {
		e.logger.Warn("global event handler failed", "event", eventName, "error", err)
	}
}

// EvaluateBundle compiles and runs a program bundle on the script thread.
func (e *Engine) EvaluateBundle(name, src string) error {
	return e.rt.RunProgram(name, src)
}

// RunTeardown invokes the program's teardown hook, if one was registered.
// Hook failures are logged, not propagated: teardown always completes so
// the reload sequence can proceed.
func (e *Engine) RunTeardown() {
	e.mu.Lock()
	fn := e.teardown
	e.mu.Unlock()
	if fn == nil {
		return
	}
	err := e.rt.RunOnLoopSync(func(vm *goja.Runtime) error {
		_, err := fn(goja.Undefined())
		return err
	})
	if err != nil {
		e.logger.Warn("teardown hook failed", "error", err)
	}
}

// Close tears the script context down, discarding timer state with the
// event loop. Safe to call more than once.
func (e *Engine) Close() error {
	return e.rt.Close()
}
