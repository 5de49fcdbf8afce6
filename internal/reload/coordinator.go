// Package reload owns the hot-reload lifecycle: the connection to the
// development server, the generation-fenced teardown/rebuild sequence, and
// the last-known-good bundle fallback that keeps the application usable
// when a push fails.
package reload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/weftui/weft/internal/bridge"
	"github.com/weftui/weft/internal/devserver"
	"github.com/weftui/weft/internal/event"
	"github.com/weftui/weft/internal/overlay"
	"github.com/weftui/weft/internal/script"
	"github.com/weftui/weft/internal/uiloop"
)

// State is the coordinator's connectivity/reload state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	ReloadInProgress
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ReloadInProgress:
		return "reload-in-progress"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Reload sequence phases, in contract order. The ordering log records these
// as each phase is entered.
const (
	PhaseTeardown = "teardown"
	PhaseClear    = "clear"
	PhaseEvaluate = "evaluate"
)

// EngineFactory builds the script half of one program generation: create
// the context first, register dependents second. The coordinator calls it
// under ReloadInProgress, never concurrently with itself.
type EngineFactory func(ctx context.Context, gen uint64) (*script.Engine, error)

// Coordinator drives the hot-reload state machine. One coordinator serves
// one host for its whole lifetime; engines come and go underneath it, one
// per program generation.
type Coordinator struct {
	loop       *uiloop.Loop
	processor  *bridge.Processor
	dispatcher *event.Dispatcher
	newEngine  EngineFactory
	overlay    overlay.Overlay
	cache      *Cache
	logger     *slog.Logger

	// phaseHook, when set, observes phase entry during the reload sequence.
	// Test instrumentation only.
	phaseHook func(phase string)

	mu        sync.Mutex
	state     State
	engine    *script.Engine
	client    *devserver.Client
	bundleURL string
	// pending holds a bundle pushed while a reload was already running.
	// Latest wins; it is applied once the running reload completes.
	pending *string
}

// Options configures a Coordinator. All loop/processor/dispatcher/factory
// fields are required; Overlay and Cache default to no-ops.
type Options struct {
	Loop       *uiloop.Loop
	Processor  *bridge.Processor
	Dispatcher *event.Dispatcher
	NewEngine  EngineFactory
	Overlay    overlay.Overlay
	Cache      *Cache
	Logger     *slog.Logger
}

// NewCoordinator returns a coordinator in the Disconnected state.
func NewCoordinator(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ov := opts.Overlay
	if ov == nil {
		ov = overlay.Nop{}
	}
	cache := opts.Cache
	if cache == nil {
		cache = NewCache("", "", logger)
	}
	return &Coordinator{
		loop:       opts.Loop,
		processor:  opts.Processor,
		dispatcher: opts.Dispatcher,
		newEngine:  opts.NewEngine,
		overlay:    ov,
		cache:      cache,
		logger:     logger.With("component", "reload"),
		state:      Disconnected,
	}
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Engine returns the engine of the active program generation, or nil before
// the first successful load.
func (c *Coordinator) Engine() *script.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine
}

// SetPhaseHook installs the reload-sequence ordering observer. Not safe to
// call concurrently with a running reload.
func (c *Coordinator) SetPhaseHook(hook func(phase string)) {
	c.phaseHook = hook
}

func (c *Coordinator) enterPhase(phase string) {
	if c.phaseHook != nil {
		c.phaseHook(phase)
	}
}

// Connect dials the development server's push channel and performs the
// initial program load. On dial failure it falls back to fetching the
// bundle over plain HTTP, then to the last-known-good cache, so a dead
// server never leaves the application without a program; the dial error is
// still returned so the caller can apply its retry policy.
func (c *Coordinator) Connect(ctx context.Context, serverURL, bundleURL string) error {
	c.mu.Lock()
	if c.client != nil {
		c.mu.Unlock()
		return fmt.Errorf("already connected to %s", serverURL)
	}
	c.state = Connecting
	c.bundleURL = bundleURL
	c.mu.Unlock()

	client := devserver.NewClient(func(bundle string) {
		// Read-loop goroutine; the reload runs elsewhere so pings keep
		// flowing while the sequence executes.
		go c.Reload(ctx, bundle)
	}, c.logger)
	client.OnDisconnect = func(err error) {
		c.mu.Lock()
		if c.client == client {
			c.client = nil
			if c.state == Connected || c.state == Connecting {
				c.state = Disconnected
			}
		}
		c.mu.Unlock()
		c.logger.Warn("push channel lost; running last loaded program", "error", err)
	}

	dialErr := client.Connect(ctx, serverURL)
	c.mu.Lock()
	if dialErr == nil {
		c.client = client
		c.state = Connected
	} else {
		c.state = Disconnected
	}
	c.mu.Unlock()

	bundle, src, loadErr := c.initialBundle(ctx, bundleURL)
	if loadErr != nil {
		c.logger.Error("no program bundle available", "error", loadErr)
		c.overlay.Show("no program available", loadErr.Error())
		if dialErr != nil {
			return fmt.Errorf("dial and load both failed: %w", dialErr)
		}
		return loadErr
	}
	c.logger.Info("loading initial bundle", "source", src, "bytes", len(bundle))
	c.Reload(ctx, bundle)
	if dialErr != nil {
		return fmt.Errorf("running without live reload: %w", dialErr)
	}
	return nil
}

// initialBundle fetches the bundle over HTTP, falling back to the cache.
func (c *Coordinator) initialBundle(ctx context.Context, bundleURL string) (bundle, source string, err error) {
	if bundleURL != "" {
		bundle, err = devserver.FetchBundle(ctx, bundleURL)
		if err == nil {
			return bundle, "fetch", nil
		}
		c.logger.Warn("bundle fetch failed; trying last-known-good", "url", bundleURL, "error", err)
	}
	if cached, ok := c.cache.Load(); ok {
		return cached, "cache", nil
	}
	if err == nil {
		err = fmt.Errorf("no bundle URL and no cached bundle")
	}
	return "", "", err
}

// Reload swaps the running program for bundle. The sequence ordering is the
// contract:
//
//  1. script thread: run the teardown hook, stop the outgoing engine
//     (timer state dies with its event loop).
//  2. UI thread: advance the generation, cancel throttles, clear the node
//     registry, detach the root. Strictly after 1, strictly before 3.
//  3. script thread: build the fresh engine (context first, dependents
//     second) and evaluate the new bundle.
//
// A bundle pushed while a reload is running is coalesced: the latest one
// runs once the current sequence completes. Evaluation failure falls back
// to the last-known-good bundle and returns the coordinator to its idle
// state; it never terminates the host.
func (c *Coordinator) Reload(ctx context.Context, bundle string) {
	c.mu.Lock()
	if c.state == ReloadInProgress {
		c.pending = &bundle
		c.mu.Unlock()
		c.logger.Info("reload already running; queued latest bundle")
		return
	}
	c.state = ReloadInProgress
	c.mu.Unlock()

	for {
		c.runSequence(ctx, bundle)

		c.mu.Lock()
		if c.pending != nil {
			bundle = *c.pending
			c.pending = nil
			c.mu.Unlock()
			c.logger.Info("applying queued bundle")
			continue
		}
		if c.client != nil {
			c.state = Connected
		} else {
			c.state = Disconnected
		}
		c.mu.Unlock()
		return
	}
}

// runSequence executes one teardown/clear/evaluate pass, with the
// last-known-good fallback on failure.
func (c *Coordinator) runSequence(ctx context.Context, bundle string) {
	err := c.swapProgram(ctx, bundle)
	if err == nil {
		c.cache.Store(bundle)
		c.overlay.Hide()
		return
	}

	c.logger.Error("reload failed", "error", err)
	c.overlay.Show("reload failed", err.Error())

	lkg, ok := c.cache.Load()
	if !ok || lkg == bundle {
		return
	}
	c.logger.Info("restoring last-known-good bundle", "bytes", len(lkg))
	if err := c.swapProgram(ctx, lkg); err != nil {
		c.logger.Error("last-known-good bundle failed too", "error", err)
		c.overlay.Show("reload failed", err.Error())
	}
}

// swapProgram is the three-step sequence proper.
func (c *Coordinator) swapProgram(ctx context.Context, bundle string) error {
	c.mu.Lock()
	outgoing := c.engine
	c.engine = nil
	c.mu.Unlock()

	// Step 1: script thread. Teardown runs on the outgoing engine's own
	// loop; closing the runtime discards its timers and intervals.
	c.enterPhase(PhaseTeardown)
	c.dispatcher.Unbind()
	if outgoing != nil {
		outgoing.RunTeardown()
		if err := outgoing.Close(); err != nil {
			c.logger.Warn("outgoing script context close", "error", err)
		}
	}

	// Step 2: UI thread. Advancing the generation fences out any batch the
	// dead program still had in flight before the registry is cleared.
	var gen uint64
	err := c.loop.PostSync(func() error {
		c.enterPhase(PhaseClear)
		gen = c.loop.AdvanceGeneration()
		c.processor.Reset()
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear native tree: %w", err)
	}
	c.dispatcher.SetGeneration(gen)
	c.dispatcher.Callbacks().Reset()

	// Step 3: script thread. Context first, dependents second, then the
	// bundle.
	c.enterPhase(PhaseEvaluate)
	engine, err := c.newEngine(ctx, gen)
	if err != nil {
		return fmt.Errorf("build script engine for generation %d: %w", gen, err)
	}
	c.dispatcher.Bind(engine.Target())
	if err := engine.EvaluateBundle("bundle.js", bundle); err != nil {
		c.dispatcher.Unbind()
		_ = engine.Close()
		return fmt.Errorf("evaluate bundle for generation %d: %w", gen, err)
	}

	c.mu.Lock()
	c.engine = engine
	c.mu.Unlock()
	c.logger.Info("program generation live", "generation", gen, "bytes", len(bundle))
	return nil
}

// Disconnect closes the push channel and returns to Disconnected. The
// running program keeps running. Idempotent.
func (c *Coordinator) Disconnect() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.bundleURL = ""
	if c.state != ReloadInProgress {
		c.state = Disconnected
	}
	c.mu.Unlock()
	if client != nil {
		client.Close()
	}
}

// Close disconnects and stops the active engine. The coordinator is not
// usable afterwards.
func (c *Coordinator) Close() {
	c.Disconnect()
	c.mu.Lock()
	engine := c.engine
	c.engine = nil
	c.mu.Unlock()
	if engine != nil {
		c.dispatcher.Unbind()
		engine.RunTeardown()
		_ = engine.Close()
	}
}
