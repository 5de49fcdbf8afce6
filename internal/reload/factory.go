package reload

import (
	"context"
	"log/slog"

	"github.com/dop251/goja_nodejs/require"
	"github.com/weftui/weft/internal/bridge"
	"github.com/weftui/weft/internal/event"
	"github.com/weftui/weft/internal/script"
	"github.com/weftui/weft/internal/script/builtin"
	"github.com/weftui/weft/internal/uiloop"
)

// StandardEngineFactory returns an EngineFactory wiring the conventional
// host plumbing into each generation's engine: batches post to the UI loop
// tagged with the generation, invocation results travel the callback
// sentinel path, and the builtin modules register against the context.
func StandardEngineFactory(loop *uiloop.Loop, processor *bridge.Processor, dispatcher *event.Dispatcher, modules *script.NativeModules, builtins builtin.Options, logger *slog.Logger) EngineFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, gen uint64) (*script.Engine, error) {
		engine, err := script.NewEngine(ctx, gen, logger)
		if err != nil {
			return nil, err
		}
		deps := script.Dependents{
			EmitBatch: func(batch []byte) {
				err := loop.Post(gen, func() {
					_ = processor.ApplyJSON(batch)
				})
				if err != nil {
					logger.Warn("dropping operation batch", "generation", gen, "error", err)
				}
			},
			Modules:   modules,
			Callbacks: dispatcher.Callbacks(),
			DeliverResult: func(payload map[string]any) {
				dispatcher.Dispatch(gen, event.CallbackNodeID, event.CallbackEvent, payload)
			},
			RegisterBuiltins: func(registry *require.Registry) {
				builtin.Register(registry, builtins)
			},
		}
		if err := engine.RegisterDependents(deps); err != nil {
			_ = engine.Close()
			return nil, err
		}
		return engine, nil
	}
}
