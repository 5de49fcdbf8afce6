// Package builtin registers the require()-style native modules exposed to
// script programs under the "weft:" prefix.
package builtin

import (
	"log/slog"

	"github.com/dop251/goja_nodejs/require"
	envmod "github.com/weftui/weft/internal/script/builtin/env"
	storagemod "github.com/weftui/weft/internal/script/builtin/storage"
)

// Options carries host context the modules need.
type Options struct {
	// StorageDir is where weft:storage persists its key-value file.
	StorageDir string
	// Logger may be nil.
	Logger *slog.Logger
}

// Register registers all native modules with the provided registry. Called
// during dependent registration, strictly after the script context exists.
func Register(registry *require.Registry, opts Options) {
	const prefix = "weft:"
	registry.RegisterNativeModule(prefix+"env", envmod.Require)
	registry.RegisterNativeModule(prefix+"storage", storagemod.Require(opts.StorageDir, opts.Logger))
}
