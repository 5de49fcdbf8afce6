// Package storage provides a goja module giving script programs a small
// persistent key-value store. Registered as "weft:storage". Values survive
// hot reloads and process restarts; writes are atomic so a crash mid-write
// cannot corrupt the store.
package storage

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dop251/goja"
	hoststorage "github.com/weftui/weft/internal/storage"
)

const storeFile = "kv.json"

// store is shared across module instantiations so every script context in
// the process sees the same data.
type store struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
	values map[string]string
	loaded bool
}

func (s *store) load() {
	if s.loaded {
		return
	}
	s.loaded = true
	s.values = make(map[string]string)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read key-value store", "path", s.path, "error", err)
		}
		return
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		s.logger.Warn("discarding corrupt key-value store", "path", s.path, "error", err)
		s.values = make(map[string]string)
	}
}

func (s *store) persist() {
	data, err := json.Marshal(s.values)
	if err != nil {
		s.logger.Warn("failed to encode key-value store", "error", err)
		return
	}
	if err := hoststorage.AtomicWriteFile(s.path, data, 0o600); err != nil {
		s.logger.Warn("failed to persist key-value store", "path", s.path, "error", err)
	}
}

// Require returns the goja module loader for weft:storage, persisting under
// dir. logger may be nil.
func Require(dir string, logger *slog.Logger) func(vm *goja.Runtime, module *goja.Object) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &store{
		path:   filepath.Join(dir, storeFile),
		logger: logger.With("component", "weft:storage"),
	}

	return func(vm *goja.Runtime, module *goja.Object) {
		exports := module.Get("exports").(*goja.Object)

		// getItem(key: string): string | null
		_ = exports.Set("getItem", func(call goja.FunctionCall) goja.Value {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.load()
			v, ok := s.values[call.Argument(0).String()]
			if !ok {
				return goja.Null()
			}
			return vm.ToValue(v)
		})

		// setItem(key: string, value: string): void
		_ = exports.Set("setItem", func(call goja.FunctionCall) goja.Value {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.load()
			s.values[call.Argument(0).String()] = call.Argument(1).String()
			s.persist()
			return goja.Undefined()
		})

		// removeItem(key: string): void
		_ = exports.Set("removeItem", func(call goja.FunctionCall) goja.Value {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.load()
			delete(s.values, call.Argument(0).String())
			s.persist()
			return goja.Undefined()
		})

		// keys(): string[]
		_ = exports.Set("keys", func(goja.FunctionCall) goja.Value {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.load()
			keys := make([]string, 0, len(s.values))
			for k := range s.values {
				keys = append(keys, k)
			}
			return vm.ToValue(keys)
		})
	}
}
