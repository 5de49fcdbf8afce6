package reload

import (
	"log/slog"
	"os"

	"github.com/weftui/weft/internal/storage"
)

// Cache holds the last-known-good bundle on disk, with an optional embedded
// bundle as the bottom fallback. It is what keeps the application usable
// when the development server is unreachable or a pushed bundle fails to
// evaluate.
type Cache struct {
	path     string
	embedded string
	logger   *slog.Logger
}

// NewCache returns a cache persisting at path. embedded may be empty; path
// may be empty to keep the cache memory-less (embedded-only). logger may be
// nil.
func NewCache(path, embedded string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{path: path, embedded: embedded, logger: logger.With("component", "bundlecache")}
}

// Store records bundle as last-known-good. Failures are logged, not
// propagated: a cache write must never fail a successful reload.
func (c *Cache) Store(bundle string) {
	if c.path == "" {
		return
	}
	if err := storage.AtomicWriteFile(c.path, []byte(bundle), 0o600); err != nil {
		c.logger.Warn("failed to store last-known-good bundle", "path", c.path, "error", err)
	}
}

// Load returns the best available fallback bundle: last-known-good from
// disk, else the embedded bundle, else nothing.
func (c *Cache) Load() (string, bool) {
	if c.path != "" {
		data, err := os.ReadFile(c.path)
		if err == nil {
			return string(data), true
		}
		if !os.IsNotExist(err) {
			c.logger.Warn("failed to read last-known-good bundle", "path", c.path, "error", err)
		}
	}
	if c.embedded != "" {
		return c.embedded, true
	}
	return "", false
}
