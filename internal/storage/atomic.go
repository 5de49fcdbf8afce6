// Package storage provides crash-safe file persistence for the pieces of
// bridge state that survive process restarts: the last-known-good bundle
// cache and the script-facing key-value store.
package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// AtomicWriteFile writes data via a temp file and an atomic rename, so a
// crash mid-write never leaves a torn file behind.
func AtomicWriteFile(filename string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	// Temp file in the same directory, so the rename stays on one filesystem.
	tmp, err := os.CreateTemp(dir, ".tmp-weft-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	var renamed bool
	defer func() {
		if !renamed {
			if err := os.Remove(tmp.Name()); err != nil {
				slog.Warn("failed to remove temporary file", "path", tmp.Name(), "error", err)
			}
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	renamed = true
	return nil
}
