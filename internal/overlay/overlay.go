// Package overlay surfaces reload and protocol failures during
// development. Production-equivalent builds keep the same interfaces but
// wire a no-op overlay; no error class here ever terminates the host.
package overlay

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Overlay is the host-provided diagnostic surface. Show replaces whatever
// is currently displayed; Hide is a no-op when nothing is shown.
type Overlay interface {
	Show(title, detail string)
	Hide()
}

// Nop is the production overlay: failures are logged, nothing is drawn.
type Nop struct{}

func (Nop) Show(string, string) {}
func (Nop) Hide()               {}

// LogOverlay records the most recent diagnostic and mirrors it to the
// logger. Hosts without a native overlay surface use this in development.
type LogOverlay struct {
	logger *slog.Logger

	mu      sync.Mutex
	title   string
	detail  string
	visible bool
}

// NewLogOverlay returns an overlay logging through logger. logger may be
// nil.
func NewLogOverlay(logger *slog.Logger) *LogOverlay {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogOverlay{logger: logger.With("component", "overlay")}
}

func (o *LogOverlay) Show(title, detail string) {
	o.mu.Lock()
	o.title = title
	o.detail = detail
	o.visible = true
	o.mu.Unlock()
	o.logger.Error("development overlay", "title", title, "detail", detail)
}

func (o *LogOverlay) Hide() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.visible = false
}

// Current returns the displayed diagnostic, if any.
func (o *LogOverlay) Current() (title, detail string, visible bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.title, o.detail, o.visible
}

// Entry is one retained log record.
type Entry struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   map[string]string
}

// DevLog is a slog.Handler retaining a bounded ring of recent entries; the
// overlay's detail view and tests read them back.
type DevLog struct {
	mu      sync.Mutex
	entries []Entry
	maxSize int
}

// NewDevLog returns a handler retaining up to maxEntries records.
func NewDevLog(maxEntries int) *DevLog {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &DevLog{maxSize: maxEntries}
}

func (d *DevLog) Enabled(context.Context, slog.Level) bool { return true }

func (d *DevLog) Handle(_ context.Context, record slog.Record) error {
	attrs := make(map[string]string)
	record.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.String()
		return true
	})
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, Entry{
		Time:    record.Time,
		Level:   record.Level,
		Message: record.Message,
		Attrs:   attrs,
	})
	if len(d.entries) > d.maxSize {
		d.entries = d.entries[len(d.entries)-d.maxSize:]
	}
	return nil
}

func (d *DevLog) WithAttrs([]slog.Attr) slog.Handler { return d }
func (d *DevLog) WithGroup(string) slog.Handler      { return d }

// Entries returns a snapshot of retained records.
func (d *DevLog) Entries() []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}
