package event

import (
	"log/slog"
	"sync"
)

// Continuation receives the outcome of one asynchronous native-module
// invocation. Exactly one of result / errMsg is meaningful: errMsg empty
// means success.
type Continuation func(result any, errMsg string)

// Callbacks is the pending-callback table correlating native-module results
// back to script-side continuations. Identifiers are minted per invocation
// and resolve exactly once; resolving an unknown, already-resolved, or
// reserved identifier is logged and ignored.
type Callbacks struct {
	mu      sync.Mutex
	nextID  int64
	pending map[int64]Continuation
	logger  *slog.Logger
}

// NewCallbacks returns an empty table. logger may be nil.
func NewCallbacks(logger *slog.Logger) *Callbacks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Callbacks{
		pending: make(map[int64]Continuation),
		logger:  logger.With("component", "callbacks"),
	}
}

// Mint registers c and returns its callback identifier. Identifiers are
// strictly positive; -1 and 0 stay reserved for wire sentinels.
func (c *Callbacks) Mint(cont Continuation) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.pending[id] = cont
	return id
}

// Resolve completes the callback id with either a result or an error, never
// both. A non-empty errMsg wins and the result is discarded.
func (c *Callbacks) Resolve(id int64, result any, errMsg string) {
	if id <= 0 {
		c.logger.Warn("ignoring resolution for reserved callback id", "callbackId", id)
		return
	}
	c.mu.Lock()
	cont, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("ignoring resolution for unknown or already-resolved callback id",
			"callbackId", id)
		return
	}
	if errMsg != "" {
		cont(nil, errMsg)
		return
	}
	cont(result, "")
}

// Pending returns the number of unresolved callbacks.
func (c *Callbacks) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Reset drops every unresolved callback. The hot-reload coordinator calls
// this when the program generation that minted them is discarded.
func (c *Callbacks) Reset() {
	c.mu.Lock()
	dropped := len(c.pending)
	c.pending = make(map[int64]Continuation)
	c.mu.Unlock()
	if dropped > 0 {
		c.logger.Info("dropped pending callbacks across reload", "count", dropped)
	}
}
