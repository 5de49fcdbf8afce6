// Package uiloop owns the UI-rendering goroutine. All native view mutation
// happens on this single goroutine; every other part of the system reaches
// it by posting jobs, never by sharing state.
//
// Key design principles:
//   - The node registry is single-owner, single-writer: jobs posted here are
//     the only code allowed to touch it.
//   - Jobs carry the program generation that produced them. A job whose
//     generation no longer matches the active one is dropped, not applied;
//     this is the fence that keeps a torn-down program from mutating the
//     registry mid-reload.
//   - Synchronous posts detect being already on the loop goroutine and run
//     directly, so reload steps can nest without self-deadlock.
package uiloop

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weftui/weft/internal/goroutineid"
)

// ErrStopped reports a post against a loop that is not running.
var ErrStopped = errors.New("ui loop not running")

// DefaultSyncTimeout bounds PostSync waits.
const DefaultSyncTimeout = 5 * time.Second

// AnyGeneration marks a job as generation-independent. Reserved for the
// reload coordinator and host plumbing; program-emitted work must always be
// tagged.
const AnyGeneration uint64 = 0

type job struct {
	gen uint64
	fn  func()
}

// Loop is the UI-rendering dispatch loop.
type Loop struct {
	jobs   chan job
	gen    atomic.Uint64
	loopID atomic.Int64
	logger *slog.Logger

	timeout time.Duration

	mu      sync.RWMutex
	started bool
	stopped bool
	done    chan struct{}
}

// New returns a loop ready to Start. logger may be nil.
func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		jobs:    make(chan job, 256),
		logger:  logger.With("component", "uiloop"),
		timeout: DefaultSyncTimeout,
		done:    make(chan struct{}),
	}
	l.gen.Store(1)
	return l
}

// Start launches the loop goroutine. It is an error to start twice.
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return errors.New("ui loop already started")
	}
	l.started = true
	ready := make(chan struct{})
	go l.run(ready)
	<-ready
	return nil
}

func (l *Loop) run(ready chan<- struct{}) {
	l.loopID.Store(goroutineid.Get())
	close(ready)
	defer close(l.done)
	for j := range l.jobs {
		if j.gen != AnyGeneration && j.gen != l.gen.Load() {
			l.logger.Debug("dropping stale-generation job",
				"jobGeneration", j.gen, "activeGeneration", l.gen.Load())
			continue
		}
		j.fn()
	}
}

// Stop shuts the loop down after draining already-queued jobs. Safe to call
// more than once.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.started || l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.mu.Unlock()
	close(l.jobs)
	<-l.done
}

// Generation returns the active program generation.
func (l *Loop) Generation() uint64 {
	return l.gen.Load()
}

// AdvanceGeneration moves to the next program generation and returns it.
// Only the reload coordinator calls this; queued jobs tagged with the prior
// generation are dropped when dequeued.
func (l *Loop) AdvanceGeneration() uint64 {
	return l.gen.Add(1)
}

// Post queues fn tagged with gen. Returns ErrStopped if the loop is down.
func (l *Loop) Post(gen uint64, fn func()) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.started || l.stopped {
		return ErrStopped
	}
	l.jobs <- job{gen: gen, fn: fn}
	return nil
}

// PostSync runs fn on the loop goroutine and waits for completion. If the
// caller is already on the loop goroutine, fn runs directly; posting and
// blocking from the loop itself would deadlock.
func (l *Loop) PostSync(fn func() error) error {
	if id := l.loopID.Load(); id > 0 && id == goroutineid.Get() {
		return fn()
	}

	errCh := make(chan error, 1)
	if err := l.Post(AnyGeneration, func() { errCh <- fn() }); err != nil {
		return err
	}
	timer := time.NewTimer(l.timeout)
	defer timer.Stop()
	select {
	case err := <-errCh:
		return err
	case <-l.done:
		return ErrStopped
	case <-timer.C:
		return fmt.Errorf("ui loop operation timed out after %v", l.timeout)
	}
}

// SetTimeout overrides the PostSync timeout. Intended for tests.
func (l *Loop) SetTimeout(d time.Duration) {
	l.timeout = d
}
