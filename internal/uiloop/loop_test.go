package uiloop

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLoop(t *testing.T) *Loop {
	t.Helper()
	l := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := l.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(l.Stop)
	return l
}

func TestLoopRunsJobsInOrder(t *testing.T) {
	l := testLoop(t)
	gen := l.Generation()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 20; i++ {
		i := i
		if err := l.Post(gen, func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.PostSync(func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	for i, got := range order {
		if got != i {
			t.Fatalf("job order %v", order)
		}
	}
}

func TestLoopDropsStaleGenerationJobs(t *testing.T) {
	l := testLoop(t)
	oldGen := l.Generation()

	// Block the loop so the stale job is still queued when the generation
	// advances.
	release := make(chan struct{})
	if err := l.Post(AnyGeneration, func() { <-release }); err != nil {
		t.Fatal(err)
	}

	ran := false
	if err := l.Post(oldGen, func() { ran = true }); err != nil {
		t.Fatal(err)
	}
	newGen := l.AdvanceGeneration()
	if newGen != oldGen+1 {
		t.Fatalf("generation advanced to %d, want %d", newGen, oldGen+1)
	}
	close(release)

	if err := l.PostSync(func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	if ran {
		t.Fatal("stale-generation job was applied after the generation advanced")
	}

	// a job tagged with the new generation still runs
	ran = false
	if err := l.Post(newGen, func() { ran = true }); err != nil {
		t.Fatal(err)
	}
	if err := l.PostSync(func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Fatal("current-generation job did not run")
	}
}

func TestLoopPostSyncOnLoopRunsDirectly(t *testing.T) {
	l := testLoop(t)

	// Nesting PostSync inside a loop job must not deadlock.
	err := l.PostSync(func() error {
		return l.PostSync(func() error { return nil })
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestLoopPostSyncPropagatesError(t *testing.T) {
	l := testLoop(t)
	want := errors.New("boom")
	if err := l.PostSync(func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("err = %v", err)
	}
}

func TestLoopPostAfterStop(t *testing.T) {
	l := New(nil)
	if err := l.Start(); err != nil {
		t.Fatal(err)
	}
	l.Stop()
	l.Stop() // idempotent

	if err := l.Post(AnyGeneration, func() {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Post after stop = %v, want ErrStopped", err)
	}
	if err := l.PostSync(func() error { return nil }); !errors.Is(err, ErrStopped) {
		t.Fatalf("PostSync after stop = %v, want ErrStopped", err)
	}
}

func TestLoopPostSyncTimeout(t *testing.T) {
	l := testLoop(t)
	l.SetTimeout(20 * time.Millisecond)

	release := make(chan struct{})
	defer close(release)
	if err := l.Post(AnyGeneration, func() { <-release }); err != nil {
		t.Fatal(err)
	}
	if err := l.PostSync(func() error { return nil }); err == nil {
		t.Fatal("expected timeout error")
	}
}
