package runner

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/galpt/cake-autorate-ctl/internal/clock"
)

func TestRunnerExecutesCyclesUntilCancelled(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "wan1.lock")
	r, err := New(clock.Real(), lockPath, time.Minute, 10*time.Millisecond, 3)
	if err != nil {
		t.Fatalf("unexpected error acquiring runner: %v", err)
	}

	var count atomic.Int32
	cycle := func(ctx context.Context) bool {
		n := count.Add(1)
		if n >= 3 {
			r.Cancel()
		}
		return true
	}

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background(), cycle, nil) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected run error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("runner did not stop after cancellation")
	}

	if count.Load() < 3 {
		t.Fatalf("expected at least 3 cycles, got %d", count.Load())
	}
}

func TestRunnerStopsWatchdogAfterMaxConsecutiveFailures(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "wan1.lock")
	r, err := New(clock.Real(), lockPath, time.Minute, 5*time.Millisecond, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var cycles, notifies atomic.Int32
	cycle := func(ctx context.Context) bool {
		n := cycles.Add(1)
		if n >= 6 {
			r.Cancel()
		}
		return false // always fail
	}
	notify := func() { notifies.Add(1) }

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background(), cycle, notify) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("runner did not stop")
	}

	if notifies.Load() > 3 {
		t.Fatalf("expected watchdog notifications to stop after 3 consecutive failures, got %d", notifies.Load())
	}
}

func TestSecondRunnerFailsToAcquireLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "wan1.lock")
	r1, err := New(clock.Real(), lockPath, time.Minute, time.Second, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r1.lock.Release()

	if _, err := New(clock.Real(), lockPath, time.Minute, time.Second, 3); err == nil {
		t.Fatalf("expected second runner to fail lock acquisition")
	}
}
