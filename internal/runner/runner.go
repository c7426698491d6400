// Package runner implements the control loop runner of spec §4.11: it
// owns the per-WAN file lock, a thread-safe cancellation flag driven by
// signals, the cancellable cycle sleep, and consecutive-failure tracking
// for watchdog silence. Grounded in the teacher's Service loop (tick,
// measure elapsed, sleep the remainder) generalized to an injected cycle
// function instead of one hardcoded adaptive step.
package runner

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/galpt/cake-autorate-ctl/internal/clock"
	"github.com/galpt/cake-autorate-ctl/internal/lockfile"
)

// Cycle is the one operation a runner drives: run one control-loop cycle
// and report success. Implemented by autorate.Controller.RunCycle and
// steering.Controller.RunCycle.
type Cycle func(ctx context.Context) bool

// WatchdogNotifier is called once per cycle while the consecutive-failure
// count is below the runner's maxConsecutiveFailures; once that many cycles
// in a row have failed it stops being called, so a supervisor watchdog
// times out and restarts the process.
type WatchdogNotifier func()

// Runner drives one Cycle on a fixed interval until cancelled.
type Runner struct {
	clk                     clock.Clock
	cycleInterval           time.Duration
	maxConsecutiveFailures  int
	lock                    *lockfile.Lock

	cancelled atomic.Bool
}

// New acquires the per-WAN lock and returns a Runner ready to Run. Lock
// acquisition failure is fatal at startup (spec §7) and is returned as-is.
func New(clk clock.Clock, lockPath string, staleTimeout time.Duration, cycleInterval time.Duration, maxConsecutiveFailures int) (*Runner, error) {
	lock, err := lockfile.Acquire(lockPath, staleTimeout)
	if err != nil {
		return nil, err
	}
	if maxConsecutiveFailures <= 0 {
		maxConsecutiveFailures = 3
	}
	return &Runner{
		clk:                    clk,
		cycleInterval:          cycleInterval,
		maxConsecutiveFailures: maxConsecutiveFailures,
		lock:                   lock,
	}, nil
}

// Cancel sets the shared cooperative cancellation flag. Safe to call from a
// signal handler goroutine.
func (r *Runner) Cancel() {
	r.cancelled.Store(true)
}

// Cancelled reports whether shutdown has been requested.
func (r *Runner) Cancelled() bool {
	return r.cancelled.Load()
}

// Run executes cycle on cycleInterval until Cancel is called or ctx is
// done. It never retries a single cycle internally — the cycle itself must
// be idempotent. Shutdown releases the file lock before returning.
func (r *Runner) Run(ctx context.Context, cycle Cycle, notify WatchdogNotifier) error {
	defer r.lock.Release()

	consecutiveFailures := 0
	for !r.Cancelled() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		start := r.clk.Now()
		ok := cycle(ctx)
		elapsed := r.clk.Since(start)

		if ok {
			consecutiveFailures = 0
		} else {
			consecutiveFailures++
		}
		if notify != nil && consecutiveFailures < r.maxConsecutiveFailures {
			notify()
		}

		remaining := r.cycleInterval - elapsed
		if remaining < 0 {
			remaining = 0
		}
		if !r.sleepCancellable(ctx, remaining) {
			return nil
		}
	}
	return nil
}

// sleepCancellable sleeps for d or until cancellation/ctx-done, whichever
// comes first. Returns false if the sleep was interrupted by shutdown.
func (r *Runner) sleepCancellable(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return !r.Cancelled()
	}
	timer := r.clk.NewTimer(d)
	defer timer.Stop()

	const pollInterval = 50 * time.Millisecond
	poll := r.clk.NewTimer(pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C():
			return !r.Cancelled()
		case <-poll.C():
			if r.Cancelled() {
				return false
			}
			poll.Reset(pollInterval)
		}
	}
}
