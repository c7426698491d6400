// Package ratelimit implements the sliding-window write throttle that
// protects the router API from flash-wear (spec §4.1). It is grounded in
// the teacher's adaptive worker-cap pattern of keeping small, injectable,
// mutex-protected state, generalized to a timestamp window instead of a
// single counter.
package ratelimit

import (
	"sync"
	"time"

	"github.com/galpt/cake-autorate-ctl/internal/clock"
)

// Limiter is a sliding-window rate limiter over a monotonic clock. It never
// fails; it only delays. State is intentionally not persisted across
// process restarts (see DESIGN.md) — crashing immediately after a write
// must not permanently lock the next write out.
type Limiter struct {
	mu          sync.Mutex
	clk         clock.Clock
	maxChanges  int
	window      time.Duration
	timestamps  []time.Time
}

// New creates a Limiter allowing at most maxChanges writes within window.
func New(clk clock.Clock, maxChanges int, window time.Duration) *Limiter {
	if maxChanges < 1 {
		maxChanges = 1
	}
	return &Limiter{
		clk:        clk,
		maxChanges: maxChanges,
		window:     window,
		timestamps: make([]time.Time, 0, maxChanges),
	}
}

// prune discards timestamps older than now-window. Must be called with mu
// held. Invariant R: after prune, the earliest timestamp remaining is
// always > now - window.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.timestamps) && !l.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.timestamps = l.timestamps[i:]
	}
}

// CanChange reports whether a write would currently be accepted.
func (l *Limiter) CanChange() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clk.Now()
	l.prune(now)
	return len(l.timestamps) < l.maxChanges
}

// RecordChange records that a write happened now. Callers must only call
// this after CanChange returned true and the write actually occurred.
func (l *Limiter) RecordChange() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clk.Now()
	l.prune(now)
	l.timestamps = append(l.timestamps, now)
}

// TimeUntilAvailable returns how long until the next write would be
// accepted, clamped at 0.
func (l *Limiter) TimeUntilAvailable() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clk.Now()
	l.prune(now)
	if len(l.timestamps) < l.maxChanges {
		return 0
	}
	earliest := l.timestamps[0]
	d := earliest.Add(l.window).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
