// Package rttmeasure implements the RTT measurer of spec §4.2: it pings a
// set of reflectors concurrently and aggregates the results into a single
// sample, or reports total failure. Actual ICMP execution is an external
// collaborator (spec §1) — this package owns only the fan-out, aggregation,
// and median-of-three policy, the same split the teacher uses between
// measureRTTTCP (orchestration) and the injectable ProbeFunc (execution).
package rttmeasure

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// Pinger executes a single ICMP ping against host and returns the RTT, or
// an error for any failure (non-zero exit, timeout, parse failure — spec
// §4.2 requires all of these be treated as per-reflector failure, never a
// fatal error).
type Pinger interface {
	Ping(ctx context.Context, host string, timeout time.Duration) (time.Duration, error)
}

// PingerFunc adapts a function to a Pinger, mirroring the teacher's
// injectable ProbeFunc field.
type PingerFunc func(ctx context.Context, host string, timeout time.Duration) (time.Duration, error)

func (f PingerFunc) Ping(ctx context.Context, host string, timeout time.Duration) (time.Duration, error) {
	return f(ctx, host, timeout)
}

// Sample is the aggregated measurement contract of spec §4.2.
type Sample struct {
	RTTMs         float64
	SamplesUsed   int
	PerReflector  map[string]*float64
}

// Measurer implements the measure() contract.
type Measurer struct {
	pinger        Pinger
	mu            sync.RWMutex
	reflectors    []string
	medianOfThree bool
	timeout       time.Duration
}

// New builds a Measurer. reflectors must be non-empty; timeout bounds each
// individual ping and should be derived from the owning control loop's
// cycle interval.
func New(pinger Pinger, reflectors []string, medianOfThree bool, timeout time.Duration) *Measurer {
	return &Measurer{pinger: pinger, reflectors: reflectors, medianOfThree: medianOfThree, timeout: timeout}
}

// SetReflectors replaces the reflector list in place, the one field
// internal/confreload is allowed to hot-swap: it changes which hosts get
// pinged, not any invariant-bearing threshold.
func (m *Measurer) SetReflectors(reflectors []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reflectors = reflectors
}

// Measure runs one measurement cycle per spec §4.2: when medianOfThree is
// enabled and at least three reflectors are configured, the first three are
// pinged concurrently and the aggregate is the median of successes (or the
// lone success, or nil if all fail). Otherwise a single reflector is pinged
// once. Returns nil on total failure.
func (m *Measurer) Measure(ctx context.Context) *Sample {
	m.mu.RLock()
	reflectors := m.reflectors
	m.mu.RUnlock()

	targets := reflectors
	useMedian := m.medianOfThree && len(reflectors) >= 3
	if useMedian {
		targets = reflectors[:3]
	} else if len(targets) > 1 {
		targets = targets[:1]
	}

	results := make([]pingResult, len(targets))
	var wg sync.WaitGroup
	for i, host := range targets {
		wg.Add(1)
		go func(i int, host string) {
			defer wg.Done()
			rtt, err := m.pinger.Ping(ctx, host, m.timeout)
			results[i] = pingResult{host: host, rtt: rtt, err: err}
		}(i, host)
	}
	wg.Wait()

	perReflector := make(map[string]*float64, len(targets))
	var ok []pingResult
	for _, r := range results {
		if r.err != nil {
			perReflector[r.host] = nil
			continue
		}
		ms := float64(r.rtt) / float64(time.Millisecond)
		if math.IsNaN(ms) || math.IsInf(ms, 0) {
			perReflector[r.host] = nil
			continue
		}
		v := ms
		perReflector[r.host] = &v
		ok = append(ok, r)
	}

	if len(ok) == 0 {
		return nil
	}

	// Deterministic tie-break: sort by reflector host before computing the
	// median so the result is reproducible for identical RTTs (spec §4.2).
	sort.Slice(ok, func(i, j int) bool {
		if ok[i].rtt == ok[j].rtt {
			return ok[i].host < ok[j].host
		}
		return ok[i].rtt < ok[j].rtt
	})

	var aggMs float64
	if len(ok) == 1 {
		aggMs = float64(ok[0].rtt) / float64(time.Millisecond)
	} else {
		aggMs = medianOf(ok)
	}

	return &Sample{RTTMs: aggMs, SamplesUsed: len(ok), PerReflector: perReflector}
}

type pingResult struct {
	host string
	rtt  time.Duration
	err  error
}

func medianOf(ok []pingResult) float64 {
	n := len(ok)
	if n%2 == 1 {
		return float64(ok[n/2].rtt) / float64(time.Millisecond)
	}
	lo := float64(ok[n/2-1].rtt) / float64(time.Millisecond)
	hi := float64(ok[n/2].rtt) / float64(time.Millisecond)
	return (lo + hi) / 2
}
