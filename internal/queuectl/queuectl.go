// Package queuectl implements the queue controller of spec §4.6: a state
// machine plus a pure rate calculator for one direction of one WAN. The
// 4-state vs 3-state distinction is a configuration fact, not a type
// hierarchy (spec §9) — SoftRed transitions are simply gated by whether the
// config enables the fourth state, and collapse onto Yellow when it
// doesn't.
package queuectl

import "fmt"

// State is one of the four congestion states a queue controller can be in.
// Three-state configurations never produce SoftRed; Step collapses it onto
// Yellow before the transition is applied.
type State int

const (
	Green State = iota
	Yellow
	SoftRed
	Red
)

func (s State) String() string {
	switch s {
	case Green:
		return "GREEN"
	case Yellow:
		return "YELLOW"
	case SoftRed:
		return "SOFT_RED"
	case Red:
		return "RED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// Config carries the per-direction thresholds and rates of spec §3/§4.6.
type Config struct {
	FloorRed, FloorSoftRed, FloorYellow, FloorGreen, Ceiling float64
	StepUp, FactorDown                                       float64
	TargetMs, WarnMs, HardRedMs                               float64
	GreenStreakRequired                                       int
	// FourState selects the {GREEN,YELLOW,SOFT_RED,RED} ladder. When
	// false, SoftRed transitions are collapsed onto Yellow.
	FourState bool
}

func (c Config) floorOf(s State) float64 {
	switch s {
	case Green:
		return c.FloorGreen
	case Yellow:
		return c.FloorYellow
	case SoftRed:
		if c.FourState {
			return c.FloorSoftRed
		}
		return c.FloorYellow
	case Red:
		return c.FloorRed
	default:
		return c.FloorRed
	}
}

func (c Config) ladder() []State {
	if c.FourState {
		return []State{Green, Yellow, SoftRed, Red}
	}
	return []State{Green, Yellow, Red}
}

func indexOf(ladder []State, s State) int {
	for i, v := range ladder {
		if v == s {
			return i
		}
	}
	return 0
}

// rawSeverity maps the bufferbloat delta to the 4-level severity implied by
// the configured thresholds, independent of the current state. Tie-breaks
// on exact threshold equality go to the lower-congestion branch (spec
// §4.6).
func rawSeverity(deltaMs float64, cfg Config) State {
	switch {
	case deltaMs <= cfg.TargetMs:
		return Green
	case deltaMs <= cfg.WarnMs:
		return Yellow
	case deltaMs <= cfg.HardRedMs:
		return SoftRed
	default:
		return Red
	}
}

// Streaks is the part of the queue controller's persisted state that
// carries across cycles.
type Streaks struct {
	Green   int
	SoftRed int
	Red     int
}

// Result is the output of one Step call: the new state, new rate, and
// updated streak counters (spec §4.6's "given (state, current_rate, delta,
// config), output is deterministic" purity contract).
type Result struct {
	State   State
	RateMbps float64
	Streaks Streaks
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Step computes one cycle of the queue controller state machine and rate
// calculator, per spec §4.6. Degradation is immediate: if the raw severity
// implied by delta is worse than the current state, the controller jumps
// straight there and every streak resets. Recovery is always sequential
// (RED→SOFT_RED→YELLOW→GREEN, or RED→YELLOW→GREEN in 3-state) and each step
// requires accumulating green_streak >= GreenStreakRequired consecutive
// cycles with delta <= target.
func Step(cur State, currentRateMbps float64, streaks Streaks, deltaMs float64, cfg Config) Result {
	ladder := cfg.ladder()
	curIdx := indexOf(ladder, cur)

	raw := rawSeverity(deltaMs, cfg)
	if !cfg.FourState && raw == SoftRed {
		raw = Yellow
	}
	rawIdx := indexOf(ladder, raw)

	next := cur
	rate := currentRateMbps
	greenStreak := streaks.Green

	switch {
	case rawIdx > curIdx:
		// Immediate degradation: no streak required to protect latency.
		next = ladder[rawIdx]
		greenStreak = 0
		rate = clampf(currentRateMbps*cfg.FactorDown, cfg.floorOf(next), cfg.Ceiling)

	case rawIdx == 0:
		// delta <= target: every cycle in this branch counts toward
		// recovery, whether already GREEN or stepping up from below.
		greenStreak++
		if greenStreak >= cfg.GreenStreakRequired {
			if curIdx > 0 {
				next = ladder[curIdx-1]
			} else {
				next = cur // already GREEN
			}
			greenStreak = 0
			rate = clampf(currentRateMbps+cfg.StepUp, cfg.floorOf(next), cfg.Ceiling)
		} else {
			next = cur
		}

	default:
		// 0 < rawIdx <= curIdx: still congested relative to target but not
		// worse than the current state. Hold position; the recovery clock
		// only starts once delta drops to/below target.
		next = cur
		greenStreak = 0
	}

	softRedStreak := 0
	if next == SoftRed {
		if cur == SoftRed {
			softRedStreak = streaks.SoftRed + 1
		} else {
			softRedStreak = 1
		}
	}
	redStreak := 0
	if next == Red {
		if cur == Red {
			redStreak = streaks.Red + 1
		} else {
			redStreak = 1
		}
	}

	rate = clampf(rate, cfg.floorOf(next), cfg.Ceiling)

	return Result{
		State:    next,
		RateMbps: rate,
		Streaks:  Streaks{Green: greenStreak, SoftRed: softRedStreak, Red: redStreak},
	}
}
