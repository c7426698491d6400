// Package steering implements the congestion assessor (spec §4.8) and the
// hysteretic GOOD/DEGRADED state machine (spec §4.9) that drives mangle
// rule steering onto the alternate WAN.
package steering

import "github.com/galpt/cake-autorate-ctl/internal/config"

// Severity is the assessor's three-level output.
type Severity int

const (
	Green Severity = iota
	Yellow
	Red
)

func (s Severity) String() string {
	switch s {
	case Green:
		return "GREEN"
	case Yellow:
		return "YELLOW"
	case Red:
		return "RED"
	default:
		return "UNKNOWN"
	}
}

// Assess is the pure function of spec §4.8. RED requires multi-signal
// agreement so an ISP-only latency blip cannot alone trigger steering;
// YELLOW is advisory and never itself causes a transition. Ties on
// thresholds fall into the higher-severity branch (note this is the
// opposite tie-break convention from queuectl, which favors lower
// congestion — each component matches its own spec clause).
func Assess(rttDeltaEWMA, dropsDelta, queuedEWMA float64, th config.AssessorThresholds) Severity {
	if dropsDelta >= th.MinDropsRed && rttDeltaEWMA >= th.RedRTTMs && queuedEWMA >= th.MinQueueRed {
		return Red
	}
	if rttDeltaEWMA >= th.YellowRTTMs || queuedEWMA >= th.MinQueueYellow {
		return Yellow
	}
	return Green
}
