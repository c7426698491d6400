// Package baseline implements the baseline loader of spec §4.4: it reads
// the primary autorate's persisted baseline RTT and bounds-checks it
// before the steering controller is allowed to use it. This validation is
// security-relevant (spec §4.4, §9): even with a relaxed configuration, a
// compile-time absolute ceiling always applies, so a compromised or buggy
// autorate cannot persist a baseline large enough to disable steering
// permanently.
package baseline

import (
	"github.com/galpt/cake-autorate-ctl/internal/config"
	"github.com/galpt/cake-autorate-ctl/internal/staterecords"
	"github.com/galpt/cake-autorate-ctl/internal/statestore"
)

// Bounds is the configured acceptance window for a baseline RTT, clamped
// by the compile-time absolute ceiling regardless of what the config says.
type Bounds struct {
	MinMs float64
	MaxMs float64
}

// EffectiveMaxMs returns the tighter of the configured max and the
// compile-time absolute ceiling.
func (b Bounds) EffectiveMaxMs() float64 {
	if b.MaxMs > config.AbsoluteBaselineCeilingMs {
		return config.AbsoluteBaselineCeilingMs
	}
	return b.MaxMs
}

// Load reads the persisted autorate record at primaryStatePath, extracts
// baseline_rtt_ms, and validates it against bounds. Out-of-range or
// unparseable values return (0, false) — cold/unavailable, never an error
// the steering loop must propagate as a failure (spec §4.4, §4.9 step 1).
func Load(primaryStatePath string, bounds Bounds) (float64, bool) {
	var rec staterecords.AutorateRecord
	ok, err := statestore.LoadVersioned(primaryStatePath, wrapVersioned(&rec), staterecords.SchemaVersion)
	if err != nil || !ok {
		return 0, false
	}
	v := rec.BaselineRTTMs
	if v <= 0 {
		return 0, false
	}
	if v < bounds.MinMs || v > bounds.EffectiveMaxMs() {
		return 0, false
	}
	return v, true
}

// wrapVersioned adapts a pointer to AutorateRecord so statestore can both
// unmarshal into it and query SchemaVersion afterward, since json.Unmarshal
// needs the concrete pointer but Versioned is implemented on the value.
func wrapVersioned(rec *staterecords.AutorateRecord) *versionedAutorate {
	return &versionedAutorate{rec}
}

type versionedAutorate struct {
	*staterecords.AutorateRecord
}

func (v *versionedAutorate) SchemaVersion() int { return v.AutorateRecord.SchemaVersionField }
