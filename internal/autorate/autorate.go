// Package autorate implements the autorate control loop of spec §4.7: one
// instance per WAN, driving the download and upload queue controllers from
// measured RTT and persisting its state atomically every cycle. It is
// grounded in the teacher's Service.runAdaptiveCycle loop shape (measure →
// decide → apply → persist), generalized from a single CPU-load signal to
// the dual-EWMA bufferbloat signal and the two-direction queue controller
// of this spec.
package autorate

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/galpt/cake-autorate-ctl/internal/cakestats"
	"github.com/galpt/cake-autorate-ctl/internal/clock"
	"github.com/galpt/cake-autorate-ctl/internal/config"
	"github.com/galpt/cake-autorate-ctl/internal/fallback"
	"github.com/galpt/cake-autorate-ctl/internal/obsmetrics"
	"github.com/galpt/cake-autorate-ctl/internal/queuectl"
	"github.com/galpt/cake-autorate-ctl/internal/ratelimit"
	"github.com/galpt/cake-autorate-ctl/internal/routerclient"
	"github.com/galpt/cake-autorate-ctl/internal/rttmeasure"
	"github.com/galpt/cake-autorate-ctl/internal/staterecords"
	"github.com/galpt/cake-autorate-ctl/internal/statestore"
)

// absoluteRTTCeilingMs is the EWMA numeric-safety clamp of spec §9: a
// single corrupt ping result must not be able to poison the baseline for
// hours.
const absoluteRTTCeilingMs = 1000.0

// Controller is one autorate instance (spec §4.7): one WAN, two directions.
type Controller struct {
	cfg      config.AutorateConfig
	clk      clock.Clock
	measurer *rttmeasure.Measurer
	fb       *fallback.Handler
	router   routerclient.Client
	stats    *cakestats.Reader
	statePath string
	log       zerolog.Logger
	metrics   *obsmetrics.Registry

	// mu guards every field below that the status surface also reads via
	// Snapshot; RunCycle runs on its own goroutine while statusweb polls
	// concurrently, the same split the teacher's Service/WebServer pair uses.
	mu sync.RWMutex

	dlCfg, ulCfg queuectl.Config
	limiter      *ratelimit.Limiter

	baselineRTTMs float64
	loadRTTMs     float64
	baselinePrimed bool

	dlState   queuectl.State
	ulState   queuectl.State
	dlRate    float64
	ulRate    float64
	dlStreaks queuectl.Streaks
	ulStreaks queuectl.Streaks

	lastAppliedDL, lastAppliedUL float64
	icmpUnavailableCycles        int
}

// New builds a Controller from configuration and its collaborators.
// seedBaselineMs is reported as the baseline and load RTT until the first
// successful measurement, which replaces both. No persisted state is read
// back here, and the last-applied rates start empty, so the first cycle
// writes its computed rates to the router.
func New(
	cfg config.AutorateConfig,
	clk clock.Clock,
	measurer *rttmeasure.Measurer,
	fb *fallback.Handler,
	router routerclient.Client,
	statePath string,
	seedBaselineMs float64,
	log zerolog.Logger,
) *Controller {
	dlCfg := directionToQueueCfg(cfg.Download, cfg.TargetBloatMs, cfg.WarnBloatMs, cfg.HardRedBloatMs, cfg.GreenStreakRequired)
	ulCfg := directionToQueueCfg(cfg.Upload, cfg.TargetBloatMs, cfg.WarnBloatMs, cfg.HardRedBloatMs, cfg.GreenStreakRequired)

	return &Controller{
		cfg:       cfg,
		clk:       clk,
		measurer:  measurer,
		fb:        fb,
		router:    router,
		stats:     cakestats.New(router),
		statePath: statePath,
		log:       log.With().Str("wan", cfg.WANName).Logger(),
		dlCfg:     dlCfg,
		ulCfg:     ulCfg,
		limiter:   ratelimit.New(clk, cfg.RateLimitMaxChanges, time.Duration(cfg.RateLimitWindowMs)*time.Millisecond),

		baselineRTTMs: seedBaselineMs,
		loadRTTMs:     seedBaselineMs,
		dlState:       queuectl.Green,
		ulState:       queuectl.Green,
		dlRate:        cfg.Download.Ceiling,
		ulRate:        cfg.Upload.Ceiling,
	}
}

// SetMetrics attaches a Prometheus registry; cmd/ wires this in after
// construction since not every caller (tests) needs metrics. Nil-safe: a
// Controller with no registry attached simply skips instrumentation.
func (c *Controller) SetMetrics(m *obsmetrics.Registry) {
	c.metrics = m
}

func directionToQueueCfg(d config.DirectionConfig, target, warn, hardRed float64, greenStreakRequired int) queuectl.Config {
	return queuectl.Config{
		FloorRed: d.FloorRed, FloorSoftRed: d.FloorSoftRed, FloorYellow: d.FloorYellow, FloorGreen: d.FloorGreen,
		Ceiling: d.Ceiling, StepUp: d.StepUp, FactorDown: d.FactorDown,
		TargetMs: target, WarnMs: warn, HardRedMs: hardRed,
		GreenStreakRequired: greenStreakRequired,
		FourState:           d.FourState,
	}
}

// RunCycle executes exactly one cycle per spec §4.7 and returns success.
// State is always persisted on the way out, even on failure (spec §4.7
// ordering guarantee), so a crash between router write and persistence is
// recoverable.
func (c *Controller) RunCycle(ctx context.Context) (success bool) {
	cycleID := uuid.NewString()
	cycleLog := c.log.With().Str("cycle_id", cycleID).Logger()
	cycleStart := c.clk.Now()
	success = true

	defer func() {
		if perr := c.persist(); perr != nil {
			cycleLog.Error().Err(perr).Msg("persist state failed")
			success = false
		}
		if c.metrics != nil {
			c.metrics.CycleDurationSeconds.WithLabelValues("autorate").Observe(c.clk.Since(cycleStart).Seconds())
		}
	}()

	sample := c.measurer.Measure(ctx)
	var rttMs float64
	if sample == nil {
		if c.metrics != nil {
			c.metrics.PingFailures.WithLabelValues(c.cfg.WANName, "all").Inc()
		}
		decision := c.fb.Resolve(ctx)
		c.mu.Lock()
		c.icmpUnavailableCycles = c.fb.ConsecutiveFallbackCycles()
		c.mu.Unlock()
		if decision.TotalLoss || !decision.ShouldContinue {
			// Safe default: no EWMA update, no rate change, no router write.
			if decision.CycleFailed {
				cycleLog.Warn().Msg("measurement unavailable, fallback exhausted")
				return false
			}
			return true
		}
		if decision.RTTToUse == nil {
			// freeze: no EWMA update this cycle, but not a failure.
			return true
		}
		rttMs = *decision.RTTToUse
	} else {
		rttMs = sample.RTTMs
		c.fb.ObserveSuccess(rttMs)
		c.mu.Lock()
		c.icmpUnavailableCycles = 0
		c.mu.Unlock()
	}

	if !c.updateEWMAs(rttMs) {
		// Non-finite input: treated as measurement failure, skip-and-freeze.
		return true
	}

	c.mu.Lock()
	delta := c.loadRTTMs - c.baselineRTTMs

	dlResult := queuectl.Step(c.dlState, c.dlRate, c.dlStreaks, delta, c.dlCfg)
	ulResult := queuectl.Step(c.ulState, c.ulRate, c.ulStreaks, delta, c.ulCfg)

	newDLRate, newULRate := dlResult.RateMbps, ulResult.RateMbps
	c.dlState, c.dlStreaks = dlResult.State, dlResult.Streaks
	c.ulState, c.ulStreaks = ulResult.State, ulResult.Streaks
	c.dlRate, c.ulRate = newDLRate, newULRate
	lastDL, lastUL := c.lastAppliedDL, c.lastAppliedUL
	c.mu.Unlock()

	if newDLRate == lastDL && newULRate == lastUL {
		// Flash-wear protection: identical to what's already applied.
		return success
	}

	if !c.limiter.CanChange() {
		if c.metrics != nil {
			c.metrics.RateLimitEvents.WithLabelValues(c.cfg.WANName).Inc()
		}
		return success
	}

	if err := c.router.SetRateLimits(ctx, c.cfg.DownloadQueueName, c.cfg.UploadQueueName, newDLRate, newULRate); err != nil {
		cycleLog.Error().Err(err).Msg("router rate-limit update failed")
		if c.metrics != nil {
			c.metrics.RouterUpdateFails.WithLabelValues(c.cfg.WANName, "set_rate_limits").Inc()
		}
		return false
	}
	c.limiter.RecordChange()
	cycleLog.Debug().Float64("dl_mbps", newDLRate).Float64("ul_mbps", newULRate).Msg("applied rate limits")
	if c.metrics != nil {
		c.metrics.RouterUpdates.WithLabelValues(c.cfg.WANName, "set_rate_limits").Inc()
		c.metrics.QueueRateMbps.WithLabelValues(c.cfg.WANName, "download").Set(newDLRate)
		c.metrics.QueueRateMbps.WithLabelValues(c.cfg.WANName, "upload").Set(newULRate)
	}

	c.mu.Lock()
	c.lastAppliedDL, c.lastAppliedUL = newDLRate, newULRate
	c.mu.Unlock()

	return success
}

// updateEWMAs applies Invariant E and the numeric-safety clamps of spec §9.
// Returns false if rttMs is non-finite (NaN/Inf), in which case the caller
// must treat the cycle as a measurement failure.
func (c *Controller) updateEWMAs(rttMs float64) bool {
	if math.IsNaN(rttMs) || math.IsInf(rttMs, 0) {
		return false
	}
	if rttMs > absoluteRTTCeilingMs {
		rttMs = absoluteRTTCeilingMs
	}
	if rttMs < 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.baselinePrimed {
		c.baselineRTTMs = rttMs
		c.loadRTTMs = rttMs
		c.baselinePrimed = true
		return true
	}

	c.loadRTTMs = (1-c.cfg.AlphaLoad)*c.loadRTTMs + c.cfg.AlphaLoad*rttMs
	if math.IsNaN(c.loadRTTMs) || math.IsInf(c.loadRTTMs, 0) {
		return false
	}
	if c.loadRTTMs > absoluteRTTCeilingMs {
		c.loadRTTMs = absoluteRTTCeilingMs
	}

	delta := c.loadRTTMs - c.baselineRTTMs
	// Invariant E: the baseline only tracks when the signal is close to
	// idle; sustained bufferbloat must never drag the baseline upward.
	if delta < c.cfg.BaselineUpdateThresholdMs {
		c.baselineRTTMs = (1-c.cfg.AlphaBaseline)*c.baselineRTTMs + c.cfg.AlphaBaseline*rttMs
		if c.baselineRTTMs > absoluteRTTCeilingMs {
			c.baselineRTTMs = absoluteRTTCeilingMs
		}
	}
	return true
}

func (c *Controller) persist() error {
	rec := c.Snapshot()
	if err := statestore.Save(c.statePath, rec); err != nil {
		return fmt.Errorf("autorate: persist state: %w", err)
	}
	return nil
}

// Status implements statusweb.Provider: the JSON body served at /status is
// exactly the persisted record the status surface would otherwise have to
// read back off disk.
func (c *Controller) Status() any { return c.Snapshot() }

// Snapshot exposes the controller's current state for the status surface
// without letting callers mutate it.
func (c *Controller) Snapshot() staterecords.AutorateRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return staterecords.AutorateRecord{
		SchemaVersionField: staterecords.SchemaVersion,
		WANName:            c.cfg.WANName,
		BaselineRTTMs:      c.baselineRTTMs,
		LoadRTTMs:          c.loadRTTMs,
		Download: staterecords.QueueState{
			State: c.dlState.String(), RateMbps: c.dlRate,
			GreenStreak: c.dlStreaks.Green, SoftRedStreak: c.dlStreaks.SoftRed, RedStreak: c.dlStreaks.Red,
		},
		Upload: staterecords.QueueState{
			State: c.ulState.String(), RateMbps: c.ulRate,
			GreenStreak: c.ulStreaks.Green, SoftRedStreak: c.ulStreaks.SoftRed, RedStreak: c.ulStreaks.Red,
		},
		LastApplied:           staterecords.LastApplied{DownloadMbps: c.lastAppliedDL, UploadMbps: c.lastAppliedUL},
		ICMPUnavailableCycles: c.icmpUnavailableCycles,
		Timestamp:             c.clk.Now(),
	}
}
