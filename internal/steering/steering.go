package steering

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/galpt/cake-autorate-ctl/internal/baseline"
	"github.com/galpt/cake-autorate-ctl/internal/cakestats"
	"github.com/galpt/cake-autorate-ctl/internal/clock"
	"github.com/galpt/cake-autorate-ctl/internal/config"
	"github.com/galpt/cake-autorate-ctl/internal/logring"
	"github.com/galpt/cake-autorate-ctl/internal/obsmetrics"
	"github.com/galpt/cake-autorate-ctl/internal/routerclient"
	"github.com/galpt/cake-autorate-ctl/internal/rttmeasure"
	"github.com/galpt/cake-autorate-ctl/internal/staterecords"
	"github.com/galpt/cake-autorate-ctl/internal/statestore"
)

// MetaState is the steering state machine's two states (spec §4.9).
type MetaState int

const (
	Good MetaState = iota
	Degraded
)

func (m MetaState) String() string {
	if m == Degraded {
		return "DEGRADED"
	}
	return "GOOD"
}

const transitionHistoryLimit = 20

// Controller is one steering instance for one primary/alternate WAN pair.
type Controller struct {
	cfg      config.SteeringConfig
	clk      clock.Clock
	measurer *rttmeasure.Measurer
	router   routerclient.Client
	stats    *cakestats.Reader
	statePath string
	log       zerolog.Logger
	metrics   *obsmetrics.Registry

	// mu guards every field below, read concurrently by statusweb via
	// Snapshot/State while RunCycle mutates on the control-loop goroutine.
	mu sync.RWMutex

	state     MetaState
	redCount  int
	goodCount int

	smoothedRTTDelta float64
	smoothedQueue    float64
	cakeReadFailures int

	// transitions is fastcache-backed (see internal/logring), the same
	// bounded-history pattern the teacher uses for recentLogCache: it has
	// its own internal locking, independent of mu above.
	transitions *logring.Ring[staterecords.Transition]

	lastKnownBaselineMs float64
}

func New(cfg config.SteeringConfig, clk clock.Clock, measurer *rttmeasure.Measurer, router routerclient.Client, statePath string, log zerolog.Logger) *Controller {
	return &Controller{
		cfg:         cfg,
		clk:         clk,
		measurer:    measurer,
		router:      router,
		stats:       cakestats.New(router),
		statePath:   statePath,
		log:         log.With().Str("primary_wan", cfg.PrimaryWAN).Logger(),
		state:       Good,
		transitions: logring.New[staterecords.Transition](transitionHistoryLimit),
	}
}

// SetMetrics attaches a Prometheus registry; nil-safe when unset.
func (c *Controller) SetMetrics(m *obsmetrics.Registry) {
	c.metrics = m
}

// RunCycle executes one steering cycle per spec §4.9 and returns success.
func (c *Controller) RunCycle(ctx context.Context) (success bool) {
	cycleID := uuid.NewString()
	cycleLog := c.log.With().Str("cycle_id", cycleID).Logger()
	cycleStart := c.clk.Now()

	success = true
	defer func() {
		if err := c.persist(); err != nil {
			cycleLog.Error().Err(err).Msg("persist state failed")
			success = false
		}
		if c.metrics != nil {
			c.metrics.CycleDurationSeconds.WithLabelValues("steering").Observe(c.clk.Since(cycleStart).Seconds())
		}
	}()

	baselineMs, ok := baseline.Load(c.cfg.PrimaryStatePath, baseline.Bounds{MinMs: c.cfg.BaselineMinMs, MaxMs: c.cfg.BaselineMaxMs})
	if !ok {
		// Not a failure unless persistent; the caller's runner tracks that.
		return success
	}
	c.mu.Lock()
	c.lastKnownBaselineMs = baselineMs
	c.mu.Unlock()

	sample := c.measurer.Measure(ctx)
	if sample == nil {
		return success
	}
	rttDelta := sample.RTTMs - baselineMs

	var dropsDelta, queued float64
	dlDeltas, dlErr := c.stats.Read(ctx, c.cfg.PrimaryDownloadQueue)
	ulDeltas, ulErr := c.stats.Read(ctx, c.cfg.PrimaryUploadQueue)

	c.mu.Lock()
	if dlErr != nil || ulErr != nil || dlDeltas == nil || ulDeltas == nil {
		c.cakeReadFailures++
		cycleLog.Warn().AnErr("dl_err", dlErr).AnErr("ul_err", ulErr).Msg("CAKE stats read failed, falling back to RTT-only assessment")
		// RTT-only assessment: drops and queue stay at their zero values.
	} else {
		c.cakeReadFailures = 0
		dropsDelta = float64(dlDeltas.DroppedDelta + ulDeltas.DroppedDelta)
		queued = float64(dlDeltas.Queued + ulDeltas.Queued)
	}

	c.smoothedRTTDelta = (1-c.cfg.AlphaRTTDelta)*c.smoothedRTTDelta + c.cfg.AlphaRTTDelta*rttDelta
	c.smoothedQueue = (1-c.cfg.AlphaQueue)*c.smoothedQueue + c.cfg.AlphaQueue*queued

	severity := Assess(c.smoothedRTTDelta, dropsDelta, c.smoothedQueue, c.cfg.Thresholds)

	// Invariant S: update hysteresis counters.
	switch severity {
	case Red:
		c.redCount++
		c.goodCount = 0
	case Green:
		c.goodCount++
		c.redCount = 0
	case Yellow:
		// Hold state: counters unchanged.
	}

	state, redCount, goodCount := c.state, c.redCount, c.goodCount
	c.mu.Unlock()

	switch {
	case state == Good && redCount >= c.cfg.RedSamplesRequired:
		if err := routerclient.ToggleAndVerify(ctx, c.router, c.cfg.MangleRuleComment, true); err == nil {
			c.recordTransition(Good, Degraded, "red_samples_required reached")
			c.mu.Lock()
			c.state = Degraded
			c.mu.Unlock()
			cycleLog.Warn().Msg("steered to alternate WAN: red samples threshold reached")
			if c.metrics != nil {
				c.metrics.SteeringTransitions.WithLabelValues("good", "degraded").Inc()
				c.metrics.RouterUpdates.WithLabelValues(c.cfg.PrimaryWAN, "enable_rule").Inc()
			}
		} else {
			cycleLog.Error().Err(err).Msg("failed to steer to alternate WAN")
			if c.metrics != nil {
				c.metrics.RouterUpdateFails.WithLabelValues(c.cfg.PrimaryWAN, "enable_rule").Inc()
			}
		}
		// Failure: do not advance, retain counters for a retry next cycle.

	case state == Degraded && goodCount >= c.cfg.GreenSamplesRequired:
		if err := routerclient.ToggleAndVerify(ctx, c.router, c.cfg.MangleRuleComment, false); err == nil {
			c.recordTransition(Degraded, Good, "green_samples_required reached")
			c.mu.Lock()
			c.state = Good
			c.mu.Unlock()
			cycleLog.Info().Msg("restored primary WAN: green samples threshold reached")
			if c.metrics != nil {
				c.metrics.SteeringTransitions.WithLabelValues("degraded", "good").Inc()
				c.metrics.RouterUpdates.WithLabelValues(c.cfg.PrimaryWAN, "disable_rule").Inc()
			}
		} else {
			cycleLog.Error().Err(err).Msg("failed to restore primary WAN")
			if c.metrics != nil {
				c.metrics.RouterUpdateFails.WithLabelValues(c.cfg.PrimaryWAN, "disable_rule").Inc()
			}
		}
	}

	return success
}

func (c *Controller) recordTransition(from, to MetaState, reason string) {
	c.transitions.Push(staterecords.Transition{
		From: from.String(), To: to.String(), Timestamp: c.clk.Now(), Reason: reason,
	})
}

func (c *Controller) persist() error {
	rec := c.Snapshot()
	if err := statestore.Save(c.statePath, rec); err != nil {
		return fmt.Errorf("steering: persist state: %w", err)
	}
	return nil
}

// Status implements statusweb.Provider.
func (c *Controller) Status() any { return c.Snapshot() }

// Snapshot exposes the controller's current state for the status surface
// without letting callers mutate it.
func (c *Controller) Snapshot() staterecords.SteeringRecord {
	transitions := c.transitions.Recent()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return staterecords.SteeringRecord{
		SchemaVersionField: staterecords.SchemaVersion,
		CurrentState:       c.state.String(),
		RedCount:           c.redCount,
		GoodCount:          c.goodCount,
		SmoothedRTTDelta:   c.smoothedRTTDelta,
		SmoothedQueue:      c.smoothedQueue,
		CakeReadFailures:   c.cakeReadFailures,
		Transitions:        transitions,
		Timestamp:          c.clk.Now(),
	}
}

// CakeDegradedWarning reports whether accumulated CAKE read failures have
// crossed the configured warning threshold (spec §4.9 step 3).
func (c *Controller) CakeDegradedWarning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.CakeFailureWarnThreshold > 0 && c.cakeReadFailures >= c.cfg.CakeFailureWarnThreshold
}

// State exposes the current meta-state for the status surface.
func (c *Controller) State() MetaState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}
