package steering

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/galpt/cake-autorate-ctl/internal/cakestats"
	"github.com/galpt/cake-autorate-ctl/internal/clock"
	"github.com/galpt/cake-autorate-ctl/internal/config"
	"github.com/galpt/cake-autorate-ctl/internal/routerclient/fake"
	"github.com/galpt/cake-autorate-ctl/internal/rttmeasure"
	"github.com/galpt/cake-autorate-ctl/internal/staterecords"
	"github.com/galpt/cake-autorate-ctl/internal/statestore"
)

func writePrimaryBaseline(t *testing.T, dir string, ms float64) string {
	t.Helper()
	path := filepath.Join(dir, "autorate_wan1.json")
	rec := staterecords.AutorateRecord{SchemaVersionField: staterecords.SchemaVersion, BaselineRTTMs: ms, WANName: "wan1"}
	if err := statestore.Save(path, rec); err != nil {
		t.Fatalf("fixture write: %v", err)
	}
	return path
}

func testSteeringConfig(primaryStatePath string) config.SteeringConfig {
	return config.SteeringConfig{
		PrimaryWAN: "wan1", AlternateWAN: "wan2",
		MangleRuleComment:    "cake_steer_wan1",
		PrimaryDownloadQueue: "dl_wan1",
		PrimaryUploadQueue:   "ul_wan1",
		Thresholds: config.AssessorThresholds{
			GreenRTTMs: 20, YellowRTTMs: 50, RedRTTMs: 90,
			MinDropsRed: 5, MinQueueYellow: 40, MinQueueRed: 60,
		},
		RedSamplesRequired:   2,
		GreenSamplesRequired: 15,
		BaselineMinMs:        5,
		BaselineMaxMs:        200,
		AlphaRTTDelta:        1, // no smoothing lag, keeps the scenario deterministic
		AlphaQueue:           1,
		CycleIntervalMs:      250,
		PrimaryStatePath:     primaryStatePath,
		Reflectors:           []string{"r1"},
	}
}

type scriptedPinger struct {
	rtts []time.Duration
	i    int
}

func (p *scriptedPinger) Ping(ctx context.Context, host string, timeout time.Duration) (time.Duration, error) {
	v := p.rtts[p.i]
	if p.i < len(p.rtts)-1 {
		p.i++
	}
	return v, nil
}

// Scenario E: multi-signal RED triggers enable after hysteresis, then
// sustained GREEN triggers disable after the longer hysteresis window.
func TestScenarioESteeringHysteresis(t *testing.T) {
	dir := t.TempDir()
	// baseline=5ms so rtt=100ms -> delta=95 (>= red_rtt_ms=90).
	primaryPath := writePrimaryBaseline(t, dir, 5)
	cfg := testSteeringConfig(primaryPath)

	router := fake.New()
	router.QueueStats["dl_wan1"] = &cakestats.QueueStats{Dropped: 0, QueuedPackets: 72}
	router.QueueStats["ul_wan1"] = &cakestats.QueueStats{}

	pinger := &scriptedPinger{rtts: []time.Duration{100 * time.Millisecond}}
	measurer := rttmeasure.New(pinger, cfg.Reflectors, false, time.Second)
	statePath := filepath.Join(dir, "steering_wan1.json")
	ctrl := New(cfg, clock.Real(), measurer, router, statePath, zerolog.Nop())

	// Warm-up cycle: the CAKE stats reader's first read for each queue only
	// establishes its delta baseline (zero deltas), so it never itself
	// counts toward hysteresis either way.
	ctrl.RunCycle(context.Background())

	// Cycle 1 of the scenario: RED, red_count=1, no transition yet.
	router.QueueStats["dl_wan1"] = &cakestats.QueueStats{Dropped: 12, QueuedPackets: 72}
	ctrl.RunCycle(context.Background())
	if ctrl.State() != Good {
		t.Fatalf("expected still GOOD after 1 red sample, got %v", ctrl.State())
	}

	// Cycle 2: RED again, red_count=2 >= red_samples_required(2): transition.
	router.QueueStats["dl_wan1"] = &cakestats.QueueStats{Dropped: 24, QueuedPackets: 72}
	ctrl.RunCycle(context.Background())
	if ctrl.State() != Degraded {
		t.Fatalf("expected DEGRADED after red_samples_required reached, got %v", ctrl.State())
	}
	if router.EnableCalls != 1 {
		t.Fatalf("expected enable_rule called exactly once, got %d", router.EnableCalls)
	}

	// Now feed GREEN signals: no drops, empty queue, low rtt delta.
	router.QueueStats["dl_wan1"] = &cakestats.QueueStats{Dropped: 24, QueuedPackets: 0} // same cumulative drops -> delta 0
	router.QueueStats["ul_wan1"] = &cakestats.QueueStats{}
	pinger.rtts = []time.Duration{10 * time.Millisecond}

	for i := 0; i < 14; i++ {
		ctrl.RunCycle(context.Background())
		if ctrl.State() != Degraded {
			t.Fatalf("cycle %d: should not recover before green_samples_required, got %v", i, ctrl.State())
		}
	}
	ctrl.RunCycle(context.Background())
	if ctrl.State() != Good {
		t.Fatalf("expected GOOD after green_samples_required reached, got %v", ctrl.State())
	}
	if router.DisableCalls != 1 {
		t.Fatalf("expected disable_rule called exactly once, got %d", router.DisableCalls)
	}
}

// Property 6: hysteresis lower bounds must never be skipped.
func TestHysteresisNeverFiresEarly(t *testing.T) {
	dir := t.TempDir()
	primaryPath := writePrimaryBaseline(t, dir, 5)
	cfg := testSteeringConfig(primaryPath)
	cfg.RedSamplesRequired = 5

	router := fake.New()
	router.QueueStats["dl_wan1"] = &cakestats.QueueStats{Dropped: 1, QueuedPackets: 72}
	router.QueueStats["ul_wan1"] = &cakestats.QueueStats{}

	pinger := &scriptedPinger{rtts: []time.Duration{100 * time.Millisecond}}
	measurer := rttmeasure.New(pinger, cfg.Reflectors, false, time.Second)
	statePath := filepath.Join(dir, "steering_wan1.json")
	ctrl := New(cfg, clock.Real(), measurer, router, statePath, zerolog.Nop())

	for i := 0; i < 4; i++ {
		router.QueueStats["dl_wan1"] = &cakestats.QueueStats{Dropped: uint64(1 + i*6), QueuedPackets: 72}
		ctrl.RunCycle(context.Background())
		if router.EnableCalls != 0 {
			t.Fatalf("cycle %d: enable_rule fired before red_samples_required met", i)
		}
	}
}

func TestCakeReadFailureFallsBackToRTTOnly(t *testing.T) {
	dir := t.TempDir()
	primaryPath := writePrimaryBaseline(t, dir, 5)
	cfg := testSteeringConfig(primaryPath)
	cfg.Thresholds.YellowRTTMs = 50

	router := fake.New()
	router.QueueStatsErr = assertErr{}

	pinger := &scriptedPinger{rtts: []time.Duration{10 * time.Millisecond}}
	measurer := rttmeasure.New(pinger, cfg.Reflectors, false, time.Second)
	statePath := filepath.Join(dir, "steering_wan1.json")
	ctrl := New(cfg, clock.Real(), measurer, router, statePath, zerolog.Nop())

	if !ctrl.RunCycle(context.Background()) {
		t.Fatalf("expected cycle success despite CAKE read failure")
	}
	if ctrl.cakeReadFailures != 1 {
		t.Fatalf("expected cakeReadFailures incremented, got %d", ctrl.cakeReadFailures)
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "cake read failed" }
