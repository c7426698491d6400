package steering

import (
	"testing"

	"github.com/galpt/cake-autorate-ctl/internal/config"
)

func testThresholds() config.AssessorThresholds {
	return config.AssessorThresholds{
		GreenRTTMs: 20, YellowRTTMs: 50, RedRTTMs: 90,
		MinDropsRed: 5, MinQueueYellow: 40, MinQueueRed: 60,
	}
}

// Property 7: no drops and queued < min_queue_red never yields RED.
func TestNoDropsNeverRed(t *testing.T) {
	th := testThresholds()
	for _, rttDelta := range []float64{0, 50, 90, 200} {
		for _, queued := range []float64{0, 10, 59} {
			if got := Assess(rttDelta, 0, queued, th); got == Red {
				t.Fatalf("rttDelta=%v queued=%v: unexpected RED with zero drops and queued<min_queue_red", rttDelta, queued)
			}
		}
	}
}

func TestMultiSignalRedRequiresAllThree(t *testing.T) {
	th := testThresholds()
	if got := Assess(95, 12, 72, th); got != Red {
		t.Fatalf("expected RED when all three signals agree, got %v", got)
	}
	if got := Assess(95, 0, 72, th); got == Red {
		t.Fatalf("expected non-RED when drops=0 despite high rtt/queue, got %v", got)
	}
	if got := Assess(95, 12, 10, th); got == Red {
		t.Fatalf("expected non-RED when queued below min_queue_red, got %v", got)
	}
}

func TestYellowIsAdvisoryNotRed(t *testing.T) {
	th := testThresholds()
	if got := Assess(60, 0, 0, th); got != Yellow {
		t.Fatalf("expected YELLOW purely from elevated rtt delta, got %v", got)
	}
	if got := Assess(0, 0, 45, th); got != Yellow {
		t.Fatalf("expected YELLOW purely from elevated queue, got %v", got)
	}
}

func TestGreenBelowAllThresholds(t *testing.T) {
	th := testThresholds()
	if got := Assess(10, 0, 0, th); got != Green {
		t.Fatalf("expected GREEN, got %v", got)
	}
}
