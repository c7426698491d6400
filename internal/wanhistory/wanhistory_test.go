package wanhistory

import (
	"testing"
	"time"
)

func TestRecordAndSnapshotOrdering(t *testing.T) {
	s := NewStore(3)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.Record("wan1", Sample{Timestamp: base.Add(time.Duration(i) * time.Second), RateMbps: float64(i)})
	}

	snap := s.Snapshot()
	got := snap["wan1"]
	if len(got) != 3 {
		t.Fatalf("expected ring capped at 3 samples, got %d", len(got))
	}
	// Oldest two samples (rate 0, 1) were evicted; remaining should be 2,3,4
	// in chronological order.
	want := []float64{2, 3, 4}
	for i, w := range want {
		if got[i].RateMbps != w {
			t.Fatalf("sample %d: expected rate %v, got %v", i, w, got[i].RateMbps)
		}
	}
}

func TestSnapshotIsolatesMultipleWANs(t *testing.T) {
	s := NewStore(5)
	s.Record("wan1", Sample{RateMbps: 100})
	s.Record("wan2", Sample{RateMbps: 200})

	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 wans, got %d", len(snap))
	}
	if snap["wan1"][0].RateMbps != 100 || snap["wan2"][0].RateMbps != 200 {
		t.Fatalf("unexpected snapshot contents: %+v", snap)
	}
}

func TestEmptyStoreSnapshotIsEmptyNotNil(t *testing.T) {
	s := NewStore(4)
	snap := s.Snapshot()
	if snap == nil {
		t.Fatalf("expected non-nil empty map")
	}
	if len(snap) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}
