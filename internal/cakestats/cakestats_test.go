package cakestats

import (
	"context"
	"errors"
	"testing"
)

type fakeSource struct {
	next map[string]*QueueStats
	err  map[string]error
}

func (f *fakeSource) GetQueueStats(ctx context.Context, queueName string) (*QueueStats, error) {
	if err, ok := f.err[queueName]; ok {
		return nil, err
	}
	return f.next[queueName], nil
}

func TestFirstReadEstablishesZeroDeltaBaseline(t *testing.T) {
	src := &fakeSource{next: map[string]*QueueStats{"q1": {Bytes: 1000, Packets: 10, Dropped: 2, QueuedPackets: 3}}}
	r := New(src)

	d, err := r.Read(context.Background(), "q1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.BytesDelta != 0 || d.PacketsDelta != 0 || d.DroppedDelta != 0 {
		t.Fatalf("expected zero deltas on first read, got %+v", d)
	}
	if d.Queued != 3 {
		t.Fatalf("expected raw queued value preserved, got %d", d.Queued)
	}
}

func TestSubsequentReadComputesDelta(t *testing.T) {
	src := &fakeSource{next: map[string]*QueueStats{"q1": {Bytes: 1000, Packets: 10, Dropped: 2}}}
	r := New(src)
	r.Read(context.Background(), "q1")

	src.next["q1"] = &QueueStats{Bytes: 1500, Packets: 15, Dropped: 4}
	d, err := r.Read(context.Background(), "q1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.BytesDelta != 500 || d.PacketsDelta != 5 || d.DroppedDelta != 2 {
		t.Fatalf("unexpected deltas: %+v", d)
	}
}

func TestCounterResetClampsToZeroThenResumes(t *testing.T) {
	src := &fakeSource{next: map[string]*QueueStats{"q1": {Bytes: 1000, Dropped: 50}}}
	r := New(src)
	r.Read(context.Background(), "q1")

	// Simulate a counter reset (e.g. interface reconfigured).
	src.next["q1"] = &QueueStats{Bytes: 10, Dropped: 1}
	d, err := r.Read(context.Background(), "q1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.BytesDelta != 0 || d.DroppedDelta != 0 {
		t.Fatalf("expected zero delta on reset cycle, got %+v", d)
	}

	// Next cycle resumes normal diffing against the post-reset baseline.
	src.next["q1"] = &QueueStats{Bytes: 40, Dropped: 3}
	d2, err := r.Read(context.Background(), "q1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d2.BytesDelta != 30 || d2.DroppedDelta != 2 {
		t.Fatalf("expected delta to resume after reset, got %+v", d2)
	}
}

func TestReadFailureDoesNotCorruptCache(t *testing.T) {
	src := &fakeSource{next: map[string]*QueueStats{"q1": {Bytes: 1000}}, err: map[string]error{}}
	r := New(src)
	r.Read(context.Background(), "q1")

	src.err["q1"] = errors.New("tc failed")
	if _, err := r.Read(context.Background(), "q1"); err == nil {
		t.Fatalf("expected error to propagate")
	}

	delete(src.err, "q1")
	src.next["q1"] = &QueueStats{Bytes: 1200}
	d, err := r.Read(context.Background(), "q1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.BytesDelta != 200 {
		t.Fatalf("expected delta computed against pre-failure baseline, got %+v", d)
	}
}
