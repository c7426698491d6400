// Package cakestats implements the CAKE stats reader of spec §4.3: it reads
// per-queue counters and computes cycle-over-cycle deltas, clamping at zero
// when counters roll or reset. The actual kernel read is delegated to a
// Source (normally the router client's GetQueueStats), the same
// read-then-diff split galpt-cake-stats uses between its tc-shelling
// parser and its ring-buffered HistoryStore.
package cakestats

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
)

// QueueStats is the minimal per-queue counter set spec §4.3 requires, plus
// the domain-stack extension (CakeTier) the status surface renders.
type QueueStats struct {
	Bytes         uint64
	Packets       uint64
	Dropped       uint64
	QueuedPackets uint64
	Tiers         []CakeTier
}

// CakeTier mirrors galpt-cake-stats's per-tier breakdown; carried for
// diagnostics only, never consumed by the congestion assessor.
type CakeTier struct {
	Name    string
	Pkts    uint64
	Bytes   uint64
	Drops   uint64
	Marks   uint64
	AvDelayMs float64
	PkDelayMs float64
}

// Deltas is the cycle-over-cycle result the reader returns in addition to
// the raw counters: cumulative fields are current-minus-previous, clamped
// at 0; QueuedPackets is the raw instantaneous value.
type Deltas struct {
	BytesDelta   uint64
	PacketsDelta uint64
	DroppedDelta uint64
	Queued       uint64
	Raw          QueueStats
}

// Source reads the current cumulative counters for a named queue. It
// returns (nil, err) on failure; Reader treats any error as a read failure
// without corrupting its cache (spec §4.3).
type Source interface {
	GetQueueStats(ctx context.Context, queueName string) (*QueueStats, error)
}

// baselineCacheBytes sizes the fastcache instance backing per-queue
// baselines. A handful of queues at 24 bytes each needs nowhere near this
// much, but fastcache enforces a minimum working-set size internally and
// this mirrors the teacher's own sizing for its probe/log caches.
const baselineCacheBytes = 32 << 20

// Reader computes per-queue cycle deltas on top of a Source. Baselines are
// kept in a fastcache.Cache rather than a plain map, the same
// read-modify-write-by-key pattern the teacher uses for its probe and log
// caches, so a Reader with many distinct queue names over a long uptime
// doesn't grow an unbounded Go map.
type Reader struct {
	src Source

	mu        sync.Mutex
	baselines *fastcache.Cache
}

// New creates a Reader over src.
func New(src Source) *Reader {
	return &Reader{src: src, baselines: fastcache.New(baselineCacheBytes)}
}

// Read fetches the current counters for queueName and returns the deltas
// against the previous successful read. The first successful read for a
// queue establishes a baseline and returns zero deltas. On read failure,
// returns nil without touching the cached baseline.
func (r *Reader) Read(ctx context.Context, queueName string) (*Deltas, error) {
	cur, err := r.src.GetQueueStats(ctx, queueName)
	if err != nil || cur == nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := []byte(queueName)
	prevBytes := r.baselines.Get(nil, key)
	if prevBytes == nil {
		r.baselines.Set(key, encodeBaseline(cur.Bytes, cur.Packets, cur.Dropped))
		return &Deltas{Queued: cur.QueuedPackets, Raw: *cur}, nil
	}

	prevB, prevP, prevD := decodeBaseline(prevBytes)
	d := &Deltas{
		BytesDelta:   clampDelta(cur.Bytes, prevB),
		PacketsDelta: clampDelta(cur.Packets, prevP),
		DroppedDelta: clampDelta(cur.Dropped, prevD),
		Queued:       cur.QueuedPackets,
		Raw:          *cur,
	}
	r.baselines.Set(key, encodeBaseline(cur.Bytes, cur.Packets, cur.Dropped))
	return d, nil
}

func encodeBaseline(bytes, packets, dropped uint64) []byte {
	buf := make([]byte, 24)
	binary.BigEndian.PutUint64(buf[0:8], bytes)
	binary.BigEndian.PutUint64(buf[8:16], packets)
	binary.BigEndian.PutUint64(buf[16:24], dropped)
	return buf
}

func decodeBaseline(buf []byte) (bytes, packets, dropped uint64) {
	if len(buf) < 24 {
		return 0, 0, 0
	}
	return binary.BigEndian.Uint64(buf[0:8]), binary.BigEndian.Uint64(buf[8:16]), binary.BigEndian.Uint64(buf[16:24])
}

// clampDelta implements the reset policy of spec §4.3: if a counter rolls
// or resets, the delta for that cycle is zero rather than negative/huge.
func clampDelta(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}
