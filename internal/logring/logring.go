// Package logring implements the bounded-history cache pattern the teacher
// uses for recentLogCache/currentProbeCache: entries are JSON-marshaled
// into a fastcache.Cache under a monotonically increasing sequence key, and
// a small in-memory queue of recent sequence numbers tracks eviction order
// so the cache never grows past maxEntries. Generalized here with a type
// parameter; the steering controller's transition history is its one user
// in this tree.
package logring

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/VictoriaMetrics/fastcache"
)

const defaultCacheBytes = 8 << 20 // 8MiB, generous for short-lived JSON log/transition entries

// Ring is a fastcache-backed bounded history of the most recent maxEntries
// values of T pushed to it, oldest evicted first.
type Ring[T any] struct {
	cache      *fastcache.Cache
	mu         sync.Mutex
	seqQueue   []uint64
	seq        uint64
	maxEntries int
}

// New builds a Ring holding at most maxEntries entries.
func New[T any](maxEntries int) *Ring[T] {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &Ring[T]{
		cache:      fastcache.New(defaultCacheBytes),
		maxEntries: maxEntries,
	}
}

// Push appends v, evicting the oldest entry once the ring is full.
func (r *Ring[T]) Push(v T) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}

	seq := atomic.AddUint64(&r.seq, 1)
	key := seqKey(seq)
	r.cache.Set(key, b)

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.seqQueue) >= r.maxEntries {
		evict := r.seqQueue[0]
		r.seqQueue = r.seqQueue[1:]
		r.cache.Del(seqKey(evict))
	}
	r.seqQueue = append(r.seqQueue, seq)
}

// Recent returns the currently-retained entries, oldest first. Entries
// that failed to unmarshal (should not happen in practice) are skipped.
func (r *Ring[T]) Recent() []T {
	r.mu.Lock()
	queue := make([]uint64, len(r.seqQueue))
	copy(queue, r.seqQueue)
	r.mu.Unlock()

	out := make([]T, 0, len(queue))
	for _, seq := range queue {
		raw := r.cache.Get(nil, seqKey(seq))
		if len(raw) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

func seqKey(seq uint64) []byte {
	return []byte{
		byte(seq >> 56), byte(seq >> 48), byte(seq >> 40), byte(seq >> 32),
		byte(seq >> 24), byte(seq >> 16), byte(seq >> 8), byte(seq),
	}
}
