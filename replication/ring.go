package replication

import (
	"sync"

	"github.com/nadb-org/nadb/rpcproto"
)

// Ring holds the last N broadcast operations for replica catch-up, per
// §4.8's "in-memory ring of the last N operations (default 10,000)".
type Ring struct {
	mu       sync.RWMutex
	buf      []rpcproto.Message
	capacity int
	oldest   uint64 // sequence of buf[0], valid only when len(buf) > 0
}

// DefaultRingCapacity is §4.8's default ring size.
const DefaultRingCapacity = 10000

// NewRing creates a Ring holding up to capacity operations. capacity <= 0
// uses DefaultRingCapacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Ring{capacity: capacity}
}

// Append adds msg to the ring, evicting the oldest entry if full.
func (r *Ring) Append(msg rpcproto.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) == 0 {
		r.oldest = msg.Sequence
	}
	r.buf = append(r.buf, msg)
	if len(r.buf) > r.capacity {
		r.buf = r.buf[1:]
		r.oldest++
	}
}

// Since returns every operation with sequence > fromSeq, in order. ok is
// false if fromSeq is older than the ring can replay (the oldest entry's
// sequence is more than one past fromSeq), in which case the caller must
// respond SYNC_OUT_OF_RANGE.
func (r *Ring) Since(fromSeq uint64) (ops []rpcproto.Message, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.buf) == 0 {
		return nil, true
	}
	if fromSeq+1 < r.oldest {
		return nil, false
	}
	startIdx := int(fromSeq + 1 - r.oldest)
	if startIdx < 0 {
		startIdx = 0
	}
	if startIdx >= len(r.buf) {
		return nil, true
	}
	out := make([]rpcproto.Message, len(r.buf)-startIdx)
	copy(out, r.buf[startIdx:])
	return out, true
}

// Latest returns the sequence of the most recently appended op, or 0 if empty.
func (r *Ring) Latest() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.buf) == 0 {
		return 0
	}
	return r.buf[len(r.buf)-1].Sequence
}
