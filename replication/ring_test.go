package replication

import (
	"testing"

	"github.com/nadb-org/nadb/rpcproto"
)

func TestRingSinceReturnsOpsAfterSequence(t *testing.T) {
	r := NewRing(10)
	for i := uint64(1); i <= 5; i++ {
		r.Append(rpcproto.Message{Type: rpcproto.MsgReplSet, Sequence: i})
	}

	ops, ok := r.Since(2)
	if !ok {
		t.Fatalf("expected in range")
	}
	if len(ops) != 3 || ops[0].Sequence != 3 {
		t.Fatalf("unexpected ops: %+v", ops)
	}
}

func TestRingEvictsOldestWhenFull(t *testing.T) {
	r := NewRing(3)
	for i := uint64(1); i <= 5; i++ {
		r.Append(rpcproto.Message{Type: rpcproto.MsgReplSet, Sequence: i})
	}

	_, ok := r.Since(1)
	if ok {
		t.Fatalf("expected out of range after eviction")
	}

	ops, ok := r.Since(2)
	if !ok || len(ops) != 3 {
		t.Fatalf("expected 3 ops since 2, got %+v ok=%v", ops, ok)
	}
}

func TestRingSinceEmptyRing(t *testing.T) {
	r := NewRing(10)
	ops, ok := r.Since(0)
	if !ok || len(ops) != 0 {
		t.Fatalf("expected empty in-range result, got %+v ok=%v", ops, ok)
	}
}

func TestRingLatest(t *testing.T) {
	r := NewRing(10)
	if r.Latest() != 0 {
		t.Fatalf("expected 0 latest for empty ring")
	}
	r.Append(rpcproto.Message{Sequence: 7})
	if r.Latest() != 7 {
		t.Fatalf("expected latest 7, got %d", r.Latest())
	}
}
