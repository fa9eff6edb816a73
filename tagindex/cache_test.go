package tagindex

import (
	"testing"
	"time"
)

func TestCachePutGet(t *testing.T) {
	qc, err := NewQueryCache(10, time.Minute)
	if err != nil {
		t.Fatalf("NewQueryCache: %v", err)
	}
	qc.Put("k1", []string{"red"}, []string{"a", "b"}, 2, false)

	keys, total, hasMore, ok := qc.Get("k1")
	if !ok || total != 2 || hasMore || len(keys) != 2 {
		t.Fatalf("unexpected Get result: keys=%v total=%d hasMore=%v ok=%v", keys, total, hasMore, ok)
	}

	stats := qc.Stats()
	if stats.Hits != 1 || stats.Misses != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestCacheMiss(t *testing.T) {
	qc, _ := NewQueryCache(10, time.Minute)
	if _, _, _, ok := qc.Get("missing"); ok {
		t.Fatalf("expected miss")
	}
	if qc.Stats().Misses != 1 {
		t.Fatalf("expected miss counted")
	}
}

func TestCacheExpiry(t *testing.T) {
	qc, _ := NewQueryCache(10, time.Millisecond)
	qc.Put("k1", []string{"red"}, []string{"a"}, 1, false)
	time.Sleep(5 * time.Millisecond)

	if _, _, _, ok := qc.Get("k1"); ok {
		t.Fatalf("expected expired entry to miss")
	}
}

func TestCacheInvalidateForTags(t *testing.T) {
	qc, _ := NewQueryCache(10, time.Minute)
	qc.Put("k1", []string{"red", "small"}, []string{"a"}, 1, false)
	qc.Put("k2", []string{"blue"}, []string{"b"}, 1, false)

	qc.InvalidateForTags([]string{"red"})

	if _, _, _, ok := qc.Get("k1"); ok {
		t.Fatalf("expected k1 entry invalidated")
	}
	if _, _, _, ok := qc.Get("k2"); !ok {
		t.Fatalf("expected k2 entry to remain cached")
	}
}

func TestCacheEvictionStat(t *testing.T) {
	qc, _ := NewQueryCache(1, time.Minute)
	qc.Put("k1", nil, []string{"a"}, 1, false)
	qc.Put("k2", nil, []string{"b"}, 1, false)

	if qc.Stats().Evictions != 1 {
		t.Fatalf("expected 1 eviction, got %+v", qc.Stats())
	}
}
