package tagindex

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultCacheTTL is the query-result cache lifetime per §4.4, applied when
// a QueryCache is constructed with ttl <= 0.
const DefaultCacheTTL = 5 * time.Minute

// cacheEntry is one cached query result, paged.
type cacheEntry struct {
	Keys      []string
	Total     int
	HasMore   bool
	ExpiresAt time.Time
}

func (e *cacheEntry) expired() bool { return time.Now().After(e.ExpiresAt) }

// CacheStats reports hit/miss/eviction counters for a QueryCache.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// QueryCache is an LRU cache of paged tag-query results keyed by a
// normalized query string, generalizing original_source/index_manager.py's
// LRUCache (an OrderedDict-based cache with hit/miss counters) onto
// hashicorp/golang-lru. Entries also carry a TTL, and every entry is
// indexed by the tags its query touched so a write affecting any of those
// tags can invalidate it without waiting for expiry.
type QueryCache struct {
	mu  sync.Mutex
	lru *lru.Cache
	ttl time.Duration

	// tagToCacheKeys lets InvalidateForTags evict every cached query
	// whose result could change because a key's tags changed.
	tagToCacheKeys map[string]map[string]struct{}

	hits      int64
	misses    int64
	evictions int64
}

// NewQueryCache creates a cache holding up to size entries. ttl <= 0 uses
// DefaultCacheTTL.
func NewQueryCache(size int, ttl time.Duration) (*QueryCache, error) {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	qc := &QueryCache{
		ttl:            ttl,
		tagToCacheKeys: make(map[string]map[string]struct{}),
	}
	c, err := lru.NewWithEvict(size, qc.onEvict)
	if err != nil {
		return nil, err
	}
	qc.lru = c
	return qc, nil
}

// onEvict is invoked by the underlying lru.Cache while qc.mu is held by the
// caller (every QueryCache method that touches qc.lru holds qc.mu).
func (qc *QueryCache) onEvict(key interface{}, value interface{}) {
	qc.evictions++
}

// Get returns the cached result for cacheKey if present and not expired.
func (qc *QueryCache) Get(cacheKey string) (keys []string, total int, hasMore bool, ok bool) {
	qc.mu.Lock()
	defer qc.mu.Unlock()

	v, found := qc.lru.Get(cacheKey)
	if !found {
		qc.misses++
		return nil, 0, false, false
	}
	entry := v.(*cacheEntry)
	if entry.expired() {
		qc.lru.Remove(cacheKey)
		qc.misses++
		return nil, 0, false, false
	}
	qc.hits++
	return entry.Keys, entry.Total, entry.HasMore, true
}

// Put stores a query result under cacheKey, indexed by the tags the query
// touched so a later write to any of those tags invalidates it.
func (qc *QueryCache) Put(cacheKey string, tags []string, keys []string, total int, hasMore bool) {
	qc.mu.Lock()
	defer qc.mu.Unlock()

	qc.lru.Add(cacheKey, &cacheEntry{
		Keys:      keys,
		Total:     total,
		HasMore:   hasMore,
		ExpiresAt: time.Now().Add(qc.ttl),
	})
	for _, tag := range tags {
		set, ok := qc.tagToCacheKeys[tag]
		if !ok {
			set = make(map[string]struct{})
			qc.tagToCacheKeys[tag] = set
		}
		set[cacheKey] = struct{}{}
	}
}

// InvalidateForTags evicts every cached entry whose query touched any of
// tags, called whenever a key bearing one of these tags is written or
// removed.
func (qc *QueryCache) InvalidateForTags(tags []string) {
	qc.mu.Lock()
	defer qc.mu.Unlock()

	seen := make(map[string]struct{})
	for _, tag := range tags {
		for cacheKey := range qc.tagToCacheKeys[tag] {
			if _, done := seen[cacheKey]; done {
				continue
			}
			seen[cacheKey] = struct{}{}
			qc.lru.Remove(cacheKey)
		}
		delete(qc.tagToCacheKeys, tag)
	}
}

// Purge clears the entire cache.
func (qc *QueryCache) Purge() {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	qc.lru.Purge()
	qc.tagToCacheKeys = make(map[string]map[string]struct{})
}

// Stats returns a snapshot of the cache's hit/miss/eviction counters.
func (qc *QueryCache) Stats() CacheStats {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	return CacheStats{
		Hits:      qc.hits,
		Misses:    qc.misses,
		Evictions: qc.evictions,
		Size:      qc.lru.Len(),
	}
}
