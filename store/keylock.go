package store

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// keyMutex is one entry in the lock registry: a per-key mutex plus a
// reference count so the registry can reclaim it once nothing is holding
// or waiting on it, per §5's "weak map... unreferenced entries are
// reclaimed to avoid unbounded growth".
type keyMutex struct {
	mu   sync.Mutex
	refs int
}

// keyLockRegistry hands out a serialized critical section per (db,
// namespace, key), backed by a lock-free map the way the teacher shards
// its own key space in lib/db/engines/maple (xsync.Map instead of a
// mutex-guarded Go map), since the registry map itself is touched far
// more often than any individual key's lock.
type keyLockRegistry struct {
	entries *xsync.MapOf[string, *keyMutex]
	mu      sync.Mutex // guards refcount bookkeeping/eviction only
}

func newKeyLockRegistry() *keyLockRegistry {
	return &keyLockRegistry{entries: xsync.NewMapOf[string, *keyMutex]()}
}

// lock acquires the mutex for compositeKey, creating it if absent, and
// returns an unlock function that releases it and reclaims the entry if
// it is now unreferenced.
func (r *keyLockRegistry) lock(compositeKey string) func() {
	r.mu.Lock()
	km, loaded := r.entries.Load(compositeKey)
	if !loaded {
		km = &keyMutex{}
		km, _ = r.entries.LoadOrStore(compositeKey, km)
	}
	km.refs++
	r.mu.Unlock()

	km.mu.Lock()

	return func() {
		km.mu.Unlock()
		r.mu.Lock()
		km.refs--
		if km.refs == 0 {
			r.entries.Delete(compositeKey)
		}
		r.mu.Unlock()
	}
}

// size reports how many keys currently have a live lock entry, for tests
// and Stats.
func (r *keyLockRegistry) size() int {
	return r.entries.Size()
}
