package synchronizer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	nadb "github.com/nadb-org/nadb"
)

const (
	// DefaultFlushInterval is how often every registered store's buffer
	// is flushed, per §4.7.
	DefaultFlushInterval = 10 * time.Second
	// DefaultTTLInterval is how often a TTL sweep runs across registered
	// stores, per §4.7.
	DefaultTTLInterval = 60 * time.Second
	// stopJoinTimeout bounds how long Stop waits for the worker to exit.
	stopJoinTimeout = 5 * time.Second
)

// Options configures a Synchronizer.
type Options struct {
	FlushInterval time.Duration
	TTLInterval   time.Duration
	Sink          nadb.EventSink
}

// Synchronizer owns one background worker that periodically flushes and
// TTL-sweeps every registered Store, per §4.7.
type Synchronizer struct {
	flushInterval time.Duration
	ttlInterval   time.Duration
	sink          nadb.EventSink

	mu      sync.RWMutex
	stores  []Store

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a Synchronizer. It does not start the background worker;
// call Start explicitly.
func New(opts Options) *Synchronizer {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.TTLInterval <= 0 {
		opts.TTLInterval = DefaultTTLInterval
	}
	if opts.Sink == nil {
		opts.Sink = nadb.NoopEventSink()
	}
	return &Synchronizer{
		flushInterval: opts.FlushInterval,
		ttlInterval:   opts.TTLInterval,
		sink:          opts.Sink,
	}
}

// Register adds a store to the synchronizer's worklist. Safe to call
// before or after Start.
func (s *Synchronizer) Register(store Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stores = append(s.stores, store)
}

// Unregister removes a store previously passed to Register.
func (s *Synchronizer) Unregister(store Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, st := range s.stores {
		if st == store {
			s.stores = append(s.stores[:i], s.stores[i+1:]...)
			return
		}
	}
}

// Start launches the background worker. Idempotent: calling Start on an
// already-running Synchronizer does nothing.
func (s *Synchronizer) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run()
}

// Stop signals the worker to exit, performs one final flush and sweep,
// and waits (bounded) for the worker goroutine to join.
func (s *Synchronizer) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.stopCh)

	select {
	case <-s.doneCh:
	case <-time.After(stopJoinTimeout):
		s.sink.Warningf("synchronizer", "worker did not exit within %s", stopJoinTimeout)
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopJoinTimeout)
	defer cancel()
	s.flushAll(ctx)
	s.sweepAll(ctx)
}

func (s *Synchronizer) run() {
	defer close(s.doneCh)

	flushTicker := time.NewTicker(s.flushInterval)
	defer flushTicker.Stop()
	lastSweep := time.Now()

	for {
		select {
		case <-s.stopCh:
			return
		case <-flushTicker.C:
			ctx := context.Background()
			s.flushAll(ctx)
			if time.Since(lastSweep) >= s.ttlInterval {
				s.sweepAll(ctx)
				lastSweep = time.Now()
			}
		}
	}
}

func (s *Synchronizer) snapshotStores() []Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Store, len(s.stores))
	copy(out, s.stores)
	return out
}

func (s *Synchronizer) flushAll(ctx context.Context) {
	for _, store := range s.snapshotStores() {
		if err := store.FlushIfReady(ctx); err != nil {
			s.sink.Warningf("synchronizer", "flush failed for store %q: %v", store.Name(), err)
		}
	}
}

func (s *Synchronizer) sweepAll(ctx context.Context) {
	total := 0
	for _, store := range s.snapshotStores() {
		removed, err := store.SweepExpired(ctx)
		if err != nil {
			s.sink.Warningf("synchronizer", "ttl sweep failed for store %q: %v", store.Name(), err)
			continue
		}
		total += len(removed)
	}
	s.sink.Infof("synchronizer", "ttl sweep removed %d expired records", total)
}
