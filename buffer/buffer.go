package buffer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nadb-org/nadb/backend"

	nadb "github.com/nadb-org/nadb"
)

// Buffer stages writes in memory for a backend whose write strategy is
// buffered, flushing them to the backend once a high-water mark of bytes
// is crossed or Flush is called explicitly.
type Buffer struct {
	be  backend.Backend
	sink nadb.EventSink

	highWaterMarkBytes int64

	mu         sync.Mutex
	pending    map[string][]byte
	totalBytes int64

	flushing atomic.Bool
}

// New wraps be with a write buffer. highWaterMarkBytes <= 0 disables the
// automatic flush trigger; callers must call Flush themselves.
func New(be backend.Backend, highWaterMarkBytes int64, sink nadb.EventSink) *Buffer {
	if sink == nil {
		sink = nadb.NoopEventSink()
	}
	return &Buffer{
		be:                 be,
		sink:               sink,
		highWaterMarkBytes: highWaterMarkBytes,
		pending:            make(map[string][]byte),
	}
}

// Put stages data for relativePath, replacing any prior pending write for
// the same key. It returns immediately; a flush is only scheduled (never
// run inline) if the high-water mark is crossed.
func (b *Buffer) Put(relativePath string, data []byte) {
	b.mu.Lock()
	if old, ok := b.pending[relativePath]; ok {
		b.totalBytes -= int64(len(old))
	}
	b.pending[relativePath] = data
	b.totalBytes += int64(len(data))
	crossed := b.highWaterMarkBytes > 0 && b.totalBytes >= b.highWaterMarkBytes
	b.mu.Unlock()

	if crossed {
		b.scheduleFlush()
	}
}

// Get returns the buffered bytes for relativePath, short-circuiting a
// backend read, per §4.3 "reads consult the buffer before the backend".
func (b *Buffer) Get(relativePath string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.pending[relativePath]
	return data, ok
}

// Discard removes any pending write for relativePath without flushing it,
// used when a key is deleted before its buffered write ever reached disk.
func (b *Buffer) Discard(relativePath string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.pending[relativePath]; ok {
		b.totalBytes -= int64(len(old))
		delete(b.pending, relativePath)
	}
}

// PendingBytes reports the current buffered byte total.
func (b *Buffer) PendingBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalBytes
}

func (b *Buffer) scheduleFlush() {
	if !b.flushing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer b.flushing.Store(false)
		if err := b.Flush(context.Background()); err != nil {
			b.sink.Warningf("buffer", "scheduled flush failed: %v", err)
		}
	}()
}

// Flush atomically snapshots the buffer, clears it, then writes every
// entry through the backend. An entry whose write fails is re-inserted
// into the live buffer; remaining entries are still attempted. Flush
// blocks the caller until the snapshot is fully written, returning the
// first error encountered (if any).
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	snapshot := b.pending
	b.pending = make(map[string][]byte, len(snapshot)/2+1)
	b.totalBytes = 0
	b.mu.Unlock()

	var firstErr error
	failed := 0
	for path, data := range snapshot {
		if err := b.be.WriteData(ctx, path, data); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			b.mu.Lock()
			if _, stillPending := b.pending[path]; !stillPending {
				b.pending[path] = data
				b.totalBytes += int64(len(data))
			}
			b.mu.Unlock()
		}
	}

	if firstErr != nil {
		return nadb.WrapError(nadb.CodeOf(firstErr), firstErr, "flush: %d of %d entries failed", failed, len(snapshot))
	}
	return nil
}
