package buffer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nadb-org/nadb/backend"

	nadb "github.com/nadb-org/nadb"
)

type fakeBackend struct {
	mu       sync.Mutex
	written  map[string][]byte
	failPath string
}

func newFakeBackend() *fakeBackend { return &fakeBackend{written: make(map[string][]byte)} }

func (f *fakeBackend) Capabilities() backend.Capabilities { return backend.Capabilities{} }

func (f *fakeBackend) WriteData(ctx context.Context, relativePath string, data []byte) error {
	if relativePath == f.failPath {
		return nadb.NewError(nadb.CodeBackendIO, "simulated failure")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written[relativePath] = data
	return nil
}

func (f *fakeBackend) ReadData(ctx context.Context, relativePath string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.written[relativePath]
	if !ok {
		return nil, nadb.NewError(nadb.CodeNotFound, "absent")
	}
	return d, nil
}

func (f *fakeBackend) DeleteFile(ctx context.Context, relativePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.written, relativePath)
	return nil
}

func (f *fakeBackend) FileExists(ctx context.Context, relativePath string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.written[relativePath]
	return ok, nil
}

func (f *fakeBackend) GetFileSize(ctx context.Context, relativePath string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.written[relativePath])), nil
}

func (f *fakeBackend) ListKeys(ctx context.Context, filter string) (backend.KeyCursor, error) {
	return nil, nadb.NewError(nadb.CodeUnsupported, "not implemented in fake")
}

func (f *fakeBackend) Close() error { return nil }

func TestPutGetShortCircuitsBackend(t *testing.T) {
	be := newFakeBackend()
	b := New(be, 0, nil)

	b.Put("k1", []byte("hello"))
	data, ok := b.Get("k1")
	if !ok || string(data) != "hello" {
		t.Fatalf("expected buffered read, got %q %v", data, ok)
	}
	if _, exists := be.written["k1"]; exists {
		t.Fatalf("should not have reached backend before flush")
	}
}

func TestFlushWritesAndClearsBuffer(t *testing.T) {
	be := newFakeBackend()
	b := New(be, 0, nil)
	b.Put("k1", []byte("v1"))
	b.Put("k2", []byte("v2"))

	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if string(be.written["k1"]) != "v1" || string(be.written["k2"]) != "v2" {
		t.Fatalf("unexpected backend contents: %+v", be.written)
	}
	if b.PendingBytes() != 0 {
		t.Fatalf("expected buffer cleared, got %d pending bytes", b.PendingBytes())
	}
}

func TestFlushReinsertsFailedEntry(t *testing.T) {
	be := newFakeBackend()
	be.failPath = "bad"
	b := New(be, 0, nil)
	b.Put("good", []byte("ok"))
	b.Put("bad", []byte("boom"))

	err := b.Flush(context.Background())
	if err == nil {
		t.Fatalf("expected flush to report the failed entry")
	}
	if _, ok := be.written["good"]; !ok {
		t.Fatalf("expected the good entry to still be written")
	}
	data, ok := b.Get("bad")
	if !ok || string(data) != "boom" {
		t.Fatalf("expected failed entry reinserted into buffer, got %q %v", data, ok)
	}
}

func TestHighWaterMarkSchedulesFlush(t *testing.T) {
	be := newFakeBackend()
	b := New(be, 4, nil)
	b.Put("k1", []byte("12345"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := be.written["k1"]; ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected high-water-mark flush to have written k1 by now")
}

func TestDiscardRemovesPendingWrite(t *testing.T) {
	be := newFakeBackend()
	b := New(be, 0, nil)
	b.Put("k1", []byte("hello"))
	b.Discard("k1")

	if _, ok := b.Get("k1"); ok {
		t.Fatalf("expected discarded key to be absent from buffer")
	}
	if b.PendingBytes() != 0 {
		t.Fatalf("expected 0 pending bytes after discard, got %d", b.PendingBytes())
	}
}
