package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nadb-org/nadb/backend"
	"github.com/nadb-org/nadb/rpcproto"

	nadb "github.com/nadb-org/nadb"
)

type fakeBackend struct {
	mu   sync.Mutex
	data map[string][]byte
	caps backend.Capabilities
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		data: make(map[string][]byte),
		caps: backend.Capabilities{
			SupportsBuffering: false,
			WriteStrategy:     backend.WriteImmediate,
		},
	}
}

func (b *fakeBackend) Capabilities() backend.Capabilities { return b.caps }

func (b *fakeBackend) WriteData(ctx context.Context, relativePath string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := append([]byte(nil), data...)
	b.data[relativePath] = cp
	return nil
}

func (b *fakeBackend) ReadData(ctx context.Context, relativePath string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.data[relativePath]
	if !ok {
		return nil, nadb.NewError(nadb.CodeNotFound, "no data at %q", relativePath)
	}
	return append([]byte(nil), d...), nil
}

func (b *fakeBackend) DeleteFile(ctx context.Context, relativePath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, relativePath)
	return nil
}

func (b *fakeBackend) FileExists(ctx context.Context, relativePath string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.data[relativePath]
	return ok, nil
}

func (b *fakeBackend) GetFileSize(ctx context.Context, relativePath string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.data[relativePath]
	if !ok {
		return 0, nadb.NewError(nadb.CodeNotFound, "no data at %q", relativePath)
	}
	return int64(len(d)), nil
}

func (b *fakeBackend) ListKeys(ctx context.Context, filter string) (backend.KeyCursor, error) {
	return nil, nadb.NewError(nadb.CodeUnsupported, "not used in these tests")
}

func (b *fakeBackend) Close() error { return nil }

type fakeCatalog struct {
	mu   sync.Mutex
	recs map[string]backend.Record
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{recs: make(map[string]backend.Record)}
}

func (c *fakeCatalog) key(db, ns, k string) string { return db + "\x00" + ns + "\x00" + k }

func (c *fakeCatalog) SetMetadata(ctx context.Context, rec backend.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs[c.key(rec.DB, rec.Namespace, rec.Key)] = rec
	return nil
}

func (c *fakeCatalog) GetMetadata(ctx context.Context, db, namespace, key string) (backend.Record, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.recs[c.key(db, namespace, key)]
	return rec, ok, nil
}

func (c *fakeCatalog) DeleteMetadata(ctx context.Context, db, namespace, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.recs, c.key(db, namespace, key))
	return nil
}

func (c *fakeCatalog) QueryMetadata(ctx context.Context, q backend.MetadataQuery) ([]backend.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []backend.Record
	for _, rec := range c.recs {
		if rec.DB == q.DB && rec.Namespace == q.Namespace {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (c *fakeCatalog) CleanupExpired(ctx context.Context, db, namespace string) ([]backend.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	var out []backend.Record
	for k, rec := range c.recs {
		if rec.DB == db && rec.Namespace == namespace && rec.Expired(now) {
			out = append(out, rec)
			delete(c.recs, k)
		}
	}
	return out, nil
}

func newTestStore(t *testing.T, opts ...func(*Config)) *Store {
	t.Helper()
	cfg := Config{
		DB:                 "db1",
		Namespace:          "ns1",
		Backend:            newFakeBackend(),
		Catalog:            newFakeCatalog(),
		EnableIndexing:     true,
		EnableTransactions: true,
		CacheSize:          64,
	}
	for _, o := range opts {
		o(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSetGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k1", []byte("hello"), []string{"a", "b"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, rec, err := s.GetWithMetadata(ctx, "k1")
	if err != nil {
		t.Fatalf("GetWithMetadata: %v", err)
	}
	if string(val) != "hello" {
		t.Fatalf("got %q", val)
	}
	if rec.Size != 5 {
		t.Fatalf("expected size 5, got %d", rec.Size)
	}
}

func TestGetMissingKeyIsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	if !nadb.IsCode(err, nadb.CodeNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestDeleteRemovesKeyAndTags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.Set(ctx, "k1", []byte("v"), []string{"x"})

	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "k1"); !nadb.IsCode(err, nadb.CodeNotFound) {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
	tags, err := s.ListAllTags(ctx)
	if err != nil {
		t.Fatalf("ListAllTags: %v", err)
	}
	if _, ok := tags["x"]; ok {
		t.Fatalf("expected tag x removed, got %+v", tags)
	}
}

func TestSetWithTTLRejectsNonPositive(t *testing.T) {
	s := newTestStore(t)
	err := s.SetWithTTL(context.Background(), "k1", []byte("v"), 0, nil)
	if !nadb.IsCode(err, nadb.CodeInvalidArgument) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestQueryByTagsReturnsMatchingKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.Set(ctx, "k1", []byte("1"), []string{"red", "big"})
	_ = s.Set(ctx, "k2", []byte("2"), []string{"red"})
	_ = s.Set(ctx, "k3", []byte("3"), []string{"blue"})

	recs, err := s.QueryByTags(ctx, []string{"red"})
	if err != nil {
		t.Fatalf("QueryByTags: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 matches, got %d: %+v", len(recs), recs)
	}
}

func TestTransactionCommitAppliesAllWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx, err := s.Transaction(ctx)
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}
	if err := tx.Set(ctx, "k1", []byte("v1"), nil); err != nil {
		t.Fatalf("tx.Set: %v", err)
	}
	if err := tx.Set(ctx, "k2", []byte("v2"), nil); err != nil {
		t.Fatalf("tx.Set: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	v1, err := s.Get(ctx, "k1")
	if err != nil || string(v1) != "v1" {
		t.Fatalf("k1 = %q, %v", v1, err)
	}
	v2, err := s.Get(ctx, "k2")
	if err != nil || string(v2) != "v2" {
		t.Fatalf("k2 = %q, %v", v2, err)
	}
}

func TestTransactionRollbackAppliesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx, err := s.Transaction(ctx)
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}
	_ = tx.Set(ctx, "k1", []byte("v1"), nil)
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if _, err := s.Get(ctx, "k1"); !nadb.IsCode(err, nadb.CodeNotFound) {
		t.Fatalf("expected k1 absent after rollback, got %v", err)
	}
}

func TestSecondaryRejectsDirectWrites(t *testing.T) {
	s := newTestStore(t, func(c *Config) {
		c.ReplicationMode = ReplicationSecondary
	})
	err := s.Set(context.Background(), "k1", []byte("v"), nil)
	if !nadb.IsCode(err, nadb.CodeReadOnly) {
		t.Fatalf("expected ReadOnly, got %v", err)
	}
}

func TestSecondaryAcceptsApplierWrites(t *testing.T) {
	s := newTestStore(t, func(c *Config) {
		c.ReplicationMode = ReplicationSecondary
	})
	applier := s.Applier()
	msg := rpcproto.Message{Key: "k1", Value: []byte("v")}
	if err := applier.ApplySet(context.Background(), msg); err != nil {
		t.Fatalf("ApplySet: %v", err)
	}
	val, err := s.Get(context.Background(), "k1")
	if err != nil || string(val) != "v" {
		t.Fatalf("k1 = %q, %v", val, err)
	}
}

func TestFlushDBRemovesEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.Set(ctx, "k1", []byte("1"), nil)
	_ = s.Set(ctx, "k2", []byte("2"), nil)

	if err := s.FlushDB(ctx); err != nil {
		t.Fatalf("FlushDB: %v", err)
	}
	if _, err := s.Get(ctx, "k1"); !nadb.IsCode(err, nadb.CodeNotFound) {
		t.Fatalf("expected k1 gone")
	}
	if _, err := s.Get(ctx, "k2"); !nadb.IsCode(err, nadb.CodeNotFound) {
		t.Fatalf("expected k2 gone")
	}
}

func TestCompressionRoundTripsLargeValues(t *testing.T) {
	s := newTestStore(t, func(c *Config) {
		c.CompressionEnabled = true
	})
	ctx := context.Background()
	big := make([]byte, CompressionThresholdBytes*4)
	for i := range big {
		big[i] = byte(i % 251)
	}
	if err := s.Set(ctx, "k1", big, nil); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != len(big) {
		t.Fatalf("expected %d bytes, got %d", len(big), len(got))
	}
	for i := range got {
		if got[i] != big[i] {
			t.Fatalf("byte %d mismatch", i)
		}
	}
}
