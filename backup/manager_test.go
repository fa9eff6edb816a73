package backup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nadb-org/nadb/backend"

	nadb "github.com/nadb-org/nadb"
)

// fakeArchive is a minimal in-memory backend.Backend used as the archive
// store in tests.
type fakeArchive struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newFakeArchive() *fakeArchive { return &fakeArchive{files: make(map[string][]byte)} }

func (f *fakeArchive) Capabilities() backend.Capabilities { return backend.Capabilities{} }

func (f *fakeArchive) WriteData(ctx context.Context, relativePath string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), data...)
	f.files[relativePath] = cp
	return nil
}

func (f *fakeArchive) ReadData(ctx context.Context, relativePath string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.files[relativePath]
	if !ok {
		return nil, nadb.NewError(nadb.CodeNotFound, "absent: %s", relativePath)
	}
	return d, nil
}

func (f *fakeArchive) DeleteFile(ctx context.Context, relativePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, relativePath)
	return nil
}

func (f *fakeArchive) FileExists(ctx context.Context, relativePath string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[relativePath]
	return ok, nil
}

func (f *fakeArchive) GetFileSize(ctx context.Context, relativePath string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.files[relativePath])), nil
}

func (f *fakeArchive) ListKeys(ctx context.Context, filter string) (backend.KeyCursor, error) {
	return nil, nadb.NewError(nadb.CodeUnsupported, "not implemented in fake")
}

func (f *fakeArchive) Close() error { return nil }

// fakeStore is a minimal in-memory backup.Store.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]backend.Record
	values  map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]backend.Record), values: make(map[string][]byte)}
}

func (s *fakeStore) put(db, namespace, key string, value []byte, tags []string, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := db + "\x00" + namespace + "\x00" + key
	s.values[k] = value
	s.records[k] = backend.Record{
		DB: db, Namespace: namespace, Key: key,
		Size: int64(len(value)), Tags: tags,
		CreatedAt: updatedAt, LastUpdated: updatedAt,
	}
}

func (s *fakeStore) ListKeys(ctx context.Context, db, namespace string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range s.records {
		if r.DB == db && r.Namespace == namespace {
			out = append(out, r.Key)
		}
	}
	return out, nil
}

func (s *fakeStore) ListKeysModifiedSince(ctx context.Context, db, namespace string, since time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range s.records {
		if r.DB == db && r.Namespace == namespace && r.LastUpdated.After(since) {
			out = append(out, r.Key)
		}
	}
	return out, nil
}

func (s *fakeStore) GetWithMetadata(ctx context.Context, db, namespace, key string) ([]byte, backend.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := db + "\x00" + namespace + "\x00" + key
	rec, ok := s.records[k]
	if !ok {
		return nil, backend.Record{}, false, nil
	}
	return s.values[k], rec, true, nil
}

func (s *fakeStore) Set(ctx context.Context, db, namespace, key string, value []byte, tags []string) error {
	s.put(db, namespace, key, value, tags, time.Now())
	return nil
}

func (s *fakeStore) SetWithTTL(ctx context.Context, db, namespace, key string, value []byte, ttlSeconds int64, tags []string) error {
	s.mu.Lock()
	k := db + "\x00" + namespace + "\x00" + key
	s.mu.Unlock()
	s.put(db, namespace, key, value, tags, time.Now())
	s.mu.Lock()
	rec := s.records[k]
	rec.TTLSeconds = &ttlSeconds
	s.records[k] = rec
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) DeleteAll(ctx context.Context, db, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, r := range s.records {
		if r.DB == db && r.Namespace == namespace {
			delete(s.records, k)
			delete(s.values, k)
		}
	}
	return nil
}

func (s *fakeStore) Flush(ctx context.Context) error { return nil }

func TestCreateFullBackupAndVerify(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.put("db1", "ns1", "k1", []byte("hello"), []string{"a"}, time.Now())
	st.put("db1", "ns1", "k2", []byte("world"), nil, time.Now())

	mgr, err := NewManager(ctx, st, newFakeArchive(), nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	header, err := mgr.CreateFullBackup(ctx, "db1", "ns1", "full1", true)
	if err != nil {
		t.Fatalf("CreateFullBackup: %v", err)
	}
	if header.FileCount != 2 {
		t.Fatalf("expected 2 files, got %d", header.FileCount)
	}

	ok, err := mgr.VerifyIntegrity(ctx, "full1")
	if err != nil || !ok {
		t.Fatalf("VerifyIntegrity = %v, %v", ok, err)
	}
}

func TestIncrementalBackupOnlyCapturesModifiedKeys(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.put("db1", "ns1", "k1", []byte("old"), nil, time.Now().Add(-time.Hour))

	mgr, _ := NewManager(ctx, st, newFakeArchive(), nil)
	full, err := mgr.CreateFullBackup(ctx, "db1", "ns1", "full1", false)
	if err != nil {
		t.Fatalf("CreateFullBackup: %v", err)
	}

	st.put("db1", "ns1", "k2", []byte("new"), nil, time.Now().Add(time.Hour))

	inc, err := mgr.CreateIncrementalBackup(ctx, full.BackupID, "inc1", false)
	if err != nil {
		t.Fatalf("CreateIncrementalBackup: %v", err)
	}
	if inc.FileCount != 1 {
		t.Fatalf("expected 1 modified key captured, got %d", inc.FileCount)
	}
}

func TestRestoreAppliesChainOldestFirst(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.put("db1", "ns1", "k1", []byte("v1"), nil, time.Now().Add(-2*time.Hour))

	mgr, _ := NewManager(ctx, st, newFakeArchive(), nil)
	full, _ := mgr.CreateFullBackup(ctx, "db1", "ns1", "full1", false)

	st.put("db1", "ns1", "k1", []byte("v2"), nil, time.Now())
	inc, _ := mgr.CreateIncrementalBackup(ctx, full.BackupID, "inc1", false)
	_ = inc

	// Simulate data loss, then restore.
	freshStore := newFakeStore()
	mgr2, _ := NewManager(ctx, freshStore, mgr.archive, nil)

	n, err := mgr2.Restore(ctx, "inc1", true, false)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 key restored, got %d", n)
	}
	value, _, found, _ := freshStore.GetWithMetadata(ctx, "db1", "ns1", "k1")
	if !found || string(value) != "v2" {
		t.Fatalf("expected k1 = v2 after restore, got %q found=%v", value, found)
	}
}

func TestVerifyIntegrityDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.put("db1", "ns1", "k1", []byte("hello"), nil, time.Now())

	arc := newFakeArchive()
	mgr, _ := NewManager(ctx, st, arc, nil)
	header, _ := mgr.CreateFullBackup(ctx, "db1", "ns1", "full1", false)

	raw, _ := arc.ReadData(ctx, archivePath(header.BackupID))
	tampered := append([]byte(nil), raw...)
	tampered[len(tampered)-2] ^= 0xFF
	_ = arc.WriteData(ctx, archivePath(header.BackupID), tampered)

	ok, err := mgr.VerifyIntegrity(ctx, "full1")
	if err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}
	if ok {
		t.Fatalf("expected corruption to be detected")
	}
}

func TestDeleteBackupRefusesWhenDependentsExist(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.put("db1", "ns1", "k1", []byte("v1"), nil, time.Now())

	mgr, _ := NewManager(ctx, st, newFakeArchive(), nil)
	full, _ := mgr.CreateFullBackup(ctx, "db1", "ns1", "full1", false)
	st.put("db1", "ns1", "k2", []byte("v2"), nil, time.Now().Add(time.Hour))
	_, _ = mgr.CreateIncrementalBackup(ctx, full.BackupID, "inc1", false)

	if err := mgr.DeleteBackup(ctx, full.BackupID, false); err == nil {
		t.Fatalf("expected delete to be refused")
	}
	if err := mgr.DeleteBackup(ctx, full.BackupID, true); err != nil {
		t.Fatalf("expected forced delete to succeed: %v", err)
	}
}

func TestCleanupOldBackupsKeepsRecentAndMinimumCount(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.put("db1", "ns1", "k1", []byte("v1"), nil, time.Now())

	mgr, _ := NewManager(ctx, st, newFakeArchive(), nil)
	for i := 0; i < 3; i++ {
		id := string(rune('a' + i))
		h, err := mgr.CreateFullBackup(ctx, "db1", "ns1", id, false)
		if err != nil {
			t.Fatalf("CreateFullBackup: %v", err)
		}
		h.Timestamp = time.Now().AddDate(0, 0, -100)
		mgr.mu.Lock()
		mgr.index[id] = h
		mgr.mu.Unlock()
	}

	deleted, err := mgr.CleanupOldBackups(ctx, 30, 1)
	if err != nil {
		t.Fatalf("CleanupOldBackups: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted (keeping 1 most recent), got %d", deleted)
	}
}
