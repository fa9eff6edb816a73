package store

import (
	"context"
	"time"

	nadb "github.com/nadb-org/nadb"
	"github.com/nadb-org/nadb/backend"
)

// BackupAdapter implements backup.Store over a single Store instance,
// scoped to that store's own (db, namespace); it rejects any call for a
// different pair rather than silently operating cross-scope. One
// BackupAdapter pairs 1:1 with the Store whose backups it manages, even
// though backup.Store's interface takes db/namespace explicitly (so the
// same interface could, in principle, front a catalog-wide manager).
type BackupAdapter struct {
	s *Store
}

// NewBackupAdapter wraps s for use as a backup.Manager's Store.
func NewBackupAdapter(s *Store) *BackupAdapter {
	return &BackupAdapter{s: s}
}

func (a *BackupAdapter) checkScope(db, namespace string) error {
	if db != a.s.db || namespace != a.s.namespace {
		return nadb.NewError(nadb.CodeInvalidArgument, "backup adapter is scoped to %s/%s, not %s/%s", a.s.db, a.s.namespace, db, namespace)
	}
	return nil
}

// ListKeys returns every key in (db, namespace).
func (a *BackupAdapter) ListKeys(ctx context.Context, db, namespace string) ([]string, error) {
	if err := a.checkScope(db, namespace); err != nil {
		return nil, err
	}
	recs, err := a.s.queryAll(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(recs))
	for i, rec := range recs {
		keys[i] = rec.Key
	}
	return keys, nil
}

// ListKeysModifiedSince returns every key whose last_updated is after since.
func (a *BackupAdapter) ListKeysModifiedSince(ctx context.Context, db, namespace string, since time.Time) ([]string, error) {
	if err := a.checkScope(db, namespace); err != nil {
		return nil, err
	}
	recs, err := a.s.queryAll(ctx)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, rec := range recs {
		if rec.LastUpdated.After(since) {
			keys = append(keys, rec.Key)
		}
	}
	return keys, nil
}

// GetWithMetadata returns key's value and record.
func (a *BackupAdapter) GetWithMetadata(ctx context.Context, db, namespace, key string) ([]byte, backend.Record, bool, error) {
	if err := a.checkScope(db, namespace); err != nil {
		return nil, backend.Record{}, false, err
	}
	value, rec, err := a.s.GetWithMetadata(ctx, key)
	if nadb.IsCode(err, nadb.CodeNotFound) {
		return nil, backend.Record{}, false, nil
	}
	if err != nil {
		return nil, backend.Record{}, false, err
	}
	return value, rec, true, nil
}

// Set restores key verbatim, bypassing the replication read-only gate
// since restoring a backup is an administrative operation.
func (a *BackupAdapter) Set(ctx context.Context, db, namespace, key string, value []byte, tags []string) error {
	if err := a.checkScope(db, namespace); err != nil {
		return err
	}
	return a.s.writeLocked(ctx, key, value, tags, nil)
}

// SetWithTTL restores key with its original ttl.
func (a *BackupAdapter) SetWithTTL(ctx context.Context, db, namespace, key string, value []byte, ttlSeconds int64, tags []string) error {
	if err := a.checkScope(db, namespace); err != nil {
		return err
	}
	return a.s.writeLocked(ctx, key, value, tags, &ttlSeconds)
}

// DeleteAll removes every key in (db, namespace), used by Restore's
// clear_existing option.
func (a *BackupAdapter) DeleteAll(ctx context.Context, db, namespace string) error {
	if err := a.checkScope(db, namespace); err != nil {
		return err
	}
	return a.s.FlushDB(ctx)
}

// Flush ensures every buffered write has reached durable storage.
func (a *BackupAdapter) Flush(ctx context.Context) error {
	return a.s.Flush(ctx)
}
