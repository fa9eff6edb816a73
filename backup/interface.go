package backup

import (
	"context"
	"time"

	"github.com/nadb-org/nadb/backend"
)

// Store is the narrow surface a Manager needs from the store facade.
type Store interface {
	// ListKeys returns every key currently stored in (db, namespace).
	ListKeys(ctx context.Context, db, namespace string) ([]string, error)
	// ListKeysModifiedSince returns every key whose last_updated is after since.
	ListKeysModifiedSince(ctx context.Context, db, namespace string, since time.Time) ([]string, error)
	// GetWithMetadata returns the value and metadata record for key, with
	// found == false if absent.
	GetWithMetadata(ctx context.Context, db, namespace, key string) ([]byte, backend.Record, bool, error)
	// Set writes key with value/tags, preserving the caller's intent to
	// restore a prior snapshot verbatim (no TTL is applied here; callers
	// that need TTL restored use SetWithTTL).
	Set(ctx context.Context, db, namespace, key string, value []byte, tags []string) error
	SetWithTTL(ctx context.Context, db, namespace, key string, value []byte, ttlSeconds int64, tags []string) error
	// DeleteAll removes every key in (db, namespace), used by
	// Restore's clear_existing option.
	DeleteAll(ctx context.Context, db, namespace string) error
	// Flush ensures every buffered write has reached durable storage.
	Flush(ctx context.Context) error
}
