package backend

import (
	"context"
	"time"
)

// WriteStrategy describes whether a backend wants the store to stage
// writes in the in-memory write buffer before persisting them.
type WriteStrategy string

const (
	WriteBuffered  WriteStrategy = "buffered"
	WriteImmediate WriteStrategy = "immediate"
)

// Capabilities is published once per backend instance, at construction,
// and read by the store facade to decide how to route every operation.
// See §4.1 of the specification for the meaning of each field.
type Capabilities struct {
	SupportsBuffering      bool
	WriteStrategy          WriteStrategy
	SupportsNativeTTL      bool
	SupportsMetadata       bool
	SupportsNativeQueries  bool
	IsDistributed          bool
	SupportsCompression    bool
	MaxValueSizeBytes      *int64 // nil == unbounded
}

// Record is a metadata record. It is the one record type used both by
// package catalog and by backends holding their own metadata natively
// (e.g. backend/netkv).
type Record struct {
	Path          string
	DB            string
	Namespace     string
	Key           string
	Size          int64
	CreatedAt     time.Time
	LastUpdated   time.Time
	LastAccessed  time.Time
	TTLSeconds    *int64 // nil == no expiration
	Tags          []string
}

// Expired reports whether the record's TTL has elapsed as of now, per the
// expiration predicate in §3: now >= last_updated + ttl_seconds.
func (r Record) Expired(now time.Time) bool {
	if r.TTLSeconds == nil {
		return false
	}
	return !now.Before(r.LastUpdated.Add(time.Duration(*r.TTLSeconds) * time.Second))
}

// MetadataQuery describes a metadata-catalog / native-metadata-backend
// query, per §4.2. Tag matching is conjunctive (AND) across Tags.
type MetadataQuery struct {
	DB         string
	Namespace  string
	Tags       []string
	MinSize    *int64
	MaxSize    *int64
	HasTTL     *bool
	KeyPattern string // LIKE-style pattern; %/_ must already be escaped by the caller if literal
	Limit      int
	Offset     int
}

// Backend is the contract every storage backend implements (§4.1).
// Implementations must be safe for concurrent use by multiple goroutines.
type Backend interface {
	Capabilities() Capabilities

	// WriteData persists bytes at relativePath. Must be atomic (temp file +
	// rename, or a server-side atomic write).
	WriteData(ctx context.Context, relativePath string, data []byte) error
	// ReadData returns NotFound if relativePath doesn't exist.
	ReadData(ctx context.Context, relativePath string) ([]byte, error)
	// DeleteFile is idempotent: deleting an absent path is not an error.
	DeleteFile(ctx context.Context, relativePath string) error
	FileExists(ctx context.Context, relativePath string) (bool, error)
	// GetFileSize returns NotFound if relativePath doesn't exist.
	GetFileSize(ctx context.Context, relativePath string) (int64, error)

	// ListKeys returns a cursor for lazily iterating relative paths matching
	// filter. Implementations must not hold a global lock across the whole
	// scan.
	ListKeys(ctx context.Context, filter string) (KeyCursor, error)

	Close() error
}

// KeyCursor lazily iterates relative paths. Callers must call Close when
// done, even after exhausting Next.
type KeyCursor interface {
	// Next advances the cursor and reports whether a value is available.
	Next(ctx context.Context) bool
	// Path returns the current relative path; valid only after Next returns true.
	Path() string
	Err() error
	Close() error
}

// MetadataBackend is implemented by backends with Capabilities.SupportsMetadata
// == true (§4.1b). Such backends hold the metadata catalog themselves
// instead of delegating to package catalog.
type MetadataBackend interface {
	Backend

	SetMetadata(ctx context.Context, rec Record) error
	GetMetadata(ctx context.Context, db, namespace, key string) (Record, bool, error)
	DeleteMetadata(ctx context.Context, db, namespace, key string) error
	QueryMetadata(ctx context.Context, q MetadataQuery) ([]Record, error)
	// CleanupExpired deletes and returns every expired record (§4.1).
	CleanupExpired(ctx context.Context, db, namespace string) ([]Record, error)
}
