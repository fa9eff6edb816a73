package store

import (
	"context"
	"time"

	nadb "github.com/nadb-org/nadb"
	"github.com/nadb-org/nadb/backend"
	"github.com/nadb-org/nadb/replication"
	"github.com/nadb-org/nadb/tagindex"
)

// ReplicationMode mirrors §6's replication.mode enum.
type ReplicationMode string

const (
	ReplicationNone      ReplicationMode = "none"
	ReplicationPrimary   ReplicationMode = "primary"
	ReplicationSecondary ReplicationMode = "secondary"
)

// CompressionThresholdBytes is §3's "compressed in transit to storage
// when size > 1 KiB".
const CompressionThresholdBytes = 1024

// Config constructs a Store, matching the teacher's DBOptions/ServerConfig
// plain-struct-constructor idiom (no file/env/flag loading here; see §1
// and §6 of the specification).
type Config struct {
	DB        string
	Namespace string

	Backend backend.Backend

	// Catalog is required unless Backend.Capabilities().SupportsMetadata.
	Catalog CatalogStore

	BufferHighWaterMarkBytes int64
	CompressionEnabled       bool

	EnableTransactions bool
	EnableIndexing     bool
	CacheSize          int
	CacheTTL           time.Duration

	ReplicationMode     ReplicationMode
	ReplicationPrimary  *replication.Primary
	ReplicationSecondary *replication.Secondary

	Index *tagindex.Index // shared across Store instances; created if nil
	Sink  nadb.EventSink
	Metrics *nadb.Metrics
}

// CatalogStore is the narrow surface Store needs from package catalog,
// named here (rather than imported as *catalog.Catalog) so a
// MetadataBackend-backed Store never needs one.
type CatalogStore interface {
	SetMetadata(ctx context.Context, rec backend.Record) error
	GetMetadata(ctx context.Context, db, namespace, key string) (backend.Record, bool, error)
	DeleteMetadata(ctx context.Context, db, namespace, key string) error
	QueryMetadata(ctx context.Context, q backend.MetadataQuery) ([]backend.Record, error)
	CleanupExpired(ctx context.Context, db, namespace string) ([]backend.Record, error)
}
