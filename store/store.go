package store

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"

	nadb "github.com/nadb-org/nadb"
	"github.com/nadb-org/nadb/backend"
	"github.com/nadb-org/nadb/buffer"
	"github.com/nadb-org/nadb/replication"
	"github.com/nadb-org/nadb/tagindex"
	"github.com/nadb-org/nadb/txn"
)

const maxKeyBytes = 1024

// rawFlagCompressed/rawFlagPlain prefix every blob Store hands to a
// backend, so Get can tell whether to gunzip it back without needing a
// schema change to backend.Record. Decompression is then transparent to
// every caller above Store, including backup.Manager (§3, §3.6 expansion).
const (
	rawFlagPlain      byte = 0
	rawFlagCompressed byte = 1
)

// Store is the Store Facade (§4.9): the public entry point for one
// (db, namespace) pair.
type Store struct {
	db        string
	namespace string

	be          backend.Backend
	metaBackend backend.MetadataBackend
	catalog     CatalogStore
	buf         bufferer

	index *tagindex.Index
	cache *tagindex.QueryCache
	engine *tagindex.Engine

	txnMgr *txn.Manager

	locks *keyLockRegistry

	replMode    ReplicationMode
	replPrimary *replication.Primary

	compressionEnabled bool

	sink    nadb.EventSink
	metrics *nadb.Metrics

	startedAt time.Time
}

// bufferer is the subset of *buffer.Buffer Store needs, named so tests
// can substitute a fake.
type bufferer interface {
	Put(relativePath string, data []byte)
	Get(relativePath string) ([]byte, bool)
	Discard(relativePath string)
	PendingBytes() int64
	Flush(ctx context.Context) error
}

// New constructs a Store per cfg. See Config's doc for field meaning.
func New(cfg Config) (*Store, error) {
	if cfg.Backend == nil {
		return nil, nadb.NewError(nadb.CodeInvalidArgument, "store: backend is required")
	}
	if cfg.DB == "" || cfg.Namespace == "" {
		return nil, nadb.NewError(nadb.CodeInvalidArgument, "store: db and namespace are required")
	}
	if cfg.Sink == nil {
		cfg.Sink = nadb.NoopEventSink()
	}

	caps := cfg.Backend.Capabilities()

	s := &Store{
		db:                 cfg.DB,
		namespace:          cfg.Namespace,
		be:                 cfg.Backend,
		compressionEnabled: cfg.CompressionEnabled,
		locks:              newKeyLockRegistry(),
		replMode:           cfg.ReplicationMode,
		replPrimary:        cfg.ReplicationPrimary,
		sink:               cfg.Sink,
		metrics:            cfg.Metrics,
		startedAt:          time.Now(),
	}

	if caps.SupportsMetadata {
		mb, ok := cfg.Backend.(backend.MetadataBackend)
		if !ok {
			return nil, nadb.NewError(nadb.CodeInvalidArgument, "store: backend claims SupportsMetadata but does not implement MetadataBackend")
		}
		s.metaBackend = mb
	} else {
		if cfg.Catalog == nil {
			return nil, nadb.NewError(nadb.CodeInvalidArgument, "store: backend has no native metadata; Config.Catalog is required")
		}
		s.catalog = cfg.Catalog
	}

	if caps.SupportsBuffering && caps.WriteStrategy == backend.WriteBuffered {
		s.buf = buffer.New(cfg.Backend, cfg.BufferHighWaterMarkBytes, cfg.Sink)
	}

	if cfg.EnableIndexing {
		s.index = cfg.Index
		if s.index == nil {
			s.index = tagindex.New()
		}
		cache, err := tagindex.NewQueryCache(cfg.CacheSize, cfg.CacheTTL)
		if err != nil {
			return nil, nadb.WrapError(nadb.CodeInternalError, err, "store: create query cache")
		}
		s.cache = cache
		s.engine = tagindex.NewEngine(s.index, s.cache)
	}

	if cfg.EnableTransactions {
		s.txnMgr = txn.NewManager(txnAdapter{s: s}, cfg.Sink)
	}

	return s, nil
}

func (s *Store) path(key string) string {
	return backend.DerivePath(s.db, s.namespace, key)
}

func validateKey(key string) error {
	if key == "" {
		return nadb.NewError(nadb.CodeInvalidArgument, "key must not be empty")
	}
	if len(key) > maxKeyBytes {
		return nadb.NewError(nadb.CodeInvalidArgument, "key of %d bytes exceeds max of %d", len(key), maxKeyBytes)
	}
	return nil
}

func (s *Store) compress(value []byte) []byte {
	if !s.compressionEnabled || len(value) <= CompressionThresholdBytes {
		return append([]byte{rawFlagPlain}, value...)
	}
	var buf bytes.Buffer
	buf.WriteByte(rawFlagCompressed)
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(value); err != nil {
		return append([]byte{rawFlagPlain}, value...)
	}
	if err := gw.Close(); err != nil {
		return append([]byte{rawFlagPlain}, value...)
	}
	return buf.Bytes()
}

func decompressRaw(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	flag, body := raw[0], raw[1:]
	if flag == rawFlagPlain {
		return body, nil
	}
	gr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, nadb.WrapError(nadb.CodeCorruption, err, "decompress stored value")
	}
	defer gr.Close()
	out, err := io.ReadAll(gr)
	if err != nil {
		return nil, nadb.WrapError(nadb.CodeCorruption, err, "read decompressed value")
	}
	return out, nil
}

func (s *Store) getMetadata(ctx context.Context, key string) (backend.Record, bool, error) {
	if s.metaBackend != nil {
		return s.metaBackend.GetMetadata(ctx, s.db, s.namespace, key)
	}
	return s.catalog.GetMetadata(ctx, s.db, s.namespace, key)
}

func (s *Store) setMetadata(ctx context.Context, rec backend.Record) error {
	if s.metaBackend != nil {
		return s.metaBackend.SetMetadata(ctx, rec)
	}
	return s.catalog.SetMetadata(ctx, rec)
}

func (s *Store) deleteMetadata(ctx context.Context, key string) error {
	if s.metaBackend != nil {
		return s.metaBackend.DeleteMetadata(ctx, s.db, s.namespace, key)
	}
	return s.catalog.DeleteMetadata(ctx, s.db, s.namespace, key)
}

func (s *Store) checkWritable() error {
	if s.replMode == ReplicationSecondary {
		return nadb.NewError(nadb.CodeReadOnly, "store is a replication secondary; writes must go through the primary")
	}
	return nil
}

// Set writes key with an optional tag set, per §4.9.
func (s *Store) Set(ctx context.Context, key string, value []byte, tags []string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	return s.writeLocked(ctx, key, value, tags, nil)
}

// SetWithTTL writes key with a ttl, per §4.9.
func (s *Store) SetWithTTL(ctx context.Context, key string, value []byte, ttlSeconds int64, tags []string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if ttlSeconds <= 0 {
		return nadb.NewError(nadb.CodeInvalidArgument, "ttl_seconds must be > 0")
	}
	return s.writeLocked(ctx, key, value, tags, &ttlSeconds)
}

func (s *Store) writeLocked(ctx context.Context, key string, value []byte, tags []string, ttlSeconds *int64) (err error) {
	defer nadb.Timed(s.sink, "store", "set")(&err)
	if err := validateKey(key); err != nil {
		return err
	}

	unlock := s.locks.lock(s.compositeKey(key))
	defer unlock()

	existing, found, err := s.getMetadata(ctx, key)
	if err != nil {
		return err
	}

	path := s.path(key)
	stored := s.compress(value)
	if s.buf != nil {
		s.buf.Put(path, stored)
	} else if err := s.be.WriteData(ctx, path, stored); err != nil {
		return err
	}

	now := time.Now()
	rec := backend.Record{
		Path: path, DB: s.db, Namespace: s.namespace, Key: key,
		Size:         int64(len(value)),
		LastUpdated:  now,
		LastAccessed: now,
		TTLSeconds:   ttlSeconds,
		Tags:         tags,
	}
	if found {
		rec.CreatedAt = existing.CreatedAt
	} else {
		rec.CreatedAt = now
	}
	if err := s.setMetadata(ctx, rec); err != nil {
		return err
	}

	if s.index != nil {
		s.index.AddKey(s.db, s.namespace, key, tags)
		if s.cache != nil {
			invalidate := tags
			if found {
				invalidate = append(append([]string(nil), existing.Tags...), tags...)
			}
			s.cache.InvalidateForTags(invalidate)
		}
	}

	if s.metrics != nil {
		s.metrics.OpsTotal.Inc()
		s.metrics.BytesWritten.Add(len(value))
	}

	if s.replMode == ReplicationPrimary && s.replPrimary != nil {
		s.replPrimary.BroadcastSet(s.db, s.namespace, key, value, tags, ttlSeconds)
	}
	return nil
}

// Get returns key's value, per §4.9.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	value, _, err := s.GetWithMetadata(ctx, key)
	return value, err
}

// GetWithMetadata returns key's value and metadata record, per §4.9.
func (s *Store) GetWithMetadata(ctx context.Context, key string) (value []byte, rec backend.Record, err error) {
	defer nadb.Timed(s.sink, "store", "get")(&err)
	if err := validateKey(key); err != nil {
		return nil, backend.Record{}, err
	}

	unlock := s.locks.lock(s.compositeKey(key))
	defer unlock()

	rec, found, err := s.getMetadata(ctx, key)
	if err != nil {
		return nil, backend.Record{}, err
	}
	if !found {
		return nil, backend.Record{}, nadb.NewError(nadb.CodeNotFound, "key %q not found", key)
	}
	if rec.Expired(time.Now()) {
		return nil, backend.Record{}, nadb.NotFoundOrExpired(nadb.CodeExpired, key)
	}

	var raw []byte
	if s.buf != nil {
		if cached, ok := s.buf.Get(rec.Path); ok {
			raw = cached
		}
	}
	if raw == nil {
		raw, err = s.be.ReadData(ctx, rec.Path)
		if err != nil {
			return nil, backend.Record{}, err
		}
	}

	value, err = decompressRaw(raw)
	if err != nil {
		return nil, backend.Record{}, err
	}

	// Best-effort last_accessed refresh; failure here must not fail the read.
	rec.LastAccessed = time.Now()
	if err := s.setMetadata(ctx, rec); err != nil {
		s.sink.Warningf("store", "refresh last_accessed for %q failed: %v", key, err)
	}

	if s.metrics != nil {
		s.metrics.OpsTotal.Inc()
		s.metrics.BytesRead.Add(len(value))
	}
	return value, rec, nil
}

// Delete removes key, per §4.9.
func (s *Store) Delete(ctx context.Context, key string) (err error) {
	if err := s.checkWritable(); err != nil {
		return err
	}
	defer nadb.Timed(s.sink, "store", "delete")(&err)
	if err := validateKey(key); err != nil {
		return err
	}

	unlock := s.locks.lock(s.compositeKey(key))
	defer unlock()

	rec, found, err := s.getMetadata(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		return nadb.NewError(nadb.CodeNotFound, "key %q not found", key)
	}

	if s.buf != nil {
		s.buf.Discard(rec.Path)
	}
	if err := s.be.DeleteFile(ctx, rec.Path); err != nil {
		return err
	}
	if err := s.deleteMetadata(ctx, key); err != nil {
		return err
	}
	if s.index != nil {
		s.index.RemoveKey(s.db, s.namespace, key)
		if s.cache != nil {
			s.cache.InvalidateForTags(rec.Tags)
		}
	}
	if s.metrics != nil {
		s.metrics.OpsTotal.Inc()
	}
	if s.replMode == ReplicationPrimary && s.replPrimary != nil {
		s.replPrimary.BroadcastDelete(s.db, s.namespace, key)
	}
	return nil
}

func (s *Store) compositeKey(key string) string {
	return s.db + "\x00" + s.namespace + "\x00" + key
}
