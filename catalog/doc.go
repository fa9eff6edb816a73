// Package catalog is the Metadata Catalog (§4.2): a local durable index of
// metadata records for backends that don't hold metadata themselves
// (backend/fs). It is grounded on aladin2907-overhuman's SQLiteStore
// (internal/storage/sqlite.go) — modernc.org/sqlite opened with
// PRAGMA journal_mode=WAL, schema created on open, a sync.RWMutex guarding
// every operation, and context-aware database/sql calls throughout — but
// trades that store's single kv_store+FTS5 table for the three-relation
// schema (metadata, tags, metadata_tags) the specification requires, and
// drops full-text search (the spec's query surface is tag/size/ttl/key
// pattern only).
package catalog
