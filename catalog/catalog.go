package catalog

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nadb-org/nadb/backend"

	nadb "github.com/nadb-org/nadb"
)

const schema = `
CREATE TABLE IF NOT EXISTS metadata (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	db            TEXT NOT NULL,
	namespace     TEXT NOT NULL,
	key           TEXT NOT NULL,
	path          TEXT NOT NULL,
	size          INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL,
	last_updated  INTEGER NOT NULL,
	last_accessed INTEGER NOT NULL,
	ttl_seconds   INTEGER,
	UNIQUE(db, namespace, key)
);
CREATE TABLE IF NOT EXISTS tags (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	tag_name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS metadata_tags (
	metadata_id INTEGER NOT NULL REFERENCES metadata(id) ON DELETE CASCADE,
	tag_id      INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	PRIMARY KEY (metadata_id, tag_id)
);
CREATE INDEX IF NOT EXISTS idx_metadata_tags_tag ON metadata_tags(tag_id);
CREATE INDEX IF NOT EXISTS idx_metadata_db_ns ON metadata(db, namespace);
`

// Catalog is the Metadata Catalog: a SQLite-backed, mutex-serialized index
// of metadata records for backends that don't hold metadata themselves.
type Catalog struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (or creates) a catalog database at path. Use ":memory:" for a
// process-local catalog, matching aladin2907-overhuman's NewSQLiteStore.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nadb.WrapError(nadb.CodeBackendIO, err, "open catalog %q", path)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, nadb.WrapError(nadb.CodeBackendIO, err, "set WAL mode")
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, nadb.WrapError(nadb.CodeBackendIO, err, "enable foreign keys")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, nadb.WrapError(nadb.CodeBackendIO, err, "create catalog schema")
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

// SetMetadata upserts by (db, namespace, key), replacing its tag links.
func (c *Catalog) SetMetadata(ctx context.Context, rec backend.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nadb.WrapError(nadb.CodeBackendIO, err, "begin set_metadata tx")
	}
	defer tx.Rollback()

	now := time.Now()
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	lastUpdated := rec.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = now
	}
	lastAccessed := rec.LastAccessed
	if lastAccessed.IsZero() {
		lastAccessed = now
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO metadata (db, namespace, key, path, size, created_at, last_updated, last_accessed, ttl_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(db, namespace, key) DO UPDATE SET
			path = excluded.path,
			size = excluded.size,
			last_updated = excluded.last_updated,
			last_accessed = excluded.last_accessed,
			ttl_seconds = excluded.ttl_seconds`,
		rec.DB, rec.Namespace, rec.Key, rec.Path, rec.Size,
		createdAt.UnixMilli(), lastUpdated.UnixMilli(), lastAccessed.UnixMilli(), rec.TTLSeconds,
	)
	if err != nil {
		return nadb.WrapError(nadb.CodeBackendIO, err, "upsert metadata for %s/%s/%s", rec.DB, rec.Namespace, rec.Key)
	}

	var metadataID int64
	if err := tx.QueryRowContext(ctx,
		"SELECT id FROM metadata WHERE db = ? AND namespace = ? AND key = ?",
		rec.DB, rec.Namespace, rec.Key,
	).Scan(&metadataID); err != nil {
		return nadb.WrapError(nadb.CodeBackendIO, err, "read back metadata id")
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM metadata_tags WHERE metadata_id = ?", metadataID); err != nil {
		return nadb.WrapError(nadb.CodeBackendIO, err, "clear tag links")
	}
	for _, tag := range rec.Tags {
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO tags (tag_name) VALUES (?)", tag); err != nil {
			return nadb.WrapError(nadb.CodeBackendIO, err, "insert tag %q", tag)
		}
		var tagID int64
		if err := tx.QueryRowContext(ctx, "SELECT id FROM tags WHERE tag_name = ?", tag).Scan(&tagID); err != nil {
			return nadb.WrapError(nadb.CodeBackendIO, err, "read back tag id for %q", tag)
		}
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO metadata_tags (metadata_id, tag_id) VALUES (?, ?)", metadataID, tagID); err != nil {
			return nadb.WrapError(nadb.CodeBackendIO, err, "link tag %q", tag)
		}
	}

	if err := tx.Commit(); err != nil {
		return nadb.WrapError(nadb.CodeBackendIO, err, "commit set_metadata")
	}
	return nil
}

// GetMetadata returns one record, or ok=false if absent. Expired records
// are treated as absent but not deleted (CleanupExpired owns deletion).
func (c *Catalog) GetMetadata(ctx context.Context, db, namespace, key string) (backend.Record, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, id, found, err := c.scanOne(ctx, db, namespace, key)
	if err != nil || !found {
		return backend.Record{}, false, err
	}
	if rec.Expired(time.Now()) {
		return backend.Record{}, false, nil
	}

	if _, err := c.db.ExecContext(ctx, "UPDATE metadata SET last_accessed = ? WHERE id = ?", time.Now().UnixMilli(), id); err != nil {
		return backend.Record{}, false, nadb.WrapError(nadb.CodeBackendIO, err, "touch last_accessed")
	}
	return rec, true, nil
}

func (c *Catalog) scanOne(ctx context.Context, db, namespace, key string) (backend.Record, int64, bool, error) {
	var id int64
	var path string
	var size, createdAt, lastUpdated, lastAccessed int64
	var ttl sql.NullInt64

	err := c.db.QueryRowContext(ctx, `
		SELECT id, path, size, created_at, last_updated, last_accessed, ttl_seconds
		FROM metadata WHERE db = ? AND namespace = ? AND key = ?`,
		db, namespace, key,
	).Scan(&id, &path, &size, &createdAt, &lastUpdated, &lastAccessed, &ttl)
	if err == sql.ErrNoRows {
		return backend.Record{}, 0, false, nil
	}
	if err != nil {
		return backend.Record{}, 0, false, nadb.WrapError(nadb.CodeBackendIO, err, "get_metadata %s/%s/%s", db, namespace, key)
	}

	tags, err := c.tagsFor(ctx, id)
	if err != nil {
		return backend.Record{}, 0, false, err
	}

	rec := backend.Record{
		Path: path, DB: db, Namespace: namespace, Key: key, Size: size,
		CreatedAt:    time.UnixMilli(createdAt),
		LastUpdated:  time.UnixMilli(lastUpdated),
		LastAccessed: time.UnixMilli(lastAccessed),
		Tags:         tags,
	}
	if ttl.Valid {
		v := ttl.Int64
		rec.TTLSeconds = &v
	}
	return rec, id, true, nil
}

func (c *Catalog) tagsFor(ctx context.Context, metadataID int64) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT t.tag_name FROM tags t
		JOIN metadata_tags mt ON mt.tag_id = t.id
		WHERE mt.metadata_id = ?
		ORDER BY t.tag_name`, metadataID)
	if err != nil {
		return nil, nadb.WrapError(nadb.CodeBackendIO, err, "read tags for metadata id %d", metadataID)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, nadb.WrapError(nadb.CodeBackendIO, err, "scan tag")
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// DeleteMetadata removes a record and its tag links. Not an error if absent.
func (c *Catalog) DeleteMetadata(ctx context.Context, db, namespace, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var id int64
	err := c.db.QueryRowContext(ctx, "SELECT id FROM metadata WHERE db = ? AND namespace = ? AND key = ?", db, namespace, key).Scan(&id)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return nadb.WrapError(nadb.CodeBackendIO, err, "delete_metadata lookup %s/%s/%s", db, namespace, key)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nadb.WrapError(nadb.CodeBackendIO, err, "begin delete_metadata tx")
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM metadata_tags WHERE metadata_id = ?", id); err != nil {
		return nadb.WrapError(nadb.CodeBackendIO, err, "delete tag links")
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM metadata WHERE id = ?", id); err != nil {
		return nadb.WrapError(nadb.CodeBackendIO, err, "delete metadata row")
	}
	if err := tx.Commit(); err != nil {
		return nadb.WrapError(nadb.CodeBackendIO, err, "commit delete_metadata")
	}
	return nil
}

// QueryMetadata returns every record matching ALL of q's constraints
// (conjunctive tag match, inclusive size range, exact has-ttl, LIKE key
// pattern). Callers must pre-escape % and _ in KeyPattern with
// EscapeLikePattern if they're meant as literals.
func (c *Catalog) QueryMetadata(ctx context.Context, q backend.MetadataQuery) ([]backend.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var where []string
	var args []interface{}
	where = append(where, "db = ?", "namespace = ?")
	args = append(args, q.DB, q.Namespace)

	if q.MinSize != nil {
		where = append(where, "size >= ?")
		args = append(args, *q.MinSize)
	}
	if q.MaxSize != nil {
		where = append(where, "size <= ?")
		args = append(args, *q.MaxSize)
	}
	if q.HasTTL != nil {
		if *q.HasTTL {
			where = append(where, "ttl_seconds IS NOT NULL")
		} else {
			where = append(where, "ttl_seconds IS NULL")
		}
	}
	if q.KeyPattern != "" {
		where = append(where, "key LIKE ? ESCAPE '\\'")
		args = append(args, q.KeyPattern)
	}
	if len(q.Tags) > 0 {
		placeholders := make([]string, len(q.Tags))
		for i, tag := range q.Tags {
			placeholders[i] = "?"
			args = append(args, tag)
		}
		args = append(args, int64(len(q.Tags)))
		where = append(where, `id IN (
			SELECT mt.metadata_id FROM metadata_tags mt
			JOIN tags t ON t.id = mt.tag_id
			WHERE t.tag_name IN (`+strings.Join(placeholders, ",")+`)
			GROUP BY mt.metadata_id
			HAVING COUNT(DISTINCT t.tag_name) = ?
		)`)
	}

	query := "SELECT id, key, path, size, created_at, last_updated, last_accessed, ttl_seconds FROM metadata WHERE " +
		strings.Join(where, " AND ") + " ORDER BY key"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
		if q.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, q.Offset)
		}
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nadb.WrapError(nadb.CodeBackendIO, err, "query_metadata")
	}
	defer rows.Close()

	var recs []backend.Record
	now := time.Now()
	for rows.Next() {
		var id int64
		var key, path string
		var size, createdAt, lastUpdated, lastAccessed int64
		var ttl sql.NullInt64
		if err := rows.Scan(&id, &key, &path, &size, &createdAt, &lastUpdated, &lastAccessed, &ttl); err != nil {
			return nil, nadb.WrapError(nadb.CodeBackendIO, err, "scan query_metadata row")
		}
		tags, err := c.tagsFor(ctx, id)
		if err != nil {
			return nil, err
		}
		rec := backend.Record{
			Path: path, DB: q.DB, Namespace: q.Namespace, Key: key, Size: size,
			CreatedAt: time.UnixMilli(createdAt), LastUpdated: time.UnixMilli(lastUpdated),
			LastAccessed: time.UnixMilli(lastAccessed), Tags: tags,
		}
		if ttl.Valid {
			v := ttl.Int64
			rec.TTLSeconds = &v
		}
		if rec.Expired(now) {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// CleanupExpired deletes every expired record under (db, namespace) in a
// single transaction and returns what was removed, so the caller can
// delete the corresponding data blobs.
func (c *Catalog) CleanupExpired(ctx context.Context, db, namespace string) ([]backend.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nowMilli := time.Now().UnixMilli()
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, key, path, size, created_at, last_updated, last_accessed, ttl_seconds
		FROM metadata
		WHERE db = ? AND namespace = ? AND ttl_seconds IS NOT NULL
		  AND (last_updated + ttl_seconds * 1000) < ?`,
		db, namespace, nowMilli)
	if err != nil {
		return nil, nadb.WrapError(nadb.CodeBackendIO, err, "select expired rows")
	}

	type scanned struct {
		id  int64
		rec backend.Record
	}
	var candidates []scanned
	for rows.Next() {
		var id int64
		var key, path string
		var size, createdAt, lastUpdated, lastAccessed int64
		var ttl sql.NullInt64
		if err := rows.Scan(&id, &key, &path, &size, &createdAt, &lastUpdated, &lastAccessed, &ttl); err != nil {
			rows.Close()
			return nil, nadb.WrapError(nadb.CodeBackendIO, err, "scan expired row")
		}
		rec := backend.Record{
			Path: path, DB: db, Namespace: namespace, Key: key, Size: size,
			CreatedAt: time.UnixMilli(createdAt), LastUpdated: time.UnixMilli(lastUpdated),
			LastAccessed: time.UnixMilli(lastAccessed),
		}
		if ttl.Valid {
			v := ttl.Int64
			rec.TTLSeconds = &v
		}
		candidates = append(candidates, scanned{id: id, rec: rec})
	}
	rowsErr := rows.Err()
	rows.Close()
	if rowsErr != nil {
		return nil, nadb.WrapError(nadb.CodeBackendIO, rowsErr, "iterate expired rows")
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nadb.WrapError(nadb.CodeBackendIO, err, "begin cleanup_expired tx")
	}
	defer tx.Rollback()

	var expired []backend.Record
	for _, cand := range candidates {
		tags, err := c.tagsFor(ctx, cand.id)
		if err != nil {
			return nil, err
		}
		cand.rec.Tags = tags
		if _, err := tx.ExecContext(ctx, "DELETE FROM metadata_tags WHERE metadata_id = ?", cand.id); err != nil {
			return nil, nadb.WrapError(nadb.CodeBackendIO, err, "delete tag links for expired row")
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM metadata WHERE id = ?", cand.id); err != nil {
			return nil, nadb.WrapError(nadb.CodeBackendIO, err, "delete expired row")
		}
		expired = append(expired, cand.rec)
	}
	if err := tx.Commit(); err != nil {
		return nil, nadb.WrapError(nadb.CodeBackendIO, err, "commit cleanup_expired")
	}
	return expired, nil
}

// EscapeLikePattern escapes %, _ and \ in s so it can be embedded in a
// LIKE ... ESCAPE '\' pattern as a literal, per §9's required escaping
// (e.g. a key literally containing "a_b%c" must not match unrelated keys).
func EscapeLikePattern(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\', '%', '_':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
