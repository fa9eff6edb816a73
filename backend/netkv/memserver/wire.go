package memserver

import (
	"encoding/json"
	"time"

	"github.com/nadb-org/nadb/backend"

	nadb "github.com/nadb-org/nadb"
)

// wireRecord/wireQuery mirror backend/netkv's client-side wire types.
// Duplicated rather than imported to keep memserver importable standalone
// (a reference server binary has no reason to depend on the client).
type wireRecord struct {
	Path         string   `json:"path"`
	DB           string   `json:"db"`
	Namespace    string   `json:"namespace"`
	Key          string   `json:"key"`
	Size         int64    `json:"size"`
	CreatedAt    int64    `json:"created_at"`
	LastUpdated  int64    `json:"last_updated"`
	LastAccessed int64    `json:"last_accessed"`
	TTLSeconds   *int64   `json:"ttl_seconds,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

func toWireRecord(r backend.Record) wireRecord {
	return wireRecord{
		Path: r.Path, DB: r.DB, Namespace: r.Namespace, Key: r.Key, Size: r.Size,
		CreatedAt: r.CreatedAt.UnixMilli(), LastUpdated: r.LastUpdated.UnixMilli(),
		LastAccessed: r.LastAccessed.UnixMilli(), TTLSeconds: r.TTLSeconds, Tags: r.Tags,
	}
}

func fromWireRecord(w wireRecord) backend.Record {
	return backend.Record{
		Path: w.Path, DB: w.DB, Namespace: w.Namespace, Key: w.Key, Size: w.Size,
		CreatedAt: time.UnixMilli(w.CreatedAt), LastUpdated: time.UnixMilli(w.LastUpdated),
		LastAccessed: time.UnixMilli(w.LastAccessed), TTLSeconds: w.TTLSeconds, Tags: w.Tags,
	}
}

type wireQuery struct {
	DB         string   `json:"db"`
	Namespace  string   `json:"namespace"`
	Tags       []string `json:"tags,omitempty"`
	MinSize    *int64   `json:"min_size,omitempty"`
	MaxSize    *int64   `json:"max_size,omitempty"`
	HasTTL     *bool    `json:"has_ttl,omitempty"`
	KeyPattern string   `json:"key_pattern,omitempty"`
	Limit      int      `json:"limit,omitempty"`
	Offset     int      `json:"offset,omitempty"`
}

func fromWireQuery(w wireQuery) backend.MetadataQuery {
	return backend.MetadataQuery{
		DB: w.DB, Namespace: w.Namespace, Tags: w.Tags,
		MinSize: w.MinSize, MaxSize: w.MaxSize, HasTTL: w.HasTTL,
		KeyPattern: w.KeyPattern, Limit: w.Limit, Offset: w.Offset,
	}
}

func marshalJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic("memserver: unreachable marshal failure: " + err.Error())
	}
	return b
}

func unmarshalJSON(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return nadb.WrapError(nadb.CodeProtocol, err, "decode wire payload")
	}
	return nil
}

type wireSize struct {
	Size int64 `json:"size"`
}

type wireKeys struct {
	Paths []string `json:"paths"`
}
