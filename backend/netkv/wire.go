package netkv

import (
	"encoding/json"
	"time"

	"github.com/nadb-org/nadb/backend"

	nadb "github.com/nadb-org/nadb"
)

// wireRecord mirrors backend.Record for JSON transport; time.Time fields
// travel as Unix milliseconds to avoid locale/format ambiguity on the wire.
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
		Path:         r.Path,
		DB:           r.DB,
		Namespace:    r.Namespace,
		Key:          r.Key,
		Size:         r.Size,
		CreatedAt:    r.CreatedAt.UnixMilli(),
		LastUpdated:  r.LastUpdated.UnixMilli(),
		LastAccessed: r.LastAccessed.UnixMilli(),
		TTLSeconds:   r.TTLSeconds,
		Tags:         r.Tags,
	}
}

func fromWireRecord(w wireRecord) backend.Record {
	return backend.Record{
		Path:         w.Path,
		DB:           w.DB,
		Namespace:    w.Namespace,
		Key:          w.Key,
		Size:         w.Size,
		CreatedAt:    time.UnixMilli(w.CreatedAt),
		LastUpdated:  time.UnixMilli(w.LastUpdated),
		LastAccessed: time.UnixMilli(w.LastAccessed),
		TTLSeconds:   w.TTLSeconds,
		Tags:         w.Tags,
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

func toWireQuery(q backend.MetadataQuery) wireQuery {
	return wireQuery{
		DB: q.DB, Namespace: q.Namespace, Tags: q.Tags,
		MinSize: q.MinSize, MaxSize: q.MaxSize, HasTTL: q.HasTTL,
		KeyPattern: q.KeyPattern, Limit: q.Limit, Offset: q.Offset,
	}
}

func marshalJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Only ever called with the package's own wire* types, whose shapes
		// are always marshalable.
		panic("netkv: unreachable marshal failure: " + err.Error())
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
