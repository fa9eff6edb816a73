package store

import (
	"context"
	"time"

	nadb "github.com/nadb-org/nadb"
	"github.com/nadb-org/nadb/backend"
	"github.com/nadb-org/nadb/synchronizer"
	"github.com/nadb-org/nadb/tagindex"
)

// Flush forces the write buffer to drain, per §4.9.
func (s *Store) Flush(ctx context.Context) error {
	if s.buf == nil {
		return nil
	}
	return s.buf.Flush(ctx)
}

// FlushDB deletes every key under this store's (db, namespace), per the
// expansion supplementing original_source/nakv.py's flushdb (SPEC_FULL §3.9).
func (s *Store) FlushDB(ctx context.Context) error {
	recs, err := s.queryAll(ctx)
	if err != nil {
		return err
	}
	var firstErr error
	for _, rec := range recs {
		if err := s.Delete(ctx, rec.Key); err != nil && !nadb.IsCode(err, nadb.CodeNotFound) {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Store) queryAll(ctx context.Context) ([]backend.Record, error) {
	q := backend.MetadataQuery{DB: s.db, Namespace: s.namespace}
	if s.metaBackend != nil {
		return s.metaBackend.QueryMetadata(ctx, q)
	}
	return s.catalog.QueryMetadata(ctx, q)
}

// Stats reports the counters and gauges §4.9's stats() requires.
type Stats struct {
	Counts             map[string]int64
	CacheStats         tagindex.CacheStats
	QueryStats         map[string]int64
	ActiveTransactions int
	BufferBytes        int64
	UptimeSeconds      float64
}

// Stats returns a snapshot of this store's operational state, per §4.9.
func (s *Store) Stats() Stats {
	st := Stats{
		Counts:        map[string]int64{},
		QueryStats:    map[string]int64{},
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	}
	if s.buf != nil {
		st.BufferBytes = s.buf.PendingBytes()
	}
	if s.metrics != nil {
		st.Counts["ops_total"] = int64(s.metrics.OpsTotal.Get())
		st.Counts["op_errors_total"] = int64(s.metrics.OpErrorsTotal.Get())
		st.Counts["bytes_read"] = int64(s.metrics.BytesRead.Get())
		st.Counts["bytes_written"] = int64(s.metrics.BytesWritten.Get())
	}
	if s.txnMgr != nil {
		st.ActiveTransactions = len(s.txnMgr.ActiveTransactions())
	}
	if s.cache != nil {
		st.CacheStats = s.cache.Stats()
	}
	if s.index != nil {
		for _, tp := range s.index.PopularTags(0) {
			st.QueryStats[tp.Tag] = tp.QueryCount
		}
	}
	return st
}

// Name identifies this store for the synchronizer, per
// synchronizer.Store.
func (s *Store) Name() string { return s.db + "/" + s.namespace }

// FlushIfReady implements synchronizer.Store: an unconditional,
// time-triggered buffer drain.
func (s *Store) FlushIfReady(ctx context.Context) error {
	return s.Flush(ctx)
}

// SweepExpired implements synchronizer.Store: delete every now-expired
// record's blob, metadata, buffered write, and tag-index entry.
func (s *Store) SweepExpired(ctx context.Context) ([]synchronizer.ExpiredRecord, error) {
	var expired []backend.Record
	var err error
	if s.metaBackend != nil {
		expired, err = s.metaBackend.CleanupExpired(ctx, s.db, s.namespace)
	} else {
		expired, err = s.catalog.CleanupExpired(ctx, s.db, s.namespace)
	}
	if err != nil {
		return nil, err
	}

	out := make([]synchronizer.ExpiredRecord, 0, len(expired))
	for _, rec := range expired {
		if err := s.be.DeleteFile(ctx, rec.Path); err != nil {
			s.sink.Warningf("store", "sweep: delete blob for %q failed: %v", rec.Key, err)
		}
		if s.buf != nil {
			s.buf.Discard(rec.Path)
		}
		if s.index != nil {
			s.index.RemoveKey(s.db, s.namespace, rec.Key)
			if s.cache != nil {
				s.cache.InvalidateForTags(rec.Tags)
			}
		}
		out = append(out, synchronizer.ExpiredRecord{Key: rec.Key})
	}
	if s.metrics != nil && len(out) > 0 {
		s.metrics.SweepRemoved.Add(len(out))
	}
	return out, nil
}
