package store

import (
	"context"

	"github.com/nadb-org/nadb/rpcproto"
)

// Applier returns a replication.Applier that applies a primary's
// operation stream directly to s's local storage, bypassing the
// read-only gate and never re-broadcasting (§4.8). Wire a Store
// constructed with Config.ReplicationMode == ReplicationSecondary to a
// replication.Secondary via this.
func (s *Store) Applier() *replicationApplier {
	return &replicationApplier{s: s}
}

type replicationApplier struct{ s *Store }

func (a *replicationApplier) ApplySet(ctx context.Context, msg rpcproto.Message) error {
	return a.s.writeLocked(ctx, msg.Key, msg.Value, msg.Tags, msg.TTLSeconds)
}

func (a *replicationApplier) ApplyDelete(ctx context.Context, msg rpcproto.Message) error {
	unlock := a.s.locks.lock(a.s.compositeKey(msg.Key))
	defer unlock()

	rec, found, err := a.s.getMetadata(ctx, msg.Key)
	if err != nil || !found {
		return err
	}
	if a.s.buf != nil {
		a.s.buf.Discard(rec.Path)
	}
	if err := a.s.be.DeleteFile(ctx, rec.Path); err != nil {
		return err
	}
	if err := a.s.deleteMetadata(ctx, msg.Key); err != nil {
		return err
	}
	if a.s.index != nil {
		a.s.index.RemoveKey(a.s.db, a.s.namespace, msg.Key)
		if a.s.cache != nil {
			a.s.cache.InvalidateForTags(rec.Tags)
		}
	}
	return nil
}

func (a *replicationApplier) ApplyMetadata(ctx context.Context, msg rpcproto.Message) error {
	// Metadata-only updates (e.g. tag changes without a value rewrite) are
	// not produced by this Store's write path today; accept and no-op so a
	// future primary feature doesn't break secondaries on this version.
	return nil
}
