package store

import (
	"context"

	nadb "github.com/nadb-org/nadb"
	"github.com/nadb-org/nadb/txn"
)

// txnAdapter implements txn.Store by delegating straight into Store's
// direct (non-transactional) write path, the same path Set/SetWithTTL/
// Delete use outside a transaction. It never re-enters the transaction
// manager, since it IS the manager's apply/undo path.
type txnAdapter struct{ s *Store }

func (a txnAdapter) Get(ctx context.Context, key string) (txn.Snapshot, error) {
	value, rec, err := a.s.GetWithMetadata(ctx, key)
	if nadb.IsCode(err, nadb.CodeNotFound) {
		return txn.Snapshot{Existed: false}, nil
	}
	if err != nil {
		return txn.Snapshot{}, err
	}
	return txn.Snapshot{Value: value, Tags: rec.Tags, TTL: rec.TTLSeconds, Existed: true}, nil
}

func (a txnAdapter) Set(ctx context.Context, key string, value []byte, tags []string) error {
	return a.s.writeLocked(ctx, key, value, tags, nil)
}

func (a txnAdapter) SetWithTTL(ctx context.Context, key string, value []byte, ttlSeconds int64, tags []string) error {
	return a.s.writeLocked(ctx, key, value, tags, &ttlSeconds)
}

func (a txnAdapter) Delete(ctx context.Context, key string) error {
	return a.s.Delete(ctx, key)
}

// Txn is a scoped transaction handle, per §4.9's "transaction() → scoped
// transaction handle with auto-commit on normal exit and auto-rollback on
// failure".
type Txn struct {
	store *Store
	mgr   *txn.Manager
	tx    *txn.Transaction
	ended bool
}

// Transaction begins a new transaction. Transactions are not supported on
// a replication secondary.
func (s *Store) Transaction(ctx context.Context) (*Txn, error) {
	if s.txnMgr == nil {
		return nil, nadb.NewError(nadb.CodeUnsupported, "transactions are disabled on this store")
	}
	if err := s.checkWritable(); err != nil {
		return nil, err
	}
	return &Txn{store: s, mgr: s.txnMgr, tx: s.txnMgr.Begin()}, nil
}

func (t *Txn) Set(ctx context.Context, key string, value []byte, tags []string) error {
	return t.mgr.Set(ctx, t.tx, key, value, tags)
}

func (t *Txn) SetWithTTL(ctx context.Context, key string, value []byte, ttlSeconds int64, tags []string) error {
	return t.mgr.SetWithTTL(ctx, t.tx, key, value, ttlSeconds, tags)
}

func (t *Txn) Delete(ctx context.Context, key string) error {
	return t.mgr.Delete(ctx, t.tx, key)
}

// Commit applies every queued operation. See txn.Manager.Commit.
func (t *Txn) Commit(ctx context.Context) error {
	t.ended = true
	return t.mgr.Commit(ctx, t.tx)
}

// Rollback discards every queued operation.
func (t *Txn) Rollback(ctx context.Context) error {
	t.ended = true
	return t.mgr.Rollback(ctx, t.tx)
}

// Close auto-commits if the caller never explicitly committed or rolled
// back, and auto-rolls-back if callerErr (the caller's own failure, not a
// commit error) is non-nil, matching §4.9's "auto-commit on normal exit
// and auto-rollback on failure". Intended use:
//
//	tx, _ := store.Transaction(ctx)
//	defer func() { _ = tx.Close(ctx, err) }()
func (t *Txn) Close(ctx context.Context, callerErr error) error {
	if t.ended {
		return nil
	}
	if callerErr != nil {
		return t.Rollback(ctx)
	}
	return t.Commit(ctx)
}
