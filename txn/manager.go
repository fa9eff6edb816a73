package txn

import (
	"context"
	"sync"
	"time"

	nadb "github.com/nadb-org/nadb"
)

// Manager runs transactions against a single Store, mirroring
// original_source/transaction.py's TransactionManager. One Manager
// belongs to exactly one store instance.
type Manager struct {
	store Store
	sink  nadb.EventSink

	mu     sync.Mutex
	active map[string]*Transaction
}

// NewManager wires a Manager to store. sink may be nil.
func NewManager(store Store, sink nadb.EventSink) *Manager {
	if sink == nil {
		sink = nadb.NoopEventSink()
	}
	return &Manager{
		store:  store,
		sink:   sink,
		active: make(map[string]*Transaction),
	}
}

// Begin starts a new transaction. Isolation is always Read Committed
// (§4.5); there is no parameter for it because the contract offers no
// other level.
func (m *Manager) Begin() *Transaction {
	tx := newTransaction()
	m.mu.Lock()
	m.active[tx.ID] = tx
	m.mu.Unlock()
	m.sink.Infof("txn", "transaction %s started", tx.ID)
	return tx
}

// ActiveTransactions returns every transaction currently ACTIVE.
func (m *Manager) ActiveTransactions() []*Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Transaction, 0, len(m.active))
	for _, tx := range m.active {
		out = append(out, tx)
	}
	return out
}

// snapshotOnce returns tx's snapshot for key, reading it from the store
// and caching it the first time the transaction touches key (§4.5.1).
func (m *Manager) snapshotOnce(ctx context.Context, tx *Transaction, key string) (Snapshot, error) {
	if snap, ok := tx.snapshots[key]; ok {
		return snap, nil
	}
	snap, err := m.store.Get(ctx, key)
	if err != nil {
		return Snapshot{}, err
	}
	tx.snapshots[key] = snap
	return snap, nil
}

// Set queues a set operation on tx.
func (m *Manager) Set(ctx context.Context, tx *Transaction, key string, value []byte, tags []string) error {
	if tx.State != StateActive {
		return nadb.NewError(nadb.CodeInvalidState, "cannot add operations to %s transaction", tx.State)
	}
	snap, err := m.snapshotOnce(ctx, tx, key)
	if err != nil {
		return err
	}
	tx.ops = append(tx.ops, operation{kind: opSet, key: key, value: value, tags: tags, snapshot: snap})
	return nil
}

// SetWithTTL queues a set-with-ttl operation on tx.
func (m *Manager) SetWithTTL(ctx context.Context, tx *Transaction, key string, value []byte, ttlSeconds int64, tags []string) error {
	if tx.State != StateActive {
		return nadb.NewError(nadb.CodeInvalidState, "cannot add operations to %s transaction", tx.State)
	}
	snap, err := m.snapshotOnce(ctx, tx, key)
	if err != nil {
		return err
	}
	tx.ops = append(tx.ops, operation{kind: opSetWithTTL, key: key, value: value, tags: tags, ttl: ttlSeconds, snapshot: snap})
	return nil
}

// Delete queues a delete operation on tx.
func (m *Manager) Delete(ctx context.Context, tx *Transaction, key string) error {
	if tx.State != StateActive {
		return nadb.NewError(nadb.CodeInvalidState, "cannot add operations to %s transaction", tx.State)
	}
	snap, err := m.snapshotOnce(ctx, tx, key)
	if err != nil {
		return err
	}
	tx.ops = append(tx.ops, operation{kind: opDelete, key: key, snapshot: snap})
	return nil
}

// BatchItem is one entry of a BatchSet call.
type BatchItem struct {
	Key   string
	Value []byte
	Tags  []string
}

// BatchSet queues a set operation for every item, in order.
func (m *Manager) BatchSet(ctx context.Context, tx *Transaction, items []BatchItem) error {
	for _, item := range items {
		if err := m.Set(ctx, tx, item.Key, item.Value, item.Tags); err != nil {
			return err
		}
	}
	return nil
}

// BatchDelete queues a delete operation for every key, in order.
func (m *Manager) BatchDelete(ctx context.Context, tx *Transaction, keys []string) error {
	for _, key := range keys {
		if err := m.Delete(ctx, tx, key); err != nil {
			return err
		}
	}
	return nil
}

// Commit applies every queued operation in order. If any application
// fails, every operation already applied in this commit is undone from
// its snapshot, in reverse order, the transaction is marked ROLLED_BACK,
// and the original error is returned.
func (m *Manager) Commit(ctx context.Context, tx *Transaction) error {
	if tx.State != StateActive {
		return nadb.NewError(nadb.CodeInvalidState, "cannot commit %s transaction", tx.State)
	}

	applied := 0
	var commitErr error
	for _, op := range tx.ops {
		if err := m.apply(ctx, op); err != nil {
			commitErr = err
			break
		}
		applied++
	}

	if commitErr != nil {
		for i := applied - 1; i >= 0; i-- {
			if err := m.undo(ctx, tx.ops[i]); err != nil {
				m.sink.Errorf("txn", "failed to undo operation for key %q during commit-rollback of %s: %v", tx.ops[i].key, tx.ID, err)
			}
		}
		tx.State = StateRolledBack
		tx.EndedAt = time.Now()
		m.forget(tx)
		m.sink.Errorf("txn", "transaction %s failed and was rolled back: %v", tx.ID, commitErr)
		return commitErr
	}

	tx.State = StateCommitted
	tx.EndedAt = time.Now()
	m.forget(tx)
	m.sink.Infof("txn", "transaction %s committed (%d operations)", tx.ID, len(tx.ops))
	return nil
}

// Rollback undoes every queued operation already applied... In this
// manager no operation is applied before commit, so Rollback before
// Commit is always a pure no-op on the store, matching §4.5's "queued,
// not yet applied" contract. It is still meaningful: it terminates the
// transaction so Commit can no longer be called on it.
func (m *Manager) Rollback(ctx context.Context, tx *Transaction) error {
	if tx.State != StateActive && tx.State != StateFailed {
		m.sink.Warningf("txn", "cannot rollback %s transaction %s", tx.State, tx.ID)
		return nil
	}
	tx.State = StateRolledBack
	tx.EndedAt = time.Now()
	m.forget(tx)
	m.sink.Infof("txn", "transaction %s rolled back", tx.ID)
	return nil
}

func (m *Manager) forget(tx *Transaction) {
	m.mu.Lock()
	delete(m.active, tx.ID)
	m.mu.Unlock()
}

func (m *Manager) apply(ctx context.Context, op operation) error {
	switch op.kind {
	case opSet:
		return m.store.Set(ctx, op.key, op.value, op.tags)
	case opSetWithTTL:
		return m.store.SetWithTTL(ctx, op.key, op.value, op.ttl, op.tags)
	case opDelete:
		return m.store.Delete(ctx, op.key)
	default:
		return nadb.NewError(nadb.CodeInternalError, "unknown transaction operation %q", op.kind)
	}
}

// undo restores op.key to its pre-touch snapshot, per §4.5.4.
func (m *Manager) undo(ctx context.Context, op operation) error {
	if !op.snapshot.Existed {
		return m.store.Delete(ctx, op.key)
	}
	if op.snapshot.TTL != nil {
		return m.store.SetWithTTL(ctx, op.key, op.snapshot.Value, *op.snapshot.TTL, op.snapshot.Tags)
	}
	return m.store.Set(ctx, op.key, op.snapshot.Value, op.snapshot.Tags)
}

// CleanupStale rolls back every ACTIVE transaction older than maxAge.
func (m *Manager) CleanupStale(ctx context.Context, maxAge time.Duration) {
	now := time.Now()
	m.mu.Lock()
	var stale []*Transaction
	for _, tx := range m.active {
		if now.Sub(tx.CreatedAt) > maxAge {
			stale = append(stale, tx)
		}
	}
	m.mu.Unlock()

	for _, tx := range stale {
		m.sink.Warningf("txn", "cleaning up stale transaction %s", tx.ID)
		_ = m.Rollback(ctx, tx)
	}
}
