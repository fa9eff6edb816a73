package txn

import (
	"time"

	"github.com/google/uuid"
)

// State is one of the states a Transaction moves through. A transaction
// can only advance; it is never reused after terminating.
type State string

const (
	StateActive     State = "active"
	StateCommitted  State = "committed"
	StateRolledBack State = "rolled_back"
	StateFailed     State = "failed"
)

// opType identifies the kind of operation queued in a transaction.
type opType string

const (
	opSet        opType = "set"
	opSetWithTTL opType = "set_with_ttl"
	opDelete     opType = "delete"
)

// operation is one queued write, plus the pre-touch snapshot needed to
// undo it.
type operation struct {
	kind opType
	key  string
	value []byte
	tags  []string
	ttl   int64

	snapshot Snapshot
}

// Transaction is a queue of operations plus per-key snapshots, scoped to
// one (db, namespace) pair through the Store it was begun against.
type Transaction struct {
	ID        string
	State     State
	CreatedAt time.Time
	EndedAt   time.Time

	ops       []operation
	snapshots map[string]Snapshot // key -> snapshot, first-touch only
}

func newTransaction() *Transaction {
	return &Transaction{
		ID:        uuid.NewString(),
		State:     StateActive,
		CreatedAt: time.Now(),
		snapshots: make(map[string]Snapshot),
	}
}

// OperationCount reports how many operations are queued so far.
func (t *Transaction) OperationCount() int {
	return len(t.ops)
}
