// Package txn implements the Transaction Manager (§4.5): a queue of
// intended operations plus a snapshot of each key's original value, tags
// and ttl, applied atomically on commit or undone on rollback.
//
// It generalizes original_source/transaction.py's TransactionManager:
// the same ACTIVE -> COMMITTED | ROLLED_BACK state machine, the same
// snapshot-on-first-touch rule, and the same reverse-order undo on
// failure, rebuilt around a Store interface (set/set-with-ttl/delete/get)
// rather than a concrete kv_store attribute, matching the teacher's
// lockmgr-style "depend only on a narrow interface" shape
// (lib/lockmgr.logMgmImpl wrapping store.IStore). A transaction is bound
// to a single Manager instance and may not be reused after it terminates:
// Set, SetWithTTL, Delete and Commit on it fail with
// nadb.CodeInvalidState. Begin does not detect nesting; every call
// returns a new, independent transaction, even while others are active.
package txn
