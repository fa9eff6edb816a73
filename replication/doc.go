// Package replication implements the Replication Layer (§4.8): a single
// primary broadcasting an ordered operation stream to many secondaries
// over the rpcproto wire protocol, explicitly NOT built on Dragonboat/
// RAFT consensus (see DESIGN.md's Open Question decision) — ordering and
// catch-up are achieved with a monotonic sequence counter, a bounded ring
// buffer for replay, and a SYNC_REQUEST/SYNC_RESPONSE/SYNC_OUT_OF_RANGE
// handshake, matching §4.8's "eventual consistency, per-key and global
// ordering via sequence numbers" contract.
//
// Connection handling is grounded on rpcproto/pool's dial/backoff/
// reconnect loop and on backend/netkv/memserver's accept-loop server
// shape, generalized from a request/response RPC pool into a fire-and-
// forget broadcast fan-out (primary) and a reconnecting subscriber
// (secondary).
package replication
