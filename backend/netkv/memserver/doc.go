// Package memserver is an in-memory reference implementation of the netkv
// wire protocol's server side, used by backend/netkv's tests and as the
// minimal example of how to serve the protocol over a net.Listener.
//
// It is deliberately not durable: everything lives in process memory,
// guarded by a single mutex, matching the teacher's maple engine's own
// "correctness first, one lock, shard later if it matters" posture for an
// in-memory reference engine (lib/db/engines/maple).
package memserver
