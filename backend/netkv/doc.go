// Package netkv implements backend.MetadataBackend over the network,
// generalizing the teacher's rpc/client + rpc/transport/tcp stack (which
// spoke to a Dragonboat NodeHost) to a plain request/response service
// speaking rpcproto.Message frames over a pool of pooled TCP connections.
//
// Every request is one rpcproto.Message; the server replies with exactly
// one rpcproto.Message of type MsgResponse, Ok=true on success or Ok=false
// with Err set to an nadb.ErrorCode name on failure. Structured results
// that don't fit the envelope's scalar fields (directory listings, query
// results, metadata records) travel JSON-encoded in MetaJSON.
//
// Package memserver provides an in-memory reference implementation of the
// server side, used by this package's tests and suitable as a starting
// point for a standalone netkv server binary.
package netkv
