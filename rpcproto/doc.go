// Package rpcproto is the wire layer shared by the networked KV backend
// (backend/netkv) and the replication layer (replication), adapted from the
// teacher's rpc/transport + rpc/serializer + rpc/client packages.
//
// The teacher framed each message with a fixed 20-byte header (shardID +
// requestID + length) because a single Dragonboat NodeHost multiplexes many
// RAFT shards over one connection. Neither consumer here needs shard
// multiplexing, so framing is generalized to the spec's plain 4-byte
// big-endian length prefix (§4.8), and the envelope (Message) generalizes
// the teacher's common.Message to also carry the fields replication needs:
// a monotonic sequence number and a payload checksum.
package rpcproto
