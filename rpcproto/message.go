package rpcproto

import "crypto/sha256"

// MessageType discriminates every request, response and replication op the
// wire protocol carries.
type MessageType uint8

const (
	MsgUnknown MessageType = iota

	// Networked KV backend operations (§4.1b).
	MsgSet
	MsgSetIfUnset
	MsgGet
	MsgHas
	MsgDelete
	MsgGetFileSize
	MsgListKeys
	MsgSetMetadata
	MsgGetMetadata
	MsgDeleteMetadata
	MsgQueryMetadata
	MsgCleanupExpired

	// Generic response envelopes.
	MsgResponse
	MsgError

	// Replication operation records (§4.8).
	MsgReplSet
	MsgReplDelete
	MsgReplMetadata
	MsgReplHeartbeat
	MsgReplSyncRequest
	MsgReplSyncResponse
	MsgReplSyncOutOfRange
)

func (t MessageType) String() string {
	switch t {
	case MsgSet:
		return "Set"
	case MsgSetIfUnset:
		return "SetIfUnset"
	case MsgGet:
		return "Get"
	case MsgHas:
		return "Has"
	case MsgDelete:
		return "Delete"
	case MsgGetFileSize:
		return "GetFileSize"
	case MsgListKeys:
		return "ListKeys"
	case MsgSetMetadata:
		return "SetMetadata"
	case MsgGetMetadata:
		return "GetMetadata"
	case MsgDeleteMetadata:
		return "DeleteMetadata"
	case MsgQueryMetadata:
		return "QueryMetadata"
	case MsgCleanupExpired:
		return "CleanupExpired"
	case MsgResponse:
		return "Response"
	case MsgError:
		return "Error"
	case MsgReplSet:
		return "ReplSet"
	case MsgReplDelete:
		return "ReplDelete"
	case MsgReplMetadata:
		return "ReplMetadata"
	case MsgReplHeartbeat:
		return "ReplHeartbeat"
	case MsgReplSyncRequest:
		return "ReplSyncRequest"
	case MsgReplSyncResponse:
		return "ReplSyncResponse"
	case MsgReplSyncOutOfRange:
		return "ReplSyncOutOfRange"
	default:
		return "Unknown"
	}
}

// Message is the single envelope shared by the networked KV backend's
// request/response pairs and by replication's operation stream, mirroring
// the teacher's common.Message used by both the IStore and ILockManager
// RPC adapters.
type Message struct {
	Type MessageType

	// RequestID is an optional correlation id carried by the envelope; the
	// netkv client leaves it zero, because rpcproto/pool correlates each
	// request with its response through an 8-byte id prefixed ahead of the
	// serialized Message. Sequence is the replication operation's strictly
	// monotonic sequence number (§4.8).
	RequestID uint64
	Sequence  uint64

	TimestampUnixMilli int64

	DB        string
	Namespace string
	Key       string
	Value     []byte
	Tags      []string
	// TTLSeconds nil means no expiration; present to mirror
	// backend.Record.TTLSeconds across the wire.
	TTLSeconds *int64

	// Checksum is the SHA-256 of Value, required for replication integrity
	// checks (§4.8) and optional (empty) for netkv request/response pairs.
	Checksum []byte

	// MetaJSON carries an arbitrary JSON payload for responses that don't
	// fit the scalar fields above (query results, metadata records, file
	// listings), mirroring the teacher's free-form Meta []byte field.
	MetaJSON []byte

	Ok  bool
	Err string
}

// ChecksumOf computes the SHA-256 checksum of data, used both to populate
// Message.Checksum when sending and to verify it when receiving.
func ChecksumOf(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}
