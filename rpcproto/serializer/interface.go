// Package serializer turns an rpcproto.Message into bytes and back, mirroring
// the teacher's rpc/serializer package (IRPCSerializer + json/binary impls).
package serializer

import "github.com/nadb-org/nadb/rpcproto"

// Serializer serializes and deserializes an rpcproto.Message.
type Serializer interface {
	Serialize(msg rpcproto.Message) ([]byte, error)
	Deserialize(b []byte, msg *rpcproto.Message) error
}
