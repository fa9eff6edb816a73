package pool

import "encoding/binary"

// requestIDPrefixLen is the size of the request-id prefix EncodeRequestID
// adds ahead of a serialized rpcproto.Message, letting the pool correlate a
// raw response frame with its waiting Send call without deserializing the
// message body itself.
const requestIDPrefixLen = 8

// EncodeRequestID prepends an 8-byte big-endian request id to payload.
// Pool.Send takes the id from its own counter; the responder reads it with
// DecodeRequestID and echoes it back unchanged in EncodeRequestID on the
// response it sends.
func EncodeRequestID(requestID uint64, payload []byte) []byte {
	out := make([]byte, requestIDPrefixLen+len(payload))
	binary.BigEndian.PutUint64(out[:requestIDPrefixLen], requestID)
	copy(out[requestIDPrefixLen:], payload)
	return out
}

// DecodeRequestID reads the 8-byte big-endian request id prefixed by
// EncodeRequestID.
func DecodeRequestID(data []byte) (uint64, bool) {
	if len(data) < requestIDPrefixLen {
		return 0, false
	}
	return binary.BigEndian.Uint64(data[:requestIDPrefixLen]), true
}

// StripRequestID returns the payload following the request-id prefix.
func StripRequestID(data []byte) []byte {
	if len(data) < requestIDPrefixLen {
		return nil
	}
	return data[requestIDPrefixLen:]
}
