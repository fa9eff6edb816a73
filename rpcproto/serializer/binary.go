package serializer

import (
	"encoding/binary"

	"github.com/nadb-org/nadb/rpcproto"

	nadb "github.com/nadb-org/nadb"
)

// NewBinarySerializer returns a Serializer using a compact bit-flagged
// binary format, generalizing the teacher's rpc/serializer/binaryImpl.go
// (hasKey/hasExpireIn/.../hasMeta flags) to rpcproto.Message's larger field
// set: one flag per optional field, each present field length-prefixed.
func NewBinarySerializer() Serializer {
	return binarySerializer{}
}

type binarySerializer struct{}

const (
	hasRequestID uint16 = 1 << iota
	hasSequence
	hasTimestamp
	hasDB
	hasNamespace
	hasKey
	hasValue
	hasTags
	hasTTLSeconds
	hasChecksum
	hasMetaJSON
	hasOk
	hasErr
)

func (binarySerializer) Serialize(msg rpcproto.Message) ([]byte, error) {
	var flags uint16
	if msg.RequestID != 0 {
		flags |= hasRequestID
	}
	if msg.Sequence != 0 {
		flags |= hasSequence
	}
	if msg.TimestampUnixMilli != 0 {
		flags |= hasTimestamp
	}
	if msg.DB != "" {
		flags |= hasDB
	}
	if msg.Namespace != "" {
		flags |= hasNamespace
	}
	if msg.Key != "" {
		flags |= hasKey
	}
	if msg.Value != nil {
		flags |= hasValue
	}
	if len(msg.Tags) > 0 {
		flags |= hasTags
	}
	if msg.TTLSeconds != nil {
		flags |= hasTTLSeconds
	}
	if len(msg.Checksum) > 0 {
		flags |= hasChecksum
	}
	if len(msg.MetaJSON) > 0 {
		flags |= hasMetaJSON
	}
	if msg.Ok {
		flags |= hasOk
	}
	if msg.Err != "" {
		flags |= hasErr
	}

	buf := make([]byte, 0, 64+len(msg.Value)+len(msg.Checksum)+len(msg.MetaJSON))
	buf = append(buf, byte(msg.Type))
	var flagBuf [2]byte
	binary.BigEndian.PutUint16(flagBuf[:], flags)
	buf = append(buf, flagBuf[:]...)

	if flags&hasRequestID != 0 {
		buf = appendUint64(buf, msg.RequestID)
	}
	if flags&hasSequence != 0 {
		buf = appendUint64(buf, msg.Sequence)
	}
	if flags&hasTimestamp != 0 {
		buf = appendUint64(buf, uint64(msg.TimestampUnixMilli))
	}
	if flags&hasDB != 0 {
		buf = appendString(buf, msg.DB)
	}
	if flags&hasNamespace != 0 {
		buf = appendString(buf, msg.Namespace)
	}
	if flags&hasKey != 0 {
		buf = appendString(buf, msg.Key)
	}
	if flags&hasValue != 0 {
		buf = appendBytes(buf, msg.Value)
	}
	if flags&hasTags != 0 {
		var tagBuf [4]byte
		binary.BigEndian.PutUint32(tagBuf[:], uint32(len(msg.Tags)))
		buf = append(buf, tagBuf[:]...)
		for _, tag := range msg.Tags {
			buf = appendString(buf, tag)
		}
	}
	if flags&hasTTLSeconds != 0 {
		buf = appendUint64(buf, uint64(*msg.TTLSeconds))
	}
	if flags&hasChecksum != 0 {
		buf = appendBytes(buf, msg.Checksum)
	}
	if flags&hasMetaJSON != 0 {
		buf = appendBytes(buf, msg.MetaJSON)
	}
	if flags&hasErr != 0 {
		buf = appendString(buf, msg.Err)
	}

	return buf, nil
}

func (binarySerializer) Deserialize(data []byte, msg *rpcproto.Message) error {
	if len(data) < 3 {
		return nadb.NewError(nadb.CodeProtocol, "data too short for message header")
	}
	out := rpcproto.Message{Type: rpcproto.MessageType(data[0])}
	flags := binary.BigEndian.Uint16(data[1:3])
	pos := 3

	var err error
	if flags&hasRequestID != 0 {
		if out.RequestID, pos, err = readUint64(data, pos); err != nil {
			return err
		}
	}
	if flags&hasSequence != 0 {
		if out.Sequence, pos, err = readUint64(data, pos); err != nil {
			return err
		}
	}
	if flags&hasTimestamp != 0 {
		var ts uint64
		if ts, pos, err = readUint64(data, pos); err != nil {
			return err
		}
		out.TimestampUnixMilli = int64(ts)
	}
	if flags&hasDB != 0 {
		if out.DB, pos, err = readString(data, pos); err != nil {
			return err
		}
	}
	if flags&hasNamespace != 0 {
		if out.Namespace, pos, err = readString(data, pos); err != nil {
			return err
		}
	}
	if flags&hasKey != 0 {
		if out.Key, pos, err = readString(data, pos); err != nil {
			return err
		}
	}
	if flags&hasValue != 0 {
		if out.Value, pos, err = readBytes(data, pos); err != nil {
			return err
		}
	}
	if flags&hasTags != 0 {
		if pos+4 > len(data) {
			return nadb.NewError(nadb.CodeProtocol, "data too short for tag count")
		}
		n := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4
		tags := make([]string, 0, n)
		for i := uint32(0); i < n; i++ {
			var tag string
			if tag, pos, err = readString(data, pos); err != nil {
				return err
			}
			tags = append(tags, tag)
		}
		out.Tags = tags
	}
	if flags&hasTTLSeconds != 0 {
		var v uint64
		if v, pos, err = readUint64(data, pos); err != nil {
			return err
		}
		ttl := int64(v)
		out.TTLSeconds = &ttl
	}
	if flags&hasChecksum != 0 {
		if out.Checksum, pos, err = readBytes(data, pos); err != nil {
			return err
		}
	}
	if flags&hasMetaJSON != 0 {
		if out.MetaJSON, pos, err = readBytes(data, pos); err != nil {
			return err
		}
	}
	out.Ok = flags&hasOk != 0
	if flags&hasErr != 0 {
		if out.Err, pos, err = readString(data, pos); err != nil {
			return err
		}
	}

	*msg = out
	return nil
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendString(buf []byte, s string) []byte {
	return appendBytes(buf, []byte(s))
}

func appendBytes(buf []byte, b []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, b...)
}

func readUint64(data []byte, pos int) (uint64, int, error) {
	if pos+8 > len(data) {
		return 0, pos, nadb.NewError(nadb.CodeProtocol, "data too short for uint64 at offset %d", pos)
	}
	return binary.BigEndian.Uint64(data[pos : pos+8]), pos + 8, nil
}

func readString(data []byte, pos int) (string, int, error) {
	b, newPos, err := readBytes(data, pos)
	if err != nil {
		return "", pos, err
	}
	return string(b), newPos, nil
}

func readBytes(data []byte, pos int) ([]byte, int, error) {
	if pos+4 > len(data) {
		return nil, pos, nadb.NewError(nadb.CodeProtocol, "data too short for length at offset %d", pos)
	}
	n := binary.BigEndian.Uint32(data[pos : pos+4])
	pos += 4
	if pos+int(n) > len(data) {
		return nil, pos, nadb.NewError(nadb.CodeProtocol, "data too short for %d bytes at offset %d", n, pos)
	}
	out := make([]byte, n)
	copy(out, data[pos:pos+int(n)])
	return out, pos + int(n), nil
}
