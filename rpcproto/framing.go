package rpcproto

import (
	"context"
	"encoding/binary"
	"io"

	nadb "github.com/nadb-org/nadb"
)

// MaxFrameBytes bounds a single frame's payload to guard against a
// corrupted or adversarial length prefix forcing an unbounded allocation.
const MaxFrameBytes = 64 << 20 // 64 MiB

// WriteFrame writes a single length-prefixed frame: a 4-byte big-endian
// payload length followed by payload. This generalizes the teacher's
// rpc/transport/base.writeFrame, which prefixed each payload with a
// 20-byte shardID+requestID+length header needed only to multiplex many
// Dragonboat shards over one connection; neither netkv nor replication
// needs that multiplexing. Where a caller needs request correlation it
// travels inside the payload: rpcproto/pool prefixes each netkv request
// and response with an 8-byte request id.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameBytes {
		return nadb.NewError(nadb.CodeInvalidArgument, "frame payload of %d bytes exceeds max %d", len(payload), MaxFrameBytes)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return nadb.WrapError(nadb.CodeBackendIO, err, "write frame length")
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return nadb.WrapError(nadb.CodeBackendIO, err, "write frame payload")
	}
	return nil
}

// ReadFrame reads a single length-prefixed frame written by WriteFrame.
func ReadFrame(ctx context.Context, r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, nadb.WrapError(nadb.CodeBackendIO, err, "read frame length")
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameBytes {
		return nil, nadb.NewError(nadb.CodeProtocol, "frame length %d exceeds max %d", n, MaxFrameBytes)
	}
	if n == 0 {
		return nil, nil
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, nadb.WrapError(nadb.CodeBackendIO, err, "read frame payload")
	}
	return payload, nil
}
