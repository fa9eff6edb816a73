package netkv

import (
	"context"
	"time"

	"github.com/nadb-org/nadb/backend"
	"github.com/nadb-org/nadb/rpcproto"
	"github.com/nadb-org/nadb/rpcproto/pool"
	"github.com/nadb-org/nadb/rpcproto/serializer"

	nadb "github.com/nadb-org/nadb"
)

// Options configures a netkv client Backend.
type Options struct {
	// Endpoints, one or more "host:port" servers speaking the netkv protocol.
	Endpoints []string
	// ConnectionsPerEndpoint bounds pool size per endpoint (§4.1b "connection
	// pool with configurable max size").
	ConnectionsPerEndpoint int
	DialTimeout            time.Duration
	RequestTimeout         time.Duration
	MaxRetries             int
	// Serializer, default binary (serializer.NewBinarySerializer()).
	Serializer serializer.Serializer
	MaxValueSizeBytes *int64
	Sink              nadb.EventSink
}

type client struct {
	pool *pool.Pool
	ser  serializer.Serializer
	caps backend.Capabilities
}

// New dials the configured netkv servers and returns a backend.MetadataBackend.
func New(opts Options) (backend.MetadataBackend, error) {
	p, err := pool.New(pool.Options{
		Endpoints:              opts.Endpoints,
		ConnectionsPerEndpoint: opts.ConnectionsPerEndpoint,
		DialTimeout:            opts.DialTimeout,
		RequestTimeout:         opts.RequestTimeout,
		MaxRetries:             opts.MaxRetries,
		Sink:                   opts.Sink,
	})
	if err != nil {
		return nil, err
	}
	ser := opts.Serializer
	if ser == nil {
		ser = serializer.NewBinarySerializer()
	}
	maxSize := opts.MaxValueSizeBytes
	if maxSize == nil {
		defaultMax := int64(512 << 20)
		maxSize = &defaultMax
	}
	return &client{
		pool: p,
		ser:  ser,
		caps: backend.Capabilities{
			SupportsBuffering:     false,
			WriteStrategy:         backend.WriteImmediate,
			SupportsNativeTTL:     true,
			SupportsMetadata:      true,
			SupportsNativeQueries: false,
			IsDistributed:         true,
			SupportsCompression:   true,
			MaxValueSizeBytes:     maxSize,
		},
	}, nil
}

func (c *client) Capabilities() backend.Capabilities { return c.caps }

func (c *client) roundTrip(ctx context.Context, req rpcproto.Message) (rpcproto.Message, error) {
	reqBytes, err := c.ser.Serialize(req)
	if err != nil {
		return rpcproto.Message{}, err
	}
	respBytes, err := c.pool.Send(ctx, reqBytes)
	if err != nil {
		return rpcproto.Message{}, err
	}
	var resp rpcproto.Message
	if err := c.ser.Deserialize(respBytes, &resp); err != nil {
		return rpcproto.Message{}, err
	}
	if !resp.Ok {
		return rpcproto.Message{}, decodeError(resp.Err)
	}
	return resp, nil
}

func (c *client) WriteData(ctx context.Context, relativePath string, data []byte) error {
	if c.caps.MaxValueSizeBytes != nil && int64(len(data)) > *c.caps.MaxValueSizeBytes {
		return nadb.NewError(nadb.CodeValueTooLarge, "value of %d bytes exceeds max of %d", len(data), *c.caps.MaxValueSizeBytes)
	}
	_, err := c.roundTrip(ctx, rpcproto.Message{Type: rpcproto.MsgSet, Key: relativePath, Value: data})
	return err
}

func (c *client) ReadData(ctx context.Context, relativePath string) ([]byte, error) {
	resp, err := c.roundTrip(ctx, rpcproto.Message{Type: rpcproto.MsgGet, Key: relativePath})
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

func (c *client) DeleteFile(ctx context.Context, relativePath string) error {
	_, err := c.roundTrip(ctx, rpcproto.Message{Type: rpcproto.MsgDelete, Key: relativePath})
	return err
}

func (c *client) FileExists(ctx context.Context, relativePath string) (bool, error) {
	_, err := c.roundTrip(ctx, rpcproto.Message{Type: rpcproto.MsgHas, Key: relativePath})
	if err != nil {
		if nadb.IsCode(err, nadb.CodeNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *client) GetFileSize(ctx context.Context, relativePath string) (int64, error) {
	resp, err := c.roundTrip(ctx, rpcproto.Message{Type: rpcproto.MsgGetFileSize, Key: relativePath})
	if err != nil {
		return 0, err
	}
	var sz wireSize
	if err := unmarshalJSON(resp.MetaJSON, &sz); err != nil {
		return 0, err
	}
	return sz.Size, nil
}

func (c *client) ListKeys(ctx context.Context, filter string) (backend.KeyCursor, error) {
	resp, err := c.roundTrip(ctx, rpcproto.Message{Type: rpcproto.MsgListKeys, Key: filter})
	if err != nil {
		return nil, err
	}
	var keys wireKeys
	if err := unmarshalJSON(resp.MetaJSON, &keys); err != nil {
		return nil, err
	}
	return &sliceCursor{paths: keys.Paths, pos: -1}, nil
}

func (c *client) SetMetadata(ctx context.Context, rec backend.Record) error {
	_, err := c.roundTrip(ctx, rpcproto.Message{
		Type:       rpcproto.MsgSetMetadata,
		DB:         rec.DB,
		Namespace:  rec.Namespace,
		Key:        rec.Key,
		Tags:       rec.Tags,
		TTLSeconds: rec.TTLSeconds,
		MetaJSON:   marshalJSON(toWireRecord(rec)),
	})
	return err
}

func (c *client) GetMetadata(ctx context.Context, db, namespace, key string) (backend.Record, bool, error) {
	resp, err := c.roundTrip(ctx, rpcproto.Message{Type: rpcproto.MsgGetMetadata, DB: db, Namespace: namespace, Key: key})
	if err != nil {
		if nadb.IsCode(err, nadb.CodeNotFound) {
			return backend.Record{}, false, nil
		}
		return backend.Record{}, false, err
	}
	var wr wireRecord
	if err := unmarshalJSON(resp.MetaJSON, &wr); err != nil {
		return backend.Record{}, false, err
	}
	return fromWireRecord(wr), true, nil
}

func (c *client) DeleteMetadata(ctx context.Context, db, namespace, key string) error {
	_, err := c.roundTrip(ctx, rpcproto.Message{Type: rpcproto.MsgDeleteMetadata, DB: db, Namespace: namespace, Key: key})
	return err
}

func (c *client) QueryMetadata(ctx context.Context, q backend.MetadataQuery) ([]backend.Record, error) {
	resp, err := c.roundTrip(ctx, rpcproto.Message{Type: rpcproto.MsgQueryMetadata, MetaJSON: marshalJSON(toWireQuery(q))})
	if err != nil {
		return nil, err
	}
	var wrs []wireRecord
	if err := unmarshalJSON(resp.MetaJSON, &wrs); err != nil {
		return nil, err
	}
	recs := make([]backend.Record, len(wrs))
	for i, wr := range wrs {
		recs[i] = fromWireRecord(wr)
	}
	return recs, nil
}

func (c *client) CleanupExpired(ctx context.Context, db, namespace string) ([]backend.Record, error) {
	resp, err := c.roundTrip(ctx, rpcproto.Message{Type: rpcproto.MsgCleanupExpired, DB: db, Namespace: namespace})
	if err != nil {
		return nil, err
	}
	var wrs []wireRecord
	if err := unmarshalJSON(resp.MetaJSON, &wrs); err != nil {
		return nil, err
	}
	recs := make([]backend.Record, len(wrs))
	for i, wr := range wrs {
		recs[i] = fromWireRecord(wr)
	}
	return recs, nil
}

func (c *client) Close() error { return c.pool.Close() }

func decodeError(code string) error {
	for _, c := range []nadb.ErrorCode{
		nadb.CodeInvalidArgument, nadb.CodeNotFound, nadb.CodeAlreadyExists,
		nadb.CodePathTraversal, nadb.CodeValueTooLarge, nadb.CodeBackendIO,
		nadb.CodeCorruption, nadb.CodeInvalidState, nadb.CodeReadOnly,
		nadb.CodeExpired, nadb.CodeBusy, nadb.CodeUnsupported, nadb.CodeProtocol,
	} {
		if c.String() == code {
			return nadb.NewError(c, "netkv server returned %s", code)
		}
	}
	return nadb.NewError(nadb.CodeInternalError, "netkv server returned %s", code)
}

type sliceCursor struct {
	paths []string
	pos   int
}

func (c *sliceCursor) Next(ctx context.Context) bool {
	c.pos++
	return c.pos < len(c.paths)
}

func (c *sliceCursor) Path() string {
	if c.pos < 0 || c.pos >= len(c.paths) {
		return ""
	}
	return c.paths[c.pos]
}

func (c *sliceCursor) Err() error   { return nil }
func (c *sliceCursor) Close() error { return nil }
