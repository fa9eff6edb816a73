// Package pool implements a round-robin, auto-reconnecting connection pool
// over rpcproto framing, generalizing the teacher's
// rpc/transport/base.clientTransport/clientConnection (which multiplexed
// requests over a fixed set of Dragonboat RPC endpoints) to a plain TCP
// dial target used by backend/netkv.
package pool

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	nadb "github.com/nadb-org/nadb"
	"github.com/nadb-org/nadb/rpcproto"
)

// Options configures a Pool.
type Options struct {
	// Endpoints is one or more "host:port" dial targets; a connection is
	// opened to each, round-robin dispatch spreads load across them.
	Endpoints []string
	// ConnectionsPerEndpoint, default 1.
	ConnectionsPerEndpoint int
	// DialTimeout bounds a single Dial call.
	DialTimeout time.Duration
	// RequestTimeout bounds how long Send waits for a response.
	RequestTimeout time.Duration
	// MaxRetries bounds how many connections Send tries before giving up.
	MaxRetries int
	Sink       nadb.EventSink
}

type responseResult struct {
	data []byte
	err  error
}

type conn struct {
	mu       sync.Mutex
	nc       net.Conn
	endpoint string
	stopCh   chan struct{}
	pending  *xsync.MapOf[uint64, chan responseResult]
	pool     *Pool
}

// Pool is a round-robin pool of framed connections to one or more endpoints.
type Pool struct {
	opts Options
	sink nadb.EventSink

	mu            sync.RWMutex
	conns         []*conn
	nextConnIndex uint64
	nextRequestID uint64
	closed        bool
}

// New dials every configured endpoint and starts a background reader per
// connection. It returns an error only if every endpoint failed to connect.
func New(opts Options) (*Pool, error) {
	if opts.ConnectionsPerEndpoint < 1 {
		opts.ConnectionsPerEndpoint = 1
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 3
	}
	sink := opts.Sink
	if sink == nil {
		sink = nadb.NoopEventSink()
	}

	p := &Pool{opts: opts, sink: sink, nextRequestID: 1}

	for _, ep := range opts.Endpoints {
		for i := 0; i < opts.ConnectionsPerEndpoint; i++ {
			c := &conn{
				endpoint: ep,
				stopCh:   make(chan struct{}),
				pending:  xsync.NewMapOf[uint64, chan responseResult](),
				pool:     p,
			}
			if err := c.reconnect(); err != nil {
				sink.Warningf("pool", "connect: failed to connect to %s: %v", ep, err)
				continue
			}
			p.mu.Lock()
			p.conns = append(p.conns, c)
			p.mu.Unlock()
			go c.readLoop()
		}
	}

	if len(p.conns) == 0 {
		return nil, nadb.NewError(nadb.CodeBackendIO, "failed to connect to any of %d endpoint(s)", len(opts.Endpoints))
	}
	return p, nil
}

// Send writes req as a framed message and blocks for its response, retrying
// against a different connection (round robin) with exponential backoff and
// jitter on failure, generalizing clientTransport.Send.
func (p *Pool) Send(ctx context.Context, req []byte) ([]byte, error) {
	requestID := atomic.AddUint64(&p.nextRequestID, 1)

	backoff := 50 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < p.opts.MaxRetries; attempt++ {
		c := p.next()
		if c == nil {
			return nil, nadb.NewError(nadb.CodeBusy, "no active connections available")
		}

		data, err := c.send(ctx, requestID, req, p.opts.RequestTimeout)
		if err == nil {
			return data, nil
		}
		lastErr = err
		p.sink.Debugf("pool", "send: attempt %d/%d to %s failed: %v", attempt+1, p.opts.MaxRetries, c.endpoint, err)

		if attempt < p.opts.MaxRetries-1 {
			jitter := float64(backoff) * (0.9 + 0.2*rand.Float64())
			select {
			case <-time.After(time.Duration(jitter)):
			case <-ctx.Done():
				return nil, nadb.WrapError(nadb.CodeBackendIO, ctx.Err(), "send cancelled")
			}
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
		}
	}
	return nil, nadb.WrapError(nadb.CodeBackendIO, lastErr, "send failed after %d attempts", p.opts.MaxRetries)
}

// Close shuts down every connection in the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for _, c := range p.conns {
		close(c.stopCh)
		c.mu.Lock()
		if c.nc != nil {
			_ = c.nc.Close()
		}
		c.mu.Unlock()
	}
	p.conns = nil
	return nil
}

func (p *Pool) next() *conn {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.conns) == 0 {
		return nil
	}
	if len(p.conns) == 1 {
		return p.conns[0]
	}
	idx := atomic.AddUint64(&p.nextConnIndex, 1) % uint64(len(p.conns))
	return p.conns[idx]
}

func (c *conn) send(ctx context.Context, requestID uint64, req []byte, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	nc := c.nc
	c.mu.Unlock()
	if nc == nil {
		return nil, nadb.NewError(nadb.CodeBackendIO, "connection to %s is closed", c.endpoint)
	}

	respCh := make(chan responseResult, 1)
	c.pending.Store(requestID, respCh)
	defer c.pending.Delete(requestID)

	if timeout > 0 {
		_ = nc.SetWriteDeadline(time.Now().Add(timeout))
	}

	framed := EncodeRequestID(requestID, req)
	c.mu.Lock()
	err := rpcproto.WriteFrame(nc, framed)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timeoutCh = time.After(timeout)
	}

	select {
	case result := <-respCh:
		return result.data, result.err
	case <-timeoutCh:
		return nil, nadb.NewError(nadb.CodeBackendIO, "request to %s timed out", c.endpoint)
	case <-ctx.Done():
		return nil, nadb.WrapError(nadb.CodeBackendIO, ctx.Err(), "request to %s cancelled", c.endpoint)
	}
}

func (c *conn) readLoop() {
	ctx := context.Background()
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		c.mu.Lock()
		nc := c.nc
		c.mu.Unlock()
		if nc == nil {
			return
		}

		data, err := rpcproto.ReadFrame(ctx, nc)
		if err != nil {
			c.pool.sink.Warningf("pool", "read: read from %s failed: %v", c.endpoint, err)
			if rErr := c.reconnect(); rErr != nil {
				c.pool.sink.Errorf("pool", "reconnect: failed to reconnect to %s: %v", c.endpoint, rErr)
				return
			}
			continue
		}

		requestID, ok := DecodeRequestID(data)
		if !ok {
			continue
		}
		if respCh, found := c.pending.Load(requestID); found {
			respCh <- responseResult{data: StripRequestID(data)}
		}
	}
}

// reconnect closes the old connection (if any) and dials a fresh one,
// blocking callers only for the duration of the dial.
func (c *conn) reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nc != nil {
		_ = c.nc.Close()
		c.nc = nil
	}

	nc, err := net.DialTimeout("tcp", c.endpoint, c.pool.opts.DialTimeout)
	if err != nil {
		return nadb.WrapError(nadb.CodeBackendIO, err, "dial %s", c.endpoint)
	}
	c.nc = nc
	return nil
}
