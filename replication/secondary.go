package replication

import (
	"bytes"
	"context"
	"math/rand"
	"net"
	"sync/atomic"
	"time"

	"github.com/nadb-org/nadb/rpcproto"
	"github.com/nadb-org/nadb/rpcproto/serializer"

	nadb "github.com/nadb-org/nadb"
)

// Reconnection backoff bounds, per §4.8's secondary behavior.
const (
	minReconnectBackoff = 1 * time.Second
	maxReconnectBackoff = 30 * time.Second
)

// SecondaryOptions configures a Secondary.
type SecondaryOptions struct {
	Endpoint    string
	DialTimeout time.Duration
	Serializer  serializer.Serializer
	Applier     Applier
	Sink        nadb.EventSink
}

// Secondary connects to a Primary, applies its operation stream locally,
// and resyncs on gap or disconnect, per §4.8.
type Secondary struct {
	endpoint    string
	dialTimeout time.Duration
	ser         serializer.Serializer
	applier     Applier
	sink        nadb.EventSink

	lastApplied atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSecondary creates a Secondary. Call Start to connect.
func NewSecondary(opts SecondaryOptions) *Secondary {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.Serializer == nil {
		opts.Serializer = serializer.NewBinarySerializer()
	}
	if opts.Sink == nil {
		opts.Sink = nadb.NoopEventSink()
	}
	return &Secondary{
		endpoint:    opts.Endpoint,
		dialTimeout: opts.DialTimeout,
		ser:         opts.Serializer,
		applier:     opts.Applier,
		sink:        opts.Sink,
	}
}

// LastApplied reports the sequence number of the last applied op.
func (s *Secondary) LastApplied() uint64 { return s.lastApplied.Load() }

// Start launches the connect/apply/reconnect loop. Idempotent.
func (s *Secondary) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run()
}

// Stop signals the loop to exit and closes the active connection.
func (s *Secondary) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.stopCh)
	<-s.doneCh
}

func (s *Secondary) run() {
	defer close(s.doneCh)

	backoff := minReconnectBackoff
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		conn, err := net.DialTimeout("tcp", s.endpoint, s.dialTimeout)
		if err != nil {
			s.sink.Warningf("replication/secondary", "connect to %s failed: %v", s.endpoint, err)
			if !s.sleepBackoff(&backoff) {
				return
			}
			continue
		}
		backoff = minReconnectBackoff

		if err := s.syncAndApply(conn); err != nil {
			s.sink.Warningf("replication/secondary", "session with %s ended: %v", s.endpoint, err)
		}
		conn.Close()

		select {
		case <-s.stopCh:
			return
		default:
		}
	}
}

// sleepBackoff waits for min(*backoff with jitter, max) or until stopped,
// doubling *backoff for next time. Returns false if Stop fired first.
func (s *Secondary) sleepBackoff(backoff *time.Duration) bool {
	jitter := time.Duration(rand.Int63n(int64(*backoff) / 2))
	wait := *backoff + jitter
	if wait > maxReconnectBackoff {
		wait = maxReconnectBackoff
	}
	*backoff *= 2
	if *backoff > maxReconnectBackoff {
		*backoff = maxReconnectBackoff
	}
	select {
	case <-time.After(wait):
		return true
	case <-s.stopCh:
		return false
	}
}

func (s *Secondary) sendSyncRequest(conn net.Conn) error {
	msg := rpcproto.Message{Type: rpcproto.MsgReplSyncRequest, Sequence: s.lastApplied.Load()}
	payload, err := s.ser.Serialize(msg)
	if err != nil {
		return err
	}
	return rpcproto.WriteFrame(conn, payload)
}

func (s *Secondary) syncAndApply(conn net.Conn) error {
	// Close conn as soon as Stop fires, so a ReadFrame blocked on it returns.
	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go func() {
		select {
		case <-s.stopCh:
			conn.Close()
		case <-sessionDone:
		}
	}()

	if err := s.sendSyncRequest(conn); err != nil {
		return err
	}

	ctx := context.Background()
	for {
		select {
		case <-s.stopCh:
			return nil
		default:
		}

		payload, err := rpcproto.ReadFrame(ctx, conn)
		if err != nil {
			return err
		}

		var msg rpcproto.Message
		if err := s.ser.Deserialize(payload, &msg); err != nil {
			s.sink.Warningf("replication/secondary", "malformed message: %v", err)
			continue
		}

		switch msg.Type {
		case rpcproto.MsgReplHeartbeat:
			continue
		case rpcproto.MsgReplSyncOutOfRange:
			return nadb.NewError(nadb.CodeBackendIO, "primary reports sequence %d out of range; full resync required", s.lastApplied.Load())
		case rpcproto.MsgReplSet, rpcproto.MsgReplDelete, rpcproto.MsgReplMetadata:
			if err := s.applyOne(ctx, msg); err != nil {
				return err
			}
		}
	}
}

func (s *Secondary) applyOne(ctx context.Context, msg rpcproto.Message) error {
	expected := s.lastApplied.Load() + 1
	if msg.Sequence != expected {
		s.sink.Warningf("replication/secondary", "sequence gap: expected %d, got %d; re-requesting sync", expected, msg.Sequence)
		return nadb.NewError(nadb.CodeBackendIO, "sequence gap at %d", msg.Sequence)
	}

	if msg.Type == rpcproto.MsgReplSet && !bytes.Equal(rpcproto.ChecksumOf(msg.Value), msg.Checksum) {
		s.sink.Warningf("replication/secondary", "checksum mismatch at sequence %d, dropping", msg.Sequence)
		return nil
	}

	var err error
	switch msg.Type {
	case rpcproto.MsgReplSet:
		err = s.applier.ApplySet(ctx, msg)
	case rpcproto.MsgReplDelete:
		err = s.applier.ApplyDelete(ctx, msg)
	case rpcproto.MsgReplMetadata:
		err = s.applier.ApplyMetadata(ctx, msg)
	}
	if err != nil {
		return err
	}

	s.lastApplied.Store(msg.Sequence)
	return nil
}
