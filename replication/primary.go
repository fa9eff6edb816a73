package replication

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nadb-org/nadb/rpcproto"
	"github.com/nadb-org/nadb/rpcproto/serializer"

	nadb "github.com/nadb-org/nadb"
)

// DefaultHeartbeatInterval is §4.8's default heartbeat_interval.
const DefaultHeartbeatInterval = 5 * time.Second

// staleFactor * heartbeat interval is how long without an inbound
// message before a replica is considered stale, per §4.8.
const staleFactor = 3

// PrimaryOptions configures a Primary.
type PrimaryOptions struct {
	RingCapacity      int
	HeartbeatInterval time.Duration
	Serializer        serializer.Serializer
	SendQueueDepth    int
	Sink              nadb.EventSink
}

// ReplicaStats is a snapshot of one connected replica's counters.
type ReplicaStats struct {
	ID         string
	LastAckSeq uint64
	Sent       uint64
	BytesSent  uint64
	LastSeen   time.Time
	Stale      bool
}

// replica tracks one connected secondary's send queue and counters, per
// §4.8 "per replica: a send queue, a last-acknowledged sequence, and
// counters".
type replica struct {
	id        string
	nc        net.Conn
	sendQueue chan rpcproto.Message

	lastAckSeq atomic.Uint64
	sent       atomic.Uint64
	bytesSent  atomic.Uint64
	lastSeen   atomic.Int64 // unix millis

	stopCh chan struct{}
}

// Primary broadcasts an ordered operation stream to every connected
// replica and serves SYNC_REQUEST catch-up, per §4.8.
type Primary struct {
	ring      *Ring
	ser       serializer.Serializer
	sink      nadb.EventSink
	heartbeat time.Duration
	queueSize int

	seq atomic.Uint64

	mu       sync.RWMutex
	replicas map[string]*replica

	listener net.Listener
	wg       sync.WaitGroup
	closing  chan struct{}
}

// NewPrimary creates a Primary ready to Serve.
func NewPrimary(opts PrimaryOptions) *Primary {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.Serializer == nil {
		opts.Serializer = serializer.NewBinarySerializer()
	}
	if opts.SendQueueDepth <= 0 {
		opts.SendQueueDepth = 1024
	}
	if opts.Sink == nil {
		opts.Sink = nadb.NoopEventSink()
	}
	return &Primary{
		ring:      NewRing(opts.RingCapacity),
		ser:       opts.Serializer,
		sink:      opts.Sink,
		heartbeat: opts.HeartbeatInterval,
		queueSize: opts.SendQueueDepth,
		replicas:  make(map[string]*replica),
		closing:   make(chan struct{}),
	}
}

// Serve accepts replica connections on l until Close is called.
func (p *Primary) Serve(l net.Listener) error {
	p.listener = l
	p.wg.Add(1)
	go p.heartbeatLoop()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-p.closing:
				return nil
			default:
				return err
			}
		}
		p.wg.Add(1)
		go p.handleReplica(conn)
	}
}

// Close stops accepting connections, stops every replica writer, and
// closes all connections.
func (p *Primary) Close() error {
	close(p.closing)
	if p.listener != nil {
		p.listener.Close()
	}
	p.mu.Lock()
	for _, r := range p.replicas {
		close(r.stopCh)
		r.nc.Close()
	}
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

func (p *Primary) nextSequence() uint64 {
	return p.seq.Add(1)
}

// BroadcastSet appends a SET op to the ring and fans it out to every
// connected replica.
func (p *Primary) BroadcastSet(db, namespace, key string, value []byte, tags []string, ttlSeconds *int64) {
	msg := rpcproto.Message{
		Type:               rpcproto.MsgReplSet,
		Sequence:           p.nextSequence(),
		TimestampUnixMilli: time.Now().UnixMilli(),
		DB:                 db,
		Namespace:          namespace,
		Key:                key,
		Value:              value,
		Tags:               tags,
		TTLSeconds:         ttlSeconds,
		Checksum:           rpcproto.ChecksumOf(value),
	}
	p.broadcast(msg)
}

// BroadcastDelete appends a DELETE op to the ring and fans it out.
func (p *Primary) BroadcastDelete(db, namespace, key string) {
	msg := rpcproto.Message{
		Type:               rpcproto.MsgReplDelete,
		Sequence:           p.nextSequence(),
		TimestampUnixMilli: time.Now().UnixMilli(),
		DB:                 db,
		Namespace:          namespace,
		Key:                key,
	}
	p.broadcast(msg)
}

func (p *Primary) broadcast(msg rpcproto.Message) {
	p.ring.Append(msg)

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, r := range p.replicas {
		select {
		case r.sendQueue <- msg:
		default:
			p.sink.Warningf("replication/primary", "replica %s send queue full, dropping seq %d", r.id, msg.Sequence)
		}
	}
}

// Stats returns a snapshot of every connected replica's counters.
func (p *Primary) Stats() []ReplicaStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	staleAfter := p.heartbeat * staleFactor
	out := make([]ReplicaStats, 0, len(p.replicas))
	for _, r := range p.replicas {
		lastSeen := time.UnixMilli(r.lastSeen.Load())
		out = append(out, ReplicaStats{
			ID:         r.id,
			LastAckSeq: r.lastAckSeq.Load(),
			Sent:       r.sent.Load(),
			BytesSent:  r.bytesSent.Load(),
			LastSeen:   lastSeen,
			Stale:      time.Since(lastSeen) > staleAfter,
		})
	}
	return out
}

func (p *Primary) handleReplica(conn net.Conn) {
	defer p.wg.Done()
	defer conn.Close()

	id := conn.RemoteAddr().String()
	r := &replica{
		id:        id,
		nc:        conn,
		sendQueue: make(chan rpcproto.Message, p.queueSize),
		stopCh:    make(chan struct{}),
	}
	r.lastSeen.Store(time.Now().UnixMilli())

	p.mu.Lock()
	p.replicas[id] = r
	p.mu.Unlock()
	p.sink.Infof("replication/primary", "replica %s connected", id)

	defer func() {
		p.mu.Lock()
		delete(p.replicas, id)
		p.mu.Unlock()
		p.sink.Infof("replication/primary", "replica %s disconnected", id)
	}()

	var writerWG sync.WaitGroup
	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		p.writeLoop(r)
	}()
	defer writerWG.Wait()
	defer func() {
		select {
		case <-r.stopCh:
		default:
			close(r.stopCh)
		}
	}()

	ctx := context.Background()
	for {
		payload, err := rpcproto.ReadFrame(ctx, conn)
		if err != nil {
			return
		}
		r.lastSeen.Store(time.Now().UnixMilli())

		var msg rpcproto.Message
		if err := p.ser.Deserialize(payload, &msg); err != nil {
			p.sink.Warningf("replication/primary", "malformed message from replica %s: %v", id, err)
			continue
		}

		switch msg.Type {
		case rpcproto.MsgReplHeartbeat:
			r.lastAckSeq.Store(msg.Sequence)
		case rpcproto.MsgReplSyncRequest:
			p.serveSyncRequest(r, msg.Sequence)
		}
	}
}

func (p *Primary) serveSyncRequest(r *replica, fromSeq uint64) {
	ops, ok := p.ring.Since(fromSeq)
	if !ok {
		select {
		case r.sendQueue <- rpcproto.Message{Type: rpcproto.MsgReplSyncOutOfRange}:
		case <-r.stopCh:
		}
		return
	}
	for _, op := range ops {
		select {
		case r.sendQueue <- op:
		case <-r.stopCh:
			return
		}
	}
}

func (p *Primary) writeLoop(r *replica) {
	for {
		select {
		case <-r.stopCh:
			return
		case msg := <-r.sendQueue:
			payload, err := p.ser.Serialize(msg)
			if err != nil {
				p.sink.Warningf("replication/primary", "serialize failed for replica %s: %v", r.id, err)
				continue
			}
			if err := rpcproto.WriteFrame(r.nc, payload); err != nil {
				p.sink.Warningf("replication/primary", "write failed for replica %s: %v", r.id, err)
				return
			}
			r.sent.Add(1)
			r.bytesSent.Add(uint64(len(payload)))
		}
	}
}

func (p *Primary) heartbeatLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-p.closing:
			return
		case <-ticker.C:
			hb := rpcproto.Message{Type: rpcproto.MsgReplHeartbeat, TimestampUnixMilli: time.Now().UnixMilli()}
			p.mu.RLock()
			for _, r := range p.replicas {
				select {
				case r.sendQueue <- hb:
				default:
				}
			}
			p.mu.RUnlock()
		}
	}
}
