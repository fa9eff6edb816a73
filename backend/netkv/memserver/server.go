package memserver

import (
	"context"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nadb-org/nadb/backend"
	"github.com/nadb-org/nadb/rpcproto"
	"github.com/nadb-org/nadb/rpcproto/pool"
	"github.com/nadb-org/nadb/rpcproto/serializer"

	nadb "github.com/nadb-org/nadb"
)

type metaKey struct {
	db, namespace, key string
}

// Server is an in-memory implementation of the netkv wire protocol.
type Server struct {
	ser serializer.Serializer
	sink nadb.EventSink

	mu       sync.Mutex
	blobs    map[string][]byte
	records  map[metaKey]backend.Record
	tagIndex map[string]map[string]struct{} // "db\x00ns\x00tag" -> set of keys

	listener net.Listener
	wg       sync.WaitGroup
	closing  chan struct{}
}

// New constructs an empty in-memory server. Call Serve to start accepting
// connections on a listener.
func New(ser serializer.Serializer, sink nadb.EventSink) *Server {
	if ser == nil {
		ser = serializer.NewBinarySerializer()
	}
	if sink == nil {
		sink = nadb.NoopEventSink()
	}
	return &Server{
		ser:      ser,
		sink:     sink,
		blobs:    make(map[string][]byte),
		records:  make(map[metaKey]backend.Record),
		tagIndex: make(map[string]map[string]struct{}),
		closing:  make(chan struct{}),
	}
}

// Serve accepts connections on l until Close is called, handling each on
// its own goroutine, mirroring the teacher's serverTransport.handleConnection
// loop but without the shard/requestID framing it no longer needs.
func (s *Server) Serve(l net.Listener) error {
	s.listener = l
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-s.closing:
				return nil
			default:
				return nadb.WrapError(nadb.CodeBackendIO, err, "accept")
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting new connections and waits for in-flight handlers
// to drain.
func (s *Server) Close() error {
	close(s.closing)
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	ctx := context.Background()
	for {
		frame, err := rpcproto.ReadFrame(ctx, conn)
		if err != nil {
			return
		}
		requestID, ok := pool.DecodeRequestID(frame)
		if !ok {
			continue
		}
		payload := pool.StripRequestID(frame)

		var req rpcproto.Message
		if err := s.ser.Deserialize(payload, &req); err != nil {
			s.sink.Warningf("netkv/server", "deserialize: %v", err)
			continue
		}

		resp := s.dispatch(req)
		respBytes, err := s.ser.Serialize(resp)
		if err != nil {
			s.sink.Errorf("netkv/server", "serialize response: %v", err)
			continue
		}
		framed := pool.EncodeRequestID(requestID, respBytes)
		if err := rpcproto.WriteFrame(conn, framed); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(req rpcproto.Message) rpcproto.Message {
	switch req.Type {
	case rpcproto.MsgSet:
		return s.handleSet(req)
	case rpcproto.MsgGet:
		return s.handleGet(req)
	case rpcproto.MsgDelete:
		return s.handleDelete(req)
	case rpcproto.MsgHas:
		return s.handleHas(req)
	case rpcproto.MsgGetFileSize:
		return s.handleGetFileSize(req)
	case rpcproto.MsgListKeys:
		return s.handleListKeys(req)
	case rpcproto.MsgSetMetadata:
		return s.handleSetMetadata(req)
	case rpcproto.MsgGetMetadata:
		return s.handleGetMetadata(req)
	case rpcproto.MsgDeleteMetadata:
		return s.handleDeleteMetadata(req)
	case rpcproto.MsgQueryMetadata:
		return s.handleQueryMetadata(req)
	case rpcproto.MsgCleanupExpired:
		return s.handleCleanupExpired(req)
	default:
		return errResponse(nadb.NewError(nadb.CodeProtocol, "unknown message type %v", req.Type))
	}
}

func okResponse() rpcproto.Message {
	return rpcproto.Message{Type: rpcproto.MsgResponse, Ok: true}
}

func errResponse(err error) rpcproto.Message {
	return rpcproto.Message{Type: rpcproto.MsgResponse, Ok: false, Err: nadb.CodeOf(err).String()}
}

func dataRelativePathKey(path string) string { return path }

func tagIndexKey(db, namespace, tag string) string {
	return db + "\x00" + namespace + "\x00" + tag
}

func (s *Server) handleSet(req rpcproto.Message) rpcproto.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[dataRelativePathKey(req.Key)] = append([]byte(nil), req.Value...)
	return okResponse()
}

func (s *Server) handleGet(req rpcproto.Message) rpcproto.Message {
	s.mu.Lock()
	data, ok := s.blobs[dataRelativePathKey(req.Key)]
	s.mu.Unlock()
	if !ok {
		return errResponse(nadb.NewError(nadb.CodeNotFound, "no data at %q", req.Key))
	}
	resp := okResponse()
	resp.Value = data
	return resp
}

func (s *Server) handleDelete(req rpcproto.Message) rpcproto.Message {
	s.mu.Lock()
	delete(s.blobs, dataRelativePathKey(req.Key))
	s.mu.Unlock()
	return okResponse()
}

func (s *Server) handleHas(req rpcproto.Message) rpcproto.Message {
	s.mu.Lock()
	_, ok := s.blobs[dataRelativePathKey(req.Key)]
	s.mu.Unlock()
	if !ok {
		return errResponse(nadb.NewError(nadb.CodeNotFound, "no data at %q", req.Key))
	}
	return okResponse()
}

func (s *Server) handleGetFileSize(req rpcproto.Message) rpcproto.Message {
	s.mu.Lock()
	data, ok := s.blobs[dataRelativePathKey(req.Key)]
	s.mu.Unlock()
	if !ok {
		return errResponse(nadb.NewError(nadb.CodeNotFound, "no data at %q", req.Key))
	}
	resp := okResponse()
	resp.MetaJSON = marshalJSON(wireSize{Size: int64(len(data))})
	return resp
}

func (s *Server) handleListKeys(req rpcproto.Message) rpcproto.Message {
	filter := req.Key
	s.mu.Lock()
	paths := make([]string, 0, len(s.blobs))
	for p := range s.blobs {
		if filter == "" || strings.HasPrefix(p, filter) {
			paths = append(paths, p)
		}
	}
	s.mu.Unlock()
	sort.Strings(paths)
	resp := okResponse()
	resp.MetaJSON = marshalJSON(wireKeys{Paths: paths})
	return resp
}

func (s *Server) handleSetMetadata(req rpcproto.Message) rpcproto.Message {
	var wr wireRecord
	if err := unmarshalJSON(req.MetaJSON, &wr); err != nil {
		return errResponse(err)
	}
	rec := fromWireRecord(wr)
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.LastUpdated = now
	rec.LastAccessed = now

	mk := metaKey{rec.DB, rec.Namespace, rec.Key}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, exists := s.records[mk]; exists {
		s.unindexTagsLocked(old)
	}
	s.records[mk] = rec
	s.indexTagsLocked(rec)
	return okResponse()
}

func (s *Server) indexTagsLocked(rec backend.Record) {
	for _, tag := range rec.Tags {
		k := tagIndexKey(rec.DB, rec.Namespace, tag)
		set, ok := s.tagIndex[k]
		if !ok {
			set = make(map[string]struct{})
			s.tagIndex[k] = set
		}
		set[rec.Key] = struct{}{}
	}
}

func (s *Server) unindexTagsLocked(rec backend.Record) {
	for _, tag := range rec.Tags {
		k := tagIndexKey(rec.DB, rec.Namespace, tag)
		if set, ok := s.tagIndex[k]; ok {
			delete(set, rec.Key)
			if len(set) == 0 {
				delete(s.tagIndex, k)
			}
		}
	}
}

func (s *Server) handleGetMetadata(req rpcproto.Message) rpcproto.Message {
	mk := metaKey{req.DB, req.Namespace, req.Key}
	s.mu.Lock()
	rec, ok := s.records[mk]
	if ok && rec.Expired(time.Now()) {
		delete(s.records, mk)
		s.unindexTagsLocked(rec)
		delete(s.blobs, rec.Path)
		ok = false
	}
	if ok {
		rec.LastAccessed = time.Now()
		s.records[mk] = rec
	}
	s.mu.Unlock()
	if !ok {
		return errResponse(nadb.NewError(nadb.CodeNotFound, "no metadata for %q/%q/%q", req.DB, req.Namespace, req.Key))
	}
	resp := okResponse()
	resp.MetaJSON = marshalJSON(toWireRecord(rec))
	return resp
}

func (s *Server) handleDeleteMetadata(req rpcproto.Message) rpcproto.Message {
	mk := metaKey{req.DB, req.Namespace, req.Key}
	s.mu.Lock()
	if rec, ok := s.records[mk]; ok {
		s.unindexTagsLocked(rec)
		delete(s.records, mk)
	}
	s.mu.Unlock()
	return okResponse()
}

func (s *Server) handleQueryMetadata(req rpcproto.Message) rpcproto.Message {
	var wq wireQuery
	if err := unmarshalJSON(req.MetaJSON, &wq); err != nil {
		return errResponse(err)
	}
	q := fromWireQuery(wq)
	now := time.Now()

	s.mu.Lock()
	var matches []backend.Record
	for _, rec := range s.records {
		if rec.DB != q.DB || rec.Namespace != q.Namespace {
			continue
		}
		if rec.Expired(now) {
			continue
		}
		if !recordMatchesQuery(rec, q) {
			continue
		}
		matches = append(matches, rec)
	}
	s.mu.Unlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].Key < matches[j].Key })
	if q.Offset > 0 && q.Offset < len(matches) {
		matches = matches[q.Offset:]
	} else if q.Offset >= len(matches) {
		matches = nil
	}
	if q.Limit > 0 && q.Limit < len(matches) {
		matches = matches[:q.Limit]
	}

	wrs := make([]wireRecord, len(matches))
	for i, rec := range matches {
		wrs[i] = toWireRecord(rec)
	}
	resp := okResponse()
	resp.MetaJSON = marshalJSON(wrs)
	return resp
}

func recordMatchesQuery(rec backend.Record, q backend.MetadataQuery) bool {
	for _, tag := range q.Tags {
		found := false
		for _, t := range rec.Tags {
			if t == tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.MinSize != nil && rec.Size < *q.MinSize {
		return false
	}
	if q.MaxSize != nil && rec.Size > *q.MaxSize {
		return false
	}
	if q.HasTTL != nil {
		if *q.HasTTL != (rec.TTLSeconds != nil) {
			return false
		}
	}
	if q.KeyPattern != "" && !likeMatch(rec.Key, q.KeyPattern) {
		return false
	}
	return true
}

// likeMatch implements SQL LIKE semantics for % and _ wildcards, with \
// as the escape character, matching the contract package catalog enforces
// for its SQLite-backed LIKE queries (§4.2).
func likeMatch(s, pattern string) bool {
	return globMatch([]rune(s), []rune(pattern))
}

func globMatch(s, p []rune) bool {
	if len(p) == 0 {
		return len(s) == 0
	}
	switch p[0] {
	case '\\':
		if len(p) < 2 {
			return false
		}
		if len(s) == 0 || s[0] != p[1] {
			return false
		}
		return globMatch(s[1:], p[2:])
	case '%':
		if globMatch(s, p[1:]) {
			return true
		}
		for i := 0; i < len(s); i++ {
			if globMatch(s[i+1:], p[1:]) {
				return true
			}
		}
		return false
	case '_':
		if len(s) == 0 {
			return false
		}
		return globMatch(s[1:], p[1:])
	default:
		if len(s) == 0 || s[0] != p[0] {
			return false
		}
		return globMatch(s[1:], p[1:])
	}
}

func (s *Server) handleCleanupExpired(req rpcproto.Message) rpcproto.Message {
	now := time.Now()
	s.mu.Lock()
	var expired []backend.Record
	for mk, rec := range s.records {
		if rec.DB != req.DB || rec.Namespace != req.Namespace {
			continue
		}
		if rec.Expired(now) {
			expired = append(expired, rec)
			delete(s.records, mk)
			s.unindexTagsLocked(rec)
			delete(s.blobs, rec.Path)
		}
	}
	s.mu.Unlock()

	wrs := make([]wireRecord, len(expired))
	for i, rec := range expired {
		wrs[i] = toWireRecord(rec)
	}
	resp := okResponse()
	resp.MetaJSON = marshalJSON(wrs)
	return resp
}
