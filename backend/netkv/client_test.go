package netkv_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/nadb-org/nadb/backend"
	"github.com/nadb-org/nadb/backend/netkv"
	"github.com/nadb-org/nadb/backend/netkv/memserver"

	nadb "github.com/nadb-org/nadb"
)

func startTestServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := memserver.New(nil, nil)
	go srv.Serve(l)
	return l.Addr().String(), func() { srv.Close() }
}

func newTestClient(t *testing.T, addr string) backend.MetadataBackend {
	t.Helper()
	c, err := netkv.New(netkv.Options{
		Endpoints:      []string{addr},
		DialTimeout:    2 * time.Second,
		RequestTimeout: 2 * time.Second,
		MaxRetries:     2,
	})
	if err != nil {
		t.Fatalf("netkv.New: %v", err)
	}
	return c
}

func TestWriteReadRoundTrip(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()
	c := newTestClient(t, addr)
	defer c.Close()
	ctx := context.Background()

	if err := c.WriteData(ctx, "db/aa/bb/k", []byte("hello")); err != nil {
		t.Fatalf("WriteData: %v", err)
	}
	got, err := c.ReadData(ctx, "db/aa/bb/k")
	if err != nil {
		t.Fatalf("ReadData: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q want %q", got, "hello")
	}

	exists, err := c.FileExists(ctx, "db/aa/bb/k")
	if err != nil || !exists {
		t.Fatalf("FileExists: %v %v", exists, err)
	}

	size, err := c.GetFileSize(ctx, "db/aa/bb/k")
	if err != nil || size != 5 {
		t.Fatalf("GetFileSize: %d %v", size, err)
	}

	if err := c.DeleteFile(ctx, "db/aa/bb/k"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if err := c.DeleteFile(ctx, "db/aa/bb/k"); err != nil {
		t.Fatalf("second delete should be idempotent: %v", err)
	}

	_, err = c.ReadData(ctx, "db/aa/bb/k")
	if !nadb.IsCode(err, nadb.CodeNotFound) {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
}

func TestMetadataLifecycle(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()
	c := newTestClient(t, addr)
	defer c.Close()
	ctx := context.Background()

	ttl := int64(60)
	rec := backend.Record{
		DB: "mydb", Namespace: "users", Key: "alice",
		Path: "mydb/aa/bb/alice", Size: 11, TTLSeconds: &ttl,
		Tags: []string{"vip", "eu"},
	}
	if err := c.SetMetadata(ctx, rec); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}

	got, ok, err := c.GetMetadata(ctx, "mydb", "users", "alice")
	if err != nil || !ok {
		t.Fatalf("GetMetadata: %v %v", ok, err)
	}
	if got.Key != "alice" || got.Size != 11 || len(got.Tags) != 2 {
		t.Fatalf("unexpected record: %+v", got)
	}

	results, err := c.QueryMetadata(ctx, backend.MetadataQuery{DB: "mydb", Namespace: "users", Tags: []string{"vip"}})
	if err != nil {
		t.Fatalf("QueryMetadata: %v", err)
	}
	if len(results) != 1 || results[0].Key != "alice" {
		t.Fatalf("unexpected query results: %+v", results)
	}

	if err := c.DeleteMetadata(ctx, "mydb", "users", "alice"); err != nil {
		t.Fatalf("DeleteMetadata: %v", err)
	}
	_, ok, err = c.GetMetadata(ctx, "mydb", "users", "alice")
	if err != nil || ok {
		t.Fatalf("expected metadata gone, got ok=%v err=%v", ok, err)
	}
}

func TestListKeysFiltersByPrefix(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()
	c := newTestClient(t, addr)
	defer c.Close()
	ctx := context.Background()

	for _, p := range []string{"db1/aa/bb/k1", "db1/cc/dd/k2", "db2/aa/bb/k3"} {
		if err := c.WriteData(ctx, p, []byte("v")); err != nil {
			t.Fatalf("WriteData(%q): %v", p, err)
		}
	}
	cur, err := c.ListKeys(ctx, "db1/")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	defer cur.Close()
	var got []string
	for cur.Next(ctx) {
		got = append(got, cur.Path())
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 keys under db1/, got %v", got)
	}
}
