package fs

import (
	"context"
	"testing"

	"github.com/nadb-org/nadb/backend"

	nadb "github.com/nadb-org/nadb"
)

func newTestBackend(t *testing.T) backend.Backend {
	t.Helper()
	b, err := New(Options{RootPath: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	if err := b.WriteData(ctx, "db/aa/bb/deadbeef", []byte("hello")); err != nil {
		t.Fatalf("WriteData: %v", err)
	}
	got, err := b.ReadData(ctx, "db/aa/bb/deadbeef")
	if err != nil {
		t.Fatalf("ReadData: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q want %q", got, "hello")
	}
}

func TestReadMissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	_, err := b.ReadData(ctx, "db/aa/bb/missing")
	if !nadb.IsCode(err, nadb.CodeNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	if err := b.DeleteFile(ctx, "db/aa/bb/never-existed"); err != nil {
		t.Fatalf("delete of absent path should not error: %v", err)
	}

	if err := b.WriteData(ctx, "db/aa/bb/k", []byte("v")); err != nil {
		t.Fatalf("WriteData: %v", err)
	}
	if err := b.DeleteFile(ctx, "db/aa/bb/k"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if err := b.DeleteFile(ctx, "db/aa/bb/k"); err != nil {
		t.Fatalf("second delete should still be idempotent: %v", err)
	}
}

func TestPathTraversalRejected(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	cases := []string{
		"../escape",
		"db/../../escape",
		"/absolute/path",
		"db/../../../etc/passwd",
	}
	for _, c := range cases {
		if err := b.WriteData(ctx, c, []byte("x")); !nadb.IsCode(err, nadb.CodePathTraversal) {
			t.Errorf("path %q: expected PathTraversal, got %v", c, err)
		}
	}
}

func TestValueTooLarge(t *testing.T) {
	ctx := context.Background()
	max := int64(4)
	b, err := New(Options{RootPath: t.TempDir(), MaxValueSizeBytes: &max})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = b.WriteData(ctx, "db/aa/bb/k", []byte("toolong"))
	if !nadb.IsCode(err, nadb.CodeValueTooLarge) {
		t.Fatalf("expected ValueTooLarge, got %v", err)
	}
}

func TestListKeysFiltersByPrefix(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	paths := []string{"db1/aa/bb/k1", "db1/cc/dd/k2", "db2/aa/bb/k3"}
	for _, p := range paths {
		if err := b.WriteData(ctx, p, []byte("v")); err != nil {
			t.Fatalf("WriteData(%q): %v", p, err)
		}
	}

	cur, err := b.ListKeys(ctx, "db1/")
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
