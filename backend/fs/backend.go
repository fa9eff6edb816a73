package fs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/nadb-org/nadb/backend"

	nadb "github.com/nadb-org/nadb"
)

// Options configures a filesystem Backend.
type Options struct {
	// RootPath is the directory data is written under. Created if absent.
	RootPath string
	// MaxValueSizeBytes, nil means unbounded, matching the spec's default
	// for filesystem backends.
	MaxValueSizeBytes *int64
}

type fsBackend struct {
	root string
	caps backend.Capabilities

	// mkdirMu serializes MkdirAll calls for a given directory so concurrent
	// writers racing to create the same shard directory don't both fail on
	// EEXIST in a way that looks like an error (MkdirAll itself tolerates
	// this, but we still serialize directory creation to avoid redundant
	// syscalls under heavy fan-in).
	mkdirMu sync.Mutex
}

// New creates a filesystem-backed Backend rooted at opts.RootPath.
func New(opts Options) (backend.Backend, error) {
	root, err := filepath.Abs(opts.RootPath)
	if err != nil {
		return nil, nadb.WrapError(nadb.CodeInvalidArgument, err, "resolve root path %q", opts.RootPath)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, nadb.WrapError(nadb.CodeBackendIO, err, "create root directory %q", root)
	}
	return &fsBackend{
		root: root,
		caps: backend.Capabilities{
			SupportsBuffering:     true,
			WriteStrategy:         backend.WriteBuffered,
			SupportsNativeTTL:     false,
			SupportsMetadata:      false,
			SupportsNativeQueries: false,
			IsDistributed:         false,
			SupportsCompression:   true,
			MaxValueSizeBytes:     opts.MaxValueSizeBytes,
		},
	}, nil
}

func (b *fsBackend) Capabilities() backend.Capabilities { return b.caps }

func (b *fsBackend) resolve(relativePath string) (string, error) {
	if !backend.ValidateRelativePath(relativePath) {
		return "", nadb.NewError(nadb.CodePathTraversal, "path %q escapes backend root", relativePath)
	}
	full := filepath.Join(b.root, filepath.FromSlash(relativePath))
	// Defense in depth: re-check the resolved path is still under root,
	// in case of symlink games or platform-specific path quirks.
	rel, err := filepath.Rel(b.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", nadb.NewError(nadb.CodePathTraversal, "path %q escapes backend root", relativePath)
	}
	return full, nil
}

func (b *fsBackend) WriteData(ctx context.Context, relativePath string, data []byte) error {
	if b.caps.MaxValueSizeBytes != nil && int64(len(data)) > *b.caps.MaxValueSizeBytes {
		return nadb.NewError(nadb.CodeValueTooLarge, "value of %d bytes exceeds max of %d", len(data), *b.caps.MaxValueSizeBytes)
	}
	full, err := b.resolve(relativePath)
	if err != nil {
		return err
	}

	dir := filepath.Dir(full)
	b.mkdirMu.Lock()
	mkErr := os.MkdirAll(dir, 0o755)
	b.mkdirMu.Unlock()
	if mkErr != nil {
		return nadb.WrapError(nadb.CodeBackendIO, mkErr, "create directory %q", dir)
	}

	tmp := full + ".tmp." + randomSuffix()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nadb.WrapError(nadb.CodeBackendIO, err, "write temp file %q", tmp)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return nadb.WrapError(nadb.CodeBackendIO, err, "rename %q to %q", tmp, full)
	}
	return nil
}

func (b *fsBackend) ReadData(ctx context.Context, relativePath string) ([]byte, error) {
	full, err := b.resolve(relativePath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nadb.NewError(nadb.CodeNotFound, "no data at %q", relativePath)
		}
		return nil, nadb.WrapError(nadb.CodeBackendIO, err, "read %q", full)
	}
	return data, nil
}

func (b *fsBackend) DeleteFile(ctx context.Context, relativePath string) error {
	full, err := b.resolve(relativePath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return nadb.WrapError(nadb.CodeBackendIO, err, "delete %q", full)
	}
	return nil
}

func (b *fsBackend) FileExists(ctx context.Context, relativePath string) (bool, error) {
	full, err := b.resolve(relativePath)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, nadb.WrapError(nadb.CodeBackendIO, err, "stat %q", full)
}

func (b *fsBackend) GetFileSize(ctx context.Context, relativePath string) (int64, error) {
	full, err := b.resolve(relativePath)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nadb.NewError(nadb.CodeNotFound, "no data at %q", relativePath)
		}
		return 0, nadb.WrapError(nadb.CodeBackendIO, err, "stat %q", full)
	}
	return info.Size(), nil
}

// ListKeys walks the root directory collecting every regular file whose
// relative path doesn't look like a leftover temp file. filter is matched
// as a prefix of the relative path (e.g. a db name), consistent with the
// "cursor-based iteration, no global scan lock" requirement: the walk
// itself holds no lock, only the final sorted slice is buffered in memory
// before iteration starts, so concurrent writers are never blocked.
func (b *fsBackend) ListKeys(ctx context.Context, filter string) (backend.KeyCursor, error) {
	var paths []string
	err := filepath.Walk(b.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.Contains(filepath.Base(p), ".tmp.") {
			return nil
		}
		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if filter != "" && !hasPrefix(rel, filter) {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, nadb.WrapError(nadb.CodeBackendIO, err, "list keys under %q", b.root)
	}
	sort.Strings(paths)
	return &sliceCursor{paths: paths, pos: -1}, nil
}

func (b *fsBackend) Close() error { return nil }

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func randomSuffix() string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
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
