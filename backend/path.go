package backend

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
)

// DerivePath computes the backend-relative path for a (db, namespace, key)
// triple: <db>/<h[0:2]>/<h[2:4]>/<h> where h is the hex SHA-256 digest of
// "namespace\x00key" (§4.1, §6). The original Python implementation
// (nakv.py) hashes the key alone with blake2b and splits on single hex
// characters; this is generalized to two-byte shards (256 buckets per
// level instead of 16) to keep directory fan-out bounded for large
// databases, and the namespace is folded into the digest so the same key
// in two namespaces never collides on disk.
func DerivePath(db, namespace, key string) string {
	h := sha256.Sum256([]byte(namespace + "\x00" + key))
	digest := hex.EncodeToString(h[:])
	return path.Join(db, digest[0:2], digest[2:4], digest)
}

// ValidateRelativePath reports whether p is safe to resolve under a
// backend's root. It returns false for the empty path, absolute paths, and
// paths whose path.Clean form is "." or still contains a ".." component
// (i.e. would escape the root after normalization); other paths are
// accepted even when path.Clean rewrites them (e.g. "a//b", "a/./b").
// It returns a bool rather than an error to stay dependency-free (avoiding
// an import cycle with the root package); backends turn false into a
// CodePathTraversal error themselves.
func ValidateRelativePath(p string) bool {
	if p == "" {
		return false
	}
	if path.IsAbs(p) {
		return false
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return false
	}
	for _, seg := range strings.Split(cleaned, "/") {
		if seg == ".." || seg == "" {
			return false
		}
	}
	return true
}
