// Package fs implements backend.Backend over a local directory tree.
//
// It is the Go-idiomatic, atomic-write generalization of the original
// Python KeyValueStore._flush_to_disk (original_source/nakv.py), which
// wrote files directly with open(path, 'w'); this implementation instead
// writes to a temp file in the same directory and renames it into place,
// so a crash mid-write never leaves a partially-written value behind,
// matching the "write-to-temp + rename" contract required by §4.1.
//
// Metadata is not held by this backend (Capabilities.SupportsMetadata is
// false); the store delegates metadata to package catalog for filesystem-
// backed stores.
package fs
