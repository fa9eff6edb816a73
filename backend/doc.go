// Package backend defines the capability-typed storage backend contract
// (§4.1 of the specification) that the store facade routes through.
//
// Each concrete backend (backend/fs, backend/netkv) publishes a
// Capabilities descriptor once, at construction, which the store reads to
// decide whether to buffer writes, whether to delegate metadata to the
// catalog package, and whether to push tag queries down to the backend
// itself. This generalizes the teacher's db.KVDB bit-flag SupportsFeature
// method into a capability struct, since the spec's capabilities carry
// values (MaxValueSizeBytes) and not just booleans.
package backend
