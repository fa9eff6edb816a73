// Package buffer implements the Write Buffer (§4.3): an in-memory staging
// area for backends whose Capabilities.WriteStrategy is backend.WriteBuffered.
// It generalizes the original Python KeyValueStore's deque-based buffer
// (original_source/nakv.py: buffer_size_mb, _should_flush, _flush_to_disk)
// into a Go-idiomatic mutex-guarded map with a high-water-mark-triggered
// async flush, in the teacher's style of wrapping a bare engine with a
// small amount of policy (lib/store/lstore.storeImpl wrapping db.KVDB).
package buffer
