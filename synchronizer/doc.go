// Package synchronizer implements the Background Synchronizer (§4.7): a
// single worker that periodically flushes every registered store's write
// buffer and, at a longer interval, sweeps expired records.
//
// Start/stop is idempotent and atomic.Bool-guarded in the style of the
// teacher's mapleImpl garbage collector (lib/db/engines/maple/maple.go's
// startGC/stopGC around a single background goroutine), generalized from
// one in-process GC loop to a registry of stores this process flushes
// and sweeps on their behalf.
package synchronizer
