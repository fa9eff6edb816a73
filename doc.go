// Package nadb provides the ambient stack shared by every component of the
// storage engine: a structured error taxonomy, a structured event sink used
// in place of module-level logging globals, and metrics helpers built on
// VictoriaMetrics.
//
// The engine itself is composed from the sibling packages:
//
//   - backend: capability-typed storage backends (filesystem, networked KV)
//   - catalog: the metadata catalog used when a backend can't hold metadata
//   - buffer: the in-memory write buffer for buffered backends
//   - tagindex: the tag inverted index and query cache
//   - txn: the transaction manager
//   - backup: full/incremental backup and restore
//   - synchronizer: the background flush/TTL-sweep worker
//   - replication: primary/secondary replication
//   - store: the public facade tying all of the above together
package nadb
