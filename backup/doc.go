// Package backup implements the Backup Manager (§4.6): full and
// incremental snapshots of a (db, namespace) with per-entry and
// per-archive SHA-256 checksums, verification, restore, and retention
// cleanup.
//
// It generalizes original_source/backup_manager.py's BackupManager: the
// same full/incremental/restore/verify/cleanup operations, the same
// backup-chain-walk-to-oldest-ancestor restore algorithm, and the same
// JSON metadata index persisted alongside the archives. Two departures
// from the original: archives are written through a backend.Backend
// (so a backup set can itself live on any storage backend, including a
// networked one, rather than always the local filesystem) and the
// archive body is gzip-compressed with klauspost/compress rather than
// Python's stdlib gzip module.
package backup
