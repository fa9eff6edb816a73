package backup

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nadb-org/nadb/backend"

	nadb "github.com/nadb-org/nadb"
)

const indexPath = "metadata.json"

func archivePath(backupID string) string { return backupID + "/data.bin" }

// Manager runs backup/restore operations for one Store, persisting
// archives through an archive backend.Backend and keeping a JSON index
// of every known Header alongside them, per original_source's
// BackupManager._load_backup_metadata / _save_all_backup_metadata.
type Manager struct {
	store   Store
	archive backend.Backend
	sink    nadb.EventSink

	mu    sync.Mutex
	index map[string]Header
}

// NewManager loads the existing backup index from archive (if any) and
// returns a Manager ready to create/restore/verify backups.
func NewManager(ctx context.Context, store Store, archive backend.Backend, sink nadb.EventSink) (*Manager, error) {
	if sink == nil {
		sink = nadb.NoopEventSink()
	}
	m := &Manager{store: store, archive: archive, sink: sink, index: make(map[string]Header)}

	raw, err := archive.ReadData(ctx, indexPath)
	if err != nil {
		if nadb.IsCode(err, nadb.CodeNotFound) {
			return m, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(raw, &m.index); err != nil {
		return nil, nadb.WrapError(nadb.CodeCorruption, err, "load backup index")
	}
	return m, nil
}

func (m *Manager) saveIndexLocked(ctx context.Context) error {
	raw, err := json.MarshalIndent(m.index, "", "  ")
	if err != nil {
		return nadb.WrapError(nadb.CodeInternalError, err, "marshal backup index")
	}
	return m.archive.WriteData(ctx, indexPath, raw)
}

func defaultBackupID(prefix string, now time.Time) string {
	return prefix + "_" + now.Format("20060102_150405")
}

// collectEntries reads every key in keys through the store, logging and
// skipping ones that fail to read rather than aborting the whole backup
// (original_source's per-key try/except continue).
func (m *Manager) collectEntries(ctx context.Context, db, namespace string, keys []string) ([]entry, int64) {
	entries := make([]entry, 0, len(keys))
	var total int64
	for _, key := range keys {
		value, rec, found, err := m.store.GetWithMetadata(ctx, db, namespace, key)
		if err != nil || !found {
			m.sink.Warningf("backup", "failed to backup key %q: %v", key, err)
			continue
		}
		entries = append(entries, entry{
			Key:         key,
			Value:       value,
			Tags:        rec.Tags,
			CreatedAt:   rec.CreatedAt,
			LastUpdated: rec.LastUpdated,
			TTLSeconds:  rec.TTLSeconds,
			Checksum:    sha256Hex(value),
		})
		total += int64(len(value))
	}
	return entries, total
}

// CreateFullBackup enumerates every key in (db, namespace) and writes a
// full backup archive, per §4.6.
func (m *Manager) CreateFullBackup(ctx context.Context, db, namespace, backupID string, compression bool) (Header, error) {
	now := time.Now()
	if backupID == "" {
		backupID = defaultBackupID("full", now)
	}

	keys, err := m.store.ListKeys(ctx, db, namespace)
	if err != nil {
		return Header{}, err
	}
	m.sink.Infof("backup", "starting full backup %s with %d keys", backupID, len(keys))

	entries, total := m.collectEntries(ctx, db, namespace, keys)
	header := Header{
		BackupID:    backupID,
		Timestamp:   now,
		Type:        "full",
		SourceDB:    db,
		SourceNS:    namespace,
		TotalSize:   total,
		Compression: compression,
	}
	return m.writeAndRegister(ctx, header, entries)
}

// CreateIncrementalBackup backs up only keys modified since parentBackupID's
// timestamp, per §4.6.
func (m *Manager) CreateIncrementalBackup(ctx context.Context, parentBackupID, backupID string, compression bool) (Header, error) {
	m.mu.Lock()
	parent, ok := m.index[parentBackupID]
	m.mu.Unlock()
	if !ok {
		return Header{}, nadb.NewError(nadb.CodeNotFound, "parent backup %q not found", parentBackupID)
	}

	now := time.Now()
	if backupID == "" {
		backupID = defaultBackupID("inc", now)
	}

	keys, err := m.store.ListKeysModifiedSince(ctx, parent.SourceDB, parent.SourceNS, parent.Timestamp)
	if err != nil {
		return Header{}, err
	}
	m.sink.Infof("backup", "starting incremental backup %s with %d modified keys", backupID, len(keys))

	entries, total := m.collectEntries(ctx, parent.SourceDB, parent.SourceNS, keys)
	header := Header{
		BackupID:       backupID,
		Timestamp:      now,
		Type:           "incremental",
		SourceDB:       parent.SourceDB,
		SourceNS:       parent.SourceNS,
		ParentBackupID: parentBackupID,
		TotalSize:      total,
		Compression:    compression,
	}
	return m.writeAndRegister(ctx, header, entries)
}

func (m *Manager) writeAndRegister(ctx context.Context, header Header, entries []entry) (Header, error) {
	raw, header, err := encodeArchive(header, entries)
	if err != nil {
		return Header{}, err
	}
	if err := m.archive.WriteData(ctx, archivePath(header.BackupID), raw); err != nil {
		return Header{}, nadb.WrapError(nadb.CodeBackendIO, err, "write backup archive %s", header.BackupID)
	}

	m.mu.Lock()
	m.index[header.BackupID] = header
	err = m.saveIndexLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		return Header{}, err
	}

	m.sink.Infof("backup", "backup %s completed (%d files, %s)", header.BackupID, header.FileCount, humanize.Bytes(uint64(header.TotalSize)))
	return header, nil
}

func (m *Manager) readArchive(ctx context.Context, header Header) (archiveFile, error) {
	raw, err := m.archive.ReadData(ctx, archivePath(header.BackupID))
	if err != nil {
		return archiveFile{}, err
	}
	return decodeArchive(raw, header.Compression)
}

// VerifyIntegrity re-reads the archive, recomputes per-entry and archive
// checksums, and reports whether they all match, per §4.6.
func (m *Manager) VerifyIntegrity(ctx context.Context, backupID string) (bool, error) {
	m.mu.Lock()
	header, ok := m.index[backupID]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}

	af, err := m.readArchive(ctx, header)
	if err != nil {
		m.sink.Errorf("backup", "backup %s integrity verification failed: %v", backupID, err)
		return false, nil
	}
	ok = verifyChecksums(af)
	if !ok {
		m.sink.Errorf("backup", "backup %s checksum mismatch", backupID)
	}
	return ok, nil
}

// backupChain returns backupID's ancestor chain, oldest first, per
// original_source's _get_backup_chain.
func (m *Manager) backupChain(backupID string) []string {
	var chain []string
	current := backupID
	for current != "" {
		chain = append(chain, current)
		h, ok := m.index[current]
		if !ok {
			break
		}
		current = h.ParentBackupID
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Restore applies backupID's backup chain (oldest ancestor forward) to
// the store, per §4.6.
func (m *Manager) Restore(ctx context.Context, backupID string, verify, clearExisting bool) (int, error) {
	m.mu.Lock()
	header, ok := m.index[backupID]
	chain := m.backupChain(backupID)
	m.mu.Unlock()
	if !ok {
		return 0, nadb.NewError(nadb.CodeNotFound, "backup %q not found", backupID)
	}

	if verify {
		okChecksum, err := m.VerifyIntegrity(ctx, backupID)
		if err != nil {
			return 0, err
		}
		if !okChecksum {
			return 0, nadb.NewError(nadb.CodeCorruption, "backup %q failed integrity check", backupID)
		}
	}

	if clearExisting {
		m.sink.Infof("backup", "clearing existing data before restoring %s", backupID)
		if err := m.store.DeleteAll(ctx, header.SourceDB, header.SourceNS); err != nil {
			return 0, err
		}
	}

	restored := 0
	seen := make(map[string]struct{})
	for _, chainID := range chain {
		m.mu.Lock()
		chainHeader := m.index[chainID]
		m.mu.Unlock()

		af, err := m.readArchive(ctx, chainHeader)
		if err != nil {
			return restored, err
		}
		for _, e := range af.Entries {
			var restoreErr error
			if e.TTLSeconds != nil {
				restoreErr = m.store.SetWithTTL(ctx, chainHeader.SourceDB, chainHeader.SourceNS, e.Key, e.Value, *e.TTLSeconds, e.Tags)
			} else {
				restoreErr = m.store.Set(ctx, chainHeader.SourceDB, chainHeader.SourceNS, e.Key, e.Value, e.Tags)
			}
			if restoreErr != nil {
				m.sink.Errorf("backup", "failed to restore key %q: %v", e.Key, restoreErr)
				continue
			}
			if _, dup := seen[e.Key]; !dup {
				seen[e.Key] = struct{}{}
				restored++
			}
		}
	}

	if err := m.store.Flush(ctx); err != nil {
		return restored, err
	}
	m.sink.Infof("backup", "restore from backup %s completed, restored %d keys", backupID, restored)
	return restored, nil
}

// ListBackups returns every known Header.
func (m *Manager) ListBackups() []Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Header, 0, len(m.index))
	for _, h := range m.index {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// DeleteBackup removes a backup's archive and index entry. Unless force
// is set, it refuses to delete a backup that other incremental backups
// depend on.
func (m *Manager) DeleteBackup(ctx context.Context, backupID string, force bool) error {
	m.mu.Lock()
	if _, ok := m.index[backupID]; !ok {
		m.mu.Unlock()
		return nadb.NewError(nadb.CodeNotFound, "backup %q not found", backupID)
	}
	if !force {
		for _, h := range m.index {
			if h.ParentBackupID == backupID {
				m.mu.Unlock()
				return nadb.NewError(nadb.CodeInvalidState, "cannot delete backup %q: backup %q depends on it", backupID, h.BackupID)
			}
		}
	}
	delete(m.index, backupID)
	err := m.saveIndexLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if err := m.archive.DeleteFile(ctx, archivePath(backupID)); err != nil {
		m.sink.Warningf("backup", "failed to delete archive for backup %s: %v", backupID, err)
		return err
	}
	m.sink.Infof("backup", "backup %s deleted", backupID)
	return nil
}

// CleanupOldBackups deletes backups older than keepDays, beyond the
// keepCount most recent, per §4.6.
func (m *Manager) CleanupOldBackups(ctx context.Context, keepDays, keepCount int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -keepDays)

	sorted := m.ListBackups() // already newest-first
	var toDelete []string
	for i, h := range sorted {
		if i >= keepCount && h.Timestamp.Before(cutoff) {
			toDelete = append(toDelete, h.BackupID)
		}
	}

	deleted := 0
	for _, id := range toDelete {
		if err := m.DeleteBackup(ctx, id, true); err != nil {
			m.sink.Errorf("backup", "failed to delete old backup %s: %v", id, err)
			continue
		}
		deleted++
	}
	m.sink.Infof("backup", "cleaned up %d old backups", deleted)
	return deleted, nil
}
