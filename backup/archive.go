package backup

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"

	nadb "github.com/nadb-org/nadb"
)

// Header describes a backup set, mirroring original_source's
// BackupMetadata dataclass.
type Header struct {
	BackupID       string    `json:"backup_id"`
	Timestamp      time.Time `json:"timestamp"`
	Type           string    `json:"type"` // "full" or "incremental"
	SourceDB       string    `json:"source_db"`
	SourceNS       string    `json:"source_namespace"`
	ParentBackupID string    `json:"parent_backup_id,omitempty"`
	FileCount      int       `json:"file_count"`
	TotalSize      int64     `json:"total_size"`
	Compression    bool      `json:"compression"`
	ArchiveChecksum string   `json:"archive_checksum"`
}

// entry is one backed-up key, mirroring original_source's BackupItem.
type entry struct {
	Key          string   `json:"key"`
	Value        []byte   `json:"value"` // encoding/json base64-encodes []byte automatically
	Tags         []string `json:"tags"`
	CreatedAt    time.Time `json:"created_at"`
	LastUpdated  time.Time `json:"last_updated"`
	TTLSeconds   *int64   `json:"ttl_seconds,omitempty"`
	Checksum     string   `json:"checksum"`
}

// archiveFile is the on-disk/on-backend representation: header plus the
// entry stream the header's checksum covers.
type archiveFile struct {
	Header  Header  `json:"header"`
	Entries []entry `json:"entries"`
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// encodeArchive serializes entries, computes the archive checksum over
// that exact byte stream (§4.6: "the overall archive checksum covers the
// entry stream"), fills it into header, and returns the final bytes to
// persist - gzip-compressed when header.Compression is set.
func encodeArchive(header Header, entries []entry) ([]byte, Header, error) {
	entryStream, err := json.Marshal(entries)
	if err != nil {
		return nil, header, nadb.WrapError(nadb.CodeInternalError, err, "marshal backup entries")
	}
	header.ArchiveChecksum = sha256Hex(entryStream)
	header.FileCount = len(entries)

	full, err := json.Marshal(archiveFile{Header: header, Entries: entries})
	if err != nil {
		return nil, header, nadb.WrapError(nadb.CodeInternalError, err, "marshal backup archive")
	}

	if !header.Compression {
		return full, header, nil
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(full); err != nil {
		return nil, header, nadb.WrapError(nadb.CodeInternalError, err, "gzip backup archive")
	}
	if err := gw.Close(); err != nil {
		return nil, header, nadb.WrapError(nadb.CodeInternalError, err, "close gzip writer")
	}
	return buf.Bytes(), header, nil
}

// decodeArchive reverses encodeArchive, auto-detecting gzip via header.Compression.
func decodeArchive(raw []byte, compression bool) (archiveFile, error) {
	data := raw
	if compression {
		gr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return archiveFile{}, nadb.WrapError(nadb.CodeCorruption, err, "open gzip backup archive")
		}
		defer gr.Close()
		decoded, err := io.ReadAll(gr)
		if err != nil {
			return archiveFile{}, nadb.WrapError(nadb.CodeCorruption, err, "read gzip backup archive")
		}
		data = decoded
	}

	var af archiveFile
	if err := json.Unmarshal(data, &af); err != nil {
		return archiveFile{}, nadb.WrapError(nadb.CodeCorruption, err, "unmarshal backup archive")
	}
	return af, nil
}

// verifyChecksums recomputes per-entry and archive checksums from af and
// reports whether they all match what af.Header claims.
func verifyChecksums(af archiveFile) bool {
	for _, e := range af.Entries {
		if sha256Hex(e.Value) != e.Checksum {
			return false
		}
	}
	entryStream, err := json.Marshal(af.Entries)
	if err != nil {
		return false
	}
	if sha256Hex(entryStream) != af.Header.ArchiveChecksum {
		return false
	}
	return len(af.Entries) == af.Header.FileCount
}
