package migration

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// maxBackupWindow caps decoder memory so a corrupt or hostile backup file
// cannot exhaust memory on restore (64MB).
const maxBackupWindow = 64 * 1024 * 1024

// ErrCorruptBackup indicates a backup file could not be decompressed or parsed.
var ErrCorruptBackup = errors.New("migration: corrupt backup")

// BackupRecord is the pre-migration state of one row. Values hold the stored
// (still encrypted) column values and their blind indexes by column name;
// nil means NULL.
type BackupRecord struct {
	RunID     string             `json:"run_id"`
	Table     string             `json:"table"`
	KeyColumn string             `json:"key_column"`
	Key       interface{}        `json:"key"`
	Values    map[string]*string `json:"values"`
}

// BackupWriter streams BackupRecords as zstd-compressed JSON lines.
// It is not safe for concurrent use.
type BackupWriter struct {
	zw    *zstd.Encoder
	enc   *json.Encoder
	runID string
	count int
}

// NewBackupWriter starts a backup stream on w for the given migration run.
func NewBackupWriter(w io.Writer, runID string) (*BackupWriter, error) {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("migration: creating zstd writer: %w", err)
	}
	return &BackupWriter{
		zw:    zw,
		enc:   json.NewEncoder(zw),
		runID: runID,
	}, nil
}

// Write appends a record, stamping it with the writer's run ID.
func (b *BackupWriter) Write(rec BackupRecord) error {
	rec.RunID = b.runID
	if err := b.enc.Encode(rec); err != nil {
		return fmt.Errorf("migration: writing backup record: %w", err)
	}
	b.count++
	return nil
}

// Count returns the number of records written.
func (b *BackupWriter) Count() int {
	return b.count
}

// Close flushes the compressed stream. It does not close the underlying writer.
func (b *BackupWriter) Close() error {
	return b.zw.Close()
}

// ReadBackup decodes every record from a backup stream.
func ReadBackup(r io.Reader) ([]BackupRecord, error) {
	zr, err := zstd.NewReader(r, zstd.WithDecoderMaxWindow(maxBackupWindow))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBackup, err)
	}
	defer zr.Close()

	var records []BackupRecord
	dec := json.NewDecoder(zr)
	dec.UseNumber()
	for {
		var rec BackupRecord
		err := dec.Decode(&rec)
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptBackup, err)
		}
		if n, ok := rec.Key.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				rec.Key = i
			} else {
				rec.Key = n.String()
			}
		}
		records = append(records, rec)
	}
}
