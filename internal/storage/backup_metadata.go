package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Fixed width so created_at sorts lexically.
const metadataTimeLayout = "2006-01-02T15:04:05.000000000Z"

// BackupMetadata is the provenance row written once per uploaded backup.
type BackupMetadata struct {
	ID             string         `json:"id"`
	UserID         string         `json:"userId"`
	EncryptionMode string         `json:"encryptionMode"`
	SizeBytes      int64          `json:"sizeBytes"`
	RecordCounts   map[string]int `json:"recordCounts"`
	StorageHandle  string         `json:"storageHandle"`
	Filename       string         `json:"filename"`
	CreatedAt      time.Time      `json:"createdAt"`
}

type MetadataStore struct {
	db *sql.DB
}

func NewMetadataStore(db *sql.DB) *MetadataStore {
	return &MetadataStore{db: db}
}

func (s *MetadataStore) RecordBackup(ctx context.Context, m BackupMetadata) error {
	if s == nil || s.db == nil {
		return errors.New("storage: db is nil")
	}
	if strings.TrimSpace(m.ID) == "" || strings.TrimSpace(m.UserID) == "" {
		return errors.New("storage: backup metadata id and user id are required")
	}
	counts := m.RecordCounts
	if counts == nil {
		counts = map[string]int{}
	}
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return err
	}
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO backup_metadata (id, user_id, encryption_mode, size_bytes, record_counts, storage_handle, filename, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?);",
		m.ID, m.UserID, m.EncryptionMode, m.SizeBytes, string(countsJSON), m.StorageHandle, m.Filename, createdAt.UTC().Format(metadataTimeLayout),
	)
	return err
}

func (s *MetadataStore) GetBackup(ctx context.Context, userID, id string) (BackupMetadata, bool, error) {
	if s == nil || s.db == nil {
		return BackupMetadata{}, false, errors.New("storage: db is nil")
	}
	row := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, encryption_mode, size_bytes, record_counts, storage_handle, filename, created_at FROM backup_metadata WHERE user_id = ? AND id = ?;",
		userID, id,
	)
	m, err := scanMetadata(row)
	if errors.Is(err, sql.ErrNoRows) {
		return BackupMetadata{}, false, nil
	}
	if err != nil {
		return BackupMetadata{}, false, err
	}
	return m, true, nil
}

// ListBackups returns the user's backups, newest first. limit <= 0 means no limit.
func (s *MetadataStore) ListBackups(ctx context.Context, userID string, limit int) ([]BackupMetadata, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage: db is nil")
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, encryption_mode, size_bytes, record_counts, storage_handle, filename, created_at FROM backup_metadata WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?;",
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []BackupMetadata{}
	for rows.Next() {
		m, err := scanMetadata(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PruneBackupMetadata keeps only the newest "keep" rows per user, deleting older ones.
// A keep value <= 0 means "no pruning".
func PruneBackupMetadata(ctx context.Context, db *sql.DB, keep int) (deleted int64, err error) {
	if db == nil || keep <= 0 {
		return 0, nil
	}

	res, err := db.ExecContext(ctx, `
DELETE FROM backup_metadata
WHERE id IN (
  SELECT id FROM (
    SELECT id, ROW_NUMBER() OVER (PARTITION BY user_id ORDER BY created_at DESC, id DESC) AS rn
    FROM backup_metadata
  ) WHERE rn > ?
);`, keep)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMetadata(row rowScanner) (BackupMetadata, error) {
	var m BackupMetadata
	var countsJSON, createdAt string
	if err := row.Scan(&m.ID, &m.UserID, &m.EncryptionMode, &m.SizeBytes, &countsJSON, &m.StorageHandle, &m.Filename, &createdAt); err != nil {
		return BackupMetadata{}, err
	}
	m.RecordCounts = map[string]int{}
	if strings.TrimSpace(countsJSON) != "" {
		if err := json.Unmarshal([]byte(countsJSON), &m.RecordCounts); err != nil {
			return BackupMetadata{}, err
		}
	}
	if ts, err := time.Parse(metadataTimeLayout, createdAt); err == nil {
		m.CreatedAt = ts
	}
	return m, nil
}
