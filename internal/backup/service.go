package backup

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"prepflow-go/internal/cloud"
	"prepflow-go/internal/logging"
	"prepflow-go/internal/model"
	"prepflow-go/internal/storage"
)

// Uploader stores encrypted containers and returns an opaque handle.
type Uploader interface {
	Upload(ctx context.Context, data []byte, userID, filename string) (string, error)
	Download(ctx context.Context, handle string) ([]byte, error)
}

// MetadataRecorder persists backup provenance.
type MetadataRecorder interface {
	RecordBackup(ctx context.Context, m storage.BackupMetadata) error
	GetBackup(ctx context.Context, userID, id string) (storage.BackupMetadata, bool, error)
}

// Locker serializes work per key. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Observer receives export and restore outcomes.
type Observer interface {
	ObserveExport(mode string, sizeBytes int, err error)
	ObserveRestore(strategy string, res *model.RestoreResult, err error)
}

type Deps struct {
	Source   RowSource
	Sink     RowSink
	Secrets  SecretStore
	Uploader Uploader
	Metadata MetadataRecorder
	Locker   Locker
	Observer Observer
	KDF      KDFParams
}

type Service struct {
	exporter *Exporter
	codec    *Codec
	engine   *Engine
	uploader Uploader
	metadata MetadataRecorder
	locker   Locker
	observer Observer
	log      zerolog.Logger

	newID func() string
	now   func() time.Time
}

func NewService(d Deps) *Service {
	var opts []CodecOption
	if d.KDF != (KDFParams{}) {
		opts = append(opts, WithKDFParams(d.KDF))
	}
	return &Service{
		exporter: NewExporter(d.Source, nil),
		codec:    NewCodec(d.Secrets, opts...),
		engine:   NewEngine(d.Sink),
		uploader: d.Uploader,
		metadata: d.Metadata,
		locker:   d.Locker,
		observer: d.Observer,
		log:      logging.Component("backup"),
		newID:    func() string { return uuid.NewString() },
		now:      time.Now,
	}
}

func (s *Service) Codec() *Codec { return s.codec }

type ExportRequest struct {
	UserID         string
	EncryptionMode string
	Password       string
}

type ExportResult struct {
	Success        bool           `json:"success"`
	FileID         string         `json:"fileId"`
	Filename       string         `json:"filename"`
	BackupID       string         `json:"backupId"`
	EncryptionMode string         `json:"encryptionMode"`
	SizeBytes      int            `json:"sizeBytes"`
	RecordCounts   map[string]int `json:"recordCounts"`
}

// Export builds an encrypted container for the user without uploading it.
func (s *Service) Export(ctx context.Context, userID string, mode Mode) ([]byte, *model.Payload, error) {
	unlock, err := s.lock(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	p, err := s.exporter.Export(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.codec.Encode(ctx, p, mode)
	if err != nil {
		return nil, nil, err
	}
	return data, p, nil
}

// ExportAndUpload exports, encrypts and uploads, then records metadata.
// A metadata failure is logged and does not fail the call.
func (s *Service) ExportAndUpload(ctx context.Context, req ExportRequest) (res *ExportResult, err error) {
	mode, err := ParseMode(req.EncryptionMode, req.Password)
	if err != nil {
		return nil, err
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, invalidRequest("user id is required")
	}
	if s.uploader == nil {
		return nil, fmt.Errorf("%w: no uploader configured", ErrUpload)
	}

	size := 0
	defer func() {
		if s.observer != nil {
			s.observer.ObserveExport(mode.Kind().String(), size, err)
		}
	}()

	data, p, err := s.Export(ctx, userID, mode)
	if err != nil {
		return nil, err
	}
	size = len(data)

	createdAt := s.now().UTC()
	filename := BackupFilename(userID, createdAt)
	handle, err := s.uploader.Upload(ctx, data, userID, filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpload, err)
	}

	res = &ExportResult{
		Success:        true,
		FileID:         handle,
		Filename:       filename,
		BackupID:       s.newID(),
		EncryptionMode: mode.Kind().String(),
		SizeBytes:      size,
		RecordCounts:   p.Metadata.RecordCounts,
	}

	if s.metadata != nil {
		rec := storage.BackupMetadata{
			ID:             res.BackupID,
			UserID:         userID,
			EncryptionMode: res.EncryptionMode,
			SizeBytes:      int64(size),
			RecordCounts:   p.Metadata.RecordCounts,
			StorageHandle:  handle,
			Filename:       filename,
			CreatedAt:      createdAt,
		}
		if err := s.metadata.RecordBackup(ctx, rec); err != nil {
			s.log.Error().Err(err).
				Str("user", userID).
				Str("backup_id", res.BackupID).
				Str("handle", handle).
				Msg("record backup metadata failed")
		}
	}

	s.log.Info().
		Str("user", userID).
		Str("mode", res.EncryptionMode).
		Str("size", humanize.IBytes(uint64(size))).
		Int("records", p.TotalRecords()).
		Str("file", filename).
		Msg("backup exported")
	return res, nil
}

type RestoreRequest struct {
	UserID     string
	BackupFile string
	BackupID   string
	Mode       string
	Tables     []string
	Options    *model.MergeOptions
	Password   string
}

// Restore validates the request, resolves the container bytes and restores
// under the user's lock. Validation failures return before any decryption.
func (s *Service) Restore(ctx context.Context, req RestoreRequest) (*model.RestoreResult, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, invalidRequest("user id is required")
	}
	strategy, err := ParseStrategy(req.Mode, req.Tables, req.Options)
	if err != nil {
		return nil, err
	}

	var data []byte
	switch {
	case req.BackupFile != "":
		data, err = base64.StdEncoding.DecodeString(strings.TrimSpace(req.BackupFile))
		if err != nil {
			return nil, invalidRequest("backupFile is not valid base64")
		}
	case req.BackupID != "":
		data, err = s.download(ctx, userID, req.BackupID)
		if err != nil {
			return nil, err
		}
	default:
		return nil, invalidRequest("backupFile or backupId is required")
	}

	return s.RestoreBytes(ctx, userID, data, req.Password, strategy)
}

// RestoreBytes decrypts data and restores it for userID.
func (s *Service) RestoreBytes(ctx context.Context, userID string, data []byte, password string, strategy Strategy) (res *model.RestoreResult, err error) {
	defer func() {
		if s.observer != nil && strategy != nil {
			s.observer.ObserveRestore(strategy.Name(), res, err)
		}
	}()

	h, err := Inspect(data)
	if err != nil {
		return nil, err
	}
	if h.Mode == ModeKindUserPassword && password == "" {
		return nil, ErrPasswordRequired
	}

	unlock, err := s.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	_, p, err := s.codec.Decode(ctx, data, password)
	if err != nil {
		if errors.Is(err, ErrAuthFailed) {
			s.log.Warn().Str("user", userID).Str("mode", h.Mode.String()).Msg("backup authentication failed")
		}
		return nil, err
	}
	return s.engine.Restore(ctx, p, userID, strategy)
}

func (s *Service) download(ctx context.Context, userID, id string) ([]byte, error) {
	if s.metadata == nil || s.uploader == nil {
		return nil, fmt.Errorf("%w: %s", ErrBackupNotFound, id)
	}
	m, ok, err := s.metadata.GetBackup(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackupNotFound, id)
	}
	data, err := s.uploader.Download(ctx, m.StorageHandle)
	if errors.Is(err, cloud.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s: %w", ErrBackupNotFound, id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("download backup %s: %w", id, err)
	}
	return data, nil
}

func (s *Service) lock(ctx context.Context, userID string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	return s.locker.Lock(ctx, "backup:user:"+userID)
}

// BackupFilename names a container for userID created at t.
func BackupFilename(userID string, t time.Time) string {
	var b strings.Builder
	for _, r := range userID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return fmt.Sprintf("prepflow-backup-%s-%s.pfbak", b.String(), t.UTC().Format("20060102T150405Z"))
}
