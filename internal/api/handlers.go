package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"prepflow-go/internal/backup"
	"prepflow-go/internal/model"
	"prepflow-go/internal/storage"
)

var timeNow = time.Now

type exportRequest struct {
	EncryptionMode string `json:"encryptionMode" validate:"required,oneof=prepflow-only user-password"`
	Password       string `json:"password" validate:"required_if=EncryptionMode user-password"`
}

type restoreRequest struct {
	BackupFile string              `json:"backupFile" validate:"required_without=BackupID"`
	BackupID   string              `json:"backupId" validate:"omitempty,max=128"`
	Mode       string              `json:"mode" validate:"required,oneof=full selective merge"`
	Tables     []string            `json:"tables" validate:"required_if=Mode selective,omitempty,max=64,dive,required,max=64"`
	Options    *model.MergeOptions `json:"options"`
	Password   string              `json:"password"`
}

type restoreResponse struct {
	Success bool                 `json:"success"`
	Result  *model.RestoreResult `json:"result"`
}

type listResponse struct {
	Success bool                     `json:"success"`
	Backups []storage.BackupMetadata `json:"backups"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid JSON body", nil)
		return false
	}
	if err := validateStruct(v); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return false
	}
	return true
}

func (s *server) exportBackup(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.backups.ExportAndUpload(r.Context(), backup.ExportRequest{
		UserID:         userFrom(r.Context()),
		EncryptionMode: req.EncryptionMode,
		Password:       req.Password,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// downloadBackup streams the encrypted container back to the caller instead of
// uploading it.
func (s *server) downloadBackup(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	mode, err := backup.ParseMode(req.EncryptionMode, req.Password)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	userID := userFrom(r.Context())
	data, _, err := s.backups.Export(r.Context(), userID, mode)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	filename := backup.BackupFilename(userID, timeNow())
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set(
		"Content-Disposition",
		fmt.Sprintf("attachment; filename=%q; filename*=UTF-8''%s", filename, url.PathEscape(filename)),
	)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *server) restoreBackup(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.backups.Restore(r.Context(), backup.RestoreRequest{
		UserID:     userFrom(r.Context()),
		BackupFile: req.BackupFile,
		BackupID:   strings.TrimSpace(req.BackupID),
		Mode:       req.Mode,
		Tables:     req.Tables,
		Options:    req.Options,
		Password:   req.Password,
	})
	if err != nil {
		if res != nil {
			status, _ := statusFor(err)
			respondJSON(w, status, restoreResponse{Success: false, Result: res})
			return
		}
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, restoreResponse{Success: res.Success, Result: res})
}

func (s *server) listBackups(w http.ResponseWriter, r *http.Request) {
	if s.lister == nil {
		respondJSON(w, http.StatusOK, listResponse{Success: true, Backups: []storage.BackupMetadata{}})
		return
	}
	limit := defaultListSize
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxListSize {
			respondError(w, http.StatusBadRequest, "validation_error", fmt.Sprintf("limit must be between 1 and %d", maxListSize), nil)
			return
		}
		limit = n
	}
	list, err := s.lister.ListBackups(r.Context(), userFrom(r.Context()), limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if list == nil {
		list = []storage.BackupMetadata{}
	}
	respondJSON(w, http.StatusOK, listResponse{Success: true, Backups: list})
}
