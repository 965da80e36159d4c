package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"prepflow-go/internal/backup"
	"prepflow-go/internal/logging"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Success bool     `json:"success"`
	Error   apiError `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("api: marshal response failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil && status >= http.StatusInternalServerError {
		logging.Error().Str("code", code).Str("error", sanitizeHeader(err.Error())).Msg("api error")
	}
	respondJSON(w, status, errorResponse{Error: apiError{Code: code, Message: message}})
}

// statusFor maps backup errors to an HTTP status and stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, backup.ErrInvalidFormat):
		return http.StatusBadRequest, "invalid_backup_format"
	case errors.Is(err, backup.ErrAuthFailed):
		return http.StatusUnauthorized, "wrong_password_or_corrupted"
	case errors.Is(err, backup.ErrOwnerMismatch):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, backup.ErrPasswordRequired):
		return http.StatusBadRequest, "password_required"
	case errors.Is(err, backup.ErrInvalidRequest), errors.Is(err, backup.ErrUnknownTable):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, backup.ErrBackupNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, backup.ErrUpload):
		return http.StatusBadGateway, "upload_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "cancelled"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func respondServiceError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	respondError(w, status, code, msg, err)
}

// sanitizeHeader drops control characters so values are safe to log.
func sanitizeHeader(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
