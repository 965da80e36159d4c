package cloud

import (
	"context"
	"errors"
	"path"
	"strings"
)

var ErrNotFound = errors.New("cloud: object not found")

// Store holds encrypted backup containers. Handles are opaque to callers.
type Store interface {
	Upload(ctx context.Context, data []byte, userID, filename string) (string, error)
	Download(ctx context.Context, handle string) ([]byte, error)
}

var (
	_ Store = (*LocalDir)(nil)
	_ Store = (*S3)(nil)
	_ Store = (*Drive)(nil)
)

const ContentType = "application/octet-stream"

// objectKey places a container under a per-user prefix.
func objectKey(userID, filename string) (string, error) {
	u := cleanSegment(userID)
	f := cleanSegment(filename)
	if u == "" || f == "" {
		return "", errors.New("cloud: user id and filename are required")
	}
	return path.Join("backups", u, f), nil
}

func cleanSegment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	if s == "." || s == ".." {
		return ""
	}
	return s
}
