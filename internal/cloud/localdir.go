package cloud

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalDir stores containers on the local filesystem. The handle is the
// slash-separated key relative to the root.
type LocalDir struct {
	root string
}

func NewLocalDir(root string) (*LocalDir, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("cloud: storage dir is empty")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, err
	}
	return &LocalDir{root: root}, nil
}

func (l *LocalDir) Upload(ctx context.Context, data []byte, userID, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := objectKey(userID, filename)
	if err != nil {
		return "", err
	}
	full := filepath.Join(l.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return "", err
	}

	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return key, nil
}

func (l *LocalDir) Download(ctx context.Context, handle string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := l.resolve(handle)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, handle)
	}
	return b, err
}

func (l *LocalDir) resolve(handle string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimSpace(handle)))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("cloud: invalid handle %q", handle)
	}
	return filepath.Join(l.root, clean), nil
}
