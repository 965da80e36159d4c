package backup

import (
	"errors"
	"fmt"
)

// Format errors all wrap ErrInvalidFormat.
var (
	ErrInvalidFormat      = errors.New("invalid backup format")
	ErrNotBackup          = fmt.Errorf("%w: not a backup file", ErrInvalidFormat)
	ErrTruncated          = fmt.Errorf("%w: corrupt or truncated backup", ErrInvalidFormat)
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported backup version", ErrInvalidFormat)
	ErrUnknownMode        = fmt.Errorf("%w: unknown encryption mode", ErrInvalidFormat)
	ErrInvalidKDFParams   = fmt.Errorf("%w: invalid key derivation parameters", ErrInvalidFormat)
	ErrInvalidPayload     = fmt.Errorf("%w: invalid payload", ErrInvalidFormat)
)

var (
	ErrAuthFailed       = errors.New("wrong password or corrupted backup")
	ErrPasswordRequired = errors.New("password is required for this backup")
	ErrOwnerMismatch    = errors.New("backup belongs to a different user")
	ErrForeignRow       = errors.New("export: row without matching owner")
	ErrInvalidRequest   = errors.New("invalid backup request")
	ErrUnknownTable     = errors.New("unknown table")
	ErrUpload           = errors.New("backup upload failed")
	ErrBackupNotFound   = errors.New("backup not found")
)

func invalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
