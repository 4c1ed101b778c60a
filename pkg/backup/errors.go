// Package backup writes and restores encrypted archives of everything the
// application persists in its key/value store.
package backup

import "errors"

var (
	ErrInvalidMagic       = errors.New("backup: invalid file: magic number mismatch")
	ErrUnsupportedVersion = errors.New("backup: unsupported format version")
	ErrTruncated          = errors.New("backup: file truncated")
	ErrIntegrityFailed    = errors.New("backup: integrity check failed: HMAC mismatch")
	ErrDecryptionFailed   = errors.New("backup: decryption failed: invalid password or corrupted data")
	ErrInvalidKeyFile     = errors.New("backup: invalid key file: must be exactly 32 bytes")
	ErrEmptyPassword      = errors.New("backup: password cannot be empty")
	ErrNoKey              = errors.New("backup: password or key file is required")

	// ErrConflict is returned by Restore when an account already exists and
	// the caller did not ask to overwrite it.
	ErrConflict = errors.New("backup: an account already exists")
)
