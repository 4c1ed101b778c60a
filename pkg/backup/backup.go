package backup

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/forest6511/credsafe/pkg/crypto"
	"github.com/forest6511/credsafe/pkg/kv"
)

// ConflictMode specifies what Restore does when an account already exists.
type ConflictMode int

const (
	// ConflictError refuses to touch an existing account.
	ConflictError ConflictMode = iota
	// ConflictOverwrite replaces every archived key.
	ConflictOverwrite
)

// Options configures Backup. KeyFile takes precedence over Password.
type Options struct {
	Password []byte
	KeyFile  string
	// Params defaults to crypto.DefaultParams.
	Params crypto.Params
	Now    func() time.Time
}

// RestoreOptions configures Restore.
type RestoreOptions struct {
	Password   []byte
	KeyFile    string
	OnConflict ConflictMode
	// DryRun verifies and decrypts but writes nothing.
	DryRun bool
}

// RestoreResult reports what Restore did, or would do on a dry run.
type RestoreResult struct {
	KeysRestored int
	KeysRemoved  int
	CreatedAt    time.Time
	DryRun       bool
}

// VerifyResult contains the result of Verify.
type VerifyResult struct {
	Valid     bool
	Version   int
	CreatedAt time.Time
	KeyCount  int
	Error     string
}

// archivedKeys are the store keys an archive carries. The audit key stays
// with the audit log it signs.
func archivedKeys() []string {
	keys := make([]string, 0, len(kv.AllKeys))
	for _, k := range kv.AllKeys {
		if k != kv.KeyAuditKey {
			keys = append(keys, k)
		}
	}
	return keys
}

// Backup writes an encrypted archive of store to w. Values are copied as
// stored, so a sealed vault stays sealed inside the archive.
func Backup(ctx context.Context, store kv.Store, w io.Writer, opts Options) (*Header, error) {
	if w == nil {
		return nil, errors.New("backup: output writer is required")
	}

	encKey, macKey, kdf, mode, err := keysForBackup(opts)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	payload := &Payload{Entries: map[string][]byte{}}
	for _, key := range archivedKeys() {
		value, err := store.Get(ctx, key)
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("backup: failed to read %s: %w", key, err)
		}
		payload.Entries[key] = value
	}

	plaintext, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(plaintext)

	ciphertext, err := encryptPayload(plaintext, encKey)
	if err != nil {
		return nil, err
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	header := &Header{
		Version:        FormatVersion,
		CreatedAt:      now().UTC(),
		EncryptionMode: mode,
		KDFParams:      kdf,
		KeyCount:       len(payload.Entries),
		ChecksumAlgo:   "sha256",
	}

	// HMAC covers header, ciphertext length and ciphertext.
	var buf bytes.Buffer
	if err := WriteHeader(&buf, header); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(ciphertext))); err != nil {
		return nil, fmt.Errorf("backup: failed to write ciphertext length: %w", err)
	}
	buf.Write(ciphertext)
	mac := ComputeHMAC(buf.Bytes(), macKey)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("backup: failed to write archive: %w", err)
	}
	if _, err := w.Write(mac); err != nil {
		return nil, fmt.Errorf("backup: failed to write HMAC: %w", err)
	}
	return header, nil
}

func keysForBackup(opts Options) (encKey, macKey []byte, kdf *KDFParams, mode EncryptionMode, err error) {
	if opts.KeyFile != "" {
		fileKey, err := ReadKeyFile(opts.KeyFile)
		if err != nil {
			return nil, nil, nil, "", err
		}
		defer crypto.SecureWipe(fileKey)
		encKey, macKey, err = splitKey(fileKey)
		return encKey, macKey, nil, EncryptionModeKey, err
	}
	if opts.Password == nil {
		return nil, nil, nil, "", ErrNoKey
	}

	params := opts.Params
	if params == (crypto.Params{}) {
		params = crypto.DefaultParams
	}
	salt, err := GenerateSalt()
	if err != nil {
		return nil, nil, nil, "", err
	}
	encKey, macKey, err = DeriveBackupKeys(opts.Password, salt, params)
	if err != nil {
		return nil, nil, nil, "", err
	}
	kdf = &KDFParams{
		Salt:        salt,
		Memory:      params.Memory,
		Iterations:  params.Time,
		Parallelism: params.Threads,
	}
	return encKey, macKey, kdf, EncryptionModePassword, nil
}

// Restore verifies and decrypts the archive in r, then writes its keys to
// store in one batch. Keys the archive does not carry are removed
// afterwards so the restored account is not mixed with the old one.
func Restore(ctx context.Context, store kv.Store, r io.Reader, opts RestoreOptions) (*RestoreResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read archive: %w", err)
	}
	header, payload, err := verifyAndDecrypt(data, opts.Password, opts.KeyFile)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, v := range payload.Entries {
			crypto.SecureWipe(v)
		}
	}()

	exists, err := accountExists(ctx, store)
	if err != nil {
		return nil, err
	}
	if exists && opts.OnConflict != ConflictOverwrite {
		return nil, ErrConflict
	}

	entries := make(map[string][]byte)
	var stale []string
	for _, key := range archivedKeys() {
		if v, ok := payload.Entries[key]; ok {
			entries[key] = v
			continue
		}
		if _, err := store.Get(ctx, key); err == nil {
			stale = append(stale, key)
		} else if !errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("backup: failed to read %s: %w", key, err)
		}
	}

	result := &RestoreResult{
		KeysRestored: len(entries),
		KeysRemoved:  len(stale),
		CreatedAt:    header.CreatedAt,
		DryRun:       opts.DryRun,
	}
	if opts.DryRun {
		return result, nil
	}

	if err := store.PutMany(ctx, entries); err != nil {
		return nil, fmt.Errorf("backup: failed to write restored keys: %w", err)
	}
	if len(stale) > 0 {
		if err := store.Delete(ctx, stale...); err != nil {
			return nil, fmt.Errorf("backup: failed to remove stale keys: %w", err)
		}
	}
	return result, nil
}

func accountExists(ctx context.Context, store kv.Store) (bool, error) {
	for _, key := range []string{kv.KeyUserProfile, kv.KeySetupComplete} {
		_, err := store.Get(ctx, key)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, kv.ErrNotFound) {
			return false, fmt.Errorf("backup: failed to read %s: %w", key, err)
		}
	}
	return false, nil
}

// Verify checks archive integrity without restoring. Failures are reported
// in the result, not as an error.
func Verify(r io.Reader, password []byte, keyFile string) (*VerifyResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return &VerifyResult{Error: err.Error()}, nil
	}
	header, _, err := verifyAndDecrypt(data, password, keyFile)
	if err != nil {
		return &VerifyResult{Error: err.Error()}, nil
	}
	return &VerifyResult{
		Valid:     true,
		Version:   header.Version,
		CreatedAt: header.CreatedAt,
		KeyCount:  header.KeyCount,
	}, nil
}

func verifyAndDecrypt(data, password []byte, keyFile string) (*Header, *Payload, error) {
	if len(data) < len(MagicNumber)+4+HMACLength {
		return nil, nil, ErrTruncated
	}

	reader := bytes.NewReader(data)
	header, err := ReadHeader(reader)
	if err != nil {
		return nil, nil, err
	}
	headerEnd := len(data) - reader.Len()

	var ciphertextLen uint32
	if err := binary.Read(reader, binary.BigEndian, &ciphertextLen); err != nil {
		return nil, nil, fmt.Errorf("%w: ciphertext length: %v", ErrTruncated, err)
	}
	if reader.Len() != int(ciphertextLen)+HMACLength {
		return nil, nil, ErrTruncated
	}
	bodyEnd := headerEnd + 4 + int(ciphertextLen)
	ciphertext := data[headerEnd+4 : bodyEnd]
	storedMAC := data[bodyEnd:]

	var encKey, macKey []byte
	switch {
	case keyFile != "":
		fileKey, err := ReadKeyFile(keyFile)
		if err != nil {
			return nil, nil, err
		}
		encKey, macKey, err = splitKey(fileKey)
		crypto.SecureWipe(fileKey)
		if err != nil {
			return nil, nil, err
		}
	case header.EncryptionMode == EncryptionModePassword && header.KDFParams != nil:
		if len(password) == 0 {
			return nil, nil, ErrEmptyPassword
		}
		encKey, macKey, err = DeriveBackupKeys(password, header.KDFParams.Salt, header.KDFParams.params())
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, ErrNoKey
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	if !VerifyHMAC(data[:bodyEnd], storedMAC, macKey) {
		return nil, nil, ErrIntegrityFailed
	}

	plaintext, err := decryptPayload(ciphertext, encKey)
	if err != nil {
		return nil, nil, err
	}
	defer crypto.SecureWipe(plaintext)

	payload, err := decodePayload(plaintext)
	if err != nil {
		return nil, nil, err
	}
	return header, payload, nil
}
