package backup

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"

	"github.com/forest6511/credsafe/pkg/crypto"
)

const (
	SaltLength = 32
	HMACLength = 32
	KeyLength  = crypto.KeyLength
)

const (
	hkdfInfoEncryption = "credsafe-backup-encryption"
	hkdfInfoMAC        = "credsafe-backup-mac"
)

// GenerateSalt returns a fresh random salt for one archive.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("backup: failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveBackupKeys stretches password with Argon2id and splits the result
// into an encryption key and a MAC key with HKDF.
func DeriveBackupKeys(password, salt []byte, p crypto.Params) (encKey, macKey []byte, err error) {
	if len(password) == 0 {
		return nil, nil, ErrEmptyPassword
	}
	master := crypto.DeriveKey(password, salt, p)
	defer crypto.SecureWipe(master)
	return splitKey(master)
}

// splitKey derives the encryption and MAC keys from one secret.
func splitKey(secret []byte) (encKey, macKey []byte, err error) {
	encKey, err = deriveHKDF(secret, []byte(hkdfInfoEncryption))
	if err != nil {
		return nil, nil, fmt.Errorf("backup: failed to derive encryption key: %w", err)
	}
	macKey, err = deriveHKDF(secret, []byte(hkdfInfoMAC))
	if err != nil {
		crypto.SecureWipe(encKey)
		return nil, nil, fmt.Errorf("backup: failed to derive MAC key: %w", err)
	}
	return encKey, macKey, nil
}

func deriveHKDF(secret, info []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, info)
	key := make([]byte, KeyLength)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func encryptPayload(plaintext, key []byte) ([]byte, error) {
	blob, err := crypto.Seal(key, plaintext)
	if err != nil {
		return nil, fmt.Errorf("backup: encryption failed: %w", err)
	}
	return blob, nil
}

func decryptPayload(blob, key []byte) ([]byte, error) {
	plaintext, err := crypto.Open(key, blob)
	if err != nil {
		if errors.Is(err, crypto.ErrDecryptionFailed) || errors.Is(err, crypto.ErrCiphertextTooShort) {
			return nil, ErrDecryptionFailed
		}
		return nil, err
	}
	return plaintext, nil
}

// ComputeHMAC returns HMAC-SHA256 of data.
func ComputeHMAC(data, key []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// VerifyHMAC compares in constant time.
func VerifyHMAC(data, expected, key []byte) bool {
	return hmac.Equal(ComputeHMAC(data, key), expected)
}

// ReadKeyFile reads a raw 32-byte archive key.
func ReadKeyFile(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read key file: %w", err)
	}
	if len(key) != KeyLength {
		crypto.SecureWipe(key)
		return nil, ErrInvalidKeyFile
	}
	return key, nil
}

// GenerateKeyFile writes a random archive key with mode 0600.
func GenerateKeyFile(path string) error {
	key, err := crypto.NewDataKey()
	if err != nil {
		return fmt.Errorf("backup: failed to generate key: %w", err)
	}
	defer crypto.SecureWipe(key)

	if err := os.WriteFile(path, key, 0o600); err != nil {
		return fmt.Errorf("backup: failed to write key file: %w", err)
	}
	return nil
}
