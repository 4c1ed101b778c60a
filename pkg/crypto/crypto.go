// Package crypto provides the cryptographic primitives used by credsafe.
//
// It covers three needs:
//
//   - AES-256-GCM sealing of persisted blobs (nonce prepended to ciphertext)
//   - Argon2id password verifiers for the account and settings passwords
//   - Wrapping of a random data key with a password-derived key, so the
//     vault can be re-keyed on password change without re-encrypting it
//
// # Example Usage
//
//	v, err := crypto.NewVerifier([]byte("Secret1"), crypto.DefaultParams)
//	ok := v.Matches([]byte("Secret1"))
//
//	dek, _ := crypto.NewDataKey()
//	wrapped, _ := crypto.WrapKey([]byte("Secret1"), dek, crypto.DefaultParams)
//	blob, _ := crypto.Seal(dek, plaintext)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/argon2"
)

const (
	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = 32

	// NonceLength is the length of GCM nonces in bytes (96 bits).
	NonceLength = 12

	// SaltLength is the length of KDF salts in bytes.
	SaltLength = 16
)

// Params are the Argon2id cost parameters. They are persisted next to every
// verifier and wrapped key so costs can be raised without breaking old data.
type Params struct {
	Memory  uint32 `json:"memory"`  // KiB
	Time    uint32 `json:"time"`    // iterations
	Threads uint8  `json:"threads"` // parallelism
}

// DefaultParams follow the OWASP recommendation (64 MB, 3 iterations, 4 lanes).
var DefaultParams = Params{Memory: 64 * 1024, Time: 3, Threads: 4}

var (
	ErrInvalidKeyLength   = errors.New("crypto: invalid key length, must be 32 bytes")
	ErrDecryptionFailed   = errors.New("crypto: decryption failed, authentication tag verification failed")
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
	ErrInvalidParams      = errors.New("crypto: invalid key derivation parameters")
	ErrEmptyPassword      = errors.New("crypto: password cannot be empty")
)

func (p Params) validate() error {
	if p.Memory == 0 || p.Time == 0 || p.Threads == 0 {
		return ErrInvalidParams
	}
	return nil
}

// DeriveKey derives a 256-bit key from a password using Argon2id.
func DeriveKey(password, salt []byte, p Params) []byte {
	return argon2.IDKey(password, salt, p.Time, p.Memory, p.Threads, KeyLength)
}

// NewSalt returns SaltLength bytes of cryptographically secure random data.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate salt: %w", err)
	}
	return salt, nil
}

// NewDataKey returns a fresh random 256-bit data encryption key.
func NewDataKey() ([]byte, error) {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate key: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext with AES-256-GCM and returns nonce || ciphertext.
func Seal(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceLength, NonceLength+len(plaintext)+gcm.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	// Seal appends to nonce, so the result is already nonce || ciphertext.
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal. Tampered or truncated input yields ErrDecryptionFailed
// or ErrCiphertextTooShort.
func Open(key, blob []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(blob) < NonceLength+gcm.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	plaintext, err := gcm.Open(nil, blob[:NonceLength], blob[NonceLength:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Verifier is a persisted Argon2id password verifier.
type Verifier struct {
	Params Params `json:"params"`
	Salt   []byte `json:"salt"`
	Hash   []byte `json:"hash"`
}

// NewVerifier derives a verifier for password with a fresh salt.
func NewVerifier(password []byte, p Params) (*Verifier, error) {
	if len(password) == 0 {
		return nil, ErrEmptyPassword
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	salt, err := NewSalt()
	if err != nil {
		return nil, err
	}
	return &Verifier{Params: p, Salt: salt, Hash: DeriveKey(password, salt, p)}, nil
}

// Matches reports whether password is exactly the password the verifier was
// built from. The comparison is constant time.
func (v *Verifier) Matches(password []byte) bool {
	if v == nil || len(v.Hash) != KeyLength || v.Params.validate() != nil {
		return false
	}
	candidate := DeriveKey(password, v.Salt, v.Params)
	defer SecureWipe(candidate)
	return subtle.ConstantTimeCompare(candidate, v.Hash) == 1
}

// WrappedKey is a data key encrypted under a password-derived key.
type WrappedKey struct {
	Params Params `json:"params"`
	Salt   []byte `json:"salt"`
	Key    []byte `json:"key"` // nonce || ciphertext
}

// WrapKey encrypts dek under a key derived from password.
func WrapKey(password, dek []byte, p Params) (*WrappedKey, error) {
	if len(password) == 0 {
		return nil, ErrEmptyPassword
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	salt, err := NewSalt()
	if err != nil {
		return nil, err
	}

	kek := DeriveKey(password, salt, p)
	defer SecureWipe(kek)

	sealed, err := Seal(kek, dek)
	if err != nil {
		return nil, err
	}
	return &WrappedKey{Params: p, Salt: salt, Key: sealed}, nil
}

// Unwrap recovers the data key. A wrong password yields ErrDecryptionFailed.
func (w *WrappedKey) Unwrap(password []byte) ([]byte, error) {
	if err := w.Params.validate(); err != nil {
		return nil, err
	}
	kek := DeriveKey(password, w.Salt, w.Params)
	defer SecureWipe(kek)

	dek, err := Open(kek, w.Key)
	if err != nil {
		return nil, err
	}
	if len(dek) != KeyLength {
		SecureWipe(dek)
		return nil, ErrInvalidKeyLength
	}
	return dek, nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
