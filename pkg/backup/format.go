package backup

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/forest6511/credsafe/pkg/crypto"
)

// MagicNumber opens every backup file: "CSAFEBKP".
var MagicNumber = [8]byte{'C', 'S', 'A', 'F', 'E', 'B', 'K', 'P'}

// FormatVersion is the current backup format version.
const FormatVersion = 1

const maxHeaderLen = 1 << 20

// EncryptionMode specifies how the archive key is obtained.
type EncryptionMode string

const (
	EncryptionModePassword EncryptionMode = "password"
	EncryptionModeKey      EncryptionMode = "key"
)

// KDFParams records how the password was stretched. nil in key mode.
type KDFParams struct {
	Salt        []byte `json:"salt"`
	Memory      uint32 `json:"memory"`
	Iterations  uint32 `json:"iterations"`
	Parallelism uint8  `json:"parallelism"`
}

func (p *KDFParams) params() crypto.Params {
	return crypto.Params{Memory: p.Memory, Time: p.Iterations, Threads: p.Parallelism}
}

// Header is the cleartext metadata at the front of an archive. It is
// covered by the trailing HMAC.
type Header struct {
	Version        int            `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	EncryptionMode EncryptionMode `json:"encryption_mode"`
	KDFParams      *KDFParams     `json:"kdf_params,omitempty"`
	KeyCount       int            `json:"key_count"`
	ChecksumAlgo   string         `json:"checksum_algorithm"`
}

// Payload is the encrypted body: raw store values by key.
type Payload struct {
	Entries map[string][]byte `json:"entries"`
}

// WriteHeader writes the magic number, header length and header JSON.
func WriteHeader(w io.Writer, header *Header) error {
	if _, err := w.Write(MagicNumber[:]); err != nil {
		return fmt.Errorf("backup: failed to write magic number: %w", err)
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("backup: failed to marshal header: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(headerJSON))); err != nil {
		return fmt.Errorf("backup: failed to write header length: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("backup: failed to write header: %w", err)
	}
	return nil
}

// ReadHeader reads and validates the magic number and header.
func ReadHeader(r io.Reader) (*Header, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMagic, err)
	}
	if magic != MagicNumber {
		return nil, ErrInvalidMagic
	}

	var headerLen uint32
	if err := binary.Read(r, binary.BigEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("%w: header length: %v", ErrTruncated, err)
	}
	if headerLen > maxHeaderLen {
		return nil, fmt.Errorf("backup: header too large: %d bytes", headerLen)
	}

	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrTruncated, err)
	}

	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("backup: failed to unmarshal header: %w", err)
	}
	if header.Version < 1 || header.Version > FormatVersion {
		return nil, fmt.Errorf("%w: got %d, max supported %d",
			ErrUnsupportedVersion, header.Version, FormatVersion)
	}
	return &header, nil
}

func encodePayload(p *Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to marshal payload: %w", err)
	}
	return data, nil
}

func decodePayload(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("backup: failed to unmarshal payload: %w", err)
	}
	if p.Entries == nil {
		p.Entries = map[string][]byte{}
	}
	return &p, nil
}
