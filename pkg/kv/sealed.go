package kv

import (
	"context"
	"fmt"

	"github.com/forest6511/credsafe/pkg/crypto"
)

// SealedStore encrypts the values of selected keys with AES-256-GCM before
// handing them to the inner store. Other keys pass through unchanged.
type SealedStore struct {
	inner  Store
	key    []byte
	sealed map[string]bool
}

// NewSealedStore wraps inner. key must be crypto.KeyLength bytes; the
// store keeps its own copy and wipes it on Close.
func NewSealedStore(inner Store, key []byte, keys ...string) (*SealedStore, error) {
	if len(key) != crypto.KeyLength {
		return nil, crypto.ErrInvalidKeyLength
	}
	s := &SealedStore{
		inner:  inner,
		key:    append([]byte(nil), key...),
		sealed: make(map[string]bool, len(keys)),
	}
	for _, k := range keys {
		s.sealed[k] = true
	}
	return s, nil
}

func (s *SealedStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.inner.Get(ctx, key)
	if err != nil || !s.sealed[key] {
		return v, err
	}
	plain, err := crypto.Open(s.key, v)
	if err != nil {
		return nil, fmt.Errorf("kv: failed to open %s: %w", key, err)
	}
	return plain, nil
}

func (s *SealedStore) Put(ctx context.Context, key string, value []byte) error {
	return s.PutMany(ctx, map[string][]byte{key: value})
}

func (s *SealedStore) PutMany(ctx context.Context, entries map[string][]byte) error {
	out := make(map[string][]byte, len(entries))
	for k, v := range entries {
		if !s.sealed[k] {
			out[k] = v
			continue
		}
		ct, err := crypto.Seal(s.key, v)
		if err != nil {
			return fmt.Errorf("kv: failed to seal %s: %w", k, err)
		}
		out[k] = ct
	}
	return s.inner.PutMany(ctx, out)
}

func (s *SealedStore) Delete(ctx context.Context, keys ...string) error {
	return s.inner.Delete(ctx, keys...)
}

// Close wipes the data key and closes the inner store.
func (s *SealedStore) Close() error {
	crypto.SecureWipe(s.key)
	return s.inner.Close()
}
