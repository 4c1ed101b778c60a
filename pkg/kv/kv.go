// Package kv is the on-device persistence layer: a small key/value store
// whose writes are atomic at the blob level. A reader of a key always sees
// either the previous value or the new one, never a mix, and a PutMany batch
// becomes visible all at once.
package kv

import (
	"context"
	"errors"
)

// Well-known keys.
const (
	KeyVaultData        = "vaultData"
	KeyVaultQuarantine  = "vaultData.corrupt"
	KeyUserProfile      = "userProfile"
	KeySetupComplete    = "setupComplete"
	KeySettingsPassword = "settingsPassword"
	KeyVaultKey         = "vaultKey"
	KeyAuditKey         = "auditKey"
)

// AllKeys lists every key the application writes, in backup order.
var AllKeys = []string{
	KeyUserProfile,
	KeySetupComplete,
	KeySettingsPassword,
	KeyVaultKey,
	KeyVaultData,
	KeyVaultQuarantine,
	KeyAuditKey,
}

var (
	ErrNotFound = errors.New("kv: key not found")
	ErrClosed   = errors.New("kv: store is closed")
)

// Store is implemented by SQLiteStore, MemoryStore and SealedStore.
type Store interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// PutMany writes all entries or none of them.
	PutMany(ctx context.Context, entries map[string][]byte) error
	// Delete removes the keys; absent keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	Close() error
}
