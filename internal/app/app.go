// Package app wires the credsafe components together for one process: the
// data directory lock, storage, audit log, Account Registry and
// Authentication Gate.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/forest6511/credsafe/internal/config"
	"github.com/forest6511/credsafe/internal/lockfile"
	"github.com/forest6511/credsafe/pkg/account"
	"github.com/forest6511/credsafe/pkg/audit"
	"github.com/forest6511/credsafe/pkg/auth"
	"github.com/forest6511/credsafe/pkg/backup"
	"github.com/forest6511/credsafe/pkg/biometric"
	"github.com/forest6511/credsafe/pkg/crypto"
	"github.com/forest6511/credsafe/pkg/kv"
	"github.com/forest6511/credsafe/pkg/security"
	"github.com/forest6511/credsafe/pkg/vault"
)

// Options adjusts how Open builds the App.
type Options struct {
	// Source tags audit records (audit.SourceCLI or audit.SourceMCP).
	Source string
	Logger *slog.Logger
	// Biometric overrides the capability built from the config.
	Biometric biometric.Capability
	// Params overrides the Argon2id cost, for tests.
	Params crypto.Params
}

// App is one process's view of a credsafe data directory.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Audit    *audit.Logger
	Store    *kv.SQLiteStore
	Registry *account.Registry
	Gate     *auth.Gate

	lock    *lockfile.Lock
	params  crypto.Params
	sealed  *kv.SealedStore
	vault   *vault.Store
	corrupt error
}

// Open locks the data directory, opens storage and builds the Gate in its
// Uninitialized state. Call Gate.Start next.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	source := opts.Source
	if source == "" {
		source = audit.SourceCLI
	}

	lock, err := lockfile.Acquire(cfg.LockPath())
	if err != nil {
		return nil, err
	}

	store, err := kv.OpenSQLite(ctx, cfg.DatabasePath())
	if err != nil {
		lock.Release()
		return nil, err
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		Store:  store,
		lock:   lock,
		params: opts.Params,
	}

	if cfg.Audit.Enabled {
		a.Audit = audit.NewLogger(cfg.AuditDir(), source)
		if err := a.initAuditKey(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	bio := opts.Biometric
	if bio == nil {
		bio = capabilityFromConfig(cfg, logger)
	}

	regOpts := []account.Option{
		account.WithEncryption(cfg.EncryptAtRest),
		account.WithLogger(logger),
		account.WithAudit(a.Audit),
	}
	if a.params != (crypto.Params{}) {
		regOpts = append(regOpts, account.WithParams(a.params))
	}
	a.Registry = account.NewRegistry(store, bio, regOpts...)
	a.Gate = auth.NewGate(a.Registry, a.openVault, auth.WithLogger(logger), auth.WithAudit(a.Audit))
	return a, nil
}

func capabilityFromConfig(cfg *config.Config, logger *slog.Logger) biometric.Capability {
	cmd, err := biometric.ParseCommand(cfg.Biometric.Command)
	if err != nil {
		return biometric.Unavailable{}
	}
	if cfg.Biometric.Timeout > 0 {
		cmd.Timeout = cfg.Biometric.Timeout
	}
	cmd.Logger = logger.With("component", "biometric")
	return cmd
}

// initAuditKey loads the audit chain key, creating it on first use.
func (a *App) initAuditKey(ctx context.Context) error {
	key, err := a.Store.Get(ctx, kv.KeyAuditKey)
	if errors.Is(err, kv.ErrNotFound) {
		key, err = crypto.NewDataKey()
		if err != nil {
			return fmt.Errorf("app: failed to create audit key: %w", err)
		}
		if err := a.Store.Put(ctx, kv.KeyAuditKey, key); err != nil {
			return fmt.Errorf("app: failed to persist audit key: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("app: failed to read audit key: %w", err)
	}
	defer crypto.SecureWipe(key)
	return a.Audit.SetHMACKey(key)
}

// openVault is the Gate's VaultOpener. When storage holds a wrapped data
// key the vault blob is read through a SealedStore keyed by it.
func (a *App) openVault(ctx context.Context, password string) (*vault.Store, error) {
	var store kv.Store = a.Store
	encrypted, err := a.Registry.Encrypted(ctx)
	if err != nil {
		return nil, err
	}
	if encrypted {
		dek, err := a.Registry.UnlockKey(ctx, password)
		if err != nil {
			return nil, err
		}
		defer crypto.SecureWipe(dek)
		sealed, err := kv.NewSealedStore(a.Store, dek, kv.KeyVaultData, kv.KeyVaultQuarantine)
		if err != nil {
			return nil, err
		}
		a.sealed = sealed
		store = sealed
	}
	v := vault.New(store, vault.WithLogger(a.Logger), vault.WithAudit(a.Audit))
	// Corrupt data leaves v on the empty aggregate with the bytes
	// quarantined; the unlock itself succeeds.
	if _, err := v.Load(ctx); err != nil {
		if !errors.Is(err, vault.ErrCorruptData) {
			return nil, err
		}
		a.corrupt = err
	}
	a.vault = v
	return a.vault, nil
}

// CorruptData returns the error wrapping vault.ErrCorruptData when unlocking
// found the stored vault unreadable, and nil otherwise. In that case the
// vault is empty and the bad bytes are under kv.KeyVaultQuarantine.
func (a *App) CorruptData() error {
	return a.corrupt
}

// Vault returns the Vault Store once the Gate is Unlocked.
func (a *App) Vault() (*vault.Store, error) {
	return a.Gate.Vault()
}

// Health builds a report over the unlocked vault.
func (a *App) Health(ctx context.Context, limits security.Limits, includeIDs bool) (*security.Report, error) {
	v, err := a.Vault()
	if err != nil {
		return nil, err
	}
	d, err := v.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return security.NewCalculator(limits).Analyze(d, includeIDs)
}

// Backup writes an archive of the data directory's store to w. The vault
// must be unlocked, so only the account holder can take one.
func (a *App) Backup(ctx context.Context, w io.Writer, opts backup.Options) (*backup.Header, error) {
	if _, err := a.Vault(); err != nil {
		return nil, err
	}
	if opts.Params == (crypto.Params{}) {
		opts.Params = a.params
	}
	header, err := backup.Backup(ctx, a.Store, w, opts)
	if err != nil {
		_ = a.Audit.Failure(audit.OpVaultBackup, "", "BACKUP_FAILED", err)
		return nil, err
	}
	_ = a.Audit.Success(audit.OpVaultBackup, "", map[string]any{"keys": header.KeyCount})
	return header, nil
}

// Restore replaces the store's contents with an archive. It runs before
// unlock, since the archived account may have a different password. The
// cached vault, if any, is dropped.
func (a *App) Restore(ctx context.Context, r io.Reader, opts backup.RestoreOptions) (*backup.RestoreResult, error) {
	res, err := backup.Restore(ctx, a.Store, r, opts)
	if err != nil {
		_ = a.Audit.Failure(audit.OpVaultRestore, "", "RESTORE_FAILED", err)
		return nil, err
	}
	if !res.DryRun {
		if a.vault != nil {
			a.vault.Invalidate()
		}
		_ = a.Audit.Success(audit.OpVaultRestore, "", map[string]any{"keys": res.KeysRestored, "removed": res.KeysRemoved})
	}
	return res, nil
}

// Reset deletes the account, its settings password and all vault data.
func (a *App) Reset(ctx context.Context) error {
	if err := a.Registry.Clear(ctx); err != nil {
		return err
	}
	if a.vault != nil {
		a.vault.Invalidate()
	}
	return nil
}

// Close releases storage and the directory lock.
func (a *App) Close() error {
	var errs []error
	if a.sealed != nil {
		// Closes the SQLite store underneath.
		errs = append(errs, a.sealed.Close())
	} else if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	errs = append(errs, a.lock.Release())
	return errors.Join(errs...)
}
