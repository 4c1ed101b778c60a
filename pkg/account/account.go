// Package account is the Account Registry: the single on-device user
// profile created once during setup and consulted at every login.
package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/credsafe/pkg/audit"
	"github.com/forest6511/credsafe/pkg/biometric"
	"github.com/forest6511/credsafe/pkg/crypto"
	"github.com/forest6511/credsafe/pkg/entry"
	"github.com/forest6511/credsafe/pkg/kv"
)

var (
	ErrAlreadySetup              = errors.New("account: setup already completed")
	ErrNoAccount                 = errors.New("account: no account has been set up")
	ErrBiometricUnavailable      = errors.New("account: biometric authentication is not available on this device")
	ErrBiometricRequiresPassword = errors.New("account: biometric unlock cannot be used with encryption at rest")
	ErrIncorrectPassword         = errors.New("account: incorrect password")
	ErrCorruptProfile            = errors.New("account: stored profile is corrupt")
	ErrNoVaultKey                = errors.New("account: no wrapped vault key stored")
	ErrEncryptionMismatch        = errors.New("account: encrypt_at_rest does not match the stored vault")
)

const markerValue = "true"

// Profile is the setup form.
type Profile struct {
	Name         string
	Email        string
	DateOfBirth  string
	Password     string
	UseBiometric bool
}

// Account is the persisted user profile. The password is kept only as a
// verifier.
type Account struct {
	Name         string           `json:"name"`
	Email        string           `json:"email"`
	DateOfBirth  string           `json:"dob"`
	Password     *crypto.Verifier `json:"password"`
	UseBiometric bool             `json:"useBiometric"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// SetupState is what storage says about setup: the profile (nil when
// absent), the separate completion marker and whether a wrapped vault key
// exists.
type SetupState struct {
	Account   *Account
	Marker    bool
	Encrypted bool
}

// Complete reports whether setup finished. Profile presence is
// authoritative; the marker alone is not enough.
func (s SetupState) Complete() bool {
	return s.Account != nil
}

// Consistent reports whether marker and profile agree.
func (s SetupState) Consistent() bool {
	return (s.Account != nil) == s.Marker
}

// Option configures a Registry.
type Option func(*Registry)

// WithParams sets the Argon2id cost used for new verifiers and key wrapping.
func WithParams(p crypto.Params) Option {
	return func(r *Registry) { r.params = p }
}

// WithEncryption makes setup generate a vault data key wrapped by the
// account password.
func WithEncryption(enabled bool) Option {
	return func(r *Registry) { r.encrypt = enabled }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l.With("component", "account") }
}

// WithAudit records account events.
func WithAudit(a *audit.Logger) Option {
	return func(r *Registry) { r.audit = a }
}

// Registry owns the user profile.
type Registry struct {
	kv      kv.Store
	bio     biometric.Capability
	params  crypto.Params
	encrypt bool
	logger  *slog.Logger
	audit   *audit.Logger
	now     func() time.Time

	mu sync.Mutex
}

// NewRegistry returns a Registry over store. bio may be nil, meaning no
// biometric hardware.
func NewRegistry(store kv.Store, bio biometric.Capability, opts ...Option) *Registry {
	if bio == nil {
		bio = biometric.Unavailable{}
	}
	r := &Registry{
		kv:     store,
		bio:    bio,
		params: crypto.DefaultParams,
		logger: slog.Default().With("component", "account"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Encrypted reports whether the stored vault is sealed under the account
// password. Storage decides, not the configured mode.
func (r *Registry) Encrypted(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasVaultKeyLocked(ctx)
}

func (r *Registry) hasVaultKeyLocked(ctx context.Context) (bool, error) {
	_, err := r.kv.Get(ctx, kv.KeyVaultKey)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, kv.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("account: failed to read vault key: %w", err)
	}
}

// CheckEncryption returns ErrEncryptionMismatch when an existing account was
// set up in the other encryption mode than the one configured. Before setup
// there is nothing to compare.
func (r *Registry) CheckEncryption(st SetupState) error {
	if !st.Complete() || st.Encrypted == r.encrypt {
		return nil
	}
	if st.Encrypted {
		return fmt.Errorf("%w: vault is encrypted but encrypt_at_rest is off", ErrEncryptionMismatch)
	}
	return fmt.Errorf("%w: vault is not encrypted but encrypt_at_rest is on", ErrEncryptionMismatch)
}

// Biometric returns the capability the registry checks at setup.
func (r *Registry) Biometric() biometric.Capability {
	return r.bio
}

// Setup creates the profile. Name, email and date of birth are trimmed and
// NFC-normalized; the password is stored exactly as given. Profile, marker
// and (with encryption) the wrapped vault key are written in one batch.
func (r *Registry) Setup(ctx context.Context, p Profile) error {
	p.Name = norm.NFC.String(strings.TrimSpace(p.Name))
	p.Email = norm.NFC.String(strings.TrimSpace(p.Email))
	p.DateOfBirth = strings.TrimSpace(p.DateOfBirth)
	if err := requireProfile(p); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.stateLocked(ctx)
	if err != nil {
		return err
	}
	if state.Account != nil {
		return ErrAlreadySetup
	}

	if p.UseBiometric {
		if r.encrypt {
			return ErrBiometricRequiresPassword
		}
		ok, err := biometric.Available(ctx, r.bio)
		if err != nil {
			r.logger.Warn("biometric capability check failed", "error", err)
		}
		if !ok {
			_ = r.audit.Denied(audit.OpAccountSetup, "", "biometric unavailable")
			return ErrBiometricUnavailable
		}
	}

	verifier, err := crypto.NewVerifier([]byte(p.Password), r.params)
	if err != nil {
		return fmt.Errorf("account: failed to derive password verifier: %w", err)
	}
	now := r.now()
	acct := &Account{
		Name:         p.Name,
		Email:        p.Email,
		DateOfBirth:  p.DateOfBirth,
		Password:     verifier,
		UseBiometric: p.UseBiometric,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	profile, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("account: failed to encode profile: %w", err)
	}

	batch := map[string][]byte{
		kv.KeyUserProfile:   profile,
		kv.KeySetupComplete: []byte(markerValue),
	}
	if r.encrypt {
		wrapped, err := newWrappedVaultKey([]byte(p.Password), r.params)
		if err != nil {
			return err
		}
		batch[kv.KeyVaultKey] = wrapped
	}

	if err := r.kv.PutMany(ctx, batch); err != nil {
		return fmt.Errorf("account: failed to persist profile: %w", err)
	}

	r.logger.Info("account set up", "biometric", p.UseBiometric, "encrypted", r.encrypt)
	_ = r.audit.Success(audit.OpAccountSetup, "", map[string]any{"biometric": p.UseBiometric})
	return nil
}

func requireProfile(p Profile) error {
	for _, f := range []struct{ name, value string }{
		{"name", p.Name},
		{"email", p.Email},
		{"dateOfBirth", p.DateOfBirth},
		{"password", p.Password},
	} {
		if f.value == "" {
			return &entry.ValidationError{Field: f.name, Position: -1, Err: entry.ErrMissingField}
		}
	}
	return nil
}

func newWrappedVaultKey(password []byte, p crypto.Params) ([]byte, error) {
	dek, err := crypto.NewDataKey()
	if err != nil {
		return nil, fmt.Errorf("account: failed to generate vault key: %w", err)
	}
	defer crypto.SecureWipe(dek)

	w, err := crypto.WrapKey(password, dek, p)
	if err != nil {
		return nil, fmt.Errorf("account: failed to wrap vault key: %w", err)
	}
	return json.Marshal(w)
}

// Get returns the profile, or ErrNoAccount before setup.
func (r *Registry) Get(ctx context.Context) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(ctx)
}

func (r *Registry) getLocked(ctx context.Context) (*Account, error) {
	raw, err := r.kv.Get(ctx, kv.KeyUserProfile)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNoAccount
	}
	if err != nil {
		return nil, fmt.Errorf("account: failed to read profile: %w", err)
	}
	var acct Account
	if err := json.Unmarshal(raw, &acct); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptProfile, err)
	}
	if acct.Password == nil {
		return nil, fmt.Errorf("%w: missing password verifier", ErrCorruptProfile)
	}
	return &acct, nil
}

// State reads the profile and the marker together.
func (r *Registry) State(ctx context.Context) (SetupState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked(ctx)
}

func (r *Registry) stateLocked(ctx context.Context) (SetupState, error) {
	var st SetupState

	acct, err := r.getLocked(ctx)
	switch {
	case err == nil:
		st.Account = acct
	case !errors.Is(err, ErrNoAccount):
		return st, err
	}

	raw, err := r.kv.Get(ctx, kv.KeySetupComplete)
	switch {
	case err == nil:
		st.Marker = string(raw) == markerValue
	case !errors.Is(err, kv.ErrNotFound):
		return st, fmt.Errorf("account: failed to read setup marker: %w", err)
	}

	if st.Encrypted, err = r.hasVaultKeyLocked(ctx); err != nil {
		return st, err
	}
	return st, nil
}

// RepairMarker brings the marker in line with profile presence.
func (r *Registry) RepairMarker(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.stateLocked(ctx)
	if err != nil || st.Consistent() {
		return err
	}
	if st.Account != nil {
		r.logger.Warn("profile present without setup marker, restoring marker")
		return r.kv.Put(ctx, kv.KeySetupComplete, []byte(markerValue))
	}
	r.logger.Warn("setup marker present without profile, clearing marker")
	return r.kv.Delete(ctx, kv.KeySetupComplete)
}

// VerifyPassword compares candidate with the account password: exact and
// case-sensitive, in constant time.
func (r *Registry) VerifyPassword(ctx context.Context, candidate string) (bool, error) {
	acct, err := r.Get(ctx)
	if err != nil {
		return false, err
	}
	return acct.Password.Matches([]byte(candidate)), nil
}

// UnlockKey unwraps the vault data key with password. The caller owns the
// returned key and should wipe it when done.
func (r *Registry) UnlockKey(ctx context.Context, password string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.wrappedKeyLocked(ctx)
	if err != nil {
		return nil, err
	}
	dek, err := w.Unwrap([]byte(password))
	if errors.Is(err, crypto.ErrDecryptionFailed) {
		return nil, ErrIncorrectPassword
	}
	if err != nil {
		return nil, fmt.Errorf("account: failed to unwrap vault key: %w", err)
	}
	return dek, nil
}

func (r *Registry) wrappedKeyLocked(ctx context.Context) (*crypto.WrappedKey, error) {
	raw, err := r.kv.Get(ctx, kv.KeyVaultKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNoVaultKey
	}
	if err != nil {
		return nil, fmt.Errorf("account: failed to read vault key: %w", err)
	}
	var w crypto.WrappedKey
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: vault key: %v", ErrCorruptProfile, err)
	}
	return &w, nil
}

// ChangePassword replaces the account password. When a wrapped vault key
// exists it is re-wrapped under next in the same batch.
func (r *Registry) ChangePassword(ctx context.Context, current, next string) error {
	if next == "" {
		return &entry.ValidationError{Field: "password", Position: -1, Err: entry.ErrMissingField}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	acct, err := r.getLocked(ctx)
	if err != nil {
		return err
	}
	if !acct.Password.Matches([]byte(current)) {
		_ = r.audit.Failure(audit.OpAccountPasswordChange, "", "INCORRECT_PASSWORD", ErrIncorrectPassword)
		return ErrIncorrectPassword
	}

	verifier, err := crypto.NewVerifier([]byte(next), r.params)
	if err != nil {
		return fmt.Errorf("account: failed to derive password verifier: %w", err)
	}
	acct.Password = verifier
	acct.UpdatedAt = r.now()
	profile, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("account: failed to encode profile: %w", err)
	}
	batch := map[string][]byte{kv.KeyUserProfile: profile}

	w, err := r.wrappedKeyLocked(ctx)
	switch {
	case err == nil:
		dek, err := w.Unwrap([]byte(current))
		if err != nil {
			return fmt.Errorf("account: failed to unwrap vault key: %w", err)
		}
		rewrapped, err := crypto.WrapKey([]byte(next), dek, r.params)
		crypto.SecureWipe(dek)
		if err != nil {
			return fmt.Errorf("account: failed to wrap vault key: %w", err)
		}
		if batch[kv.KeyVaultKey], err = json.Marshal(rewrapped); err != nil {
			return fmt.Errorf("account: failed to encode vault key: %w", err)
		}
	case !errors.Is(err, ErrNoVaultKey):
		return err
	}

	if err := r.kv.PutMany(ctx, batch); err != nil {
		return fmt.Errorf("account: failed to persist profile: %w", err)
	}
	r.logger.Info("account password changed")
	_ = r.audit.Success(audit.OpAccountPasswordChange, "", nil)
	return nil
}

// Clear is "clear all data": it removes the profile, the marker, the vault
// and every credential. The audit key is kept so the log stays verifiable.
func (r *Registry) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(kv.AllKeys))
	for _, k := range kv.AllKeys {
		if k != kv.KeyAuditKey {
			keys = append(keys, k)
		}
	}
	if err := r.kv.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("account: failed to clear data: %w", err)
	}
	r.logger.Info("all data cleared")
	_ = r.audit.Success(audit.OpAccountClear, "", nil)
	return nil
}
