package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/forest6511/credsafe/pkg/audit"
	"github.com/forest6511/credsafe/pkg/crypto"
	"github.com/forest6511/credsafe/pkg/entry"
	"github.com/forest6511/credsafe/pkg/kv"
)

var (
	ErrSettingsPasswordSet    = errors.New("account: settings password is already set")
	ErrSettingsPasswordNotSet = errors.New("account: settings password is not set")
)

// SettingsLock is the settings feature's own password. It lives under a
// separate key and is never compared with the account password.
type SettingsLock struct {
	r *Registry
}

// SettingsLock returns the settings password store sharing r's storage.
func (r *Registry) SettingsLock() *SettingsLock {
	return &SettingsLock{r: r}
}

func (s *SettingsLock) load(ctx context.Context) (*crypto.Verifier, error) {
	raw, err := s.r.kv.Get(ctx, kv.KeySettingsPassword)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrSettingsPasswordNotSet
	}
	if err != nil {
		return nil, fmt.Errorf("account: failed to read settings password: %w", err)
	}
	var v crypto.Verifier
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: settings password: %v", ErrCorruptProfile, err)
	}
	return &v, nil
}

func (s *SettingsLock) store(ctx context.Context, password string) error {
	if password == "" {
		return &entry.ValidationError{Field: "password", Position: -1, Err: entry.ErrMissingField}
	}
	v, err := crypto.NewVerifier([]byte(password), s.r.params)
	if err != nil {
		return fmt.Errorf("account: failed to derive settings verifier: %w", err)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("account: failed to encode settings password: %w", err)
	}
	if err := s.r.kv.Put(ctx, kv.KeySettingsPassword, raw); err != nil {
		return fmt.Errorf("account: failed to persist settings password: %w", err)
	}
	return nil
}

// IsSet reports whether a settings password exists.
func (s *SettingsLock) IsSet(ctx context.Context) (bool, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()

	_, err := s.load(ctx)
	if errors.Is(err, ErrSettingsPasswordNotSet) {
		return false, nil
	}
	return err == nil, err
}

// Set stores the first settings password.
func (s *SettingsLock) Set(ctx context.Context, password string) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()

	if _, err := s.load(ctx); err == nil {
		return ErrSettingsPasswordSet
	} else if !errors.Is(err, ErrSettingsPasswordNotSet) {
		return err
	}
	if err := s.store(ctx, password); err != nil {
		return err
	}
	_ = s.r.audit.Success(audit.OpSettingsPassword, "", map[string]any{"action": "set"})
	return nil
}

// Verify checks candidate against the settings password, exactly.
func (s *SettingsLock) Verify(ctx context.Context, candidate string) (bool, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()

	v, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	return v.Matches([]byte(candidate)), nil
}

// Change replaces the settings password after checking the current one.
func (s *SettingsLock) Change(ctx context.Context, current, next string) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()

	v, err := s.load(ctx)
	if err != nil {
		return err
	}
	if !v.Matches([]byte(current)) {
		_ = s.r.audit.Failure(audit.OpSettingsPassword, "", "INCORRECT_PASSWORD", ErrIncorrectPassword)
		return ErrIncorrectPassword
	}
	if err := s.store(ctx, next); err != nil {
		return err
	}
	_ = s.r.audit.Success(audit.OpSettingsPassword, "", map[string]any{"action": "change"})
	return nil
}
