// Package auth is the Authentication Gate: the state machine deciding
// whether this process may reach the vault.
//
//	Uninitialized -> AwaitingSetup -> AwaitingLogin -> Unlocked
//
// The state is recomputed from storage on every start. Nothing about the
// unlocked state is persisted, so a new process always begins locked.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/forest6511/credsafe/pkg/account"
	"github.com/forest6511/credsafe/pkg/audit"
	"github.com/forest6511/credsafe/pkg/biometric"
	"github.com/forest6511/credsafe/pkg/vault"
)

var (
	ErrInvalidState = errors.New("auth: operation not allowed in current state")
	ErrLocked       = errors.New("auth: vault is locked")

	// ErrIncorrectPassword is returned by Login on a mismatch.
	ErrIncorrectPassword = account.ErrIncorrectPassword
)

// DefaultPrompt is shown by the biometric helper.
const DefaultPrompt = "Unlock credsafe"

// State is a Gate state.
type State int

const (
	Uninitialized State = iota
	AwaitingSetup
	AwaitingLogin
	Unlocked
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case AwaitingSetup:
		return "awaiting-setup"
	case AwaitingLogin:
		return "awaiting-login"
	case Unlocked:
		return "unlocked"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is the context read from storage once, when the Gate starts.
type Session struct {
	SetupComplete bool
	UseBiometric  bool
	// MarkerRepaired is set when the setup marker disagreed with the
	// profile and was corrected.
	MarkerRepaired bool
	StartedAt      time.Time
}

// VaultOpener builds the Vault Store once access is granted. password is
// empty when the unlock came from the biometric path.
type VaultOpener func(ctx context.Context, password string) (*vault.Store, error)

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l.With("component", "auth") }
}

// WithAudit records unlock attempts.
func WithAudit(a *audit.Logger) Option {
	return func(g *Gate) { g.audit = a }
}

// WithPrompt sets the biometric prompt text.
func WithPrompt(p string) Option {
	return func(g *Gate) { g.prompt = p }
}

// Gate guards access to the Vault Store.
type Gate struct {
	registry *account.Registry
	bio      biometric.Capability
	open     VaultOpener
	logger   *slog.Logger
	audit    *audit.Logger
	prompt   string

	mu      sync.Mutex
	state   State
	session Session
	vault   *vault.Store
}

// NewGate returns a Gate in the Uninitialized state.
func NewGate(registry *account.Registry, open VaultOpener, opts ...Option) *Gate {
	g := &Gate{
		registry: registry,
		bio:      registry.Biometric(),
		open:     open,
		logger:   slog.Default().With("component", "auth"),
		prompt:   DefaultPrompt,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Session returns the context read at Start.
func (g *Gate) Session() Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session
}

// Start reads the persisted setup state and moves to AwaitingSetup or
// AwaitingLogin. A biometric profile gets the fast path right away; if it
// fails the Gate stays in AwaitingLogin without reporting an error.
func (g *Gate) Start(ctx context.Context) (State, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != Uninitialized {
		return g.state, fmt.Errorf("%w: start from %s", ErrInvalidState, g.state)
	}

	st, err := g.registry.State(ctx)
	if err != nil {
		return g.state, fmt.Errorf("auth: failed to read setup state: %w", err)
	}

	g.session = Session{
		SetupComplete: st.Complete(),
		StartedAt:     time.Now().UTC(),
	}
	if !st.Consistent() {
		g.logger.Warn("setup marker and profile disagree", "profile", st.Account != nil, "marker", st.Marker)
		if err := g.registry.RepairMarker(ctx); err != nil {
			g.logger.Warn("failed to repair setup marker", "error", err)
		} else {
			g.session.MarkerRepaired = true
		}
	}

	if !st.Complete() {
		g.state = AwaitingSetup
		return g.state, nil
	}
	if err := g.registry.CheckEncryption(st); err != nil {
		g.logger.Error("refusing to start", "error", err)
		return g.state, err
	}

	g.session.UseBiometric = st.Account.UseBiometric
	g.enterLogin(ctx)
	return g.state, nil
}

// enterLogin moves to AwaitingLogin and runs the biometric fast path when
// the profile asks for it.
func (g *Gate) enterLogin(ctx context.Context) {
	g.state = AwaitingLogin
	if !g.session.UseBiometric {
		return
	}
	if _, err := g.tryBiometricLocked(ctx); err != nil {
		g.logger.Warn("biometric unlock succeeded but vault could not be opened", "error", err)
	}
}

// Setup creates the account. Only valid in AwaitingSetup.
func (g *Gate) Setup(ctx context.Context, p account.Profile) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != AwaitingSetup {
		return fmt.Errorf("%w: setup from %s", ErrInvalidState, g.state)
	}
	if err := g.registry.Setup(ctx, p); err != nil {
		return err
	}

	g.session.SetupComplete = true
	g.session.UseBiometric = p.UseBiometric
	g.enterLogin(ctx)
	return nil
}

// Login checks password and, on a match, opens the vault. A mismatch keeps
// the Gate in AwaitingLogin and returns ErrIncorrectPassword. There is no
// lockout.
func (g *Gate) Login(ctx context.Context, password string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != AwaitingLogin {
		return fmt.Errorf("%w: login from %s", ErrInvalidState, g.state)
	}

	ok, err := g.registry.VerifyPassword(ctx, password)
	if err != nil {
		return fmt.Errorf("auth: failed to verify password: %w", err)
	}
	if !ok {
		g.logger.Info("login failed")
		_ = g.audit.Failure(audit.OpAuthUnlockFailed, "", "INCORRECT_PASSWORD", ErrIncorrectPassword)
		return ErrIncorrectPassword
	}

	return g.unlockLocked(ctx, password, "password")
}

// TryBiometric runs the biometric fast path on demand. It reports false,
// without error, when biometrics are off, absent or fail.
func (g *Gate) TryBiometric(ctx context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != AwaitingLogin {
		return false, fmt.Errorf("%w: biometric from %s", ErrInvalidState, g.state)
	}
	if !g.session.UseBiometric {
		return false, nil
	}
	return g.tryBiometricLocked(ctx)
}

// tryBiometricLocked only returns an error when the prompt passed but the
// vault could not be opened.
func (g *Gate) tryBiometricLocked(ctx context.Context) (bool, error) {
	available, err := biometric.Available(ctx, g.bio)
	if err != nil {
		g.logger.Debug("biometric check failed, falling back to password", "error", err)
	}
	if !available {
		return false, nil
	}

	ok, err := g.bio.Authenticate(ctx, g.prompt)
	if err != nil {
		g.logger.Debug("biometric prompt failed, falling back to password", "error", err)
		ok = false
	}
	if !ok {
		_ = g.audit.Denied(audit.OpAuthBiometric, "", "biometric not accepted")
		return false, nil
	}

	if err := g.unlockLocked(ctx, "", "biometric"); err != nil {
		return false, err
	}
	return true, nil
}

func (g *Gate) unlockLocked(ctx context.Context, password, method string) error {
	store, err := g.open(ctx, password)
	if err != nil {
		return fmt.Errorf("auth: failed to open vault: %w", err)
	}
	g.vault = store
	g.state = Unlocked

	g.logger.Info("vault unlocked", "method", method)
	_ = g.audit.Success(audit.OpAuthUnlock, "", map[string]any{"method": method})
	return nil
}

// Vault returns the Vault Store once the Gate is Unlocked.
func (g *Gate) Vault() (*vault.Store, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != Unlocked {
		return nil, ErrLocked
	}
	return g.vault, nil
}
