package auth

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/credsafe/pkg/account"
	"github.com/forest6511/credsafe/pkg/biometric"
	"github.com/forest6511/credsafe/pkg/crypto"
	"github.com/forest6511/credsafe/pkg/entry"
	"github.com/forest6511/credsafe/pkg/kv"
	"github.com/forest6511/credsafe/pkg/vault"
)

var fastParams = crypto.Params{Memory: 1024, Time: 1, Threads: 1}

func profile(bio bool) account.Profile {
	return account.Profile{
		Name:         "Alice",
		Email:        "alice@example.com",
		DateOfBirth:  "1990-04-01",
		Password:     "Secret1",
		UseBiometric: bio,
	}
}

// opener records the passwords the Gate opened the vault with.
type opener struct {
	mem *kv.MemoryStore
	err error

	mu    sync.Mutex
	calls []string
}

func (o *opener) open(_ context.Context, password string) (*vault.Store, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, password)
	if o.err != nil {
		return nil, o.err
	}
	return vault.New(o.mem), nil
}

func (o *opener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

// newGate builds a Gate as a fresh process would, over shared storage.
func newGate(mem *kv.MemoryStore, bio biometric.Capability) (*Gate, *opener) {
	reg := account.NewRegistry(mem, bio, account.WithParams(fastParams))
	o := &opener{mem: mem}
	return NewGate(reg, o.open), o
}

func TestGate_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()

	g, o := newGate(mem, nil)
	assert.Equal(t, Uninitialized, g.State())

	state, err := g.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, AwaitingSetup, state)
	assert.False(t, g.Session().SetupComplete)

	_, err = g.Vault()
	assert.ErrorIs(t, err, ErrLocked)
	assert.ErrorIs(t, g.Login(ctx, "Secret1"), ErrInvalidState)

	require.NoError(t, g.Setup(ctx, profile(false)))
	assert.Equal(t, AwaitingLogin, g.State())
	assert.True(t, g.Session().SetupComplete)

	assert.ErrorIs(t, g.Login(ctx, "secret1"), ErrIncorrectPassword)
	assert.Equal(t, AwaitingLogin, g.State())
	assert.Zero(t, o.count())

	require.NoError(t, g.Login(ctx, "Secret1"))
	assert.Equal(t, Unlocked, g.State())
	assert.Equal(t, []string{"Secret1"}, o.calls)

	v, err := g.Vault()
	require.NoError(t, err)
	_, err = v.Add(ctx, entry.TypePassword, entry.PasswordRecord{Title: "wifi", Password: "x"})
	require.NoError(t, err)

	// Unlocked is terminal within the process.
	assert.ErrorIs(t, g.Login(ctx, "Secret1"), ErrInvalidState)
	assert.ErrorIs(t, g.Setup(ctx, profile(false)), ErrInvalidState)
	_, err = g.Start(ctx)
	assert.ErrorIs(t, err, ErrInvalidState)

	// A new process over the same storage starts locked.
	g2, _ := newGate(mem, nil)
	state, err = g2.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, AwaitingLogin, state)
	_, err = g2.Vault()
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, g2.Login(ctx, "Secret1"))
	v2, err := g2.Vault()
	require.NoError(t, err)
	items, err := v2.List(ctx, entry.TypePassword)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestGate_StartRefusesEncryptionMismatch(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()

	reg := account.NewRegistry(mem, nil, account.WithParams(fastParams), account.WithEncryption(true))
	require.NoError(t, reg.Setup(ctx, profile(false)))

	g, o := newGate(mem, nil)
	state, err := g.Start(ctx)
	assert.ErrorIs(t, err, account.ErrEncryptionMismatch)
	assert.Equal(t, Uninitialized, state)
	assert.ErrorIs(t, g.Login(ctx, "Secret1"), ErrInvalidState)
	assert.Zero(t, o.count())
	assert.Contains(t, mem.Snapshot(), kv.KeyVaultKey, "stored key left alone")
}

func TestGate_BiometricFastPath(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	bio := &biometric.Static{Hardware: true, Enrolled: true, Succeed: true}

	reg := account.NewRegistry(mem, bio, account.WithParams(fastParams))
	require.NoError(t, reg.Setup(ctx, profile(true)))

	g, o := newGate(mem, bio)
	state, err := g.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, Unlocked, state)
	assert.True(t, g.Session().UseBiometric)
	assert.Equal(t, []string{""}, o.calls, "biometric unlock carries no password")
	assert.Equal(t, 1, bio.Prompts())

	_, err = g.Vault()
	assert.NoError(t, err)
}

func TestGate_BiometricSilentFallback(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		bio     *biometric.Static
		prompts int
	}{
		{"prompt rejected", &biometric.Static{Hardware: true, Enrolled: true, Succeed: false}, 1},
		{"prompt error", &biometric.Static{Hardware: true, Enrolled: true, Err: errors.New("cancelled")}, 0},
		{"hardware gone", &biometric.Static{Hardware: false, Enrolled: true, Succeed: true}, 0},
		{"enrollment removed", &biometric.Static{Hardware: true, Enrolled: false, Succeed: true}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := kv.NewMemoryStore()
			enrolled := &biometric.Static{Hardware: true, Enrolled: true}
			reg := account.NewRegistry(mem, enrolled, account.WithParams(fastParams))
			require.NoError(t, reg.Setup(ctx, profile(true)))

			g, o := newGate(mem, tt.bio)
			state, err := g.Start(ctx)
			require.NoError(t, err, "fallback is not an error")
			assert.Equal(t, AwaitingLogin, state)
			assert.Equal(t, tt.prompts, tt.bio.Prompts())
			assert.Zero(t, o.count())

			ok, err := g.TryBiometric(ctx)
			require.NoError(t, err)
			assert.False(t, ok)

			// Manual path still works.
			require.NoError(t, g.Login(ctx, "Secret1"))
			assert.Equal(t, Unlocked, g.State())
		})
	}
}

func TestGate_NoBiometricProfileNeverPrompts(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	bio := &biometric.Static{Hardware: true, Enrolled: true, Succeed: true}
	reg := account.NewRegistry(mem, bio, account.WithParams(fastParams))
	require.NoError(t, reg.Setup(ctx, profile(false)))

	g, _ := newGate(mem, bio)
	state, err := g.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, AwaitingLogin, state)

	ok, err := g.TryBiometric(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, bio.Prompts())
}

func TestGate_SetupWithBiometricUnlocksImmediately(t *testing.T) {
	ctx := context.Background()
	bio := &biometric.Static{Hardware: true, Enrolled: true, Succeed: true}
	g, _ := newGate(kv.NewMemoryStore(), bio)

	_, err := g.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, g.Setup(ctx, profile(true)))
	assert.Equal(t, Unlocked, g.State())
}

func TestGate_SetupFailureStaysAwaitingSetup(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	g, _ := newGate(mem, biometric.Unavailable{})

	_, err := g.Start(ctx)
	require.NoError(t, err)

	err = g.Setup(ctx, profile(true))
	require.ErrorIs(t, err, account.ErrBiometricUnavailable)
	assert.Equal(t, AwaitingSetup, g.State())
	assert.NotContains(t, mem.Snapshot(), kv.KeySetupComplete)

	// Setup without biometrics still goes through.
	require.NoError(t, g.Setup(ctx, profile(false)))
	assert.Equal(t, AwaitingLogin, g.State())
}

func TestGate_OpenerFailureKeepsLocked(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	g, o := newGate(mem, nil)
	_, err := g.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, g.Setup(ctx, profile(false)))

	o.err = errors.New("database is locked")
	require.Error(t, g.Login(ctx, "Secret1"))
	assert.Equal(t, AwaitingLogin, g.State())

	o.err = nil
	require.NoError(t, g.Login(ctx, "Secret1"))
	assert.Equal(t, Unlocked, g.State())
}

func TestGate_InconsistentMarkers(t *testing.T) {
	ctx := context.Background()

	t.Run("marker without profile", func(t *testing.T) {
		mem := kv.NewMemoryStore()
		require.NoError(t, mem.Put(ctx, kv.KeySetupComplete, []byte("true")))

		g, _ := newGate(mem, nil)
		state, err := g.Start(ctx)
		require.NoError(t, err)
		assert.Equal(t, AwaitingSetup, state)
		assert.True(t, g.Session().MarkerRepaired)
		assert.NotContains(t, mem.Snapshot(), kv.KeySetupComplete)
	})

	t.Run("profile without marker", func(t *testing.T) {
		mem := kv.NewMemoryStore()
		reg := account.NewRegistry(mem, nil, account.WithParams(fastParams))
		require.NoError(t, reg.Setup(ctx, profile(false)))
		require.NoError(t, mem.Delete(ctx, kv.KeySetupComplete))

		g, _ := newGate(mem, nil)
		state, err := g.Start(ctx)
		require.NoError(t, err)
		assert.Equal(t, AwaitingLogin, state)
		assert.True(t, g.Session().MarkerRepaired)
		assert.Equal(t, "true", string(mem.Snapshot()[kv.KeySetupComplete]))
	})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", Uninitialized.String())
	assert.Equal(t, "awaiting-setup", AwaitingSetup.String())
	assert.Equal(t, "awaiting-login", AwaitingLogin.String())
	assert.Equal(t, "unlocked", Unlocked.String())
	assert.Equal(t, "State(9)", State(9).String())
}
