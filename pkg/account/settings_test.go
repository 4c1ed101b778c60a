package account

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/credsafe/pkg/entry"
)

func TestSettingsLock(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t, nil)
	require.NoError(t, r.Setup(ctx, validProfile()))
	lock := r.SettingsLock()

	set, err := lock.IsSet(ctx)
	require.NoError(t, err)
	assert.False(t, set)

	_, err = lock.Verify(ctx, "anything")
	assert.ErrorIs(t, err, ErrSettingsPasswordNotSet)
	assert.ErrorIs(t, lock.Change(ctx, "a", "b"), ErrSettingsPasswordNotSet)
	assert.ErrorIs(t, lock.Set(ctx, ""), entry.ErrMissingField)

	require.NoError(t, lock.Set(ctx, "Panel9"))
	assert.ErrorIs(t, lock.Set(ctx, "again"), ErrSettingsPasswordSet)

	set, _ = lock.IsSet(ctx)
	assert.True(t, set)

	ok, err := lock.Verify(ctx, "Panel9")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = lock.Verify(ctx, "panel9")
	assert.False(t, ok)

	assert.ErrorIs(t, lock.Change(ctx, "wrong", "Panel10"), ErrIncorrectPassword)
	require.NoError(t, lock.Change(ctx, "Panel9", "Panel10"))
	ok, _ = lock.Verify(ctx, "Panel10")
	assert.True(t, ok)
}

func TestSettingsLock_IndependentOfAccountPassword(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t, nil)
	require.NoError(t, r.Setup(ctx, validProfile()))
	require.NoError(t, r.SettingsLock().Set(ctx, "Panel9"))

	// The account password does not open the settings lock, and vice versa.
	ok, _ := r.SettingsLock().Verify(ctx, "Secret1")
	assert.False(t, ok)
	ok, _ = r.VerifyPassword(ctx, "Panel9")
	assert.False(t, ok)

	// Changing one leaves the other alone.
	require.NoError(t, r.ChangePassword(ctx, "Secret1", "Other3"))
	ok, _ = r.SettingsLock().Verify(ctx, "Panel9")
	assert.True(t, ok)
}
