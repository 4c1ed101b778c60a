package vault

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/credsafe/pkg/audit"
	"github.com/forest6511/credsafe/pkg/crypto"
	"github.com/forest6511/credsafe/pkg/entry"
	"github.com/forest6511/credsafe/pkg/kv"
)

var words = []string{
	"abandon", "ability", "able", "about", "above", "absent",
	"absorb", "abstract", "absurd", "abuse", "access", "accident",
}

func seedPhrase(t *testing.T) entry.SeedPhrase {
	t.Helper()
	s, err := entry.NewSeedPhrase(words)
	require.NoError(t, err)
	return s
}

func fixedClock() func() time.Time {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var n int
	var mu sync.Mutex
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func newStore(t *testing.T) (*Store, *kv.MemoryStore) {
	t.Helper()
	mem := kv.NewMemoryStore()
	return New(mem, WithClock(fixedClock())), mem
}

func TestLoad_Absent(t *testing.T) {
	s, mem := newStore(t)

	d, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, d.Len())
	assert.NotNil(t, d.OnlineAccounts)
	assert.NotNil(t, d.Passwords)
	assert.NotNil(t, d.CryptoSeeds)
	assert.Empty(t, mem.Snapshot(), "loading must not write")
}

func TestAdd_ThenGet(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	tests := []struct {
		typ  entry.Type
		in   entry.Entry
		want entry.Entry
	}{
		{
			typ:  entry.TypeOnlineAccount,
			in:   entry.OnlineAccount{Username: " alice ", Email: "alice@example.com ", Password: " hunter2"},
			want: entry.OnlineAccount{Username: "alice", Email: "alice@example.com", Password: "hunter2"},
		},
		{
			typ:  entry.TypePassword,
			in:   entry.PasswordRecord{Title: "wifi", Password: "correct horse"},
			want: entry.PasswordRecord{Title: "wifi", Password: "correct horse"},
		},
		{
			typ:  entry.TypeCryptoSeed,
			in:   seedPhrase(t),
			want: seedPhrase(t),
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			ref, err := s.Add(ctx, tt.typ, tt.in)
			require.NoError(t, err)
			assert.Equal(t, 0, ref.Index)
			assert.NotEmpty(t, ref.ID)

			got, err := s.Get(ctx, tt.typ, ref.Index)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Entry)
			assert.Equal(t, ref.ID, got.ID)

			byID, err := s.GetByID(ctx, ref.ID)
			require.NoError(t, err)
			assert.Equal(t, got, byID)
		})
	}
}

func TestAdd_AppendsAtHighestIndex(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	for i := 0; i < 4; i++ {
		ref, err := s.Add(ctx, entry.TypePassword, entry.PasswordRecord{Title: fmt.Sprintf("p%d", i), Password: "x"})
		require.NoError(t, err)
		assert.Equal(t, i, ref.Index)
	}
	ref, err := s.Add(ctx, entry.TypeOnlineAccount, entry.OnlineAccount{Username: "u", Email: "e", Password: "p"})
	require.NoError(t, err)
	assert.Equal(t, 0, ref.Index, "indices are per type")
}

func TestAdd_ValidationFailureLeavesStorageUntouched(t *testing.T) {
	ctx := context.Background()
	s, mem := newStore(t)

	_, err := s.Add(ctx, entry.TypePassword, entry.PasswordRecord{Title: "kept", Password: "x"})
	require.NoError(t, err)
	before := mem.Snapshot()

	bad := []struct {
		typ entry.Type
		in  entry.Entry
		err error
	}{
		{entry.TypeOnlineAccount, entry.OnlineAccount{Username: "u", Email: " ", Password: "p"}, entry.ErrMissingField},
		{entry.TypePassword, entry.PasswordRecord{Title: "", Password: "p"}, entry.ErrMissingField},
		{entry.TypeCryptoSeed, entry.ParseSeedPhrase("only three words"), entry.ErrIncompleteSeed},
	}
	for _, b := range bad {
		_, err := s.Add(ctx, b.typ, b.in)
		require.ErrorIs(t, err, b.err)
	}

	assert.Equal(t, before, mem.Snapshot())
	items, err := s.List(ctx, entry.TypePassword)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestDelete_ShiftsLaterItems(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	var refs []Ref
	for i := 0; i < 3; i++ {
		ref, err := s.Add(ctx, entry.TypePassword, entry.PasswordRecord{Title: fmt.Sprintf("p%d", i), Password: "x"})
		require.NoError(t, err)
		refs = append(refs, ref)
	}

	require.NoError(t, s.Delete(ctx, entry.TypePassword, 1))

	got, err := s.Get(ctx, entry.TypePassword, 1)
	require.NoError(t, err)
	assert.Equal(t, refs[2].ID, got.ID, "item after the hole moves down")

	// The deleted item's id is gone; the others keep theirs.
	_, err = s.GetByID(ctx, refs[1].ID)
	assert.ErrorIs(t, err, ErrEntryNotFound)
	first, err := s.GetByID(ctx, refs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "p0", first.Entry.(entry.PasswordRecord).Title)

	// Deleting the last index leaves nothing at that index.
	require.NoError(t, s.Delete(ctx, entry.TypePassword, 1))
	_, err = s.Get(ctx, entry.TypePassword, 1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestDelete_OutOfRange(t *testing.T) {
	ctx := context.Background()
	s, mem := newStore(t)
	_, err := s.Add(ctx, entry.TypePassword, entry.PasswordRecord{Title: "a", Password: "b"})
	require.NoError(t, err)
	before := mem.Snapshot()

	for _, idx := range []int{-1, 1, 99} {
		assert.ErrorIs(t, s.Delete(ctx, entry.TypePassword, idx), ErrIndexOutOfRange, "index %d", idx)
		_, err := s.Get(ctx, entry.TypePassword, idx)
		assert.ErrorIs(t, err, ErrIndexOutOfRange, "index %d", idx)
	}
	assert.ErrorIs(t, s.Delete(ctx, entry.TypeCryptoSeed, 0), ErrIndexOutOfRange)
	assert.ErrorIs(t, s.DeleteByID(ctx, "missing"), ErrEntryNotFound)
	assert.Equal(t, before, mem.Snapshot())
}

func TestUnknownType(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	_, err := s.Add(ctx, entry.Type("notes"), entry.PasswordRecord{Title: "a", Password: "b"})
	assert.ErrorIs(t, err, entry.ErrUnknownType)
	_, err = s.Get(ctx, entry.Type("notes"), 0)
	assert.ErrorIs(t, err, entry.ErrUnknownType)
	assert.ErrorIs(t, s.Delete(ctx, entry.Type("notes"), 0), entry.ErrUnknownType)
	_, err = s.List(ctx, entry.Type("notes"))
	assert.ErrorIs(t, err, entry.ErrUnknownType)
}

func TestRoundTrip_AcrossRestarts(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	clock := fixedClock()

	ops := []func(s *Store) error{
		func(s *Store) error {
			_, err := s.Add(ctx, entry.TypeOnlineAccount, entry.OnlineAccount{Username: "a", Email: "a@x", Password: "1"})
			return err
		},
		func(s *Store) error {
			_, err := s.Add(ctx, entry.TypePassword, entry.PasswordRecord{Title: "t1", Password: "2"})
			return err
		},
		func(s *Store) error {
			_, err := s.Add(ctx, entry.TypeCryptoSeed, seedPhrase(t))
			return err
		},
		func(s *Store) error {
			_, err := s.Add(ctx, entry.TypePassword, entry.PasswordRecord{Title: "t2", Password: "3"})
			return err
		},
		func(s *Store) error { return s.Delete(ctx, entry.TypePassword, 0) },
		func(s *Store) error {
			_, err := s.Add(ctx, entry.TypeOnlineAccount, entry.OnlineAccount{Username: "b", Email: "b@x", Password: "4"})
			return err
		},
	}

	for i, op := range ops {
		s := New(mem, WithClock(clock))
		_, err := s.Load(ctx)
		require.NoError(t, err)
		require.NoError(t, op(s), "op %d", i)

		want, err := s.Snapshot(ctx)
		require.NoError(t, err)

		// Simulated restart: a fresh store over the same storage.
		got, err := New(mem).Load(ctx)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("after op %d, reloaded data mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestRoundTrip_SQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credsafe.db")

	db, err := kv.OpenSQLite(ctx, path)
	require.NoError(t, err)
	s := New(db)
	_, err = s.Add(ctx, entry.TypeCryptoSeed, seedPhrase(t))
	require.NoError(t, err)
	_, err = s.Add(ctx, entry.TypePassword, entry.PasswordRecord{Title: "bank", Password: "pin"})
	require.NoError(t, err)
	want, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = kv.OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	got, err := New(db).Load(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch after reopen (-want +got):\n%s", diff)
	}
}

func TestRoundTrip_Sealed(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	dek, err := crypto.NewDataKey()
	require.NoError(t, err)

	sealed, err := kv.NewSealedStore(mem, dek, kv.KeyVaultData)
	require.NoError(t, err)
	_, err = New(sealed).Add(ctx, entry.TypePassword, entry.PasswordRecord{Title: "email", Password: "s3cret"})
	require.NoError(t, err)

	raw := mem.Snapshot()[kv.KeyVaultData]
	assert.NotContains(t, string(raw), "s3cret")

	reopened, err := kv.NewSealedStore(mem, dek, kv.KeyVaultData)
	require.NoError(t, err)
	items, err := New(reopened).List(ctx, entry.TypePassword)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "s3cret", items[0].Entry.(entry.PasswordRecord).Password)

	// A wrong key is a read failure, not corruption: nothing is quarantined.
	other, _ := crypto.NewDataKey()
	wrong, _ := kv.NewSealedStore(mem, other, kv.KeyVaultData)
	_, err = New(wrong).Load(ctx)
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
	assert.NotContains(t, mem.Snapshot(), kv.KeyVaultQuarantine)
}

func TestLoad_CorruptData(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	garbage := []byte(`{"onlineAccounts": [ this is not json`)
	require.NoError(t, mem.Put(ctx, kv.KeyVaultData, garbage))

	s := New(mem)
	d, err := s.Load(ctx)
	require.ErrorIs(t, err, ErrCorruptData)
	require.NotNil(t, d)
	assert.Equal(t, 0, d.Len())
	assert.Equal(t, garbage, mem.Snapshot()[kv.KeyVaultQuarantine])

	// The store keeps working on the empty aggregate, and the quarantined
	// copy survives the next write.
	_, err = s.Add(ctx, entry.TypePassword, entry.PasswordRecord{Title: "a", Password: "b"})
	require.NoError(t, err)
	snap := mem.Snapshot()
	assert.Equal(t, garbage, snap[kv.KeyVaultQuarantine])
	assert.NotEqual(t, garbage, snap[kv.KeyVaultData])
}

func TestLoad_CorruptOnFirstMutation(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	require.NoError(t, mem.Put(ctx, kv.KeyVaultData, []byte("[]")))

	s := New(mem)
	_, err := s.Add(ctx, entry.TypePassword, entry.PasswordRecord{Title: "a", Password: "b"})
	require.ErrorIs(t, err, ErrCorruptData, "corruption is surfaced, not swallowed")
	assert.Equal(t, []byte("[]"), mem.Snapshot()[kv.KeyVaultData])

	_, err = s.Add(ctx, entry.TypePassword, entry.PasswordRecord{Title: "a", Password: "b"})
	require.NoError(t, err)
}

func TestLoad_QuarantineFailure(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	require.NoError(t, mem.Put(ctx, kv.KeyVaultData, []byte("{")))
	mem.FailPut = errors.New("read-only")

	s := New(mem)
	d, err := s.Load(ctx)
	assert.Nil(t, d)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCorruptData)

	// Still unloaded: a mutation retries the load instead of overwriting.
	_, err = s.Add(ctx, entry.TypePassword, entry.PasswordRecord{Title: "a", Password: "b"})
	require.Error(t, err)
	assert.Equal(t, []byte("{"), mem.Snapshot()[kv.KeyVaultData])
}

func TestPersistFailure_RollsBack(t *testing.T) {
	ctx := context.Background()
	s, mem := newStore(t)
	ref, err := s.Add(ctx, entry.TypePassword, entry.PasswordRecord{Title: "a", Password: "b"})
	require.NoError(t, err)
	before, err := s.Snapshot(ctx)
	require.NoError(t, err)

	boom := errors.New("disk full")
	mem.FailPut = boom

	_, err = s.Add(ctx, entry.TypePassword, entry.PasswordRecord{Title: "c", Password: "d"})
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, s.Delete(ctx, entry.TypePassword, 0), boom)
	require.ErrorIs(t, s.DeleteByID(ctx, ref.ID), boom)

	after, err := s.Snapshot(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("in-memory state changed after failed persist (-want +got):\n%s", diff)
	}

	mem.FailPut = nil
	reloaded, err := New(mem).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Len())
}

func TestAddMany(t *testing.T) {
	ctx := context.Background()
	s, mem := newStore(t)
	_, err := s.Add(ctx, entry.TypePassword, entry.PasswordRecord{Title: "existing", Password: "x"})
	require.NoError(t, err)

	refs, err := s.AddMany(ctx, []entry.Entry{
		entry.PasswordRecord{Title: " wifi ", Password: "p1"},
		entry.OnlineAccount{Username: "alice", Email: "a@example.com", Password: "p2"},
		seedPhrase(t),
		entry.PasswordRecord{Title: "bank", Password: "p3"},
	})
	require.NoError(t, err)
	require.Len(t, refs, 4)
	assert.Equal(t, 1, refs[0].Index)
	assert.Equal(t, 0, refs[1].Index)
	assert.Equal(t, 0, refs[2].Index)
	assert.Equal(t, 2, refs[3].Index)

	it, err := s.GetByID(ctx, refs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, entry.PasswordRecord{Title: "wifi", Password: "p1"}, it.Entry)

	reloaded, err := New(mem).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, reloaded.Len())
}

func TestAddMany_RejectsWholeBatch(t *testing.T) {
	ctx := context.Background()
	s, mem := newStore(t)

	_, err := s.AddMany(ctx, []entry.Entry{
		entry.PasswordRecord{Title: "ok", Password: "p"},
		entry.OnlineAccount{Username: "bob", Password: "p"},
	})
	require.Error(t, err)
	assert.True(t, entry.IsValidationFailure(err))
	assert.Contains(t, err.Error(), "candidate 1")
	assert.Empty(t, mem.Snapshot())

	refs, err := s.AddMany(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	s, mem := newStore(t)

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Add(ctx, entry.TypePassword, entry.PasswordRecord{Title: fmt.Sprintf("p%d", i), Password: "x"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	items, err := s.List(ctx, entry.TypePassword)
	require.NoError(t, err)
	assert.Len(t, items, n)

	reloaded, err := New(mem).Load(ctx)
	require.NoError(t, err)
	assert.Len(t, reloaded.Passwords, n, "no update was lost")

	seen := make(map[string]bool)
	for _, it := range reloaded.Passwords {
		assert.False(t, seen[it.ID], "duplicate id %s", it.ID)
		seen[it.ID] = true
	}
}

func TestListAndSnapshotAreCopies(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	_, err := s.Add(ctx, entry.TypePassword, entry.PasswordRecord{Title: "a", Password: "b"})
	require.NoError(t, err)

	items, _ := s.List(ctx, entry.TypePassword)
	items[0].ID = "changed"
	snap, _ := s.Snapshot(ctx)
	snap.Passwords = nil

	again, _ := s.List(ctx, entry.TypePassword)
	require.Len(t, again, 1)
	assert.NotEqual(t, "changed", again[0].ID)
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	s, mem := newStore(t)
	_, err := s.Add(ctx, entry.TypePassword, entry.PasswordRecord{Title: "a", Password: "b"})
	require.NoError(t, err)

	require.NoError(t, mem.Delete(ctx, kv.KeyVaultData))
	items, _ := s.List(ctx, entry.TypePassword)
	assert.Len(t, items, 1, "cached copy until invalidated")

	s.Invalidate()
	items, _ = s.List(ctx, entry.TypePassword)
	assert.Empty(t, items)
}

func TestWithAudit(t *testing.T) {
	ctx := context.Background()
	log := audit.NewLogger(t.TempDir(), audit.SourceCLI)
	require.NoError(t, log.SetHMACKey([]byte("audit master key")))

	s := New(kv.NewMemoryStore(), WithAudit(log))
	ref, err := s.Add(ctx, entry.TypePassword, entry.PasswordRecord{Title: "a", Password: "super-secret"})
	require.NoError(t, err)
	require.NoError(t, s.DeleteByID(ctx, ref.ID))

	events, err := log.List(0, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, audit.OpEntryAdd, events[0].Operation)
	assert.Equal(t, ref.ID, events[0].Target)
	assert.Equal(t, audit.OpEntryDelete, events[1].Operation)

	res, err := log.Verify()
	require.NoError(t, err)
	assert.True(t, res.Valid)
}
