// Package vault owns the vault aggregate: the three entry sequences, their
// persistence as a single blob and the read-modify-write discipline around
// every mutation.
//
// Each mutating operation runs in one lock scope: load (or reuse the cached
// aggregate), mutate a copy, persist the whole copy, then publish it. A
// failed persist leaves both storage and the in-memory aggregate untouched.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forest6511/credsafe/pkg/audit"
	"github.com/forest6511/credsafe/pkg/entry"
	"github.com/forest6511/credsafe/pkg/kv"
)

var (
	ErrIndexOutOfRange = errors.New("vault: index out of range")
	ErrEntryNotFound   = errors.New("vault: entry not found")
	ErrCorruptData     = errors.New("vault: persisted data is corrupt")
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l.With("component", "vault") }
}

// WithAudit records mutations in the audit log.
func WithAudit(a *audit.Logger) Option {
	return func(s *Store) { s.audit = a }
}

// WithClock overrides the time source for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the Vault Store. It is safe for concurrent use; mutations are
// serialized.
type Store struct {
	kv     kv.Store
	logger *slog.Logger
	audit  *audit.Logger
	now    func() time.Time

	mu   sync.Mutex
	data *Data // nil until the first successful load
}

// New returns a Store persisting through store.
func New(store kv.Store, opts ...Option) *Store {
	s := &Store{
		kv:     store,
		logger: slog.Default().With("component", "vault"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the persisted aggregate and makes it the working copy.
//
// Absent data yields the empty aggregate. Malformed data also yields the
// empty aggregate, together with an error wrapping ErrCorruptData; the bad
// bytes are first copied aside under kv.KeyVaultQuarantine so a later write
// cannot destroy them. A storage read failure returns nil and leaves the
// store unloaded.
func (s *Store) Load(ctx context.Context) (*Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.loadLocked(ctx)
	if d == nil {
		return nil, err
	}
	return d.Clone(), err
}

func (s *Store) loadLocked(ctx context.Context) (*Data, error) {
	raw, err := s.kv.Get(ctx, kv.KeyVaultData)
	if errors.Is(err, kv.ErrNotFound) {
		s.data = NewData()
		return s.data, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vault: failed to read data: %w", err)
	}

	d, upgraded, decodeErr := Decode(raw)
	if decodeErr != nil {
		s.logger.Error("vault data is corrupt, continuing with an empty vault",
			"error", decodeErr, "bytes", len(raw), "quarantine", kv.KeyVaultQuarantine)
		if err := s.kv.Put(ctx, kv.KeyVaultQuarantine, raw); err != nil {
			return nil, fmt.Errorf("vault: failed to quarantine corrupt data: %w", err)
		}
		_ = s.audit.Failure(audit.OpVaultCorrupt, "", "CORRUPT_DATA", decodeErr)
		s.data = NewData()
		return s.data, decodeErr
	}

	if upgraded {
		if err := s.persist(ctx, d); err != nil {
			s.logger.Warn("failed to rewrite legacy vault data", "error", err)
		} else {
			s.logger.Info("upgraded legacy vault data", "items", d.Len())
		}
	}
	s.data = d
	return s.data, nil
}

func (s *Store) ensureLoaded(ctx context.Context) error {
	if s.data != nil {
		return nil
	}
	_, err := s.loadLocked(ctx)
	return err
}

func (s *Store) persist(ctx context.Context, d *Data) error {
	raw, err := Encode(d)
	if err != nil {
		return fmt.Errorf("vault: failed to encode data: %w", err)
	}
	if err := s.kv.Put(ctx, kv.KeyVaultData, raw); err != nil {
		return fmt.Errorf("vault: failed to persist data: %w", err)
	}
	return nil
}

// Add validates candidate and appends it to the end of t's sequence. A
// validation failure is returned as is, with nothing mutated or persisted.
func (s *Store) Add(ctx context.Context, t entry.Type, candidate entry.Entry) (Ref, error) {
	n, err := entry.Validate(t, candidate)
	if err != nil {
		return Ref{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return Ref{}, err
	}

	next := s.data.Clone()
	item := Item{ID: uuid.NewString(), Entry: n, CreatedAt: s.now()}
	slot := next.slot(t)
	*slot = append(*slot, item)

	if err := s.persist(ctx, next); err != nil {
		_ = s.audit.Failure(audit.OpEntryAdd, "", "PERSIST_FAILED", err)
		return Ref{}, err
	}
	s.data = next

	ref := Ref{ID: item.ID, Index: len(*slot) - 1}
	s.logger.Debug("entry added", "type", t, "id", ref.ID, "index", ref.Index)
	_ = s.audit.Success(audit.OpEntryAdd, ref.ID, map[string]any{"type": string(t)})
	return ref, nil
}

// AddMany validates every candidate, then appends them all in one
// persist. Any validation failure rejects the whole batch; the error names
// the candidate's position.
func (s *Store) AddMany(ctx context.Context, candidates []entry.Entry) ([]Ref, error) {
	normalized := make([]entry.Entry, len(candidates))
	for i, c := range candidates {
		if c == nil {
			return nil, fmt.Errorf("candidate %d: %w", i, entry.ErrMissingField)
		}
		n, err := entry.Validate(c.Type(), c)
		if err != nil {
			return nil, fmt.Errorf("candidate %d: %w", i, err)
		}
		normalized[i] = n
	}
	if len(normalized) == 0 {
		return []Ref{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	next := s.data.Clone()
	refs := make([]Ref, len(normalized))
	for i, n := range normalized {
		item := Item{ID: uuid.NewString(), Entry: n, CreatedAt: s.now()}
		slot := next.slot(n.Type())
		*slot = append(*slot, item)
		refs[i] = Ref{ID: item.ID, Index: len(*slot) - 1}
	}

	if err := s.persist(ctx, next); err != nil {
		_ = s.audit.Failure(audit.OpEntryAdd, "", "PERSIST_FAILED", err)
		return nil, err
	}
	s.data = next

	s.logger.Debug("entries added", "count", len(refs))
	_ = s.audit.Success(audit.OpEntryAdd, "", map[string]any{"count": len(refs)})
	return refs, nil
}

// Delete removes the item at index in t's sequence. Later items shift down
// by one.
func (s *Store) Delete(ctx context.Context, t entry.Type, index int) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", entry.ErrUnknownType, string(t))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	if err := checkIndex(s.data, t, index); err != nil {
		return err
	}
	return s.deleteLocked(ctx, t, index)
}

// DeleteByID removes the item with the given id.
func (s *Store) DeleteByID(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	t, index, ok := s.data.Find(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return s.deleteLocked(ctx, t, index)
}

func (s *Store) deleteLocked(ctx context.Context, t entry.Type, index int) error {
	next := s.data.Clone()
	slot := next.slot(t)
	id := (*slot)[index].ID
	*slot = append((*slot)[:index], (*slot)[index+1:]...)

	if err := s.persist(ctx, next); err != nil {
		_ = s.audit.Failure(audit.OpEntryDelete, id, "PERSIST_FAILED", err)
		return err
	}
	s.data = next

	s.logger.Debug("entry deleted", "type", t, "id", id, "index", index)
	_ = s.audit.Success(audit.OpEntryDelete, id, map[string]any{"type": string(t)})
	return nil
}

// Get returns the item at index in t's sequence.
func (s *Store) Get(ctx context.Context, t entry.Type, index int) (Item, error) {
	if !t.Valid() {
		return Item{}, fmt.Errorf("%w: %q", entry.ErrUnknownType, string(t))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return Item{}, err
	}
	if err := checkIndex(s.data, t, index); err != nil {
		return Item{}, err
	}
	return s.data.Items(t)[index], nil
}

// GetByID returns the item with the given id.
func (s *Store) GetByID(ctx context.Context, id string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return Item{}, err
	}
	t, index, ok := s.data.Find(id)
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return s.data.Items(t)[index], nil
}

// List returns a copy of t's sequence in display order.
func (s *Store) List(ctx context.Context, t entry.Type) ([]Item, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", entry.ErrUnknownType, string(t))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return append([]Item{}, s.data.Items(t)...), nil
}

// Snapshot returns a copy of the whole aggregate.
func (s *Store) Snapshot(ctx context.Context) (*Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return s.data.Clone(), nil
}

// Invalidate drops the working copy so the next call reloads from storage.
// Used after storage is replaced underneath the store (restore, clear).
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
}

func checkIndex(d *Data, t entry.Type, index int) error {
	if n := len(d.Items(t)); index < 0 || index >= n {
		return fmt.Errorf("%w: %s[%d] (len %d)", ErrIndexOutOfRange, t, index, n)
	}
	return nil
}
