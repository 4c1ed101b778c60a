package vault

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forest6511/credsafe/pkg/entry"
)

// FormatVersion is written into every persisted document.
const FormatVersion = 2

type document struct {
	Version        int            `json:"version"`
	OnlineAccounts []onlineRecord `json:"onlineAccounts"`
	Passwords      []passwordRec  `json:"passwords"`
	CryptoSeeds    []seedRecord   `json:"cryptoSeeds"`
}

type onlineRecord struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	entry.OnlineAccount
}

type passwordRec struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	entry.PasswordRecord
}

type seedRecord struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"createdAt"`
	Words     entry.SeedPhrase `json:"words"`
}

// legacyDocument is the unversioned layout: bare entries without ids, seeds
// as plain string arrays.
type legacyDocument struct {
	OnlineAccounts []entry.OnlineAccount  `json:"onlineAccounts"`
	Passwords      []entry.PasswordRecord `json:"passwords"`
	CryptoSeeds    [][]string             `json:"cryptoSeeds"`
}

// Encode serializes the whole aggregate.
func Encode(d *Data) ([]byte, error) {
	doc := document{
		Version:        FormatVersion,
		OnlineAccounts: make([]onlineRecord, 0, len(d.OnlineAccounts)),
		Passwords:      make([]passwordRec, 0, len(d.Passwords)),
		CryptoSeeds:    make([]seedRecord, 0, len(d.CryptoSeeds)),
	}
	for _, it := range d.OnlineAccounts {
		doc.OnlineAccounts = append(doc.OnlineAccounts, onlineRecord{it.ID, it.CreatedAt, it.Entry.(entry.OnlineAccount)})
	}
	for _, it := range d.Passwords {
		doc.Passwords = append(doc.Passwords, passwordRec{it.ID, it.CreatedAt, it.Entry.(entry.PasswordRecord)})
	}
	for _, it := range d.CryptoSeeds {
		doc.CryptoSeeds = append(doc.CryptoSeeds, seedRecord{it.ID, it.CreatedAt, it.Entry.(entry.SeedPhrase)})
	}
	return json.Marshal(doc)
}

// Decode parses a persisted document. upgraded reports that the input was
// in the legacy layout and ids were assigned. Every failure wraps
// ErrCorruptData.
func Decode(raw []byte) (d *Data, upgraded bool, err error) {
	var head struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}

	if head.Version == nil {
		d, err = decodeLegacy(raw)
		return d, err == nil, err
	}
	if *head.Version != FormatVersion {
		return nil, false, fmt.Errorf("%w: unsupported format version %d", ErrCorruptData, *head.Version)
	}

	var doc document
	if err := strictUnmarshal(raw, &doc); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}

	b := newBuilder()
	for _, r := range doc.OnlineAccounts {
		b.add(r.ID, r.CreatedAt, entry.TypeOnlineAccount, r.OnlineAccount)
	}
	for _, r := range doc.Passwords {
		b.add(r.ID, r.CreatedAt, entry.TypePassword, r.PasswordRecord)
	}
	for _, r := range doc.CryptoSeeds {
		b.add(r.ID, r.CreatedAt, entry.TypeCryptoSeed, r.Words)
	}
	return b.data, false, b.err
}

func decodeLegacy(raw []byte) (*Data, error) {
	var doc legacyDocument
	if err := strictUnmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}

	now := time.Now().UTC()
	b := newBuilder()
	for _, e := range doc.OnlineAccounts {
		b.add(uuid.NewString(), now, entry.TypeOnlineAccount, e)
	}
	for _, e := range doc.Passwords {
		b.add(uuid.NewString(), now, entry.TypePassword, e)
	}
	for _, words := range doc.CryptoSeeds {
		if len(words) != entry.SeedLength {
			b.fail(fmt.Errorf("seed phrase has %d words", len(words)))
			continue
		}
		var s entry.SeedPhrase
		copy(s[:], words)
		b.add(uuid.NewString(), now, entry.TypeCryptoSeed, s)
	}
	return b.data, b.err
}

// builder collects decoded items, rejecting malformed entries and bad or
// repeated ids. Only the first failure is kept.
type builder struct {
	data *Data
	seen map[string]bool
	err  error
}

func newBuilder() *builder {
	return &builder{data: NewData(), seen: make(map[string]bool)}
}

func (b *builder) fail(err error) {
	if b.err == nil {
		b.err = fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
}

func (b *builder) add(id string, created time.Time, t entry.Type, e entry.Entry) {
	if b.err != nil {
		return
	}
	if _, err := uuid.Parse(id); err != nil {
		b.fail(fmt.Errorf("invalid id %q", id))
		return
	}
	if b.seen[id] {
		b.fail(fmt.Errorf("duplicate id %s", id))
		return
	}
	n, err := entry.Validate(t, e)
	if err != nil {
		b.fail(fmt.Errorf("%s item %s: %v", t, id, err))
		return
	}
	b.seen[id] = true
	s := b.data.slot(t)
	*s = append(*s, Item{ID: id, Entry: n, CreatedAt: created})
}

func strictUnmarshal(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after document")
	}
	return nil
}
