package vault

import (
	"time"

	"github.com/forest6511/credsafe/pkg/entry"
)

// Item is a stored entry with its stable identifier.
type Item struct {
	ID        string
	Entry     entry.Entry
	CreatedAt time.Time
}

// Type returns the entry's tag.
func (it Item) Type() entry.Type {
	return it.Entry.Type()
}

// Ref addresses a freshly added item both ways. Index is only valid until
// the next mutation of the same type; ID is valid for the item's lifetime.
type Ref struct {
	ID    string
	Index int
}

// Data is the vault aggregate: one ordered sequence per entry type.
// Insertion order is display order.
type Data struct {
	OnlineAccounts []Item
	Passwords      []Item
	CryptoSeeds    []Item
}

// NewData returns the empty aggregate.
func NewData() *Data {
	return &Data{
		OnlineAccounts: []Item{},
		Passwords:      []Item{},
		CryptoSeeds:    []Item{},
	}
}

// Items returns the sequence for t, or nil for an unknown tag.
func (d *Data) Items(t entry.Type) []Item {
	if s := d.slot(t); s != nil {
		return *s
	}
	return nil
}

// Len counts items across all types.
func (d *Data) Len() int {
	return len(d.OnlineAccounts) + len(d.Passwords) + len(d.CryptoSeeds)
}

// Find locates an item by id.
func (d *Data) Find(id string) (entry.Type, int, bool) {
	for _, t := range entry.Types {
		for i, it := range d.Items(t) {
			if it.ID == id {
				return t, i, true
			}
		}
	}
	return "", 0, false
}

// Clone copies the aggregate. Entries are value types, so copying the
// slices is a deep copy.
func (d *Data) Clone() *Data {
	return &Data{
		OnlineAccounts: append([]Item{}, d.OnlineAccounts...),
		Passwords:      append([]Item{}, d.Passwords...),
		CryptoSeeds:    append([]Item{}, d.CryptoSeeds...),
	}
}

func (d *Data) slot(t entry.Type) *[]Item {
	switch t {
	case entry.TypeOnlineAccount:
		return &d.OnlineAccounts
	case entry.TypePassword:
		return &d.Passwords
	case entry.TypeCryptoSeed:
		return &d.CryptoSeeds
	}
	return nil
}
