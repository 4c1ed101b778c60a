// Package entry defines the vault entry variants and the rules an entry must
// satisfy before the vault accepts it.
//
// An Entry is one of OnlineAccount, PasswordRecord or SeedPhrase. The set is
// closed: the interface has unexported methods, so no other package can add
// a variant.
package entry

import (
	"fmt"
	"strings"
)

// Type is the tag that selects an entry variant. The values double as the
// keys of the persisted vault document.
type Type string

const (
	TypeOnlineAccount Type = "onlineAccounts"
	TypePassword      Type = "passwords"
	TypeCryptoSeed    Type = "cryptoSeeds"
)

// Types lists every tag in display order.
var Types = []Type{TypeOnlineAccount, TypePassword, TypeCryptoSeed}

// Valid reports whether t is a known tag.
func (t Type) Valid() bool {
	switch t {
	case TypeOnlineAccount, TypePassword, TypeCryptoSeed:
		return true
	}
	return false
}

// Label returns a short human-readable name.
func (t Type) Label() string {
	switch t {
	case TypeOnlineAccount:
		return "online"
	case TypePassword:
		return "password"
	case TypeCryptoSeed:
		return "seed"
	default:
		return string(t)
	}
}

// ParseType accepts either the tag itself or its label.
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	for _, t := range Types {
		if s == string(t) || strings.EqualFold(s, t.Label()) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// Entry is a vault record of one of the three variants.
type Entry interface {
	Type() Type

	normalized() Entry
	validate() error
}

// OnlineAccount is a login for a website or service.
type OnlineAccount struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Type implements Entry.
func (OnlineAccount) Type() Type { return TypeOnlineAccount }

func (a OnlineAccount) normalized() Entry {
	return OnlineAccount{
		Username: strings.TrimSpace(a.Username),
		Email:    strings.TrimSpace(a.Email),
		Password: strings.TrimSpace(a.Password),
	}
}

func (a OnlineAccount) validate() error {
	return requireFields(TypeOnlineAccount, []field{
		{"username", a.Username},
		{"email", a.Email},
		{"password", a.Password},
	})
}

// PasswordRecord is a password stored under a free-form title.
type PasswordRecord struct {
	Title    string `json:"title"`
	Password string `json:"password"`
}

// Type implements Entry.
func (PasswordRecord) Type() Type { return TypePassword }

func (p PasswordRecord) normalized() Entry {
	return PasswordRecord{
		Title:    strings.TrimSpace(p.Title),
		Password: strings.TrimSpace(p.Password),
	}
}

func (p PasswordRecord) validate() error {
	return requireFields(TypePassword, []field{
		{"title", p.Title},
		{"password", p.Password},
	})
}

type field struct {
	name  string
	value string
}

func requireFields(t Type, fields []field) error {
	for _, f := range fields {
		if f.value == "" {
			return &ValidationError{Type: t, Field: f.name, Position: -1, Err: ErrMissingField}
		}
	}
	return nil
}

// Validate checks candidate against the rules for t and returns the
// normalized entry: every string field trimmed of surrounding whitespace.
// It has no side effects.
func Validate(t Type, candidate Entry) (Entry, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, string(t))
	}
	if candidate == nil {
		return nil, &ValidationError{Type: t, Position: -1, Err: ErrMissingField}
	}
	if candidate.Type() != t {
		return nil, fmt.Errorf("%w: %s entry given for %s", ErrTypeMismatch, candidate.Type(), t)
	}

	n := candidate.normalized()
	if err := n.validate(); err != nil {
		return nil, err
	}
	return n, nil
}

// Summary renders a one-line label that never includes a secret.
func Summary(e Entry) string {
	switch v := e.(type) {
	case OnlineAccount:
		return v.Username + " <" + v.Email + ">"
	case PasswordRecord:
		return v.Title
	case SeedPhrase:
		return fmt.Sprintf("%d-word seed phrase", len(v))
	default:
		return ""
	}
}
