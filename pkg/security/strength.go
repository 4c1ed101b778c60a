// Package security reports on the health of the credentials held in a
// vault: weak passwords and secrets reused across entries.
package security

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Strength is the strength level of a stored password.
type Strength int

const (
	// Weak is shorter than 8 characters.
	Weak Strength = iota
	Fair
	Good
	Strong
)

// String returns a human-readable representation of the strength.
func (s Strength) String() string {
	switch s {
	case Weak:
		return "Weak"
	case Fair:
		return "Fair"
	case Good:
		return "Good"
	case Strong:
		return "Strong"
	default:
		return "Unknown"
	}
}

// Points returns the strength component contribution: Weak=0, Fair=16,
// Good=33, Strong=50.
func (s Strength) Points() int {
	switch s {
	case Fair:
		return 16
	case Good:
		return 33
	case Strong:
		return 50
	default:
		return 0
	}
}

// PasswordStrength rates a password by its length in characters after
// normalization. Composition is not considered.
func PasswordStrength(value string) Strength {
	n := utf8.RuneCountInString(normalize(value))
	switch {
	case n >= 20:
		return Strong
	case n >= 14:
		return Good
	case n >= 8:
		return Fair
	default:
		return Weak
	}
}

// normalize trims surrounding whitespace and applies Unicode NFC so that
// visually identical values compare equal.
func normalize(value string) string {
	return norm.NFC.String(strings.TrimSpace(value))
}
