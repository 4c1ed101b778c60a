package entry

import "strings"

// SeedLength is the number of words in a seed phrase.
const SeedLength = 12

// SeedPhrase is an ordered 12-word recovery phrase.
type SeedPhrase [SeedLength]string

// Type implements Entry.
func (SeedPhrase) Type() Type { return TypeCryptoSeed }

func (s SeedPhrase) normalized() Entry {
	var out SeedPhrase
	for i, w := range s {
		out[i] = strings.TrimSpace(w)
	}
	return out
}

func (s SeedPhrase) validate() error {
	for i, w := range s {
		if w == "" {
			return &ValidationError{Type: TypeCryptoSeed, Field: "words", Position: i, Err: ErrIncompleteSeed}
		}
	}
	return nil
}

// Words returns the phrase as a slice.
func (s SeedPhrase) Words() []string {
	return append([]string(nil), s[:]...)
}

// String joins the words with single spaces.
func (s SeedPhrase) String() string {
	return strings.Join(s[:], " ")
}

// NewSeedPhrase builds a phrase from exactly SeedLength words. Any other
// count fails with ErrIncompleteSeed.
func NewSeedPhrase(words []string) (SeedPhrase, error) {
	var s SeedPhrase
	if len(words) != SeedLength {
		pos := len(words)
		if pos > SeedLength {
			pos = SeedLength
		}
		return s, &ValidationError{Type: TypeCryptoSeed, Field: "words", Position: pos, Err: ErrIncompleteSeed}
	}
	copy(s[:], words)
	return s, nil
}

// ParseSeedPhrase tokenizes pasted text on whitespace and places the first
// SeedLength tokens positionally. Extra tokens are dropped and missing
// positions stay empty, so a short paste fails validation.
func ParseSeedPhrase(text string) SeedPhrase {
	var s SeedPhrase
	copy(s[:], strings.Fields(text))
	return s
}
