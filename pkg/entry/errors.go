package entry

import (
	"errors"
	"fmt"
)

var (
	ErrMissingField   = errors.New("entry: required field is empty")
	ErrIncompleteSeed = errors.New("entry: seed phrase must have 12 non-empty words")
	ErrUnknownType    = errors.New("entry: unknown entry type")
	ErrTypeMismatch   = errors.New("entry: entry does not match type")
)

// ValidationError describes which field of a candidate was rejected.
// Position is the 0-based seed word index, or -1 for non-seed fields.
type ValidationError struct {
	Type     Type
	Field    string
	Position int
	Err      error
}

func (e *ValidationError) Error() string {
	switch {
	case e.Position >= 0:
		return fmt.Sprintf("%v (word %d)", e.Err, e.Position+1)
	case e.Field != "":
		return fmt.Sprintf("%v: %s", e.Err, e.Field)
	default:
		return e.Err.Error()
	}
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidationFailure reports whether err is a recoverable input problem the
// caller should re-prompt for.
func IsValidationFailure(err error) bool {
	return errors.Is(err, ErrMissingField) || errors.Is(err, ErrIncompleteSeed)
}
