package security

// Limits caps how many issues of each kind a report lists. Zero means
// unlimited. Scores are always computed over the whole vault.
type Limits struct {
	DuplicateLimit int
	WeakLimit      int
}

// DefaultLimits keeps terminal output short.
func DefaultLimits() Limits {
	return Limits{DuplicateLimit: 5, WeakLimit: 5}
}

// Unlimited lists every issue.
func Unlimited() Limits {
	return Limits{}
}

// IsLimited reports whether any cap is set.
func (l Limits) IsLimited() bool {
	return l.DuplicateLimit > 0 || l.WeakLimit > 0
}
