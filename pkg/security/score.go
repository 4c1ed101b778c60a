package security

import (
	"strconv"

	"github.com/forest6511/credsafe/pkg/entry"
	"github.com/forest6511/credsafe/pkg/vault"
)

// Report is the health assessment of a vault.
type Report struct {
	// Overall is the total score (0-100).
	Overall     int             `json:"overall"`
	Components  ScoreComponents `json:"components"`
	Checked     int             `json:"checked"`
	Issues      []Issue         `json:"issues"`
	Suggestions []string        `json:"suggestions"`
	// Limited is set when issues were dropped by Limits.
	Limited bool `json:"limited"`
}

// ScoreComponents splits the score in two halves of up to 50 points.
type ScoreComponents struct {
	StrengthScore   int `json:"strength"`
	UniquenessScore int `json:"uniqueness"`
}

// IssueType identifies the type of health issue.
type IssueType string

const (
	IssueWeakPassword IssueType = "weak"
	IssueDuplicate    IssueType = "duplicate"
)

// Severity indicates the urgency of an issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Issue is a detected problem. IDs are only filled in when the caller asks
// for them.
type Issue struct {
	Type        IssueType  `json:"type"`
	Severity    Severity   `json:"severity"`
	EntryType   entry.Type `json:"entry_type,omitempty"`
	ID          string     `json:"id,omitempty"`
	IDs         []string   `json:"ids,omitempty"`
	Description string     `json:"description"`
	Suggestion  string     `json:"suggestion,omitempty"`
}

// Calculator computes health reports.
type Calculator struct {
	limits  Limits
	hmacKey []byte
}

// NewCalculator returns a Calculator applying limits to listed issues.
func NewCalculator(limits Limits) *Calculator {
	return &Calculator{limits: limits}
}

// Analyze scores d. It reads only the snapshot it is given.
func (c *Calculator) Analyze(d *vault.Data, includeIDs bool) (*Report, error) {
	creds := Credentials(d)
	if len(creds) == 0 {
		return &Report{
			Overall:     100,
			Components:  ScoreComponents{StrengthScore: 50, UniquenessScore: 50},
			Issues:      []Issue{},
			Suggestions: []string{},
		}, nil
	}

	strengthScore := strengthScore(creds)
	weak := c.FindWeakPasswords(creds, includeIDs, 0)

	dups, err := c.FindDuplicates(creds, includeIDs, 0)
	if err != nil {
		return nil, err
	}
	uniquenessScore := uniquenessScore(len(creds), dups)

	issues := append([]Issue{}, weak...)
	for _, g := range dups {
		issue := Issue{
			Type:        IssueDuplicate,
			Severity:    SeverityWarning,
			IDs:         g.IDs,
			Description: strconv.Itoa(g.Count) + " entries share the same " + string(g.Kind),
			Suggestion:  "Use a unique password for each account",
		}
		if g.Kind == KindSeed {
			issue.Severity = SeverityCritical
			issue.Description = strconv.Itoa(g.Count) + " entries hold the same seed phrase"
			issue.Suggestion = "Remove the duplicate seed phrase entries"
		}
		issues = append(issues, issue)
	}

	limited := false
	if c.limits.IsLimited() {
		issues, limited = c.applyLimits(issues)
	}

	return &Report{
		Overall: strengthScore + uniquenessScore,
		Components: ScoreComponents{
			StrengthScore:   strengthScore,
			UniquenessScore: uniquenessScore,
		},
		Checked:     len(creds),
		Issues:      issues,
		Suggestions: suggestions(issues),
		Limited:     limited,
	}, nil
}

// strengthScore averages the strength points of all passwords. A vault
// holding only seed phrases scores full marks.
func strengthScore(creds []Credential) int {
	total, n := 0, 0
	for _, cred := range creds {
		if cred.Kind != KindPassword {
			continue
		}
		n++
		total += PasswordStrength(cred.Value).Points()
	}
	if n == 0 {
		return 50
	}
	return total / n
}

// uniquenessScore scales the share of distinct values to 0-50.
func uniquenessScore(total int, dups []DuplicateGroup) int {
	unique := total
	for _, g := range dups {
		unique -= g.Count - 1
	}
	return unique * 50 / total
}

func (c *Calculator) applyLimits(issues []Issue) ([]Issue, bool) {
	limited := false
	weakCount, dupCount := 0, 0
	var result []Issue

	for _, issue := range issues {
		switch issue.Type {
		case IssueWeakPassword:
			if c.limits.WeakLimit > 0 && weakCount >= c.limits.WeakLimit {
				limited = true
				continue
			}
			weakCount++
		case IssueDuplicate:
			if c.limits.DuplicateLimit > 0 && dupCount >= c.limits.DuplicateLimit {
				limited = true
				continue
			}
			dupCount++
		}
		result = append(result, issue)
	}
	return result, limited
}

func suggestions(issues []Issue) []string {
	out := []string{}
	var weak, dup bool
	for _, issue := range issues {
		switch issue.Type {
		case IssueWeakPassword:
			weak = true
		case IssueDuplicate:
			dup = true
		}
	}
	if weak {
		out = append(out, "Update weak passwords with stronger alternatives (14+ characters)")
	}
	if dup {
		out = append(out, "Replace reused passwords with unique values")
	}
	return out
}
