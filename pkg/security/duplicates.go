package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/forest6511/credsafe/pkg/entry"
	"github.com/forest6511/credsafe/pkg/vault"
)

// Kind distinguishes the secrets a health check looks at.
type Kind string

const (
	KindPassword Kind = "password"
	KindSeed     Kind = "seed"
)

// Credential is one secret value pulled out of a vault item.
type Credential struct {
	ID    string
	Type  entry.Type
	Index int
	Kind  Kind
	Value string
}

// Credentials extracts every secret from d in display order: online account
// and password record passwords, and seed phrases.
func Credentials(d *vault.Data) []Credential {
	var out []Credential
	for _, t := range entry.Types {
		for i, it := range d.Items(t) {
			c := Credential{ID: it.ID, Type: t, Index: i, Kind: KindPassword}
			switch e := it.Entry.(type) {
			case entry.OnlineAccount:
				c.Value = e.Password
			case entry.PasswordRecord:
				c.Value = e.Password
			case entry.SeedPhrase:
				c.Kind = KindSeed
				c.Value = e.String()
			default:
				continue
			}
			out = append(out, c)
		}
	}
	return out
}

// DuplicateGroup is a set of items sharing one secret value.
type DuplicateGroup struct {
	Kind  Kind     `json:"kind"`
	IDs   []string `json:"ids,omitempty"`
	Count int      `json:"count"`
}

type hashedCredential struct {
	Credential
	hash string
}

// FindDuplicates groups credentials by value. Values are compared through
// HMAC-SHA256 under a key that lives only as long as the Calculator.
// Groups come back most duplicated first.
func (c *Calculator) FindDuplicates(creds []Credential, includeIDs bool, limit int) ([]DuplicateGroup, error) {
	if c.hmacKey == nil {
		c.hmacKey = make([]byte, 32)
		if _, err := rand.Read(c.hmacKey); err != nil {
			return nil, err
		}
	}

	var hashed []hashedCredential
	for _, cred := range creds {
		value := normalize(cred.Value)
		if value == "" {
			continue
		}
		hashed = append(hashed, hashedCredential{
			Credential: cred,
			hash:       computeValueHash(string(cred.Kind)+"\x00"+value, c.hmacKey),
		})
	}

	byHash := make(map[string][]hashedCredential)
	var order []string
	for _, h := range hashed {
		if _, ok := byHash[h.hash]; !ok {
			order = append(order, h.hash)
		}
		byHash[h.hash] = append(byHash[h.hash], h)
	}

	var groups []DuplicateGroup
	for _, hash := range order {
		members := byHash[hash]
		if len(members) <= 1 {
			continue
		}
		group := DuplicateGroup{Kind: members[0].Kind, Count: len(members)}
		if includeIDs {
			for _, m := range members {
				group.IDs = append(group.IDs, m.ID)
			}
		}
		groups = append(groups, group)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Count > groups[j].Count
	})

	if limit > 0 && len(groups) > limit {
		groups = groups[:limit]
	}
	return groups, nil
}

func computeValueHash(value string, key []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}

// FindWeakPasswords returns an issue per password rated Weak.
func (c *Calculator) FindWeakPasswords(creds []Credential, includeIDs bool, limit int) []Issue {
	var issues []Issue
	for _, cred := range creds {
		if cred.Kind != KindPassword || cred.Value == "" {
			continue
		}
		if PasswordStrength(cred.Value) != Weak {
			continue
		}
		issue := Issue{
			Type:        IssueWeakPassword,
			Severity:    SeverityWarning,
			EntryType:   cred.Type,
			Description: "Password is shorter than 8 characters",
			Suggestion:  "Use a longer password (14+ characters recommended)",
		}
		if includeIDs {
			issue.ID = cred.ID
		}
		issues = append(issues, issue)
	}
	if limit > 0 && len(issues) > limit {
		issues = issues[:limit]
	}
	return issues
}
