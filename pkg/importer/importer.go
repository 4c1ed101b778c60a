// Package importer reads exports of other password managers and turns them
// into vault entries. Supports 1Password CSV, Bitwarden JSON and LastPass CSV.
//
// Logins become online accounts when the username is an email address and
// password records otherwise. Secure notes holding exactly 12 lowercase
// words become seed phrases. Everything else is skipped with a reason.
package importer

import (
	"bytes"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/credsafe/pkg/entry"
)

// Source represents the source password manager format.
type Source string

const (
	Source1Password Source = "1password"
	SourceBitwarden Source = "bitwarden"
	SourceLastPass  Source = "lastpass"
)

// Imported is one parsed entry and the name it had in the source.
type Imported struct {
	Name  string
	Entry entry.Entry
}

// Result contains the outcome of parsing one export.
type Result struct {
	Entries  []Imported
	Warnings []string
	Skipped  []SkippedItem
}

// SkippedItem is a source item that produced no entry.
type SkippedItem struct {
	Name   string
	Reason string
}

// Candidates returns the parsed entries in source order.
func (r *Result) Candidates() []entry.Entry {
	out := make([]entry.Entry, len(r.Entries))
	for i, imp := range r.Entries {
		out[i] = imp.Entry
	}
	return out
}

func newResult() *Result {
	return &Result{
		Entries:  []Imported{},
		Warnings: []string{},
		Skipped:  []SkippedItem{},
	}
}

func (r *Result) skip(name, reason string) {
	r.Skipped = append(r.Skipped, SkippedItem{Name: name, Reason: reason})
}

// Parser is implemented by each export format.
type Parser interface {
	Parse(data []byte) (*Result, error)
	Source() Source
}

// GetParser returns a parser for the given source.
func GetParser(source Source) (Parser, error) {
	switch source {
	case Source1Password:
		return &OnePasswordParser{}, nil
	case SourceBitwarden:
		return &BitwardenParser{}, nil
	case SourceLastPass:
		return &LastPassParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported import source: %s", source)
	}
}

// ValidSources returns a list of valid source names.
func ValidSources() []string {
	return []string{
		string(Source1Password),
		string(SourceBitwarden),
		string(SourceLastPass),
	}
}

// naming hands out fallback titles for items without a name.
type naming struct {
	counter int
}

// title picks the record title: the item name, else the site hostname,
// else imported_item_N.
func (n *naming) title(name, site string) string {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name != "" {
		return name
	}
	if host := extractHostname(site); host != "" {
		return host
	}
	n.counter++
	return fmt.Sprintf("imported_item_%d", n.counter)
}

// login maps a username/password pair. It returns a reason when the item
// cannot become an entry.
func (n *naming) login(name, site, username, password string) (entry.Entry, string) {
	username = strings.TrimSpace(username)
	if password == "" {
		return nil, "no password"
	}
	if isEmail(username) {
		return entry.OnlineAccount{Username: username, Email: username, Password: password}, ""
	}
	title := n.title(name, site)
	if username != "" {
		title += " (" + username + ")"
	}
	return entry.PasswordRecord{Title: title, Password: password}, ""
}

func isEmail(s string) bool {
	if !strings.Contains(s, "@") {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// extractHostname returns the host of a site URL without "www.". Bare
// hostnames are accepted.
func extractHostname(site string) string {
	site = strings.TrimSpace(site)
	if site == "" {
		return ""
	}
	if !strings.Contains(site, "://") {
		site = "https://" + site
	}
	u, err := url.Parse(site)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// seedFromNote recognizes a note that is exactly a 12-word seed phrase.
func seedFromNote(note string) (entry.SeedPhrase, bool) {
	words := strings.Fields(note)
	if len(words) != entry.SeedLength {
		return entry.SeedPhrase{}, false
	}
	for _, w := range words {
		for _, r := range w {
			if !unicode.IsLower(r) {
				return entry.SeedPhrase{}, false
			}
		}
	}
	seed, err := entry.NewSeedPhrase(words)
	return seed, err == nil
}

// stripBOM removes a UTF-8 byte order mark.
func stripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
}
