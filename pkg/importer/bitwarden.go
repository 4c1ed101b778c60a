package importer

import (
	"encoding/json"
	"fmt"
)

// BitwardenParser parses Bitwarden JSON exports (unencrypted).
type BitwardenParser struct{}

// Bitwarden item types.
const (
	bitwardenTypeLogin      = 1
	bitwardenTypeSecureNote = 2
	bitwardenTypeCard       = 3
	bitwardenTypeIdentity   = 4
)

type bitwardenExport struct {
	Encrypted bool            `json:"encrypted"`
	Items     []bitwardenItem `json:"items"`
}

type bitwardenItem struct {
	Type  int             `json:"type"`
	Name  string          `json:"name"`
	Notes string          `json:"notes"`
	Login *bitwardenLogin `json:"login"`
}

type bitwardenLogin struct {
	URIs     []bitwardenURI `json:"uris"`
	Username string         `json:"username"`
	Password string         `json:"password"`
	TOTP     string         `json:"totp"`
}

type bitwardenURI struct {
	URI string `json:"uri"`
}

// Source returns the source type for this parser.
func (p *BitwardenParser) Source() Source {
	return SourceBitwarden
}

// Parse parses Bitwarden JSON data.
func (p *BitwardenParser) Parse(data []byte) (*Result, error) {
	var export bitwardenExport
	if err := json.Unmarshal(stripBOM(data), &export); err != nil {
		return nil, fmt.Errorf("failed to parse Bitwarden JSON: %w", err)
	}
	if export.Encrypted {
		return nil, fmt.Errorf("encrypted Bitwarden exports are not supported")
	}

	res := newResult()
	var names naming
	for i, item := range export.Items {
		switch item.Type {
		case bitwardenTypeLogin:
			if item.Login == nil {
				res.skip(item.Name, "no login data")
				continue
			}
			var site string
			if len(item.Login.URIs) > 0 {
				site = item.Login.URIs[0].URI
			}
			e, reason := names.login(item.Name, site, item.Login.Username, item.Login.Password)
			if e == nil {
				res.skip(item.Name, reason)
				continue
			}
			if item.Login.TOTP != "" {
				res.Warnings = append(res.Warnings, fmt.Sprintf("item %d (%s): one-time password seed not imported", i+1, item.Name))
			}
			res.Entries = append(res.Entries, Imported{Name: item.Name, Entry: e})
		case bitwardenTypeSecureNote:
			seed, ok := seedFromNote(item.Notes)
			if !ok {
				res.skip(item.Name, "secure note is not a seed phrase")
				continue
			}
			res.Entries = append(res.Entries, Imported{Name: item.Name, Entry: seed})
		case bitwardenTypeCard, bitwardenTypeIdentity:
			res.skip(item.Name, "cards and identities are not supported")
		default:
			res.Warnings = append(res.Warnings, fmt.Sprintf("item %d (%s): unsupported item type: %d", i+1, item.Name, item.Type))
		}
	}
	return res, nil
}
