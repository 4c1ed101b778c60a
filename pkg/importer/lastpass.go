package importer

import (
	"fmt"
	"html"
	"strings"
)

// LastPassParser parses LastPass CSV exports:
// url,username,password,totp,extra,name,grouping,fav
type LastPassParser struct{}

const (
	lpColURL      = "url"
	lpColUsername = "username"
	lpColPassword = "password"
	lpColTOTP     = "totp"
	lpColExtra    = "extra"
	lpColName     = "name"

	// lpSecureNoteURL marks secure notes.
	lpSecureNoteURL = "http://sn"
)

// Source returns the source type for this parser.
func (p *LastPassParser) Source() Source {
	return SourceLastPass
}

// Parse parses LastPass CSV data. LastPass HTML-encodes some characters;
// values are decoded.
func (p *LastPassParser) Parse(data []byte) (*Result, error) {
	res := newResult()
	var names naming

	err := readCSV(data, lpColName, strings.ToLower, res, func(rowNum int, row csvRow) {
		get := func(col string) string { return html.UnescapeString(row.get(col)) }
		name := get(lpColName)
		site := get(lpColURL)

		if site == lpSecureNoteURL {
			if seed, ok := seedFromNote(get(lpColExtra)); ok {
				res.Entries = append(res.Entries, Imported{Name: name, Entry: seed})
			} else {
				res.skip(name, "secure note is not a seed phrase")
			}
			return
		}

		e, reason := names.login(name, site, get(lpColUsername), get(lpColPassword))
		if e == nil {
			res.skip(name, reason)
			return
		}
		if get(lpColTOTP) != "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("row %d: one-time password seed not imported", rowNum))
		}
		res.Entries = append(res.Entries, Imported{Name: name, Entry: e})
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
