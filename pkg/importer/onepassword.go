package importer

import "fmt"

// OnePasswordParser parses 1Password CSV exports:
// Title,Website,Username,Password,OTPAuth,Favorite,Archived,Tags,Notes
type OnePasswordParser struct{}

const (
	op1ColTitle    = "Title"
	op1ColWebsite  = "Website"
	op1ColUsername = "Username"
	op1ColPassword = "Password"
	op1ColOTPAuth  = "OTPAuth"
	op1ColNotes    = "Notes"
)

// Source returns the source type for this parser.
func (p *OnePasswordParser) Source() Source {
	return Source1Password
}

// Parse parses 1Password CSV data.
func (p *OnePasswordParser) Parse(data []byte) (*Result, error) {
	res := newResult()
	var names naming

	err := readCSV(data, op1ColTitle, identity, res, func(rowNum int, row csvRow) {
		title := row.get(op1ColTitle)
		password := row.get(op1ColPassword)
		notes := row.get(op1ColNotes)

		if password == "" {
			if seed, ok := seedFromNote(notes); ok {
				res.Entries = append(res.Entries, Imported{Name: title, Entry: seed})
				return
			}
		}

		e, reason := names.login(title, row.get(op1ColWebsite), row.get(op1ColUsername), password)
		if e == nil {
			res.skip(title, reason)
			return
		}
		if row.get(op1ColOTPAuth) != "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("row %d: one-time password seed not imported", rowNum))
		}
		res.Entries = append(res.Entries, Imported{Name: title, Entry: e})
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
