package importer

import (
	"strings"
	"testing"

	"github.com/forest6511/credsafe/pkg/entry"
)

func TestOnePasswordParser_Parse(t *testing.T) {
	data := "\xEF\xBB\xBFTitle,Website,Username,Password,OTPAuth,Favorite,Archived,Tags,Notes\n" +
		"GitHub,https://github.com,john@example.com,gh-pass,otpauth://totp/x,false,false,dev,\n" +
		",https://www.example.org,jdoe,ex-pass,,false,false,,\n" +
		"Wallet,,,,,false,false,,\"" + seedWords + "\"\n" +
		"Empty,,,,,false,false,,just a note\n" +
		"Broken,row\n"

	res, err := (&OnePasswordParser{}).Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(res.Entries) != 3 {
		t.Fatalf("got %d entries, want 3: %+v", len(res.Entries), res.Entries)
	}
	if got := res.Entries[0].Entry; got != (entry.OnlineAccount{Username: "john@example.com", Email: "john@example.com", Password: "gh-pass"}) {
		t.Errorf("entry 0 = %#v", got)
	}
	if got := res.Entries[1].Entry; got != (entry.PasswordRecord{Title: "example.org (jdoe)", Password: "ex-pass"}) {
		t.Errorf("entry 1 = %#v", got)
	}
	if got, ok := res.Entries[2].Entry.(entry.SeedPhrase); !ok || got.String() != seedWords {
		t.Errorf("entry 2 = %#v", res.Entries[2].Entry)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].Name != "Empty" {
		t.Errorf("Skipped = %+v", res.Skipped)
	}
	// One-time password warning and the short row.
	if len(res.Warnings) != 2 {
		t.Errorf("Warnings = %v", res.Warnings)
	}
}

func TestOnePasswordParser_MissingTitle(t *testing.T) {
	_, err := (&OnePasswordParser{}).Parse([]byte("Website,Password\nx,y\n"))
	if err == nil || !strings.Contains(err.Error(), "Title") {
		t.Errorf("error = %v, want missing Title column", err)
	}
}

func TestLastPassParser_Parse(t *testing.T) {
	data := "URL,Username,Password,TOTP,Extra,Name,Grouping,Fav\n" +
		"https://github.com,johndoe,p&amp;ss,JBSWY3DPEHPK3PXP,notes,GitHub,Work,1\n" +
		"http://sn,,,,\"" + seedWords + "\",Ledger,,0\n" +
		"http://sn,,,,wifi code is 1234,Note,,0\n" +
		"https://bank.example,me@example.com,,,,Bank,,0\n"

	res, err := (&LastPassParser{}).Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(res.Entries) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(res.Entries), res.Entries)
	}
	if got := res.Entries[0].Entry; got != (entry.PasswordRecord{Title: "GitHub (johndoe)", Password: "p&ss"}) {
		t.Errorf("entry 0 = %#v", got)
	}
	if res.Entries[1].Entry.Type() != entry.TypeCryptoSeed {
		t.Errorf("entry 1 type = %s", res.Entries[1].Entry.Type())
	}
	if len(res.Skipped) != 2 {
		t.Errorf("Skipped = %+v", res.Skipped)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("Warnings = %v", res.Warnings)
	}
}

func TestLastPassParser_MissingName(t *testing.T) {
	if _, err := (&LastPassParser{}).Parse([]byte("url,password\nx,y\n")); err == nil {
		t.Error("expected error for missing name column")
	}
}

func TestBitwardenParser_Parse(t *testing.T) {
	data := `{
  "encrypted": false,
  "items": [
    {"type": 1, "name": "GitHub", "login": {"username": "john@example.com", "password": "gh", "totp": "x", "uris": [{"uri": "https://github.com"}]}},
    {"type": 1, "name": "", "login": {"username": "", "password": "pw", "uris": [{"uri": "https://example.com"}]}},
    {"type": 1, "name": "No login"},
    {"type": 2, "name": "Seed", "notes": "` + seedWords + `"},
    {"type": 2, "name": "Note", "notes": "hello"},
    {"type": 3, "name": "Visa"},
    {"type": 9, "name": "Future"}
  ]
}`

	res, err := (&BitwardenParser{}).Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(res.Entries) != 3 {
		t.Fatalf("got %d entries, want 3: %+v", len(res.Entries), res.Entries)
	}
	if got := res.Entries[1].Entry; got != (entry.PasswordRecord{Title: "example.com", Password: "pw"}) {
		t.Errorf("entry 1 = %#v", got)
	}
	if res.Entries[2].Entry.Type() != entry.TypeCryptoSeed {
		t.Errorf("entry 2 type = %s", res.Entries[2].Entry.Type())
	}
	if len(res.Skipped) != 3 {
		t.Errorf("Skipped = %+v", res.Skipped)
	}
	// One-time password warning and the unknown type.
	if len(res.Warnings) != 2 {
		t.Errorf("Warnings = %v", res.Warnings)
	}
}

func TestBitwardenParser_Errors(t *testing.T) {
	p := &BitwardenParser{}
	if _, err := p.Parse([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, err := p.Parse([]byte(`{"encrypted": true, "items": []}`)); err == nil {
		t.Error("expected error for encrypted export")
	}
}
