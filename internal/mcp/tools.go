package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forest6511/credsafe/pkg/audit"
	"github.com/forest6511/credsafe/pkg/entry"
	"github.com/forest6511/credsafe/pkg/vault"
)

var ErrTypeNotAllowed = errors.New("entry type is not exposed over MCP")

// VaultListInput represents input for the vault_list tool.
type VaultListInput struct {
	Type string `json:"type,omitempty"`
}

// VaultListOutput represents output for the vault_list tool.
type VaultListOutput struct {
	Entries []EntryInfo `json:"entries"`
}

// EntryInfo describes an entry without any secret.
type EntryInfo struct {
	ID        string     `json:"id"`
	Type      entry.Type `json:"type"`
	Index     int        `json:"index"`
	Summary   string     `json:"summary"`
	CreatedAt string     `json:"created_at"`
}

// VaultGetMaskedInput represents input for the vault_get_masked tool.
type VaultGetMaskedInput struct {
	ID string `json:"id"`
}

// VaultGetMaskedOutput represents output for the vault_get_masked tool.
type VaultGetMaskedOutput struct {
	ID     string        `json:"id"`
	Type   entry.Type    `json:"type"`
	Fields []MaskedField `json:"fields"`
}

// MaskedField is one field of an entry. Secret fields are masked and carry
// their length.
type MaskedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Masked bool   `json:"masked"`
	Length int    `json:"length,omitempty"`
}

func (s *Server) handleVaultList(ctx context.Context, _ *mcp.CallToolRequest, input VaultListInput) (*mcp.CallToolResult, VaultListOutput, error) {
	types := entry.Types
	if input.Type != "" {
		t, err := entry.ParseType(input.Type)
		if err != nil {
			return nil, VaultListOutput{}, err
		}
		if !s.allowed[t] {
			_ = s.app.Audit.Denied(audit.OpEntryList, string(t), "type not allowed")
			return nil, VaultListOutput{}, fmt.Errorf("%w: %s", ErrTypeNotAllowed, t)
		}
		types = []entry.Type{t}
	}

	output := VaultListOutput{Entries: []EntryInfo{}}
	for _, t := range types {
		if !s.allowed[t] {
			continue
		}
		items, err := s.vault.List(ctx, t)
		if err != nil {
			return nil, VaultListOutput{}, fmt.Errorf("failed to list entries: %w", err)
		}
		for i, it := range items {
			output.Entries = append(output.Entries, EntryInfo{
				ID:        it.ID,
				Type:      t,
				Index:     i,
				Summary:   entry.Summary(it.Entry),
				CreatedAt: it.CreatedAt.Format(time.RFC3339),
			})
		}
	}

	_ = s.app.Audit.Success(audit.OpEntryList, input.Type, map[string]any{"count": len(output.Entries)})
	return nil, output, nil
}

func (s *Server) handleVaultGetMasked(ctx context.Context, _ *mcp.CallToolRequest, input VaultGetMaskedInput) (*mcp.CallToolResult, VaultGetMaskedOutput, error) {
	if input.ID == "" {
		return nil, VaultGetMaskedOutput{}, errors.New("id is required")
	}

	it, err := s.vault.GetByID(ctx, input.ID)
	if err != nil {
		if errors.Is(err, vault.ErrEntryNotFound) {
			return nil, VaultGetMaskedOutput{}, fmt.Errorf("entry %q not found", input.ID)
		}
		return nil, VaultGetMaskedOutput{}, fmt.Errorf("failed to get entry: %w", err)
	}
	// Hidden types look the same as missing ones.
	if !s.allowed[it.Type()] {
		_ = s.app.Audit.Denied(audit.OpEntryGetMasked, input.ID, "type not allowed")
		return nil, VaultGetMaskedOutput{}, fmt.Errorf("entry %q not found", input.ID)
	}

	_ = s.app.Audit.Success(audit.OpEntryGetMasked, input.ID, map[string]any{"type": string(it.Type())})
	return nil, VaultGetMaskedOutput{
		ID:     it.ID,
		Type:   it.Type(),
		Fields: maskedFields(it.Entry),
	}, nil
}

func maskedFields(e entry.Entry) []MaskedField {
	switch v := e.(type) {
	case entry.OnlineAccount:
		return []MaskedField{
			{Name: "username", Value: v.Username},
			{Name: "email", Value: v.Email},
			secretField("password", v.Password),
		}
	case entry.PasswordRecord:
		return []MaskedField{
			{Name: "title", Value: v.Title},
			secretField("password", v.Password),
		}
	case entry.SeedPhrase:
		fields := make([]MaskedField, 0, len(v))
		for i := range v {
			fields = append(fields, MaskedField{
				Name:   fmt.Sprintf("word_%d", i+1),
				Value:  "****",
				Masked: true,
			})
		}
		return fields
	default:
		return nil
	}
}

func secretField(name, value string) MaskedField {
	return MaskedField{
		Name:   name,
		Value:  maskValue(value),
		Masked: true,
		Length: len([]rune(value)),
	}
}

// maskValue hides all but the tail of value. Up to 4 characters are fully
// masked, up to 8 show the last 2, longer values show the last 4.
func maskValue(value string) string {
	r := []rune(value)
	n := len(r)
	switch {
	case n == 0:
		return ""
	case n <= 4:
		return strings.Repeat("*", n)
	case n <= 8:
		return strings.Repeat("*", n-2) + string(r[n-2:])
	default:
		return strings.Repeat("*", n-4) + string(r[n-4:])
	}
}
