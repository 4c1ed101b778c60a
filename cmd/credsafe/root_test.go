package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/forest6511/credsafe/internal/app"
	"github.com/forest6511/credsafe/internal/config"
	"github.com/forest6511/credsafe/pkg/account"
	"github.com/forest6511/credsafe/pkg/crypto"
	"github.com/forest6511/credsafe/pkg/entry"
	"github.com/forest6511/credsafe/pkg/kv"
	"github.com/forest6511/credsafe/pkg/vault"
)

func TestParseDuration(t *testing.T) {
	day := 24 * time.Hour
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"30s", 30 * time.Second, false},
		{"5h", 5 * time.Hour, false},
		{"7d", 7 * day, false},
		{"2w", 14 * day, false},
		{"1m", 30 * day, false},
		{"1y", 365 * day, false},
		{"1.5d", 0, true},
		{"-1d", 0, true},
		{"invalid", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := parseDuration(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && result != tt.expected {
				t.Errorf("parseDuration(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestParseDeleteArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    deleteTarget
		wantErr bool
	}{
		{"by id", []string{"3f1c"}, deleteTarget{id: "3f1c"}, false},
		{"by label", []string{"seed", "2"}, deleteTarget{typ: entry.TypeCryptoSeed, index: 2}, false},
		{"by tag", []string{"passwords", "0"}, deleteTarget{typ: entry.TypePassword}, false},
		{"unknown type", []string{"notes", "0"}, deleteTarget{}, true},
		{"bad index", []string{"online", "first"}, deleteTarget{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDeleteArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDeleteArgs(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseDeleteArgs(%v) = %+v, want %+v", tt.args, got, tt.want)
			}
		})
	}
}

func TestUnlockMethod(t *testing.T) {
	if got := unlockMethod(false); got != "password" {
		t.Errorf("unlockMethod(false) = %q", got)
	}
	if got := unlockMethod(true); got == "password" {
		t.Errorf("unlockMethod(true) = %q", got)
	}
}

func TestOpenUnlocked_CorruptVault(t *testing.T) {
	ctx := context.Background()
	cfg = config.Default(t.TempDir())
	t.Cleanup(func() { cfg = nil })
	t.Setenv(envPassword, "Secret1")

	a, err := app.Open(ctx, cfg, app.Options{Params: crypto.Params{Memory: 1024, Time: 1, Threads: 1}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := a.Gate.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.Gate.Setup(ctx, account.Profile{Name: "Alice", Email: "alice@example.com", DateOfBirth: "1990-04-01", Password: "Secret1"}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := a.Store.Put(ctx, kv.KeyVaultData, []byte("{garbage")); err != nil {
		t.Fatalf("put: %v", err)
	}
	a.Close()

	// Every command runs in its own process; none of them may fail.
	for i := 0; i < 3; i++ {
		a, err := openUnlocked(ctx)
		if err != nil {
			t.Fatalf("run %d: openUnlocked: %v", i, err)
		}
		if i == 0 && !errors.Is(a.CorruptData(), vault.ErrCorruptData) {
			t.Errorf("run 0: CorruptData() = %v, want ErrCorruptData", a.CorruptData())
		}
		v, err := a.Vault()
		if err != nil {
			t.Fatalf("run %d: vault: %v", i, err)
		}
		if _, err := v.Add(ctx, entry.TypePassword, entry.PasswordRecord{Title: "wifi", Password: "pw"}); err != nil {
			t.Fatalf("run %d: add: %v", i, err)
		}
		items, err := v.List(ctx, entry.TypePassword)
		if err != nil {
			t.Fatalf("run %d: list: %v", i, err)
		}
		if len(items) != i+1 {
			t.Errorf("run %d: got %d items, want %d", i, len(items), i+1)
		}
		a.Close()
	}
}
