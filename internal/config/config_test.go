package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/forest6511/credsafe/pkg/entry"
)

func writeConfig(t *testing.T, dir, content string, mode os.FileMode) {
	t.Helper()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	// WriteFile is subject to umask.
	if err := os.Chmod(path, mode); err != nil {
		t.Fatalf("failed to chmod config: %v", err)
	}
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database != DefaultDBName || !cfg.Audit.Enabled || cfg.EncryptAtRest {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.DatabasePath() != filepath.Join(dir, DefaultDBName) {
		t.Errorf("DatabasePath() = %q", cfg.DatabasePath())
	}
	if cfg.LogLevel() != slog.LevelWarn {
		t.Errorf("LogLevel() = %v", cfg.LogLevel())
	}
	if !reflect.DeepEqual(cfg.AllowedTypes(), entry.Types) {
		t.Errorf("AllowedTypes() = %v", cfg.AllowedTypes())
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CREDSAFE_TEST_HELPER", "/usr/local/bin/bio-helper")

	writeConfig(t, dir, `
database: /var/lib/credsafe/vault.db
encrypt_at_rest: true
audit:
  enabled: false
logging:
  level: debug
  format: json
biometric:
  command: "${CREDSAFE_TEST_HELPER} --quiet"
  timeout: 15s
mcp:
  allowed_types: [passwords, onlineAccounts]
`, 0o600)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DatabasePath() != "/var/lib/credsafe/vault.db" && runtime.GOOS != "windows" {
		t.Errorf("DatabasePath() = %q", cfg.DatabasePath())
	}
	if !cfg.EncryptAtRest || cfg.Audit.Enabled {
		t.Errorf("flags = %+v", cfg)
	}
	if cfg.LogLevel() != slog.LevelDebug || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Biometric.Command != "/usr/local/bin/bio-helper --quiet" {
		t.Errorf("biometric.command = %q", cfg.Biometric.Command)
	}
	if cfg.Biometric.Timeout != 15*time.Second {
		t.Errorf("biometric.timeout = %v", cfg.Biometric.Timeout)
	}
	want := []entry.Type{entry.TypePassword, entry.TypeOnlineAccount}
	if !reflect.DeepEqual(cfg.AllowedTypes(), want) {
		t.Errorf("AllowedTypes() = %v, want %v", cfg.AllowedTypes(), want)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "encrypt_at_rest: true\n", 0o600)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.Audit.Enabled || cfg.Logging.Format != "text" || cfg.Database != DefaultDBName {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad_yaml", "database: [[[", "failed to parse"},
		{"empty_database", "database: \"\"", "database is required"},
		{"bad_level", "logging:\n  level: loud", "unknown logging.level"},
		{"bad_format", "logging:\n  format: xml", "logging.format"},
		{"bad_timeout", "biometric:\n  timeout: soon", "biometric.timeout"},
		{"negative_timeout", "biometric:\n  timeout: -1s", "must not be negative"},
		{"bad_type", "mcp:\n  allowed_types: [notes]", "mcp.allowed_types"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.content, 0o600)
			_, err := Load(dir)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("mode bits are not enforced on windows")
	}
	dir := t.TempDir()
	writeConfig(t, dir, "audit:\n  enabled: true\n", 0o644)

	if _, err := Load(dir); !errors.Is(err, ErrInsecure) {
		t.Errorf("Load() error = %v, want ErrInsecure", err)
	}
}

func TestLoad_RejectsSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	dir := t.TempDir()
	target := filepath.Join(t.TempDir(), "elsewhere.yaml")
	if err := os.WriteFile(target, []byte("audit:\n  enabled: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, filepath.Join(dir, FileName)); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(dir); !errors.Is(err, ErrSymlink) {
		t.Errorf("Load() error = %v, want ErrSymlink", err)
	}
}

func TestWriteDefault(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "home")
	path, err := WriteDefault(dir)
	if err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}
	if path != filepath.Join(dir, FileName) {
		t.Errorf("path = %q", path)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load of written default failed: %v", err)
	}
	if cfg.Biometric.Timeout != 0 || cfg.Biometric.Command != "" {
		t.Errorf("biometric = %+v", cfg.Biometric)
	}
	if len(cfg.AllowedTypes()) != len(entry.Types) {
		t.Errorf("AllowedTypes() = %v", cfg.AllowedTypes())
	}

	if _, err := WriteDefault(dir); err == nil {
		t.Error("WriteDefault should not overwrite an existing file")
	}
}

func TestHome(t *testing.T) {
	t.Setenv(EnvHome, "/from/env")

	if got, _ := Home("/from/flag"); got != "/from/flag" {
		t.Errorf("Home(flag) = %q", got)
	}
	if got, _ := Home(""); got != "/from/env" {
		t.Errorf("Home(env) = %q", got)
	}

	t.Setenv(EnvHome, "")
	got, err := Home("")
	if err != nil {
		t.Fatalf("Home failed: %v", err)
	}
	if filepath.Base(got) != DefaultDirName {
		t.Errorf("Home() = %q", got)
	}
}
