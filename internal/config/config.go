// Package config loads credsafe's YAML configuration from the data
// directory. A missing file means defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forest6511/credsafe/pkg/entry"
)

const (
	// FileName is the config file inside the data directory.
	FileName = "config.yaml"
	// EnvHome overrides the data directory.
	EnvHome        = "CREDSAFE_HOME"
	DefaultDirName = ".credsafe"
	DefaultDBName  = "credsafe.db"
	LockFileName   = "credsafe.lock"
	AuditDirName   = "audit"
)

var (
	ErrInsecure       = errors.New("config: file has insecure permissions")
	ErrSymlink        = errors.New("config: file is a symlink")
	ErrNotOwnedByUser = errors.New("config: file not owned by current user")
)

// Config is the complete credsafe configuration.
type Config struct {
	Database      string          `yaml:"database"`
	EncryptAtRest bool            `yaml:"encrypt_at_rest"`
	Audit         AuditConfig     `yaml:"audit"`
	Logging       LoggingConfig   `yaml:"logging"`
	Biometric     BiometricConfig `yaml:"biometric"`
	MCP           MCPConfig       `yaml:"mcp"`

	home string
}

type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BiometricConfig names the helper program answering biometric queries.
// An empty command means the device has no biometric support.
type BiometricConfig struct {
	Command    string        `yaml:"command"`
	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// MCPConfig restricts what the MCP server exposes.
type MCPConfig struct {
	// AllowedTypes lists the entry types the server may show. Empty means
	// every type.
	AllowedTypes []string `yaml:"allowed_types"`
}

// Home resolves the data directory: flag, then $CREDSAFE_HOME, then
// ~/.credsafe.
func Home(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if env := os.Getenv(EnvHome); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, DefaultDirName), nil
}

// Default returns the configuration used when no file exists.
func Default(home string) *Config {
	return &Config{
		Database: DefaultDBName,
		Audit:    AuditConfig{Enabled: true},
		Logging:  LoggingConfig{Level: "warn", Format: "text"},
		home:     home,
	}
}

// Load reads home/config.yaml. Environment variables written as ${VAR}
// are expanded before parsing. The file must be a regular file with mode
// 0600 owned by the current user, since it names a program to execute.
func Load(home string) (*Config, error) {
	cfg := Default(home)

	f, err := openConfigFile(filepath.Join(home, FileName))
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("config: failed to stat file: %w", err)
	}
	if err := checkFileSecurity(info); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read file: %w", err)
	}
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the variable's value, or the empty
// string when unset.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

func parseDurations(cfg *Config) error {
	if cfg.Biometric.TimeoutRaw == "" {
		return nil
	}
	d, err := time.ParseDuration(cfg.Biometric.TimeoutRaw)
	if err != nil {
		return fmt.Errorf("config: parsing biometric.timeout %q: %w", cfg.Biometric.TimeoutRaw, err)
	}
	cfg.Biometric.Timeout = d
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database) == "" {
		return errors.New("config: database is required")
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: logging.format must be text or json, got %q", c.Logging.Format)
	}
	if c.Biometric.Timeout < 0 {
		return fmt.Errorf("config: biometric.timeout must not be negative")
	}
	for _, t := range c.MCP.AllowedTypes {
		if _, err := entry.ParseType(t); err != nil {
			return fmt.Errorf("config: mcp.allowed_types: %w", err)
		}
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("config: unknown logging.level %q", s)
	}
}

// LogLevel returns the slog level for logging.level.
func (c *Config) LogLevel() slog.Level {
	level, err := parseLevel(c.Logging.Level)
	if err != nil {
		return slog.LevelWarn
	}
	return level
}

// HomeDir returns the data directory the config was loaded from.
func (c *Config) HomeDir() string { return c.home }

// DatabasePath resolves database relative to the data directory.
func (c *Config) DatabasePath() string {
	if filepath.IsAbs(c.Database) {
		return c.Database
	}
	return filepath.Join(c.home, c.Database)
}

func (c *Config) AuditDir() string { return filepath.Join(c.home, AuditDirName) }
func (c *Config) LockPath() string { return filepath.Join(c.home, LockFileName) }

// AllowedTypes returns the entry types the MCP server may expose.
func (c *Config) AllowedTypes() []entry.Type {
	if len(c.MCP.AllowedTypes) == 0 {
		return append([]entry.Type(nil), entry.Types...)
	}
	out := make([]entry.Type, 0, len(c.MCP.AllowedTypes))
	for _, s := range c.MCP.AllowedTypes {
		if t, err := entry.ParseType(s); err == nil {
			out = append(out, t)
		}
	}
	return out
}

const defaultFile = `# credsafe configuration
database: %s
encrypt_at_rest: false
audit:
  enabled: true
logging:
  level: warn
  format: text
biometric:
  # Helper answering has-hardware, is-enrolled and authenticate <prompt>.
  command: ""
  # Limit on one helper call, e.g. 60s. Empty means no limit.
  timeout: ""
mcp:
  allowed_types: []
`

// WriteDefault creates home/config.yaml with defaults unless it exists.
func WriteDefault(home string) (string, error) {
	if err := os.MkdirAll(home, 0o700); err != nil {
		return "", fmt.Errorf("config: failed to create %s: %w", home, err)
	}
	path := filepath.Join(home, FileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return path, fmt.Errorf("config: failed to create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, defaultFile, DefaultDBName); err != nil {
		return path, fmt.Errorf("config: failed to write %s: %w", path, err)
	}
	return path, nil
}
