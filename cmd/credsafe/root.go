package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/forest6511/credsafe/internal/app"
	"github.com/forest6511/credsafe/internal/config"
	"github.com/forest6511/credsafe/pkg/audit"
	"github.com/forest6511/credsafe/pkg/auth"
	"github.com/forest6511/credsafe/pkg/kv"
)

// envPassword unlocks the vault without a prompt.
const envPassword = "CREDSAFE_PASSWORD"

var (
	homeFlag string
	cfg      *config.Config
	logger   *slog.Logger
	stdin    = bufio.NewReader(os.Stdin)
)

var rootCmd = &cobra.Command{
	Use:           "credsafe",
	Version:       version,
	Short:         "credsafe is a local vault for passwords and seed phrases",
	Long:          `A single-user credential vault for online accounts, passwords and crypto seed phrases.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	// PersistentPreRunE loads the configuration and sets up logging for every
	// subcommand.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		home, err := config.Home(homeFlag)
		if err != nil {
			return err
		}
		cfg, err = config.Load(home)
		if err != nil {
			return err
		}
		logger = newLogger(cfg)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", "", "Data directory (default $"+config.EnvHome+" or ~/"+config.DefaultDirName+")")
}

func newLogger(c *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel()}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// openApp opens the data directory. The caller must Close it.
func openApp(ctx context.Context) (*app.App, error) {
	return app.Open(ctx, cfg, app.Options{Source: audit.SourceCLI, Logger: logger})
}

// openUnlocked opens the data directory and unlocks the vault: biometric
// fast path first, then the password.
func openUnlocked(ctx context.Context) (*app.App, error) {
	a, err := openApp(ctx)
	if err != nil {
		return nil, err
	}
	if err := unlock(ctx, a); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.CorruptData(); err != nil {
		color.Yellow("Warning: %v", err)
		color.Yellow("Continuing with an empty vault; the unreadable data was saved as %s.", kv.KeyVaultQuarantine)
	}
	return a, nil
}

func unlock(ctx context.Context, a *app.App) error {
	state, err := a.Gate.Start(ctx)
	if err != nil {
		return err
	}
	switch state {
	case auth.Unlocked:
		return nil
	case auth.AwaitingSetup:
		return errors.New("no account found: run 'credsafe setup' first")
	}

	password, err := readSecret("Enter password: ", envPassword)
	if err != nil {
		return err
	}
	if err := a.Gate.Login(ctx, password); err != nil {
		if errors.Is(err, auth.ErrIncorrectPassword) {
			return errors.New("incorrect password")
		}
		return err
	}
	return nil
}

// readSecret reads a hidden value from the terminal, or from env when set.
func readSecret(prompt, env string) (string, error) {
	if env != "" {
		if v, ok := os.LookupEnv(env); ok {
			return v, nil
		}
	}
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}

// readNewSecret reads a value twice and requires both to match.
func readNewSecret(prompt, env string) (string, error) {
	if env != "" {
		if v, ok := os.LookupEnv(env); ok {
			return v, nil
		}
	}
	first, err := readSecret(prompt, "")
	if err != nil {
		return "", err
	}
	second, err := readSecret("Confirm: ", "")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("values do not match")
	}
	return first, nil
}

// readLine reads one visible line, trimmed of the line ending.
func readLine(prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func confirm(prompt string) bool {
	answer, err := readLine(prompt + " [y/N]: ")
	if err != nil {
		return false
	}
	answer = strings.TrimSpace(answer)
	return answer == "y" || answer == "Y"
}

// parseDuration accepts time.ParseDuration syntax plus d (day), w (week),
// m (30 days) and y (365 days) suffixes.
func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("duration too short: %s", s)
	}

	unit := s[len(s)-1]
	valueStr := s[:len(s)-1]

	day := 24 * time.Hour
	var mult time.Duration
	switch unit {
	case 'd':
		mult = day
	case 'w':
		mult = 7 * day
	case 'm':
		mult = 30 * day
	case 'y':
		mult = 365 * day
	default:
		return time.ParseDuration(s)
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid duration value: %s", valueStr)
	}
	return time.Duration(value) * mult, nil
}
