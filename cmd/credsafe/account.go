package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/forest6511/credsafe/internal/config"
	"github.com/forest6511/credsafe/pkg/account"
	"github.com/forest6511/credsafe/pkg/auth"
	"github.com/forest6511/credsafe/pkg/biometric"
)

var (
	setupBiometric bool
	resetForce     bool
)

func init() {
	rootCmd.AddCommand(setupCmd, statusCmd, passwdCmd, settingsPasswordCmd, resetCmd, configCmd)

	setupCmd.Flags().BoolVar(&setupBiometric, "biometric", false, "Unlock with biometrics instead of the password")
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Skip confirmation prompt")

	settingsPasswordCmd.AddCommand(settingsPasswordSetCmd, settingsPasswordChangeCmd, settingsPasswordVerifyCmd)
	configCmd.AddCommand(configInitCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the account",
	Long: `Create the single account of this data directory.

Name, email and date of birth are stored as entered (trimmed). The password
is stored only as an Argon2id verifier.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		state, err := a.Gate.Start(ctx)
		if err != nil {
			return err
		}
		if state != auth.AwaitingSetup {
			return account.ErrAlreadySetup
		}

		var p account.Profile
		if p.Name, err = readLine("Name: "); err != nil {
			return err
		}
		if p.Email, err = readLine("Email: "); err != nil {
			return err
		}
		if p.DateOfBirth, err = readLine("Date of birth: "); err != nil {
			return err
		}
		if p.Password, err = readNewSecret("Password: ", envPassword); err != nil {
			return err
		}
		p.UseBiometric = setupBiometric

		if err := a.Gate.Setup(ctx, p); err != nil {
			return fmt.Errorf("setup failed: %w", err)
		}

		color.Green("Account created at %s", cfg.HomeDir())
		if a.Gate.State() == auth.Unlocked {
			fmt.Println("Unlocked with biometrics.")
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show account and data directory status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.Registry.State(ctx)
		if err != nil {
			return err
		}
		bio, err := biometric.Available(ctx, a.Registry.Biometric())
		if err != nil {
			logger.Debug("biometric check failed", "error", err)
		}

		fmt.Printf("Data directory: %s\n", cfg.HomeDir())
		fmt.Printf("Database:       %s\n", cfg.DatabasePath())
		fmt.Printf("Encrypted:      %v\n", cfg.EncryptAtRest)
		fmt.Printf("Audit log:      %v\n", cfg.Audit.Enabled)
		fmt.Printf("Biometrics:     %v\n", bio)
		if !st.Complete() {
			color.Yellow("Account:        not set up")
			return nil
		}
		fmt.Printf("Account:        %s <%s>\n", st.Account.Name, st.Account.Email)
		fmt.Printf("Unlock method:  %s\n", unlockMethod(st.Account.UseBiometric))
		if !st.Consistent() {
			color.Yellow("Setup marker is out of sync; it will be repaired on next unlock.")
		}
		return nil
	},
}

func unlockMethod(useBiometric bool) string {
	if useBiometric {
		return "biometric, password fallback"
	}
	return "password"
}

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the account password",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		current, err := readSecret("Current password: ", "")
		if err != nil {
			return err
		}
		next, err := readNewSecret("New password: ", "")
		if err != nil {
			return err
		}
		if err := a.Registry.ChangePassword(ctx, current, next); err != nil {
			return fmt.Errorf("failed to change password: %w", err)
		}
		color.Green("Password changed.")
		return nil
	},
}

var settingsPasswordCmd = &cobra.Command{
	Use:   "settings-password",
	Short: "Manage the settings password that guards destructive actions",
}

var settingsPasswordSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set the settings password",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		pw, err := readNewSecret("Settings password: ", "")
		if err != nil {
			return err
		}
		if err := a.Registry.SettingsLock().Set(ctx, pw); err != nil {
			return err
		}
		color.Green("Settings password set.")
		return nil
	},
}

var settingsPasswordChangeCmd = &cobra.Command{
	Use:   "change",
	Short: "Change the settings password",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		current, err := readSecret("Current settings password: ", "")
		if err != nil {
			return err
		}
		next, err := readNewSecret("New settings password: ", "")
		if err != nil {
			return err
		}
		if err := a.Registry.SettingsLock().Change(ctx, current, next); err != nil {
			return err
		}
		color.Green("Settings password changed.")
		return nil
	},
}

var settingsPasswordVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check a candidate against the settings password",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := checkSettingsPassword(ctx, a.Registry); err != nil {
			return err
		}
		color.Green("Settings password is correct.")
		return nil
	},
}

// checkSettingsPassword prompts for the settings password and fails unless
// it matches. It fails with ErrSettingsPasswordNotSet when none exists.
func checkSettingsPassword(ctx context.Context, r *account.Registry) error {
	candidate, err := readSecret("Settings password: ", "")
	if err != nil {
		return err
	}
	ok, err := r.SettingsLock().Verify(ctx, candidate)
	if err != nil {
		return err
	}
	if !ok {
		return account.ErrIncorrectPassword
	}
	return nil
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the account and all vault data",
	Long: `Delete the account, the settings password and every stored entry.

When a settings password is set it must be entered first. The audit log is
kept.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		set, err := a.Registry.SettingsLock().IsSet(ctx)
		if err != nil {
			return err
		}
		if set {
			if err := checkSettingsPassword(ctx, a.Registry); err != nil {
				return err
			}
		}
		if !resetForce && !confirm(color.RedString("This permanently deletes all data. Continue?")) {
			fmt.Println("Reset cancelled.")
			return nil
		}
		if err := a.Reset(ctx); err != nil {
			return err
		}
		color.Green("All data cleared.")
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration file operations",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default " + config.FileName,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.WriteDefault(cfg.HomeDir())
		if err != nil {
			if errors.Is(err, fs.ErrExist) {
				return fmt.Errorf("%s already exists", path)
			}
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}
