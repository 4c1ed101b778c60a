package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/forest6511/credsafe/pkg/backup"
)

// envBackupPassword supplies the archive password non-interactively.
const envBackupPassword = "CREDSAFE_BACKUP_PASSWORD"

var (
	backupKeyFile     string
	backupGenerateKey bool
	backupForce       bool

	restoreKeyFile    string
	restoreOverwrite  bool
	restoreDryRun     bool
	restoreVerifyOnly bool
	restoreForce      bool
)

func init() {
	rootCmd.AddCommand(backupCmd, restoreCmd)

	backupCmd.Flags().StringVar(&backupKeyFile, "key-file", "", "Encryption key file (32 bytes) instead of a password")
	backupCmd.Flags().BoolVar(&backupGenerateKey, "generate-key", false, "Create --key-file with a random key first")
	backupCmd.Flags().BoolVarP(&backupForce, "force", "f", false, "Overwrite existing file")

	restoreCmd.Flags().StringVar(&restoreKeyFile, "key-file", "", "Decryption key file (32 bytes)")
	restoreCmd.Flags().BoolVar(&restoreOverwrite, "overwrite", false, "Replace an existing account")
	restoreCmd.Flags().BoolVar(&restoreDryRun, "dry-run", false, "Show what would be restored without writing")
	restoreCmd.Flags().BoolVar(&restoreVerifyOnly, "verify-only", false, "Only verify archive integrity")
	restoreCmd.Flags().BoolVarP(&restoreForce, "force", "f", false, "Skip confirmation prompt")
}

var backupCmd = &cobra.Command{
	Use:   "backup <file>",
	Short: "Create an encrypted backup of the account and vault",
	Long: `Create an encrypted archive of the account, settings password and vault.

The archive is protected by its own password (or a key file) and an HMAC.
An encrypted vault stays encrypted inside the archive.

Examples:
  credsafe backup vault.bak
  credsafe backup vault.bak --key-file backup.key --generate-key`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if backupGenerateKey && backupKeyFile == "" {
			return errors.New("--generate-key requires --key-file")
		}

		ctx := cmd.Context()
		a, err := openUnlocked(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		var opts backup.Options
		switch {
		case backupKeyFile != "":
			if backupGenerateKey {
				if _, err := os.Stat(backupKeyFile); err == nil {
					return fmt.Errorf("key file already exists: %s", backupKeyFile)
				}
				if err := backup.GenerateKeyFile(backupKeyFile); err != nil {
					return err
				}
				fmt.Printf("Generated key file %s\n", backupKeyFile)
			}
			opts.KeyFile = backupKeyFile
		default:
			pw, err := readNewSecret("Backup password: ", envBackupPassword)
			if err != nil {
				return err
			}
			if pw == "" {
				return backup.ErrEmptyPassword
			}
			opts.Password = []byte(pw)
		}

		flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
		if backupForce {
			flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		}
		f, err := os.OpenFile(path, flags, 0o600)
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err != nil {
			return err
		}

		header, err := a.Backup(ctx, f, opts)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(path)
			return fmt.Errorf("backup failed: %w", err)
		}

		color.Green("Backup written to %s", path)
		fmt.Printf("  Created: %s\n", header.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("  Keys:    %d\n", header.KeyCount)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Restore the account and vault from a backup",
	Long: `Restore an archive created by 'credsafe backup'.

An existing account is only replaced with --overwrite, and only after the
settings password (when set) has been entered.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if restoreDryRun && restoreVerifyOnly {
			return errors.New("--dry-run and --verify-only are mutually exclusive")
		}
		path := args[0]

		var password []byte
		if restoreKeyFile == "" {
			pw, err := readSecret("Backup password: ", envBackupPassword)
			if err != nil {
				return err
			}
			password = []byte(pw)
		}

		if restoreVerifyOnly {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			result, err := backup.Verify(f, password, restoreKeyFile)
			if err != nil {
				return err
			}
			if !result.Valid {
				return fmt.Errorf("verification failed: %s", result.Error)
			}
			color.Green("Backup verification successful")
			fmt.Printf("  Version: %d\n", result.Version)
			fmt.Printf("  Created: %s\n", result.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("  Keys:    %d\n", result.KeyCount)
			return nil
		}

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
		if st.Complete() && restoreOverwrite && !restoreDryRun {
			set, err := a.Registry.SettingsLock().IsSet(ctx)
			if err != nil {
				return err
			}
			if set {
				if err := checkSettingsPassword(ctx, a.Registry); err != nil {
					return err
				}
			}
			if !restoreForce && !confirm(color.RedString("This replaces the existing account and vault. Continue?")) {
				fmt.Println("Restore cancelled.")
				return nil
			}
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		mode := backup.ConflictError
		if restoreOverwrite {
			mode = backup.ConflictOverwrite
		}
		result, err := a.Restore(ctx, f, backup.RestoreOptions{
			Password:   password,
			KeyFile:    restoreKeyFile,
			OnConflict: mode,
			DryRun:     restoreDryRun,
		})
		if errors.Is(err, backup.ErrConflict) {
			return errors.New("an account already exists (use --overwrite to replace it)")
		}
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}

		if result.DryRun {
			fmt.Println("Dry run complete. Would restore:")
		} else {
			color.Green("Restore complete")
		}
		fmt.Printf("  Archive created: %s\n", result.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("  Keys restored:   %d\n", result.KeysRestored)
		fmt.Printf("  Keys removed:    %d\n", result.KeysRemoved)
		return nil
	},
}
