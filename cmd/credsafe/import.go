package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/forest6511/credsafe/pkg/importer"
)

var (
	importFrom   string
	importDryRun bool
)

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importFrom, "from", "", "Source format: "+strings.Join(importer.ValidSources(), ", "))
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Parse and report without adding anything")
	_ = importCmd.MarkFlagRequired("from")
}

var importCmd = &cobra.Command{
	Use:   "import <file> --from <source>",
	Short: "Import entries from another password manager",
	Long: `Import an unencrypted export from another password manager.

Logins with an email address as username become online accounts; other
logins become password records titled after the item. Secure notes that
hold exactly a 12-word seed phrase become seed phrases. The whole file is
added in one step, or not at all.

Examples:
  credsafe import export.csv --from 1password
  credsafe import bitwarden.json --from bitwarden --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parser, err := importer.GetParser(importer.Source(importFrom))
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read export: %w", err)
		}
		res, err := parser.Parse(data)
		if err != nil {
			return err
		}

		for _, w := range res.Warnings {
			color.Yellow("warning: %s", w)
		}
		for _, s := range res.Skipped {
			fmt.Printf("skipped %q: %s\n", s.Name, s.Reason)
		}
		if importDryRun {
			fmt.Printf("Dry run: %d entries would be imported, %d skipped\n", len(res.Entries), len(res.Skipped))
			return nil
		}
		if len(res.Entries) == 0 {
			fmt.Println("Nothing to import.")
			return nil
		}

		ctx := cmd.Context()
		a, err := openUnlocked(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		v, err := a.Vault()
		if err != nil {
			return err
		}

		refs, err := v.AddMany(ctx, res.Candidates())
		if err != nil {
			return fmt.Errorf("import failed, nothing was added: %w", err)
		}
		color.Green("Imported %d entries (%d skipped)", len(refs), len(res.Skipped))
		return nil
	},
}
