package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/forest6511/credsafe/pkg/entry"
	"github.com/forest6511/credsafe/pkg/vault"
)

var (
	addUsername string
	addEmail    string
	addTitle    string
	showReveal  bool
)

func init() {
	rootCmd.AddCommand(addCmd, listCmd, showCmd, deleteCmd)

	addCmd.Flags().StringVar(&addUsername, "username", "", "Username (online accounts)")
	addCmd.Flags().StringVar(&addEmail, "email", "", "Email (online accounts)")
	addCmd.Flags().StringVar(&addTitle, "title", "", "Title (password records)")
	showCmd.Flags().BoolVar(&showReveal, "reveal", false, "Print secrets in clear text")
}

var addCmd = &cobra.Command{
	Use:   "add <online|password|seed>",
	Short: "Add an entry to the vault",
	Long: `Add an entry. Missing fields are prompted for; secrets are read without
echo.

Seed phrases are entered as 12 words separated by whitespace.

Examples:
  credsafe add online --username alice --email alice@example.com
  credsafe add password --title "Home wifi"
  credsafe add seed`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"online", "password", "seed"},
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := entry.ParseType(args[0])
		if err != nil {
			return err
		}
		candidate, err := promptEntry(t)
		if err != nil {
			return err
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

		ref, err := v.Add(ctx, t, candidate)
		if err != nil {
			if entry.IsValidationFailure(err) {
				return fmt.Errorf("entry rejected: %w", err)
			}
			return err
		}
		color.Green("Added %s #%d (%s)", t.Label(), ref.Index, ref.ID)
		return nil
	},
}

func promptEntry(t entry.Type) (entry.Entry, error) {
	var err error
	switch t {
	case entry.TypeOnlineAccount:
		e := entry.OnlineAccount{Username: addUsername, Email: addEmail}
		if e.Username == "" {
			if e.Username, err = readLine("Username: "); err != nil {
				return nil, err
			}
		}
		if e.Email == "" {
			if e.Email, err = readLine("Email: "); err != nil {
				return nil, err
			}
		}
		if e.Password, err = readSecret("Password: ", ""); err != nil {
			return nil, err
		}
		return e, nil
	case entry.TypePassword:
		e := entry.PasswordRecord{Title: addTitle}
		if e.Title == "" {
			if e.Title, err = readLine("Title: "); err != nil {
				return nil, err
			}
		}
		if e.Password, err = readSecret("Password: ", ""); err != nil {
			return nil, err
		}
		return e, nil
	case entry.TypeCryptoSeed:
		text, err := readSecret("Seed phrase (12 words): ", "")
		if err != nil {
			return nil, err
		}
		return entry.ParseSeedPhrase(text), nil
	default:
		return nil, fmt.Errorf("%w: %q", entry.ErrUnknownType, t)
	}
}

var listCmd = &cobra.Command{
	Use:   "list [type]",
	Short: "List vault entries without secrets",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		types := entry.Types
		if len(args) == 1 {
			t, err := entry.ParseType(args[0])
			if err != nil {
				return err
			}
			types = []entry.Type{t}
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

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tINDEX\tID\tSUMMARY\tCREATED")
		total := 0
		for _, t := range types {
			items, err := v.List(ctx, t)
			if err != nil {
				return err
			}
			for i, it := range items {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", t.Label(), i, it.ID, entry.Summary(it.Entry), it.CreatedAt.Format("2006-01-02"))
			}
			total += len(items)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\nTotal: %d entries\n", total)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one entry",
	Long:  `Show one entry by id. Secrets are masked unless --reveal is given.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		it, err := v.GetByID(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("ID:       %s\n", it.ID)
		fmt.Printf("Type:     %s\n", it.Type().Label())
		fmt.Printf("Created:  %s\n", it.CreatedAt.Format("2006-01-02 15:04:05"))
		switch e := it.Entry.(type) {
		case entry.OnlineAccount:
			fmt.Printf("Username: %s\n", e.Username)
			fmt.Printf("Email:    %s\n", e.Email)
			fmt.Printf("Password: %s\n", secret(e.Password))
		case entry.PasswordRecord:
			fmt.Printf("Title:    %s\n", e.Title)
			fmt.Printf("Password: %s\n", secret(e.Password))
		case entry.SeedPhrase:
			for i, word := range e.Words() {
				fmt.Printf("%2d. %s\n", i+1, secret(word))
			}
		}
		return nil
	},
}

func secret(s string) string {
	if showReveal {
		return s
	}
	return strings.Repeat("*", 8)
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id> | delete <type> <index>",
	Short: "Delete an entry",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := parseDeleteArgs(args)
		if err != nil {
			return err
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

		if target.id != "" {
			err = v.DeleteByID(ctx, target.id)
		} else {
			err = v.Delete(ctx, target.typ, target.index)
		}
		if errors.Is(err, vault.ErrIndexOutOfRange) || errors.Is(err, vault.ErrEntryNotFound) {
			return fmt.Errorf("no such entry: %s", strings.Join(args, " "))
		}
		if err != nil {
			return err
		}
		color.Green("Deleted.")
		return nil
	},
}

type deleteTarget struct {
	id    string
	typ   entry.Type
	index int
}

func parseDeleteArgs(args []string) (deleteTarget, error) {
	if len(args) == 1 {
		return deleteTarget{id: args[0]}, nil
	}
	t, err := entry.ParseType(args[0])
	if err != nil {
		return deleteTarget{}, err
	}
	index, err := strconv.Atoi(args[1])
	if err != nil {
		return deleteTarget{}, fmt.Errorf("invalid index %q", args[1])
	}
	return deleteTarget{typ: t, index: index}, nil
}
