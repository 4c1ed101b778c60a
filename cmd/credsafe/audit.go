package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/forest6511/credsafe/internal/config"
	"github.com/forest6511/credsafe/pkg/audit"
)

var (
	auditLimit  int
	auditSince  string
	auditFormat string
	auditOutput string
)

var errAuditDisabled = errors.New("audit log is disabled in " + config.FileName)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd, auditVerifyCmd)

	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum number of events to show")
	auditListCmd.Flags().StringVar(&auditSince, "since", "", "Show events since duration (e.g., 24h, 7d)")
	auditListCmd.Flags().StringVar(&auditFormat, "format", "text", "Output format: text, json, csv")
	auditListCmd.Flags().StringVarP(&auditOutput, "output", "o", "", "Output file path (default: stdout)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit log entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var since time.Time
		if auditSince != "" {
			d, err := parseDuration(auditSince)
			if err != nil {
				return fmt.Errorf("invalid since format: %w", err)
			}
			since = time.Now().Add(-d)
		}

		ctx := cmd.Context()
		a, err := openUnlocked(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		if a.Audit == nil {
			return errAuditDisabled
		}

		events, err := a.Audit.List(auditLimit, since)
		if err != nil {
			return fmt.Errorf("failed to list audit events: %w", err)
		}

		if auditFormat != "text" {
			data, err := audit.Export(events, auditFormat)
			if err != nil {
				return err
			}
			if auditOutput == "" {
				_, err = os.Stdout.Write(data)
				return err
			}
			return os.WriteFile(auditOutput, data, 0o600)
		}

		if len(events) == 0 {
			fmt.Println("No audit events found")
			return nil
		}
		for _, e := range events {
			line := fmt.Sprintf("%s %-8s %-24s %s", e.Timestamp, e.Source, e.Operation, e.Result)
			if e.Target != "" {
				line += " target:" + e.Target
			}
			if e.Error != nil {
				line += " error:" + e.Error.Code
			}
			fmt.Println(line)
		}
		fmt.Printf("\nTotal: %d events\n", len(events))
		return nil
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify audit log HMAC chain integrity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openUnlocked(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		if a.Audit == nil {
			return errAuditDisabled
		}

		result, err := a.Audit.Verify()
		if err != nil {
			return fmt.Errorf("failed to verify audit log: %w", err)
		}
		if !result.Valid {
			color.Red("Audit log verification FAILED (%d records)", result.RecordsTotal)
			for _, e := range result.Errors {
				fmt.Printf("  - %s\n", e)
			}
			return errors.New("audit log integrity check failed")
		}
		color.Green("Audit log verified: %d records, chain intact", result.RecordsTotal)
		return nil
	},
}
