package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/forest6511/credsafe/pkg/security"
)

var (
	healthAll  bool
	healthJSON bool
)

func init() {
	rootCmd.AddCommand(healthCmd)

	healthCmd.Flags().BoolVar(&healthAll, "all", false, "List every issue instead of the first few")
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "Output in JSON format")
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Analyze password strength and reuse",
	Long: `Analyze the vault and print a score out of 100.

The score is calculated from:
  - Strength (0-50): average strength of stored passwords
  - Uniqueness (0-50): share of passwords and seed phrases that are not reused`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openUnlocked(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		limits := security.DefaultLimits()
		if healthAll {
			limits = security.Unlimited()
		}
		report, err := a.Health(ctx, limits, true)
		if err != nil {
			return fmt.Errorf("failed to analyze vault: %w", err)
		}

		if healthJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		printReport(report)
		return nil
	},
}

func printReport(r *security.Report) {
	scoreColor := color.New(color.FgGreen, color.Bold)
	switch {
	case r.Overall < 50:
		scoreColor = color.New(color.FgRed, color.Bold)
	case r.Overall < 80:
		scoreColor = color.New(color.FgYellow, color.Bold)
	}
	scoreColor.Printf("Health score: %d/100\n", r.Overall)
	fmt.Printf("  Strength:   %d/50\n", r.Components.StrengthScore)
	fmt.Printf("  Uniqueness: %d/50\n", r.Components.UniquenessScore)
	fmt.Printf("  Checked:    %d credentials\n", r.Checked)

	if len(r.Issues) == 0 {
		color.Green("\nNo issues found.")
		return
	}

	fmt.Printf("\nIssues (%d):\n", len(r.Issues))
	for _, issue := range r.Issues {
		label := color.YellowString("[%s]", issue.Severity)
		if issue.Severity == security.SeverityCritical {
			label = color.RedString("[%s]", issue.Severity)
		}
		fmt.Printf("  %s %s\n", label, issue.Description)
		if issue.ID != "" {
			fmt.Printf("      %s\n", issue.ID)
		}
		for _, id := range issue.IDs {
			fmt.Printf("      - %s\n", id)
		}
	}
	if r.Limited {
		fmt.Println("\nSome issues were omitted; use --all to list them.")
	}
	if len(r.Suggestions) > 0 {
		fmt.Println("\nSuggestions:")
		for _, s := range r.Suggestions {
			fmt.Printf("  - %s\n", s)
		}
	}
}
