package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rmoura-dev/docflow/internal/ledger"
	"github.com/rmoura-dev/docflow/internal/validate"
)

func newParseCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Parse a ledger export and run the validators without touching the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := ledger.ParseFile(args[0])
			if err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			report := validate.Ledger(validate.NewInput(result.Accounts, result.Balances, result.Entries))

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"file":   result.File,
					"stats":  result.Stats,
					"errors": result.Errors,
					"report": report,
				})
			}

			fmt.Printf("file:      %s\n", args[0])
			if result.File.CompanyName != "" {
				fmt.Printf("company:   %s (%s)\n", result.File.CompanyName, result.File.CompanyTaxID)
			}
			if result.File.PeriodStart != "" {
				fmt.Printf("period:    %s .. %s\n", result.File.PeriodStart, result.File.PeriodEnd)
			}
			fmt.Printf("lines:     %d (%d processed, %d skipped, %d bad)\n",
				result.Stats.TotalLines, result.Stats.ProcessedRecords,
				result.Stats.SkippedRecords, result.Stats.Errors)
			fmt.Printf("parsed:    %d accounts, %d balances, %d entries, %d items\n",
				result.Stats.Accounts, result.Stats.Balances, result.Stats.Entries, result.Stats.Items)
			fmt.Printf("valid:     %t (score %d)\n", report.Valid, report.Score)

			for _, issue := range report.Errors {
				fmt.Printf("  error    %s: %s\n", issue.Code, issue.Message)
			}
			for _, issue := range report.Warnings {
				fmt.Printf("  warning  %s: %s\n", issue.Code, issue.Message)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the full parse result and report as JSON")
	return cmd
}
