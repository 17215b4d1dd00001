// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "validate <directory>...",
		Short:     "Check resolved migrations against schema history without executing anything",
		Example:   "driftline validate ./migrations",
		Args:      cobra.MinimumNArgs(1),
		ValidArgs: []string{"directory"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, conn, err := buildEngine(ctx, args)
			if err != nil {
				return err
			}
			defer conn.Close()

			report, err := e.Validate(ctx)
			if err != nil {
				return err
			}

			if report.Valid {
				pterm.Success.Println("Schema history matches resolved migrations")
				return nil
			}

			for _, issue := range report.Issues {
				pterm.Error.Printfln("%s %s: %s", issue.Version, issue.Description, issue.Reason)
			}
			return fmt.Errorf("validation failed with %d issue(s)", len(report.Issues))
		},
	}
}
