// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/driftline/driftline/pkg/version"
)

func baselineCmd() *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:       "baseline <version> <directory>...",
		Short:     "Record a synthetic baseline row so an existing schema can adopt driftline",
		Example:   "driftline baseline 1.0 ./migrations",
		Args:      cobra.MinimumNArgs(2),
		ValidArgs: []string{"version", "directory"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			at, err := version.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid baseline version %q: %w", args[0], err)
			}

			e, conn, err := buildEngine(ctx, args[1:])
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := e.Baseline(ctx, at, description); err != nil {
				return err
			}
			pterm.Success.Printfln("Baselined schema history at version %s", at.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&description, "description", "baseline", "Description recorded for the baseline row")
	return cmd
}
