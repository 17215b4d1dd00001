// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func repairCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "repair <directory>...",
		Short:     "Clear failed schema history rows so their migrations can be re-attempted",
		Example:   "driftline repair ./migrations",
		Args:      cobra.MinimumNArgs(1),
		ValidArgs: []string{"directory"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, conn, err := buildEngine(ctx, args)
			if err != nil {
				return err
			}
			defer conn.Close()

			removed, err := e.Repair(ctx)
			if err != nil {
				return err
			}
			pterm.Success.Printfln("Removed %d failed schema history row(s)", removed)
			return nil
		},
	}
}
