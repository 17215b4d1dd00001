// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "info <directory>...",
		Short:     "Show the state of every resolved and applied migration",
		Example:   "driftline info ./migrations",
		Args:      cobra.MinimumNArgs(1),
		ValidArgs: []string{"directory"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, conn, err := buildEngine(ctx, args)
			if err != nil {
				return err
			}
			defer conn.Close()

			rows, err := e.Info(ctx)
			if err != nil {
				return err
			}

			table := pterm.TableData{{"Version", "Description", "Type", "State"}}
			for _, r := range rows {
				table = append(table, []string{r.Version, r.Description, string(r.Type), string(r.State)})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(table).Render()
		},
	}
}
