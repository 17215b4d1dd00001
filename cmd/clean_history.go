// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func cleanHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean-history",
		Short: "Drop the schema history table, leaving every other schema object untouched",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			st, conn, err := buildStore(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := st.Drop(ctx); err != nil {
				return err
			}
			pterm.Success.Println("Schema history removed")
			return nil
		},
	}
}
