// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate <directory>...",
		Short:     "Apply outstanding migrations from one or more directories to a database",
		Example:   "driftline migrate ./migrations",
		Args:      cobra.MinimumNArgs(1),
		ValidArgs: []string{"directory"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, conn, err := buildEngine(ctx, args)
			if err != nil {
				return err
			}
			defer conn.Close()

			result, err := e.Migrate(ctx)
			if err != nil {
				return fmt.Errorf("migration run failed: %w", err)
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}
