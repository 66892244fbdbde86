package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending idempotency store migrations",
		Long:  "Opens the store selected by STAGE and STORE_BACKEND, which applies any pending SQL migrations.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, release, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied successfully")
			return nil
		},
	}
}
