package main

import (
	"memoir-ledger/internal/database"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ledger tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(func(d *deps) error {
				d.Logger.Info("Running database migrations...")
				return database.Migrate(d.Logger)
			})
		},
	}
}
