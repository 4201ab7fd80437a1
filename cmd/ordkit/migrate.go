package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	var db string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Convert legacy integer positions to fractional keys",
		Long: `Rewrites every item in --db that still carries an integer position or a
digit-only key, keeping the legacy order. Running it again is a no-op.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(db)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.MigrateLegacy(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %d items\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "SQLite data source (required)")
	cmd.MarkFlagRequired("db")
	return cmd
}
