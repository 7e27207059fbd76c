package migrate

import (
	"fmt"

	"github.com/caesium-cloud/crucible/pkg/db"
	"github.com/caesium-cloud/crucible/pkg/env"
	"github.com/caesium-cloud/crucible/pkg/log"
	"github.com/spf13/cobra"
)

// Cmd creates or updates the schema and seeds the status catalog.
var Cmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the database schema and seed the status catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		vars := env.Variables()

		conn, err := db.Open(vars)
		if err != nil {
			return err
		}

		log.Info("migrating database", "type", vars.DatabaseType)
		if err := db.Migrate(cmd.Context(), conn); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Database migrated.")
		return nil
	},
}
