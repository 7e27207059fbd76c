package stuck

import (
	"fmt"

	"github.com/caesium-cloud/crucible/cmd/output"
	"github.com/caesium-cloud/crucible/internal/retry"
	"github.com/caesium-cloud/crucible/pkg/db"
	"github.com/caesium-cloud/crucible/pkg/env"
	"github.com/spf13/cobra"
)

var limit int

// Cmd lists units and commits that exhausted their attempts.
var Cmd = &cobra.Command{
	Use:   "stuck",
	Short: "List build units and commits that exhausted their retry ceiling",
	RunE:  stuck,
}

func init() {
	Cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum rows per table")
}

func stuck(cmd *cobra.Command, args []string) error {
	vars := env.Variables()

	conn, err := db.Open(vars)
	if err != nil {
		return err
	}

	policy := retry.NewPolicy(vars.RetryCeiling)

	units, err := policy.StuckUnits(cmd.Context(), conn, limit)
	if err != nil {
		return err
	}
	commits, err := policy.StuckCommits(cmd.Context(), conn, limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Units (%d)\n%s\n", len(units), output.Units(units))
	fmt.Fprintf(out, "Commits (%d)\n%s", len(commits), output.Commits(commits))
	return nil
}
