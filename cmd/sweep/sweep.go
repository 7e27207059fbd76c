package sweep

import (
	"fmt"

	"github.com/caesium-cloud/crucible/internal/runtime"
	"github.com/caesium-cloud/crucible/pkg/db"
	"github.com/caesium-cloud/crucible/pkg/env"
	"github.com/spf13/cobra"
)

// Cmd runs one staleness sweep and exits.
var Cmd = &cobra.Command{
	Use:     "sweep",
	Short:   "Delete stale reservations and requeue failed cache pushes once",
	Example: "crucible sweep",
	RunE:    sweep,
}

func sweep(cmd *cobra.Command, args []string) error {
	vars := env.Variables()

	conn, err := db.Open(vars)
	if err != nil {
		return err
	}

	sw, err := runtime.BuildSweeper(vars, runtime.Build(vars, conn))
	if err != nil {
		return err
	}

	report, err := sw.Sweep(cmd.Context())
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(),
		"swept %d reservation(s), abandoned %d cache push(es), requeued %d cache push(es)\n",
		report.Swept, report.Abandoned, report.Requeued,
	)
	return err
}
