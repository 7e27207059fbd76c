package buildable

import (
	"encoding/json"
	"fmt"

	"github.com/caesium-cloud/crucible/cmd/output"
	"github.com/caesium-cloud/crucible/internal/runtime"
	"github.com/caesium-cloud/crucible/pkg/db"
	"github.com/caesium-cloud/crucible/pkg/env"
	"github.com/spf13/cobra"
)

var (
	limit     int
	selectors []string
	asJSON    bool
)

// Cmd prints the units a worker would currently be offered.
var Cmd = &cobra.Command{
	Use:     "buildable",
	Short:   "List build units that are ready to be claimed",
	Example: "crucible buildable --limit 20 --selector 'python3*'",
	RunE:    buildable,
}

func init() {
	Cmd.Flags().IntVarP(&limit, "limit", "n", 32, "Maximum number of units to list")
	Cmd.Flags().StringSliceVarP(&selectors, "selector", "s", nil, "Unit name globs (default: CRUCIBLE_UNIT_SELECTORS)")
	Cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
}

func buildable(cmd *cobra.Command, args []string) error {
	vars := env.Variables()
	if cmd.Flags().Changed("selector") {
		vars.UnitSelectors = selectors
	}

	conn, err := db.Open(vars)
	if err != nil {
		return err
	}

	candidates, err := runtime.Build(vars, conn).Engine.ListBuildable(cmd.Context(), limit)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(candidates)
	}

	_, err = fmt.Fprint(cmd.OutOrStdout(), output.Candidates(candidates))
	return err
}
