package ingest

import (
	"fmt"

	"github.com/caesium-cloud/crucible/internal/ingest"
	"github.com/caesium-cloud/crucible/pkg/db"
	"github.com/caesium-cloud/crucible/pkg/env"
	"github.com/caesium-cloud/crucible/pkg/manifest"
	"github.com/spf13/cobra"
)

var (
	paths  []string
	dryRun bool
)

// Cmd loads evaluation manifests into the store.
var Cmd = &cobra.Command{
	Use:     "ingest",
	Short:   "Load evaluation manifests of commits, units and dependency edges",
	Example: "crucible ingest -f evaluations/",
	RunE:    run,
}

func init() {
	Cmd.Flags().StringSliceVarP(&paths, "file", "f", nil, "Manifest files or directories (default: current directory)")
	Cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate manifests without writing them")
}

func run(cmd *cobra.Command, args []string) error {
	manifests, err := manifest.Collect(paths)
	if err != nil {
		return err
	}
	if len(manifests) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No manifests found.")
		return nil
	}

	if dryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "Validated %d manifest(s)\n", len(manifests))
		return nil
	}

	conn, err := db.Open(env.Variables())
	if err != nil {
		return err
	}

	ingestor := ingest.NewIngestor(conn)
	units, edges := 0, 0
	for _, m := range manifests {
		res, err := ingestor.Apply(cmd.Context(), m)
		if err != nil {
			return fmt.Errorf("flake %s: %w", m.Flake.RepoURL, err)
		}
		units += len(res.Units)
		edges += res.Edges
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Applied %d manifest(s): %d unit(s), %d edge(s)\n", len(manifests), units, edges)
	return nil
}
