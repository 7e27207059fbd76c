package cmd

import (
	"github.com/caesium-cloud/crucible/cmd/buildable"
	"github.com/caesium-cloud/crucible/cmd/ingest"
	"github.com/caesium-cloud/crucible/cmd/migrate"
	"github.com/caesium-cloud/crucible/cmd/start"
	"github.com/caesium-cloud/crucible/cmd/stuck"
	"github.com/caesium-cloud/crucible/cmd/sweep"
	"github.com/spf13/cobra"
)

var cmds = []*cobra.Command{
	start.Cmd,
	sweep.Cmd,
	buildable.Cmd,
	ingest.Cmd,
	migrate.Cmd,
	stuck.Cmd,
}

// Execute builds the command tree and executes commands.
func Execute() error {
	command := &cobra.Command{
		Use:           "crucible",
		Short:         "Schedule and coordinate build workers over a shared store",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Usage()
		},
	}

	for _, c := range cmds {
		command.AddCommand(c)
	}

	return command.Execute()
}
