package start

import (
	"context"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/caesium-cloud/crucible/api"
	"github.com/caesium-cloud/crucible/internal/builder"
	"github.com/caesium-cloud/crucible/internal/metrics"
	"github.com/caesium-cloud/crucible/internal/runtime"
	"github.com/caesium-cloud/crucible/internal/status"
	"github.com/caesium-cloud/crucible/pkg/db"
	"github.com/caesium-cloud/crucible/pkg/env"
	"github.com/caesium-cloud/crucible/pkg/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	usage   = "start"
	short   = "Start a crucible node"
	long    = "This command starts a crucible node: the API, the staleness sweeper and the configured worker roles"
	example = "CRUCIBLE_WORKER_ROLES=build crucible start"
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"launch", "boot", "up", "run", "begin"},
		Example:    example,
		RunE:       start,
	}

	noAPI     bool
	noSweeper bool
)

func init() {
	Cmd.Flags().BoolVar(&noAPI, "no-api", false, "Do not serve the HTTP API")
	Cmd.Flags().BoolVar(&noSweeper, "no-sweeper", false, "Do not run the staleness sweeper on this node")
}

func start(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go dumpStacks(ctx)

	vars := env.Variables()
	vars.WorkerID = runtime.WorkerID(vars)

	conn, err := db.Open(vars)
	if err != nil {
		return err
	}
	db.Use(conn)

	log.Info("migrating database")
	if err := db.Migrate(ctx, conn); err != nil {
		return err
	}

	if _, err := status.Load(ctx, conn); err != nil {
		return err
	}

	metrics.Register()

	components := runtime.Build(vars, conn)

	runners, err := runtime.BuildWorkers(vars, components, builder.NewNix(vars.NixBinary, nil))
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if !noAPI {
		g.Go(func() error {
			log.Info("spinning up api")
			return api.Start(ctx)
		})
	}

	if !noSweeper {
		sw, err := runtime.BuildSweeper(vars, components)
		if err != nil {
			return err
		}
		g.Go(func() error {
			log.Info("launching sweeper", "schedule", vars.SweepSchedule)
			return sw.Run(ctx)
		})
	}

	for _, r := range runners {
		r := r
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	log.Info("crucible node started", "worker_id", vars.WorkerID, "roles", vars.WorkerRoles)

	err = g.Wait()
	log.Info("crucible node stopped")
	return err
}

// dumpStacks writes goroutine stacks to stdout on SIGUSR1 until ctx is done.
func dumpStacks(ctx context.Context) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGUSR1)
	defer signal.Stop(signals)

	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			log.Info("dumping stack traces due to SIGUSR1 signal")
			if profile := pprof.Lookup("goroutine"); profile != nil {
				if err := profile.WriteTo(os.Stdout, 1); err != nil {
					log.Error("write goroutine profile", "error", err)
				}
			}
		}
	}
}
