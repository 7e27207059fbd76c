// Package runtime assembles crucible's components from the environment.
package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/caesium-cloud/crucible/internal/builder"
	"github.com/caesium-cloud/crucible/internal/cachepush"
	"github.com/caesium-cloud/crucible/internal/models"
	"github.com/caesium-cloud/crucible/internal/readiness"
	"github.com/caesium-cloud/crucible/internal/reservation"
	"github.com/caesium-cloud/crucible/internal/retry"
	"github.com/caesium-cloud/crucible/internal/sweeper"
	"github.com/caesium-cloud/crucible/internal/worker"
	"github.com/caesium-cloud/crucible/pkg/env"
	"gorm.io/gorm"
)

const (
	RoleBuild     = "build"
	RoleCachePush = "cache-push"
)

// Components are the store-backed services shared by every role of a node.
type Components struct {
	Policy  retry.Policy
	Engine  *readiness.Engine
	Manager *reservation.Manager
	Queue   *cachepush.Queue
}

// Build wires the scheduling components over conn.
func Build(vars env.Environment, conn *gorm.DB) *Components {
	policy := retry.NewPolicy(vars.RetryCeiling)

	return &Components{
		Policy:  policy,
		Engine:  readiness.NewEngine(conn, policy).WithSelectors(vars.UnitSelectors...),
		Manager: reservation.NewManager(conn, policy, destinations(vars)...),
		Queue: cachepush.NewQueue(conn, policy, cachepush.Backoff{
			Base: vars.CacheBackoffBase,
			Max:  vars.CacheBackoffMax,
		}),
	}
}

// BuildSweeper creates the staleness sweeper from the sweep settings.
func BuildSweeper(vars env.Environment, c *Components) (*sweeper.Sweeper, error) {
	return sweeper.New(sweeper.Config{
		Schedule:       vars.SweepSchedule,
		StaleThreshold: vars.StaleThreshold,
		PushTimeout:    vars.CachePushTimeout,
	}, c.Manager, c.Queue)
}

// Runner is a long-lived loop started by crucible start.
type Runner interface {
	Run(ctx context.Context) error
}

// BuildWorkers creates one worker loop per configured role. nix runs both
// stages and cache pushes.
func BuildWorkers(vars env.Environment, c *Components, nix *builder.Nix) ([]Runner, error) {
	workerID := WorkerID(vars)

	roles, err := Roles(vars)
	if err != nil {
		return nil, err
	}

	runners := make([]Runner, 0, len(roles))
	for _, role := range roles {
		switch role {
		case RoleBuild:
			claimer := worker.NewBuildClaimer(workerID, c.Engine, c.Manager, vars.BuildCandidateLimit)
			exec := worker.NewBuildExecutor(workerID, c.Manager, nix, vars.HeartbeatInterval, vars.BuildTimeout)
			runners = append(runners, worker.NewWorker[worker.Lease](
				RoleBuild,
				claimer,
				worker.NewPool(RoleBuild, vars.BuildConcurrency),
				vars.BuildPollInterval,
				exec.Execute,
			))
		case RoleCachePush:
			dests := destinations(vars)
			if len(dests) == 0 {
				return nil, fmt.Errorf("role %q requires at least one cache destination", RoleCachePush)
			}
			claimer := worker.NewCachePushClaimer(c.Queue, dests...)
			exec := worker.NewPushExecutor(c.Queue, nix, vars.CachePushTimeout)
			runners = append(runners, worker.NewWorker[models.CachePushJob](
				RoleCachePush,
				claimer,
				worker.NewPool(RoleCachePush, vars.CachePushConcurrency),
				vars.CachePushPollInterval,
				exec.Execute,
			))
		}
	}

	return runners, nil
}

// Roles normalises the configured worker roles, dropping blanks and
// duplicates. Unknown roles are an error.
func Roles(vars env.Environment) ([]string, error) {
	seen := make(map[string]bool, len(vars.WorkerRoles))
	roles := make([]string, 0, len(vars.WorkerRoles))

	for _, raw := range vars.WorkerRoles {
		role := strings.ToLower(strings.TrimSpace(raw))
		if role == "" || seen[role] {
			continue
		}
		switch role {
		case RoleBuild, RoleCachePush:
		default:
			return nil, fmt.Errorf("unknown worker role %q", raw)
		}
		seen[role] = true
		roles = append(roles, role)
	}

	return roles, nil
}

// WorkerID is the configured worker identity, or one derived from the
// hostname.
func WorkerID(vars env.Environment) string {
	if id := strings.TrimSpace(vars.WorkerID); id != "" {
		return id
	}
	return worker.DefaultWorkerID()
}

func destinations(vars env.Environment) []string {
	out := make([]string, 0, len(vars.CacheDestinations))
	for _, d := range vars.CacheDestinations {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}
