package worker

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/caesium-cloud/crucible/internal/cachepush"
	"github.com/caesium-cloud/crucible/internal/models"
	"github.com/caesium-cloud/crucible/internal/readiness"
	"github.com/caesium-cloud/crucible/internal/reservation"
	"github.com/google/uuid"
)

const defaultCandidateLimit = 32

// Lease is a reserved unit handed to a build executor.
type Lease struct {
	Reservation *models.Reservation
	Unit        *readiness.Candidate
}

// BuildClaimer reserves the best buildable unit for one worker identity.
type BuildClaimer struct {
	workerID string
	engine   *readiness.Engine
	manager  *reservation.Manager
	limit    int
}

// NewBuildClaimer creates a claimer. An empty workerID falls back to
// DefaultWorkerID.
func NewBuildClaimer(workerID string, engine *readiness.Engine, manager *reservation.Manager, candidateLimit int) *BuildClaimer {
	if engine == nil || manager == nil {
		panic("build claimer requires a readiness engine and reservation manager")
	}
	if strings.TrimSpace(workerID) == "" {
		workerID = DefaultWorkerID()
	}
	if candidateLimit <= 0 {
		candidateLimit = defaultCandidateLimit
	}
	return &BuildClaimer{workerID: workerID, engine: engine, manager: manager, limit: candidateLimit}
}

// WorkerID returns the identity reservations are recorded under.
func (c *BuildClaimer) WorkerID() string {
	return c.workerID
}

// ClaimNext reserves one buildable unit, or returns nil when none is
// available. Candidates another worker won are skipped.
func (c *BuildClaimer) ClaimNext(ctx context.Context) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates, err := c.engine.ListBuildable(ctx, c.limit)
	if err != nil {
		return nil, err
	}

	for _, candidate := range candidates {
		res, err := c.manager.Claim(ctx, c.workerID, candidate.ID, nil)
		if errors.Is(err, reservation.ErrConflict) {
			// Another worker won the race.
			continue
		}
		if err != nil {
			return nil, err
		}
		return &Lease{Reservation: res, Unit: candidate}, nil
	}

	return nil, nil
}

// CachePushClaimer claims pending cache push jobs, optionally restricted to
// a set of destinations.
type CachePushClaimer struct {
	queue        *cachepush.Queue
	destinations []string
}

// NewCachePushClaimer creates a claimer over queue.
func NewCachePushClaimer(queue *cachepush.Queue, destinations ...string) *CachePushClaimer {
	if queue == nil {
		panic("cache push claimer requires a queue")
	}
	dests := make([]string, 0, len(destinations))
	for _, d := range destinations {
		if d = strings.TrimSpace(d); d != "" {
			dests = append(dests, d)
		}
	}
	return &CachePushClaimer{queue: queue, destinations: dests}
}

// ClaimNext implements Claimer.
func (c *CachePushClaimer) ClaimNext(ctx context.Context) (*models.CachePushJob, error) {
	return c.queue.ClaimNext(ctx, c.destinations...)
}

// DefaultWorkerID derives a worker identity from the hostname, with a random
// suffix so several processes on one host stay distinct.
func DefaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		host = "unknown-node"
	}
	return host + "-" + uuid.NewString()[:8]
}
