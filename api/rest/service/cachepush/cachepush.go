package cachepush

import (
	"context"
	"errors"
	"fmt"

	"github.com/caesium-cloud/crucible/internal/cachepush"
	"github.com/caesium-cloud/crucible/internal/models"
	"github.com/caesium-cloud/crucible/internal/retry"
	"github.com/caesium-cloud/crucible/pkg/db"
	"github.com/caesium-cloud/crucible/pkg/env"
	"gorm.io/gorm"
)

// Service lets remote push workers claim and report cache-push jobs.
type Service interface {
	WithDatabase(*gorm.DB) Service
	Claim(destinations ...string) (*models.CachePushJob, error)
	Report(int64, *ReportRequest) error
	List(unitID int64) (models.CachePushJobs, error)
}

type service struct {
	ctx context.Context
	db  *gorm.DB
}

func New(ctx context.Context) Service {
	return &service{ctx: ctx}
}

func (s *service) WithDatabase(conn *gorm.DB) Service {
	if conn == nil {
		return s
	}
	s.db = conn
	return s
}

func (s *service) connection() *gorm.DB {
	if s.db == nil {
		s.db = db.Connection()
	}
	return s.db
}

func (s *service) queue() *cachepush.Queue {
	vars := env.Variables()
	return cachepush.NewQueue(
		s.connection(),
		retry.NewPolicy(vars.RetryCeiling),
		cachepush.Backoff{Base: vars.CacheBackoffBase, Max: vars.CacheBackoffMax},
	)
}

func (s *service) Claim(destinations ...string) (*models.CachePushJob, error) {
	return s.queue().ClaimNext(s.ctx, destinations...)
}

const (
	ResultCompleted = "completed"
	ResultFailed    = "failed"
)

// ErrInvalidResult is returned for a report that is neither completed nor
// failed.
var ErrInvalidResult = errors.New("cache push result must be completed or failed")

type ReportRequest struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

func (s *service) Report(id int64, req *ReportRequest) error {
	switch req.Result {
	case ResultCompleted:
		return s.queue().Complete(s.ctx, id)
	case ResultFailed:
		var cause error
		if req.Error != "" {
			cause = errors.New(req.Error)
		}
		return s.queue().Fail(s.ctx, id, cause)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidResult, req.Result)
	}
}

func (s *service) List(unitID int64) (models.CachePushJobs, error) {
	return s.queue().List(s.ctx, unitID)
}

// IsNotFound reports whether err means the job is missing or not in
// progress.
func IsNotFound(err error) bool {
	return errors.Is(err, cachepush.ErrNotFound)
}
