package reservation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/caesium-cloud/crucible/internal/models"
	"github.com/caesium-cloud/crucible/internal/readiness"
	"github.com/caesium-cloud/crucible/internal/reservation"
	"github.com/caesium-cloud/crucible/internal/retry"
	"github.com/caesium-cloud/crucible/internal/status"
	"github.com/caesium-cloud/crucible/internal/testutil"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

type ManagerTestSuite struct {
	suite.Suite
	db      *gorm.DB
	fixture *testutil.Fixture
	manager *reservation.Manager
	engine  *readiness.Engine
}

func (s *ManagerTestSuite) SetupTest() {
	s.db = testutil.OpenTestDB(s.T())
	s.fixture = testutil.NewFixture(s.T(), s.db)
	policy := retry.NewPolicy(5)
	s.manager = reservation.NewManager(s.db, policy, "s3://cache", "https://attic.example/main")
	s.engine = readiness.NewEngine(s.db, policy)
}

func (s *ManagerTestSuite) claim(worker string, unit *models.BuildUnit) *models.Reservation {
	res, err := s.manager.Claim(context.Background(), worker, unit.ID, nil)
	s.Require().NoError(err)
	s.Require().NotNil(res)
	return res
}

func (s *ManagerTestSuite) buildableIDs() []int64 {
	candidates, err := s.engine.ListBuildable(context.Background(), 0)
	s.Require().NoError(err)
	ids := make([]int64, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}
	return ids
}

func (s *ManagerTestSuite) TestClaimRecordsReservation() {
	unit := s.fixture.Unit(testutil.UnitSpec{Name: "hello"})

	res := s.claim("w1", unit)
	s.Equal("w1", res.WorkerID)
	s.Equal(unit.ID, res.UnitID)
	s.Nil(res.ParentUnitID)
	s.False(res.HeartbeatAt.IsZero())

	testutil.AssertCount(s.T(), s.db, &models.Reservation{}, 1)
	s.NotContains(s.buildableIDs(), unit.ID)
}

func (s *ManagerTestSuite) TestClaimRecordsParent() {
	system := s.fixture.Unit(testutil.UnitSpec{Name: "host-a", Kind: models.UnitKindSystem})
	pkg := s.fixture.Unit(testutil.UnitSpec{Name: "openssl"})

	res, err := s.manager.Claim(context.Background(), "w1", pkg.ID, &system.ID)
	s.Require().NoError(err)
	s.Require().NotNil(res.ParentUnitID)
	s.Equal(system.ID, *res.ParentUnitID)
}

func (s *ManagerTestSuite) TestClaimRequiresWorkerID() {
	unit := s.fixture.Unit(testutil.UnitSpec{Name: "hello"})
	_, err := s.manager.Claim(context.Background(), "  ", unit.ID, nil)
	s.Error(err)
}

// Two workers race for the same unit: exactly one wins, the loser sees a
// conflict and moves on to the next candidate.
func (s *ManagerTestSuite) TestClaimConflict() {
	x := s.fixture.Unit(testutil.UnitSpec{Name: "x"})
	y := s.fixture.Unit(testutil.UnitSpec{Name: "y"})

	s.claim("w1", x)

	_, err := s.manager.Claim(context.Background(), "w2", x.ID, nil)
	s.ErrorIs(err, reservation.ErrConflict)

	res := s.claim("w2", y)
	s.Equal(y.ID, res.UnitID)
	testutil.AssertCount(s.T(), s.db, &models.Reservation{}, 2)
}

func (s *ManagerTestSuite) TestClaimRejectsIneligibleUnits() {
	dep := s.fixture.Unit(testutil.UnitSpec{Name: "dep", Status: status.BuildPending})
	blocked := s.fixture.Unit(testutil.UnitSpec{Name: "blocked"})
	s.fixture.DependsOn(blocked, dep)
	exhausted := s.fixture.Unit(testutil.UnitSpec{Name: "exhausted", Status: status.BuildPending, Attempts: 5})
	done := s.fixture.Unit(testutil.UnitSpec{Name: "done", Status: status.BuildComplete, Output: "/nix/store/abc-done"})

	for _, u := range []*models.BuildUnit{blocked, exhausted, done} {
		_, err := s.manager.Claim(context.Background(), "w1", u.ID, nil)
		s.ErrorIs(err, reservation.ErrConflict, u.Name)
	}

	_, err := s.manager.Claim(context.Background(), "w1", 424242, nil)
	s.ErrorIs(err, reservation.ErrConflict)

	testutil.AssertCount(s.T(), s.db, &models.Reservation{}, 0)
}

func (s *ManagerTestSuite) TestConcurrentClaimsGrantExactlyOne() {
	unit := s.fixture.Unit(testutil.UnitSpec{Name: "contended"})

	const workers = 16
	var (
		wg        sync.WaitGroup
		winners   int32
		conflicts int32
	)

	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := s.manager.Claim(context.Background(), fmt.Sprintf("w%d", i), unit.ID, nil)
			switch {
			case err == nil:
				atomic.AddInt32(&winners, 1)
			case errors.Is(err, reservation.ErrConflict):
				atomic.AddInt32(&conflicts, 1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	s.EqualValues(1, winners)
	s.EqualValues(workers-1, conflicts)
	testutil.AssertCount(s.T(), s.db, &models.Reservation{}, 1)
}

func (s *ManagerTestSuite) TestHeartbeat() {
	unit := s.fixture.Unit(testutil.UnitSpec{Name: "hello"})
	res := s.claim("w1", unit)

	old := time.Now().UTC().Add(-time.Hour)
	s.Require().NoError(s.db.Model(&models.Reservation{}).
		Where("id = ?", res.ID).
		Update("heartbeat_at", old).Error)

	s.Require().NoError(s.manager.Heartbeat(context.Background(), res.ID))

	renewed, err := s.manager.Get(context.Background(), res.ID)
	s.Require().NoError(err)
	s.True(renewed.HeartbeatAt.After(old.Add(30 * time.Minute)))

	s.ErrorIs(s.manager.Heartbeat(context.Background(), res.ID+100), reservation.ErrNotFound)
}

func (s *ManagerTestSuite) TestStartDerivesStage() {
	fresh := s.fixture.Unit(testutil.UnitSpec{Name: "fresh"})
	evaluated := s.fixture.Unit(testutil.UnitSpec{Name: "evaluated", Status: status.DryRunComplete})

	stage, err := s.manager.Start(context.Background(), s.claim("w1", fresh))
	s.Require().NoError(err)
	s.Equal(status.StageDryRun, stage)

	reloaded := s.fixture.Reload(fresh)
	s.Equal(status.DryRunInProgress.ID(), reloaded.StatusID)
	s.NotNil(reloaded.StartedAt)

	stage, err = s.manager.Start(context.Background(), s.claim("w1", evaluated))
	s.Require().NoError(err)
	s.Equal(status.StageBuild, stage)
	s.Equal(status.BuildInProgress.ID(), s.fixture.Reload(evaluated).StatusID)
}

func (s *ManagerTestSuite) TestStartRequiresLiveReservation() {
	unit := s.fixture.Unit(testutil.UnitSpec{Name: "hello"})
	res := s.claim("w1", unit)

	_, err := s.manager.SweepStale(context.Background(), -time.Minute)
	s.Require().NoError(err)

	_, err = s.manager.Start(context.Background(), res)
	s.ErrorIs(err, reservation.ErrNotFound)
	s.Equal(status.DryRunPending.ID(), s.fixture.Reload(unit).StatusID)
}

func (s *ManagerTestSuite) TestReleaseDryRunSuccess() {
	unit := s.fixture.Unit(testutil.UnitSpec{Name: "hello"})
	res := s.claim("w1", unit)
	_, err := s.manager.Start(context.Background(), res)
	s.Require().NoError(err)

	s.Require().NoError(s.manager.Release(context.Background(), res, reservation.DryRunSucceeded()))

	reloaded := s.fixture.Reload(unit)
	s.Equal(status.DryRunComplete.ID(), reloaded.StatusID)
	s.Zero(reloaded.AttemptCount)
	testutil.AssertCount(s.T(), s.db, &models.Reservation{}, 0)
	s.Contains(s.buildableIDs(), unit.ID)
}

func (s *ManagerTestSuite) TestReleaseBuildSuccessEnqueuesPushes() {
	unit := s.fixture.Unit(testutil.UnitSpec{Name: "hello", Status: status.BuildPending})
	res := s.claim("w1", unit)

	out := "/nix/store/0123abcd-hello-1.0"
	s.Require().NoError(s.manager.Release(context.Background(), res, reservation.BuildSucceeded(out)))

	reloaded := s.fixture.Reload(unit)
	s.Equal(status.BuildComplete.ID(), reloaded.StatusID)
	s.Require().NotNil(reloaded.OutputPath)
	s.Equal(out, *reloaded.OutputPath)
	s.NotNil(reloaded.CompletedAt)

	var jobs models.CachePushJobs
	s.Require().NoError(s.db.Order("destination").Find(&jobs, "unit_id = ?", unit.ID).Error)
	s.Require().Len(jobs, 2)
	s.Equal("https://attic.example/main", jobs[0].Destination)
	s.Equal("s3://cache", jobs[1].Destination)
	for _, job := range jobs {
		s.Equal(models.CachePushPending, job.Status)
		s.Equal(out, job.OutputPath)
	}
}

func (s *ManagerTestSuite) TestReleaseBuildSuccessRequiresOutput() {
	unit := s.fixture.Unit(testutil.UnitSpec{Name: "hello", Status: status.BuildPending})
	res := s.claim("w1", unit)

	s.Error(s.manager.Release(context.Background(), res, reservation.Outcome{
		Stage:  status.StageBuild,
		Result: reservation.Succeeded,
	}))
	testutil.AssertCount(s.T(), s.db, &models.Reservation{}, 1)
}

// A unit at four attempts fails once more and lands in a
// terminal failure it never leaves.
func (s *ManagerTestSuite) TestReleaseFailureExhaustsRetries() {
	unit := s.fixture.Unit(testutil.UnitSpec{Name: "flaky", Status: status.BuildPending, Attempts: 4})
	res := s.claim("w1", unit)
	_, err := s.manager.Start(context.Background(), res)
	s.Require().NoError(err)

	s.Require().NoError(s.manager.Release(context.Background(), res,
		reservation.StageFailed(status.StageBuild, errors.New("builder exited 1"))))

	reloaded := s.fixture.Reload(unit)
	s.Equal(status.BuildFailed.ID(), reloaded.StatusID)
	s.Equal(5, reloaded.AttemptCount)
	s.Equal("builder exited 1", reloaded.Error)
	s.NotContains(s.buildableIDs(), unit.ID)

	_, err = s.manager.Claim(context.Background(), "w2", unit.ID, nil)
	s.ErrorIs(err, reservation.ErrConflict)
}

func (s *ManagerTestSuite) TestReleaseFailureBelowCeilingRetries() {
	unit := s.fixture.Unit(testutil.UnitSpec{Name: "flaky"})
	res := s.claim("w1", unit)
	_, err := s.manager.Start(context.Background(), res)
	s.Require().NoError(err)

	s.Require().NoError(s.manager.Release(context.Background(), res,
		reservation.StageFailed(status.StageDryRun, errors.New("eval timeout"))))

	reloaded := s.fixture.Reload(unit)
	s.Equal(status.DryRunPending.ID(), reloaded.StatusID)
	s.Equal(1, reloaded.AttemptCount)
	s.Contains(s.buildableIDs(), unit.ID)
}

func (s *ManagerTestSuite) TestReleaseAbandonedKeepsAttempts() {
	unit := s.fixture.Unit(testutil.UnitSpec{Name: "hello", Status: status.BuildPending, Attempts: 2})
	res := s.claim("w1", unit)
	_, err := s.manager.Start(context.Background(), res)
	s.Require().NoError(err)

	s.Require().NoError(s.manager.Release(context.Background(), res, reservation.StageAbandoned(status.StageBuild)))

	reloaded := s.fixture.Reload(unit)
	s.Equal(status.BuildPending.ID(), reloaded.StatusID)
	s.Equal(2, reloaded.AttemptCount)
	s.Nil(reloaded.StartedAt)
}

func (s *ManagerTestSuite) TestReleaseRejectsBuildOutcomeForDryRunUnit() {
	unit := s.fixture.Unit(testutil.UnitSpec{Name: "hello"})
	res := s.claim("w1", unit)
	stage, err := s.manager.Start(context.Background(), res)
	s.Require().NoError(err)
	s.Require().Equal(status.StageDryRun, stage)

	err = s.manager.Release(context.Background(), res, reservation.BuildSucceeded("/nix/store/xyz-hello"))
	s.ErrorIs(err, reservation.ErrStageMismatch)

	reloaded := s.fixture.Reload(unit)
	s.Equal(status.DryRunInProgress.ID(), reloaded.StatusID)
	s.Nil(reloaded.OutputPath)
	testutil.AssertCount(s.T(), s.db, &models.Reservation{}, 1)
	testutil.AssertCount(s.T(), s.db, &models.CachePushJob{}, 0)

	s.Require().NoError(s.manager.Release(context.Background(), res, reservation.DryRunSucceeded()))
	s.Equal(status.DryRunComplete.ID(), s.fixture.Reload(unit).StatusID)
}

func (s *ManagerTestSuite) TestReleaseRejectsDryRunOutcomeForBuildUnit() {
	unit := s.fixture.Unit(testutil.UnitSpec{Name: "hello", Status: status.BuildPending, Attempts: 1})
	res := s.claim("w1", unit)

	err := s.manager.Release(context.Background(), res,
		reservation.StageFailed(status.StageDryRun, errors.New("eval failed")))
	s.ErrorIs(err, reservation.ErrStageMismatch)

	reloaded := s.fixture.Reload(unit)
	s.Equal(status.BuildPending.ID(), reloaded.StatusID)
	s.Equal(1, reloaded.AttemptCount)
	s.Empty(reloaded.Error)
	testutil.AssertCount(s.T(), s.db, &models.Reservation{}, 1)
}

func (s *ManagerTestSuite) TestReleaseAfterSweepIsRejected() {
	unit := s.fixture.Unit(testutil.UnitSpec{Name: "hello", Status: status.BuildPending})
	res := s.claim("w1", unit)

	swept, err := s.manager.SweepStale(context.Background(), -time.Minute)
	s.Require().NoError(err)
	s.EqualValues(1, swept)

	err = s.manager.Release(context.Background(), res, reservation.BuildSucceeded("/nix/store/x-hello"))
	s.ErrorIs(err, reservation.ErrNotFound)
	s.Equal(status.BuildPending.ID(), s.fixture.Reload(unit).StatusID)
	testutil.AssertCount(s.T(), s.db, &models.CachePushJob{}, 0)
}

// A worker dies mid-build; after the staleness threshold the
// sweep drops its lease and another worker can claim the unit, whose status
// was never touched.
func (s *ManagerTestSuite) TestSweepStaleReleasesDeadWorkers() {
	unit := s.fixture.Unit(testutil.UnitSpec{Name: "hello", Status: status.BuildPending})
	live := s.fixture.Unit(testutil.UnitSpec{Name: "live", Status: status.BuildPending})

	dead := s.claim("w1", unit)
	_, err := s.manager.Start(context.Background(), dead)
	s.Require().NoError(err)
	s.claim("w3", live)

	s.Require().NoError(s.db.Model(&models.Reservation{}).
		Where("id = ?", dead.ID).
		Update("heartbeat_at", time.Now().UTC().Add(-10*time.Minute)).Error)

	swept, err := s.manager.SweepStale(context.Background(), 5*time.Minute)
	s.Require().NoError(err)
	s.EqualValues(1, swept)

	s.Equal(status.BuildInProgress.ID(), s.fixture.Reload(unit).StatusID)
	s.Contains(s.buildableIDs(), unit.ID)

	res := s.claim("w2", unit)
	stage, err := s.manager.Start(context.Background(), res)
	s.Require().NoError(err)
	s.Equal(status.StageBuild, stage)

	// Idempotent: nothing else is stale.
	swept, err = s.manager.SweepStale(context.Background(), 5*time.Minute)
	s.Require().NoError(err)
	s.Zero(swept)
	testutil.AssertCount(s.T(), s.db, &models.Reservation{}, 2)
}

func (s *ManagerTestSuite) TestOutcomeValidate() {
	s.NoError(reservation.DryRunSucceeded().Validate())
	s.NoError(reservation.BuildSucceeded("/nix/store/a").Validate())
	s.NoError(reservation.StageFailed(status.StageBuild, nil).Validate())
	s.NoError(reservation.StageAbandoned(status.StageDryRun).Validate())
	s.Error(reservation.Outcome{Stage: "deploy", Result: reservation.Succeeded}.Validate())
	s.Error(reservation.Outcome{Stage: status.StageBuild, Result: "maybe"}.Validate())
}

func TestManagerTestSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}
