package reservation

import (
	"context"
	"testing"
	"time"

	"github.com/caesium-cloud/crucible/internal/models"
	"github.com/caesium-cloud/crucible/internal/reservation"
	"github.com/caesium-cloud/crucible/internal/status"
	"github.com/caesium-cloud/crucible/internal/testutil"
	"github.com/stretchr/testify/require"
)

func TestClaimStartRelease(t *testing.T) {
	db := testutil.OpenTestDB(t)
	fx := testutil.NewFixture(t, db)
	unit := fx.Unit(testutil.UnitSpec{Name: "hello"})

	svc := New(context.Background()).WithDatabase(db)

	res, err := svc.Claim(&ClaimRequest{WorkerID: "remote-1", UnitID: unit.ID})
	require.NoError(t, err)

	_, err = svc.Claim(&ClaimRequest{WorkerID: "remote-2", UnitID: unit.ID})
	require.True(t, IsConflict(err))

	started, err := svc.Start(res.ID)
	require.NoError(t, err)
	require.Equal(t, status.StageDryRun, started.Stage)
	require.Equal(t, status.DryRunInProgress.ID(), started.Unit.StatusID)

	require.NoError(t, svc.Heartbeat(res.ID))

	views, err := svc.List("")
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Equal(t, "hello", views[0].UnitName)
	require.Equal(t, "dry-run-in-progress", views[0].UnitStatus)
	require.Less(t, views[0].HeartbeatAge, 60.0)

	views, err = svc.List("remote-2")
	require.NoError(t, err)
	require.Empty(t, views)

	require.NoError(t, svc.Release(res.ID, reservation.DryRunSucceeded()))
	require.Equal(t, status.DryRunComplete.ID(), fx.Reload(unit).StatusID)

	require.True(t, IsNotFound(svc.Release(res.ID, reservation.DryRunSucceeded())))
	require.True(t, IsNotFound(svc.Heartbeat(res.ID)))
	_, err = svc.Start(res.ID)
	require.True(t, IsNotFound(err))
}

func TestListReportsHeartbeatAge(t *testing.T) {
	db := testutil.OpenTestDB(t)
	fx := testutil.NewFixture(t, db)
	unit := fx.Unit(testutil.UnitSpec{Name: "hello"})

	svc := New(context.Background()).WithDatabase(db)
	res, err := svc.Claim(&ClaimRequest{WorkerID: "remote-1", UnitID: unit.ID})
	require.NoError(t, err)

	require.NoError(t, db.Model(&models.Reservation{}).
		Where("id = ?", res.ID).
		Update("heartbeat_at", time.Now().UTC().Add(-10*time.Minute)).Error)

	views, err := svc.List("remote-1")
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.InDelta(t, 600, views[0].HeartbeatAge, 30)
}
