package retry_test

import (
	"context"
	"testing"
	"time"

	"github.com/caesium-cloud/crucible/internal/models"
	"github.com/caesium-cloud/crucible/internal/retry"
	"github.com/caesium-cloud/crucible/internal/status"
	"github.com/caesium-cloud/crucible/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPolicyDefaults(t *testing.T) {
	assert.Equal(t, retry.DefaultCeiling, retry.NewPolicy(0).Limit())
	assert.Equal(t, retry.DefaultCeiling, retry.NewPolicy(-3).Limit())
	assert.Equal(t, retry.DefaultCeiling, retry.Policy{}.Limit())
	assert.Equal(t, 7, retry.NewPolicy(7).Limit())
}

func TestEligible(t *testing.T) {
	p := retry.NewPolicy(5)
	for attempts := 0; attempts < 5; attempts++ {
		assert.True(t, p.Eligible(attempts), "attempts=%d", attempts)
	}
	assert.False(t, p.Eligible(5))
	assert.False(t, p.Eligible(6))
}

func TestOnFailure(t *testing.T) {
	p := retry.NewPolicy(5)

	cases := []struct {
		name     string
		stage    status.Stage
		attempts int
		want     retry.Decision
	}{
		{"first dry run failure", status.StageDryRun, 0, retry.Decision{Status: status.DryRunPending, Attempts: 1}},
		{"build retry", status.StageBuild, 3, retry.Decision{Status: status.BuildPending, Attempts: 4}},
		{"dry run exhausted", status.StageDryRun, 4, retry.Decision{Status: status.DryRunFailed, Attempts: 5, Exhausted: true}},
		{"build exhausted", status.StageBuild, 4, retry.Decision{Status: status.BuildFailed, Attempts: 5, Exhausted: true}},
		{"already over", status.StageBuild, 9, retry.Decision{Status: status.BuildFailed, Attempts: 10, Exhausted: true}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, p.OnFailure(tc.stage, tc.attempts))
		})
	}
}

func TestCommitRetryable(t *testing.T) {
	p := retry.NewPolicy(3)
	assert.False(t, p.CommitRetryable(nil))
	assert.True(t, p.CommitRetryable(&models.Commit{AttemptCount: 2}))
	assert.False(t, p.CommitRetryable(&models.Commit{AttemptCount: 3}))
}

func TestStuckQueries(t *testing.T) {
	db := testutil.OpenTestDB(t)
	fx := testutil.NewFixture(t, db)
	p := retry.NewPolicy(5)
	ctx := context.Background()

	now := time.Now().UTC()
	evaluated := fx.Commit("evaluated", now.Add(-2*time.Hour))
	stuck := fx.Commit("stuck", now.Add(-time.Hour))
	trying := fx.Commit("trying", now)

	require.NoError(t, db.Model(&models.Commit{}).
		Where("id IN ?", []int64{evaluated.ID, stuck.ID}).
		Update("attempt_count", 5).Error)
	require.NoError(t, db.Model(&models.Commit{}).
		Where("id = ?", trying.ID).
		Update("attempt_count", 2).Error)

	failed := fx.Unit(testutil.UnitSpec{Commit: evaluated, Name: "failed", Status: status.BuildFailed, Attempts: 5})
	fx.Unit(testutil.UnitSpec{Commit: evaluated, Name: "fine", Status: status.BuildPending, Attempts: 1})

	units, err := p.StuckUnits(ctx, db, 0)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, failed.ID, units[0].ID)

	commits, err := p.StuckCommits(ctx, db, 10)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, stuck.ID, commits[0].ID)
}
