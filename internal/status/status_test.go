package status

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCatalogProgressionFlags(t *testing.T) {
	tests := []struct {
		status   Status
		name     string
		terminal bool
		success  bool
	}{
		{Pending, "pending", false, false},
		{Queued, "queued", false, false},
		{DryRunPending, "dry-run-pending", false, false},
		{DryRunInProgress, "dry-run-in-progress", false, false},
		{DryRunComplete, "dry-run-complete", false, true},
		{DryRunFailed, "dry-run-failed", true, false},
		{BuildPending, "build-pending", false, false},
		{BuildInProgress, "build-in-progress", false, false},
		{BuildComplete, "build-complete", true, true},
		{BuildFailed, "build-failed", true, false},
		{Complete, "complete", true, true},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.name, tt.status.String())
			require.Equal(t, tt.terminal, tt.status.IsTerminal())
			require.Equal(t, tt.success, tt.status.IsSuccess())
			require.Equal(t, i+1, tt.status.DisplayOrder())

			parsed, err := Parse(tt.name)
			require.NoError(t, err)
			require.Equal(t, tt.status, parsed)
		})
	}
}

func TestParseRejectsUnknownNames(t *testing.T) {
	_, err := Parse("building")
	require.Error(t, err)

	s, err := Parse(" Cache-Pushed ")
	require.NoError(t, err)
	require.Equal(t, Complete, s)
}

func TestFromID(t *testing.T) {
	s, err := FromID(9)
	require.NoError(t, err)
	require.Equal(t, BuildComplete, s)

	_, err = FromID(0)
	require.Error(t, err)
	_, err = FromID(12)
	require.Error(t, err)
}

func TestDependencySatisfiedIsTerminalSuccessOnly(t *testing.T) {
	require.Equal(t, []Status{BuildComplete, Complete}, DependencySatisfied())
	require.False(t, DryRunComplete.SatisfiesDependency())
}

func TestStageTransitions(t *testing.T) {
	for _, s := range []Status{DryRunPending, DryRunInProgress} {
		stage, ok := StageFor(s)
		require.True(t, ok)
		require.Equal(t, StageDryRun, stage)
	}
	stage, _ := StageFor(DryRunPending)
	require.Equal(t, DryRunInProgress, stage.InProgress())
	require.Equal(t, DryRunPending, stage.Retry())
	require.Equal(t, DryRunFailed, stage.Failed())
	require.Equal(t, DryRunComplete, stage.Succeeded())

	for _, s := range []Status{DryRunComplete, BuildPending, BuildInProgress} {
		stage, ok := StageFor(s)
		require.True(t, ok)
		require.Equal(t, StageBuild, stage)
	}
	require.Equal(t, BuildInProgress, StageBuild.InProgress())
	require.Equal(t, BuildPending, StageBuild.Retry())
	require.Equal(t, BuildFailed, StageBuild.Failed())
	require.Equal(t, BuildComplete, StageBuild.Succeeded())

	for _, s := range []Status{Pending, Queued, BuildComplete, BuildFailed, DryRunFailed, Complete} {
		_, ok := StageFor(s)
		require.False(t, ok, s.String())
	}
}

func TestTextRoundTripRejectsInvalid(t *testing.T) {
	_, err := Status(42).MarshalText()
	require.Error(t, err)

	var s Status
	require.NoError(t, s.UnmarshalText([]byte("build-pending")))
	require.Equal(t, BuildPending, s)
	require.Error(t, s.UnmarshalText([]byte("nope")))
}
