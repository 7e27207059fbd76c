package env

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type EnvTestSuite struct {
	suite.Suite
}

func (s *EnvTestSuite) TearDownTest() {
	for _, key := range []string{
		"CRUCIBLE_PORT",
		"CRUCIBLE_LOG_LEVEL",
		"CRUCIBLE_RETRY_CEILING",
		"CRUCIBLE_HEARTBEAT_INTERVAL",
		"CRUCIBLE_STALE_THRESHOLD",
		"CRUCIBLE_CACHE_DESTINATIONS",
		"CRUCIBLE_WORKER_ROLES",
	} {
		os.Unsetenv(key)
	}
}

func (s *EnvTestSuite) TestProcess() {
	assert.Nil(s.T(), Process())
	assert.Equal(s.T(), "info", Variables().LogLevel)
	assert.Equal(s.T(), 5, Variables().RetryCeiling)
	assert.Equal(s.T(), 5*time.Minute, Variables().StaleThreshold)
	assert.Equal(s.T(), "@every 60s", Variables().SweepSchedule)
	assert.Equal(s.T(), []string{"build"}, Variables().WorkerRoles)
	assert.Empty(s.T(), Variables().CacheDestinations)
	assert.True(s.T(), Variables().GraphiQL)
}

func (s *EnvTestSuite) TestProcessOverrides() {
	os.Setenv("CRUCIBLE_RETRY_CEILING", "3")
	os.Setenv("CRUCIBLE_CACHE_DESTINATIONS", "s3://cache,https://attic.example/main")
	os.Setenv("CRUCIBLE_WORKER_ROLES", "cache-push")

	s.Require().NoError(Process())
	s.Equal(3, Variables().RetryCeiling)
	s.Equal([]string{"s3://cache", "https://attic.example/main"}, Variables().CacheDestinations)
	s.Equal([]string{"cache-push"}, Variables().WorkerRoles)
}

func (s *EnvTestSuite) TestProcessInvalidTypeFailure() {
	os.Setenv("CRUCIBLE_PORT", "not_a_port")
	assert.NotNil(s.T(), Process())
}

func (s *EnvTestSuite) TestProcessInvalidLogLevelFailure() {
	os.Setenv("CRUCIBLE_LOG_LEVEL", "bogus")
	assert.NotNil(s.T(), Process())
}

func (s *EnvTestSuite) TestProcessRejectsZeroCeiling() {
	os.Setenv("CRUCIBLE_RETRY_CEILING", "0")
	s.ErrorContains(Process(), "retry ceiling")
}

func (s *EnvTestSuite) TestProcessRejectsSlowHeartbeat() {
	os.Setenv("CRUCIBLE_HEARTBEAT_INTERVAL", "10m")
	os.Setenv("CRUCIBLE_STALE_THRESHOLD", "5m")
	s.ErrorContains(Process(), "heartbeat interval")
}

func (s *EnvTestSuite) TestProcessRejectsPushRoleWithoutDestinations() {
	os.Setenv("CRUCIBLE_WORKER_ROLES", "build, Cache-Push")
	s.ErrorContains(Process(), "cache-push")

	os.Setenv("CRUCIBLE_CACHE_DESTINATIONS", " , ")
	s.ErrorContains(Process(), "cache-push")

	os.Setenv("CRUCIBLE_CACHE_DESTINATIONS", "s3://cache")
	s.NoError(Process())
}

func TestEnvTestSuite(t *testing.T) {
	suite.Run(t, new(EnvTestSuite))
}
