package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/caesium-cloud/crucible/api/rest/bind"
	"github.com/caesium-cloud/crucible/internal/ingest"
	"github.com/caesium-cloud/crucible/internal/models"
	"github.com/caesium-cloud/crucible/internal/reservation"
	"github.com/caesium-cloud/crucible/internal/status"
	"github.com/caesium-cloud/crucible/internal/testutil"
	"github.com/caesium-cloud/crucible/pkg/db"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

type ClientTestSuite struct {
	suite.Suite
	db     *gorm.DB
	fx     *testutil.Fixture
	server *httptest.Server
	client *Client
}

func (s *ClientTestSuite) SetupTest() {
	s.db = testutil.OpenTestDB(s.T())
	db.Use(s.db)
	s.fx = testutil.NewFixture(s.T(), s.db)

	e := echo.New()
	bind.All(e.Group("/v1"))
	s.server = httptest.NewServer(e)
	s.client = New(s.server.URL+"/", nil)
}

func (s *ClientTestSuite) TearDownTest() {
	s.server.Close()
}

func (s *ClientTestSuite) TestRemoteBuild() {
	ctx := context.Background()
	zlib := s.fx.Unit(testutil.UnitSpec{Name: "zlib", Status: status.BuildPending})
	curl := s.fx.Unit(testutil.UnitSpec{Name: "curl"})
	s.fx.DependsOn(curl, zlib)

	candidates, err := s.client.Buildable(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(candidates, 1)
	s.Equal(zlib.ID, candidates[0].ID)

	res, err := s.client.Claim(ctx, "remote-1", zlib.ID, &curl.ID)
	s.Require().NoError(err)
	s.Equal(curl.ID, *res.ParentUnitID)

	_, err = s.client.Claim(ctx, "remote-2", zlib.ID, nil)
	s.True(errors.Is(err, ErrConflict))

	started, err := s.client.Start(ctx, res.ID)
	s.Require().NoError(err)
	s.Equal(status.StageBuild, started.Stage)

	s.Require().NoError(s.client.Heartbeat(ctx, res.ID))

	out := "/nix/store/0123456789abcdfghijklmnpqrsvwxyz-zlib-1.3"
	s.Require().NoError(s.client.Release(ctx, res.ID, reservation.BuildSucceeded(out)))

	reloaded := s.fx.Reload(zlib)
	s.Equal(status.BuildComplete.ID(), reloaded.StatusID)
	s.Equal(out, *reloaded.OutputPath)

	s.True(errors.Is(s.client.Heartbeat(ctx, res.ID), ErrNotFound))

	candidates, err = s.client.Buildable(ctx, 10, "cu*")
	s.Require().NoError(err)
	s.Require().Len(candidates, 1)
	s.Equal("curl", candidates[0].Name)
}

func (s *ClientTestSuite) TestRemotePush() {
	ctx := context.Background()
	out := "/nix/store/0123456789abcdfghijklmnpqrsvwxyz-hello-1.0"
	unit := s.fx.Unit(testutil.UnitSpec{Name: "hello", Status: status.BuildComplete, Output: out})

	job, err := s.client.ClaimPush(ctx, "s3://cache")
	s.Require().NoError(err)
	s.Nil(job)

	s.Require().NoError(s.db.Create(&models.CachePushJob{
		UnitID:      unit.ID,
		Status:      models.CachePushPending,
		OutputPath:  out,
		Destination: "s3://cache",
		ScheduledAt: unit.ScheduledAt,
	}).Error)

	job, err = s.client.ClaimPush(ctx, "s3://cache")
	s.Require().NoError(err)
	s.Require().NotNil(job)

	s.Require().NoError(s.client.ReportPush(ctx, job.ID, errors.New("connection reset")))
	s.True(errors.Is(s.client.ReportPush(ctx, job.ID, nil), ErrNotFound))
	s.Equal(status.BuildComplete.ID(), s.fx.Reload(unit).StatusID)
}

func (s *ClientTestSuite) TestAgentHeartbeat() {
	ctx := context.Background()
	s.Require().NoError(s.client.AgentHeartbeat(ctx, "web-01", ingest.AgentReport{SystemName: "web-01"}))
	testutil.AssertCount(s.T(), s.db, &models.AgentHeartbeat{}, 1)

	err := s.client.AgentHeartbeat(ctx, " ", ingest.AgentReport{})
	s.Error(err)
}

func TestClientTestSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}
