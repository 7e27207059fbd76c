package bind

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/caesium-cloud/crucible/internal/models"
	"github.com/caesium-cloud/crucible/internal/status"
	"github.com/caesium-cloud/crucible/internal/testutil"
	"github.com/caesium-cloud/crucible/pkg/db"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

type RoutesTestSuite struct {
	suite.Suite
	db *gorm.DB
	fx *testutil.Fixture
	e  *echo.Echo
}

func (s *RoutesTestSuite) SetupTest() {
	s.db = testutil.OpenTestDB(s.T())
	db.Use(s.db)
	s.fx = testutil.NewFixture(s.T(), s.db)

	s.e = echo.New()
	All(s.e.Group("/v1"))
}

func (s *RoutesTestSuite) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *RoutesTestSuite) TestWorkerLifecycle() {
	unit := s.fx.Unit(testutil.UnitSpec{Name: "hello"})

	rec := s.do(http.MethodGet, "/v1/buildable?limit=5", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var buildable []map[string]interface{}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &buildable))
	s.Require().Len(buildable, 1)
	s.Equal("hello", buildable[0]["name"])

	claim := fmt.Sprintf(`{"worker_id":"remote-1","unit_id":%d}`, unit.ID)
	rec = s.do(http.MethodPost, "/v1/reservations", claim)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var res models.Reservation
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &res))
	s.Equal(unit.ID, res.UnitID)

	rec = s.do(http.MethodPost, "/v1/reservations", fmt.Sprintf(`{"worker_id":"remote-2","unit_id":%d}`, unit.ID))
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, fmt.Sprintf("/v1/reservations/%d/start", res.ID), "")
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.Contains(rec.Body.String(), `"stage":"dry-run"`)

	rec = s.do(http.MethodPut, fmt.Sprintf("/v1/reservations/%d/heartbeat", res.ID), "")
	s.Equal(http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/v1/workers/remote-1/reservations", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"unit_name":"hello"`)

	rec = s.do(http.MethodDelete, fmt.Sprintf("/v1/reservations/%d", res.ID), `{"stage":"dry-run","result":"succeeded"}`)
	s.Require().Equal(http.StatusNoContent, rec.Code, rec.Body.String())
	s.Equal(status.DryRunComplete.ID(), s.fx.Reload(unit).StatusID)

	rec = s.do(http.MethodPut, fmt.Sprintf("/v1/reservations/%d/heartbeat", res.ID), "")
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *RoutesTestSuite) TestReleaseValidatesOutcome() {
	unit := s.fx.Unit(testutil.UnitSpec{Name: "hello", Status: status.BuildPending})

	rec := s.do(http.MethodPost, "/v1/reservations", fmt.Sprintf(`{"worker_id":"remote-1","unit_id":%d}`, unit.ID))
	s.Require().Equal(http.StatusCreated, rec.Code)
	var res models.Reservation
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &res))

	rec = s.do(http.MethodDelete, fmt.Sprintf("/v1/reservations/%d", res.ID), `{"stage":"build","result":"succeeded"}`)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodDelete, "/v1/reservations/nope", `{"stage":"build","result":"failed"}`)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodDelete, fmt.Sprintf("/v1/reservations/%d", res.ID), `{"stage":"dry-run","result":"failed","error":"eval"}`)
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.do(http.MethodDelete, fmt.Sprintf("/v1/reservations/%d", res.ID), `{"stage":"build","result":"failed","error":"exit 1"}`)
	s.Require().Equal(http.StatusNoContent, rec.Code)

	reloaded := s.fx.Reload(unit)
	s.Equal(status.BuildPending.ID(), reloaded.StatusID)
	s.Equal(1, reloaded.AttemptCount)
	s.Equal("exit 1", reloaded.Error)
}

func (s *RoutesTestSuite) TestCachePushRoutes() {
	out := "/nix/store/0123456789abcdfghijklmnpqrsvwxyz-hello-1.0"
	unit := s.fx.Unit(testutil.UnitSpec{Name: "hello", Status: status.BuildComplete, Output: out})

	rec := s.do(http.MethodPost, "/v1/cache-push/claim", `{}`)
	s.Equal(http.StatusNoContent, rec.Code)

	s.Require().NoError(s.db.Create(&models.CachePushJob{
		UnitID:      unit.ID,
		Status:      models.CachePushPending,
		OutputPath:  out,
		Destination: "s3://cache",
		ScheduledAt: unit.ScheduledAt,
	}).Error)

	rec = s.do(http.MethodPost, "/v1/cache-push/claim", `{"destinations":["s3://cache"]}`)
	s.Require().Equal(http.StatusOK, rec.Code)
	var job models.CachePushJob
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &job))

	rec = s.do(http.MethodPut, fmt.Sprintf("/v1/cache-push/%d", job.ID), `{"result":"exploded"}`)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPut, fmt.Sprintf("/v1/cache-push/%d", job.ID), `{"result":"completed"}`)
	s.Require().Equal(http.StatusNoContent, rec.Code)
	s.Equal(status.Complete.ID(), s.fx.Reload(unit).StatusID)

	rec = s.do(http.MethodPut, fmt.Sprintf("/v1/cache-push/%d", job.ID), `{"result":"completed"}`)
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, fmt.Sprintf("/v1/units/%d/cache-push", unit.ID), "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"status":"completed"`)
}

func (s *RoutesTestSuite) TestReadModels() {
	s.fx.Unit(testutil.UnitSpec{Name: "flaky", Status: status.DryRunFailed, Attempts: 5})

	rec := s.do(http.MethodGet, "/v1/units/stuck", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"name":"flaky"`)

	rec = s.do(http.MethodGet, "/v1/units?status=dry-run-failed", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"name":"flaky"`)

	rec = s.do(http.MethodGet, "/v1/units?limit=-1", "")
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/v1/units/999999", "")
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/v1/statuses", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"name":"build-complete"`)

	rec = s.do(http.MethodGet, "/v1/commits/stuck", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.JSONEq(`[]`, rec.Body.String())
}

func (s *RoutesTestSuite) TestAgentRoutes() {
	rec := s.do(http.MethodPost, "/v1/agents/web-01/heartbeat", `{"system_name":"web-01","state":{"booted":true}}`)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/v1/agents", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"hostname":"web-01"`)
}

func TestRoutesTestSuite(t *testing.T) {
	suite.Run(t, new(RoutesTestSuite))
}
