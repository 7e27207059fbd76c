package agent

import (
	"net/http"

	"github.com/caesium-cloud/crucible/api/rest/service/agent"
	"github.com/caesium-cloud/crucible/internal/ingest"
	"github.com/labstack/echo/v4"
)

func Heartbeat(c echo.Context) error {
	var report ingest.AgentReport

	if err := c.Bind(&report); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "bad request").SetInternal(err)
	}

	hb, err := agent.New(c.Request().Context()).Heartbeat(c.Param("hostname"), report)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}

	return c.JSON(http.StatusOK, hb)
}

func List(c echo.Context) error {
	heartbeats, err := agent.New(c.Request().Context()).List()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}

	return c.JSON(http.StatusOK, heartbeats)
}
