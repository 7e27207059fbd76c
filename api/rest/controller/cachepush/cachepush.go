package cachepush

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/caesium-cloud/crucible/api/rest/service/cachepush"
	"github.com/labstack/echo/v4"
)

type ClaimRequest struct {
	Destinations []string `json:"destinations"`
}

// Claim hands the oldest pending push to a remote push worker, or answers
// 204 when nothing is pending.
func Claim(c echo.Context) error {
	var req ClaimRequest

	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "bad request").SetInternal(err)
	}

	job, err := cachepush.New(c.Request().Context()).Claim(req.Destinations...)
	switch {
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	case job == nil:
		return c.NoContent(http.StatusNoContent)
	default:
		return c.JSON(http.StatusOK, job)
	}
}

// Put reports the result of an in-progress push.
func Put(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid job id").SetInternal(err)
	}

	var req cachepush.ReportRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "bad request").SetInternal(err)
	}

	err = cachepush.New(c.Request().Context()).Report(id, &req)
	switch {
	case errors.Is(err, cachepush.ErrInvalidResult):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	case cachepush.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, "cache push job not in progress").SetInternal(err)
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	default:
		return c.NoContent(http.StatusNoContent)
	}
}

// List returns every push job of one unit, newest first.
func List(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid unit id").SetInternal(err)
	}

	jobs, err := cachepush.New(c.Request().Context()).List(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
	return c.JSON(http.StatusOK, jobs)
}
