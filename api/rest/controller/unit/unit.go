package unit

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/caesium-cloud/crucible/api/rest/service/unit"
	"github.com/labstack/echo/v4"
)

func List(c echo.Context) error {
	req, err := parseListRequest(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "bad request").SetInternal(err)
	}

	units, err := unit.New(c.Request().Context()).List(req)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}

	return c.JSON(http.StatusOK, units)
}

func parseListRequest(c echo.Context) (req *unit.ListRequest, err error) {
	req = &unit.ListRequest{
		Status: strings.TrimSpace(c.QueryParam("status")),
	}

	if commit := c.QueryParam("commit_id"); commit != "" {
		if req.CommitID, err = strconv.ParseInt(commit, 10, 64); err != nil {
			return nil, err
		}
	}

	if req.Limit, err = parseLimit(c); err != nil {
		return nil, err
	}

	return
}

func Get(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid unit id").SetInternal(err)
	}

	detail, err := unit.New(c.Request().Context()).Get(id)
	switch {
	case errors.Is(err, unit.ErrNotFound):
		return echo.ErrNotFound
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	default:
		return c.JSON(http.StatusOK, detail)
	}
}

// Buildable lists claimable units. Repeated or comma separated selector
// parameters restrict the result to matching unit names.
func Buildable(c echo.Context) error {
	limit, err := parseLimit(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "bad request").SetInternal(err)
	}

	var selectors []string
	for _, raw := range c.QueryParams()["selector"] {
		selectors = append(selectors, strings.Split(raw, ",")...)
	}

	candidates, err := unit.New(c.Request().Context()).Buildable(limit, selectors...)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}

	return c.JSON(http.StatusOK, candidates)
}

func Stuck(c echo.Context) error {
	limit, err := parseLimit(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "bad request").SetInternal(err)
	}

	units, err := unit.New(c.Request().Context()).Stuck(limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}

	return c.JSON(http.StatusOK, units)
}

func StuckCommits(c echo.Context) error {
	limit, err := parseLimit(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "bad request").SetInternal(err)
	}

	commits, err := unit.New(c.Request().Context()).StuckCommits(limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}

	return c.JSON(http.StatusOK, commits)
}

// Statuses returns the status catalog in display order.
func Statuses(c echo.Context) error {
	entries, err := unit.New(c.Request().Context()).Statuses()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}

	return c.JSON(http.StatusOK, entries)
}

func parseLimit(c echo.Context) (int, error) {
	limit := c.QueryParam("limit")
	if limit == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(limit, 10, 31)
	return int(n), err
}
