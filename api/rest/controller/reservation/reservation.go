package reservation

import (
	"net/http"
	"strconv"

	"github.com/caesium-cloud/crucible/api/rest/service/reservation"
	outcome "github.com/caesium-cloud/crucible/internal/reservation"
	"github.com/labstack/echo/v4"
)

// Post claims a unit for a remote worker. A lost race answers 409 and the
// worker moves on to its next candidate.
func Post(c echo.Context) error {
	var req reservation.ClaimRequest

	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "bad request").SetInternal(err)
	}

	res, err := reservation.New(c.Request().Context()).Claim(&req)
	switch {
	case reservation.IsConflict(err):
		return echo.NewHTTPError(http.StatusConflict, "unit is not claimable").SetInternal(err)
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	default:
		return c.JSON(http.StatusCreated, res)
	}
}

// Start moves the reserved unit into the in-progress status of the stage it
// is about to run.
func Start(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	resp, err := reservation.New(c.Request().Context()).Start(id)
	switch {
	case reservation.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, "reservation not found").SetInternal(err)
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	default:
		return c.JSON(http.StatusOK, resp)
	}
}

// Heartbeat renews a lease. 404 tells the worker its lease was swept and it
// must abandon the build.
func Heartbeat(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	err = reservation.New(c.Request().Context()).Heartbeat(id)
	switch {
	case reservation.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, "reservation not found").SetInternal(err)
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	default:
		return c.NoContent(http.StatusNoContent)
	}
}

// Delete releases a lease and records the stage outcome carried in the
// request body.
func Delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	var o outcome.Outcome
	if err := c.Bind(&o); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "bad request").SetInternal(err)
	}
	if err := o.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}

	err = reservation.New(c.Request().Context()).Release(id, o)
	switch {
	case reservation.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, "reservation not found").SetInternal(err)
	case reservation.IsStageMismatch(err):
		return echo.NewHTTPError(http.StatusConflict, err.Error()).SetInternal(err)
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	default:
		return c.NoContent(http.StatusNoContent)
	}
}

func List(c echo.Context) error {
	views, err := reservation.New(c.Request().Context()).List(c.QueryParam("worker_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}

	return c.JSON(http.StatusOK, views)
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid reservation id").SetInternal(err)
	}
	return id, nil
}
