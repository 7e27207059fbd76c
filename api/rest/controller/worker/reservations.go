package worker

import (
	"net/http"
	"strings"

	"github.com/caesium-cloud/crucible/api/rest/service/reservation"
	"github.com/labstack/echo/v4"
)

// Reservations returns the live leases held by one worker.
func Reservations(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "worker id is required")
	}

	views, err := reservation.New(c.Request().Context()).List(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
	return c.JSON(http.StatusOK, views)
}
