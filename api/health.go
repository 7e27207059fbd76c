package api

import (
	"net/http"
	"time"

	"github.com/caesium-cloud/crucible/pkg/db"
	"github.com/caesium-cloud/crucible/pkg/log"
	"github.com/labstack/echo/v4"
)

var startedAt time.Time

func init() {
	startedAt = time.Now()
}

// HealthResponse defines the data the Health
// REST endpoint returns.
type HealthResponse struct {
	Status   Status        `json:"status"`
	Database Status        `json:"database"`
	Uptime   time.Duration `json:"uptime"`
}

// Health reports whether crucible can reach its store, which is the only
// component workers depend on. The response also includes the uptime.
func Health(c echo.Context) error {
	resp := HealthResponse{
		Status:   Healthy,
		Database: Healthy,
		Uptime:   time.Since(startedAt),
	}

	code := http.StatusOK
	if err := ping(c); err != nil {
		log.Warn("health check failed", "error", err)
		resp.Status = Degraded
		resp.Database = Unreachable
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, resp)
}

func ping(c echo.Context) error {
	sqlDB, err := db.Connection().DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(c.Request().Context())
}

// Status enumerates the health statuses of crucible.
type Status string

const (
	// Healthy implies crucible is having no major issues.
	Healthy Status = "healthy"
	// Degraded means the API is up but cannot serve workers.
	Degraded Status = "degraded"
	// Unreachable marks a dependency that did not answer.
	Unreachable Status = "unreachable"
)
