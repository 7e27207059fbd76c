package bind

import (
	"github.com/caesium-cloud/crucible/api/rest/controller/agent"
	"github.com/caesium-cloud/crucible/api/rest/controller/cachepush"
	"github.com/caesium-cloud/crucible/api/rest/controller/reservation"
	"github.com/caesium-cloud/crucible/api/rest/controller/unit"
	"github.com/caesium-cloud/crucible/api/rest/controller/worker"
	"github.com/labstack/echo/v4"
)

func All(g *echo.Group) {
	Workers(g)
	ReadModels(g)
	Agents(g.Group("/agents"))
}

// Workers binds the endpoints remote build and push workers drive.
func Workers(g *echo.Group) {
	// build units
	{
		g.GET("/buildable", unit.Buildable)
		g.POST("/reservations", reservation.Post)
		g.POST("/reservations/:id/start", reservation.Start)
		g.PUT("/reservations/:id/heartbeat", reservation.Heartbeat)
		g.DELETE("/reservations/:id", reservation.Delete)
	}

	// cache pushes
	{
		g.POST("/cache-push/claim", cachepush.Claim)
		g.PUT("/cache-push/:id", cachepush.Put)
	}
}

// ReadModels binds the read-only projections used by dashboards.
func ReadModels(g *echo.Group) {
	g.GET("/statuses", unit.Statuses)
	g.GET("/units", unit.List)
	g.GET("/units/stuck", unit.Stuck)
	g.GET("/units/:id", unit.Get)
	g.GET("/units/:id/cache-push", cachepush.List)
	g.GET("/commits/stuck", unit.StuckCommits)
	g.GET("/reservations", reservation.List)
	g.GET("/workers/:id/reservations", worker.Reservations)
}

func Agents(g *echo.Group) {
	g.GET("", agent.List)
	g.POST("/:hostname/heartbeat", agent.Heartbeat)
}
