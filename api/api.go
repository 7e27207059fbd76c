package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/caesium-cloud/crucible/api/gql"
	"github.com/caesium-cloud/crucible/api/rest/bind"
	"github.com/caesium-cloud/crucible/pkg/env"
	"github.com/caesium-cloud/crucible/pkg/log"
	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
)

const shutdownTimeout = 10 * time.Second

// New builds crucible's HTTP API.
func New() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// health
	e.GET("/health", Health)

	// metrics
	prometheus.NewPrometheus("crucible", nil).Use(e)

	// REST
	bind.All(e.Group("/v1"))

	// GraphQL
	h := gql.Handler()
	e.GET("/gql", h)
	e.POST("/gql", h)

	return e
}

// Start launches crucible's API and shuts it down when ctx is done.
func Start(ctx context.Context) error {
	e := New()
	addr := fmt.Sprintf(":%v", env.Variables().Port)

	errs := make(chan error, 1)
	go func() {
		log.Info("starting api", "address", addr)
		errs <- e.Start(addr)
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info("stopping api")
	return e.Shutdown(shutdownCtx)
}
