package gql

import (
	"github.com/caesium-cloud/crucible/api/gql/schema"
	"github.com/caesium-cloud/crucible/pkg/env"
	"github.com/caesium-cloud/crucible/pkg/log"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/handler"
	"github.com/labstack/echo/v4"
)

// Handler serves the read-only GraphQL projections through echo. The
// request context reaches every resolver, so a dropped client cancels its
// queries.
func Handler() echo.HandlerFunc {
	s, err := graphql.NewSchema(schema.New())
	if err != nil {
		log.Panic("failed to build graphql schema", "error", err)
	}

	h := handler.New(&handler.Config{
		Schema:   &s,
		Pretty:   true,
		GraphiQL: env.Variables().GraphiQL,
	})

	return func(c echo.Context) error {
		h.ContextHandler(c.Request().Context(), c.Response(), c.Request())
		return nil
	}
}
