package schema

import (
	"github.com/caesium-cloud/crucible/api/rest/service/agent"
	"github.com/caesium-cloud/crucible/api/rest/service/reservation"
	"github.com/caesium-cloud/crucible/api/rest/service/unit"
	"github.com/caesium-cloud/crucible/internal/models"
	"github.com/caesium-cloud/crucible/internal/readiness"
	"github.com/caesium-cloud/crucible/internal/status"
	"github.com/graphql-go/graphql"
)

// New instantiates a fresh GraphQL schema over crucible's read models.
// Every field is a query; there is no write path.
func New() graphql.SchemaConfig {
	return graphql.SchemaConfig{
		Query: graphql.NewObject(
			graphql.ObjectConfig{
				Name:   "Query",
				Fields: fields(),
			},
		),
	}
}

var statusType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Status",
	Fields: graphql.Fields{
		"id":           &graphql.Field{Type: graphql.Int},
		"name":         &graphql.Field{Type: graphql.String},
		"isTerminal":   &graphql.Field{Type: graphql.Boolean},
		"isSuccess":    &graphql.Field{Type: graphql.Boolean},
		"displayOrder": &graphql.Field{Type: graphql.Int},
	},
})

var unitType = graphql.NewObject(graphql.ObjectConfig{
	Name: "BuildUnit",
	Fields: graphql.Fields{
		"id":              &graphql.Field{Type: graphql.Int},
		"commitId":        &graphql.Field{Type: graphql.Int},
		"kind":            &graphql.Field{Type: graphql.String},
		"name":            &graphql.Field{Type: graphql.String},
		"pname":           &graphql.Field{Type: graphql.String},
		"version":         &graphql.Field{Type: graphql.String},
		"draftPath":       &graphql.Field{Type: graphql.String},
		"outputPath":      &graphql.Field{Type: graphql.String},
		"status":          &graphql.Field{Type: graphql.String},
		"attemptCount":    &graphql.Field{Type: graphql.Int},
		"scheduledAt":     &graphql.Field{Type: graphql.DateTime},
		"startedAt":       &graphql.Field{Type: graphql.DateTime},
		"completedAt":     &graphql.Field{Type: graphql.DateTime},
		"error":           &graphql.Field{Type: graphql.String},
		"dependencyCount": &graphql.Field{Type: graphql.Int},
	},
})

var commitType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Commit",
	Fields: graphql.Fields{
		"id":           &graphql.Field{Type: graphql.Int},
		"flakeId":      &graphql.Field{Type: graphql.Int},
		"hash":         &graphql.Field{Type: graphql.String},
		"timestamp":    &graphql.Field{Type: graphql.DateTime},
		"attemptCount": &graphql.Field{Type: graphql.Int},
	},
})

var reservationType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Reservation",
	Fields: graphql.Fields{
		"id":                  &graphql.Field{Type: graphql.Int},
		"workerId":            &graphql.Field{Type: graphql.String},
		"unitId":              &graphql.Field{Type: graphql.Int},
		"unitName":            &graphql.Field{Type: graphql.String},
		"unitStatus":          &graphql.Field{Type: graphql.String},
		"parentUnitId":        &graphql.Field{Type: graphql.Int},
		"reservedAt":          &graphql.Field{Type: graphql.DateTime},
		"heartbeatAt":         &graphql.Field{Type: graphql.DateTime},
		"heartbeatAgeSeconds": &graphql.Field{Type: graphql.Float},
	},
})

var agentType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Agent",
	Fields: graphql.Fields{
		"hostname":      &graphql.Field{Type: graphql.String},
		"systemName":    &graphql.Field{Type: graphql.String},
		"currentOutput": &graphql.Field{Type: graphql.String},
		"lastSeenAt":    &graphql.Field{Type: graphql.DateTime},
	},
})

func fields() graphql.Fields {
	limitArg := &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0}

	return graphql.Fields{
		"statuses": &graphql.Field{
			Type: graphql.NewList(statusType),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				entries, err := unit.New(p.Context).Statuses()
				if err != nil {
					return nil, err
				}
				out := make([]map[string]interface{}, 0, len(entries))
				for _, e := range entries {
					out = append(out, map[string]interface{}{
						"id":           e.ID,
						"name":         e.Name,
						"isTerminal":   e.IsTerminal,
						"isSuccess":    e.IsSuccess,
						"displayOrder": e.DisplayOrder,
					})
				}
				return out, nil
			},
		},
		"units": &graphql.Field{
			Type: graphql.NewList(unitType),
			Args: graphql.FieldConfigArgument{
				"status":   &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
				"commitId": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
				"limit":    limitArg,
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				units, err := unit.New(p.Context).List(&unit.ListRequest{
					Status:   p.Args["status"].(string),
					CommitID: int64(p.Args["commitId"].(int)),
					Limit:    p.Args["limit"].(int),
				})
				if err != nil {
					return nil, err
				}
				return unitList(units), nil
			},
		},
		"unit": &graphql.Field{
			Type: unitType,
			Args: graphql.FieldConfigArgument{
				"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				detail, err := unit.New(p.Context).Get(int64(p.Args["id"].(int)))
				if err != nil {
					return nil, err
				}
				return unitFields(detail.BuildUnit), nil
			},
		},
		"buildable": &graphql.Field{
			Type: graphql.NewList(unitType),
			Args: graphql.FieldConfigArgument{
				"limit":     limitArg,
				"selectors": &graphql.ArgumentConfig{Type: graphql.NewList(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				var selectors []string
				if raw, ok := p.Args["selectors"].([]interface{}); ok {
					for _, s := range raw {
						if str, ok := s.(string); ok {
							selectors = append(selectors, str)
						}
					}
				}
				candidates, err := unit.New(p.Context).Buildable(p.Args["limit"].(int), selectors...)
				if err != nil {
					return nil, err
				}
				return candidateList(candidates), nil
			},
		},
		"stuckUnits": &graphql.Field{
			Type: graphql.NewList(unitType),
			Args: graphql.FieldConfigArgument{"limit": limitArg},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				units, err := unit.New(p.Context).Stuck(p.Args["limit"].(int))
				if err != nil {
					return nil, err
				}
				return unitList(units), nil
			},
		},
		"stuckCommits": &graphql.Field{
			Type: graphql.NewList(commitType),
			Args: graphql.FieldConfigArgument{"limit": limitArg},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				commits, err := unit.New(p.Context).StuckCommits(p.Args["limit"].(int))
				if err != nil {
					return nil, err
				}
				out := make([]map[string]interface{}, 0, len(commits))
				for _, c := range commits {
					out = append(out, map[string]interface{}{
						"id":           c.ID,
						"flakeId":      c.FlakeID,
						"hash":         c.Hash,
						"timestamp":    c.Timestamp,
						"attemptCount": c.AttemptCount,
					})
				}
				return out, nil
			},
		},
		"reservations": &graphql.Field{
			Type: graphql.NewList(reservationType),
			Args: graphql.FieldConfigArgument{
				"workerId": &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				views, err := reservation.New(p.Context).List(p.Args["workerId"].(string))
				if err != nil {
					return nil, err
				}
				out := make([]map[string]interface{}, 0, len(views))
				for _, v := range views {
					row := map[string]interface{}{
						"id":                  v.ID,
						"workerId":            v.WorkerID,
						"unitId":              v.UnitID,
						"unitName":            v.UnitName,
						"unitStatus":          v.UnitStatus,
						"reservedAt":          v.ReservedAt,
						"heartbeatAt":         v.HeartbeatAt,
						"heartbeatAgeSeconds": v.HeartbeatAge,
					}
					if v.ParentUnitID != nil {
						row["parentUnitId"] = *v.ParentUnitID
					}
					out = append(out, row)
				}
				return out, nil
			},
		},
		"agents": &graphql.Field{
			Type: graphql.NewList(agentType),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				heartbeats, err := agent.New(p.Context).List()
				if err != nil {
					return nil, err
				}
				out := make([]map[string]interface{}, 0, len(heartbeats))
				for _, hb := range heartbeats {
					out = append(out, map[string]interface{}{
						"hostname":      hb.Hostname,
						"systemName":    hb.SystemName,
						"currentOutput": hb.CurrentOutput,
						"lastSeenAt":    hb.LastSeenAt,
					})
				}
				return out, nil
			},
		},
	}
}

func unitList(units models.BuildUnits) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(units))
	for _, u := range units {
		out = append(out, unitFields(u))
	}
	return out
}

func candidateList(candidates []*readiness.Candidate) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(candidates))
	for _, c := range candidates {
		row := unitFields(&c.BuildUnit)
		row["dependencyCount"] = c.DependencyCount
		out = append(out, row)
	}
	return out
}

func unitFields(u *models.BuildUnit) map[string]interface{} {
	row := map[string]interface{}{
		"id":           u.ID,
		"kind":         string(u.Kind),
		"name":         u.Name,
		"pname":        u.PName,
		"version":      u.Version,
		"status":       status.Status(u.StatusID).String(),
		"attemptCount": u.AttemptCount,
		"scheduledAt":  u.ScheduledAt,
		"error":        u.Error,
	}
	if u.CommitID != nil {
		row["commitId"] = *u.CommitID
	}
	if u.DraftPath != nil {
		row["draftPath"] = *u.DraftPath
	}
	if u.OutputPath != nil {
		row["outputPath"] = *u.OutputPath
	}
	if u.StartedAt != nil {
		row["startedAt"] = *u.StartedAt
	}
	if u.CompletedAt != nil {
		row["completedAt"] = *u.CompletedAt
	}
	return row
}
