package ingest

import (
	"context"
	"fmt"

	"github.com/caesium-cloud/crucible/internal/models"
	"github.com/caesium-cloud/crucible/pkg/log"
	"github.com/caesium-cloud/crucible/pkg/manifest"
	"gorm.io/gorm"
)

// Result summarises an applied manifest.
type Result struct {
	Flake  *models.Flake
	Commit *models.Commit
	Units  map[string]*models.BuildUnit
	Edges  int
}

// Apply persists a whole evaluation manifest in one transaction. A manifest
// whose commit failed evaluation only bumps the commit's attempt count.
func (i *Ingestor) Apply(ctx context.Context, m *manifest.Manifest) (*Result, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	res := &Result{Units: make(map[string]*models.BuildUnit, len(m.Units))}
	err := i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		flake, err := upsertFlake(tx, m.Flake.Name, m.Flake.RepoURL)
		if err != nil {
			return fmt.Errorf("flake: %w", err)
		}
		res.Flake = flake

		var commitID *int64
		if m.Commit != nil {
			commit, err := upsertCommit(tx, flake.ID, m.Commit.Hash, m.Commit.Timestamp)
			if err != nil {
				return fmt.Errorf("commit %s: %w", m.Commit.Hash, err)
			}
			if m.Commit.Failed {
				if commit, err = recordEvaluationFailure(tx, commit.ID); err != nil {
					return fmt.Errorf("commit %s: %w", m.Commit.Hash, err)
				}
			}
			res.Commit = commit
			commitID = &commit.ID
		}

		for _, u := range m.Units {
			unit, err := upsertUnit(tx, UnitInput{
				CommitID:  commitID,
				Kind:      models.UnitKind(u.Kind),
				Name:      u.Name,
				DraftPath: u.DraftPath,
				PName:     u.PName,
				Version:   u.Version,
			})
			if err != nil {
				return fmt.Errorf("unit %s: %w", u.Name, err)
			}
			res.Units[u.Name] = unit
		}

		for _, u := range m.Units {
			for _, dep := range u.DependsOn {
				if err := addDependency(tx, res.Units[u.Name].ID, res.Units[dep].ID); err != nil {
					return fmt.Errorf("edge %s -> %s: %w", u.Name, dep, err)
				}
				res.Edges++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("applied evaluation manifest",
		"flake", res.Flake.RepoURL,
		"units", len(res.Units),
		"edges", res.Edges,
	)
	return res, nil
}
