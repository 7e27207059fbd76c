// Package ingest is the write boundary used by evaluators: flakes, commits,
// build units and dependency edges are upserted idempotently, so replaying
// an evaluation never duplicates rows or resets progress.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caesium-cloud/crucible/internal/models"
	"github.com/caesium-cloud/crucible/internal/status"
	"github.com/caesium-cloud/crucible/pkg/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrSelfDependency is returned for an edge from a unit to itself.
	ErrSelfDependency = errors.New("unit cannot depend on itself")
	// ErrInvalidKind is returned for a unit kind other than system or package.
	ErrInvalidKind = errors.New("invalid unit kind")
)

// Ingestor persists evaluator output.
type Ingestor struct {
	db *gorm.DB
}

// NewIngestor creates an ingestor. The provided db connection must be non-nil.
func NewIngestor(conn *gorm.DB) *Ingestor {
	if conn == nil {
		panic("ingestor requires a database connection")
	}
	return &Ingestor{db: conn}
}

// UpsertFlake registers a flake by repository URL, refreshing its name.
func (i *Ingestor) UpsertFlake(ctx context.Context, name, repoURL string) (*models.Flake, error) {
	return upsertFlake(i.db.WithContext(ctx), name, repoURL)
}

func upsertFlake(tx *gorm.DB, name, repoURL string) (*models.Flake, error) {
	repoURL = strings.TrimSpace(repoURL)
	if repoURL == "" {
		return nil, fmt.Errorf("flake repo url is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = repoURL
	}

	flake := &models.Flake{Name: name, RepoURL: repoURL}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "repo_url"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"name": name, "updated_at": time.Now().UTC()}),
	}).Create(flake).Error; err != nil {
		return nil, err
	}

	out := &models.Flake{}
	if err := tx.First(out, "repo_url = ?", repoURL).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertCommit records an evaluated commit. Attempt counts of an existing
// commit are left alone.
func (i *Ingestor) UpsertCommit(ctx context.Context, flakeID int64, hash string, ts time.Time) (*models.Commit, error) {
	return upsertCommit(i.db.WithContext(ctx), flakeID, hash, ts)
}

func upsertCommit(tx *gorm.DB, flakeID int64, hash string, ts time.Time) (*models.Commit, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, fmt.Errorf("commit hash is required")
	}

	commit := &models.Commit{FlakeID: flakeID, Hash: hash, Timestamp: ts.UTC()}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "flake_id"}, {Name: "hash"}},
		DoNothing: true,
	}).Create(commit).Error; err != nil {
		return nil, err
	}

	out := &models.Commit{}
	if err := tx.First(out, "flake_id = ? AND hash = ?", flakeID, hash).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// UnitInput describes a unit produced by evaluation.
type UnitInput struct {
	CommitID  *int64
	Kind      models.UnitKind
	Name      string
	DraftPath string
	PName     string
	Version   string
}

// UpsertUnit inserts a unit in dry-run-pending, or refreshes the derivation
// metadata of an existing unit with the same identity. Status, attempts and
// outputs of an existing unit are never reset.
func (i *Ingestor) UpsertUnit(ctx context.Context, in UnitInput) (*models.BuildUnit, error) {
	return upsertUnit(i.db.WithContext(ctx), in)
}

func upsertUnit(tx *gorm.DB, in UnitInput) (*models.BuildUnit, error) {
	if !in.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, in.Kind)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("unit name is required")
	}

	now := time.Now().UTC()
	unit := &models.BuildUnit{
		CommitID:    in.CommitID,
		Kind:        in.Kind,
		Name:        name,
		PName:       strings.TrimSpace(in.PName),
		Version:     strings.TrimSpace(in.Version),
		StatusID:    status.DryRunPending.ID(),
		ScheduledAt: now,
	}
	if drv := strings.TrimSpace(in.DraftPath); drv != "" {
		unit.DraftPath = &drv
	}

	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "commit_key"}, {Name: "name"}, {Name: "kind"}},
		DoUpdates: clause.AssignmentColumns([]string{"draft_path", "pname", "version", "updated_at"}),
	}).Create(unit).Error; err != nil {
		return nil, err
	}

	out := &models.BuildUnit{}
	if err := tx.First(out, "commit_key = ? AND name = ? AND kind = ?",
		models.CommitKeyFor(in.CommitID), name, in.Kind).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// AddDependency records that unitID cannot build before dependsOnID has
// succeeded. Adding an existing edge is a no-op.
func (i *Ingestor) AddDependency(ctx context.Context, unitID, dependsOnID int64) error {
	return addDependency(i.db.WithContext(ctx), unitID, dependsOnID)
}

func addDependency(tx *gorm.DB, unitID, dependsOnID int64) error {
	if unitID == dependsOnID {
		return ErrSelfDependency
	}

	edge := &models.DependencyEdge{UnitID: unitID, DependsOnID: dependsOnID, CreatedAt: time.Now().UTC()}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(edge).Error
}

// RecordEvaluationFailure increments the attempt count of a commit whose
// evaluation failed and returns the updated commit.
func (i *Ingestor) RecordEvaluationFailure(ctx context.Context, commitID int64) (*models.Commit, error) {
	return recordEvaluationFailure(i.db.WithContext(ctx), commitID)
}

func recordEvaluationFailure(tx *gorm.DB, commitID int64) (*models.Commit, error) {
	result := tx.Model(&models.Commit{}).
		Where("id = ?", commitID).
		Updates(map[string]interface{}{
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}

	out := &models.Commit{}
	if err := tx.First(out, "id = ?", commitID).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// AgentReport is the informational state a deployed host reports.
type AgentReport struct {
	SystemName    string            `json:"system_name"`
	CurrentOutput string            `json:"current_output"`
	Labels        map[string]string `json:"labels,omitempty"`
	State         json.RawMessage   `json:"state,omitempty"`
}

// RecordAgentHeartbeat upserts the latest report from hostname.
func (i *Ingestor) RecordAgentHeartbeat(ctx context.Context, hostname string, report AgentReport) (*models.AgentHeartbeat, error) {
	hostname = strings.TrimSpace(hostname)
	if hostname == "" {
		return nil, fmt.Errorf("agent hostname is required")
	}

	labels := datatypes.JSONMap{}
	for k, v := range report.Labels {
		labels[k] = v
	}

	state := datatypes.JSON("{}")
	if len(report.State) > 0 {
		if !json.Valid(report.State) {
			return nil, fmt.Errorf("agent state must be valid json")
		}
		state = datatypes.JSON(report.State)
	}

	hb := &models.AgentHeartbeat{
		Hostname:      hostname,
		SystemName:    strings.TrimSpace(report.SystemName),
		CurrentOutput: strings.TrimSpace(report.CurrentOutput),
		Labels:        labels,
		State:         state,
		LastSeenAt:    time.Now().UTC(),
	}

	if err := i.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hostname"}},
		DoUpdates: clause.AssignmentColumns([]string{"system_name", "current_output", "labels", "state", "last_seen_at"}),
	}).Create(hb).Error; err != nil {
		return nil, err
	}

	log.Debug("agent heartbeat", "hostname", hostname, "system", hb.SystemName)
	return hb, nil
}
