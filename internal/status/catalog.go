package status

import (
	"context"
	"fmt"
	"sort"

	"github.com/caesium-cloud/crucible/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Catalog is the status_catalog table as loaded at startup. It is read-only
// after Load returns.
type Catalog struct {
	entries map[int]models.StatusEntry
}

// Entries returns the catalog rows that correspond to the compiled statuses.
func Entries() []models.StatusEntry {
	out := make([]models.StatusEntry, 0, len(definitions))
	for _, s := range All() {
		d := definitions[s]
		out = append(out, models.StatusEntry{
			ID:           s.ID(),
			Name:         d.name,
			IsTerminal:   d.terminal,
			IsSuccess:    d.success,
			DisplayOrder: d.order,
		})
	}
	return out
}

// Seed writes the catalog rows. Existing rows are overwritten so a migration
// that changes terminal or success flags takes effect.
func Seed(ctx context.Context, db *gorm.DB) error {
	entries := Entries()
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "is_terminal", "is_success", "display_order"}),
		}).
		Create(&entries).Error
}

// Load reads the catalog table and verifies it matches the compiled status
// set. A mismatch means the database and binary disagree about the pipeline
// and is returned as an error.
func Load(ctx context.Context, db *gorm.DB) (*Catalog, error) {
	var rows []models.StatusEntry
	if err := db.WithContext(ctx).Order("display_order ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load status catalog: %w", err)
	}

	c := &Catalog{entries: make(map[int]models.StatusEntry, len(rows))}
	for _, row := range rows {
		c.entries[row.ID] = row
	}

	for _, want := range Entries() {
		got, ok := c.entries[want.ID]
		if !ok {
			return nil, fmt.Errorf("status catalog is missing %q (id %d)", want.Name, want.ID)
		}
		if got != want {
			return nil, fmt.Errorf("status catalog entry %d drifted: have %+v, want %+v", want.ID, got, want)
		}
	}

	if len(c.entries) != len(definitions) {
		return nil, fmt.Errorf("status catalog has %d entries, binary knows %d", len(c.entries), len(definitions))
	}

	return c, nil
}

// IsTerminal reports whether the status with the given id is terminal.
// Unknown ids are never terminal.
func (c *Catalog) IsTerminal(id int) bool {
	return c.entries[id].IsTerminal
}

// IsSuccess reports whether the status with the given id is a success.
func (c *Catalog) IsSuccess(id int) bool {
	return c.entries[id].IsSuccess
}

// DisplayOrder returns the display position of id, or -1 when unknown.
func (c *Catalog) DisplayOrder(id int) int {
	e, ok := c.entries[id]
	if !ok {
		return -1
	}
	return e.DisplayOrder
}

// Name returns the catalog name of id.
func (c *Catalog) Name(id int) string {
	return c.entries[id].Name
}

// Ordered returns the catalog rows sorted by display order.
func (c *Catalog) Ordered() []models.StatusEntry {
	out := make([]models.StatusEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayOrder < out[j].DisplayOrder })
	return out
}
