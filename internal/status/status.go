// Package status is the closed set of pipeline states a build unit moves
// through, and the translation between that set and the status_catalog
// lookup table.
package status

import (
	"fmt"
	"strings"
)

// Status is a pipeline state. The numeric value is the stable catalog id
// used for persistence.
type Status int

const (
	Pending          Status = 1
	Queued           Status = 2
	DryRunPending    Status = 3
	DryRunInProgress Status = 4
	DryRunComplete   Status = 5
	DryRunFailed     Status = 6
	BuildPending     Status = 7
	BuildInProgress  Status = 8
	BuildComplete    Status = 9
	BuildFailed      Status = 10
	Complete         Status = 11
)

type definition struct {
	name     string
	terminal bool
	success  bool
	order    int
}

var definitions = map[Status]definition{
	Pending:          {name: "pending", order: 1},
	Queued:           {name: "queued", order: 2},
	DryRunPending:    {name: "dry-run-pending", order: 3},
	DryRunInProgress: {name: "dry-run-in-progress", order: 4},
	DryRunComplete:   {name: "dry-run-complete", success: true, order: 5},
	DryRunFailed:     {name: "dry-run-failed", terminal: true, order: 6},
	BuildPending:     {name: "build-pending", order: 7},
	BuildInProgress:  {name: "build-in-progress", order: 8},
	BuildComplete:    {name: "build-complete", terminal: true, success: true, order: 9},
	BuildFailed:      {name: "build-failed", terminal: true, order: 10},
	Complete:         {name: "complete", terminal: true, success: true, order: 11},
}

// All returns every status in display order.
func All() []Status {
	return []Status{
		Pending,
		Queued,
		DryRunPending,
		DryRunInProgress,
		DryRunComplete,
		DryRunFailed,
		BuildPending,
		BuildInProgress,
		BuildComplete,
		BuildFailed,
		Complete,
	}
}

// ID returns the catalog id.
func (s Status) ID() int { return int(s) }

// Valid reports whether s is part of the catalog.
func (s Status) Valid() bool {
	_, ok := definitions[s]
	return ok
}

func (s Status) String() string {
	if d, ok := definitions[s]; ok {
		return d.name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// IsTerminal reports whether no automatic transition leaves s except through
// the retry policy.
func (s Status) IsTerminal() bool { return definitions[s].terminal }

// IsSuccess reports whether s records a successful outcome.
func (s Status) IsSuccess() bool { return definitions[s].success }

// DisplayOrder is the position of s in the canonical progression.
func (s Status) DisplayOrder() int { return definitions[s].order }

// SatisfiesDependency reports whether a unit in status s unblocks its
// dependents.
func (s Status) SatisfiesDependency() bool {
	return s.IsTerminal() && s.IsSuccess()
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown status id %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Parse resolves a catalog name. "cache-pushed" is accepted as an alias of
// complete.
func Parse(name string) (Status, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "cache-pushed" {
		return Complete, nil
	}
	for s, d := range definitions {
		if d.name == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

// FromID converts a persisted catalog id.
func FromID(id int) (Status, error) {
	s := Status(id)
	if !s.Valid() {
		return 0, fmt.Errorf("unknown status id %d", id)
	}
	return s, nil
}

// Stage is the unit of work a claimant performs.
type Stage string

const (
	StageDryRun Stage = "dry-run"
	StageBuild  Stage = "build"
)

// ReadyToBuild lists the statuses from which a unit may be claimed. The
// in-progress statuses are included because a unit only holds one while
// reserved; once the staleness sweep drops an abandoned reservation the unit
// must become claimable again without its status being touched.
func ReadyToBuild() []Status {
	return []Status{DryRunPending, DryRunInProgress, DryRunComplete, BuildPending, BuildInProgress}
}

// DependencySatisfied lists the statuses that unblock dependents.
func DependencySatisfied() []Status {
	out := make([]Status, 0, 2)
	for _, s := range All() {
		if s.SatisfiesDependency() {
			out = append(out, s)
		}
	}
	return out
}

// StageFor returns the stage a claimant of a unit in status s runs, or false
// when s is not claimable.
func StageFor(s Status) (Stage, bool) {
	switch s {
	case DryRunPending, DryRunInProgress:
		return StageDryRun, true
	case DryRunComplete, BuildPending, BuildInProgress:
		return StageBuild, true
	default:
		return "", false
	}
}

// InProgress is the status a unit holds while stage runs.
func (st Stage) InProgress() Status {
	if st == StageDryRun {
		return DryRunInProgress
	}
	return BuildInProgress
}

// Retry is the status a failed unit is reset to for another attempt.
func (st Stage) Retry() Status {
	if st == StageDryRun {
		return DryRunPending
	}
	return BuildPending
}

// Failed is the terminal failure status of stage.
func (st Stage) Failed() Status {
	if st == StageDryRun {
		return DryRunFailed
	}
	return BuildFailed
}

// Succeeded is the status written when stage completes.
func (st Stage) Succeeded() Status {
	if st == StageDryRun {
		return DryRunComplete
	}
	return BuildComplete
}

// IDs converts statuses to catalog ids for use in queries.
func IDs(statuses ...Status) []int {
	out := make([]int, len(statuses))
	for i, s := range statuses {
		out[i] = s.ID()
	}
	return out
}
