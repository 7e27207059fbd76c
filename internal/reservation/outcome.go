package reservation

import (
	"fmt"
	"strings"

	"github.com/caesium-cloud/crucible/internal/status"
)

// Result is how a stage attempt ended.
type Result string

const (
	// Succeeded means the stage finished and its output is authoritative.
	Succeeded Result = "succeeded"
	// Failed means the stage ran and failed; it counts against the retry
	// ceiling.
	Failed Result = "failed"
	// Abandoned means the worker gave the unit back without a verdict, for
	// example on shutdown. The attempt is not counted.
	Abandoned Result = "abandoned"
)

// Outcome is what a worker reports when it releases a reservation.
type Outcome struct {
	Stage      status.Stage `json:"stage"`
	Result     Result       `json:"result"`
	OutputPath string       `json:"output_path,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// Validate checks the outcome is internally consistent.
func (o Outcome) Validate() error {
	switch o.Stage {
	case status.StageDryRun, status.StageBuild:
	default:
		return fmt.Errorf("unknown stage %q", o.Stage)
	}

	switch o.Result {
	case Succeeded:
		if o.Stage == status.StageBuild && strings.TrimSpace(o.OutputPath) == "" {
			return fmt.Errorf("successful build requires an output path")
		}
	case Failed, Abandoned:
	default:
		return fmt.Errorf("unknown result %q", o.Result)
	}

	return nil
}

// DryRunSucceeded reports a successful dry run.
func DryRunSucceeded() Outcome {
	return Outcome{Stage: status.StageDryRun, Result: Succeeded}
}

// BuildSucceeded reports a successful build producing outputPath.
func BuildSucceeded(outputPath string) Outcome {
	return Outcome{Stage: status.StageBuild, Result: Succeeded, OutputPath: outputPath}
}

// StageFailed reports a failed attempt of stage.
func StageFailed(stage status.Stage, err error) Outcome {
	o := Outcome{Stage: stage, Result: Failed}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

// StageAbandoned reports that stage was given up without a verdict.
func StageAbandoned(stage status.Stage) Outcome {
	return Outcome{Stage: stage, Result: Abandoned}
}
