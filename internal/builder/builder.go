// Package builder drives the external nix tooling that evaluates, builds
// and pushes build units. crucible only schedules; every artifact is
// produced by these commands.
package builder

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/caesium-cloud/crucible/internal/models"
	"github.com/caesium-cloud/crucible/pkg/log"
)

const storePrefix = "/nix/store/"

// Builder runs the two stages of a build unit.
type Builder interface {
	// DryRun checks the derivation can be realised without building it.
	DryRun(ctx context.Context, unit *models.BuildUnit) error
	// Build realises the derivation and returns its output store path.
	Build(ctx context.Context, unit *models.BuildUnit) (string, error)
}

// Pusher copies a built output to a binary cache.
type Pusher interface {
	Push(ctx context.Context, outputPath, destination string) error
}

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands as child processes. Stderr is folded into the
// returned error.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%s %s: %w: %s",
			name, strings.Join(args, " "), err, strings.TrimSpace(tail(stderr.String(), 2048)))
	}
	return stdout.Bytes(), nil
}

// Nix implements Builder and Pusher with the nix CLI.
type Nix struct {
	binary string
	run    Runner
}

// NewNix creates a nix driver. An empty binary means "nix" on PATH and a nil
// runner means ExecRunner.
func NewNix(binary string, run Runner) *Nix {
	if strings.TrimSpace(binary) == "" {
		binary = "nix"
	}
	if run == nil {
		run = ExecRunner
	}
	return &Nix{binary: binary, run: run}
}

// DryRun implements Builder.
func (n *Nix) DryRun(ctx context.Context, unit *models.BuildUnit) error {
	installable, err := installable(unit)
	if err != nil {
		return err
	}

	start := time.Now()
	if _, err := n.run(ctx, n.binary, "build", "--dry-run", "--no-link", installable); err != nil {
		return err
	}

	log.Debug("dry run finished", "unit", unit.Name, "duration", time.Since(start))
	return nil
}

// Build implements Builder.
func (n *Nix) Build(ctx context.Context, unit *models.BuildUnit) (string, error) {
	installable, err := installable(unit)
	if err != nil {
		return "", err
	}

	start := time.Now()
	out, err := n.run(ctx, n.binary, "build", "--no-link", "--print-out-paths", installable)
	if err != nil {
		return "", err
	}

	path := parseStorePath(string(out))
	if path == "" {
		return "", fmt.Errorf("nix build of %s printed no store path", unit.Name)
	}

	log.Info("build finished", "unit", unit.Name, "output", path, "duration", time.Since(start))
	return path, nil
}

// Push implements Pusher.
func (n *Nix) Push(ctx context.Context, outputPath, destination string) error {
	if !IsValidStorePath(outputPath) {
		return fmt.Errorf("invalid store path: %s", outputPath)
	}
	if strings.TrimSpace(destination) == "" {
		return fmt.Errorf("cache destination is required")
	}

	start := time.Now()
	if _, err := n.run(ctx, n.binary, "copy", "--to", destination, outputPath); err != nil {
		return err
	}

	log.Info("pushed closure", "output", outputPath, "destination", destination, "duration", time.Since(start))
	return nil
}

// installable returns the `<drv>^*` installable for unit.
func installable(unit *models.BuildUnit) (string, error) {
	if unit == nil || unit.DraftPath == nil || strings.TrimSpace(*unit.DraftPath) == "" {
		return "", fmt.Errorf("unit has no derivation path")
	}
	drv := strings.TrimSpace(*unit.DraftPath)
	if !strings.HasPrefix(drv, storePrefix) || !strings.HasSuffix(drv, ".drv") {
		return "", fmt.Errorf("invalid derivation path: %s", drv)
	}
	return drv + "^*", nil
}

// parseStorePath returns the first store path printed by nix build.
func parseStorePath(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if IsValidStorePath(line) {
			return line
		}
	}
	return ""
}

// IsValidStorePath reports whether path looks like /nix/store/<32 char hash>-<name>.
func IsValidStorePath(path string) bool {
	if !strings.HasPrefix(path, storePrefix) {
		return false
	}
	remainder := strings.TrimPrefix(path, storePrefix)
	if len(remainder) < 34 {
		return false
	}
	return remainder[32] == '-' && !strings.Contains(remainder, "/")
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
