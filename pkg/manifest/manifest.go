// Package manifest is the YAML document an evaluator hands to crucible: one
// flake, optionally one evaluated commit, and the build units and dependency
// edges derived from it.
package manifest

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	APIVersionV1   = "v1"
	KindEvaluation = "Evaluation"

	UnitSystem  = "system"
	UnitPackage = "package"
)

// Manifest models the root evaluation document.
type Manifest struct {
	APIVersion string  `yaml:"apiVersion" json:"apiVersion"`
	Kind       string  `yaml:"kind" json:"kind"`
	Flake      Flake   `yaml:"flake" json:"flake"`
	Commit     *Commit `yaml:"commit,omitempty" json:"commit,omitempty"`
	Units      []Unit  `yaml:"units,omitempty" json:"units,omitempty"`
}

// Flake identifies the source repository.
type Flake struct {
	Name    string `yaml:"name" json:"name"`
	RepoURL string `yaml:"repoURL" json:"repoURL"`
}

// Commit is the evaluated revision. A commit whose evaluation failed carries
// Failed and no units.
type Commit struct {
	Hash      string    `yaml:"hash" json:"hash"`
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
	Failed    bool      `yaml:"failed,omitempty" json:"failed,omitempty"`
	Error     string    `yaml:"error,omitempty" json:"error,omitempty"`
}

// Unit is one build unit. DependsOn names other units of the same manifest.
type Unit struct {
	Name      string   `yaml:"name" json:"name"`
	Kind      string   `yaml:"kind,omitempty" json:"kind,omitempty"`
	DraftPath string   `yaml:"draftPath,omitempty" json:"draftPath,omitempty"`
	PName     string   `yaml:"pname,omitempty" json:"pname,omitempty"`
	Version   string   `yaml:"version,omitempty" json:"version,omitempty"`
	DependsOn []string `yaml:"dependsOn,omitempty" json:"dependsOn,omitempty"`
}

// UnmarshalYAML defaults the unit kind to package.
func (u *Unit) UnmarshalYAML(value *yaml.Node) error {
	type rawUnit Unit
	ru := rawUnit{Kind: UnitPackage}
	if err := value.Decode(&ru); err != nil {
		return err
	}
	*u = Unit(ru)
	if u.Kind == "" {
		u.Kind = UnitPackage
	}
	return nil
}

// Parse parses YAML bytes into a Manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate performs semantic validation on the manifest. Unit names and
// dependency references are trimmed in place first, so names that differ
// only in surrounding whitespace collide.
func (m *Manifest) Validate() error {
	if m.APIVersion != APIVersionV1 {
		return fmt.Errorf("unsupported apiVersion: %s", m.APIVersion)
	}
	if m.Kind != KindEvaluation {
		return fmt.Errorf("unsupported kind: %s", m.Kind)
	}
	if strings.TrimSpace(m.Flake.RepoURL) == "" {
		return fmt.Errorf("flake.repoURL is required")
	}

	if m.Commit != nil {
		if strings.TrimSpace(m.Commit.Hash) == "" {
			return fmt.Errorf("commit.hash is required")
		}
		if m.Commit.Timestamp.IsZero() {
			return fmt.Errorf("commit.timestamp is required")
		}
		if m.Commit.Failed && len(m.Units) > 0 {
			return fmt.Errorf("a failed commit cannot carry units")
		}
	}

	return validateUnits(m.Units)
}

func validateUnits(units []Unit) error {
	names := make(map[string]int, len(units))
	for i := range units {
		unit := &units[i]
		unit.Name = strings.TrimSpace(unit.Name)
		for j := range unit.DependsOn {
			unit.DependsOn[j] = strings.TrimSpace(unit.DependsOn[j])
		}
		if unit.Name == "" {
			return fmt.Errorf("units[%d].name is required", i)
		}
		if _, exists := names[unit.Name]; exists {
			return fmt.Errorf("duplicate unit name %q", unit.Name)
		}
		names[unit.Name] = i

		switch unit.Kind {
		case UnitSystem, UnitPackage:
		default:
			return fmt.Errorf("units[%d].kind must be one of [%s,%s]", i, UnitSystem, UnitPackage)
		}
	}

	for i, unit := range units {
		for _, dep := range unit.DependsOn {
			if dep == unit.Name {
				return fmt.Errorf("units[%d] depends on itself", i)
			}
			if _, exists := names[dep]; !exists {
				return fmt.Errorf("units[%d].dependsOn references unknown unit %q", i, dep)
			}
		}
	}
	return nil
}
