package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/harvest/internal/step"
)

// Scenario is one end-to-end engine fixture: a workspace, a dependency
// document, scripted step behaviors and a sequence of runs played against
// the same workspace.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario demonstrates.
	Description string `yaml:"description"`

	// Workspace lists files written into the temporary workspace before
	// the first run. Paths are relative to the workspace root. Extra
	// definition documents referenced by include go here too.
	Workspace []File `yaml:"workspace,omitempty"`

	// DAG is the definition document written to dag/main.yml.
	DAG string `yaml:"dag"`

	// Behaviors scripts the fake runner per step URI. A step without an
	// entry succeeds and writes nothing.
	Behaviors map[string]Behavior `yaml:"behaviors,omitempty"`

	// Runs are executed in order. Workspace state carries over from one
	// run to the next, checksum records included.
	Runs []RunRequest `yaml:"runs"`
}

// File is one workspace fixture file.
type File struct {
	Path    string `yaml:"path"`
	Content string `yaml:"content"`

	// Exec marks the file executable, matching how real step sources are
	// checked in.
	Exec bool `yaml:"exec,omitempty"`
}

// Behavior scripts the fake runner for one step.
type Behavior struct {
	// Fail makes the step report a step failure instead of completing.
	Fail bool `yaml:"fail,omitempty"`

	// Writes maps file names, relative to the step's output directory,
	// to contents written on success.
	Writes map[string]string `yaml:"writes,omitempty"`
}

// RunRequest is one engine invocation within a scenario. The zero value
// selects every step with default options, like running the CLI with no
// arguments.
type RunRequest struct {
	// Edits are applied to the workspace before this run.
	Edits []File `yaml:"edits,omitempty"`

	// Patterns select steps; empty selects all. Patterns resolve the way
	// the CLI resolves them: exact match under Only, otherwise globs with
	// dependency expansion.
	Patterns []string `yaml:"patterns,omitempty"`

	// Force schedules matched steps even when clean.
	Force bool `yaml:"force,omitempty"`

	// Only requires exact URI matches and disables dependency expansion.
	Only bool `yaml:"only,omitempty"`

	// Downstream additionally selects every transitive dependent.
	Downstream bool `yaml:"downstream,omitempty"`

	// Exclude removes matching steps after expansion.
	Exclude []string `yaml:"exclude,omitempty"`

	// DryRun previews the plan without executing or persisting anything.
	DryRun bool `yaml:"dry_run,omitempty"`

	// Workers bounds step concurrency; zero means one.
	Workers int `yaml:"workers,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected, so a typo fails loudly instead of silently dropping part of
// the fixture.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and that every path stays inside
// the workspace it will be written to.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.DAG == "" {
		return fmt.Errorf("dag document is required")
	}
	if len(s.Runs) == 0 {
		return fmt.Errorf("runs list is required and must be non-empty")
	}

	for i, f := range s.Workspace {
		if err := validateFile(f); err != nil {
			return fmt.Errorf("workspace[%d]: %w", i, err)
		}
	}

	for uri, b := range s.Behaviors {
		if _, err := step.Parse(uri); err != nil {
			return fmt.Errorf("behavior %q: %w", uri, err)
		}
		for name := range b.Writes {
			if name == "" || !filepath.IsLocal(name) {
				return fmt.Errorf("behavior %q: writes path %q escapes the output directory", uri, name)
			}
		}
	}

	for i, run := range s.Runs {
		if run.Workers < 0 {
			return fmt.Errorf("runs[%d]: workers must be non-negative", i)
		}
		for j, f := range run.Edits {
			if err := validateFile(f); err != nil {
				return fmt.Errorf("runs[%d].edits[%d]: %w", i, j, err)
			}
		}
	}
	return nil
}

func validateFile(f File) error {
	if f.Path == "" {
		return fmt.Errorf("path is required")
	}
	if !filepath.IsLocal(f.Path) {
		return fmt.Errorf("path %q escapes the workspace", f.Path)
	}
	return nil
}
