// Package harness runs whole-pipeline scenarios against the real planner
// and executor.
//
// A scenario describes a workspace fixture, a dependency document,
// scripted behaviors for a fake runner and a sequence of runs. The harness
// plays the runs against one temporary workspace and condenses each into a
// deterministic snapshot: step statuses and reasons sorted by URI, the run
// outcome and how many steps actually executed. Snapshots carry no
// wall-clock times, absolute paths or checksums, so they compare byte for
// byte against golden files on any machine.
//
// Selection and planning failures are part of a snapshot; a definition
// document that fails to load or build is a scenario bug and fails the
// whole run instead.
package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/harvest/internal/catalog"
	"github.com/roach88/harvest/internal/checksum"
	"github.com/roach88/harvest/internal/dag"
	"github.com/roach88/harvest/internal/engine"
	"github.com/roach88/harvest/internal/step"
)

// Snapshot is the deterministic record of one scenario execution.
type Snapshot struct {
	Scenario string
	Runs     []RunSnapshot
}

// RunSnapshot records one engine invocation.
type RunSnapshot struct {
	// Run is the fixed run token, "run-1" for the first request and so on.
	Run    string
	DryRun bool

	// Err is the selection or planning failure that stopped the run
	// before execution. When set, the remaining fields stay zero.
	Err string

	Outcome string

	// Executed counts fake-runner invocations during this run. Dry runs
	// and clean skips never reach the runner.
	Executed int

	Steps []StepSnapshot
}

// StepSnapshot is the terminal state of one plan step.
type StepSnapshot struct {
	Step   string
	Status string
	Reason string
}

// Run plays every run request in the scenario against one temporary
// workspace and returns the snapshot. The workspace is removed afterwards.
func Run(scenario *Scenario) (*Snapshot, error) {
	workspace, err := os.MkdirTemp("", "harvest-harness-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(workspace)

	if err := writeWorkspaceFile(workspace, File{Path: catalog.DefaultDAGPath, Content: scenario.DAG}); err != nil {
		return nil, fmt.Errorf("write dag document: %w", err)
	}
	for i, f := range scenario.Workspace {
		if err := writeWorkspaceFile(workspace, f); err != nil {
			return nil, fmt.Errorf("workspace[%d]: %w", i, err)
		}
	}

	behaviors := make(map[step.ID]Behavior, len(scenario.Behaviors))
	for uri, b := range scenario.Behaviors {
		id, err := step.Parse(uri)
		if err != nil {
			return nil, fmt.Errorf("behavior %q: %w", uri, err)
		}
		behaviors[id] = b
	}
	fake := NewScriptedRunner(behaviors)

	snapshot := &Snapshot{Scenario: scenario.Name}
	for i, req := range scenario.Runs {
		for j, f := range req.Edits {
			if err := writeWorkspaceFile(workspace, f); err != nil {
				return nil, fmt.Errorf("runs[%d].edits[%d]: %w", i, j, err)
			}
		}
		entry, err := runOnce(workspace, fmt.Sprintf("run-%d", i+1), req, fake)
		if err != nil {
			return nil, fmt.Errorf("runs[%d]: %w", i, err)
		}
		snapshot.Runs = append(snapshot.Runs, *entry)
	}
	return snapshot, nil
}

// runOnce resolves and executes a single run request. The definition is
// reloaded and a fresh checksum store built every time, the way each CLI
// invocation starts cold; only the workspace persists between runs.
func runOnce(workspace, token string, req RunRequest, fake *ScriptedRunner) (*RunSnapshot, error) {
	entry := &RunSnapshot{Run: token, DryRun: req.DryRun}

	def, err := dag.LoadDefinition(filepath.Join(workspace, catalog.DefaultDAGPath))
	if err != nil {
		return nil, err
	}
	g, err := dag.Build(def)
	if err != nil {
		return nil, err
	}

	sel, err := dag.Select(g, req.Patterns, dag.SelectOptions{
		Exact:               req.Only,
		IncludeDependencies: !req.Only,
		IncludeDependents:   req.Downstream,
		ExcludePatterns:     req.Exclude,
		Strict:              true,
	})
	if err != nil {
		entry.Err = err.Error()
		return entry, nil
	}

	sums := checksum.NewStore(workspace, g)
	plan, err := engine.BuildPlan(g, sums, sel, engine.PlanOptions{Force: req.Force})
	if err != nil {
		entry.Err = err.Error()
		return entry, nil
	}

	exec := engine.New(workspace, g, sums, fake,
		engine.WithWorkers(req.Workers),
		engine.WithTokenGenerator(engine.NewFixedGenerator(token)),
	)

	before := fake.Calls()
	var report *engine.Report
	if req.DryRun {
		report = exec.DryRun(plan)
	} else {
		report, err = exec.Execute(context.Background(), plan)
		if err != nil {
			return nil, err
		}
	}

	entry.Outcome = string(report.Outcome)
	entry.Executed = fake.Calls() - before
	for _, res := range report.Steps {
		entry.Steps = append(entry.Steps, StepSnapshot{
			Step:   res.Step.String(),
			Status: res.Status.String(),
			Reason: string(res.Reason),
		})
	}
	return entry, nil
}

func writeWorkspaceFile(workspace string, f File) error {
	dst := filepath.Join(workspace, f.Path)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	mode := os.FileMode(0o644)
	if f.Exec {
		mode = 0o755
	}
	if err := os.WriteFile(dst, []byte(f.Content), mode); err != nil {
		return err
	}
	if f.Exec {
		// WriteFile keeps the existing mode when the file already exists.
		return os.Chmod(dst, mode)
	}
	return nil
}
