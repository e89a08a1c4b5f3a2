package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/roach88/harvest/internal/runner"
	"github.com/roach88/harvest/internal/step"
)

// ScriptedRunner plays a scenario's behaviors table. A step with a Fail
// behavior reports a StepFailure; every other step succeeds after writing
// its declared output files. Safe for concurrent use.
type ScriptedRunner struct {
	behaviors map[step.ID]Behavior

	mu    sync.Mutex
	calls int
}

// NewScriptedRunner builds a runner over the parsed behaviors table.
func NewScriptedRunner(behaviors map[step.ID]Behavior) *ScriptedRunner {
	return &ScriptedRunner{behaviors: behaviors}
}

// Run implements runner.Runner.
func (r *ScriptedRunner) Run(_ context.Context, id step.ID, rc runner.RunContext) error {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	b := r.behaviors[id]
	if b.Fail {
		return &runner.StepFailure{Step: id, ExitCode: 1, Output: "scripted failure"}
	}

	if err := os.MkdirAll(rc.OutputDir, 0o755); err != nil {
		return fmt.Errorf("step %s: create output dir: %w", id, err)
	}
	for name, content := range b.Writes {
		dst := filepath.Join(rc.OutputDir, name)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("step %s: write %s: %w", id, name, err)
		}
		if err := os.WriteFile(dst, []byte(content), 0o644); err != nil {
			return fmt.Errorf("step %s: write %s: %w", id, name, err)
		}
	}
	return nil
}

// Calls returns how many steps have been dispatched to the runner so far.
func (r *ScriptedRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
