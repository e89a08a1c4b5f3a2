// Package runner invokes the opaque transformation behind each step.
//
// The engine never knows what a step does; it hands the runner a step
// identifier plus the resolved output and dependency locations, and the
// runner reports success or failure. Data-channel steps execute the step's
// source as a subprocess under the conventional contract (see
// ScriptRunner); external-channel stubs run nothing at all.
//
// Tests inject their own Runner; nothing in the engine assumes the
// subprocess convention.
package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/harvest/internal/step"
)

// RunContext carries the resolved filesystem surface a step is allowed to
// touch: its own output directory and the output directories of its direct
// dependencies, sorted by dependency URI.
type RunContext struct {
	Workspace      string
	OutputDir      string
	DependencyDirs []string
}

// Runner executes one step to completion. Implementations must be safe for
// concurrent use; the executor calls Run from multiple workers.
type Runner interface {
	Run(ctx context.Context, id step.ID, rc RunContext) error
}

// StepFailure reports a step whose run-function completed unsuccessfully.
type StepFailure struct {
	Step     step.ID
	ExitCode int
	Output   string // tail of combined stdout/stderr
	Err      error
}

func (e *StepFailure) Error() string {
	msg := fmt.Sprintf("step %s failed", e.Step)
	if e.ExitCode != 0 {
		msg = fmt.Sprintf("%s (exit code %d)", msg, e.ExitCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Output != "" {
		msg = fmt.Sprintf("%s\n%s", msg, e.Output)
	}
	return msg
}

func (e *StepFailure) Unwrap() error { return e.Err }

// IsStepFailure reports whether err wraps a StepFailure.
func IsStepFailure(err error) bool {
	var sf *StepFailure
	return errors.As(err, &sf)
}

// Conventional dispatches by step kind: stubs to the no-op runner, data
// steps to the script runner.
type Conventional struct {
	script *ScriptRunner
	stub   *StubRunner
}

// NewConventional builds the default channel-convention runner.
func NewConventional() *Conventional {
	return &Conventional{
		script: NewScriptRunner(),
		stub:   &StubRunner{},
	}
}

// Run implements Runner.
func (c *Conventional) Run(ctx context.Context, id step.ID, rc RunContext) error {
	if id.Kind() == step.KindStub {
		return c.stub.Run(ctx, id, rc)
	}
	return c.script.Run(ctx, id, rc)
}
