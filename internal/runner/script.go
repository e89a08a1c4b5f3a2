package runner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/roach88/harvest/internal/step"
)

// outputTailBytes bounds how much subprocess output a failure error carries.
const outputTailBytes = 4096

// ScriptRunner executes a data step's source as a subprocess.
//
// The program is the step's source file itself, or <source>/run when the
// source is a directory. It runs with the workspace as working directory
// and inherits the parent environment plus the step contract variables:
//
//	HARVEST_STEP        the step URI
//	HARVEST_WORKSPACE   absolute workspace root
//	HARVEST_OUTPUT_DIR  directory the step must write into
//	HARVEST_DEPS        output directories of direct dependencies,
//	                    sorted by dependency URI, list-separator joined
//
// A non-zero exit is a StepFailure carrying the exit code and the tail of
// the combined output. Context cancellation kills the whole process group,
// which is how step timeouts are enforced.
type ScriptRunner struct{}

// NewScriptRunner returns a ScriptRunner.
func NewScriptRunner() *ScriptRunner {
	return &ScriptRunner{}
}

// Run implements Runner.
func (r *ScriptRunner) Run(ctx context.Context, id step.ID, rc RunContext) error {
	program := id.SourcePath(rc.Workspace)
	if info, err := os.Stat(program); err == nil && info.IsDir() {
		program = program + string(os.PathSeparator) + "run"
	}

	if err := os.MkdirAll(rc.OutputDir, 0o755); err != nil {
		return fmt.Errorf("step %s: create output dir: %w", id, err)
	}

	cmd := exec.CommandContext(ctx, program)
	cmd.Dir = rc.Workspace
	cmd.Env = append(os.Environ(),
		"HARVEST_STEP="+id.String(),
		"HARVEST_WORKSPACE="+rc.Workspace,
		"HARVEST_OUTPUT_DIR="+rc.OutputDir,
		"HARVEST_DEPS="+strings.Join(rc.DependencyDirs, string(os.PathListSeparator)),
	)
	// Own process group, so cancellation can kill the step and every
	// child it spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Start(); err != nil {
		return &StepFailure{Step: id, Err: fmt.Errorf("starting %s: %w", program, err)}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-done
		return &StepFailure{
			Step:   id,
			Output: outputTail(output.Bytes()),
			Err:    ctx.Err(),
		}
	case waitErr = <-done:
	}

	if waitErr != nil {
		exitCode := 0
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return &StepFailure{
			Step:     id,
			ExitCode: exitCode,
			Output:   outputTail(output.Bytes()),
			Err:      waitErr,
		}
	}

	slog.Debug("step process finished", "step", id.String(), "output_bytes", output.Len())
	return nil
}

func outputTail(b []byte) string {
	if len(b) > outputTailBytes {
		b = b[len(b)-outputTailBytes:]
	}
	return strings.TrimRight(string(b), "\n")
}
