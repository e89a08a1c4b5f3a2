package runner

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/harvest/internal/step"
)

// StubRunner handles external-channel steps: the transformation happens
// outside the engine, so running one only ensures the output directory
// exists for the checksum record.
type StubRunner struct{}

// Run implements Runner.
func (r *StubRunner) Run(_ context.Context, id step.ID, rc RunContext) error {
	if err := os.MkdirAll(rc.OutputDir, 0o755); err != nil {
		return fmt.Errorf("step %s: create output dir: %w", id, err)
	}
	return nil
}
