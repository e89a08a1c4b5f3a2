package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/harvest/internal/checksum"
)

// MarshalSnapshot encodes a snapshot as canonical JSON, the byte-stable
// form compared against golden files: compact output, object keys sorted,
// empty optional fields omitted.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return checksum.MarshalCanonical(s.canonical())
}

func (s *Snapshot) canonical() map[string]any {
	runs := make([]any, len(s.Runs))
	for i, run := range s.Runs {
		entry := map[string]any{"run": run.Run}
		if run.DryRun {
			entry["dry_run"] = true
		}
		if run.Err != "" {
			entry["error"] = run.Err
			runs[i] = entry
			continue
		}
		entry["outcome"] = run.Outcome
		entry["executed"] = run.Executed

		steps := make([]any, len(run.Steps))
		for j, st := range run.Steps {
			steps[j] = map[string]any{
				"step":   st.Step,
				"status": st.Status,
				"reason": st.Reason,
			}
		}
		entry["steps"] = steps
		runs[i] = entry
	}
	return map[string]any{
		"scenario": s.Scenario,
		"runs":     runs,
	}
}

// RunWithGolden executes the scenario and compares its snapshot against
// testdata/golden/<name>.golden. Regenerate golden files with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	snapshot, err := Run(scenario)
	if err != nil {
		return err
	}
	data, err := MarshalSnapshot(snapshot)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return nil
}
