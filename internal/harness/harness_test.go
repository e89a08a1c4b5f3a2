package harness

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/harvest/internal/dag"
	"github.com/roach88/harvest/internal/runner"
	"github.com/roach88/harvest/internal/step"
)

func TestMain(m *testing.M) {
	// The executor logs every step transition; keep test output readable.
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	os.Exit(m.Run())
}

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			require.Equal(t, name, scenario.Name)
			require.NoError(t, RunWithGolden(t, scenario))
		})
	}
}

func TestScriptedRunner(t *testing.T) {
	ws := t.TempDir()
	ok := step.MustParse("meadow/fao/2024-01-01/crops")
	bad := step.MustParse("garden/fao/2024-01-01/crops")
	quiet := step.MustParse("snapshot/fao/2024-01-01/crops")

	fake := NewScriptedRunner(map[step.ID]Behavior{
		ok:  {Writes: map[string]string{"crops.csv": "a,b\n"}},
		bad: {Fail: true},
	})

	rc := func(id step.ID) runner.RunContext {
		return runner.RunContext{Workspace: ws, OutputDir: id.OutputDir(ws)}
	}

	require.NoError(t, fake.Run(context.Background(), ok, rc(ok)))
	raw, err := os.ReadFile(filepath.Join(ok.OutputDir(ws), "crops.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(raw))

	err = fake.Run(context.Background(), bad, rc(bad))
	require.Error(t, err)
	assert.True(t, runner.IsStepFailure(err))

	// Steps without a behavior succeed and still get an output directory.
	require.NoError(t, fake.Run(context.Background(), quiet, rc(quiet)))
	assert.DirExists(t, quiet.OutputDir(ws))

	assert.Equal(t, 3, fake.Calls())
}

func TestMarshalSnapshot(t *testing.T) {
	snapshot := &Snapshot{
		Scenario: "sample",
		Runs: []RunSnapshot{
			{
				Run: "run-1", Outcome: "success", Executed: 1,
				Steps: []StepSnapshot{
					{Step: "garden/fao/2024-01-01/crops", Status: "ran-succeeded", Reason: "dirty"},
				},
			},
			{Run: "run-2", Err: "boom"},
			{Run: "run-3", DryRun: true, Outcome: "success"},
		},
	}

	data, err := MarshalSnapshot(snapshot)
	require.NoError(t, err)

	want := `{"runs":[` +
		`{"executed":1,"outcome":"success","run":"run-1","steps":[` +
		`{"reason":"dirty","status":"ran-succeeded","step":"garden/fao/2024-01-01/crops"}]},` +
		`{"error":"boom","run":"run-2"},` +
		`{"dry_run":true,"executed":0,"outcome":"success","run":"run-3","steps":[]}` +
		`],"scenario":"sample"}`
	assert.Equal(t, want, string(data))
}

func TestRun_BrokenDefinitionIsFatal(t *testing.T) {
	scenario := &Scenario{
		Name:        "broken",
		Description: "definition references an undeclared step",
		DAG: "steps:\n" +
			"  garden/fao/2024-01-01/crops:\n" +
			"    - meadow/fao/2024-01-01/missing\n",
		Runs: []RunRequest{{}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.True(t, dag.IsUnknownStep(err))
}
