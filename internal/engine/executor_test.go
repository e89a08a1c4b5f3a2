package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/harvest/internal/checksum"
	"github.com/roach88/harvest/internal/dag"
	"github.com/roach88/harvest/internal/step"
)

func TestExecute_ChainRunsInDependencyOrder(t *testing.T) {
	g := buildGraph(t, chainDoc)
	ws := t.TempDir()
	sums := newFakeSums(g)
	run := newFakeRunner()

	report := mustExecute(t, ws, g, sums, run)

	require.Equal(t, OutcomeSuccess, report.Outcome)
	require.Equal(t, 0, report.ExitCode())
	require.Equal(t, 3, report.Count(StatusSucceeded))

	require.Equal(t, []step.ID{
		step.MustParse("snapshot/fao/2024-01-01/crops.csv"),
		step.MustParse("meadow/fao/2024-01-01/crops"),
		step.MustParse("garden/fao/2024-01-01/crops"),
	}, run.callOrder())
	require.Equal(t, run.callOrder(), sums.persisted(), "one record per executed step")
}

func TestExecute_ChainOrderHoldsAtAnyWorkerCount(t *testing.T) {
	g := buildGraph(t, chainDoc)
	ws := t.TempDir()
	sums := newFakeSums(g)
	run := newFakeRunner()

	report := mustExecute(t, ws, g, sums, run, WithWorkers(8))

	require.Equal(t, OutcomeSuccess, report.Outcome)
	require.Equal(t, []step.ID{
		step.MustParse("snapshot/fao/2024-01-01/crops.csv"),
		step.MustParse("meadow/fao/2024-01-01/crops"),
		step.MustParse("garden/fao/2024-01-01/crops"),
	}, run.callOrder(), "readiness gates ancestors regardless of pool size")
}

func TestExecute_StepSeesDependencyOutputDirs(t *testing.T) {
	g := buildGraph(t, diamondDoc)
	ws := t.TempDir()
	sums := newFakeSums(g)
	run := newFakeRunner()

	mustExecute(t, ws, g, sums, run)

	merged := step.MustParse("garden/fao/2024-01-01/merged")
	rc := run.runContext(merged)
	require.Equal(t, ws, rc.Workspace)
	require.Equal(t, merged.OutputDir(ws), rc.OutputDir)
	require.Equal(t, []string{
		step.MustParse("meadow/fao/2024-01-01/left").OutputDir(ws),
		step.MustParse("meadow/fao/2024-01-01/right").OutputDir(ws),
	}, rc.DependencyDirs)
}

func TestExecute_DiamondFailureSparesIndependentBranch(t *testing.T) {
	g := buildGraph(t, diamondDoc)
	ws := t.TempDir()
	sums := newFakeSums(g)
	run := newFakeRunner()
	left := step.MustParse("meadow/fao/2024-01-01/left")
	run.fail[left] = errors.New("transform crashed")

	report := mustExecute(t, ws, g, sums, run)

	require.Equal(t, OutcomePartialFailure, report.Outcome)
	require.Equal(t, 1, report.ExitCode())

	require.Equal(t, StatusSucceeded,
		resultByStep(t, report, "snapshot/fao/2024-01-01/base.csv").Status)
	require.Equal(t, StatusFailed,
		resultByStep(t, report, "meadow/fao/2024-01-01/left").Status)
	require.Equal(t, StatusSucceeded,
		resultByStep(t, report, "meadow/fao/2024-01-01/right").Status,
		"independent branch keeps running")
	require.Equal(t, StatusSkippedFailure,
		resultByStep(t, report, "garden/fao/2024-01-01/merged").Status)

	failed := report.Failed()
	require.Len(t, failed, 1)
	require.ErrorContains(t, failed[0].Err, "transform crashed")

	for _, id := range sums.persisted() {
		require.NotEqual(t, left, id, "failed step must not persist a record")
		require.NotEqual(t, "garden/fao/2024-01-01/merged", id.String())
	}
}

func TestExecute_FailurePropagatesTransitively(t *testing.T) {
	g := buildGraph(t, chainDoc)
	ws := t.TempDir()
	sums := newFakeSums(g)
	run := newFakeRunner()
	run.fail[step.MustParse("snapshot/fao/2024-01-01/crops.csv")] = errors.New("fetch failed")

	report := mustExecute(t, ws, g, sums, run)

	require.Equal(t, StatusFailed,
		resultByStep(t, report, "snapshot/fao/2024-01-01/crops.csv").Status)
	require.Equal(t, StatusSkippedFailure,
		resultByStep(t, report, "meadow/fao/2024-01-01/crops").Status)
	require.Equal(t, StatusSkippedFailure,
		resultByStep(t, report, "garden/fao/2024-01-01/crops").Status,
		"skip reaches transitive dependents, not just direct ones")
	require.Equal(t, 1, run.callCount())
}

func TestExecute_CleanStepsDoNotRun(t *testing.T) {
	g := buildGraph(t, chainDoc)
	ws := t.TempDir()
	sums := newFakeSums(g)
	sums.markClean()
	garden := step.MustParse("garden/fao/2024-01-01/crops")
	sums.bump(garden)

	run := newFakeRunner()
	report := mustExecute(t, ws, g, sums, run)

	require.Equal(t, OutcomeSuccess, report.Outcome)
	require.Equal(t, []step.ID{garden}, run.callOrder(), "only the dirty step executes")
	require.Equal(t, StatusSkippedClean,
		resultByStep(t, report, "snapshot/fao/2024-01-01/crops.csv").Status)
	require.Equal(t, StatusSkippedClean,
		resultByStep(t, report, "meadow/fao/2024-01-01/crops").Status)
	require.Equal(t, StatusSucceeded, resultByStep(t, report, garden.String()).Status)
}

func TestExecute_WorkerPoolBoundsConcurrency(t *testing.T) {
	g := buildGraph(t, `steps:
  snapshot/fao/2024-01-01/a.csv: []
  snapshot/fao/2024-01-01/b.csv: []
  snapshot/fao/2024-01-01/c.csv: []
  snapshot/fao/2024-01-01/d.csv: []
`)
	ws := t.TempDir()
	sums := newFakeSums(g)
	run := newFakeRunner()
	run.started = make(chan step.ID, 4)

	gate := make(chan struct{})
	for _, id := range g.Steps() {
		run.gates[id] = gate
	}

	plan, err := BuildPlan(g, sums, selectAll(t, g), PlanOptions{})
	require.NoError(t, err)
	ex := New(ws, g, sums, run, WithWorkers(2))

	done := make(chan execResult, 1)
	go func() {
		report, xerr := ex.Execute(context.Background(), plan)
		done <- execResult{report, xerr}
	}()

	// Exactly two steps may be in flight while the gate is shut.
	waitStarted(t, run.started)
	waitStarted(t, run.started)
	require.Equal(t, 2, run.peakConcurrency())
	close(gate)

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, OutcomeSuccess, res.report.Outcome)
	require.Equal(t, 4, run.callCount())
	require.LessOrEqual(t, run.peakConcurrency(), 2)
}

func TestExecute_PersistFailureFailsTheStep(t *testing.T) {
	g := buildGraph(t, chainDoc)
	ws := t.TempDir()
	sums := newFakeSums(g)
	meadow := step.MustParse("meadow/fao/2024-01-01/crops")
	sums.persistErr[meadow] = errors.New("read-only filesystem")

	report := mustExecute(t, ws, g, sums, newFakeRunner())

	require.Equal(t, OutcomePartialFailure, report.Outcome)
	require.Equal(t, StatusFailed, resultByStep(t, report, meadow.String()).Status)
	require.ErrorContains(t, resultByStep(t, report, meadow.String()).Err, "read-only filesystem")
	require.Equal(t, StatusSkippedFailure,
		resultByStep(t, report, "garden/fao/2024-01-01/crops").Status)
}

func TestExecute_RecordIsPersistedBeforeSuccessIsReported(t *testing.T) {
	g := buildGraph(t, chainDoc)
	ws := t.TempDir()
	sums := newFakeSums(g)

	hook := &recordingHook{}
	hook.onStepFinished = func(res StepResult) {
		if res.Status != StatusSucceeded {
			return
		}
		recorded, ok := sums.Recorded(res.Step)
		require.True(t, ok, "record must exist before the success event")
		require.NotEmpty(t, recorded)
	}

	mustExecute(t, ws, g, sums, newFakeRunner(), WithHook(hook))
	require.Len(t, hook.stepResults(), 3)
}

func TestExecute_HookSeesEveryTerminalResultOnce(t *testing.T) {
	g := buildGraph(t, diamondDoc)
	ws := t.TempDir()
	sums := newFakeSums(g)
	run := newFakeRunner()
	run.fail[step.MustParse("meadow/fao/2024-01-01/left")] = errors.New("boom")

	hook := &recordingHook{}
	tokens := NewFixedGenerator("run-0001")

	plan, err := BuildPlan(g, sums, selectAll(t, g), PlanOptions{})
	require.NoError(t, err)
	ex := New(ws, g, sums, run, WithHook(hook), WithTokenGenerator(tokens))
	report, err := ex.Execute(context.Background(), plan)
	require.NoError(t, err)

	require.Equal(t, "run-0001", report.RunID)
	require.Equal(t, []string{"run-0001"}, hook.started)
	require.Len(t, hook.reports, 1)
	require.Equal(t, report.Outcome, hook.reports[0].Outcome)

	results := hook.stepResults()
	require.Len(t, results, 4, "one terminal event per plan step")

	seen := map[step.ID]bool{}
	var lastSeq int64
	for _, res := range results {
		require.False(t, seen[res.Step], "step %s reported twice", res.Step)
		seen[res.Step] = true
		require.Greater(t, res.Seq, lastSeq, "sequence numbers strictly increase")
		lastSeq = res.Seq
	}
}

func TestExecute_PreCancelledContextRunsNothing(t *testing.T) {
	g := buildGraph(t, chainDoc)
	ws := t.TempDir()
	sums := newFakeSums(g)
	run := newFakeRunner()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	plan, err := BuildPlan(g, sums, selectAll(t, g), PlanOptions{})
	require.NoError(t, err)
	report, err := New(ws, g, sums, run).Execute(ctx, plan)
	require.NoError(t, err)

	require.Equal(t, OutcomeCancelled, report.Outcome)
	require.Equal(t, 1, report.ExitCode())
	require.Equal(t, 0, run.callCount())
	require.Equal(t, 3, report.Count(StatusSkippedCancelled))
}

func TestExecute_CancellationDrainsRunningSteps(t *testing.T) {
	g := buildGraph(t, chainDoc)
	ws := t.TempDir()
	sums := newFakeSums(g)
	run := newFakeRunner()
	run.started = make(chan step.ID, 1)

	snapshot := step.MustParse("snapshot/fao/2024-01-01/crops.csv")
	gate := make(chan struct{})
	run.gates[snapshot] = gate

	ctx, cancel := context.WithCancel(context.Background())
	plan, err := BuildPlan(g, sums, selectAll(t, g), PlanOptions{})
	require.NoError(t, err)

	done := make(chan execResult, 1)
	go func() {
		report, xerr := New(ws, g, sums, run).Execute(ctx, plan)
		done <- execResult{report, xerr}
	}()

	// Cancel while the snapshot step is mid-flight, give the coordinator
	// time to observe it, then let the step finish.
	waitStarted(t, run.started)
	cancel()
	time.Sleep(100 * time.Millisecond)
	close(gate)

	res := <-done
	require.NoError(t, res.err)
	report := res.report
	require.Equal(t, OutcomeCancelled, report.Outcome)
	require.Equal(t, StatusSucceeded, resultByStep(t, report, snapshot.String()).Status,
		"running step finishes after cancellation")
	require.Equal(t, StatusSkippedCancelled,
		resultByStep(t, report, "meadow/fao/2024-01-01/crops").Status)
	require.Equal(t, StatusSkippedCancelled,
		resultByStep(t, report, "garden/fao/2024-01-01/crops").Status)
	require.Equal(t, 1, run.callCount(), "no dispatch after cancellation")
}

func TestExecute_StepTimeoutFailsOnlyTheSlowStep(t *testing.T) {
	g := buildGraph(t, chainDoc)
	ws := t.TempDir()
	sums := newFakeSums(g)
	run := newFakeRunner()

	garden := step.MustParse("garden/fao/2024-01-01/crops")
	run.gates[garden] = make(chan struct{}) // never opens; only the timeout ends it

	report := mustExecute(t, ws, g, sums, run, WithStepTimeout(50*time.Millisecond))

	require.Equal(t, OutcomePartialFailure, report.Outcome)
	require.Equal(t, StatusSucceeded,
		resultByStep(t, report, "snapshot/fao/2024-01-01/crops.csv").Status)
	require.Equal(t, StatusSucceeded,
		resultByStep(t, report, "meadow/fao/2024-01-01/crops").Status)

	res := resultByStep(t, report, garden.String())
	require.Equal(t, StatusFailed, res.Status)
	require.ErrorContains(t, res.Err, "exceeded timeout")
}

func TestDryRun_TouchesNothing(t *testing.T) {
	g := buildGraph(t, chainDoc)
	ws := t.TempDir()
	sums := newFakeSums(g)
	sums.markClean()
	garden := step.MustParse("garden/fao/2024-01-01/crops")
	sums.bump(garden)

	run := newFakeRunner()
	hook := &recordingHook{}

	plan, err := BuildPlan(g, sums, selectAll(t, g), PlanOptions{})
	require.NoError(t, err)
	report := New(ws, g, sums, run, WithHook(hook)).DryRun(plan)

	require.True(t, report.DryRun)
	require.Equal(t, OutcomeSuccess, report.Outcome)
	require.Equal(t, StatusPending, resultByStep(t, report, garden.String()).Status)
	require.Equal(t, ReasonDirty, resultByStep(t, report, garden.String()).Reason)
	require.Equal(t, StatusSkippedClean,
		resultByStep(t, report, "meadow/fao/2024-01-01/crops").Status)

	require.Equal(t, 0, run.callCount(), "dry run executes nothing")
	require.Empty(t, sums.persisted(), "dry run records nothing")
	require.Empty(t, hook.started, "dry run bypasses hooks")
	require.Empty(t, hook.stepResults())
}

func TestExecute_EmptySelectionSucceedsTrivially(t *testing.T) {
	g := buildGraph(t, chainDoc)
	ws := t.TempDir()
	sums := newFakeSums(g)

	sel := &dag.Selection{Matched: dag.NewSet(), Steps: dag.NewSet()}
	plan, err := BuildPlan(g, sums, sel, PlanOptions{})
	require.NoError(t, err)
	require.Empty(t, plan.Steps)

	report, err := New(ws, g, sums, newFakeRunner()).Execute(context.Background(), plan)
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, report.Outcome)
	require.Empty(t, report.Steps)
}

// Full lifecycle against the real checksum store: first run builds
// everything, the second has nothing to do, and one edited snapshot source
// dirties the whole chain downstream.
func TestExecute_LifecycleWithRealChecksums(t *testing.T) {
	g := buildGraph(t, chainDoc)
	ws := t.TempDir()

	snapshot := step.MustParse("snapshot/fao/2024-01-01/crops.csv")
	meadow := step.MustParse("meadow/fao/2024-01-01/crops")
	garden := step.MustParse("garden/fao/2024-01-01/crops")
	writeStepSource(t, ws, snapshot, "source: faostat\n")
	writeStepSource(t, ws, meadow, "#!/bin/sh\ncp in out\n")
	writeStepSource(t, ws, garden, "#!/bin/sh\njoin a b\n")

	run := newFakeRunner()
	report := mustExecute(t, ws, g, checksum.NewStore(ws, g), run)
	require.Equal(t, OutcomeSuccess, report.Outcome)
	require.Equal(t, 3, run.callCount(), "first run builds the whole chain")

	report = mustExecute(t, ws, g, checksum.NewStore(ws, g), run)
	require.Equal(t, OutcomeSuccess, report.Outcome)
	require.Equal(t, 3, run.callCount(), "second run has nothing to do")
	require.Equal(t, 3, report.Count(StatusSkippedClean))

	writeStepSource(t, ws, snapshot, "source: faostat\nversion: 2\n")
	report = mustExecute(t, ws, g, checksum.NewStore(ws, g), run)
	require.Equal(t, OutcomeSuccess, report.Outcome)
	require.Equal(t, 6, run.callCount(), "source edit re-runs the full chain")
	require.Equal(t, 3, report.Count(StatusSucceeded))
}

func writeStepSource(t *testing.T, ws string, id step.ID, content string) {
	t.Helper()
	path := id.SourcePath(ws)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
