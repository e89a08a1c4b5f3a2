package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/harvest/internal/checksum"
	"github.com/roach88/harvest/internal/dag"
	"github.com/roach88/harvest/internal/runner"
	"github.com/roach88/harvest/internal/step"
)

// buildGraph parses a definition document from a string and builds its
// graph.
func buildGraph(t *testing.T, doc string) *dag.Graph {
	t.Helper()
	path := filepath.Join(t.TempDir(), "main.yml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	def, err := dag.LoadDefinition(path)
	require.NoError(t, err)
	g, err := dag.Build(def)
	require.NoError(t, err)
	return g
}

// selectAll resolves the default selection: every step plus dependencies.
func selectAll(t *testing.T, g *dag.Graph) *dag.Selection {
	t.Helper()
	sel, err := dag.Select(g, nil, dag.SelectOptions{IncludeDependencies: true})
	require.NoError(t, err)
	return sel
}

const chainDoc = `steps:
  snapshot/fao/2024-01-01/crops.csv: []
  meadow/fao/2024-01-01/crops:
    - snapshot/fao/2024-01-01/crops.csv
  garden/fao/2024-01-01/crops:
    - meadow/fao/2024-01-01/crops
`

const diamondDoc = `steps:
  snapshot/fao/2024-01-01/base.csv: []
  meadow/fao/2024-01-01/left:
    - snapshot/fao/2024-01-01/base.csv
  meadow/fao/2024-01-01/right:
    - snapshot/fao/2024-01-01/base.csv
  garden/fao/2024-01-01/merged:
    - meadow/fao/2024-01-01/left
    - meadow/fao/2024-01-01/right
`

// fakeSums is an in-memory Checksums. Unlike the real store it does not
// propagate checksum changes to dependents; tests set each step's full
// checksum explicitly.
type fakeSums struct {
	mu         sync.Mutex
	full       map[step.ID]checksum.Checksum
	fullErr    map[step.ID]error
	recorded   map[step.ID]checksum.Checksum
	persistErr map[step.ID]error
	persists   []step.ID
}

func newFakeSums(g *dag.Graph) *fakeSums {
	s := &fakeSums{
		full:       make(map[step.ID]checksum.Checksum),
		fullErr:    make(map[step.ID]error),
		recorded:   make(map[step.ID]checksum.Checksum),
		persistErr: make(map[step.ID]error),
	}
	for _, id := range g.Steps() {
		s.full[id] = checksum.Checksum("sum-" + id.String() + "-v1")
	}
	return s
}

func (s *fakeSums) FullChecksum(id step.ID) (checksum.Checksum, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fullErr[id]; err != nil {
		return "", err
	}
	return s.full[id], nil
}

func (s *fakeSums) Recorded(id step.ID) (checksum.Checksum, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.recorded[id]
	return sum, ok
}

func (s *fakeSums) Persist(id step.ID, sum checksum.Checksum) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persistErr[id]; err != nil {
		return err
	}
	s.recorded[id] = sum
	s.persists = append(s.persists, id)
	return nil
}

// markClean records the current full checksum of the given steps, or of
// every step when called with none.
func (s *fakeSums) markClean(ids ...step.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ids) == 0 {
		for id, sum := range s.full {
			s.recorded[id] = sum
		}
		return
	}
	for _, id := range ids {
		s.recorded[id] = s.full[id]
	}
}

// bump changes a step's full checksum, as an edited source would.
func (s *fakeSums) bump(id step.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.full[id] += "+edit"
}

func (s *fakeSums) persisted() []step.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]step.ID(nil), s.persists...)
}

// fakeRunner scripts step outcomes and records every invocation.
type fakeRunner struct {
	mu        sync.Mutex
	calls     []step.ID
	contexts  map[step.ID]runner.RunContext
	fail      map[step.ID]error
	gates     map[step.ID]chan struct{}
	active    int
	maxActive int

	// started, when set, receives each step ID as its Run begins.
	started chan step.ID
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		contexts: make(map[step.ID]runner.RunContext),
		fail:     make(map[step.ID]error),
		gates:    make(map[step.ID]chan struct{}),
	}
}

// Run blocks on the step's gate, if any, until the gate closes or the step
// context expires.
func (r *fakeRunner) Run(ctx context.Context, id step.ID, rc runner.RunContext) error {
	r.mu.Lock()
	r.calls = append(r.calls, id)
	r.contexts[id] = rc
	r.active++
	if r.active > r.maxActive {
		r.maxActive = r.active
	}
	gate := r.gates[id]
	failErr := r.fail[id]
	started := r.started
	r.mu.Unlock()

	if started != nil {
		started <- id
	}

	var err error
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	r.mu.Lock()
	r.active--
	r.mu.Unlock()

	if err != nil {
		return err
	}
	return failErr
}

func (r *fakeRunner) runContext(id step.ID) runner.RunContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contexts[id]
}

func (r *fakeRunner) callOrder() []step.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]step.ID(nil), r.calls...)
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *fakeRunner) peakConcurrency() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxActive
}

// recordingHook captures the hook event stream.
type recordingHook struct {
	mu             sync.Mutex
	started        []string
	results        []StepResult
	reports        []*Report
	onStepFinished func(StepResult)
}

func (h *recordingHook) RunStarted(runID string, _ *Plan) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = append(h.started, runID)
}

func (h *recordingHook) StepFinished(_ string, res StepResult) {
	h.mu.Lock()
	cb := h.onStepFinished
	h.results = append(h.results, res)
	h.mu.Unlock()
	if cb != nil {
		cb(res)
	}
}

func (h *recordingHook) RunFinished(_ string, report *Report) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reports = append(h.reports, report)
}

func (h *recordingHook) stepResults() []StepResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]StepResult(nil), h.results...)
}

// resultByStep indexes a report for assertions.
func resultByStep(t *testing.T, report *Report, uri string) StepResult {
	t.Helper()
	id := step.MustParse(uri)
	for _, res := range report.Steps {
		if res.Step == id {
			return res
		}
	}
	t.Fatalf("report has no result for %s", uri)
	return StepResult{}
}

// mustExecute plans and runs every step of the graph with the given
// executor fixtures.
func mustExecute(t *testing.T, ws string, g *dag.Graph, sums Checksums, run runner.Runner, opts ...Option) *Report {
	t.Helper()
	plan, err := BuildPlan(g, sums, selectAll(t, g), PlanOptions{})
	require.NoError(t, err)
	report, err := New(ws, g, sums, run, opts...).Execute(context.Background(), plan)
	require.NoError(t, err)
	return report
}

// execResult carries an Execute return pair out of a goroutine so the test
// goroutine can assert on it.
type execResult struct {
	report *Report
	err    error
}

// waitStarted receives one started signal or fails the test.
func waitStarted(t *testing.T, ch chan step.ID) step.ID {
	t.Helper()
	select {
	case id := <-ch:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("no step started in time")
		return step.ID{}
	}
}
