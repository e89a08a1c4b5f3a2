package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/harvest/internal/dag"
	"github.com/roach88/harvest/internal/runner"
	"github.com/roach88/harvest/internal/step"
)

// Executor runs plans against a workspace.
type Executor struct {
	workspace string
	graph     *dag.Graph
	sums      Checksums
	runner    runner.Runner

	workers int
	timeout time.Duration
	tokens  TokenGenerator
	hook    Hook
}

// Option configures an Executor.
type Option func(*Executor)

// WithWorkers bounds step concurrency. Values below one are ignored.
func WithWorkers(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithStepTimeout terminates any single step running longer than d. Zero
// means no limit.
func WithStepTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithTokenGenerator overrides run token generation, for deterministic
// tests.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(e *Executor) { e.tokens = g }
}

// WithHook registers a run observer, typically the journal recorder.
func WithHook(h Hook) Option {
	return func(e *Executor) { e.hook = h }
}

// New returns an Executor over the given workspace. The default is one
// worker, no step timeout, UUIDv7 run tokens and no hook.
func New(workspace string, g *dag.Graph, sums Checksums, run runner.Runner, opts ...Option) *Executor {
	e := &Executor{
		workspace: workspace,
		graph:     g,
		sums:      sums,
		runner:    run,
		workers:   1,
		tokens:    UUIDv7Generator{},
		hook:      noopHook{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DryRun reports what Execute would do with the plan without running
// anything, writing anything, or notifying any hook.
func (e *Executor) DryRun(plan *Plan) *Report {
	now := time.Now()
	report := &Report{
		RunID:    e.tokens.Generate(),
		DryRun:   true,
		Outcome:  OutcomeSuccess,
		Started:  now,
		Finished: now,
	}
	for _, ps := range plan.Steps {
		status := StatusPending
		if !ps.WillRun() {
			status = StatusSkippedClean
		}
		report.Steps = append(report.Steps, StepResult{Step: ps.ID, Status: status, Reason: ps.Reason})
	}
	sortResults(report.Steps)
	return report
}

// work is one dispatched step. The sequence number and start time are
// stamped at dispatch so the journal orders steps by when they began.
type work struct {
	ps      PlanStep
	seq     int64
	started time.Time
}

type stepOutcome struct {
	ps       PlanStep
	seq      int64
	started  time.Time
	finished time.Time
	err      error
}

// Execute runs the plan and returns a report with a terminal result for
// every plan step. Step failures and cancellation are part of the report,
// not the error return, which is reserved for scheduler invariant
// violations.
//
// Cancelling ctx stops dispatching new steps; steps already running finish
// and their results are recorded. Steps never dispatched are reported as
// skipped-cancelled.
func (e *Executor) Execute(ctx context.Context, plan *Plan) (*Report, error) {
	runID := e.tokens.Generate()
	clock := NewClock()
	runStarted := time.Now()

	states := make(stateTable, len(plan.Steps))
	planned := make(map[step.ID]PlanStep, len(plan.Steps))
	results := make(map[step.ID]StepResult, len(plan.Steps))

	for _, ps := range plan.Steps {
		planned[ps.ID] = ps
		if ps.WillRun() {
			states[ps.ID] = StatusPending
		} else {
			states[ps.ID] = StatusSkippedClean
		}
	}

	e.hook.RunStarted(runID, plan)
	slog.Info("run started",
		"run", runID, "steps", len(plan.Steps), "to_run", len(plan.Runnable()), "workers", e.workers)

	record := func(res StepResult) {
		results[res.Step] = res
		e.hook.StepFinished(runID, res)
	}

	// Clean skips are terminal from the start.
	for _, ps := range plan.Steps {
		if !ps.WillRun() {
			record(StepResult{Step: ps.ID, Status: StatusSkippedClean, Reason: ps.Reason, Seq: clock.Next()})
		}
	}

	ready := &readyQueue{}
	for _, ps := range plan.Steps {
		if states[ps.ID] == StatusPending && e.depsSatisfied(states, ps.ID) {
			ready.Push(ps.ID)
		}
	}

	workCh := make(chan work)
	resCh := make(chan stepOutcome)
	for i := 0; i < e.workers; i++ {
		go func() {
			for w := range workCh {
				resCh <- e.runStep(w)
			}
		}()
	}
	defer close(workCh)

	fail := func(out stepOutcome) error {
		if err := states.transition(out.ps.ID, StatusFailed); err != nil {
			return err
		}
		record(StepResult{
			Step: out.ps.ID, Status: StatusFailed, Reason: out.ps.Reason,
			Err: out.err, Seq: out.seq, Started: out.started, Finished: out.finished,
		})
		slog.Error("step failed", "run", runID, "step", out.ps.ID.String(), "error", out.err)
		return e.skipDependents(states, planned, record, clock, out.ps.ID)
	}

	inFlight := 0
	cancelled := ctx.Err() != nil
	done := ctx.Done()

	for {
		for !cancelled && inFlight < e.workers && ready.Len() > 0 {
			id := ready.Pop()
			if err := states.transition(id, StatusRunning); err != nil {
				return nil, err
			}
			w := work{ps: planned[id], seq: clock.Next(), started: time.Now()}
			slog.Info("step started", "run", runID, "step", id.String(), "reason", string(w.ps.Reason))
			inFlight++
			workCh <- w
		}

		if inFlight == 0 {
			break
		}

		select {
		case <-done:
			cancelled = true
			done = nil
			slog.Info("cancellation requested; letting running steps finish", "run", runID, "running", inFlight)
		case out := <-resCh:
			inFlight--
			if out.err != nil {
				if err := fail(out); err != nil {
					return nil, err
				}
				continue
			}
			if err := states.transition(out.ps.ID, StatusSucceeded); err != nil {
				return nil, err
			}
			record(StepResult{
				Step: out.ps.ID, Status: StatusSucceeded, Reason: out.ps.Reason,
				Seq: out.seq, Started: out.started, Finished: out.finished,
			})
			slog.Info("step succeeded",
				"run", runID, "step", out.ps.ID.String(), "took", out.finished.Sub(out.started))
			if cancelled {
				continue
			}
			for _, dependent := range e.graph.Dependents(out.ps.ID) {
				if states[dependent] == StatusPending && e.depsSatisfied(states, dependent) {
					ready.Push(dependent)
				}
			}
		}
	}

	// Whatever is still pending was cut off by cancellation: the steps
	// that would have unblocked it never ran.
	for _, ps := range plan.Steps {
		if states[ps.ID] != StatusPending {
			continue
		}
		if !cancelled {
			return nil, fmt.Errorf("scheduler stalled: step %s pending with no runnable dependency", ps.ID)
		}
		if err := states.transition(ps.ID, StatusSkippedCancelled); err != nil {
			return nil, err
		}
		record(StepResult{Step: ps.ID, Status: StatusSkippedCancelled, Reason: ps.Reason, Seq: clock.Next()})
	}

	report := &Report{
		RunID:    runID,
		Outcome:  OutcomeSuccess,
		Started:  runStarted,
		Finished: time.Now(),
	}
	for _, res := range results {
		report.Steps = append(report.Steps, res)
	}
	sortResults(report.Steps)
	switch {
	case report.Count(StatusFailed) > 0:
		report.Outcome = OutcomePartialFailure
	case cancelled:
		report.Outcome = OutcomeCancelled
	}

	e.hook.RunFinished(runID, report)
	slog.Info("run finished",
		"run", runID, "outcome", string(report.Outcome),
		"succeeded", report.Count(StatusSucceeded), "failed", report.Count(StatusFailed),
		"took", report.Finished.Sub(report.Started))
	return report, nil
}

// runStep executes one step on a worker goroutine. The step context is
// detached from the coordinator's: cancellation never kills a running
// step, only the per-step timeout does.
func (e *Executor) runStep(w work) stepOutcome {
	ctx := context.Background()
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	id := w.ps.ID
	deps := e.graph.Dependencies(id)
	dirs := make([]string, 0, len(deps))
	for _, dep := range deps {
		dirs = append(dirs, dep.OutputDir(e.workspace))
	}

	err := e.runner.Run(ctx, id, runner.RunContext{
		Workspace:      e.workspace,
		OutputDir:      id.OutputDir(e.workspace),
		DependencyDirs: dirs,
	})
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("step exceeded timeout %s: %w", e.timeout, err)
	}
	if err == nil {
		// The record is the commit point: outputs first, record second, so
		// a crash between the two re-runs the step instead of trusting
		// half-written outputs.
		if perr := e.sums.Persist(id, w.ps.Checksum); perr != nil {
			err = perr
		}
	}
	return stepOutcome{ps: w.ps, seq: w.seq, started: w.started, finished: time.Now(), err: err}
}

// depsSatisfied reports whether every in-plan dependency of id has either
// succeeded or was skipped clean. Dependencies outside the plan were
// vetted by BuildPlan and do not gate readiness.
func (e *Executor) depsSatisfied(states stateTable, id step.ID) bool {
	for _, dep := range e.graph.Dependencies(id) {
		st, inPlan := states[dep]
		if inPlan && !st.SatisfiesDependents() {
			return false
		}
	}
	return true
}

// skipDependents marks every in-plan pending step downstream of id as
// skipped. Propagation follows in-plan edges only: a dependent reading a
// dependency outside the plan uses that dependency's existing outputs,
// which a failure in this run never touched.
func (e *Executor) skipDependents(states stateTable, planned map[step.ID]PlanStep, record func(StepResult), clock *Clock, id step.ID) error {
	queue := []step.ID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dependent := range e.graph.Dependents(cur) {
			st, inPlan := states[dependent]
			if !inPlan || st != StatusPending {
				continue
			}
			if err := states.transition(dependent, StatusSkippedFailure); err != nil {
				return err
			}
			record(StepResult{
				Step: dependent, Status: StatusSkippedFailure,
				Reason: planned[dependent].Reason, Seq: clock.Next(),
			})
			queue = append(queue, dependent)
		}
	}
	return nil
}
