package journal

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/harvest/internal/checksum"
	"github.com/roach88/harvest/internal/engine"
	"github.com/roach88/harvest/internal/step"
)

// Recorder bridges engine hooks to the journal. Every write failure is
// logged and swallowed: history must never fail a run.
//
// The engine invokes hooks from a single goroutine; a Recorder serves one
// run and is not safe for concurrent use.
type Recorder struct {
	journal *Journal
	meta    RunMeta
	sums    map[step.ID]checksum.Checksum
}

// RunMeta carries the invocation details the engine does not know about.
type RunMeta struct {
	DAGPath string
	Workers int
	Force   bool
}

// NewRecorder returns a Recorder writing to j.
func NewRecorder(j *Journal, meta RunMeta) *Recorder {
	return &Recorder{journal: j, meta: meta}
}

// RunStarted writes the run row and memorizes the planned checksums so
// step rows can carry them.
func (r *Recorder) RunStarted(runID string, plan *engine.Plan) {
	r.sums = make(map[step.ID]checksum.Checksum, len(plan.Steps))
	for _, ps := range plan.Steps {
		r.sums[ps.ID] = ps.Checksum
	}

	err := r.journal.BeginRun(context.Background(), Run{
		ID:        runID,
		StartedAt: time.Now().UTC(),
		DAGPath:   r.meta.DAGPath,
		Workers:   r.meta.Workers,
		Force:     r.meta.Force,
		Planned:   len(plan.Steps),
		ToRun:     len(plan.Runnable()),
	})
	if err != nil {
		slog.Warn("journal write failed; run continues unrecorded", "run", runID, "error", err)
	}
}

// StepFinished writes one terminal step row.
func (r *Recorder) StepFinished(runID string, res engine.StepResult) {
	rec := StepRecord{
		RunID:      runID,
		URI:        res.Step.String(),
		Status:     res.Status.String(),
		Reason:     string(res.Reason),
		Checksum:   string(r.sums[res.Step]),
		Seq:        res.Seq,
		StartedAt:  res.Started,
		FinishedAt: res.Finished,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if err := r.journal.RecordStep(context.Background(), rec); err != nil {
		slog.Warn("journal write failed for step result",
			"run", runID, "step", rec.URI, "error", err)
	}
}

// RunFinished stamps the run's outcome.
func (r *Recorder) RunFinished(runID string, report *engine.Report) {
	if err := r.journal.FinishRun(context.Background(), runID, string(report.Outcome), report.Finished); err != nil {
		slog.Warn("journal write failed for run outcome", "run", runID, "error", err)
	}
}
