package journal

import (
	"context"
	"fmt"
	"time"
)

// BeginRun inserts the run row at run start, with outcome 'running'.
// Uses ON CONFLICT(id) DO NOTHING for idempotency; run tokens are unique
// per engine invocation.
func (j *Journal) BeginRun(ctx context.Context, run Run) error {
	force := 0
	if run.Force {
		force = 1
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, started_at, outcome, dag_path, workers, force_rebuild, planned, to_run)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		encodeTime(run.StartedAt),
		OutcomeRunning,
		run.DAGPath,
		run.Workers,
		force,
		run.Planned,
		run.ToRun,
	)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// FinishRun stamps the run's terminal outcome and finish time.
func (j *Journal) FinishRun(ctx context.Context, runID, outcome string, finishedAt time.Time) error {
	_, err := j.db.ExecContext(ctx, `
		UPDATE runs SET outcome = ?, finished_at = ? WHERE id = ?
	`, outcome, encodeTime(finishedAt), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// RecordStep inserts one terminal step result. Each step reaches exactly
// one terminal state per run; ON CONFLICT(run_id, uri) DO NOTHING makes a
// duplicate write a no-op rather than an error.
func (j *Journal) RecordStep(ctx context.Context, rec StepRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO step_results
		(run_id, uri, status, reason, error, checksum, seq, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, uri) DO NOTHING
	`,
		rec.RunID,
		rec.URI,
		rec.Status,
		rec.Reason,
		rec.Error,
		rec.Checksum,
		rec.Seq,
		encodeTime(rec.StartedAt),
		encodeTime(rec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("record step: %w", err)
	}
	return nil
}
