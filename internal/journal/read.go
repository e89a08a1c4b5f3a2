package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrRunNotFound reports a run token (or prefix) matching no journal row.
var ErrRunNotFound = errors.New("run not found")

// ErrAmbiguousRun reports a run token prefix matching more than one row.
var ErrAmbiguousRun = errors.New("run token prefix is ambiguous")

const runColumns = `id, started_at, finished_at, outcome, dag_path, workers, force_rebuild, planned, to_run`

// RecentRuns returns the newest runs first. A non-positive limit defaults
// to 20.
func (j *Journal) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Run looks up a single run by token. A unique token prefix is accepted,
// so `harvest history --run 0192` works once the prefix is unambiguous.
func (j *Journal) Run(ctx context.Context, token string) (Run, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE id LIKE ? || '%'
		ORDER BY id ASC
		LIMIT 2
	`, token)
	if err != nil {
		return Run{}, fmt.Errorf("query run: %w", err)
	}
	defer rows.Close()

	var matches []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return Run{}, err
		}
		matches = append(matches, run)
	}
	if err := rows.Err(); err != nil {
		return Run{}, fmt.Errorf("iterate runs: %w", err)
	}

	switch len(matches) {
	case 0:
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, token)
	case 1:
		return matches[0], nil
	default:
		return Run{}, fmt.Errorf("%w: %s", ErrAmbiguousRun, token)
	}
}

// RunSteps returns every step result of a run in deterministic order:
// ORDER BY seq ASC, uri ASC COLLATE BINARY.
func (j *Journal) RunSteps(ctx context.Context, runID string) ([]StepRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, uri, status, reason, error, checksum, seq, started_at, finished_at
		FROM step_results
		WHERE run_id = ?
		ORDER BY seq ASC, uri COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query step results: %w", err)
	}
	defer rows.Close()

	records := []StepRecord{}
	for rows.Next() {
		var (
			rec      StepRecord
			started  sql.NullString
			finished sql.NullString
		)
		if err := rows.Scan(
			&rec.RunID, &rec.URI, &rec.Status, &rec.Reason, &rec.Error,
			&rec.Checksum, &rec.Seq, &started, &finished,
		); err != nil {
			return nil, fmt.Errorf("scan step result: %w", err)
		}
		if rec.StartedAt, err = decodeTime(started); err != nil {
			return nil, err
		}
		if rec.FinishedAt, err = decodeTime(finished); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate step results: %w", err)
	}
	return records, nil
}

func scanRun(rows *sql.Rows) (Run, error) {
	var (
		run      Run
		started  sql.NullString
		finished sql.NullString
		force    int
	)
	if err := rows.Scan(
		&run.ID, &started, &finished, &run.Outcome, &run.DAGPath,
		&run.Workers, &force, &run.Planned, &run.ToRun,
	); err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	var err error
	if run.StartedAt, err = decodeTime(started); err != nil {
		return Run{}, err
	}
	if run.FinishedAt, err = decodeTime(finished); err != nil {
		return Run{}, err
	}
	run.Force = force != 0
	return run, nil
}
