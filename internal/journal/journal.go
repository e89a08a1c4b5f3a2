package journal

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - empty database (pre-schema)
// 1 - initial schema: runs, step_results, seq index
const currentSchemaVersion = 1

// Journal is the durable run history, backed by SQLite.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal database at path. Pragmas and schema
// migrations apply automatically; calling Open on an existing journal is
// safe.
//
// The database is configured with WAL mode for concurrent reads during
// writes, NORMAL synchronous mode, a 5-second busy timeout and foreign key
// enforcement.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to journal: %w", err)
	}

	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY instead of retrying around it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// DB returns the underlying sql.DB. Prefer Journal methods; this exists
// for tests and ad-hoc inspection.
func (j *Journal) DB() *sql.DB {
	return j.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// Idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return runMigrations(db)
}

// runMigrations applies incremental schema migrations based on
// user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		// Fresh databases get the index from schema.sql; databases created
		// before the index existed pick it up here.
		if _, err := db.Exec(`
			CREATE INDEX IF NOT EXISTS idx_step_results_run_seq
			ON step_results(run_id, seq)
		`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// OutcomeRunning is the runs.outcome value between BeginRun and FinishRun.
const OutcomeRunning = "running"

// Run is one journal row describing an engine run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time // zero until the run finishes
	Outcome    string    // OutcomeRunning until the run finishes
	DAGPath    string
	Workers    int
	Force      bool
	Planned    int // selected steps in the plan
	ToRun      int // steps scheduled to execute
}

// Finished reports whether the run reached a terminal outcome. A run that
// never finishes (crash, kill -9) stays unfinished forever; history
// renders it as interrupted.
func (r Run) Finished() bool {
	return r.Outcome != OutcomeRunning && !r.FinishedAt.IsZero()
}

// StepRecord is one journal row describing a terminal step result.
type StepRecord struct {
	RunID      string
	URI        string
	Status     string
	Reason     string
	Error      string
	Checksum   string
	Seq        int64
	StartedAt  time.Time // zero for steps that never ran
	FinishedAt time.Time
}

// encodeTime renders a timestamp as RFC 3339 UTC, or NULL for the zero
// time.
func encodeTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// decodeTime parses a nullable RFC 3339 column back into a time.Time, with
// zero standing in for NULL.
func decodeTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s.String, err)
	}
	return t, nil
}
