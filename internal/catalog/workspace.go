// Package catalog knows the on-disk layout of a harvest workspace and the
// operations that treat the workspace as a whole: path conventions, the
// cross-process lock, and pruning of orphaned outputs.
//
// A workspace is a plain directory:
//
//	dag/        step definition documents (dag/main.yml by default)
//	snapshots/  snapshot manifests
//	steps/      run-function sources for meadow/garden/grapher/export steps
//	external/   optional manifests for external stubs
//	data/       step outputs, one directory per step URI
//	.harvest/   housekeeping: lock file, run journal
//
// Everything harvest writes outside data/ lives under .harvest/, so a
// workspace stays recognizable as ordinary project files plus one hidden
// directory.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
)

// Directory names under the workspace root.
const (
	DAGDirName       = "dag"
	SnapshotsDirName = "snapshots"
	StepsDirName     = "steps"
	ExternalDirName  = "external"
	DataDirName      = "data"
	HouseDirName     = ".harvest"

	lockFileName    = "lock"
	journalFileName = "journal.db"
)

// DefaultDAGPath is the definition document loaded when --dag is not given,
// relative to the workspace root.
const DefaultDAGPath = DAGDirName + "/main.yml"

// DAGDir returns the definition-document directory.
func DAGDir(workspace string) string { return filepath.Join(workspace, DAGDirName) }

// SnapshotsDir returns the snapshot-manifest directory.
func SnapshotsDir(workspace string) string { return filepath.Join(workspace, SnapshotsDirName) }

// StepsDir returns the run-function source directory.
func StepsDir(workspace string) string { return filepath.Join(workspace, StepsDirName) }

// ExternalDir returns the external-manifest directory.
func ExternalDir(workspace string) string { return filepath.Join(workspace, ExternalDirName) }

// DataDir returns the step-output directory.
func DataDir(workspace string) string { return filepath.Join(workspace, DataDirName) }

// HouseDir returns the housekeeping directory.
func HouseDir(workspace string) string { return filepath.Join(workspace, HouseDirName) }

// LockPath returns the workspace lock file path.
func LockPath(workspace string) string {
	return filepath.Join(HouseDir(workspace), lockFileName)
}

// JournalPath returns the run-journal database path.
func JournalPath(workspace string) string {
	return filepath.Join(HouseDir(workspace), journalFileName)
}

// EnsureHouse creates the housekeeping directory if it does not exist.
func EnsureHouse(workspace string) error {
	if err := os.MkdirAll(HouseDir(workspace), 0o755); err != nil {
		return fmt.Errorf("create housekeeping dir: %w", err)
	}
	return nil
}
