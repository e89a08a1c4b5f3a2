package engine

import (
	"fmt"

	"github.com/roach88/harvest/internal/step"
)

// Status is the lifecycle state of one plan step during a run.
//
// Steps enter the run as Pending (scheduled to execute) or SkippedClean
// (selected but already up to date). Pending steps move through Running to
// exactly one terminal outcome. The coordinator goroutine is the only
// writer, so transitions need validation, not locking.
type Status int

const (
	// StatusPending marks a step scheduled to run that has not started.
	StatusPending Status = iota

	// StatusRunning marks a step currently executing on a worker.
	StatusRunning

	// StatusSucceeded marks a step that ran and whose checksum record was
	// persisted.
	StatusSucceeded

	// StatusFailed marks a step that ran and failed. Its outputs stay on
	// disk for inspection; its checksum record is not updated.
	StatusFailed

	// StatusSkippedClean marks a selected step whose recorded checksum
	// already matches, so it never runs.
	StatusSkippedClean

	// StatusSkippedFailure marks a step skipped because a transitive
	// dependency failed during this run.
	StatusSkippedFailure

	// StatusSkippedCancelled marks a step skipped because the run was
	// cancelled before the step became ready.
	StatusSkippedCancelled
)

// String returns the status name used in reports and the journal.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "ran-succeeded"
	case StatusFailed:
		return "ran-failed"
	case StatusSkippedClean:
		return "skipped-clean"
	case StatusSkippedFailure:
		return "skipped-dependency-failure"
	case StatusSkippedCancelled:
		return "skipped-cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether the status admits no further transition.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkippedClean, StatusSkippedFailure, StatusSkippedCancelled:
		return true
	default:
		return false
	}
}

// SatisfiesDependents reports whether dependents may treat the step's
// on-disk outputs as current.
func (s Status) SatisfiesDependents() bool {
	return s == StatusSucceeded || s == StatusSkippedClean
}

// allowedTransitions enumerates every legal state change. Anything else is
// a scheduler bug and surfaces as a TransitionError.
var allowedTransitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusSkippedFailure, StatusSkippedCancelled},
	StatusRunning: {StatusSucceeded, StatusFailed},
}

// TransitionError reports an illegal state change. It indicates a bug in
// the scheduler, never bad user input.
type TransitionError struct {
	Step step.ID
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("step %s: illegal transition %s -> %s", e.Step, e.From, e.To)
}

// stateTable tracks the status of every plan step. Only the coordinator
// goroutine reads or writes it.
type stateTable map[step.ID]Status

func (t stateTable) transition(id step.ID, to Status) error {
	from := t[id]
	for _, next := range allowedTransitions[from] {
		if next == to {
			t[id] = to
			return nil
		}
	}
	return &TransitionError{Step: id, From: from, To: to}
}
