package engine

import (
	"sort"
	"time"

	"github.com/roach88/harvest/internal/step"
)

// Outcome summarizes a whole run.
type Outcome string

const (
	// OutcomeSuccess means every planned step succeeded or was clean.
	OutcomeSuccess Outcome = "success"

	// OutcomePartialFailure means at least one step failed. Independent
	// branches still ran to completion.
	OutcomePartialFailure Outcome = "partial-failure"

	// OutcomeCancelled means the run was interrupted before every step
	// reached a terminal state, with no step failure of its own.
	OutcomeCancelled Outcome = "cancelled"
)

// StepResult is the terminal record of one plan step.
type StepResult struct {
	Step   step.ID
	Status Status
	Reason Reason

	// Err is set for StatusFailed.
	Err error

	// Seq orders events within the run; every terminal result gets one.
	Seq int64

	// Started and Finished are zero for steps that never ran.
	Started  time.Time
	Finished time.Time
}

// Report is the full account of one run: a terminal result for every plan
// step, sorted by URI.
type Report struct {
	RunID   string
	DryRun  bool
	Outcome Outcome
	Steps   []StepResult

	Started  time.Time
	Finished time.Time
}

// Failed returns the results of steps that ran and failed, sorted by URI.
func (r *Report) Failed() []StepResult {
	var out []StepResult
	for _, res := range r.Steps {
		if res.Status == StatusFailed {
			out = append(out, res)
		}
	}
	return out
}

// Count returns how many steps finished with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, res := range r.Steps {
		if res.Status == s {
			n++
		}
	}
	return n
}

// ExitCode maps the outcome to a process exit code: zero for success, one
// otherwise.
func (r *Report) ExitCode() int {
	if r.Outcome == OutcomeSuccess {
		return 0
	}
	return 1
}

func sortResults(results []StepResult) {
	sort.Slice(results, func(i, j int) bool { return results[i].Step.Less(results[j].Step) })
}
