package engine

// Hook observes run progress. The coordinator invokes hooks synchronously
// between scheduling decisions, in a fixed order: RunStarted once, one
// StepFinished per plan step as it reaches a terminal status (clean and
// propagated skips included), RunFinished once.
//
// Hooks are observability, never control flow: an implementation must
// swallow its own failures rather than fail the run, and must not block
// for long.
type Hook interface {
	RunStarted(runID string, plan *Plan)
	StepFinished(runID string, result StepResult)
	RunFinished(runID string, report *Report)
}

type noopHook struct{}

func (noopHook) RunStarted(string, *Plan)        {}
func (noopHook) StepFinished(string, StepResult) {}
func (noopHook) RunFinished(string, *Report)     {}
