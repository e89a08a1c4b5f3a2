// Package engine plans and executes step runs.
//
// ARCHITECTURE:
//
// Planning:
// BuildPlan resolves a selection against the workspace's recorded state.
// Every selected step lands in the plan with a reason: dirty (checksum
// mismatch or no record), forced (explicitly matched under force), or
// selected-but-clean (nothing to do, still reported). The plan is ordered
// topologically with lexical tie-breaking, so identical inputs produce an
// identical plan in every process. Dependencies left outside the selection
// are vetted at plan time: one with no checksum record fails the plan, a
// stale one is only a warning.
//
// Execution:
// Execute walks the plan with a coordinator goroutine that owns all state
// and a bounded pool of workers that only run steps. Ready steps wait in a
// lexical min-queue; a step becomes ready when every in-plan dependency has
// succeeded or was skipped clean. Worker results return to the coordinator,
// which persists the step's checksum record before marking it succeeded and
// propagates failures by skipping every in-plan transitive dependent.
// Failures never abort independent branches and are never retried.
//
// Cancellation stops dispatch immediately but lets running steps finish;
// only a configured per-step timeout terminates a step early. Dry runs
// reuse the plan directly and touch nothing.
//
// The package has no global state: graph, checksum store and runner are
// injected, and tests drive the executor with fakes.
package engine
