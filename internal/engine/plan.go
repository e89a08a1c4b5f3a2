package engine

import (
	"log/slog"

	"github.com/roach88/harvest/internal/checksum"
	"github.com/roach88/harvest/internal/dag"
	"github.com/roach88/harvest/internal/step"
)

// Reason explains why a step is in the plan.
type Reason string

const (
	// ReasonDirty marks a step whose full checksum differs from its
	// record, or that has no usable record at all.
	ReasonDirty Reason = "dirty"

	// ReasonForced marks a clean step scheduled anyway because it was
	// explicitly matched under force. Steps pulled in by dependency or
	// dependent expansion are never forced.
	ReasonForced Reason = "forced"

	// ReasonClean marks a selected step with nothing to do. It stays in
	// the plan so reports account for every selected step.
	ReasonClean Reason = "selected-but-clean"
)

// PlanStep pairs a step with the reason it was planned and the full
// checksum computed at plan time. The checksum is persisted verbatim when
// the step succeeds, never recomputed after execution.
type PlanStep struct {
	ID       step.ID
	Reason   Reason
	Checksum checksum.Checksum
}

// WillRun reports whether the step is scheduled to execute.
func (ps PlanStep) WillRun() bool { return ps.Reason != ReasonClean }

// Plan is the deterministic execution plan for one run: every selected
// step in topological order with lexical tie-breaking, annotated with its
// reason. Identical workspace state and selection yield an identical plan
// in any process.
type Plan struct {
	Steps []PlanStep
}

// Runnable returns the plan steps scheduled to execute, in plan order.
func (p *Plan) Runnable() []PlanStep {
	var out []PlanStep
	for _, ps := range p.Steps {
		if ps.WillRun() {
			out = append(out, ps)
		}
	}
	return out
}

// HasWork reports whether any step is scheduled to execute.
func (p *Plan) HasWork() bool {
	for _, ps := range p.Steps {
		if ps.WillRun() {
			return true
		}
	}
	return false
}

// Checksums is the planner's and executor's view of the checksum store.
// *checksum.Store satisfies it.
type Checksums interface {
	FullChecksum(id step.ID) (checksum.Checksum, error)
	Recorded(id step.ID) (checksum.Checksum, bool)
	Persist(id step.ID, sum checksum.Checksum) error
}

// PlanOptions adjusts planning.
type PlanOptions struct {
	// Force schedules explicitly matched steps even when clean.
	Force bool
}

// BuildPlan resolves a selection against the workspace's recorded state.
//
// Each selected step is planned as dirty, forced, or selected-but-clean.
// Dependencies that stayed outside the selection are not planned, but they
// are vetted: one with no checksum record fails planning, since the
// selected steps would read outputs that were never produced; one whose
// record is stale only logs a warning, and its existing outputs are used
// as they are.
func BuildPlan(g *dag.Graph, sums Checksums, sel *dag.Selection, opts PlanOptions) (*Plan, error) {
	order := g.TopologicalOrder(sel.Steps)

	plan := &Plan{Steps: make([]PlanStep, 0, len(order))}
	for _, id := range order {
		full, err := sums.FullChecksum(id)
		if err != nil {
			return nil, err
		}

		reason := ReasonClean
		if recorded, ok := sums.Recorded(id); !ok || recorded != full {
			reason = ReasonDirty
		} else if opts.Force && sel.Matched.Contains(id) {
			reason = ReasonForced
		}
		plan.Steps = append(plan.Steps, PlanStep{ID: id, Reason: reason, Checksum: full})
	}

	for _, ps := range plan.Steps {
		if !ps.WillRun() {
			continue
		}
		for _, dep := range g.Dependencies(ps.ID) {
			if sel.Steps.Contains(dep) {
				continue
			}
			recorded, ok := sums.Recorded(dep)
			if !ok {
				return nil, &PlanError{Code: ErrCodeMissingDependencyRecord, Step: ps.ID, Dependency: dep}
			}
			current, err := sums.FullChecksum(dep)
			if err != nil {
				return nil, err
			}
			if recorded != current {
				slog.Warn("dependency outside the selection is stale; using its existing outputs",
					"step", ps.ID.String(), "dependency", dep.String())
			}
		}
	}
	return plan, nil
}
