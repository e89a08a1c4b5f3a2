package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/harvest/internal/step"
)

// PlanErrorCode categorizes planning errors.
type PlanErrorCode string

const (
	// ErrCodeMissingDependencyRecord means a dependency excluded from the
	// selection has never been built successfully, so the selected steps
	// would read outputs that do not exist.
	ErrCodeMissingDependencyRecord PlanErrorCode = "MISSING_DEPENDENCY_RECORD"
)

// PlanError reports a selection that cannot become a runnable plan.
type PlanError struct {
	Code PlanErrorCode

	// Step is the in-plan step whose dependency is unusable.
	Step step.ID

	// Dependency is the out-of-selection dependency at fault.
	Dependency step.ID
}

func (e *PlanError) Error() string {
	switch e.Code {
	case ErrCodeMissingDependencyRecord:
		return fmt.Sprintf("%s: step %s reads %s, which is outside the selection and has never been built",
			e.Code, e.Step, e.Dependency)
	default:
		return fmt.Sprintf("%s: step %s, dependency %s", e.Code, e.Step, e.Dependency)
	}
}

// IsMissingDependencyRecord reports whether err is a PlanError for an
// unbuilt out-of-selection dependency. Uses errors.As to handle wrapping.
func IsMissingDependencyRecord(err error) bool {
	var pe *PlanError
	return errors.As(err, &pe) && pe.Code == ErrCodeMissingDependencyRecord
}
