package dag

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/harvest/internal/step"
)

// GraphErrorCode categorizes definition and graph construction errors.
type GraphErrorCode string

const (
	// ErrCodeDefinitionNotFound indicates a missing definition document.
	ErrCodeDefinitionNotFound GraphErrorCode = "DEFINITION_NOT_FOUND"

	// ErrCodeInvalidYAML indicates the document could not be read or parsed.
	ErrCodeInvalidYAML GraphErrorCode = "INVALID_YAML"

	// ErrCodeSchema indicates the document parsed but violates the schema.
	ErrCodeSchema GraphErrorCode = "SCHEMA_VIOLATION"

	// ErrCodeBadStepURI indicates a step or dependency URI failed to parse.
	ErrCodeBadStepURI GraphErrorCode = "BAD_STEP_URI"

	// ErrCodeDuplicateStep indicates a step URI declared twice in one document.
	ErrCodeDuplicateStep GraphErrorCode = "DUPLICATE_STEP"

	// ErrCodeIncludeCycle indicates definition files that include each other.
	ErrCodeIncludeCycle GraphErrorCode = "INCLUDE_CYCLE"

	// ErrCodeUnknownStep indicates a dependency on a step nobody declares.
	ErrCodeUnknownStep GraphErrorCode = "UNKNOWN_STEP"

	// ErrCodeCyclicDependency indicates a dependency cycle between steps.
	ErrCodeCyclicDependency GraphErrorCode = "CYCLIC_DEPENDENCY"
)

// GraphError is any error raised while loading definitions or building the
// graph. All graph errors are fatal: they are reported before execution
// begins and nothing runs.
type GraphError struct {
	// Code identifies the error category.
	Code GraphErrorCode

	// Message is a human-readable description.
	Message string

	// File is the definition file involved, when known.
	File string

	// Line is the position within File, when known (1-based, 0 if unknown).
	Line int

	// Step is the offending step URI, when one is identifiable.
	Step string

	// Cycle holds the full cycle path for CYCLIC_DEPENDENCY and
	// INCLUDE_CYCLE, first element repeated at the end.
	Cycle []string
}

// Error implements the error interface.
func (e *GraphError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if e.Step != "" {
		fmt.Fprintf(&b, " (step=%s)", e.Step)
	}
	if e.File != "" {
		if e.Line > 0 {
			fmt.Fprintf(&b, " (%s:%d)", e.File, e.Line)
		} else {
			fmt.Fprintf(&b, " (%s)", e.File)
		}
	}
	if len(e.Cycle) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Cycle, " -> "))
	}
	return b.String()
}

// IsCyclicDependency reports whether err is a step-cycle error.
// Uses errors.As to handle wrapped errors.
func IsCyclicDependency(err error) bool {
	var ge *GraphError
	if errors.As(err, &ge) {
		return ge.Code == ErrCodeCyclicDependency
	}
	return false
}

// IsUnknownStep reports whether err is an unknown-reference error.
func IsUnknownStep(err error) bool {
	var ge *GraphError
	if errors.As(err, &ge) {
		return ge.Code == ErrCodeUnknownStep
	}
	return false
}

// IsDuplicateStep reports whether err is a conflicting-redeclaration error.
func IsDuplicateStep(err error) bool {
	var ge *GraphError
	if errors.As(err, &ge) {
		return ge.Code == ErrCodeDuplicateStep
	}
	return false
}

// NewCycleError builds the CYCLIC_DEPENDENCY error for a closed path. The
// path is reported start-to-start so the report reads as the actual loop.
func NewCycleError(cycle []step.ID) *GraphError {
	uris := make([]string, 0, len(cycle)+1)
	for _, id := range cycle {
		uris = append(uris, id.String())
	}
	if len(uris) > 0 {
		uris = append(uris, uris[0])
	}
	return &GraphError{
		Code:    ErrCodeCyclicDependency,
		Message: "dependency cycle detected",
		Cycle:   uris,
	}
}

// NewUnknownStepError builds the UNKNOWN_STEP error for a dangling
// dependency reference.
func NewUnknownStepError(ref string, declaredBy step.ID) *GraphError {
	return &GraphError{
		Code:    ErrCodeUnknownStep,
		Message: fmt.Sprintf("step %s depends on %s, which no definition declares", declaredBy, ref),
		Step:    ref,
	}
}
