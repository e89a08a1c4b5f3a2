package dag

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
)

//go:embed schema.cue
var schemaSource string

// validateShape checks a raw definition document against the embedded CUE
// schema. Violations come back as a SCHEMA_VIOLATION GraphError carrying
// the first error's position. Schema and document must share one CUE
// context, so both are built here per call; the schema is small enough
// that recompiling it per file does not matter.
func validateShape(filename string, data []byte) error {
	ctx := cuecontext.New()

	compiled := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := compiled.Err(); err != nil {
		panic(fmt.Sprintf("embedded schema.cue does not compile: %v", err))
	}
	schema := compiled.LookupPath(cue.ParsePath("#Document"))
	if err := schema.Err(); err != nil {
		panic(fmt.Sprintf("embedded schema.cue has no #Document: %v", err))
	}

	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return &GraphError{
			Code:    ErrCodeInvalidYAML,
			Message: fmt.Sprintf("parsing definition: %v", err),
			File:    filename,
		}
	}

	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return schemaError(filename, err)
	}
	// An empty or fully commented-out document decodes to null.
	if doc.Null() == nil {
		return nil
	}

	unified := schema.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return schemaError(filename, err)
	}
	return nil
}

// schemaError converts CUE validation errors into a single GraphError,
// keeping the first error's position and folding the rest into a count.
func schemaError(filename string, err error) *GraphError {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &GraphError{Code: ErrCodeSchema, Message: err.Error(), File: filename}
	}

	first := errs[0]
	msg := first.Error()
	if len(errs) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, len(errs)-1)
	}

	ge := &GraphError{Code: ErrCodeSchema, Message: msg, File: filename}
	if pos := first.Position(); pos.IsValid() {
		ge.File = pos.Filename()
		ge.Line = pos.Line()
	}
	return ge
}
