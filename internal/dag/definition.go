package dag

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/harvest/internal/step"
)

// Definition is the merged set of step declarations from one definition
// document and everything it transitively includes. It is the raw material
// Build turns into a Graph; it carries no edge validation of its own.
type Definition struct {
	deps    map[step.ID]map[step.ID]struct{}
	origins map[step.ID]string
}

func newDefinition() *Definition {
	return &Definition{
		deps:    make(map[step.ID]map[step.ID]struct{}),
		origins: make(map[step.ID]string),
	}
}

// Steps returns every declared step, sorted by URI.
func (d *Definition) Steps() []step.ID {
	ids := make([]step.ID, 0, len(d.deps))
	for id := range d.deps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

// Dependencies returns the merged dependency list of a declared step,
// sorted by URI. Undeclared steps yield nil.
func (d *Definition) Dependencies(id step.ID) []step.ID {
	set, ok := d.deps[id]
	if !ok {
		return nil
	}
	deps := make([]step.ID, 0, len(set))
	for dep := range set {
		deps = append(deps, dep)
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Less(deps[j]) })
	return deps
}

// Declared reports whether any loaded document declares id.
func (d *Definition) Declared(id step.ID) bool {
	_, ok := d.deps[id]
	return ok
}

// Origin returns the file:line that first declared id, for diagnostics.
func (d *Definition) Origin(id step.ID) string {
	return d.origins[id]
}

// Len returns the number of declared steps.
func (d *Definition) Len() int {
	return len(d.deps)
}

// LoadDefinition reads the definition document at path, validates its
// shape, resolves its include chain depth-first and merges everything into
// one Definition. Include paths resolve relative to the including file;
// each file loads once, so diamond includes are fine, but a file that
// includes itself transitively fails with INCLUDE_CYCLE.
//
// Dependency lists for a step declared in several files merge by union. A
// step URI repeated within a single document is a conflicting
// redeclaration and fails with DUPLICATE_STEP.
func LoadDefinition(path string) (*Definition, error) {
	l := &loader{
		def:    newDefinition(),
		loaded: make(map[string]bool),
	}
	if err := l.load(path); err != nil {
		return nil, err
	}
	return l.def, nil
}

type loader struct {
	def    *Definition
	loaded map[string]bool
	stack  []string
}

func (l *loader) load(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return &GraphError{
			Code:    ErrCodeDefinitionNotFound,
			Message: fmt.Sprintf("resolving definition path: %v", err),
			File:    path,
		}
	}

	for i, p := range l.stack {
		if p == abs {
			cycle := append(append([]string{}, l.stack[i:]...), abs)
			return &GraphError{
				Code:    ErrCodeIncludeCycle,
				Message: "definition files include each other",
				File:    abs,
				Cycle:   cycle,
			}
		}
	}
	if l.loaded[abs] {
		return nil
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return &GraphError{
			Code:    ErrCodeDefinitionNotFound,
			Message: fmt.Sprintf("reading definition: %v", err),
			File:    abs,
		}
	}

	// The syntax-tree walk runs first: duplicate keys and malformed URIs
	// get their own codes and line numbers. The schema then catches what
	// the walk tolerates (wrong value kinds, unknown fields).
	doc, err := parseDocument(abs, data)
	if err != nil {
		return err
	}
	if err := validateShape(abs, data); err != nil {
		return err
	}

	l.mergeEntries(abs, doc.entries)

	l.stack = append(l.stack, abs)
	for _, inc := range doc.includes {
		resolved := inc
		if !filepath.IsAbs(inc) {
			resolved = filepath.Join(filepath.Dir(abs), inc)
		}
		if err := l.load(resolved); err != nil {
			return err
		}
	}
	l.stack = l.stack[:len(l.stack)-1]

	l.loaded[abs] = true
	return nil
}

func (l *loader) mergeEntries(file string, entries []entry) {
	for _, e := range entries {
		set, ok := l.def.deps[e.id]
		if !ok {
			set = make(map[step.ID]struct{})
			l.def.deps[e.id] = set
			l.def.origins[e.id] = fmt.Sprintf("%s:%d", file, e.line)
		}
		for _, dep := range e.deps {
			set[dep] = struct{}{}
		}
	}
}

// entry is one step declaration as written in one document.
type entry struct {
	id   step.ID
	deps []step.ID
	line int
}

type document struct {
	includes []string
	entries  []entry
}

// parseDocument walks the YAML syntax tree directly rather than decoding
// into maps, which keeps line numbers for every error and lets a repeated
// step key be detected instead of silently collapsed.
func parseDocument(filename string, data []byte) (*document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &GraphError{
			Code:    ErrCodeInvalidYAML,
			Message: fmt.Sprintf("parsing definition: %v", err),
			File:    filename,
		}
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return &document{}, nil
	}

	mapping := resolveAlias(root.Content[0])
	if mapping.Kind == yaml.ScalarNode && mapping.Tag == "!!null" {
		return &document{}, nil
	}
	if mapping.Kind != yaml.MappingNode {
		return nil, &GraphError{
			Code:    ErrCodeSchema,
			Message: "definition document must be a mapping",
			File:    filename,
			Line:    mapping.Line,
		}
	}

	doc := &document{}
	declared := make(map[string]int)

	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key := resolveAlias(mapping.Content[i])
		val := resolveAlias(mapping.Content[i+1])

		switch key.Value {
		case "include":
			if val.Kind != yaml.SequenceNode {
				continue // schema validation reports the shape error
			}
			for _, item := range val.Content {
				doc.includes = append(doc.includes, resolveAlias(item).Value)
			}

		case "steps":
			if val.Kind != yaml.MappingNode {
				continue // schema validation reports the shape error
			}
			for j := 0; j+1 < len(val.Content); j += 2 {
				stepKey := resolveAlias(val.Content[j])
				depsVal := resolveAlias(val.Content[j+1])

				if first, dup := declared[stepKey.Value]; dup {
					return nil, &GraphError{
						Code:    ErrCodeDuplicateStep,
						Message: fmt.Sprintf("step declared twice in one document (first declaration at line %d)", first),
						File:    filename,
						Line:    stepKey.Line,
						Step:    stepKey.Value,
					}
				}
				declared[stepKey.Value] = stepKey.Line

				id, err := step.Parse(stepKey.Value)
				if err != nil {
					return nil, &GraphError{
						Code:    ErrCodeBadStepURI,
						Message: err.Error(),
						File:    filename,
						Line:    stepKey.Line,
						Step:    stepKey.Value,
					}
				}

				var deps []step.ID
				for _, depNode := range depsVal.Content {
					dn := resolveAlias(depNode)
					dep, err := step.Parse(dn.Value)
					if err != nil {
						return nil, &GraphError{
							Code:    ErrCodeBadStepURI,
							Message: err.Error(),
							File:    filename,
							Line:    dn.Line,
							Step:    dn.Value,
						}
					}
					deps = append(deps, dep)
				}
				doc.entries = append(doc.entries, entry{id: id, deps: deps, line: stepKey.Line})
			}
		}
	}
	return doc, nil
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	if n.Kind == yaml.AliasNode && n.Alias != nil {
		return n.Alias
	}
	return n
}
