package dag

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/harvest/internal/step"
)

// Set is an unordered collection of step identifiers.
type Set map[step.ID]struct{}

// NewSet builds a Set from ids.
func NewSet(ids ...step.ID) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id into the set.
func (s Set) Add(id step.ID) { s[id] = struct{}{} }

// Contains reports whether id is in the set.
func (s Set) Contains(id step.ID) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of members.
func (s Set) Len() int { return len(s) }

// Sorted returns the members sorted by URI.
func (s Set) Sorted() []step.ID {
	ids := make([]step.ID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

// NoMatchError reports a selection pattern that matched nothing.
type NoMatchError struct {
	Pattern string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("pattern %q matches no step in the graph", e.Pattern)
}

// SelectOptions controls how patterns resolve to a step subset.
type SelectOptions struct {
	// Exact requires a pattern to equal a step URI outright; no glob or
	// substring matching.
	Exact bool

	// IncludeDependencies expands the matched set with every transitive
	// dependency, so a selection is always runnable on a fresh workspace.
	IncludeDependencies bool

	// IncludeDependents expands the matched set with every transitive
	// dependent, for rebuilding everything downstream of a change.
	IncludeDependents bool

	// ExcludePatterns removes matching steps after expansion.
	ExcludePatterns []string

	// Strict turns a pattern with zero matches into an error instead of
	// a warning.
	Strict bool
}

// Selection is the resolved result: the steps that matched the patterns
// themselves, and the full set after expansion and exclusion. Forced
// rebuilds apply to Matched only, never to steps pulled in by expansion.
type Selection struct {
	Matched Set
	Steps   Set
}

// Select resolves user-specified patterns to a subset of the graph. With
// no patterns every step matches. Each pattern is checked against every
// step URI; a pattern that matches nothing is a warning, or an error under
// opts.Strict.
func Select(g *Graph, patterns []string, opts SelectOptions) (*Selection, error) {
	matched := make(Set)

	if len(patterns) == 0 {
		for _, id := range g.Steps() {
			matched.Add(id)
		}
	}
	for _, pattern := range patterns {
		found := 0
		for _, id := range g.Steps() {
			var ok bool
			if opts.Exact {
				ok = id.String() == pattern
			} else {
				ok = id.Matches(pattern)
			}
			if ok {
				matched.Add(id)
				found++
			}
		}
		if found == 0 {
			if opts.Strict {
				return nil, &NoMatchError{Pattern: pattern}
			}
			slog.Warn("selection pattern matches no step", "pattern", pattern)
		}
	}

	selected := make(Set, len(matched))
	for id := range matched {
		selected.Add(id)
	}
	if opts.IncludeDependencies {
		for id := range g.TransitiveDependencies(matched.Sorted()...) {
			selected.Add(id)
		}
	}
	if opts.IncludeDependents {
		for id := range g.TransitiveDependents(matched.Sorted()...) {
			selected.Add(id)
		}
	}

	for _, pattern := range opts.ExcludePatterns {
		for id := range selected {
			if id.Matches(pattern) {
				delete(selected, id)
			}
		}
	}

	return &Selection{Matched: matched, Steps: selected}, nil
}
