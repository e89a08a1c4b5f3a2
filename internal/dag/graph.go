package dag

import (
	"sort"

	"github.com/roach88/harvest/internal/step"
)

// Graph is the validated step dependency graph: acyclic, fully resolved,
// with edges in both directions. It is immutable after Build and safe for
// concurrent reads. Slices returned by accessors are shared internals;
// callers must not modify them.
type Graph struct {
	steps      []step.ID
	deps       map[step.ID][]step.ID
	dependents map[step.ID][]step.ID
}

// Build validates a merged Definition into a Graph.
//
// Every dependency reference must name a declared step, with one
// exception: an external-channel dependency nobody declares is
// auto-declared as a stub with no dependencies of its own, since a stub's
// URI is its whole declaration. Any other dangling reference fails with
// UNKNOWN_STEP, and any dependency cycle fails with CYCLIC_DEPENDENCY
// naming the full cycle path.
func Build(def *Definition) (*Graph, error) {
	declared := def.Steps()

	deps := make(map[step.ID][]step.ID, len(declared))
	for _, id := range declared {
		deps[id] = def.Dependencies(id)
	}

	for _, id := range declared {
		for _, dep := range deps[id] {
			if _, ok := deps[dep]; ok {
				continue
			}
			if dep.Channel == step.ChannelExternal {
				deps[dep] = nil
				continue
			}
			return nil, NewUnknownStepError(dep.String(), id)
		}
	}

	steps := make([]step.ID, 0, len(deps))
	for id := range deps {
		steps = append(steps, id)
	}
	sortIDs(steps)

	if cycle := findCycle(steps, deps); len(cycle) > 0 {
		return nil, NewCycleError(cycle)
	}

	dependents := make(map[step.ID][]step.ID, len(deps))
	for _, id := range steps {
		for _, dep := range deps[id] {
			dependents[dep] = append(dependents[dep], id)
		}
	}
	for id := range dependents {
		sortIDs(dependents[id])
	}

	return &Graph{steps: steps, deps: deps, dependents: dependents}, nil
}

// Steps returns every step in the graph, sorted by URI.
func (g *Graph) Steps() []step.ID { return g.steps }

// Len returns the number of steps in the graph.
func (g *Graph) Len() int { return len(g.steps) }

// Has reports whether id is a node of the graph.
func (g *Graph) Has(id step.ID) bool {
	_, ok := g.deps[id]
	return ok
}

// Dependencies returns the direct dependencies of id, sorted by URI.
func (g *Graph) Dependencies(id step.ID) []step.ID { return g.deps[id] }

// Dependents returns the steps that directly depend on id, sorted by URI.
func (g *Graph) Dependents(id step.ID) []step.ID { return g.dependents[id] }

// TransitiveDependencies returns the dependency closure of the seeds,
// seeds included. Seeds not present in the graph are ignored.
func (g *Graph) TransitiveDependencies(seeds ...step.ID) Set {
	return g.closure(seeds, g.Dependencies)
}

// TransitiveDependents returns the dependent closure of the seeds, seeds
// included. Seeds not present in the graph are ignored.
func (g *Graph) TransitiveDependents(seeds ...step.ID) Set {
	return g.closure(seeds, g.Dependents)
}

func (g *Graph) closure(seeds []step.ID, edges func(step.ID) []step.ID) Set {
	out := make(Set)
	stack := append([]step.ID(nil), seeds...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if out.Contains(id) || !g.Has(id) {
			continue
		}
		out.Add(id)
		stack = append(stack, edges(id)...)
	}
	return out
}

func sortIDs(ids []step.ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}
