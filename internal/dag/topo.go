package dag

import (
	"sort"

	"github.com/roach88/harvest/internal/step"
)

// TopologicalOrder returns the steps of the graph in dependency order:
// every step appears after all of its dependencies. A non-nil subset
// restricts the order to its members, ignoring edges that leave the
// subset.
//
// Kahn's algorithm with in-degree tracking; whenever several steps are
// ready at once the lexically smallest URI goes first, so the order is
// identical across runs and processes.
func (g *Graph) TopologicalOrder(subset Set) []step.ID {
	include := func(id step.ID) bool { return subset == nil || subset.Contains(id) }

	indegree := make(map[step.ID]int, len(g.steps))
	var ready []step.ID
	total := 0

	// g.steps is sorted, so ready starts sorted.
	for _, id := range g.steps {
		if !include(id) {
			continue
		}
		total++
		n := 0
		for _, dep := range g.deps[id] {
			if include(dep) {
				n++
			}
		}
		indegree[id] = n
		if n == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]step.ID, 0, total)
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, dependent := range g.dependents[id] {
			if !include(dependent) {
				continue
			}
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = insertSorted(ready, dependent)
			}
		}
	}
	return order
}

// insertSorted inserts id into a URI-sorted slice, keeping it sorted.
func insertSorted(ids []step.ID, id step.ID) []step.ID {
	i := sort.Search(len(ids), func(k int) bool { return id.Less(ids[k]) })
	ids = append(ids, step.ID{})
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}
