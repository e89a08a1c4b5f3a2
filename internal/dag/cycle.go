package dag

import "github.com/roach88/harvest/internal/step"

type visitState uint8

const (
	unvisited visitState = iota
	visiting
	visited
)

// findCycle searches for a dependency cycle with an iterative depth-first
// traversal and returns the cycle path, or nil for an acyclic graph. A back
// edge to a node still on the recursion stack is the cycle witness; the
// returned path runs from that node to the step that closes the loop.
//
// The traversal uses an explicit frame stack so chain depth is bounded by
// heap, not goroutine stack. Roots and edges are visited in sorted order,
// so the same graph always reports the same cycle.
func findCycle(nodes []step.ID, deps map[step.ID][]step.ID) []step.ID {
	state := make(map[step.ID]visitState, len(nodes))

	type frame struct {
		id   step.ID
		next int
	}

	for _, root := range nodes {
		if state[root] != unvisited {
			continue
		}

		stack := []frame{{id: root}}
		path := []step.ID{root}
		state[root] = visiting

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			edges := deps[top.id]

			if top.next < len(edges) {
				next := edges[top.next]
				top.next++

				switch state[next] {
				case visiting:
					for i, id := range path {
						if id == next {
							return append([]step.ID(nil), path[i:]...)
						}
					}
				case unvisited:
					state[next] = visiting
					stack = append(stack, frame{id: next})
					path = append(path, next)
				}
				continue
			}

			state[top.id] = visited
			stack = stack[:len(stack)-1]
			path = path[:len(path)-1]
		}
	}
	return nil
}
