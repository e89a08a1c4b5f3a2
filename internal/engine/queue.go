package engine

import (
	"sort"

	"github.com/roach88/harvest/internal/step"
)

// readyQueue holds steps whose dependencies are all satisfied. Pop always
// yields the lexically smallest URI, so dispatch order is deterministic:
// with one worker it pins the execution order completely.
//
// Only the coordinator goroutine touches the queue.
type readyQueue struct {
	ids []step.ID
}

func (q *readyQueue) Len() int { return len(q.ids) }

// Push inserts id, keeping the queue sorted by URI.
func (q *readyQueue) Push(id step.ID) {
	i := sort.Search(len(q.ids), func(k int) bool { return id.Less(q.ids[k]) })
	q.ids = append(q.ids, step.ID{})
	copy(q.ids[i+1:], q.ids[i:])
	q.ids[i] = id
}

// Pop removes and returns the lexically smallest step. Panics on an empty
// queue; callers check Len first.
func (q *readyQueue) Pop() step.ID {
	id := q.ids[0]
	q.ids = q.ids[1:]
	return id
}
