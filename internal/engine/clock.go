package engine

import "sync/atomic"

// Clock issues the strictly increasing sequence numbers that order step
// events within one run. Journal rows sort by these, so the recorded order
// carries no wall-clock ties even when steps finish in the same
// millisecond.
//
// Safe for concurrent use, though the coordinator's single-writer design
// means only one goroutine calls Next in practice.
type Clock struct {
	seq atomic.Int64
}

// NewClock returns a clock starting at zero.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number. Each call returns a unique,
// increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
