package engine

import "sync/atomic"

// Clock is the instance's logical sequence.
//
// In deterministic mode every id (lix_uuid_v7, change sets, commits) and
// every timestamp draws the next value from the clock, and each commit
// persists the current value, so reopening a lix resumes the sequence
// where it stopped.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// Reset moves the clock to seq, e.g. to the value persisted by the last
// commit.
func (c *Clock) Reset(seq int64) {
	c.seq.Store(seq)
}
