// Package testutil provides deterministic sequences, ids and loggers for
// tests of the commit engine and the layers above it.
package testutil

import (
	"sync"
	"time"
)

// Epoch is the first timestamp a DeterministicClock hands out.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// timestampLayout matches the store's timestamp format.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// DeterministicClock is a resettable logical clock. It satisfies
// commit.Sequence, so it can drive a commit.SequenceGenerator, and its
// Timestamp method can stand in for commit.Options.Timestamp.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

// NewDeterministicClock creates a new deterministic clock starting at 0.
//
// The first call to Next() returns 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next increments and returns the next sequence number.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the current sequence number without incrementing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Timestamp advances the clock and returns Epoch plus the new sequence in
// milliseconds.
func (c *DeterministicClock) Timestamp() string {
	ms := c.Next()
	return Epoch.Add(time.Duration(ms) * time.Millisecond).Format(timestampLayout)
}

// Reset resets the clock to 0.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
