package commit

import (
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/lix/internal/ir"
)

// IDGenerator allocates change, change set and commit ids.
// Implemented by UUIDv7Generator (production), SequenceGenerator
// (deterministic mode) and FixedGenerator (tests).
type IDGenerator interface {
	NewID() string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewID returns a new hyphenated UUIDv7.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Sequence hands out strictly increasing numbers.
type Sequence interface {
	Next() int64
}

// SequenceGenerator derives ids from a seed and a sequence, so a run with
// the same seed and starting sequence reproduces every id.
type SequenceGenerator struct {
	seed string
	seq  Sequence
}

// NewSequenceGenerator creates a generator over seq.
func NewSequenceGenerator(seed string, seq Sequence) *SequenceGenerator {
	return &SequenceGenerator{seed: seed, seq: seq}
}

// NewID returns ir.DeterministicID(seed, seq.Next()).
func (g *SequenceGenerator) NewID() string {
	return ir.DeterministicID(g.seed, g.seq.Next())
}

// FixedGenerator returns predetermined ids for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
//
//	gen := NewFixedGenerator("a", "b")
//	gen.NewID() // "a"
//	gen.NewID() // "b"
//	gen.NewID() // panic: all ids exhausted
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// NewID returns the next predetermined id.
//
// Panics once every id has been consumed, which catches a test that
// commits more than it planned for.
func (g *FixedGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
