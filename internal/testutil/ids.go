package testutil

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// PrefixIDs hands out readable ids: prefix-1, prefix-2, ...
// It satisfies commit.IDGenerator.
//
// Thread-safety: PrefixIDs is safe for concurrent use.
type PrefixIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewPrefixIDs returns a generator for prefix. An empty prefix means "id".
func NewPrefixIDs(prefix string) *PrefixIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &PrefixIDs{prefix: prefix}
}

// NewID returns the next id.
func (g *PrefixIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Issued returns how many ids were handed out.
func (g *PrefixIDs) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
