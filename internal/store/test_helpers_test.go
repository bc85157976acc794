package store

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/roach88/lix/internal/ir"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestChange creates a change with minimal required fields.
func createTestChange(id, entityID, schemaKey, snapshot string) ir.Change {
	c := ir.Change{
		ID:            id,
		EntityID:      entityID,
		SchemaKey:     schemaKey,
		SchemaVersion: "1.0",
		FileID:        ir.LixOwnFile,
		PluginKey:     ir.LixPlugin,
		CreatedAt:     "2025-01-01T00:00:00.000Z",
	}
	if snapshot != "" {
		c.Snapshot = []byte(snapshot)
	}
	return c
}
