package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lix/internal/ir"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{
		"internal_change",
		"internal_untracked_state",
		"internal_cache_table",
		"internal_state_writer",
		"internal_working_creation",
		"internal_file_lixcol_cache",
		"internal_file_data_cache",
		"internal_active_version",
		"internal_sequence",
		CacheTableName(ir.SchemaVersionDescriptor),
		CacheTableName(ir.SchemaCommit),
	}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}

	seq, err := Sequence(context.Background(), s.db)
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
		{"user_version", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.verifyPragma(tt.name, tt.expected); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestTransactionBuffer_IsPerConnection(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	a, err := s.Conn(ctx)
	require.NoError(t, err)
	defer a.Close()
	b, err := s.Conn(ctx)
	require.NoError(t, err)
	defer b.Close()

	_, err = a.ExecContext(ctx, `
		INSERT INTO internal_transaction_state
		(id, entity_id, schema_key, schema_version, file_id, plugin_key, version_id, snapshot_content, created_at)
		VALUES ('c1', 'e1', 'k', '1.0', 'lix', 'lix_own_entity', 'main', '{"id":"e1"}', '2025-01-01T00:00:00.000Z')
	`)
	require.NoError(t, err)

	rowsA, err := ReadTransactionRows(ctx, a)
	require.NoError(t, err)
	require.Len(t, rowsA, 1)
	assert.Equal(t, "e1", rowsA[0].EntityID)
	assert.JSONEq(t, `{"id":"e1"}`, string(rowsA[0].Snapshot))
	assert.False(t, rowsA[0].Untracked)
	assert.Nil(t, rowsA[0].WriterKey)

	rowsB, err := ReadTransactionRows(ctx, b)
	require.NoError(t, err)
	assert.Empty(t, rowsB)

	require.NoError(t, ClearTransaction(ctx, a))
	rowsA, err = ReadTransactionRows(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, rowsA)
}

func TestFunctions_Injected(t *testing.T) {
	validateErr := errors.New("snapshot rejected")
	s := createTestStore(t, WithFunctions(Functions{
		UUIDv7:    func() string { return "fixed-id" },
		Timestamp: func() string { return "2025-01-01T00:00:00.000Z" },
		ValidateSnapshot: func(schemaKey, snapshot string) (string, error) {
			if schemaKey == "bad" {
				return "", validateErr
			}
			return snapshot, nil
		},
	}))

	var id, ts, snap string
	err := s.db.QueryRow(`SELECT lix_uuid_v7(), lix_timestamp(), lix_validate_snapshot('ok', '{"a":1}')`).
		Scan(&id, &ts, &snap)
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", id)
	assert.Equal(t, "2025-01-01T00:00:00.000Z", ts)
	assert.Equal(t, `{"a":1}`, snap)

	err = s.db.QueryRow(`SELECT lix_validate_snapshot('bad', '{}')`).Scan(&snap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot rejected")
}

func TestFunctions_Defaults(t *testing.T) {
	s := createTestStore(t)

	var id, ts, snap string
	err := s.db.QueryRow(`SELECT lix_uuid_v7(), lix_timestamp(), lix_validate_snapshot('k', '{"b":1, "a":2}')`).
		Scan(&id, &ts, &snap)
	require.NoError(t, err)
	assert.Len(t, id, 36)
	assert.Len(t, ts, len(TimestampLayout))
	assert.Equal(t, `{"a":2,"b":1}`, snap)

	err = s.db.QueryRow(`SELECT lix_validate_snapshot('k', '{not json')`).Scan(&snap)
	assert.Error(t, err)
}
