package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lix/internal/ir"
)

func TestInsertChanges_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	c1 := createTestChange("c1", "e1", "k", `{"id":"e1"}`)
	c2 := createTestChange("c2", "e1", "k", "")
	c2.CreatedAt = "2025-01-02T00:00:00.000Z"
	require.NoError(t, InsertChanges(ctx, s.db, []ir.Change{c1, c2}))
	require.NoError(t, InsertChanges(ctx, s.db, []ir.Change{c1}))

	changes, err := ListChanges(ctx, s.db, ChangeFilter{EntityID: "e1"})
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "c1", changes[0].ID)
	assert.False(t, changes[0].IsTombstone())
	assert.True(t, changes[1].IsTombstone())

	got, err := ReadChange(ctx, s.db, "c1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"e1"}`, string(got.Snapshot))

	_, err = ReadChange(ctx, s.db, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	none, err := ListChanges(ctx, s.db, ChangeFilter{SchemaKey: "other"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestCacheRows_UpsertAndTombstone(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	table, err := s.EnsureCacheTable(ctx, s.db, "todo")
	require.NoError(t, err)
	assert.Equal(t, "internal_state_cache_todo", table)

	tables, err := s.CacheTables(ctx, s.db)
	require.NoError(t, err)
	assert.Equal(t, table, tables["todo"])

	row := ir.CacheRow{
		EntityID:      "t1",
		SchemaKey:     "todo",
		SchemaVersion: "1.0",
		FileID:        ir.LixOwnFile,
		PluginKey:     ir.LixPlugin,
		VersionID:     "main",
		Snapshot:      []byte(`{"id":"t1"}`),
		ChangeID:      "c1",
		CommitID:      "m1",
		CreatedAt:     "2025-01-01T00:00:00.000Z",
		UpdatedAt:     "2025-01-01T00:00:00.000Z",
	}
	require.NoError(t, UpsertCacheRows(ctx, s.db, tables, []ir.CacheRow{row}))

	id := ir.Identity{EntityID: "t1", SchemaKey: "todo", FileID: ir.LixOwnFile, VersionID: "main"}
	got, err := ReadCacheRow(ctx, s.db, id)
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ChangeID)
	assert.False(t, got.IsTombstone)

	row.Snapshot = nil
	row.ChangeID = "c2"
	row.UpdatedAt = "2025-01-02T00:00:00.000Z"
	require.NoError(t, UpsertCacheRows(ctx, s.db, tables, []ir.CacheRow{row}))

	got, err = ReadCacheRow(ctx, s.db, id)
	require.NoError(t, err)
	assert.True(t, got.IsTombstone)
	assert.Nil(t, got.Snapshot)
	assert.Equal(t, "2025-01-01T00:00:00.000Z", got.CreatedAt)

	row.SchemaKey = "unknown"
	err = UpsertCacheRows(ctx, s.db, tables, []ir.CacheRow{row})
	assert.ErrorIs(t, err, ErrNoCacheTable)
}

func TestCacheTableName(t *testing.T) {
	assert.Equal(t, "internal_state_cache_lix_commit", CacheTableName("lix_commit"))
	assert.Equal(t, "internal_state_cache_plugin_md_block", CacheTableName("plugin.md-block"))
}

func TestEnsureCacheTable_RejectsCollision(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	_, err := s.EnsureCacheTable(ctx, s.db, "a.b")
	require.NoError(t, err)
	_, err = s.EnsureCacheTable(ctx, s.db, "a-b")
	assert.Error(t, err)
	_, err = s.EnsureCacheTable(ctx, s.db, "a.b")
	assert.NoError(t, err)
}

func TestUntracked_UpsertDelete(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	row := ir.UntrackedRow{
		EntityID:      "theme",
		SchemaKey:     ir.SchemaKeyValue,
		SchemaVersion: "1.0",
		FileID:        ir.LixOwnFile,
		PluginKey:     ir.LixPlugin,
		VersionID:     ir.GlobalVersion,
		Snapshot:      []byte(`{"key":"theme","value":"dark"}`),
		CreatedAt:     "2025-01-01T00:00:00.000Z",
		UpdatedAt:     "2025-01-01T00:00:00.000Z",
	}
	require.NoError(t, UpsertUntracked(ctx, s.db, []ir.UntrackedRow{row}))

	listed, err := ListUntracked(ctx, s.db, ir.SchemaKeyValue, ir.GlobalVersion)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	row.Snapshot = []byte("null")
	require.NoError(t, UpsertUntracked(ctx, s.db, []ir.UntrackedRow{row}))

	id := ir.Identity{EntityID: "theme", SchemaKey: ir.SchemaKeyValue, FileID: ir.LixOwnFile, VersionID: ir.GlobalVersion}
	got, err := ReadUntracked(ctx, s.db, id)
	require.NoError(t, err)
	assert.Nil(t, got.Snapshot)

	listed, err = ListUntracked(ctx, s.db, ir.SchemaKeyValue, ir.GlobalVersion)
	require.NoError(t, err)
	assert.Empty(t, listed)

	require.NoError(t, DeleteUntracked(ctx, s.db, []ir.Identity{id}))
	_, err = ReadUntracked(ctx, s.db, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBookkeepingTables(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	_, err := ActiveVersion(ctx, s.db)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, SetActiveVersion(ctx, s.db, "main"))
	require.NoError(t, SetActiveVersion(ctx, s.db, "feature"))
	v, err := ActiveVersion(ctx, s.db)
	require.NoError(t, err)
	assert.Equal(t, "feature", v)

	require.NoError(t, SetSequence(ctx, s.db, 42))
	seq, err := Sequence(ctx, s.db)
	require.NoError(t, err)
	assert.Equal(t, int64(42), seq)

	writer := "editor"
	f := FileLixcol{FileID: "f1", VersionID: "main", LatestChangeID: "c1", LatestCommitID: "m1", WriterKey: &writer}
	require.NoError(t, UpsertFileLixcol(ctx, s.db, f))
	got, err := ReadFileLixcol(ctx, s.db, "f1", "main")
	require.NoError(t, err)
	assert.Equal(t, f, got)
	require.NoError(t, DeleteFileLixcol(ctx, s.db, "f1", "main"))
	_, err = ReadFileLixcol(ctx, s.db, "f1", "main")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, WriteFileData(ctx, s.db, "f1", "main", []byte("hello")))
	data, err := ReadFileData(ctx, s.db, "f1", "main")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	id := ir.Identity{EntityID: "e", SchemaKey: "k", FileID: "f1", VersionID: "main"}
	require.NoError(t, SetWriter(ctx, s.db, id, &writer))
	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM internal_state_writer`).Scan(&count))
	assert.Equal(t, 1, count)
	require.NoError(t, SetWriter(ctx, s.db, id, nil))
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM internal_state_writer`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestListCacheRows_SkipsTombstones(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	tables, err := s.CacheTables(ctx, s.db)
	require.NoError(t, err)

	row := func(id string, snapshot []byte) ir.CacheRow {
		return ir.CacheRow{
			EntityID: id, SchemaKey: ir.SchemaKeyValue, SchemaVersion: "1.0", FileID: ir.LixOwnFile,
			PluginKey: ir.LixPlugin, VersionID: ir.GlobalVersion, Snapshot: snapshot,
			ChangeID: "c-" + id, CommitID: "m1",
			CreatedAt: "2025-01-01T00:00:00.000Z", UpdatedAt: "2025-01-01T00:00:00.000Z",
		}
	}
	require.NoError(t, UpsertCacheRows(ctx, s.db, tables, []ir.CacheRow{
		row("b", []byte(`{"key":"b","value":1}`)),
		row("a", []byte(`{"key":"a","value":1}`)),
		row("gone", nil),
	}))

	got, err := ListCacheRows(ctx, s.db, ir.SchemaKeyValue, ir.GlobalVersion)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].EntityID)
	assert.Equal(t, "b", got[1].EntityID)

	none, err := ListCacheRows(ctx, s.db, ir.SchemaKeyValue, "main")
	require.NoError(t, err)
	assert.Empty(t, none)
}
