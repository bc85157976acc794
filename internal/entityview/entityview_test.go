package entityview

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lix/internal/schema"
	"github.com/roach88/lix/internal/sqlast"
	"github.com/roach88/lix/internal/sqlcompile"
	"github.com/roach88/lix/internal/sqlparser"
	"github.com/roach88/lix/internal/store"
	"github.com/roach88/lix/internal/vtable"
)

const todoSchema = `{
	"x-lix-key": "todo",
	"x-lix-version": "1.0",
	"x-lix-primary-key": ["/id"],
	"type": "object",
	"properties": {
		"id": {"type": "string"},
		"title": {"type": "string"},
		"done": {"type": "boolean"},
		"tags": {"type": "array"}
	},
	"required": ["id"]
}`

const settingSchema = `{
	"x-lix-key": "setting",
	"x-lix-version": "1.0",
	"x-lix-primary-key": ["/scope", "/name"],
	"x-lix-override-lixcols": {"lixcol_version_id": "'global'", "lixcol_untracked": "1"},
	"x-lix-entity-views": ["state"],
	"type": "object",
	"properties": {
		"scope": {"type": "string"},
		"name": {"type": "string"},
		"value": {}
	}
}`

func newCatalog(t *testing.T) *Catalog {
	t.Helper()
	var defs []*schema.Definition
	for _, raw := range []string{todoSchema, settingSchema} {
		d, err := schema.Parse([]byte(raw))
		require.NoError(t, err)
		defs = append(defs, d)
	}
	c, err := NewCatalog(defs)
	require.NoError(t, err)
	return c
}

func rewriteWrite(t *testing.T, c *Catalog, query string) string {
	t.Helper()
	st, err := sqlparser.ParseStatement(query)
	require.NoError(t, err)
	out, ok, err := c.RewriteWrite(st)
	require.NoError(t, err)
	require.True(t, ok)
	return sqlcompile.CompileStatement(out)
}

func TestCatalog_Views(t *testing.T) {
	c := newCatalog(t)
	assert.Equal(t, []string{
		"setting", "state", "state_all", "state_history",
		"todo", "todo_all", "todo_history",
	}, c.Names())

	v, ok := c.Lookup("TODO_ALL")
	require.True(t, ok)
	assert.Equal(t, All, v.Variant)
	assert.Equal(t, "todo", v.Schema.Key)

	_, ok = c.Lookup("setting_all")
	assert.False(t, ok, "opted-out variant is not a view")

	v, ok = c.Lookup("state")
	require.True(t, ok)
	assert.Nil(t, v.Schema)
	assert.Len(t, c.SQLViews(), 7)
}

func TestCatalog_ViewCollision(t *testing.T) {
	d, err := schema.Parse([]byte(`{"x-lix-key": "state", "x-lix-version": "1", "x-lix-primary-key": ["/id"]}`))
	require.NoError(t, err)
	_, err = NewCatalog([]*schema.Definition{d})
	assert.ErrorContains(t, err, "collides")
}

func TestCatalog_BaseViewDefinition(t *testing.T) {
	c := newCatalog(t)
	v, _ := c.Lookup("todo")
	got := sqlcompile.CompileStatement(v.Select)
	assert.Contains(t, got, "json_extract(snapshot_content, '$.title') AS title")
	assert.Contains(t, got, "entity_id AS lixcol_entity_id")
	assert.NotContains(t, got, "lixcol_version_id")
	assert.Contains(t, got, "WHERE schema_key = 'todo' AND version_id = (SELECT version_id FROM active_version)")

	v, _ = c.Lookup("setting")
	assert.Contains(t, sqlcompile.CompileStatement(v.Select), "version_id = 'global'")

	v, _ = c.Lookup("todo_all")
	got = sqlcompile.CompileStatement(v.Select)
	assert.Contains(t, got, "version_id AS lixcol_version_id")
	assert.NotContains(t, got, "active_version")
}

func TestExpand(t *testing.T) {
	c := newCatalog(t)
	st, err := sqlparser.ParseStatement(`SELECT t.title FROM todo AS t JOIN other ON other.id = t.id WHERE t.done`)
	require.NoError(t, err)

	out, changed, err := Expand(st, c.SQLViews())
	require.NoError(t, err)
	assert.True(t, changed)
	sel := out.(*sqlast.SelectStatement)
	join := sel.Core.From.(*sqlast.JoinExpr)
	sub, ok := join.Left.(*sqlast.SubqueryTable)
	require.True(t, ok)
	assert.Equal(t, "t", sub.Alias)
	assert.Equal(t, &sqlast.TableName{Name: "other"}, join.Right)

	again, changed, err := Expand(out, c.SQLViews())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, sqlcompile.CompileStatement(out), sqlcompile.CompileStatement(again))
}

func TestExpand_CTEShadowsView(t *testing.T) {
	c := newCatalog(t)
	st, err := sqlparser.ParseStatement(`WITH todo AS (SELECT 1 AS id) SELECT id FROM todo`)
	require.NoError(t, err)
	out, changed, err := Expand(st, c.SQLViews())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, sqlcompile.CompileStatement(st), sqlcompile.CompileStatement(out))
}

func TestRewriteWrite_DeletePreservesPredicate(t *testing.T) {
	c := newCatalog(t)
	got := rewriteWrite(t, c, `DELETE FROM todo WHERE id = ? OR title = ?`)
	assert.Equal(t, "DELETE FROM internal_state_vtable WHERE schema_key = 'todo' AND "+
		"version_id = (SELECT version_id FROM active_version) AND "+
		"(json_extract(snapshot_content, '$.id') = ?1 OR json_extract(snapshot_content, '$.title') = ?2)", got)

	st, err := sqlparser.ParseStatement(`DELETE FROM todo WHERE NOT (done AND title IS NULL) OR id BETWEEN 'a' AND 'b'`)
	require.NoError(t, err)
	out, _, err := c.RewriteWrite(st)
	require.NoError(t, err)
	conjuncts := sqlast.Conjuncts(out.(*sqlast.DeleteStatement).Where)
	require.Len(t, conjuncts, 3)
	or, ok := conjuncts[2].(*sqlast.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "OR", or.Op)
	_, ok = or.Left.(*sqlast.UnaryExpr)
	assert.True(t, ok)
	_, ok = or.Right.(*sqlast.BetweenExpr)
	assert.True(t, ok)
}

func TestRewriteWrite_SubqueriesKeepTheirOwnColumns(t *testing.T) {
	c := newCatalog(t)
	tests := []struct {
		name string
		sql  string
		want string
	}{
		{
			name: "in subquery over a table",
			sql:  `DELETE FROM todo WHERE id IN (SELECT id FROM ext)`,
			want: "json_extract(snapshot_content, '$.id') IN (SELECT id FROM ext)",
		},
		{
			name: "scalar subquery in SET",
			sql:  `UPDATE todo SET title = (SELECT title FROM ext WHERE ext.id = 'b') WHERE id = 'a'`,
			want: "json_set(snapshot_content, '$.title', (SELECT title FROM ext WHERE ext.id = 'b'))",
		},
		{
			name: "correlated reference by view name",
			sql:  `DELETE FROM todo WHERE EXISTS (SELECT 1 FROM ext WHERE ext.id = todo.id)`,
			want: "EXISTS (SELECT 1 FROM ext WHERE ext.id = json_extract(internal_state_vtable.snapshot_content, '$.id'))",
		},
		{
			name: "correlated reference by alias",
			sql:  `DELETE FROM todo AS t WHERE EXISTS (SELECT 1 FROM ext WHERE ext.title = t.title)`,
			want: "ext.title = json_extract(internal_state_vtable.snapshot_content, '$.title')",
		},
		{
			name: "unqualified name missing from a view subquery",
			sql:  `DELETE FROM todo WHERE EXISTS (SELECT 1 FROM setting WHERE name = title)`,
			want: "WHERE name = json_extract(internal_state_vtable.snapshot_content, '$.title'))",
		},
		{
			name: "inner relation shadows the view name",
			sql:  `DELETE FROM todo WHERE id IN (SELECT todo.id FROM todo WHERE todo.done)`,
			want: "IN (SELECT todo.id FROM todo WHERE todo.done)",
		},
		{
			name: "subquery without FROM",
			sql:  `DELETE FROM todo WHERE id = (SELECT title)`,
			want: "json_extract(snapshot_content, '$.id') = (SELECT json_extract(internal_state_vtable.snapshot_content, '$.title'))",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, rewriteWrite(t, c, tt.sql), tt.want)
		})
	}
}

func TestRewriteWrite_AllViewHasNoVersionScope(t *testing.T) {
	c := newCatalog(t)
	got := rewriteWrite(t, c, `DELETE FROM todo_all WHERE lixcol_version_id = 'v1' AND id = 'a'`)
	assert.Equal(t, "DELETE FROM internal_state_vtable WHERE schema_key = 'todo' AND "+
		"version_id = 'v1' AND json_extract(snapshot_content, '$.id') = 'a'", got)
}

func TestRewriteWrite_UpdateUsesJSONSet(t *testing.T) {
	c := newCatalog(t)
	got := rewriteWrite(t, c, `UPDATE todo SET title = upper(title), lixcol_untracked = 1 WHERE id = 'a'`)
	assert.Equal(t, "UPDATE internal_state_vtable SET "+
		"snapshot_content = json_set(snapshot_content, '$.title', upper(json_extract(snapshot_content, '$.title'))), "+
		"untracked = 1 WHERE schema_key = 'todo' AND version_id = (SELECT version_id FROM active_version) AND "+
		"json_extract(snapshot_content, '$.id') = 'a'", got)

	got = rewriteWrite(t, c, `UPDATE todo SET id = 'b' WHERE id = 'a'`)
	assert.Contains(t, got, "entity_id = json_extract(json_set(snapshot_content, '$.id', 'b'), '$.id')")
}

func TestRewriteWrite_Errors(t *testing.T) {
	c := newCatalog(t)
	tests := []struct {
		name string
		sql  string
	}{
		{"history is read-only", `DELETE FROM todo_history`},
		{"unknown column", `INSERT INTO todo (id, nope) VALUES ('a', 1)`},
		{"version on base view", `INSERT INTO todo (id, lixcol_version_id) VALUES ('a', 'v')`},
		{"no columns", `INSERT INTO todo VALUES ('a')`},
		{"read-only lixcol", `UPDATE todo SET lixcol_change_id = 'x'`},
		{"version filter on base view", `DELETE FROM todo WHERE lixcol_version_id = 'v'`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := sqlparser.ParseStatement(tt.sql)
			require.NoError(t, err)
			_, _, err = c.RewriteWrite(st)
			var we *WriteError
			assert.ErrorAs(t, err, &we)
		})
	}
}

func TestRewriteWrite_PassThrough(t *testing.T) {
	c := newCatalog(t)
	for _, q := range []string{
		`DELETE FROM setting_all`,
		`INSERT INTO other (a) VALUES (1)`,
		`SELECT * FROM todo`,
		`WITH todo AS (SELECT 1) DELETE FROM todo`,
	} {
		st, err := sqlparser.ParseStatement(q)
		require.NoError(t, err)
		out, ok, err := c.RewriteWrite(st)
		require.NoError(t, err, q)
		assert.False(t, ok, q)
		assert.Same(t, st, out, q)
	}
}

// session runs statements through view and relation rewriting on one
// connection.
type session struct {
	t       *testing.T
	ctx     context.Context
	conn    *sql.Conn
	catalog *Catalog
	tables  map[string]string
}

func newSession(t *testing.T) *session {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(filepath.Join(t.TempDir(), "lix.db"),
		store.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	conn, err := s.Conn(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = s.EnsureCacheTable(ctx, conn, "todo")
	require.NoError(t, err)
	tables, err := s.CacheTables(ctx, conn)
	require.NoError(t, err)
	require.NoError(t, store.SetActiveVersion(ctx, conn, "main"))
	return &session{t: t, ctx: ctx, conn: conn, catalog: newCatalog(t), tables: tables}
}

func (s *session) rewrite(query string) sqlast.Statement {
	st, err := sqlparser.ParseStatement(query)
	require.NoError(s.t, err)
	st, _, err = s.catalog.RewriteWrite(st)
	require.NoError(s.t, err)
	st, _, err = Expand(st, s.catalog.SQLViews())
	require.NoError(s.t, err)
	opts := vtable.Options{CacheTables: s.tables, IncludeTransaction: true}
	st, _, err = vtable.RewriteWrite(st, opts)
	require.NoError(s.t, err)
	st, _, err = vtable.Rewrite(st, opts)
	require.NoError(s.t, err)
	return st
}

func (s *session) exec(query string, args ...any) {
	_, err := s.conn.ExecContext(s.ctx, sqlcompile.CompileStatement(s.rewrite(query)), args...)
	require.NoError(s.t, err)
}

func (s *session) strings(query string, args ...any) []string {
	rows, err := s.conn.QueryContext(s.ctx, sqlcompile.CompileStatement(s.rewrite(query)), args...)
	require.NoError(s.t, err)
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var v sql.NullString
		require.NoError(s.t, rows.Scan(&v))
		out = append(out, v.String)
	}
	require.NoError(s.t, rows.Err())
	return out
}

func TestEntityView_InsertSelectDelete(t *testing.T) {
	s := newSession(t)
	s.exec(`INSERT INTO todo (id, title, done, tags) VALUES ('row1', 'X', 1, '["a"]')`)

	assert.Equal(t, []string{"X"}, s.strings(`SELECT title FROM todo WHERE id = 'row1'`))
	assert.Equal(t, []string{`{"done":true,"id":"row1","tags":["a"],"title":"X"}`},
		s.strings(`SELECT snapshot_content FROM state WHERE entity_id = 'row1'`))

	s.exec(`UPDATE todo SET title = ? WHERE id = ?`, "Y", "row1")
	assert.Equal(t, []string{"Y"}, s.strings(`SELECT title FROM todo WHERE id = 'row1'`))

	s.exec(`DELETE FROM todo WHERE id = 'row1'`)
	assert.Empty(t, s.strings(`SELECT title FROM todo WHERE id = 'row1'`))
}

func TestEntityView_VersionIsolation(t *testing.T) {
	s := newSession(t)
	s.exec(`INSERT INTO todo_all (id, title, lixcol_version_id) VALUES ('a', 'one', 'v1'), ('a', 'two', 'v2')`)

	assert.Equal(t, []string{"one"}, s.strings(`SELECT title FROM todo_all WHERE lixcol_version_id = 'v1'`))
	assert.Equal(t, []string{"two"}, s.strings(`SELECT title FROM todo_all WHERE lixcol_version_id = 'v2'`))
	assert.Empty(t, s.strings(`SELECT title FROM todo`))

	s.exec(`UPDATE todo_all SET title = 'changed' WHERE lixcol_version_id = 'v1'`)
	assert.Equal(t, []string{"changed"}, s.strings(`SELECT title FROM todo_all WHERE lixcol_version_id = 'v1'`))
	assert.Equal(t, []string{"two"}, s.strings(`SELECT title FROM todo_all WHERE lixcol_version_id = 'v2'`))
}

func TestEntityView_CompositeKeyAndOverrides(t *testing.T) {
	s := newSession(t)
	s.exec(`INSERT INTO setting (scope, name, value) VALUES ('ui', 'theme', 'dark')`)

	rows, err := store.ReadTransactionRows(s.ctx, s.conn)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ui~theme", rows[0].EntityID)
	assert.Equal(t, "global", rows[0].VersionID)
	assert.True(t, rows[0].Untracked)
	assert.Equal(t, "lix", rows[0].FileID)
	assert.Equal(t, "1.0", rows[0].SchemaVersion)

	assert.Equal(t, []string{"dark"}, s.strings(`SELECT value FROM setting WHERE name = 'theme'`))
}

func TestEntityView_SubqueryOverOtherTable(t *testing.T) {
	s := newSession(t)
	_, err := s.conn.ExecContext(s.ctx, `CREATE TABLE ext (id TEXT, title TEXT)`)
	require.NoError(t, err)
	_, err = s.conn.ExecContext(s.ctx, `INSERT INTO ext VALUES ('b', 'from-ext')`)
	require.NoError(t, err)
	s.exec(`INSERT INTO todo (id, title) VALUES ('a', 'keep'), ('b', 'drop')`)

	s.exec(`UPDATE todo SET title = (SELECT title FROM ext WHERE ext.id = 'b') WHERE id = 'a'`)
	assert.Equal(t, []string{"from-ext"}, s.strings(`SELECT title FROM todo WHERE id = 'a'`))

	s.exec(`DELETE FROM todo WHERE id IN (SELECT id FROM ext)`)
	assert.Equal(t, []string{"a"}, s.strings(`SELECT id FROM todo ORDER BY id`))
}
