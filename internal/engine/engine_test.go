package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lix/internal/ir"
	"github.com/roach88/lix/internal/plugin/jsonprop"
	"github.com/roach88/lix/internal/preprocess"
	"github.com/roach88/lix/internal/shape"
	"github.com/roach88/lix/internal/sqlast"
	"github.com/roach88/lix/internal/sqlparser"
	"github.com/roach88/lix/internal/testutil"
)

var todoSchema = []byte(`{
  "x-lix-key": "todo",
  "x-lix-version": "1.0",
  "x-lix-primary-key": ["/id"],
  "type": "object",
  "properties": {
    "id": { "type": "string" },
    "title": { "type": "string" },
    "done": { "type": "boolean" }
  },
  "required": ["id", "title"],
  "additionalProperties": false
}`)

func openAt(t *testing.T, path string, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithLogger(testutil.DiscardLogger())}, opts...)
	e, err := Open(context.Background(), path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithSchemas(todoSchema)}, opts...)
	return openAt(t, filepath.Join(t.TempDir(), "lix.db"), opts...)
}

func ids(t *testing.T, e *Engine, query string, args ...any) []string {
	t.Helper()
	rows, err := e.Query(context.Background(), query, args...)
	require.NoError(t, err)
	out := []string{}
	for _, r := range rows {
		out = append(out, text(r["id"]))
	}
	return out
}

func TestOpen_Bootstraps(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	versions, err := e.Versions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 2)

	active, err := e.ActiveVersion(ctx)
	require.NoError(t, err)
	main, err := e.Version(ctx, active)
	require.NoError(t, err)
	assert.Equal(t, MainVersionName, main.Name)
	require.NotNil(t, main.InheritsFromVersionID)
	assert.Equal(t, ir.GlobalVersion, *main.InheritsFromVersionID)
	assert.NotEmpty(t, main.CommitID)
	assert.NotEqual(t, main.CommitID, main.WorkingCommitID)

	global, err := e.Version(ctx, ir.GlobalVersion)
	require.NoError(t, err)
	assert.Nil(t, global.InheritsFromVersionID)
	assert.True(t, global.Hidden)
}

func TestExec_InsertAndRead(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	res, err := e.Exec(ctx, `INSERT INTO todo (id, title, done) VALUES (?, ?, ?)`, "t1", "write tests", false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Statements)

	rows, err := e.Query(ctx, `SELECT id, title FROM todo`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "t1", text(rows[0]["id"]))
	assert.Equal(t, "write tests", text(rows[0]["title"]))

	_, err = e.Exec(ctx, `UPDATE todo SET title = 'done' WHERE id = 't1'`)
	require.NoError(t, err)
	rows, err = e.Query(ctx, `SELECT title FROM todo WHERE id = ?`, "t1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "done", text(rows[0]["title"]))

	_, err = e.Exec(ctx, `DELETE FROM todo WHERE id = 't1'`)
	require.NoError(t, err)
	assert.Empty(t, ids(t, e, `SELECT id FROM todo`))
}

var deleteSchema = []byte(`{
  "x-lix-key": "delete_schema",
  "x-lix-version": "1.0",
  "x-lix-primary-key": ["/id"],
  "type": "object",
  "properties": {
    "id": { "type": "string" },
    "name": { "type": "string" }
  },
  "required": ["id"]
}`)

func TestExec_DeleteByParameter(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, WithSchemas(deleteSchema))

	_, err := e.Exec(ctx, `INSERT INTO delete_schema (id, name) VALUES ('row-1', 'Original')`)
	require.NoError(t, err)
	assert.Equal(t, []string{"row-1"}, ids(t, e, `SELECT id FROM delete_schema WHERE id = ?`, "row-1"))

	const del = `DELETE FROM delete_schema WHERE id = ?`
	st, err := sqlparser.ParseStatement(del)
	require.NoError(t, err)
	rewritten, ok, err := e.deps().Catalog.RewriteWrite(st)
	require.NoError(t, err)
	require.True(t, ok)
	d, isDelete := rewritten.(*sqlast.DeleteStatement)
	require.True(t, isDelete)
	assert.Equal(t, shape.VtableName, d.Table.Name)
	assert.Contains(t, sqlast.Conjuncts(d.Where),
		sqlast.Expr(sqlast.Eq(sqlast.Col("schema_key"), sqlast.Str("delete_schema"))))

	out, err := e.Preprocess(preprocess.Input{SQL: del, Parameters: []any{"row-1"}, Trace: true})
	require.NoError(t, err)
	var steps []string
	for _, entry := range out.Trace {
		steps = append(steps, entry.Step)
		if entry.Step == preprocess.StepEntityViewWrite {
			assert.Contains(t, entry.Payload, "DELETE FROM "+shape.VtableName+" WHERE schema_key = 'delete_schema'")
		}
	}
	assert.Contains(t, steps, preprocess.StepEntityViewWrite)

	res, err := e.Exec(ctx, del, "row-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Statements)
	assert.Empty(t, ids(t, e, `SELECT id FROM delete_schema WHERE id = ?`, "row-1"))
}

func TestExec_InvalidSnapshotRollsBack(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	// title is required
	_, err := e.Exec(ctx, `INSERT INTO todo (id) VALUES ('t1')`)
	require.Error(t, err)
	assert.Empty(t, ids(t, e, `SELECT id FROM todo`))
}

func TestSession_Isolation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	writer, err := e.Session(ctx)
	require.NoError(t, err)
	defer writer.Close()
	reader, err := e.Session(ctx)
	require.NoError(t, err)
	defer reader.Close()

	require.NoError(t, writer.Begin(ctx))
	assert.True(t, writer.InTransaction())
	_, err = writer.Exec(ctx, `INSERT INTO todo (id, title) VALUES ('t1', 'a')`)
	require.NoError(t, err)

	own, err := writer.QueryRows(ctx, `SELECT id FROM todo`)
	require.NoError(t, err)
	assert.Len(t, own, 1, "a session reads its own buffered writes")

	other, err := reader.QueryRows(ctx, `SELECT id FROM todo`)
	require.NoError(t, err)
	assert.Empty(t, other, "buffered writes are private to the session")

	require.NoError(t, writer.Commit(ctx))
	assert.False(t, writer.InTransaction())

	other, err = reader.QueryRows(ctx, `SELECT id FROM todo`)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestSession_Rollback(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	s, err := e.Session(ctx)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Begin(ctx))
	_, err = s.Exec(ctx, `INSERT INTO todo (id, title) VALUES ('t1', 'a')`)
	require.NoError(t, err)
	require.NoError(t, s.Rollback(ctx))

	rows, err := s.QueryRows(ctx, `SELECT id FROM todo`)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSession_Errors(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	s, err := e.Session(ctx)
	require.NoError(t, err)

	assert.True(t, HasCode(s.Commit(ctx), ErrCodeNoTransaction))
	assert.True(t, HasCode(s.Rollback(ctx), ErrCodeNoTransaction))
	require.NoError(t, s.Begin(ctx))
	assert.True(t, HasCode(s.Begin(ctx), ErrCodeTransactionOpen))

	_, err = s.Query(ctx, `SELECT 1; SELECT 2`)
	assert.True(t, HasCode(err, ErrCodeMultipleStatements))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.Exec(ctx, `SELECT 1`)
	assert.True(t, HasCode(err, ErrCodeSessionClosed))
}

func TestOnStateCommit(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	var events []StateCommitEvent
	unsubscribe := e.OnStateCommit(func(ev StateCommitEvent) { events = append(events, ev) })
	sub := e.Subscribe()
	defer sub.Close()

	_, err := e.Exec(ctx, `INSERT INTO todo (id, title) VALUES ('t1', 'a')`)
	require.NoError(t, err)

	require.Len(t, events, 1)
	var todos []ir.CommittedChange
	for _, c := range events[0].Changes {
		if c.SchemaKey == "todo" {
			todos = append(todos, c)
		}
	}
	require.Len(t, todos, 1)
	assert.Equal(t, "t1", todos[0].EntityID)
	assert.NotEmpty(t, todos[0].CommitID)

	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, events[0], ev)

	unsubscribe()
	_, err = e.Exec(ctx, `INSERT INTO todo (id, title) VALUES ('t2', 'b')`)
	require.NoError(t, err)
	assert.Len(t, events, 1, "unsubscribed listener is not called")
	assert.Equal(t, 1, sub.Pending())

	sub.Close()
	_, err = sub.Next(ctx)
	require.NoError(t, err, "queued events survive Close")
	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
}

func TestListenerMayWrite(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	fired := false
	e.OnStateCommit(func(ev StateCommitEvent) {
		if fired {
			return
		}
		fired = true
		_, err := e.Exec(ctx, `INSERT INTO todo (id, title) VALUES ('echo', 'from listener')`)
		assert.NoError(t, err)
	})

	_, err := e.Exec(ctx, `INSERT INTO todo (id, title) VALUES ('t1', 'a')`)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"echo", "t1"}, ids(t, e, `SELECT id FROM todo`))
}

func TestRegisterSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lix.db")

	e, err := Open(ctx, path, WithLogger(testutil.DiscardLogger()))
	require.NoError(t, err)
	def, err := e.RegisterSchema(ctx, todoSchema)
	require.NoError(t, err)
	assert.Equal(t, "todo", def.Key)

	_, err = e.RegisterSchema(ctx, todoSchema)
	assert.True(t, HasCode(err, ErrCodeSchemaExists))

	builtin := []byte(`{"x-lix-key":"lix_commit","x-lix-version":"9","x-lix-primary-key":["/id"],"type":"object"}`)
	_, err = e.RegisterSchema(ctx, builtin)
	assert.True(t, HasCode(err, ErrCodeBuiltinSchema))

	stored := ids(t, e, `SELECT key AS id FROM lix_stored_schema`)
	assert.Contains(t, stored, "todo")

	_, err = e.Exec(ctx, `INSERT INTO todo (id, title) VALUES ('t1', 'a')`)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	reopened := openAt(t, path)
	_, ok := reopened.registry.Lookup("todo")
	assert.True(t, ok, "stored schemas are loaded on open")
	assert.Equal(t, []string{"t1"}, ids(t, reopened, `SELECT id FROM todo`))
}

func TestVersions_Inheritance(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Exec(ctx, `INSERT INTO todo (id, title) VALUES ('t1', 'from main')`)
	require.NoError(t, err)
	mainID, err := e.ActiveVersion(ctx)
	require.NoError(t, err)

	feature, err := e.CreateVersion(ctx, VersionOptions{ID: "feature", Name: "feature"})
	require.NoError(t, err)
	main, err := e.Version(ctx, mainID)
	require.NoError(t, err)
	assert.Equal(t, main.CommitID, feature.CommitID)
	require.NotNil(t, feature.InheritsFromVersionID)
	assert.Equal(t, mainID, *feature.InheritsFromVersionID)

	_, err = e.CreateVersion(ctx, VersionOptions{ID: "feature"})
	assert.True(t, HasCode(err, ErrCodeVersionExists))

	require.NoError(t, e.SwitchVersion(ctx, "feature"))
	assert.Equal(t, []string{"t1"}, ids(t, e, `SELECT id FROM todo`), "feature inherits main")

	_, err = e.Exec(ctx, `INSERT INTO todo (id, title) VALUES ('t2', 'from feature')`)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t1", "t2"}, ids(t, e, `SELECT id FROM todo`))

	require.NoError(t, e.SwitchVersion(ctx, mainID))
	assert.Equal(t, []string{"t1"}, ids(t, e, `SELECT id FROM todo`))

	err = e.SwitchVersion(ctx, "ghost")
	assert.True(t, IsVersionNotFound(err))
}

func TestDeterministic_Reproducible(t *testing.T) {
	ctx := context.Background()
	run := func() []string {
		e := newTestEngine(t, WithDeterministic("seed"))
		_, err := e.Exec(ctx, `INSERT INTO todo (id, title) VALUES ('t1', 'a')`)
		require.NoError(t, err)

		rows, err := e.Store().DB().QueryContext(ctx,
			`SELECT id || ':' || entity_id || ':' || created_at FROM internal_change ORDER BY id`)
		require.NoError(t, err)
		defer rows.Close()
		var out []string
		for rows.Next() {
			var s string
			require.NoError(t, rows.Scan(&s))
			out = append(out, s)
		}
		require.NoError(t, rows.Err())
		return out
	}
	first := run()
	assert.NotEmpty(t, first)
	assert.Equal(t, first, run())
}

func TestDeterministic_SequenceResumes(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lix.db")

	e, err := Open(ctx, path, WithLogger(testutil.DiscardLogger()), WithDeterministic("seed"), WithSchemas(todoSchema))
	require.NoError(t, err)
	_, err = e.Exec(ctx, `INSERT INTO todo (id, title) VALUES ('t1', 'a')`)
	require.NoError(t, err)
	seq := e.Clock().Current()
	require.NoError(t, e.Close())

	reopened := openAt(t, path, WithDeterministic("seed"))
	assert.Equal(t, seq, reopened.Clock().Current())
}

func TestWithMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	e := newTestEngine(t, WithMetrics(reg))

	_, err := e.Exec(ctx, `INSERT INTO todo (id, title) VALUES ('t1', 'a')`)
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["lix_commits_total"])
}

func TestDefineView(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	require.NoError(t, e.DefineView("open_todo", `SELECT id, title FROM todo WHERE title <> 'done'`))
	assert.True(t, HasCode(e.DefineView("todo", `SELECT 1`), ErrCodeViewExists))

	_, err := e.Exec(ctx, `INSERT INTO todo (id, title) VALUES ('t1', 'a'), ('t2', 'done')`)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, ids(t, e, `SELECT id FROM open_todo`))
}

func TestFiles_WriteAndApply(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, WithPlugins(jsonprop.Plugin{}))

	require.NoError(t, e.WriteFile(ctx, "f1", "/config.json", []byte(`{"a": 1, "b": "x"}`)))

	props, err := e.Query(ctx,
		`SELECT property AS id FROM plugin_json_property WHERE lixcol_file_id = ? ORDER BY property`, "f1")
	require.NoError(t, err)
	require.Len(t, props, 2)
	assert.Equal(t, "a", text(props[0]["id"]))

	require.NoError(t, e.WriteFile(ctx, "f1", "/config.json", []byte(`{"a": 2}`)))
	data, err := e.ApplyFile(ctx, "f1", "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 2}`, string(data))

	_, err = e.ApplyFile(ctx, "missing", "")
	assert.True(t, HasCode(err, ErrCodeFileNotFound))
}
