package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lix/internal/engine"
	"github.com/roach88/lix/internal/ir"
)

func TestWatch(t *testing.T) {
	lix := newTestLix(t)
	stdin := `INSERT INTO todo (id, title)
VALUES ('t1', 'a');
SELECT * FROM no_such_table;
UPDATE todo SET title = 'b' WHERE id = 't1';
DELETE FROM todo WHERE id = 't1'`

	out, err := runCLI(t, stdin, "-c", lix.Config, "watch")
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "commit (1 change(s))"), out)
	assert.Contains(t, out, "upsert todo t1")
	assert.Contains(t, out, "delete todo t1")
}

func TestWatch_JSON(t *testing.T) {
	lix := newTestLix(t)

	out, err := runCLI(t, "INSERT INTO todo (id, title) VALUES ('t1', 'a');",
		"-c", lix.Config, "--format", "json", "watch")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1, out)
	var ev engine.StateCommitEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
	require.Len(t, ev.Changes, 1)
	assert.Equal(t, "todo", ev.Changes[0].SchemaKey)
	assert.Equal(t, "t1", ev.Changes[0].EntityID)
}

func TestReadStatements(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	in := "SELECT 1;\n\nSELECT\n  2;\nSELECT 3"
	var got []string
	for stmt := range readStatements(ctx, strings.NewReader(in)) {
		got = append(got, stmt)
	}
	assert.Equal(t, []string{"SELECT 1;", "SELECT\n  2;", "SELECT 3"}, got)
}

func TestPrintEvent_HidesBuiltins(t *testing.T) {
	ev := engine.StateCommitEvent{Changes: []ir.CommittedChange{
		{EntityID: "c1", SchemaKey: "lix_commit", Snapshot: json.RawMessage(`{"id":"c1"}`), VersionID: "global"},
		{EntityID: "t1", SchemaKey: "todo", VersionID: "main"},
	}}
	builtin := map[string]bool{"lix_commit": true}

	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}
	require.NoError(t, printEvent(f, ev, builtin, false))
	assert.Contains(t, buf.String(), "commit (1 change(s))")
	assert.Contains(t, buf.String(), "delete todo t1 version=main")
	assert.NotContains(t, buf.String(), "lix_commit")

	buf.Reset()
	require.NoError(t, printEvent(f, ev, builtin, true))
	assert.Contains(t, buf.String(), "upsert lix_commit c1")

	buf.Reset()
	only := engine.StateCommitEvent{Changes: ev.Changes[:1]}
	require.NoError(t, printEvent(f, only, builtin, false))
	assert.Empty(t, buf.String())
}
