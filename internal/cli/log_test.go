package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lix/internal/ir"
)

func TestLog(t *testing.T) {
	lix := newTestLix(t)
	lix.mustRun(t, "exec", "INSERT INTO todo (id, title) VALUES ('t1', 'a')")
	lix.mustRun(t, "exec", "INSERT INTO todo (id, title) VALUES ('t2', 'b')")
	lix.mustRun(t, "exec", "DELETE FROM todo WHERE id = 't1'")

	out := lix.mustRun(t, "--format", "json", "log")
	var changes []ir.Change
	decodeData(t, out, &changes)
	require.Len(t, changes, 3)
	for _, c := range changes {
		assert.Equal(t, "todo", c.SchemaKey)
	}
	assert.Equal(t, "t1", changes[0].EntityID)
	assert.True(t, changes[2].IsTombstone())

	out = lix.mustRun(t, "--format", "json", "log", "--entity", "t1")
	decodeData(t, out, &changes)
	assert.Len(t, changes, 2)

	out = lix.mustRun(t, "--format", "json", "log", "-n", "1")
	decodeData(t, out, &changes)
	require.Len(t, changes, 1)
	assert.True(t, changes[0].IsTombstone())

	out = lix.mustRun(t, "--format", "json", "log", "--all")
	decodeData(t, out, &changes)
	assert.Greater(t, len(changes), 3)

	out = lix.mustRun(t, "log", "--entity", "t2")
	assert.Contains(t, out, "t2")
	assert.NotContains(t, out, "(deleted)")
}

func TestFilterChanges(t *testing.T) {
	changes := []ir.Change{
		{ID: "1", SchemaKey: "lix_commit"},
		{ID: "2", SchemaKey: "todo"},
		{ID: "3", SchemaKey: "todo"},
	}
	builtin := map[string]bool{"lix_commit": true}

	assert.Len(t, filterChanges(changes, builtin, false, 0), 2)
	assert.Len(t, filterChanges(changes, builtin, true, 0), 3)

	got := filterChanges(changes, builtin, true, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, "3", got[1].ID)
}
