package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWriteAndApply(t *testing.T) {
	lix := newTestLix(t)
	local := filepath.Join(lix.Dir, "config.json")
	require.NoError(t, os.WriteFile(local, []byte(`{"a": 1, "b": "x"}`), 0o644))

	out := lix.mustRun(t, "file", "write", "f1", "/config.json", local)
	assert.Contains(t, out, "Wrote /config.json")

	out = lix.mustRun(t, "--format", "json", "query",
		"SELECT property FROM plugin_json_property WHERE lixcol_file_id = ? ORDER BY property", "--arg", "f1")
	var props []map[string]any
	decodeData(t, out, &props)
	require.Len(t, props, 2)
	assert.Equal(t, "a", props[0]["property"])

	require.NoError(t, os.WriteFile(local, []byte(`{"a": 2}`), 0o644))
	lix.mustRun(t, "file", "write", "f1", "/config.json", local)

	out = lix.mustRun(t, "file", "apply", "f1")
	assert.JSONEq(t, `{"a": 2}`, out)

	rebuilt := filepath.Join(lix.Dir, "rebuilt.json")
	lix.mustRun(t, "file", "apply", "f1", "--version", "main", "-o", rebuilt)
	data, err := os.ReadFile(rebuilt)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 2}`, string(data))

	out = lix.mustRun(t, "--format", "json", "file", "apply", "f1")
	var res map[string]any
	decodeData(t, out, &res)
	assert.Equal(t, "/config.json", res["path"])
}

func TestFileErrors(t *testing.T) {
	lix := newTestLix(t)

	out, err := lix.run(t, "file", "apply", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E203]")

	_, err = lix.run(t, "file", "write", "f1", "/x.json", filepath.Join(lix.Dir, "nope.json"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
