package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPluginKeys(t *testing.T) {
	assert.Equal(t, []string{"plugin_json"}, PluginKeys())
}

func TestOpenEngine_UnknownPlugin(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "lix.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("database: "+quote(filepath.Join(dir, "lix.db"))+"\nplugins: [plugin_csv]\n"), 0o644))

	_, err := runCLI(t, "", "-c", cfg, "query", "SELECT 1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `unknown plugin "plugin_csv"`)
}

func TestOpenEngine_BadConfig(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "lix.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("unknown_field: 1\n"), 0o644))

	_, err := runCLI(t, "", "-c", cfg, "query", "SELECT 1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestOpenEngine_Views(t *testing.T) {
	lix := newTestLix(t)
	data, err := os.ReadFile(lix.Config)
	require.NoError(t, err)
	data = append(data, []byte("views:\n  titled: SELECT id FROM todo WHERE title = 'keep'\n")...)
	require.NoError(t, os.WriteFile(lix.Config, data, 0o644))

	lix.mustRun(t, "exec", "INSERT INTO todo (id, title) VALUES ('t1', 'keep'), ('t2', 'drop')")

	out := lix.mustRun(t, "--format", "json", "query", "SELECT id FROM titled")
	var rows []map[string]any
	decodeData(t, out, &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, "t1", rows[0]["id"])
}

func TestDatabaseFlagOverridesConfig(t *testing.T) {
	lix := newTestLix(t)
	other := filepath.Join(t.TempDir(), "other.db")

	lix.mustRun(t, "--db", other, "exec", "INSERT INTO todo (id, title) VALUES ('t1', 'a')")
	_, err := os.Stat(other)
	require.NoError(t, err)

	out := lix.mustRun(t, "query", "SELECT id FROM todo")
	assert.Contains(t, out, "(0 rows)")
}
