package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const todoSchema = `{
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
}`

// testLix is a temporary lix with a config file.
type testLix struct {
	Dir        string
	DB         string
	Config     string
	SchemaPath string
}

// newTestLix writes the todo schema and a deterministic config enabling
// the JSON plugin.
func newTestLix(t *testing.T) *testLix {
	t.Helper()
	dir := t.TempDir()
	schemaDir := filepath.Join(dir, "schemas")
	require.NoError(t, os.MkdirAll(schemaDir, 0o755))
	schemaPath := filepath.Join(schemaDir, "todo.json")
	require.NoError(t, os.WriteFile(schemaPath, []byte(todoSchema), 0o644))

	db := filepath.Join(dir, "lix.db")
	cfg := "database: " + quote(db) + "\n" +
		"deterministic:\n  enabled: true\n  seed: cli\n" +
		"schemas:\n  - " + quote(schemaDir) + "\n" +
		"plugins:\n  - plugin_json\n"
	cfgPath := filepath.Join(dir, "lix.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	return &testLix{Dir: dir, DB: db, Config: cfgPath, SchemaPath: schemaPath}
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// run executes the CLI against the lix's config.
func (l *testLix) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCLI(t, "", append([]string{"-c", l.Config}, args...)...)
}

// mustRun is run that fails the test on error.
func (l *testLix) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := l.run(t, args...)
	require.NoError(t, err, out)
	return out
}

// runCLI executes the root command with stdin and returns stdout.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// decodeData unmarshals the data field of a JSON CLI response.
func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	require.NoError(t, json.Unmarshal(resp.Data, v), out)
}
