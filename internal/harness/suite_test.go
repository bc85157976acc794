package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindScenarios(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "nested/c.yaml", "notes.txt"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	files, err := FindScenarios(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yml"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "nested", "c.yaml"),
	}, files)

	single := filepath.Join(dir, "b.yaml")
	files, err = FindScenarios(single)
	require.NoError(t, err)
	assert.Equal(t, []string{single}, files)

	_, err = FindScenarios(filepath.Join(dir, "missing"))
	var nf *ScenarioNotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestRunSuite(t *testing.T) {
	dir := t.TempDir()
	schemaPath, err := filepath.Abs(todoSchemaPath)
	require.NoError(t, err)

	pass := "name: pass\ndescription: d\nschemas: [" + schemaPath + "]\nsteps:\n  - exec: INSERT INTO todo (id, title) VALUES ('t1', 'a')\n"
	fail := "name: fail\ndescription: d\nschemas: [" + schemaPath + "]\nsteps:\n  - query: SELECT id FROM todo\n    expect: {count: 1}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1_pass.yaml"), []byte(pass), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2_fail.yaml"), []byte(fail), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "3_broken.yaml"), []byte("name: [\n"), 0o644))

	suite, err := RunSuite(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, suite.TotalScenarios)
	assert.Equal(t, 1, suite.Passed)
	assert.Equal(t, 2, suite.Failed)

	require.Len(t, suite.Results, 3)
	assert.True(t, suite.Results[0].Pass)
	assert.NotNil(t, suite.Results[0].Result)
	assert.Equal(t, "fail", suite.Results[1].Name)
	assert.Contains(t, suite.Results[1].Errors[0], "expected 1 rows, got 0")
	assert.Contains(t, suite.Results[2].Errors[0], "failed to load scenario")
}
