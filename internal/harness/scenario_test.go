package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_Valid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "todo.json"), []byte("{}"), 0o644))
	path := writeScenario(t, dir, `
name: valid
description: A valid scenario
schemas: [todo.json]
seed: fixed
setup:
  - exec: INSERT INTO todo (id, title) VALUES ('t0', 'x')
steps:
  - begin: true
    session: w
  - exec: INSERT INTO todo (id, title) VALUES (?, ?)
    args: [t1, 3]
    session: w
  - query: SELECT id FROM todo
    expect:
      count: 1
      rows: [{id: t0}]
  - create_version: {id: v1, name: feature, from: main}
  - switch_version: feature
assertions:
  - type: state
    table: todo
    where: {id: t0}
    expect: {title: x}
`)

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "valid", s.Name)
	assert.Equal(t, "fixed", s.Seed)
	assert.Equal(t, []string{filepath.Join(dir, "todo.json")}, s.Schemas)
	require.Len(t, s.Steps, 5)
	assert.Equal(t, StepBegin, s.Steps[0].Kind())
	assert.Equal(t, "w", s.Steps[1].SessionName())
	assert.Equal(t, []any{"t1", 3}, s.Steps[1].Args)
	assert.Equal(t, DefaultSession, s.Steps[2].SessionName())
	require.NotNil(t, s.Steps[2].Expect.Count)
	assert.Equal(t, 1, *s.Steps[2].Expect.Count)
	assert.Equal(t, "main", s.Steps[3].CreateVersion.From)
	assert.Equal(t, StepSwitchVersion, s.Steps[4].Kind())
}

func TestLoadScenario_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"missing name", "description: d\nsteps: [{query: SELECT 1}]\n", "name is required"},
		{"missing description", "name: n\nsteps: [{query: SELECT 1}]\n", "description is required"},
		{"no steps", "name: n\ndescription: d\n", "steps list is required"},
		{"unknown field", "name: n\ndescription: d\nstep: []\n", "failed to parse YAML"},
		{"empty step", "name: n\ndescription: d\nsteps: [{session: a}]\n", "steps[0]: one of"},
		{"two operations", "name: n\ndescription: d\nsteps: [{exec: x, query: y}]\n", "several operations"},
		{"args on begin", "name: n\ndescription: d\nsteps: [{begin: true, args: [1]}]\n", "args require exec or query"},
		{"rows on exec", "name: n\ndescription: d\nsteps: [{exec: x, expect: {count: 1}}]\n", "rows and count require query"},
		{"expect in setup", "name: n\ndescription: d\nsetup: [{exec: x, expect: {error: e}}]\nsteps: [{query: y}]\n", "not allowed in setup"},
		{"missing schema", "name: n\ndescription: d\nschemas: [nope.json]\nsteps: [{query: y}]\n", "schema file not found"},
		{"unknown assertion", "name: n\ndescription: d\nsteps: [{query: y}]\nassertions: [{type: magic}]\n", "unknown assertion type"},
		{"state without table", "name: n\ndescription: d\nsteps: [{query: y}]\nassertions: [{type: state, expect: {a: 1}}]\n", "table is required"},
		{"state without expect", "name: n\ndescription: d\nsteps: [{query: y}]\nassertions: [{type: state, table: t}]\n", "expect is required"},
		{"commit_count without key", "name: n\ndescription: d\nsteps: [{query: y}]\nassertions: [{type: commit_count, count: 1}]\n", "schema_key is required"},
		{"commit_order empty", "name: n\ndescription: d\nsteps: [{query: y}]\nassertions: [{type: commit_order}]\n", "entities list is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScenario(t, t.TempDir(), tt.yaml)
			_, err := LoadScenario(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenarioWithBasePath(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "todo.json"), []byte("{}"), 0o644))
	path := writeScenario(t, t.TempDir(), "name: n\ndescription: d\nschemas: [todo.json]\nsteps: [{query: SELECT 1}]\n")

	s, err := LoadScenarioWithBasePath(path, base)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(base, "todo.json")}, s.Schemas)
}

func TestStep_Kind(t *testing.T) {
	assert.Equal(t, StepExec, Step{Exec: "x"}.Kind())
	assert.Equal(t, StepRollback, Step{Rollback: true}.Kind())
	assert.Equal(t, StepCreateVersion, Step{CreateVersion: &VersionStep{}}.Kind())
	assert.Equal(t, "", Step{}.Kind())
	assert.Equal(t, "", Step{Begin: true, Commit: true}.Kind())
}
