package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadFiles_Formats(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a_todo.json", todoSchema)
	writeFile(t, dir, "b_note.yaml", `
x-lix-key: note
x-lix-version: "1.0"
x-lix-primary-key: [/id]
type: object
properties:
  id: {type: string}
  body: {type: string}
`)
	writeFile(t, dir, "nested/c_tag.cue", `
"x-lix-key":         "tag"
"x-lix-version":     "1.0"
"x-lix-primary-key": ["/name"]
type:                "object"
properties: name: type: "string"
`)
	writeFile(t, dir, "README.md", "ignored")

	docs, err := ReadFiles(dir)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	keys := make([]string, 0, len(docs))
	for _, doc := range docs {
		d, err := Parse(doc.Raw)
		require.NoError(t, err, doc.Path)
		keys = append(keys, d.Key)
	}
	assert.Equal(t, []string{"todo", "note", "tag"}, keys)
}

func TestReadFiles_SingleFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "todo.json", todoSchema)
	docs, err := ReadFiles(path)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, path, docs[0].Path)
}

func TestReadFiles_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadFiles(filepath.Join(dir, "missing"))
	assert.Error(t, err)

	bad := writeFile(t, dir, "bad.yaml", "key: [unclosed\n")
	_, err = ReadFiles(bad)
	assert.Error(t, err)

	badCUE := writeFile(t, dir, "bad.cue", "a: 1\na: 2\n")
	_, err = ReadFiles(badCUE)
	assert.Error(t, err)

	txt := writeFile(t, dir, "schema.txt", "{}")
	_, err = ReadFiles(txt)
	assert.Error(t, err)
}
