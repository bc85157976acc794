package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lix/internal/preprocess"
)

func TestPreprocess_JSONWithTrace(t *testing.T) {
	lix := newTestLix(t)
	outPath := filepath.Join(lix.Dir, "out.json")

	out := lix.mustRun(t, "--format", "json", "preprocess", "--trace", "-o", outPath,
		"SELECT title FROM todo WHERE id = ?", "--arg", "t1")

	var got preprocess.Output
	decodeData(t, out, &got)
	require.Len(t, got.Statements, 1)
	assert.NotEmpty(t, got.SQL)
	assert.Contains(t, got.Parameters, "t1")

	steps := map[string]bool{}
	for _, e := range got.Trace {
		steps[e.Step] = true
	}
	assert.True(t, steps[preprocess.StepParse])

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	var written preprocess.Output
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Equal(t, got.SQL, written.SQL)
}

func TestPreprocess_Text(t *testing.T) {
	lix := newTestLix(t)

	out := lix.mustRun(t, "preprocess", "SELECT 1; SELECT 2")
	assert.Contains(t, out, "-- statement 1")
	assert.Contains(t, out, "-- statement 2")
	assert.NotContains(t, out, "Trace:")
}

func TestPreprocess_ParseError(t *testing.T) {
	lix := newTestLix(t)

	out, err := lix.run(t, "preprocess", "SELECT FROM t")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E201]")
}

func TestPreprocess_Plan(t *testing.T) {
	lix := newTestLix(t)

	out := lix.mustRun(t, "preprocess", "--plan", "SELECT 1 AS one")
	assert.Contains(t, out, "-- plan (")
	assert.Contains(t, out, "SELECT ? AS one;")
	assert.Contains(t, out, "-- plan parameters: [1]")

	out = lix.mustRun(t, "--format", "json", "preprocess", "--plan", "SELECT 1 AS one")
	var got preprocess.Output
	decodeData(t, out, &got)
	require.Len(t, got.Statements, 1)
	require.NotNil(t, got.Statements[0].Plan)
	assert.Equal(t, "SELECT ? AS one", got.Statements[0].Plan.SQL)
	assert.Equal(t, []any{float64(1)}, got.Statements[0].Plan.Parameters)
}
