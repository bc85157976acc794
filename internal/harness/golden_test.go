package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_SingleInsert(t *testing.T) {
	scenario := &Scenario{
		Name:        "golden_single_insert",
		Description: "One autocommitted insert and a read",
		Schemas:     []string{todoSchemaPath},
		Steps: []Step{
			{Exec: "INSERT INTO todo (id, title) VALUES ('t1', 'a')"},
			{Query: "SELECT id, title FROM todo"},
		},
	}

	// go test ./internal/harness -run TestRunWithGolden_SingleInsert -update
	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestMarshalTrace_OmitsEmptyFields(t *testing.T) {
	result := NewResult()
	result.Trace = append(result.Trace,
		TraceEvent{Type: StepBegin, Session: "w", Seq: 1},
		TraceEvent{Type: EventStateCommit, SchemaKey: "todo", EntityID: "t1", Deleted: true, Seq: 2},
	)

	out, err := MarshalTrace("omit", result)
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"omit","trace":[{"seq":1,"session":"w","type":"begin"},{"deleted":true,"entity_id":"t1","schema_key":"todo","seq":2,"type":"state_commit"}]}`,
		string(out))
}
