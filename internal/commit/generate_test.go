package commit

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lix/internal/ir"
	"github.com/roach88/lix/internal/testutil"
)

func fixedIDs(n int) *FixedGenerator {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%d", i+1)
	}
	return NewFixedGenerator(ids...)
}

func testVersions() map[string]ir.Version {
	return map[string]ir.Version{
		ir.GlobalVersion: {
			VersionDescriptor: ir.VersionDescriptor{ID: ir.GlobalVersion, Name: ir.GlobalVersion},
			CommitID:          "c-global",
			WorkingCommitID:   "w-global",
		},
		"main": {
			VersionDescriptor: ir.VersionDescriptor{ID: "main", Name: "main"},
			CommitID:          "c-main",
			WorkingCommitID:   "w-main",
		},
	}
}

func todoRow(id, entity, version, snapshot string) ir.TransactionRow {
	r := ir.TransactionRow{
		ID:            id,
		EntityID:      entity,
		SchemaKey:     "todo",
		SchemaVersion: "1.0",
		FileID:        ir.LixOwnFile,
		PluginKey:     ir.LixPlugin,
		VersionID:     version,
		CreatedAt:     "2025-01-01T00:00:00.000Z",
	}
	if snapshot != "" {
		r.Snapshot = json.RawMessage(snapshot)
	}
	return r
}

func TestGenerateCommit_Graph(t *testing.T) {
	writer := "editor"
	row := todoRow("ch1", "t1", "main", `{"id":"t1"}`)
	row.WriterKey = &writer

	res, err := GenerateCommit(GenerateInput{
		Changes:        []ir.TransactionRow{row},
		Versions:       testVersions(),
		ActiveAccounts: []string{"acct"},
		Timestamp:      "2025-01-02T00:00:00.000Z",
		IDs:            fixedIDs(40),
	})
	require.NoError(t, err)

	require.Len(t, res.Commits, 2)
	assert.Equal(t, ir.Commit{ID: "id-1", ChangeSetID: "id-2", ParentCommitIDs: []string{"c-main"}}, res.Commits["main"])
	assert.Equal(t, ir.Commit{ID: "id-3", ChangeSetID: "id-4", ParentCommitIDs: []string{"c-global"}}, res.Commits[ir.GlobalVersion])

	// user change, its element, then author, change sets, commits and
	// tips of both versions, each with an element in global's change set
	require.Len(t, res.Changes, 16)
	require.Len(t, res.CacheRows, 16)
	require.Len(t, res.Committed, 16)

	user := res.CacheRows[0]
	assert.Equal(t, "t1", user.EntityID)
	assert.Equal(t, "main", user.VersionID)
	assert.Equal(t, "ch1", user.ChangeID)
	assert.Equal(t, "id-1", user.CommitID)
	assert.Equal(t, &writer, res.Committed[0].WriterKey)

	el := res.CacheRows[1]
	assert.Equal(t, ir.SchemaChangeSetElement, el.SchemaKey)
	assert.Equal(t, "id-2~ch1", el.EntityID)
	assert.Equal(t, ir.GlobalVersion, el.VersionID)
	assert.Equal(t, "id-3", el.CommitID)
	assert.JSONEq(t, `{"change_set_id":"id-2","change_id":"ch1","entity_id":"t1","schema_key":"todo","file_id":"lix"}`,
		string(el.Snapshot))

	bySchema := map[string][]ir.CacheRow{}
	for _, r := range res.CacheRows {
		bySchema[r.SchemaKey] = append(bySchema[r.SchemaKey], r)
		if r.SchemaKey != "todo" {
			assert.Equal(t, ir.GlobalVersion, r.VersionID, r.EntityID)
		}
	}
	assert.Len(t, bySchema[ir.SchemaChangeAuthor], 1)
	assert.Equal(t, "ch1~acct", bySchema[ir.SchemaChangeAuthor][0].EntityID)
	assert.Len(t, bySchema[ir.SchemaChangeSet], 2)
	assert.Len(t, bySchema[ir.SchemaCommit], 2)
	assert.Len(t, bySchema[ir.SchemaChangeSetElement], 8)

	tips := bySchema[ir.SchemaVersionTip]
	require.Len(t, tips, 2)
	assert.Equal(t, "main", tips[0].EntityID)
	assert.JSONEq(t, `{"id":"main","commit_id":"id-1","working_commit_id":"w-main"}`, string(tips[0].Snapshot))
	assert.JSONEq(t, `{"id":"global","commit_id":"id-3","working_commit_id":"w-global"}`, string(tips[1].Snapshot))

	commits := bySchema[ir.SchemaCommit]
	assert.JSONEq(t, `{"id":"id-1","change_set_id":"id-2","parent_commit_ids":["c-main"]}`, string(commits[0].Snapshot))
}

func TestGenerateCommit_Deterministic(t *testing.T) {
	in := func() GenerateInput {
		return GenerateInput{
			Changes: []ir.TransactionRow{
				todoRow("a", "t1", "main", `{"id":"t1"}`),
				todoRow("b", "t2", ir.GlobalVersion, `{"id":"t2"}`),
				todoRow("c", "t3", "main", ""),
			},
			Versions:  testVersions(),
			Timestamp: "2025-01-02T00:00:00.000Z",
			IDs:       NewSequenceGenerator("seed", testutil.NewDeterministicClock()),
		}
	}
	first, err := GenerateCommit(in())
	require.NoError(t, err)
	second, err := GenerateCommit(in())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var tombstones int
	for _, r := range first.CacheRows {
		if r.IsTombstone {
			tombstones++
			assert.Equal(t, "t3", r.EntityID)
		}
	}
	assert.Equal(t, 1, tombstones)
}

func TestGenerateCommit_GlobalOnly(t *testing.T) {
	res, err := GenerateCommit(GenerateInput{
		Changes:   []ir.TransactionRow{todoRow("a", "t1", ir.GlobalVersion, `{"id":"t1"}`)},
		Versions:  testVersions(),
		Timestamp: "2025-01-02T00:00:00.000Z",
		IDs:       fixedIDs(20),
	})
	require.NoError(t, err)
	require.Len(t, res.Commits, 1)
	assert.Equal(t, "id-1", res.Commits[ir.GlobalVersion].ID)
}

func TestGenerateCommit_Errors(t *testing.T) {
	_, err := GenerateCommit(GenerateInput{Versions: testVersions()})
	assert.Error(t, err)

	row := todoRow("a", "t1", "main", `{}`)
	row.Untracked = true
	_, err = GenerateCommit(GenerateInput{Changes: []ir.TransactionRow{row}, Versions: testVersions(), IDs: fixedIDs(10)})
	assert.Error(t, err)

	_, err = GenerateCommit(GenerateInput{
		Changes:  []ir.TransactionRow{todoRow("a", "t1", "ghost", `{}`)},
		Versions: testVersions(),
		IDs:      fixedIDs(10),
	})
	var ce *ConsistencyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "ghost", ce.ID)
}

func TestGenerateCommit_Empty(t *testing.T) {
	ids := testutil.NewPrefixIDs("id")
	res, err := GenerateCommit(GenerateInput{Versions: testVersions(), IDs: ids})
	require.NoError(t, err)
	assert.Empty(t, res.Changes)
	assert.Empty(t, res.Commits)
	assert.Zero(t, ids.Issued())
}

func TestSequenceGenerator(t *testing.T) {
	a := NewSequenceGenerator("seed", testutil.NewDeterministicClock())
	b := NewSequenceGenerator("seed", testutil.NewDeterministicClock())
	first := a.NewID()
	assert.Equal(t, first, b.NewID())
	assert.NotEqual(t, first, a.NewID())
	assert.Len(t, UUIDv7Generator{}.NewID(), 36)
}

func TestFixedGenerator_PanicsWhenExhausted(t *testing.T) {
	g := NewFixedGenerator("only")
	assert.Equal(t, "only", g.NewID())
	assert.Panics(t, func() { g.NewID() })
}
