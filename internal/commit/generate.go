package commit

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/lix/internal/ir"
)

// builtinSchemaVersion is the x-lix-version of every graph schema.
const builtinSchemaVersion = "1.0"

// GenerateInput is everything GenerateCommit derives a commit from.
type GenerateInput struct {
	// Changes are the tracked buffer rows, in buffer order.
	Changes []ir.TransactionRow

	// Versions holds the resolved descriptor and tip of every version with
	// changes, plus global.
	Versions map[string]ir.Version

	// ActiveAccounts are recorded as the authors of every user change.
	ActiveAccounts []string

	// Timestamp stamps the generated graph changes and cache rows.
	Timestamp string

	IDs IDGenerator
}

// GenerateResult is the output of GenerateCommit.
type GenerateResult struct {
	// Changes are the records to append, user changes first per version.
	Changes []ir.Change

	// CacheRows are the materialized rows for Changes.
	CacheRows []ir.CacheRow

	// Commits holds the new commit of every affected version.
	Commits map[string]ir.Commit

	// Committed describes Changes for the state_commit event.
	Committed []ir.CommittedChange
}

// GenerateCommit derives the change records and cache rows of one commit.
//
// Every version with changes gets a new change set and commit whose parent
// is the version's current commit, and a new tip pointing at it. Global
// always gets a commit when anything changes; it records the graph
// entities (change sets, commits, tips, elements, authors) of every
// version. Versions are processed in id order with global last, so ids are
// allocated in a fixed order.
func GenerateCommit(in GenerateInput) (GenerateResult, error) {
	if in.IDs == nil {
		return GenerateResult{}, errors.New("generate commit: no id generator")
	}

	byVersion := map[string][]ir.TransactionRow{}
	for _, c := range in.Changes {
		if c.Untracked {
			return GenerateResult{}, fmt.Errorf("generate commit: change %s is untracked", c.ID)
		}
		byVersion[c.VersionID] = append(byVersion[c.VersionID], c)
	}
	order := commitOrder(byVersion)
	if len(order) == 0 {
		return GenerateResult{Commits: map[string]ir.Commit{}}, nil
	}
	for _, v := range order {
		if _, ok := in.Versions[v]; !ok {
			return GenerateResult{}, &ConsistencyError{Kind: "version", ID: v}
		}
	}

	g := &generator{in: in, out: GenerateResult{Commits: map[string]ir.Commit{}}}
	for _, v := range order {
		parents := []string{}
		if prev := in.Versions[v].CommitID; prev != "" {
			parents = append(parents, prev)
		}
		g.out.Commits[v] = ir.Commit{
			ID:              in.IDs.NewID(),
			ChangeSetID:     in.IDs.NewID(),
			ParentCommitIDs: parents,
		}
	}
	globalCommit := g.out.Commits[ir.GlobalVersion]

	// Graph changes land in global and become elements of its change set.
	var graph []ir.Change
	for _, v := range order {
		commit := g.out.Commits[v]
		for _, row := range byVersion[v] {
			ch := ir.Change{
				ID:            row.ID,
				EntityID:      row.EntityID,
				SchemaKey:     row.SchemaKey,
				SchemaVersion: row.SchemaVersion,
				FileID:        row.FileID,
				PluginKey:     row.PluginKey,
				Snapshot:      row.Snapshot,
				Metadata:      row.Metadata,
				CreatedAt:     row.CreatedAt,
			}
			g.emit(ch, v, commit.ID, row.WriterKey)
			if err := g.element(commit, ch); err != nil {
				return GenerateResult{}, err
			}
			for _, account := range in.ActiveAccounts {
				author, err := g.graphChange(ir.SchemaChangeAuthor, ch.ID+"~"+account,
					map[string]string{"change_id": ch.ID, "account_id": account})
				if err != nil {
					return GenerateResult{}, err
				}
				graph = append(graph, author)
			}
		}

		changeSet, err := g.graphChange(ir.SchemaChangeSet, commit.ChangeSetID,
			map[string]string{"id": commit.ChangeSetID})
		if err != nil {
			return GenerateResult{}, err
		}
		node, err := g.graphChange(ir.SchemaCommit, commit.ID, commit)
		if err != nil {
			return GenerateResult{}, err
		}
		tip, err := g.graphChange(ir.SchemaVersionTip, v, ir.VersionTip{
			ID:              v,
			CommitID:        commit.ID,
			WorkingCommitID: in.Versions[v].WorkingCommitID,
		})
		if err != nil {
			return GenerateResult{}, err
		}
		graph = append(graph, changeSet, node, tip)
	}

	for _, ch := range graph {
		g.emit(ch, ir.GlobalVersion, globalCommit.ID, nil)
		if err := g.element(globalCommit, ch); err != nil {
			return GenerateResult{}, err
		}
	}
	return g.out, nil
}

// commitOrder returns the versions that commit: every version with
// changes in id order, then global.
func commitOrder(byVersion map[string][]ir.TransactionRow) []string {
	if len(byVersion) == 0 {
		return nil
	}
	order := make([]string, 0, len(byVersion)+1)
	for v := range byVersion {
		if v != ir.GlobalVersion {
			order = append(order, v)
		}
	}
	sort.Strings(order)
	return append(order, ir.GlobalVersion)
}

type generator struct {
	in  GenerateInput
	out GenerateResult
}

// graphChange builds a change for a lix-owned entity stored in global.
func (g *generator) graphChange(schemaKey, entityID string, doc any) (ir.Change, error) {
	snapshot, err := canonical(doc)
	if err != nil {
		return ir.Change{}, fmt.Errorf("generate %s %s: %w", schemaKey, entityID, err)
	}
	return ir.Change{
		ID:            g.in.IDs.NewID(),
		EntityID:      entityID,
		SchemaKey:     schemaKey,
		SchemaVersion: builtinSchemaVersion,
		FileID:        ir.LixOwnFile,
		PluginKey:     ir.LixPlugin,
		Snapshot:      snapshot,
		CreatedAt:     g.in.Timestamp,
	}, nil
}

// element records ch as a member of commit's change set. The element
// change itself belongs to no change set.
func (g *generator) element(commit ir.Commit, ch ir.Change) error {
	el := ir.ChangeSetElement{
		ChangeSetID: commit.ChangeSetID,
		ChangeID:    ch.ID,
		EntityID:    ch.EntityID,
		SchemaKey:   ch.SchemaKey,
		FileID:      ch.FileID,
	}
	elChange, err := g.graphChange(ir.SchemaChangeSetElement, el.StoredEntityID(), el)
	if err != nil {
		return err
	}
	g.emit(elChange, ir.GlobalVersion, g.out.Commits[ir.GlobalVersion].ID, nil)
	return nil
}

func (g *generator) emit(ch ir.Change, versionID, commitID string, writer *string) {
	g.out.Changes = append(g.out.Changes, ch)
	g.out.CacheRows = append(g.out.CacheRows, ir.CacheRow{
		EntityID:      ch.EntityID,
		SchemaKey:     ch.SchemaKey,
		SchemaVersion: ch.SchemaVersion,
		FileID:        ch.FileID,
		PluginKey:     ch.PluginKey,
		VersionID:     versionID,
		Snapshot:      ch.Snapshot,
		ChangeID:      ch.ID,
		CommitID:      commitID,
		IsTombstone:   ch.IsTombstone(),
		CreatedAt:     g.in.Timestamp,
		UpdatedAt:     g.in.Timestamp,
	})
	g.out.Committed = append(g.out.Committed, ir.CommittedChange{
		ID:            ch.ID,
		EntityID:      ch.EntityID,
		SchemaKey:     ch.SchemaKey,
		SchemaVersion: ch.SchemaVersion,
		FileID:        ch.FileID,
		PluginKey:     ch.PluginKey,
		CreatedAt:     ch.CreatedAt,
		Snapshot:      ch.Snapshot,
		Metadata:      ch.Metadata,
		VersionID:     versionID,
		CommitID:      commitID,
		WriterKey:     writer,
	})
}

func canonical(doc any) (json.RawMessage, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return ir.CanonicalizeJSON(raw)
}
