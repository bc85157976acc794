package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/lix/internal/ir"
	"github.com/roach88/lix/internal/store"
)

// MainVersionName is the name of the version a new lix starts on.
const MainVersionName = "main"

// bootstrapRow is one entity written by bootstrap.
type bootstrapRow struct {
	schemaKey string
	entityID  string
	doc       any
}

// bootstrap creates the global and main versions in an empty lix. Each
// version gets a commit and a working commit with empty change sets, and
// every bootstrap change is an element of global's first change set.
//
// The rows are written straight to the change log and the caches: there
// is no version yet for the commit engine to commit against.
func (e *Engine) bootstrap(ctx context.Context) error {
	_, err := store.ReadCacheRow(ctx, e.store.DB(), ir.Identity{
		EntityID:  ir.GlobalVersion,
		SchemaKey: ir.SchemaVersionDescriptor,
		FileID:    ir.LixOwnFile,
		VersionID: ir.GlobalVersion,
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	global := ir.GlobalVersion
	mainID := e.ids.NewID()
	var (
		globalCommit, globalCS   = e.ids.NewID(), e.ids.NewID()
		globalWorking, globalWCS = e.ids.NewID(), e.ids.NewID()
		mainCommit, mainCS       = e.ids.NewID(), e.ids.NewID()
		mainWorking, mainWCS     = e.ids.NewID(), e.ids.NewID()
	)

	entities := []bootstrapRow{
		{ir.SchemaVersionDescriptor, global, ir.VersionDescriptor{ID: global, Name: global, Hidden: true}},
		{ir.SchemaVersionDescriptor, mainID, ir.VersionDescriptor{ID: mainID, Name: MainVersionName, InheritsFromVersionID: &global}},
	}
	for _, id := range []string{globalCS, globalWCS, mainCS, mainWCS} {
		entities = append(entities, bootstrapRow{ir.SchemaChangeSet, id, map[string]string{"id": id}})
	}
	for _, c := range []ir.Commit{
		{ID: globalCommit, ChangeSetID: globalCS, ParentCommitIDs: []string{}},
		{ID: globalWorking, ChangeSetID: globalWCS, ParentCommitIDs: []string{}},
		{ID: mainCommit, ChangeSetID: mainCS, ParentCommitIDs: []string{}},
		{ID: mainWorking, ChangeSetID: mainWCS, ParentCommitIDs: []string{}},
	} {
		entities = append(entities, bootstrapRow{ir.SchemaCommit, c.ID, c})
	}
	entities = append(entities,
		bootstrapRow{ir.SchemaVersionTip, global, ir.VersionTip{ID: global, CommitID: globalCommit, WorkingCommitID: globalWorking}},
		bootstrapRow{ir.SchemaVersionTip, mainID, ir.VersionTip{ID: mainID, CommitID: mainCommit, WorkingCommitID: mainWorking}},
	)

	ts := e.timestamp()
	var (
		changes []ir.Change
		rows    []ir.CacheRow
	)
	add := func(schemaKey, entityID string, doc any) (string, error) {
		snapshot, err := canonicalJSON(doc)
		if err != nil {
			return "", fmt.Errorf("bootstrap %s %s: %w", schemaKey, entityID, err)
		}
		c := ir.Change{
			ID:            e.ids.NewID(),
			EntityID:      entityID,
			SchemaKey:     schemaKey,
			SchemaVersion: builtinSchemaVersion,
			FileID:        ir.LixOwnFile,
			PluginKey:     ir.LixPlugin,
			Snapshot:      snapshot,
			CreatedAt:     ts,
		}
		changes = append(changes, c)
		rows = append(rows, ir.CacheRow{
			EntityID:      entityID,
			SchemaKey:     schemaKey,
			SchemaVersion: builtinSchemaVersion,
			FileID:        ir.LixOwnFile,
			PluginKey:     ir.LixPlugin,
			VersionID:     global,
			Snapshot:      snapshot,
			ChangeID:      c.ID,
			CommitID:      globalCommit,
			CreatedAt:     ts,
			UpdatedAt:     ts,
		})
		return c.ID, nil
	}
	for _, ent := range entities {
		changeID, err := add(ent.schemaKey, ent.entityID, ent.doc)
		if err != nil {
			return err
		}
		el := ir.ChangeSetElement{
			ChangeSetID: globalCS,
			ChangeID:    changeID,
			EntityID:    ent.entityID,
			SchemaKey:   ent.schemaKey,
			FileID:      ir.LixOwnFile,
		}
		if _, err := add(ir.SchemaChangeSetElement, el.StoredEntityID(), el); err != nil {
			return err
		}
	}

	tables, err := e.store.CacheTables(ctx, e.store.DB())
	if err != nil {
		return err
	}
	tx, err := e.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer tx.Rollback()

	if err := store.InsertChanges(ctx, tx, changes); err != nil {
		return err
	}
	if err := store.UpsertCacheRows(ctx, tx, tables, rows); err != nil {
		return err
	}
	if err := store.SetActiveVersion(ctx, tx, mainID); err != nil {
		return err
	}
	if e.deterministic {
		if err := store.SetSequence(ctx, tx, e.clock.Current()); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	e.logger.Info("lix bootstrapped", "main", mainID, "changes", len(changes))
	return nil
}

// builtinSchemaVersion is the x-lix-version of every builtin schema.
const builtinSchemaVersion = "1.0"

func canonicalJSON(doc any) (json.RawMessage, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return ir.CanonicalizeJSON(raw)
}
