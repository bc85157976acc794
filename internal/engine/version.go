package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/lix/internal/ir"
	"github.com/roach88/lix/internal/store"
)

// VersionOptions configure CreateVersion. Zero values pick the defaults.
type VersionOptions struct {
	// ID of the new version. Default: a new id.
	ID string
	// Name of the new version. Default: the id.
	Name string
	// From is the version whose commit the new version starts at.
	// Default: the active version.
	From string
	// InheritsFrom is the version the new one reads through to.
	// Default: From.
	InheritsFrom string
	Hidden       bool
}

// CreateVersion creates a version starting at the commit of opts.From and
// inheriting its state from opts.InheritsFrom. The descriptor, tip and a
// fresh working commit are written in one commit.
func (e *Engine) CreateVersion(ctx context.Context, opts VersionOptions) (ir.Version, error) {
	if opts.From == "" {
		active, err := e.ActiveVersion(ctx)
		if err != nil {
			return ir.Version{}, err
		}
		opts.From = active
	}
	from, err := e.Version(ctx, opts.From)
	if err != nil {
		return ir.Version{}, err
	}
	if opts.InheritsFrom == "" {
		opts.InheritsFrom = from.ID
	} else if _, err := e.Version(ctx, opts.InheritsFrom); err != nil {
		return ir.Version{}, err
	}
	if opts.ID == "" {
		opts.ID = e.ids.NewID()
	}
	if opts.Name == "" {
		opts.Name = opts.ID
	}
	if _, err := e.Version(ctx, opts.ID); err == nil {
		return ir.Version{}, newError(ErrCodeVersionExists, "version already exists", map[string]string{"id": opts.ID})
	} else if !IsVersionNotFound(err) {
		return ir.Version{}, err
	}

	working, workingCS := e.ids.NewID(), e.ids.NewID()
	hidden := 0
	if opts.Hidden {
		hidden = 1
	}

	s, err := e.Session(ctx)
	if err != nil {
		return ir.Version{}, err
	}
	defer s.Close()
	if err := s.Begin(ctx); err != nil {
		return ir.Version{}, err
	}
	for _, w := range []struct {
		sql  string
		args []any
	}{
		{`INSERT INTO lix_change_set (id) VALUES (?)`, []any{workingCS}},
		{`INSERT INTO lix_commit (id, change_set_id, parent_commit_ids) VALUES (?, ?, '[]')`, []any{working, workingCS}},
		{`INSERT INTO lix_version_descriptor (id, name, inherits_from_version_id, hidden) VALUES (?, ?, ?, ?)`,
			[]any{opts.ID, opts.Name, opts.InheritsFrom, hidden}},
		{`INSERT INTO lix_version_tip (id, commit_id, working_commit_id) VALUES (?, ?, ?)`,
			[]any{opts.ID, from.CommitID, working}},
	} {
		if _, err := s.Exec(ctx, w.sql, w.args...); err != nil {
			return ir.Version{}, fmt.Errorf("create version %s: %w", opts.ID, err)
		}
	}
	if err := s.Commit(ctx); err != nil {
		return ir.Version{}, fmt.Errorf("create version %s: %w", opts.ID, err)
	}

	e.logger.Info("version created", "id", opts.ID, "from", from.ID, "inherits_from", opts.InheritsFrom)
	return e.Version(ctx, opts.ID)
}

// SwitchVersion makes id the active version.
func (e *Engine) SwitchVersion(ctx context.Context, id string) error {
	if _, err := e.Version(ctx, id); err != nil {
		return err
	}
	return store.SetActiveVersion(ctx, e.store.DB(), id)
}

// Version returns the committed descriptor and tip of a version.
func (e *Engine) Version(ctx context.Context, id string) (ir.Version, error) {
	var v ir.Version
	ok, err := readGlobal(ctx, e.store.DB(), ir.SchemaVersionDescriptor, id, &v.VersionDescriptor)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, newError(ErrCodeVersionNotFound, "version not found", map[string]string{"id": id})
	}
	var tip ir.VersionTip
	ok, err = readGlobal(ctx, e.store.DB(), ir.SchemaVersionTip, id, &tip)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, newError(ErrCodeVersionNotFound, "version has no tip", map[string]string{"id": id})
	}
	v.CommitID = tip.CommitID
	v.WorkingCommitID = tip.WorkingCommitID
	return v, nil
}

// Versions returns every committed version ordered by id.
func (e *Engine) Versions(ctx context.Context) ([]ir.Version, error) {
	rows, err := store.ListCacheRows(ctx, e.store.DB(), ir.SchemaVersionDescriptor, ir.GlobalVersion)
	if err != nil {
		return nil, err
	}
	out := make([]ir.Version, 0, len(rows))
	for _, r := range rows {
		v, err := e.Version(ctx, r.EntityID)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// readGlobal decodes the committed snapshot of a lix-owned entity in
// global into dst.
func readGlobal(ctx context.Context, q store.Querier, schemaKey, entityID string, dst any) (bool, error) {
	row, err := store.ReadCacheRow(ctx, q, ir.Identity{
		EntityID:  entityID,
		SchemaKey: schemaKey,
		FileID:    ir.LixOwnFile,
		VersionID: ir.GlobalVersion,
	})
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if row.IsTombstone || ir.IsNullSnapshot(row.Snapshot) {
		return false, nil
	}
	if err := json.Unmarshal(row.Snapshot, dst); err != nil {
		return false, fmt.Errorf("decode %s %s: %w", schemaKey, entityID, err)
	}
	return true, nil
}
