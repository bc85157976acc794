package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/lix/internal/ir"
	"github.com/roach88/lix/internal/plugin"
	"github.com/roach88/lix/internal/store"
)

// fileStateSQL lists the live entities of one file in one version.
const fileStateSQL = `SELECT entity_id, schema_key, schema_version, plugin_key,
       snapshot_content, metadata, change_id, created_at
FROM state_all
WHERE file_id = ? AND version_id = ?
ORDER BY entity_id, schema_key`

// File returns the descriptor of a file in a version. An empty versionID
// means the active version.
func (e *Engine) File(ctx context.Context, fileID, versionID string) (plugin.File, error) {
	versionID, err := e.versionOrActive(ctx, versionID)
	if err != nil {
		return plugin.File{}, err
	}
	rows, err := e.Query(ctx,
		`SELECT id, path FROM lix_file_descriptor_all WHERE id = ? AND lixcol_version_id = ?`,
		fileID, versionID)
	if err != nil {
		return plugin.File{}, err
	}
	if len(rows) == 0 {
		return plugin.File{}, newError(ErrCodeFileNotFound, "file not found", map[string]string{"id": fileID})
	}
	return plugin.File{ID: fileID, Path: text(rows[0]["path"])}, nil
}

// ApplyFile rebuilds a file's bytes from its entities in a version through
// the owning plugins and stores them in the file data cache.
func (e *Engine) ApplyFile(ctx context.Context, fileID, versionID string) ([]byte, error) {
	versionID, err := e.versionOrActive(ctx, versionID)
	if err != nil {
		return nil, err
	}
	file, err := e.File(ctx, fileID, versionID)
	if err != nil {
		return nil, err
	}
	rows, err := e.Query(ctx, fileStateSQL, fileID, versionID)
	if err != nil {
		return nil, err
	}
	changes := make([]ir.Change, 0, len(rows))
	for _, r := range rows {
		c := ir.Change{
			ID:            text(r["change_id"]),
			EntityID:      text(r["entity_id"]),
			SchemaKey:     text(r["schema_key"]),
			SchemaVersion: text(r["schema_version"]),
			FileID:        fileID,
			PluginKey:     text(r["plugin_key"]),
			CreatedAt:     text(r["created_at"]),
		}
		if v := r["snapshot_content"]; v != nil {
			c.Snapshot = json.RawMessage(text(v))
		}
		if v := r["metadata"]; v != nil {
			c.Metadata = json.RawMessage(text(v))
		}
		changes = append(changes, c)
	}

	data, err := plugin.ApplyChangeSet(ctx, e.plugins, file, changes)
	if err != nil {
		return nil, err
	}
	if err := store.WriteFileData(ctx, e.store.DB(), fileID, versionID, data); err != nil {
		return nil, err
	}
	return data, nil
}

// WriteFile stores data as the new content of a file in the active
// version. The file descriptor is created or moved to path, and the
// plugin matching path turns the edit into entity changes. Everything is
// committed together.
func (e *Engine) WriteFile(ctx context.Context, fileID, path string, data []byte) error {
	versionID, err := e.ActiveVersion(ctx)
	if err != nil {
		return err
	}
	var before *plugin.File
	prev, err := e.File(ctx, fileID, versionID)
	switch {
	case err == nil:
		old, err := store.ReadFileData(ctx, e.store.DB(), fileID, versionID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		prev.Data = old
		before = &prev
	case !HasCode(err, ErrCodeFileNotFound):
		return err
	}

	var detected []plugin.DetectedChange
	var pluginKey string
	if p, ok := e.plugins.ForPath(path); ok {
		if d, ok := p.(plugin.Detector); ok {
			pluginKey = p.Key()
			detected, err = d.DetectChanges(ctx, plugin.DetectInput{
				Before: before,
				After:  plugin.File{ID: fileID, Path: path, Data: data},
			})
			if err != nil {
				return fmt.Errorf("plugin %s: detect changes in %s: %w", pluginKey, path, err)
			}
		}
	}

	s, err := e.Session(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Begin(ctx); err != nil {
		return err
	}
	if before == nil || before.Path != path {
		if _, err := s.Exec(ctx,
			`INSERT INTO lix_file_descriptor_all (id, path, lixcol_version_id) VALUES (?, ?, ?)`,
			fileID, path, versionID); err != nil {
			return fmt.Errorf("write file %s: %w", fileID, err)
		}
	}
	for _, c := range detected {
		if ir.IsNullSnapshot(c.Snapshot) {
			_, err = s.Exec(ctx,
				`DELETE FROM state_all WHERE entity_id = ? AND schema_key = ? AND file_id = ? AND version_id = ?`,
				c.EntityID, c.SchemaKey, fileID, versionID)
		} else {
			_, err = s.Exec(ctx, `INSERT INTO state_all
				(entity_id, schema_key, file_id, plugin_key, schema_version, snapshot_content, version_id)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				c.EntityID, c.SchemaKey, fileID, pluginKey, c.SchemaVersion, string(c.Snapshot), versionID)
		}
		if err != nil {
			return fmt.Errorf("write file %s: entity %s: %w", fileID, c.EntityID, err)
		}
	}
	if err := s.Commit(ctx); err != nil {
		return fmt.Errorf("write file %s: %w", fileID, err)
	}
	e.logger.Debug("file written", "file_id", fileID, "path", path, "changes", len(detected))
	return store.WriteFileData(ctx, e.store.DB(), fileID, versionID, data)
}

func (e *Engine) versionOrActive(ctx context.Context, versionID string) (string, error) {
	if versionID != "" {
		return versionID, nil
	}
	return e.ActiveVersion(ctx)
}

// text renders a scanned SQLite value as a string.
func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
