package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/lix/internal/ir"
	"github.com/roach88/lix/internal/sqlast"
)

// ErrNoCacheTable is returned when a cache row names a schema without a
// cache table.
var ErrNoCacheTable = errors.New("no cache table for schema")

// InsertChanges appends change records.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
func InsertChanges(ctx context.Context, q Querier, changes []ir.Change) error {
	for _, c := range changes {
		_, err := q.ExecContext(ctx, `
			INSERT INTO internal_change
			(id, entity_id, schema_key, schema_version, file_id, plugin_key, snapshot_content, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			c.ID,
			c.EntityID,
			c.SchemaKey,
			c.SchemaVersion,
			c.FileID,
			c.PluginKey,
			jsonArg(c.Snapshot),
			jsonArg(c.Metadata),
			c.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("write change %s: %w", c.ID, err)
		}
	}
	return nil
}

// UpsertCacheRows writes materialized state into the per-schema cache
// tables named by tables. A row whose Snapshot is null is stored as a
// tombstone.
func UpsertCacheRows(ctx context.Context, q Querier, tables map[string]string, rows []ir.CacheRow) error {
	for _, r := range rows {
		table, ok := tables[r.SchemaKey]
		if !ok {
			return fmt.Errorf("write cache row %s: %w %q", r.EntityID, ErrNoCacheTable, r.SchemaKey)
		}
		tombstone := r.IsTombstone || ir.IsNullSnapshot(r.Snapshot)
		_, err := q.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s
			(entity_id, schema_key, file_id, version_id, plugin_key, schema_version, snapshot_content,
			 change_id, commit_id, inherited_from_version_id, is_tombstone, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(entity_id, file_id, version_id) DO UPDATE SET
				plugin_key = excluded.plugin_key,
				schema_version = excluded.schema_version,
				snapshot_content = excluded.snapshot_content,
				change_id = excluded.change_id,
				commit_id = excluded.commit_id,
				inherited_from_version_id = excluded.inherited_from_version_id,
				is_tombstone = excluded.is_tombstone,
				updated_at = excluded.updated_at
		`, sqlast.QuoteIdent(table)),
			r.EntityID,
			r.SchemaKey,
			r.FileID,
			r.VersionID,
			r.PluginKey,
			r.SchemaVersion,
			jsonArg(r.Snapshot),
			r.ChangeID,
			r.CommitID,
			stringPtrArg(r.InheritedFromVersionID),
			boolArg(tombstone),
			r.CreatedAt,
			r.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("write cache row %s: %w", r.EntityID, err)
		}
	}
	return nil
}

// UpsertUntracked writes untracked state in place. A null snapshot keeps a
// tombstone marker so the entity stops resolving from ancestor versions.
func UpsertUntracked(ctx context.Context, q Querier, rows []ir.UntrackedRow) error {
	for _, r := range rows {
		_, err := q.ExecContext(ctx, `
			INSERT INTO internal_untracked_state
			(entity_id, schema_key, file_id, version_id, plugin_key, schema_version,
			 snapshot_content, is_tombstone, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(entity_id, schema_key, file_id, version_id) DO UPDATE SET
				plugin_key = excluded.plugin_key,
				schema_version = excluded.schema_version,
				snapshot_content = excluded.snapshot_content,
				is_tombstone = excluded.is_tombstone,
				updated_at = excluded.updated_at
		`,
			r.EntityID,
			r.SchemaKey,
			r.FileID,
			r.VersionID,
			r.PluginKey,
			r.SchemaVersion,
			jsonArg(r.Snapshot),
			boolArg(ir.IsNullSnapshot(r.Snapshot)),
			r.CreatedAt,
			r.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("write untracked %s: %w", r.EntityID, err)
		}
	}
	return nil
}

// DeleteUntracked removes untracked rows by identity.
func DeleteUntracked(ctx context.Context, q Querier, ids []ir.Identity) error {
	for _, id := range ids {
		_, err := q.ExecContext(ctx, `
			DELETE FROM internal_untracked_state
			WHERE entity_id = ? AND schema_key = ? AND file_id = ? AND version_id = ?
		`, id.EntityID, id.SchemaKey, id.FileID, id.VersionID)
		if err != nil {
			return fmt.Errorf("delete untracked %s: %w", id.EntityID, err)
		}
	}
	return nil
}

// SetWriter records the writer of an identity. A nil writer clears it.
func SetWriter(ctx context.Context, q Querier, id ir.Identity, writer *string) error {
	var err error
	if writer == nil {
		_, err = q.ExecContext(ctx, `
			DELETE FROM internal_state_writer
			WHERE file_id = ? AND version_id = ? AND entity_id = ? AND schema_key = ?
		`, id.FileID, id.VersionID, id.EntityID, id.SchemaKey)
	} else {
		_, err = q.ExecContext(ctx, `
			INSERT INTO internal_state_writer (file_id, version_id, entity_id, schema_key, writer_key)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(file_id, version_id, entity_id, schema_key) DO UPDATE SET
				writer_key = excluded.writer_key
		`, id.FileID, id.VersionID, id.EntityID, id.SchemaKey, *writer)
	}
	if err != nil {
		return fmt.Errorf("write writer %s: %w", id.EntityID, err)
	}
	return nil
}

// FileLixcol is the newest change recorded for a file in a version.
type FileLixcol struct {
	FileID         string
	VersionID      string
	LatestChangeID string
	LatestCommitID string
	WriterKey      *string
}

// UpsertFileLixcol records the newest change of a file.
func UpsertFileLixcol(ctx context.Context, q Querier, f FileLixcol) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO internal_file_lixcol_cache
		(file_id, version_id, latest_change_id, latest_commit_id, writer_key)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(file_id, version_id) DO UPDATE SET
			latest_change_id = excluded.latest_change_id,
			latest_commit_id = excluded.latest_commit_id,
			writer_key = excluded.writer_key
	`, f.FileID, f.VersionID, f.LatestChangeID, f.LatestCommitID, stringPtrArg(f.WriterKey))
	if err != nil {
		return fmt.Errorf("write file lixcol %s: %w", f.FileID, err)
	}
	return nil
}

// DeleteFileLixcol drops the file metadata of a deleted file.
func DeleteFileLixcol(ctx context.Context, q Querier, fileID, versionID string) error {
	_, err := q.ExecContext(ctx,
		`DELETE FROM internal_file_lixcol_cache WHERE file_id = ? AND version_id = ?`,
		fileID, versionID)
	if err != nil {
		return fmt.Errorf("delete file lixcol %s: %w", fileID, err)
	}
	return nil
}

// WriteFileData stores reconstructed file bytes.
func WriteFileData(ctx context.Context, q Querier, fileID, versionID string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO internal_file_data_cache (file_id, version_id, data) VALUES (?, ?, ?)
		ON CONFLICT(file_id, version_id) DO UPDATE SET data = excluded.data
	`, fileID, versionID, data)
	if err != nil {
		return fmt.Errorf("write file data %s: %w", fileID, err)
	}
	return nil
}

// SetActiveVersion points the instance at a version.
func SetActiveVersion(ctx context.Context, q Querier, versionID string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO internal_active_version (id, version_id) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id
	`, versionID)
	if err != nil {
		return fmt.Errorf("write active version: %w", err)
	}
	return nil
}

// SetSequence stores the deterministic sequence counter.
func SetSequence(ctx context.Context, q Querier, value int64) error {
	_, err := q.ExecContext(ctx, `UPDATE internal_sequence SET value = ? WHERE id = 1`, value)
	if err != nil {
		return fmt.Errorf("write sequence: %w", err)
	}
	return nil
}

// ClearTransaction empties the connection's transaction buffer.
func ClearTransaction(ctx context.Context, q Querier) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM internal_transaction_state`); err != nil {
		return fmt.Errorf("clear transaction buffer: %w", err)
	}
	return nil
}
