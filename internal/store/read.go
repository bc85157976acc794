package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/lix/internal/ir"
	"github.com/roach88/lix/internal/sqlast"
)

// ErrNotFound is returned by single-row reads that match nothing.
var ErrNotFound = errors.New("not found")

// ReadTransactionRows returns the connection's buffered writes.
// Results are ordered deterministically: ORDER BY created_at ASC, id ASC COLLATE BINARY.
func ReadTransactionRows(ctx context.Context, q Querier) ([]ir.TransactionRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, entity_id, schema_key, schema_version, file_id, plugin_key, version_id,
		       snapshot_content, metadata, created_at, untracked, writer_key
		FROM internal_transaction_state
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query transaction buffer: %w", err)
	}
	defer rows.Close()

	out := []ir.TransactionRow{}
	for rows.Next() {
		var (
			r                  ir.TransactionRow
			snapshot, metadata sql.NullString
			writer             sql.NullString
			untracked          int
		)
		if err := rows.Scan(&r.ID, &r.EntityID, &r.SchemaKey, &r.SchemaVersion, &r.FileID,
			&r.PluginKey, &r.VersionID, &snapshot, &metadata, &r.CreatedAt, &untracked, &writer); err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		r.Snapshot = jsonColumn(snapshot)
		r.Metadata = jsonColumn(metadata)
		r.Untracked = untracked != 0
		r.WriterKey = stringPtrColumn(writer)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction buffer: %w", err)
	}
	return out, nil
}

// ChangeFilter narrows ListChanges. Empty fields match everything.
type ChangeFilter struct {
	SchemaKey string
	EntityID  string
	FileID    string
}

// ListChanges returns change records matching f.
// Results are ordered deterministically: ORDER BY created_at ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if nothing matches.
func ListChanges(ctx context.Context, q Querier, f ChangeFilter) ([]ir.Change, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, entity_id, schema_key, schema_version, file_id, plugin_key,
		       snapshot_content, metadata, created_at
		FROM internal_change
		WHERE (?1 = '' OR schema_key = ?1)
		  AND (?2 = '' OR entity_id = ?2)
		  AND (?3 = '' OR file_id = ?3)
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`, f.SchemaKey, f.EntityID, f.FileID)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	out := []ir.Change{}
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return out, nil
}

// ReadChange returns one change record by id.
func ReadChange(ctx context.Context, q Querier, id string) (ir.Change, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, entity_id, schema_key, schema_version, file_id, plugin_key,
		       snapshot_content, metadata, created_at
		FROM internal_change WHERE id = ?
	`, id)
	c, err := scanChange(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Change{}, fmt.Errorf("change %s: %w", id, ErrNotFound)
	}
	return c, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChange(s scanner) (ir.Change, error) {
	var (
		c                  ir.Change
		snapshot, metadata sql.NullString
	)
	if err := s.Scan(&c.ID, &c.EntityID, &c.SchemaKey, &c.SchemaVersion, &c.FileID,
		&c.PluginKey, &snapshot, &metadata, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("scan change: %w", err)
	}
	c.Snapshot = jsonColumn(snapshot)
	c.Metadata = jsonColumn(metadata)
	return c, nil
}

// ReadCacheRow returns the cache row stored for id in its schema's cache
// table. Inherited values are not resolved here; see the vtable rewriter.
func ReadCacheRow(ctx context.Context, q Querier, id ir.Identity) (ir.CacheRow, error) {
	table := CacheTableName(id.SchemaKey)
	row := q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT entity_id, schema_key, file_id, version_id, plugin_key, schema_version,
		       snapshot_content, change_id, commit_id, inherited_from_version_id,
		       is_tombstone, created_at, updated_at
		FROM %s
		WHERE entity_id = ? AND file_id = ? AND version_id = ?
	`, sqlast.QuoteIdent(table)), id.EntityID, id.FileID, id.VersionID)

	var (
		r                   ir.CacheRow
		snapshot, inherited sql.NullString
		tombstone           int
	)
	err := row.Scan(&r.EntityID, &r.SchemaKey, &r.FileID, &r.VersionID, &r.PluginKey,
		&r.SchemaVersion, &snapshot, &r.ChangeID, &r.CommitID, &inherited, &tombstone,
		&r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("cache row %s/%s@%s: %w", id.SchemaKey, id.EntityID, id.VersionID, ErrNotFound)
	}
	if err != nil {
		return r, fmt.Errorf("read cache row: %w", err)
	}
	r.Snapshot = jsonColumn(snapshot)
	r.InheritedFromVersionID = stringPtrColumn(inherited)
	r.IsTombstone = tombstone != 0
	return r, nil
}

// ListCacheRows returns the live cache rows of a schema in one version,
// ordered by entity id. Tombstones are skipped.
func ListCacheRows(ctx context.Context, q Querier, schemaKey, versionID string) ([]ir.CacheRow, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT entity_id, schema_key, file_id, version_id, plugin_key, schema_version,
		       snapshot_content, change_id, commit_id, inherited_from_version_id,
		       is_tombstone, created_at, updated_at
		FROM %s
		WHERE version_id = ? AND is_tombstone = 0
		ORDER BY entity_id COLLATE BINARY ASC, file_id COLLATE BINARY ASC
	`, sqlast.QuoteIdent(CacheTableName(schemaKey))), versionID)
	if err != nil {
		return nil, fmt.Errorf("query cache rows of %s: %w", schemaKey, err)
	}
	defer rows.Close()

	out := []ir.CacheRow{}
	for rows.Next() {
		var (
			r                   ir.CacheRow
			snapshot, inherited sql.NullString
			tombstone           int
		)
		if err := rows.Scan(&r.EntityID, &r.SchemaKey, &r.FileID, &r.VersionID, &r.PluginKey,
			&r.SchemaVersion, &snapshot, &r.ChangeID, &r.CommitID, &inherited, &tombstone,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cache row: %w", err)
		}
		r.Snapshot = jsonColumn(snapshot)
		r.InheritedFromVersionID = stringPtrColumn(inherited)
		r.IsTombstone = tombstone != 0
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache rows: %w", err)
	}
	return out, nil
}

// ReadUntracked returns the untracked row stored for id. A tombstone
// marker has a nil Snapshot.
func ReadUntracked(ctx context.Context, q Querier, id ir.Identity) (ir.UntrackedRow, error) {
	row := q.QueryRowContext(ctx, `
		SELECT entity_id, schema_key, file_id, version_id, plugin_key, schema_version,
		       snapshot_content, created_at, updated_at
		FROM internal_untracked_state
		WHERE entity_id = ? AND schema_key = ? AND file_id = ? AND version_id = ?
	`, id.EntityID, id.SchemaKey, id.FileID, id.VersionID)

	var (
		r        ir.UntrackedRow
		snapshot sql.NullString
	)
	err := row.Scan(&r.EntityID, &r.SchemaKey, &r.FileID, &r.VersionID, &r.PluginKey,
		&r.SchemaVersion, &snapshot, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("untracked %s/%s@%s: %w", id.SchemaKey, id.EntityID, id.VersionID, ErrNotFound)
	}
	if err != nil {
		return r, fmt.Errorf("read untracked: %w", err)
	}
	r.Snapshot = jsonColumn(snapshot)
	return r, nil
}

// ListUntracked returns the live untracked rows of a schema in a version,
// ordered by entity id.
func ListUntracked(ctx context.Context, q Querier, schemaKey, versionID string) ([]ir.UntrackedRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT entity_id, schema_key, file_id, version_id, plugin_key, schema_version,
		       snapshot_content, created_at, updated_at
		FROM internal_untracked_state
		WHERE schema_key = ? AND version_id = ? AND is_tombstone = 0
		ORDER BY entity_id COLLATE BINARY ASC, file_id COLLATE BINARY ASC
	`, schemaKey, versionID)
	if err != nil {
		return nil, fmt.Errorf("query untracked: %w", err)
	}
	defer rows.Close()

	out := []ir.UntrackedRow{}
	for rows.Next() {
		var (
			r        ir.UntrackedRow
			snapshot sql.NullString
		)
		if err := rows.Scan(&r.EntityID, &r.SchemaKey, &r.FileID, &r.VersionID, &r.PluginKey,
			&r.SchemaVersion, &snapshot, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan untracked: %w", err)
		}
		r.Snapshot = jsonColumn(snapshot)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate untracked: %w", err)
	}
	return out, nil
}

// ReadFileLixcol returns the newest-change record of a file.
func ReadFileLixcol(ctx context.Context, q Querier, fileID, versionID string) (FileLixcol, error) {
	f := FileLixcol{FileID: fileID, VersionID: versionID}
	var writer sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT latest_change_id, latest_commit_id, writer_key
		FROM internal_file_lixcol_cache WHERE file_id = ? AND version_id = ?
	`, fileID, versionID).Scan(&f.LatestChangeID, &f.LatestCommitID, &writer)
	if errors.Is(err, sql.ErrNoRows) {
		return f, fmt.Errorf("file lixcol %s@%s: %w", fileID, versionID, ErrNotFound)
	}
	if err != nil {
		return f, fmt.Errorf("read file lixcol: %w", err)
	}
	f.WriterKey = stringPtrColumn(writer)
	return f, nil
}

// ReadFileData returns reconstructed file bytes.
func ReadFileData(ctx context.Context, q Querier, fileID, versionID string) ([]byte, error) {
	var data []byte
	err := q.QueryRowContext(ctx,
		`SELECT data FROM internal_file_data_cache WHERE file_id = ? AND version_id = ?`,
		fileID, versionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file data %s@%s: %w", fileID, versionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read file data: %w", err)
	}
	return data, nil
}

// ActiveVersion returns the active version id.
func ActiveVersion(ctx context.Context, q Querier) (string, error) {
	var v string
	err := q.QueryRowContext(ctx, `SELECT version_id FROM internal_active_version WHERE id = 1`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("active version: %w", ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read active version: %w", err)
	}
	return v, nil
}

// Sequence returns the deterministic sequence counter.
func Sequence(ctx context.Context, q Querier) (int64, error) {
	var v int64
	if err := q.QueryRowContext(ctx, `SELECT value FROM internal_sequence WHERE id = 1`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read sequence: %w", err)
	}
	return v, nil
}
