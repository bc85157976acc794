package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/lix/internal/sqlast"
)

const cacheTablePrefix = "internal_state_cache_"

// transactionStateDDL creates the per-connection transaction buffer. TEMP
// tables are private to the connection that created them, which gives each
// session its own buffer.
const transactionStateDDL = `
CREATE TEMP TABLE IF NOT EXISTS internal_transaction_state (
    id TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    schema_key TEXT NOT NULL,
    schema_version TEXT NOT NULL,
    file_id TEXT NOT NULL,
    plugin_key TEXT NOT NULL,
    version_id TEXT NOT NULL,
    snapshot_content TEXT,
    metadata TEXT,
    created_at TEXT NOT NULL,
    untracked INTEGER NOT NULL DEFAULT 0,
    writer_key TEXT,
    UNIQUE (entity_id, schema_key, file_id, version_id)
)`

// CacheTableName returns the physical cache table for a schema key.
// Characters outside [A-Za-z0-9_] become underscores.
func CacheTableName(schemaKey string) string {
	var b strings.Builder
	b.WriteString(cacheTablePrefix)
	for _, r := range schemaKey {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func cacheTableDDL(table string) string {
	q := sqlast.QuoteIdent(table)
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    entity_id TEXT NOT NULL,
    schema_key TEXT NOT NULL,
    file_id TEXT NOT NULL,
    version_id TEXT NOT NULL,
    plugin_key TEXT NOT NULL,
    schema_version TEXT NOT NULL,
    snapshot_content TEXT,
    change_id TEXT NOT NULL,
    commit_id TEXT NOT NULL,
    inherited_from_version_id TEXT,
    is_tombstone INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (entity_id, file_id, version_id)
);
CREATE INDEX IF NOT EXISTS %s ON %s(version_id);
`, q, sqlast.QuoteIdent("idx_"+table+"_version"), q)
}

// EnsureCacheTable creates the cache table for schemaKey if needed and
// records it in the registry. Returns the table name.
func (s *Store) EnsureCacheTable(ctx context.Context, q Querier, schemaKey string) (string, error) {
	if schemaKey == "" {
		return "", fmt.Errorf("ensure cache table: empty schema key")
	}
	table := CacheTableName(schemaKey)

	var owner string
	err := q.QueryRowContext(ctx,
		`SELECT schema_key FROM internal_cache_table WHERE table_name = ?`, table,
	).Scan(&owner)
	switch {
	case err == nil && owner != schemaKey:
		return "", fmt.Errorf("ensure cache table: %s already serves schema %q", table, owner)
	case err == nil:
		return table, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("ensure cache table %s: %w", table, err)
	}

	if _, err := q.ExecContext(ctx, cacheTableDDL(table)); err != nil {
		return "", fmt.Errorf("ensure cache table %s: %w", table, err)
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO internal_cache_table (schema_key, table_name) VALUES (?, ?)
		ON CONFLICT(schema_key) DO NOTHING
	`, schemaKey, table); err != nil {
		return "", fmt.Errorf("ensure cache table %s: %w", table, err)
	}
	s.logger.Debug("cache table created", "schema_key", schemaKey, "table", table)
	return table, nil
}

// CacheTables returns the schemaKey -> table map of every cache table.
func (s *Store) CacheTables(ctx context.Context, q Querier) (map[string]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT schema_key, table_name FROM internal_cache_table ORDER BY schema_key COLLATE BINARY`)
	if err != nil {
		return nil, fmt.Errorf("query cache tables: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var key, table string
		if err := rows.Scan(&key, &table); err != nil {
			return nil, fmt.Errorf("scan cache table: %w", err)
		}
		out[key] = table
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache tables: %w", err)
	}
	return out, nil
}

// SortedTables returns the table names of a cache table map ordered by
// schema key.
func SortedTables(tables map[string]string) []string {
	keys := make([]string, 0, len(tables))
	for k := range tables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = tables[k]
	}
	return out
}
