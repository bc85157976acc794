package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/lix/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Cache table registry and untracked tombstones
const currentSchemaVersion = 1

// driverSeq numbers the per-store driver registrations. database/sql keeps
// drivers in a process-wide map, and every store needs its own ConnectHook.
var driverSeq atomic.Int64

// Querier is the subset of *sql.DB, *sql.Conn and *sql.Tx the store's
// helpers need. Helpers take one so the commit engine can run them inside
// a session's transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Functions are the application-defined SQL functions every connection
// registers. Nil fields fall back to defaults.
type Functions struct {
	// UUIDv7 backs lix_uuid_v7().
	UUIDv7 func() string

	// Timestamp backs lix_timestamp().
	Timestamp func() string

	// ValidateSnapshot backs lix_validate_snapshot(schema_key, snapshot).
	// It returns the canonical snapshot text or an error that aborts the
	// statement.
	ValidateSnapshot func(schemaKey, snapshot string) (string, error)
}

// Option configures Open.
type Option func(*options)

type options struct {
	functions Functions
	logger    *slog.Logger
	maxConns  int
}

// WithFunctions sets the SQL function implementations.
func WithFunctions(f Functions) Option {
	return func(o *options) { o.functions = f }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMaxConns caps the connection pool. Each session holds one
// connection for its lifetime.
func WithMaxConns(n int) Option {
	return func(o *options) { o.maxConns = n }
}

// Store provides durable storage for the change log and derived state.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// Every connection is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//   - the TEMP transaction buffer table
//   - lix_uuid_v7, lix_timestamp and lix_validate_snapshot
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{maxConns: 8}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	fns := withDefaults(o.functions)

	driverName := fmt.Sprintf("sqlite3_lix_%d", driverSeq.Add(1))
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return configureConn(conn, fns)
		},
	})

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Sessions pin connections, so the pool must allow more than one.
	// SQLite still serializes writers through the busy timeout.
	db.SetMaxOpenConns(o.maxConns)
	db.SetMaxIdleConns(2)

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{db: db, logger: o.logger}
	for _, key := range builtinSchemas {
		if _, err := s.EnsureCacheTable(context.Background(), db, key); err != nil {
			db.Close()
			return nil, err
		}
	}

	o.logger.Debug("store opened", "path", path, "driver", driverName)
	return s, nil
}

var builtinSchemas = []string{
	ir.SchemaVersionDescriptor,
	ir.SchemaVersionTip,
	ir.SchemaCommit,
	ir.SchemaChangeSet,
	ir.SchemaChangeSetElement,
	ir.SchemaStoredSchema,
	ir.SchemaFileDescriptor,
	ir.SchemaKeyValue,
	ir.SchemaAccount,
	ir.SchemaChangeAuthor,
	ir.SchemaActiveAccount,
}

// Close closes the database connection.
// Should be called when the store is no longer needed.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Conn reserves a dedicated connection. The connection carries its own
// transaction buffer; callers must Close it.
func (s *Store) Conn(ctx context.Context) (*sql.Conn, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserve connection: %w", err)
	}
	return conn, nil
}

// Query executes a query and returns the resulting rows.
// Callers are responsible for closing the returned rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// pragmas are per connection, so they run from the ConnectHook.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

func configureConn(conn *sqlite3.SQLiteConn, fns Functions) error {
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma, nil); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := conn.Exec(transactionStateDDL, nil); err != nil {
		return fmt.Errorf("create transaction buffer: %w", err)
	}
	if err := conn.RegisterFunc("lix_uuid_v7", fns.UUIDv7, false); err != nil {
		return fmt.Errorf("register lix_uuid_v7: %w", err)
	}
	if err := conn.RegisterFunc("lix_timestamp", fns.Timestamp, false); err != nil {
		return fmt.Errorf("register lix_timestamp: %w", err)
	}
	if err := conn.RegisterFunc("lix_validate_snapshot", fns.ValidateSnapshot, false); err != nil {
		return fmt.Errorf("register lix_validate_snapshot: %w", err)
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 registers cache tables created before the registry existed.
// New databases get an empty registry from schema.sql.
func migrateToV1(db *sql.DB) error {
	rows, err := db.Query(`
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name LIKE 'internal_state_cache_%'
		ORDER BY name COLLATE BINARY
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("migrate to v1: %w", err)
		}
		tables = append(tables, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}

	for _, table := range tables {
		key := strings.TrimPrefix(table, cacheTablePrefix)
		if _, err := db.Exec(`
			INSERT INTO internal_cache_table (schema_key, table_name) VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`, key, table); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
