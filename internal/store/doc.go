// Package store provides SQLite-backed storage for the change log and the
// state derived from it.
//
// The store holds:
//   - internal_change: immutable change records (append-only)
//   - internal_state_cache_<schema>: latest committed value per entity and version
//   - internal_untracked_state: state persisted without history
//   - internal_transaction_state: the TEMP, per-connection transaction buffer
//   - bookkeeping: writer attribution, file metadata, active version, sequence
//
// # Critical Patterns
//
// Change rows are never updated or deleted. Every other table is a
// projection the commit engine maintains and can be rebuilt from changes.
//
// The transaction buffer is a TEMP table created by the driver's
// ConnectHook, so each pooled connection, and therefore each session, owns
// a private buffer. Readers on other connections never see buffered rows.
//
// Helpers take a Querier instead of using the store's pool so the commit
// engine can run them on a session connection inside a savepoint.
//
// All list queries order deterministically: ORDER BY created_at ASC, id ASC
// COLLATE BINARY.
//
// # SQL Functions
//
// Every connection registers:
//   - lix_uuid_v7(): new change and row ids
//   - lix_timestamp(): created_at values
//   - lix_validate_snapshot(schema_key, snapshot): schema validation and
//     canonical JSON, raising an SQL error on violation
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
