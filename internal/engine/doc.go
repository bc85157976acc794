// Package engine implements a lix instance.
//
// The engine ties the rewrite pipeline to the store: statements go through
// preprocess, run on a session connection, and land in that connection's
// transaction buffer until the commit engine turns them into changes.
//
// ARCHITECTURE:
//
// Sessions:
// Each Session pins one *sql.Conn. The transaction buffer is a TEMP table,
// so a session's uncommitted writes are visible to its own reads only.
// Outside Begin/Commit every Exec commits on its own.
//
// Single Writer:
// Commits are serialized by the engine. SQLite serializes the remaining
// writers through its busy timeout.
//
// Commit Flow:
// 1. Session.Exec buffers rewritten writes in internal_transaction_state
// 2. Session.Commit (or autocommit) runs commit.Commit on the connection
// 3. After the commit lock is released, state_commit listeners and
//    subscriptions receive the event
//
// Schemas:
// RegisterSchema stores the document as a lix_stored_schema entity, creates
// the schema's cache table and rebuilds the entity view catalog. Open loads
// every stored schema back.
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// In deterministic mode every id and timestamp draws from Clock.Next() and
// each commit persists the sequence, so identical operations on identical
// lixes produce identical state.
//
// Bootstrap:
// A new lix starts with the global version and a main version inheriting
// from it. Both carry a commit and a working commit.
package engine
