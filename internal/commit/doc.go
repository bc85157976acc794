// Package commit turns a session's transaction buffer into durable state.
//
// Commit runs inside one SQLite savepoint on the session connection:
//
//  1. untracked buffer rows are upserted into the untracked store
//  2. tracked rows are grouped by version; each version's descriptor and
//     tip must exist, otherwise the commit fails with a ConsistencyError
//  3. global receives a commit whenever any version commits
//  4. each non-global version's working change set is refreshed with
//     untracked lix_change_set_element rows
//  5. a buffer holding only untracked rows skips the commit graph
//  6. GenerateCommit derives changes and cache rows
//  7. changes are appended, the buffer cleared, caches upserted, and
//     superseded untracked rows removed
//  8. the file lixcol cache follows the newest change per file
//  9. the sequence is persisted and a state_commit Event is emitted
//
// A failure rolls back to the savepoint, leaving the buffer intact for a
// retry.
//
// GenerateCommit is pure: identical inputs and an identically seeded
// IDGenerator produce identical output.
package commit
