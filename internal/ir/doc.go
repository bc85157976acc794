// Package ir defines the change-control data model shared by every layer:
// changes, commits, versions, change set elements, buffer and cache rows,
// and the JSON value model used for entity snapshots.
//
// This package imports nothing internal. All other internal packages may
// import ir.
//
// Key design constraints:
//   - Snapshot content is JSON text; a nil snapshot is a tombstone
//   - Canonical JSON (RFC 8785 key order, NFC strings) is the only form
//     written to snapshot_content, so equal documents compare equal in SQL
//   - Deterministic identifiers derive from domain-separated SHA-256
package ir
