// Package entityview maps entity views onto the virtual state relation.
//
// Every registered schema exposes up to three views, selected by its
// x-lix-entity-views list:
//   - <key>: rows of the active version, one column per property
//   - <key>_all: rows of every version, with lixcol_version_id
//   - <key>_history: every change ever recorded for the schema (read-only)
//
// The generic views state, state_all and state_history expose the relation
// itself without per-property columns.
//
// Reads are expanded in place: a view reference becomes a derived table
// over internal_state_vtable. Writes are translated into DML on
// internal_state_vtable: property columns become json_extract reads and
// json_object/json_set writes of snapshot_content, and lixcol_* columns map
// to the relation's own columns.
package entityview
