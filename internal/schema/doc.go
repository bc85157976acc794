// Package schema parses entity schemas and validates snapshots against them.
//
// A schema is a JSON Schema document with lix metadata:
//
//	{
//	  "x-lix-key": "todo",
//	  "x-lix-version": "1.0",
//	  "x-lix-primary-key": ["/id"],
//	  "x-lix-override-lixcols": {"lixcol_file_id": "'lix'"},
//	  "x-lix-entity-views": ["state", "state_all"],
//	  "type": "object",
//	  "properties": {"id": {"type": "string"}, "title": {"type": "string"}}
//	}
//
// Validation compiles the document to CUE with encoding/jsonschema and
// unifies each snapshot with it. The registry's ValidateSnapshot backs the
// lix_validate_snapshot SQL function, so invalid writes fail inside the
// statement that makes them.
package schema
