// Package harness runs SQL conformance scenarios against a lix.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: todo_lifecycle
//	description: "Entity view writes commit and read back"
//	schemas:
//	  - schemas/todo.json
//	seed: todo
//	setup:
//	  - exec: INSERT INTO todo (id, title) VALUES ('t0', 'seeded')
//	steps:
//	  - begin: true
//	    session: writer
//	  - exec: INSERT INTO todo (id, title, done) VALUES (?, ?, ?)
//	    args: [t1, "Buy milk", false]
//	    session: writer
//	  - query: SELECT id FROM todo ORDER BY id
//	    expect:
//	      rows: [{id: t0}]
//	  - commit: true
//	    session: writer
//	  - create_version: {id: v1, name: feature}
//	  - switch_version: feature
//	assertions:
//	  - type: state
//	    table: todo
//	    where: {id: t1}
//	    expect: {title: "Buy milk", done: false}
//	  - type: commit_contains
//	    schema_key: todo
//	    entity_id: t1
//
// Schema paths are relative to the scenario file. Each step performs
// exactly one of exec, query, begin, commit, rollback, create_version or
// switch_version on the named session ("default" when omitted). Version
// references accept an id or a name.
//
// # Assertion Types
//
//   - state: exactly one row of table matching where has the expected values
//   - row_count: table has count rows matching where
//   - commit_contains: a committed change of schema_key (and entity_id) with
//     a snapshot containing the expected values
//   - commit_count: schema_key was committed count times
//   - commit_order: entities were first committed in the given order
//
// # Deterministic Testing
//
// Every scenario runs against a fresh lix in deterministic mode seeded by
// seed, so ids, timestamps and traces reproduce across runs. The trace
// holds each step and every committed change of a non-builtin schema; it
// is compared against testdata/golden by RunWithGolden.
package harness
