package harness

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/lix/internal/engine"
	"github.com/roach88/lix/internal/ir"
)

// validIdentifier matches identifiers that may be interpolated into
// assertion queries.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			if event.Type == EventStateCommit {
				fmt.Fprintf(&buf, "  [%d] commit %s %s\n", i+1, event.SchemaKey, event.EntityID)
				continue
			}
			fmt.Fprintf(&buf, "  [%d] %s %s\n", i+1, event.Type, event.SQL)
		}
	}
	return buf.String()
}

// assertCommitContains checks that a committed change of the schema (and
// entity) carries a snapshot containing the expected values.
func assertCommitContains(trace []TraceEvent, assertion Assertion) error {
	for _, ev := range trace {
		if ev.Type != EventStateCommit || ev.SchemaKey != assertion.SchemaKey {
			continue
		}
		if assertion.EntityID != "" && ev.EntityID != assertion.EntityID {
			continue
		}
		if ev.Deleted != assertion.Deleted {
			continue
		}
		if len(assertion.Expect) == 0 {
			return nil
		}
		snap, ok := ev.Snapshot.(map[string]any)
		if ok && matchRow(snap, assertion.Expect, valuesEqual) == "" {
			return nil
		}
	}

	what := "change"
	if assertion.Deleted {
		what = "deletion"
	}
	return &AssertionError{
		Type:     AssertCommitContains,
		Expected: fmt.Sprintf("%s of %s %s with %v", what, assertion.SchemaKey, assertion.EntityID, assertion.Expect),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertCommitCount checks that the schema was committed exactly
// assertion.Count times.
func assertCommitCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Type == EventStateCommit && ev.SchemaKey == assertion.SchemaKey {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertCommitCount,
			Expected: fmt.Sprintf("%d committed changes of %s", assertion.Count, assertion.SchemaKey),
			Actual:   fmt.Sprintf("%d committed changes", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertCommitOrder checks that entities were first committed in the
// given order. Other commits may appear in between.
func assertCommitOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		if ev.Type != EventStateCommit {
			continue
		}
		if _, seen := positions[ev.EntityID]; !seen {
			positions[ev.EntityID] = i + 1
		}
	}

	for _, id := range assertion.Entities {
		if positions[id] == 0 {
			return &AssertionError{
				Type:     AssertCommitOrder,
				Expected: fmt.Sprintf("all entities committed: %v", assertion.Entities),
				Actual:   fmt.Sprintf("missing entity: %s", id),
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(assertion.Entities); i++ {
		prev, curr := assertion.Entities[i-1], assertion.Entities[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertCommitOrder,
				Expected: fmt.Sprintf("entities in order: %v", assertion.Entities),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// queryTable reads table rows matching where through the engine, so
// entity views resolve against the active version.
func queryTable(ctx context.Context, eng *engine.Engine, table string, where map[string]any) ([]map[string]any, error) {
	if !validIdentifier.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q: must match pattern %s", table, validIdentifier.String())
	}
	whereSQL, args, err := buildWhereClause(where)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT * FROM %s", table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}
	rows, err := eng.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return normalizeRows(rows), nil
}

// assertState checks that exactly one row of the table matches where and
// holds the expected values.
func assertState(ctx context.Context, eng *engine.Engine, assertion Assertion) error {
	rows, err := queryTable(ctx, eng, assertion.Table, assertion.Where)
	if err != nil {
		return &AssertionError{
			Type:     AssertState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}

	whereDesc := formatWhereClause(assertion.Where)
	switch len(rows) {
	case 0:
		return &AssertionError{
			Type:     AssertState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, whereDesc),
			Actual:   "row not found",
		}
	case 1:
	default:
		return &AssertionError{
			Type:     AssertState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, whereDesc),
			Actual:   fmt.Sprintf("%d rows matched (assertion is ambiguous)", len(rows)),
		}
	}

	if msg := matchRow(rows[0], assertion.Expect, stateValuesEqual); msg != "" {
		return &AssertionError{
			Type:     AssertState,
			Expected: fmt.Sprintf("row in %s where %s to match %v", assertion.Table, whereDesc, assertion.Expect),
			Actual:   msg,
		}
	}
	return nil
}

// assertRowCount checks the number of rows of the table matching where.
func assertRowCount(ctx context.Context, eng *engine.Engine, assertion Assertion) error {
	rows, err := queryTable(ctx, eng, assertion.Table, assertion.Where)
	if err != nil {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	if len(rows) != assertion.Count {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%d rows in %s where %s", assertion.Count, assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   fmt.Sprintf("%d rows", len(rows)),
		}
	}
	return nil
}

// buildWhereClause constructs a parameterized WHERE clause. Keys are
// sorted for determinism.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}
	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML value to a SQL argument. Booleans bind as
// 0 and 1, the way entity views expose them.
func toSQLValue(v any) any {
	switch val := v.(type) {
	case bool:
		if val {
			return int64(1)
		}
		return int64(0)
	case nil, string, int, int64, float64:
		return val
	}
	if b, err := canonical(v); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// matchRow checks that actual holds every expected key with an equal
// value. It returns a mismatch description or "".
func matchRow(actual, expected map[string]any, eq func(expected, actual any) bool) string {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		got, ok := actual[key]
		if !ok {
			return fmt.Sprintf("field %q not present", key)
		}
		if !eq(expected[key], got) {
			return fmt.Sprintf("field %q = %v (type %T), want %v (type %T)", key, got, got, expected[key], expected[key])
		}
	}
	return ""
}

// stateValuesEqual compares an expected YAML value with a SQLite column
// value. Booleans match 0 and 1; objects and arrays match JSON text.
func stateValuesEqual(expected, actual any) bool {
	switch exp := expected.(type) {
	case bool:
		switch act := actual.(type) {
		case bool:
			return exp == act
		case int64:
			return exp == (act != 0)
		}
		return false
	case map[string]any, []any:
		s, ok := actual.(string)
		if !ok {
			return valuesEqual(expected, actual)
		}
		got, err := ir.CanonicalizeJSON([]byte(s))
		if err != nil {
			return false
		}
		want, err := canonical(exp)
		return err == nil && bytes.Equal(got, want)
	}
	return valuesEqual(expected, actual)
}

// valuesEqual compares two values by their canonical JSON encoding, so
// 1, int64(1), 1.0 and json.Number("1") are equal.
func valuesEqual(expected, actual any) bool {
	want, err := canonical(expected)
	if err != nil {
		return false
	}
	got, err := canonical(actual)
	if err != nil {
		return false
	}
	return bytes.Equal(want, got)
}

func canonical(v any) ([]byte, error) {
	val, err := ir.FromGo(v)
	if err != nil {
		return nil, err
	}
	return ir.MarshalCanonical(val)
}

// AssertionContext provides database access for state assertions.
type AssertionContext struct {
	Engine *engine.Engine
	Ctx    context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertCommitContains:
			err = assertCommitContains(result.Trace, assertion)
		case AssertCommitCount:
			err = assertCommitCount(result.Trace, assertion)
		case AssertCommitOrder:
			err = assertCommitOrder(result.Trace, assertion)
		case AssertState, AssertRowCount:
			if actx == nil || actx.Engine == nil {
				err = fmt.Errorf("assertion[%d]: %s requires an engine", i, assertion.Type)
			} else if assertion.Type == AssertState {
				err = assertState(actx.Ctx, actx.Engine, assertion)
			} else {
				err = assertRowCount(actx.Ctx, actx.Engine, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
