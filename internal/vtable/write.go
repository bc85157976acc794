package vtable

import (
	"fmt"
	"strings"

	"github.com/roach88/lix/internal/shape"
	"github.com/roach88/lix/internal/sqlast"
)

// BufferTable is the per-connection transaction buffer writes land in.
const BufferTable = "internal_transaction_state"

const writeRowsName = "lix_write_rows"

// WriteError reports a write to the virtual relation that cannot be
// lowered into the transaction buffer.
type WriteError struct {
	Reason string
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("INVALID_WRITE: %s: %s", shape.VtableName, e.Reason)
}

// writableColumns are the relation columns a write may set.
var writableColumns = []string{
	"entity_id", "schema_key", "file_id", "version_id", "plugin_key",
	"schema_version", "snapshot_content", "metadata", "untracked", "writer_key",
}

// requiredColumns must be present in an INSERT column list.
var requiredColumns = []string{
	"entity_id", "schema_key", "file_id", "plugin_key", "schema_version", "snapshot_content",
}

// identityColumns change which row a write lands on.
var identityColumns = []string{"entity_id", "schema_key", "file_id", "version_id"}

var bufferColumns = []string{
	"id", "entity_id", "schema_key", "schema_version", "file_id", "plugin_key",
	"version_id", "snapshot_content", "metadata", "created_at", "untracked", "writer_key",
}

// IsWrite reports whether st writes to the virtual relation.
func IsWrite(st sqlast.Statement) bool {
	switch n := st.(type) {
	case *sqlast.InsertStatement:
		return shape.IsVtable(n.Table)
	case *sqlast.UpdateStatement:
		return shape.IsVtable(n.Table)
	case *sqlast.DeleteStatement:
		return shape.IsVtable(n.Table)
	}
	return false
}

// RewriteWrite lowers an INSERT, UPDATE or DELETE on the virtual relation
// into an upsert of the transaction buffer. Snapshots pass through
// lix_validate_snapshot and every row gets a fresh change id. Deletes
// buffer a NULL snapshot.
//
// UPDATE and DELETE select their rows from the resolved relation, so a
// row a version inherits is copied into that version rather than changed
// in its ancestor. The returned statement has had Rewrite applied.
// Statements that do not write the relation are returned unchanged.
func RewriteWrite(st sqlast.Statement, opts Options) (sqlast.Statement, *Report, error) {
	if !IsWrite(st) {
		return st, nil, nil
	}
	st, _ = sqlast.NumberParameters(st)

	var (
		lowered *sqlast.InsertStatement
		err     error
	)
	switch n := st.(type) {
	case *sqlast.InsertStatement:
		lowered, err = lowerInsert(n)
	case *sqlast.UpdateStatement:
		lowered, err = lowerUpdate(n)
	case *sqlast.DeleteStatement:
		lowered = lowerDelete(n)
	}
	if err != nil {
		return nil, nil, err
	}
	return Rewrite(lowered, opts)
}

func lowerInsert(n *sqlast.InsertStatement) (*sqlast.InsertStatement, error) {
	if n.DefaultValues || len(n.Columns) == 0 {
		return nil, &WriteError{Reason: "INSERT requires an explicit column list"}
	}
	present := map[string]bool{}
	for _, c := range n.Columns {
		c = strings.ToLower(c)
		if !contains(writableColumns, c) {
			return nil, &WriteError{Reason: fmt.Sprintf("column %q is not writable", c)}
		}
		if present[c] {
			return nil, &WriteError{Reason: fmt.Sprintf("column %q listed twice", c)}
		}
		present[c] = true
	}
	for _, c := range requiredColumns {
		if !present[c] {
			return nil, &WriteError{Reason: fmt.Sprintf("INSERT requires column %q", c)}
		}
	}

	body := n.Select
	if body == nil {
		body = &sqlast.SelectStatement{Core: &sqlast.SelectCore{Values: n.Values}}
	}
	cols := make([]string, len(n.Columns))
	for i, c := range n.Columns {
		cols[i] = strings.ToLower(c)
	}
	with := &sqlast.WithClause{}
	if n.With != nil {
		with.Recursive = n.With.Recursive
		with.CTEs = append(with.CTEs, n.With.CTEs...)
	}
	with.CTEs = append(with.CTEs, &sqlast.CommonTableExpr{Name: writeRowsName, Columns: cols, Select: body})

	value := func(col string) sqlast.Expr {
		if present[col] {
			return sqlast.Col(col)
		}
		return sqlast.Null()
	}
	sel := bufferSelect(value, false, &sqlast.TableName{Name: writeRowsName}, sqlast.Num("1"))
	return bufferInsert(with, sel), nil
}

func lowerUpdate(n *sqlast.UpdateStatement) (*sqlast.InsertStatement, error) {
	if n.From != nil {
		return nil, &WriteError{Reason: "UPDATE ... FROM is not supported"}
	}
	set := map[string]sqlast.Expr{}
	for _, a := range n.Set {
		c := strings.ToLower(a.Column)
		if !contains(writableColumns, c) {
			return nil, &WriteError{Reason: fmt.Sprintf("column %q is not writable", c)}
		}
		set[c] = a.Value
	}
	value := func(col string) sqlast.Expr {
		if e, ok := set[col]; ok {
			return e
		}
		return sqlast.Col(col)
	}
	where := n.Where
	if where == nil {
		where = sqlast.Num("1")
	}
	from := &sqlast.TableName{Name: shape.VtableName}
	updated := bufferSelect(value, false, from, where)

	// Moving a row to a new identity leaves a deletion behind at the old one.
	var moved []sqlast.Expr
	for _, c := range identityColumns {
		if e, ok := set[c]; ok {
			moved = append(moved, sqlast.Bin("IS NOT", e, sqlast.Col(c)))
		}
	}
	if len(moved) == 0 {
		return bufferInsert(n.With, updated), nil
	}
	current := func(col string) sqlast.Expr { return sqlast.Col(col) }
	tombstones := bufferSelect(current, true, from, sqlast.And(where, sqlast.Or(moved...)))
	tombstones.Compounds = append(tombstones.Compounds, &sqlast.CompoundArm{Op: sqlast.UnionAll, Core: updated.Core})
	return bufferInsert(n.With, tombstones), nil
}

func lowerDelete(n *sqlast.DeleteStatement) *sqlast.InsertStatement {
	where := n.Where
	if where == nil {
		where = sqlast.Num("1")
	}
	value := func(col string) sqlast.Expr { return sqlast.Col(col) }
	sel := bufferSelect(value, true, &sqlast.TableName{Name: shape.VtableName}, where)
	return bufferInsert(n.With, sel)
}

// bufferSelect builds the SELECT feeding the buffer. value supplies the
// expression for each writable column.
func bufferSelect(value func(string) sqlast.Expr, tombstone bool, from sqlast.TableExpr, where sqlast.Expr) *sqlast.SelectStatement {
	snapshot := sqlast.Expr(sqlast.Null())
	if !tombstone {
		snap := value("snapshot_content")
		snapshot = &sqlast.CaseExpr{
			Whens: []*sqlast.WhenClause{{Condition: sqlast.Bin("IS", snap, sqlast.Null()), Result: sqlast.Null()}},
			Else:  sqlast.Fn("lix_validate_snapshot", value("schema_key"), snap),
		}
	}
	version := sqlast.Fn("COALESCE", value("version_id"), activeVersion())
	cols := []*sqlast.ResultColumn{
		sqlast.As(sqlast.Fn("lix_uuid_v7"), ""),
		sqlast.As(value("entity_id"), ""),
		sqlast.As(value("schema_key"), ""),
		sqlast.As(value("schema_version"), ""),
		sqlast.As(value("file_id"), ""),
		sqlast.As(value("plugin_key"), ""),
		sqlast.As(version, ""),
		sqlast.As(snapshot, ""),
		sqlast.As(sqlast.Fn("json", value("metadata")), ""),
		sqlast.As(sqlast.Fn("lix_timestamp"), ""),
		sqlast.As(sqlast.Fn("COALESCE", value("untracked"), sqlast.Num("0")), ""),
		sqlast.As(value("writer_key"), ""),
	}
	return sqlast.SimpleSelect(cols, from, where)
}

// bufferInsert wraps sel in the buffer upsert. sel always carries a WHERE
// so SQLite does not read ON CONFLICT as a join constraint.
func bufferInsert(with *sqlast.WithClause, sel *sqlast.SelectStatement) *sqlast.InsertStatement {
	var set []*sqlast.Assignment
	for _, c := range []string{"id", "snapshot_content", "schema_version", "plugin_key", "created_at", "untracked", "metadata", "writer_key"} {
		set = append(set, &sqlast.Assignment{Column: c, Value: sqlast.Col("excluded", c)})
	}
	return &sqlast.InsertStatement{
		With:    with,
		Table:   &sqlast.TableName{Name: BufferTable},
		Columns: bufferColumns,
		Select:  sel,
		OnConflict: &sqlast.OnConflict{
			Target: identityColumns,
			Set:    set,
		},
	}
}

func activeVersion() sqlast.Expr {
	return &sqlast.SubqueryExpr{Select: sqlast.SimpleSelect(
		[]*sqlast.ResultColumn{sqlast.As(sqlast.Col("version_id"), "")},
		&sqlast.TableName{Name: "internal_active_version"},
		nil,
	)}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
