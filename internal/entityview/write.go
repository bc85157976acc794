package entityview

import (
	"fmt"
	"strings"

	"github.com/roach88/lix/internal/ir"
	"github.com/roach88/lix/internal/schema"
	"github.com/roach88/lix/internal/shape"
	"github.com/roach88/lix/internal/sqlast"
	"github.com/roach88/lix/internal/sqlparser"
)

const (
	entityRowsName = "lix_entity_rows"
	snapshotAlias  = "lix_snapshot"
	rowsAlias      = "lix_row"
)

// WriteError reports DML on a view that cannot be translated.
type WriteError struct {
	View   string
	Reason string
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("INVALID_WRITE: view %s: %s", e.View, e.Reason)
}

// insertLixcols are the lixcol_* columns an INSERT may supply.
var insertLixcols = map[string]bool{
	"lixcol_file_id":    true,
	"lixcol_plugin_key": true,
	"lixcol_version_id": true,
	"lixcol_untracked":  true,
	"lixcol_metadata":   true,
	"lixcol_writer_key": true,
}

// RewriteWrite translates INSERT, UPDATE or DELETE on a writable view into
// DML on the virtual state relation. Statements whose target is not a
// view of c are returned unchanged with ok false.
func (c *Catalog) RewriteWrite(st sqlast.Statement) (out sqlast.Statement, ok bool, err error) {
	var target *sqlast.TableName
	switch n := st.(type) {
	case *sqlast.InsertStatement:
		target = n.Table
	case *sqlast.UpdateStatement:
		target = n.Table
	case *sqlast.DeleteStatement:
		target = n.Table
	default:
		return st, false, nil
	}
	if target == nil || (target.Schema != "" && !strings.EqualFold(target.Schema, "main")) {
		return st, false, nil
	}
	if shadowed := cteNames(st); shadowed[strings.ToLower(target.Name)] {
		return st, false, nil
	}
	view, found := c.Lookup(target.Name)
	if !found {
		return st, false, nil
	}
	if !view.Variant.Writable() {
		return nil, false, &WriteError{View: view.Name, Reason: "view is read-only"}
	}
	st, _ = sqlast.NumberParameters(st)

	w := &writer{catalog: c, view: view, ref: target.RefName()}
	switch n := st.(type) {
	case *sqlast.InsertStatement:
		out, err = w.insert(n)
	case *sqlast.UpdateStatement:
		out, err = w.update(n)
	case *sqlast.DeleteStatement:
		out, err = w.delete(n)
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

type writer struct {
	catalog *Catalog
	view    *View
	ref     string
}

func (w *writer) errorf(format string, args ...any) error {
	return &WriteError{View: w.view.Name, Reason: fmt.Sprintf(format, args...)}
}

func (w *writer) generic() bool {
	return w.view.Schema == nil
}

func stateRelation() *sqlast.TableName {
	return &sqlast.TableName{Name: shape.VtableName}
}

// scope is the predicate restricting the relation to the view's rows.
func (w *writer) scope() (sqlast.Expr, error) {
	var conds []sqlast.Expr
	if !w.generic() {
		conds = append(conds, sqlast.Eq(sqlast.Col("schema_key"), sqlast.Str(w.view.Schema.Key)))
	}
	switch w.view.Variant {
	case Base, State:
		v, err := w.defaultVersion()
		if err != nil {
			return nil, err
		}
		conds = append(conds, sqlast.Eq(sqlast.Col("version_id"), v))
	}
	return sqlast.And(conds...), nil
}

// defaultVersion is the version a base view reads and writes.
func (w *writer) defaultVersion() (sqlast.Expr, error) {
	if !w.generic() {
		if expr, ok := w.view.Schema.Override(schema.LixcolVersionID); ok {
			return w.override(schema.LixcolVersionID, expr)
		}
	}
	return sqlparser.ParseExpr(activeVersionSQL)
}

func (w *writer) override(lixcol, expr string) (sqlast.Expr, error) {
	e, err := sqlparser.ParseExpr(expr)
	if err != nil {
		return nil, w.errorf("override %s: %v", lixcol, err)
	}
	return e, nil
}

// lixcolDefault returns the override for lixcol or fallback.
func (w *writer) lixcolDefault(lixcol string, fallback sqlast.Expr) (sqlast.Expr, error) {
	if expr, ok := w.view.Schema.Override(lixcol); ok {
		return w.override(lixcol, expr)
	}
	return fallback, nil
}

// translate rewrites column references of e from view columns to
// relation expressions: properties become json_extract over
// snapshot_content and lixcol_* columns their relation column. Inside a
// subquery that binds its own relations, only references that resolve to
// the target are translated.
func (w *writer) translate(e sqlast.Expr) (sqlast.Expr, error) {
	var err error
	out := sqlast.RewriteExpr(e, w.rewriter(nil, &err))
	return out, err
}

// binding is the set of relations a subquery's FROM introduces.
type binding struct {
	names   map[string]bool
	columns map[string]bool
	// known is false when some relation's columns cannot be listed.
	known bool
}

func (w *writer) rewriter(scopes []binding, err *error) sqlast.Rewriter {
	return sqlast.Rewriter{
		Expr: func(e sqlast.Expr) sqlast.Expr {
			c, ok := e.(*sqlast.ColumnRef)
			if !ok || !w.targets(c, scopes) {
				return e
			}
			qualifier := ""
			if len(scopes) > 0 {
				qualifier = shape.VtableName
			}
			out, terr := w.translateRef(c, qualifier)
			if terr != nil && *err == nil {
				*err = terr
			}
			return out
		},
		Scope: func(s *sqlast.SelectStatement) sqlast.Rewriter {
			nested := append(append([]binding(nil), scopes...), w.bind(s))
			return w.rewriter(nested, err)
		},
	}
}

// targets reports whether c refers to the view being written, given the
// enclosing subquery scopes.
func (w *writer) targets(c *sqlast.ColumnRef, scopes []binding) bool {
	if c.Table != "" {
		for _, b := range scopes {
			if b.names[strings.ToLower(c.Table)] {
				return false
			}
		}
		return strings.EqualFold(c.Table, w.ref)
	}
	for _, b := range scopes {
		if !b.known || b.columns[strings.ToLower(c.Column)] {
			return false
		}
	}
	return true
}

// bind collects the relations the FROM clauses of s introduce.
func (w *writer) bind(s *sqlast.SelectStatement) binding {
	b := binding{names: map[string]bool{}, columns: map[string]bool{}, known: true}
	ctes := map[string]bool{}
	if s.With != nil {
		for _, cte := range s.With.CTEs {
			ctes[strings.ToLower(cte.Name)] = true
		}
	}
	var visit func(t sqlast.TableExpr)
	visit = func(t sqlast.TableExpr) {
		switch n := t.(type) {
		case *sqlast.TableName:
			b.names[strings.ToLower(n.RefName())] = true
			view, ok := w.catalog.Lookup(n.Name)
			if ctes[strings.ToLower(n.Name)] || !ok {
				b.known = false
				return
			}
			if !addColumns(b.columns, view.Select) {
				b.known = false
			}
		case *sqlast.SubqueryTable:
			b.names[strings.ToLower(n.Alias)] = true
			if !addColumns(b.columns, n.Select) {
				b.known = false
			}
		case *sqlast.TableFunction:
			b.names[strings.ToLower(n.Alias)] = true
			b.known = false
		case *sqlast.JoinExpr:
			visit(n.Left)
			visit(n.Right)
		}
	}
	cores := []*sqlast.SelectCore{s.Core}
	for _, arm := range s.Compounds {
		cores = append(cores, arm.Core)
	}
	for _, core := range cores {
		if core != nil && core.From != nil {
			visit(core.From)
		}
	}
	return b
}

// addColumns adds the output column names of s to cols. It returns false
// when s projects a star.
func addColumns(cols map[string]bool, s *sqlast.SelectStatement) bool {
	if s == nil || s.Core == nil {
		return false
	}
	for _, rc := range s.Core.Columns {
		switch {
		case rc.Star:
			return false
		case rc.Alias != "":
			cols[strings.ToLower(rc.Alias)] = true
		default:
			ref, ok := rc.Expr.(*sqlast.ColumnRef)
			if !ok {
				return false
			}
			cols[strings.ToLower(ref.Column)] = true
		}
	}
	return true
}

// translateRef maps one reference to the view onto the state relation.
// qualifier, when set, names the relation explicitly.
func (w *writer) translateRef(c *sqlast.ColumnRef, qualifier string) (sqlast.Expr, error) {
	col := func(name string) *sqlast.ColumnRef {
		if qualifier == "" {
			return sqlast.Col(name)
		}
		return sqlast.Col(qualifier, name)
	}
	if w.generic() {
		return col(c.Column), nil
	}
	if name, ok := lixcolColumn(c.Column); ok {
		if name == "version_id" && w.view.Variant == Base {
			return col(name), w.errorf("column %s is not part of the view", c.Column)
		}
		return col(name), nil
	}
	if w.view.Schema.HasProperty(c.Column) {
		return extract(col("snapshot_content"), c.Column), nil
	}
	if c.Table != "" {
		return c, w.errorf("unknown column %s", c.Column)
	}
	return c, nil
}

func extract(doc sqlast.Expr, property string) sqlast.Expr {
	return sqlast.Fn("json_extract", doc, sqlast.Str(schema.PropertyPath(property)))
}

// jsonValue converts an SQL value bound to a property into the form
// json_object and json_set embed.
func (w *writer) jsonValue(property string, v sqlast.Expr) sqlast.Expr {
	switch {
	case w.view.Schema.IsStructured(property):
		return sqlast.Fn("json", v)
	case w.view.Schema.IsBoolean(property):
		return sqlast.Fn("json", &sqlast.CaseExpr{
			Whens: []*sqlast.WhenClause{
				{Condition: sqlast.Bin("IS", v, sqlast.Null()), Result: sqlast.Str("null")},
				{Condition: v, Result: sqlast.Str("true")},
			},
			Else: sqlast.Str("false"),
		})
	default:
		return v
	}
}

// entityID builds the entity id from the primary key values of doc.
func (w *writer) entityID(doc sqlast.Expr) sqlast.Expr {
	var parts []sqlast.Expr
	for _, ptr := range w.view.Schema.PrimaryKey {
		parts = append(parts, sqlast.Fn("json_extract", doc, sqlast.Str(schema.JSONPath(ptr))))
	}
	id := parts[0]
	for _, p := range parts[1:] {
		id = sqlast.Bin("||", sqlast.Bin("||", id, sqlast.Str("~")), p)
	}
	return id
}

// touchesPrimaryKey reports whether assigning property can change the
// entity id.
func (w *writer) touchesPrimaryKey(property string) bool {
	for _, ptr := range w.view.Schema.PrimaryKey {
		top := strings.SplitN(strings.TrimPrefix(ptr, "/"), "/", 2)[0]
		top = strings.ReplaceAll(strings.ReplaceAll(top, "~1", "/"), "~0", "~")
		if top == property {
			return true
		}
	}
	return false
}

func (w *writer) insert(n *sqlast.InsertStatement) (sqlast.Statement, error) {
	if w.generic() {
		cp := *n
		cp.Table = stateRelation()
		if w.view.Variant == State {
			for _, c := range n.Columns {
				if strings.EqualFold(c, "version_id") {
					return nil, w.errorf("column version_id is not part of the view")
				}
			}
		}
		return &cp, nil
	}
	if n.DefaultValues || len(n.Columns) == 0 {
		return nil, w.errorf("INSERT requires an explicit column list")
	}
	if n.OnConflict != nil {
		return nil, w.errorf("ON CONFLICT is not supported; inserts replace existing rows")
	}

	d := w.view.Schema
	present := map[string]bool{}
	var props []string
	for _, c := range n.Columns {
		name := strings.ToLower(c)
		switch {
		case d.HasProperty(c):
			props = append(props, c)
			name = c
		case insertLixcols[name]:
			if name == "lixcol_version_id" && w.view.Variant == Base {
				return nil, w.errorf("column %s is not part of the view", c)
			}
		default:
			return nil, w.errorf("unknown column %s", c)
		}
		if present[name] {
			return nil, w.errorf("column %s listed twice", c)
		}
		present[name] = true
	}

	row := func(col string) sqlast.Expr { return sqlast.Col(rowsAlias, col) }
	var objArgs []sqlast.Expr
	for _, p := range props {
		objArgs = append(objArgs, sqlast.Str(p), w.jsonValue(p, row(p)))
	}
	inner := sqlast.SimpleSelect(
		[]*sqlast.ResultColumn{sqlast.As(sqlast.Fn("json_object", objArgs...), snapshotAlias), {Star: true, Table: rowsAlias}},
		&sqlast.TableName{Name: entityRowsName, Alias: rowsAlias},
		nil,
	)

	s := func(col string) sqlast.Expr { return sqlast.Col("s", col) }
	pick := func(lixcol string, fallback sqlast.Expr) (sqlast.Expr, error) {
		if present[lixcol] {
			return s(lixcol), nil
		}
		return w.lixcolDefault(lixcol, fallback)
	}
	fileID, err := pick(schema.LixcolFileID, sqlast.Str(ir.LixOwnFile))
	if err != nil {
		return nil, err
	}
	pluginKey, err := pick(schema.LixcolPluginKey, sqlast.Str(ir.LixPlugin))
	if err != nil {
		return nil, err
	}
	version, err := pick(schema.LixcolVersionID, sqlast.Null())
	if err != nil {
		return nil, err
	}
	untracked, err := pick(schema.LixcolUntracked, sqlast.Num("0"))
	if err != nil {
		return nil, err
	}
	metadata, err := pick(schema.LixcolMetadata, sqlast.Null())
	if err != nil {
		return nil, err
	}
	writerKey := sqlast.Expr(sqlast.Null())
	if present["lixcol_writer_key"] {
		writerKey = s("lixcol_writer_key")
	}

	snapshot := s(snapshotAlias)
	outer := sqlast.SimpleSelect([]*sqlast.ResultColumn{
		sqlast.As(w.entityID(snapshot), ""),
		sqlast.As(sqlast.Str(d.Key), ""),
		sqlast.As(fileID, ""),
		sqlast.As(pluginKey, ""),
		sqlast.As(sqlast.Str(d.Version), ""),
		sqlast.As(version, ""),
		sqlast.As(snapshot, ""),
		sqlast.As(metadata, ""),
		sqlast.As(untracked, ""),
		sqlast.As(writerKey, ""),
	}, &sqlast.SubqueryTable{Select: inner, Alias: "s"}, sqlast.Num("1"))

	body := n.Select
	if body == nil {
		body = &sqlast.SelectStatement{Core: &sqlast.SelectCore{Values: n.Values}}
	}
	cols := make([]string, len(n.Columns))
	for i, c := range n.Columns {
		cols[i] = c
		if !d.HasProperty(c) {
			cols[i] = strings.ToLower(c)
		}
	}
	with := &sqlast.WithClause{}
	if n.With != nil {
		with.Recursive = n.With.Recursive
		with.CTEs = append(with.CTEs, n.With.CTEs...)
	}
	with.CTEs = append(with.CTEs, &sqlast.CommonTableExpr{Name: entityRowsName, Columns: cols, Select: body})

	return &sqlast.InsertStatement{
		With:  with,
		Table: stateRelation(),
		Columns: []string{
			"entity_id", "schema_key", "file_id", "plugin_key", "schema_version",
			"version_id", "snapshot_content", "metadata", "untracked", "writer_key",
		},
		Select: outer,
	}, nil
}

func (w *writer) update(n *sqlast.UpdateStatement) (sqlast.Statement, error) {
	if n.From != nil {
		return nil, w.errorf("UPDATE ... FROM is not supported")
	}
	scope, err := w.scope()
	if err != nil {
		return nil, err
	}
	where := scope
	if n.Where != nil {
		translated, err := w.translate(n.Where)
		if err != nil {
			return nil, err
		}
		where = conjoin(scope, translated)
	}

	if w.generic() {
		var set []*sqlast.Assignment
		for _, a := range n.Set {
			if w.view.Variant == State && strings.EqualFold(a.Column, "version_id") {
				return nil, w.errorf("column version_id is not part of the view")
			}
			v, err := w.translate(a.Value)
			if err != nil {
				return nil, err
			}
			set = append(set, &sqlast.Assignment{Column: a.Column, Value: v})
		}
		return &sqlast.UpdateStatement{With: n.With, Table: stateRelation(), Set: set, Where: where}, nil
	}

	var (
		set      []*sqlast.Assignment
		jsonArgs = []sqlast.Expr{sqlast.Col("snapshot_content")}
		movesPK  bool
	)
	for _, a := range n.Set {
		v, err := w.translate(a.Value)
		if err != nil {
			return nil, err
		}
		if w.view.Schema.HasProperty(a.Column) {
			jsonArgs = append(jsonArgs, sqlast.Str(schema.PropertyPath(a.Column)), w.jsonValue(a.Column, v))
			movesPK = movesPK || w.touchesPrimaryKey(a.Column)
			continue
		}
		col, ok := lixcolColumn(a.Column)
		if !ok || !insertLixcols[strings.ToLower(a.Column)] {
			return nil, w.errorf("column %s cannot be updated", a.Column)
		}
		if col == "version_id" && w.view.Variant == Base {
			return nil, w.errorf("column %s is not part of the view", a.Column)
		}
		set = append(set, &sqlast.Assignment{Column: col, Value: v})
	}
	if len(jsonArgs) > 1 {
		snapshot := sqlast.Fn("json_set", jsonArgs...)
		set = append([]*sqlast.Assignment{{Column: "snapshot_content", Value: snapshot}}, set...)
		if movesPK {
			set = append(set, &sqlast.Assignment{Column: "entity_id", Value: w.entityID(snapshot)})
		}
	}
	if len(set) == 0 {
		return nil, w.errorf("UPDATE sets no columns")
	}
	return &sqlast.UpdateStatement{With: n.With, Table: stateRelation(), Set: set, Where: where}, nil
}

// delete keeps the caller's predicate intact as the last conjunct, so its
// boolean structure survives translation.
func (w *writer) delete(n *sqlast.DeleteStatement) (sqlast.Statement, error) {
	scope, err := w.scope()
	if err != nil {
		return nil, err
	}
	where := scope
	if n.Where != nil {
		translated, err := w.translate(n.Where)
		if err != nil {
			return nil, err
		}
		where = conjoin(scope, translated)
	}
	return &sqlast.DeleteStatement{With: n.With, Table: stateRelation(), Where: where}, nil
}

// conjoin ANDs the conjuncts of a and b into one flat chain. Operands that
// are not ANDs, such as an OR, stay intact.
func conjoin(a, b sqlast.Expr) sqlast.Expr {
	return sqlast.And(append(sqlast.Conjuncts(a), sqlast.Conjuncts(b)...)...)
}
