package querysql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/lix/internal/ir"
	"github.com/roach88/lix/internal/queryir"
	"github.com/roach88/lix/internal/sqlast"
	"github.com/roach88/lix/internal/sqlcompile"
)

// SQLCompiler compiles query plans to parameterized SQL for SQLite.
//
// CRITICAL: All values are parameterized (never interpolated). Literal
// values, Param and BoundEquals nodes all become anonymous `?` placeholders
// whose arguments are returned in textual order.
type SQLCompiler struct {
	// BoundValues holds the values for Param and BoundEquals nodes, keyed by
	// parameter name ("?1", ":name") or bound variable.
	BoundValues map[string]any

	// OrderKey, when set, is appended as `ORDER BY <key> COLLATE BINARY ASC`
	// to a top-level query that has no ordering of its own, making row order
	// deterministic across SQLite versions.
	OrderKey string
}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{
		BoundValues: make(map[string]any),
	}
}

// BindPositional returns BoundValues for args bound positionally: the i-th
// argument is bound to "?<i+1>", the name queryir.ToPlan gives anonymous
// parameters.
func BindPositional(args []any) map[string]any {
	out := make(map[string]any, len(args))
	for i, a := range args {
		out["?"+strconv.Itoa(i+1)] = a
	}
	return out
}

// Compile converts a plan to parameterized SQL.
// Returns (sql, params, error) tuple.
func (c *SQLCompiler) Compile(p queryir.Plan) (string, []any, error) {
	if p == nil {
		return "", nil, fmt.Errorf("cannot compile nil plan")
	}
	b := &builder{c: c, bind: true, values: map[*sqlast.Parameter]any{}}
	st := b.statement(p)
	if b.err != nil {
		return "", nil, b.err
	}
	if sel, ok := st.(*sqlast.SelectStatement); ok && c.OrderKey != "" && len(sel.OrderBy) == 0 {
		sel.OrderBy = []*sqlast.OrderingTerm{{
			Expr:     &sqlast.CollateExpr{Expr: sqlast.Col(c.OrderKey), Collation: "BINARY"},
			Explicit: true,
		}}
	}

	var params []any
	var missing error
	sqlast.Inspect(st, func(n any) bool {
		if prm, ok := n.(*sqlast.Parameter); ok {
			v, ok := b.values[prm]
			if !ok && missing == nil {
				missing = fmt.Errorf("parameter %s has no bound value", prm.Name)
			}
			params = append(params, v)
		}
		return true
	})
	if missing != nil {
		return "", nil, missing
	}
	return sqlcompile.CompileStatement(st), params, nil
}

// ToStatement rebuilds an AST from a plan with literals inline and
// parameters kept by name. For plans produced by queryir.ToPlan the result
// compiles to the same SQL as the lowered statement.
func ToStatement(p queryir.Plan) (sqlast.Statement, error) {
	if p == nil {
		return nil, fmt.Errorf("cannot convert nil plan")
	}
	b := &builder{}
	st := b.statement(p)
	if b.err != nil {
		return nil, b.err
	}
	return st, nil
}

// builder converts plans to sqlast nodes. With bind set, values become
// placeholder Parameters recorded in values.
type builder struct {
	c      *SQLCompiler
	bind   bool
	values map[*sqlast.Parameter]any
	err    error
}

func (b *builder) fail(format string, args ...any) {
	if b.err == nil {
		b.err = fmt.Errorf(format, args...)
	}
}

func (b *builder) placeholder(v any) *sqlast.Parameter {
	p := &sqlast.Parameter{Name: "?"}
	b.values[p] = v
	return p
}

func (b *builder) statement(p queryir.Plan) sqlast.Statement {
	switch n := p.(type) {
	case *queryir.Raw:
		return &sqlast.RawFragment{SQL: n.SQL}
	case *queryir.Insert:
		out := &sqlast.InsertStatement{
			With:    b.with(n.With),
			Or:      n.Or,
			Table:   b.tableName(n.Table),
			Columns: n.Columns,
		}
		switch src := n.Source.(type) {
		case nil:
			out.DefaultValues = true
		case *queryir.Values:
			out.Values = b.rows(src.Rows)
		default:
			out.Select = b.selectStmt(src)
		}
		if oc := n.OnConflict; oc != nil {
			out.OnConflict = &sqlast.OnConflict{
				Target:      oc.Target,
				TargetWhere: b.optExpr(oc.TargetWhere),
				DoNothing:   oc.DoNothing,
				Set:         b.assigns(oc.Set),
				Where:       b.optExpr(oc.Where),
			}
		}
		return out
	case *queryir.Update:
		out := &sqlast.UpdateStatement{
			With:  b.with(n.With),
			Or:    n.Or,
			Table: b.tableName(n.Table),
			Set:   b.assigns(n.Set),
			Where: b.optExpr(n.Where),
		}
		if n.From != nil {
			out.From = b.table(n.From)
		}
		return out
	case *queryir.Delete:
		return &sqlast.DeleteStatement{
			With:  b.with(n.With),
			Table: b.tableName(n.Table),
			Where: b.optExpr(n.Where),
		}
	default:
		return b.selectStmt(p)
	}
}

func (b *builder) with(w *queryir.With) *sqlast.WithClause {
	if w == nil {
		return nil
	}
	out := &sqlast.WithClause{Recursive: w.Recursive}
	for _, cte := range w.CTEs {
		out.CTEs = append(out.CTEs, &sqlast.CommonTableExpr{Name: cte.Name, Columns: cte.Columns, Select: b.selectStmt(cte.Plan)})
	}
	return out
}

func (b *builder) tableName(s *queryir.Scan) *sqlast.TableName {
	if s == nil {
		b.fail("statement has no target table")
		return &sqlast.TableName{}
	}
	return &sqlast.TableName{Schema: s.Schema, Name: s.Table, Alias: s.Alias}
}

// selectStmt rebuilds a query. Operators that cannot be merged into the
// current query block (a second LIMIT, ORDER BY over a limited query) wrap
// it in a derived table.
func (b *builder) selectStmt(p queryir.Plan) *sqlast.SelectStatement {
	switch n := p.(type) {
	case *queryir.With:
		s := b.selectStmt(n.Body)
		if s.With != nil {
			s = wrap(s)
		}
		s.With = b.with(n)
		return s
	case *queryir.Limit:
		s := b.selectStmt(n.Input)
		if s.Limit != nil || s.Offset != nil || s.With != nil {
			s = wrap(s)
		}
		s.Limit = b.optExpr(n.Count)
		s.Offset = b.optExpr(n.Offset)
		return s
	case *queryir.Sort:
		s := b.selectStmt(n.Input)
		if len(s.OrderBy) > 0 || s.Limit != nil || s.Offset != nil || s.With != nil {
			s = wrap(s)
		}
		s.OrderBy = b.ordering(n.Keys)
		return s
	case *queryir.SetOp:
		l := b.selectStmt(n.Left)
		if len(l.OrderBy) > 0 || l.Limit != nil || l.Offset != nil || l.With != nil {
			l = wrap(l)
		}
		r := b.selectStmt(n.Right)
		if r.IsCompound() || len(r.OrderBy) > 0 || r.Limit != nil || r.Offset != nil || r.With != nil {
			r = wrap(r)
		}
		l.Compounds = append(l.Compounds, &sqlast.CompoundArm{Op: sqlast.SetOp(n.Op), Core: r.Core})
		return l
	case *queryir.Values:
		return &sqlast.SelectStatement{Core: &sqlast.SelectCore{Values: b.rows(n.Rows)}}
	case *queryir.Project:
		core := b.core(n.Input)
		core.Distinct = n.Distinct
		core.Columns = make([]*sqlast.ResultColumn, len(n.Columns))
		for i, col := range n.Columns {
			rc := &sqlast.ResultColumn{Star: col.Star, Table: col.Table, Alias: col.Alias}
			if !col.Star {
				rc.Expr = b.expr(col.Expr)
			}
			core.Columns[i] = rc
		}
		return &sqlast.SelectStatement{Core: core}
	case nil:
		b.fail("nil plan node")
		return &sqlast.SelectStatement{Core: &sqlast.SelectCore{Columns: []*sqlast.ResultColumn{sqlast.Star()}}}
	default:
		core := b.core(p)
		core.Columns = []*sqlast.ResultColumn{sqlast.Star()}
		return &sqlast.SelectStatement{Core: core}
	}
}

func wrap(s *sqlast.SelectStatement) *sqlast.SelectStatement {
	return sqlast.SimpleSelect([]*sqlast.ResultColumn{sqlast.Star()}, &sqlast.SubqueryTable{Select: s}, nil)
}

// core rebuilds the FROM, WHERE, GROUP BY and HAVING of one query block.
// The caller fills in the projection.
func (b *builder) core(p queryir.Plan) *sqlast.SelectCore {
	switch n := p.(type) {
	case nil:
		return &sqlast.SelectCore{}
	case *queryir.Filter:
		c := b.core(n.Input)
		if grouped(c) {
			c = nest(c)
		}
		c.Where = sqlast.And(c.Where, b.expr(n.Predicate))
		return c
	case *queryir.Aggregate:
		c := b.core(n.Input)
		if grouped(c) {
			c = nest(c)
		}
		c.GroupBy = b.exprs(n.GroupBy)
		c.Having = b.optExpr(n.Having)
		return c
	case *queryir.Scan, *queryir.Derived, *queryir.TableFunc, *queryir.Join:
		return &sqlast.SelectCore{From: b.table(p)}
	default:
		return &sqlast.SelectCore{From: &sqlast.SubqueryTable{Select: b.selectStmt(p)}}
	}
}

func grouped(c *sqlast.SelectCore) bool {
	return len(c.GroupBy) > 0 || c.Having != nil
}

func nest(c *sqlast.SelectCore) *sqlast.SelectCore {
	c.Columns = []*sqlast.ResultColumn{sqlast.Star()}
	return &sqlast.SelectCore{From: &sqlast.SubqueryTable{Select: &sqlast.SelectStatement{Core: c}}}
}

func (b *builder) table(p queryir.Plan) sqlast.TableExpr {
	switch n := p.(type) {
	case *queryir.Scan:
		return b.tableName(n)
	case *queryir.Derived:
		return &sqlast.SubqueryTable{Select: b.selectStmt(n.Input), Alias: n.Alias}
	case *queryir.TableFunc:
		return &sqlast.TableFunction{Name: n.Name, Args: b.exprs(n.Args), Alias: n.Alias}
	case *queryir.Join:
		return &sqlast.JoinExpr{
			Left:  b.table(n.Left),
			Kind:  sqlast.JoinKind(n.Kind),
			Right: b.table(n.Right),
			On:    b.optExpr(n.On),
			Using: n.Using,
		}
	default:
		return &sqlast.SubqueryTable{Select: b.selectStmt(p)}
	}
}

func (b *builder) rows(rows [][]queryir.Expr) [][]sqlast.Expr {
	out := make([][]sqlast.Expr, len(rows))
	for i, r := range rows {
		out[i] = b.exprs(r)
	}
	return out
}

func (b *builder) assigns(set []queryir.Assign) []*sqlast.Assignment {
	if set == nil {
		return nil
	}
	out := make([]*sqlast.Assignment, len(set))
	for i, a := range set {
		out[i] = &sqlast.Assignment{Column: a.Column, Value: b.expr(a.Value)}
	}
	return out
}

func (b *builder) ordering(keys []queryir.SortKey) []*sqlast.OrderingTerm {
	if keys == nil {
		return nil
	}
	out := make([]*sqlast.OrderingTerm, len(keys))
	for i, k := range keys {
		out[i] = &sqlast.OrderingTerm{Expr: b.expr(k.Expr), Desc: k.Desc, Explicit: k.Explicit, Nulls: k.Nulls}
	}
	return out
}

func (b *builder) exprs(in []queryir.Expr) []sqlast.Expr {
	if in == nil {
		return nil
	}
	out := make([]sqlast.Expr, len(in))
	for i, e := range in {
		out[i] = b.expr(e)
	}
	return out
}

func (b *builder) optExpr(e queryir.Expr) sqlast.Expr {
	if e == nil {
		return nil
	}
	return b.expr(e)
}

func (b *builder) expr(e queryir.Expr) sqlast.Expr {
	switch n := e.(type) {
	case nil:
		b.fail("nil expression node")
		return sqlast.Null()
	case *queryir.Literal:
		return b.value(n.Value)
	case *queryir.Verbatim:
		return verbatim(n.SQL)
	case *queryir.Param:
		if !b.bind {
			return sqlast.Param(n.Name)
		}
		return b.bound(n.Name)
	case *queryir.ColumnRef:
		return &sqlast.ColumnRef{Table: n.Table, Column: n.Column}
	case *queryir.Equals:
		return sqlast.Eq(&sqlast.ColumnRef{Table: n.Table, Column: n.Field}, b.value(n.Value))
	case *queryir.BoundEquals:
		col := &sqlast.ColumnRef{Table: n.Table, Column: n.Field}
		if !b.bind {
			return sqlast.Eq(col, sqlast.Param(":"+n.BoundVar))
		}
		return sqlast.Eq(col, b.bound(n.BoundVar))
	case *queryir.And:
		if len(n.Predicates) == 0 {
			return sqlast.Num("1")
		}
		return sqlast.And(b.exprs(n.Predicates)...)
	case *queryir.Or:
		if len(n.Predicates) == 0 {
			return sqlast.Num("0")
		}
		return sqlast.Or(b.exprs(n.Predicates)...)
	case *queryir.Not:
		return sqlast.Not(b.expr(n.Operand))
	case *queryir.Binary:
		return sqlast.Bin(n.Op, b.expr(n.Left), b.expr(n.Right))
	case *queryir.Unary:
		return &sqlast.UnaryExpr{Op: n.Op, Operand: b.expr(n.Operand)}
	case *queryir.Between:
		return &sqlast.BetweenExpr{Expr: b.expr(n.Expr), Not: n.Not, Low: b.expr(n.Low), High: b.expr(n.High)}
	case *queryir.In:
		in := &sqlast.InExpr{Expr: b.expr(n.Expr), Not: n.Not, List: b.exprs(n.List)}
		if n.Subquery != nil {
			in.Subquery = b.selectStmt(n.Subquery)
		}
		return in
	case *queryir.Exists:
		return &sqlast.ExistsExpr{Not: n.Not, Select: b.selectStmt(n.Query)}
	case *queryir.Call:
		call := &sqlast.FunctionCall{Name: n.Name, Distinct: n.Distinct, Star: n.Star, Args: b.exprs(n.Args)}
		if n.Over != nil {
			call.Over = &sqlast.WindowSpec{PartitionBy: b.exprs(n.Over.PartitionBy), OrderBy: b.ordering(n.Over.OrderBy)}
		}
		return call
	case *queryir.Cast:
		return &sqlast.CastExpr{Expr: b.expr(n.Expr), Type: n.Type}
	case *queryir.Case:
		c := &sqlast.CaseExpr{Operand: b.optExpr(n.Operand), Else: b.optExpr(n.Else)}
		for _, w := range n.Whens {
			c.Whens = append(c.Whens, &sqlast.WhenClause{Condition: b.expr(w.Condition), Result: b.expr(w.Result)})
		}
		return c
	case *queryir.Subquery:
		return &sqlast.SubqueryExpr{Select: b.selectStmt(n.Query)}
	case *queryir.Collate:
		return &sqlast.CollateExpr{Expr: b.expr(n.Expr), Collation: n.Collation}
	case *queryir.Row:
		return &sqlast.RowValue{Items: b.exprs(n.Items)}
	default:
		panic(fmt.Sprintf("querysql: unhandled expression %T", e))
	}
}

func (b *builder) bound(name string) sqlast.Expr {
	v, ok := b.c.BoundValues[name]
	if !ok {
		b.fail("no bound value for %s", name)
	}
	return b.placeholder(v)
}

// value renders a literal: a placeholder when binding, inline SQL
// otherwise.
func (b *builder) value(v ir.Value) sqlast.Expr {
	if b.bind {
		param, err := irValueToParam(v)
		if err != nil {
			b.fail("convert value: %v", err)
		}
		return b.placeholder(param)
	}
	switch val := v.(type) {
	case ir.Null, nil:
		return sqlast.Null()
	case ir.String:
		return sqlast.Str(string(val))
	case ir.Int:
		return sqlast.Num(strconv.FormatInt(int64(val), 10))
	case ir.Float:
		return sqlast.Num(strconv.FormatFloat(float64(val), 'g', -1, 64))
	case ir.Bool:
		if val {
			return &sqlast.Literal{Kind: sqlast.LiteralBool, Value: "TRUE"}
		}
		return &sqlast.Literal{Kind: sqlast.LiteralBool, Value: "FALSE"}
	default:
		b.fail("%T cannot be written as a SQL literal", v)
		return sqlast.Null()
	}
}

var keywordLiterals = map[string]struct{}{
	"CURRENT_TIMESTAMP": {}, "CURRENT_DATE": {}, "CURRENT_TIME": {},
}

func verbatim(sql string) *sqlast.Literal {
	if _, ok := keywordLiterals[sql]; ok {
		return &sqlast.Literal{Kind: sqlast.LiteralKeyword, Value: sql}
	}
	if strings.HasPrefix(sql, "X'") && strings.HasSuffix(sql, "'") && len(sql) >= 3 {
		return &sqlast.Literal{Kind: sqlast.LiteralBlob, Value: sql[2 : len(sql)-1]}
	}
	return &sqlast.Literal{Kind: sqlast.LiteralNumber, Value: sql}
}

// irValueToParam converts an ir.Value to a Go native type for a SQL
// parameter. Arrays and objects are not directly supported as parameters.
func irValueToParam(v ir.Value) (any, error) {
	switch val := v.(type) {
	case ir.String:
		return string(val), nil
	case ir.Int:
		return int64(val), nil
	case ir.Float:
		return float64(val), nil
	case ir.Bool:
		return bool(val), nil
	case ir.Null, nil:
		return nil, nil
	case ir.Array:
		return nil, fmt.Errorf("ir.Array cannot be used as SQL parameter directly")
	case ir.Object:
		return nil, fmt.Errorf("ir.Object cannot be used as SQL parameter directly")
	default:
		return nil, fmt.Errorf("unsupported ir.Value type for SQL parameter: %T", v)
	}
}
