package queryir

import (
	"fmt"
	"strconv"

	"github.com/roach88/lix/internal/ir"
	"github.com/roach88/lix/internal/sqlast"
)

// ToPlan lowers a parsed statement into a plan.
//
// Anonymous `?` parameters are numbered first (see
// sqlast.NumberParameters), so every Param in the result has a stable name
// and binds to the same argument it did in the original text.
//
// Lowering is lossless for the supported grammar: querysql.ToStatement
// rebuilds an AST that compiles to the same SQL as the numbered input.
func ToPlan(st sqlast.Statement) (Plan, error) {
	if st == nil {
		return nil, fmt.Errorf("cannot lower nil statement")
	}
	st, _ = sqlast.NumberParameters(st)
	l := &lowerer{}
	p := l.statement(st)
	if l.err != nil {
		return nil, l.err
	}
	return p, nil
}

// ToPlans lowers every statement of a script.
func ToPlans(stmts []sqlast.Statement) ([]Plan, error) {
	out := make([]Plan, 0, len(stmts))
	for i, st := range stmts {
		p, err := ToPlan(st)
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", i+1, err)
		}
		out = append(out, p)
	}
	return out, nil
}

type lowerer struct {
	err error
}

func (l *lowerer) fail(format string, args ...any) {
	if l.err == nil {
		l.err = fmt.Errorf(format, args...)
	}
}

func (l *lowerer) statement(st sqlast.Statement) Plan {
	switch n := st.(type) {
	case *sqlast.RawFragment:
		return &Raw{SQL: n.SQL}
	case *sqlast.SelectStatement:
		return l.selectStmt(n)
	case *sqlast.InsertStatement:
		return l.insert(n)
	case *sqlast.UpdateStatement:
		return &Update{
			With:  l.with(n.With, nil),
			Or:    n.Or,
			Table: l.scan(n.Table),
			Set:   l.assigns(n.Set),
			From:  l.optTable(n.From),
			Where: l.expr(n.Where),
		}
	case *sqlast.DeleteStatement:
		return &Delete{
			With:  l.with(n.With, nil),
			Table: l.scan(n.Table),
			Where: l.expr(n.Where),
		}
	default:
		panic(fmt.Sprintf("queryir.ToPlan: unhandled statement %T", st))
	}
}

func (l *lowerer) insert(n *sqlast.InsertStatement) Plan {
	out := &Insert{
		With:    l.with(n.With, nil),
		Or:      n.Or,
		Table:   l.scan(n.Table),
		Columns: n.Columns,
	}
	switch {
	case len(n.Values) > 0:
		out.Source = &Values{Rows: l.rows(n.Values)}
	case n.Select != nil:
		out.Source = l.selectStmt(n.Select)
	case !n.DefaultValues:
		l.fail("insert into %s has no rows", n.Table.Name)
	}
	if oc := n.OnConflict; oc != nil {
		out.OnConflict = &Upsert{
			Target:      oc.Target,
			TargetWhere: l.expr(oc.TargetWhere),
			DoNothing:   oc.DoNothing,
			Set:         l.assigns(oc.Set),
			Where:       l.expr(oc.Where),
		}
	}
	return out
}

func (l *lowerer) with(w *sqlast.WithClause, body Plan) *With {
	if w == nil {
		return nil
	}
	out := &With{Recursive: w.Recursive, Body: body}
	for _, cte := range w.CTEs {
		out.CTEs = append(out.CTEs, CTE{Name: cte.Name, Columns: cte.Columns, Plan: l.selectStmt(cte.Select)})
	}
	return out
}

func (l *lowerer) selectStmt(s *sqlast.SelectStatement) Plan {
	if s == nil || s.Core == nil {
		l.fail("select without a query block")
		return &Values{}
	}
	p := l.core(s.Core)
	for _, arm := range s.Compounds {
		p = &SetOp{Op: string(arm.Op), Left: p, Right: l.core(arm.Core)}
	}
	if len(s.OrderBy) > 0 {
		p = &Sort{Input: p, Keys: l.sortKeys(s.OrderBy, true)}
	}
	if s.Limit != nil || s.Offset != nil {
		p = &Limit{Input: p, Count: l.expr(s.Limit), Offset: l.expr(s.Offset)}
	}
	if s.With != nil {
		return l.with(s.With, p)
	}
	return p
}

// core lowers one query block as Project(Aggregate(Filter(from))).
func (l *lowerer) core(c *sqlast.SelectCore) Plan {
	if c == nil {
		l.fail("nil select core")
		return &Values{}
	}
	if len(c.Values) > 0 {
		return &Values{Rows: l.rows(c.Values)}
	}
	p := l.optTable(c.From)
	if c.Where != nil {
		p = &Filter{Input: p, Predicate: l.expr(c.Where)}
	}
	if len(c.GroupBy) > 0 || c.Having != nil {
		groupBy := make([]Expr, len(c.GroupBy))
		for i, g := range c.GroupBy {
			groupBy[i] = l.ordinal(g)
		}
		p = &Aggregate{Input: p, GroupBy: groupBy, Having: l.expr(c.Having)}
	}
	cols := make([]Column, len(c.Columns))
	for i, rc := range c.Columns {
		cols[i] = Column{Star: rc.Star, Table: rc.Table, Expr: l.expr(rc.Expr), Alias: rc.Alias}
	}
	return &Project{Input: p, Columns: cols, Distinct: c.Distinct}
}

func (l *lowerer) optTable(t sqlast.TableExpr) Plan {
	if t == nil {
		return nil
	}
	return l.table(t)
}

func (l *lowerer) table(t sqlast.TableExpr) Plan {
	switch n := t.(type) {
	case *sqlast.TableName:
		return l.scan(n)
	case *sqlast.SubqueryTable:
		return &Derived{Input: l.selectStmt(n.Select), Alias: n.Alias}
	case *sqlast.TableFunction:
		return &TableFunc{Name: n.Name, Args: l.exprs(n.Args), Alias: n.Alias}
	case *sqlast.JoinExpr:
		return &Join{
			Kind:  JoinKind(n.Kind),
			Left:  l.table(n.Left),
			Right: l.table(n.Right),
			On:    l.expr(n.On),
			Using: n.Using,
		}
	default:
		panic(fmt.Sprintf("queryir.ToPlan: unhandled table %T", t))
	}
}

func (l *lowerer) scan(t *sqlast.TableName) *Scan {
	if t == nil {
		l.fail("statement has no target table")
		return &Scan{}
	}
	return &Scan{Schema: t.Schema, Table: t.Name, Alias: t.Alias}
}

func (l *lowerer) rows(rows [][]sqlast.Expr) [][]Expr {
	out := make([][]Expr, len(rows))
	for i, r := range rows {
		out[i] = l.exprs(r)
	}
	return out
}

func (l *lowerer) assigns(set []*sqlast.Assignment) []Assign {
	if set == nil {
		return nil
	}
	out := make([]Assign, len(set))
	for i, a := range set {
		out[i] = Assign{Column: a.Column, Value: l.expr(a.Value)}
	}
	return out
}

// sortKeys lowers ORDER BY terms. At statement level an integer literal is
// a column ordinal and stays inline.
func (l *lowerer) sortKeys(terms []*sqlast.OrderingTerm, ordinals bool) []SortKey {
	if terms == nil {
		return nil
	}
	out := make([]SortKey, len(terms))
	for i, t := range terms {
		var e Expr
		if ordinals {
			e = l.ordinal(t.Expr)
		} else {
			e = l.expr(t.Expr)
		}
		out[i] = SortKey{Expr: e, Desc: t.Desc, Explicit: t.Explicit, Nulls: t.Nulls}
	}
	return out
}

func (l *lowerer) ordinal(e sqlast.Expr) Expr {
	if lit, ok := e.(*sqlast.Literal); ok && lit.Kind == sqlast.LiteralNumber {
		return &Verbatim{SQL: lit.Value}
	}
	return l.expr(e)
}

func (l *lowerer) exprs(in []sqlast.Expr) []Expr {
	if in == nil {
		return nil
	}
	out := make([]Expr, len(in))
	for i, e := range in {
		out[i] = l.expr(e)
	}
	return out
}

func (l *lowerer) expr(e sqlast.Expr) Expr {
	if e == nil {
		return nil
	}
	switch n := e.(type) {
	case *sqlast.Literal:
		return lowerLiteral(n)
	case *sqlast.Parameter:
		return &Param{Name: n.Name}
	case *sqlast.ColumnRef:
		return &ColumnRef{Table: n.Table, Column: n.Column}
	case *sqlast.BinaryExpr:
		switch n.Op {
		case "AND":
			return &And{Predicates: l.chain("AND", n)}
		case "OR":
			return &Or{Predicates: l.chain("OR", n)}
		case "=":
			if col, ok := n.Left.(*sqlast.ColumnRef); ok {
				if lit, ok := lowerLiteral(n.Right).(*Literal); ok {
					return &Equals{Table: col.Table, Field: col.Column, Value: lit.Value}
				}
			}
		}
		return &Binary{Op: n.Op, Left: l.expr(n.Left), Right: l.expr(n.Right)}
	case *sqlast.UnaryExpr:
		if n.Op == "NOT" {
			return &Not{Operand: l.expr(n.Operand)}
		}
		return &Unary{Op: n.Op, Operand: l.expr(n.Operand)}
	case *sqlast.BetweenExpr:
		return &Between{Expr: l.expr(n.Expr), Not: n.Not, Low: l.expr(n.Low), High: l.expr(n.High)}
	case *sqlast.InExpr:
		in := &In{Expr: l.expr(n.Expr), Not: n.Not, List: l.exprs(n.List)}
		if n.Subquery != nil {
			in.Subquery = l.selectStmt(n.Subquery)
		}
		return in
	case *sqlast.ExistsExpr:
		return &Exists{Not: n.Not, Query: l.selectStmt(n.Select)}
	case *sqlast.FunctionCall:
		call := &Call{Name: n.Name, Distinct: n.Distinct, Star: n.Star, Args: l.exprs(n.Args)}
		if n.Over != nil {
			call.Over = &Window{PartitionBy: l.exprs(n.Over.PartitionBy), OrderBy: l.sortKeys(n.Over.OrderBy, false)}
		}
		return call
	case *sqlast.CastExpr:
		return &Cast{Expr: l.expr(n.Expr), Type: n.Type}
	case *sqlast.CaseExpr:
		c := &Case{Operand: l.expr(n.Operand), Else: l.expr(n.Else)}
		for _, w := range n.Whens {
			c.Whens = append(c.Whens, When{Condition: l.expr(w.Condition), Result: l.expr(w.Result)})
		}
		return c
	case *sqlast.SubqueryExpr:
		return &Subquery{Query: l.selectStmt(n.Select)}
	case *sqlast.CollateExpr:
		return &Collate{Expr: l.expr(n.Expr), Collation: n.Collation}
	case *sqlast.RowValue:
		return &Row{Items: l.exprs(n.Items)}
	default:
		panic(fmt.Sprintf("queryir.ToPlan: unhandled expression %T", e))
	}
}

// chain flattens the left spine of an AND or OR chain.
func (l *lowerer) chain(op string, b *sqlast.BinaryExpr) []Expr {
	var out []Expr
	if lb, ok := b.Left.(*sqlast.BinaryExpr); ok && lb.Op == op {
		out = l.chain(op, lb)
	} else {
		out = []Expr{l.expr(b.Left)}
	}
	return append(out, l.expr(b.Right))
}

// lowerLiteral maps literals with an exact ir.Value form to Literal and
// everything else to Verbatim.
func lowerLiteral(e sqlast.Expr) Expr {
	lit, ok := e.(*sqlast.Literal)
	if !ok {
		return nil
	}
	switch lit.Kind {
	case sqlast.LiteralNull:
		return &Literal{Value: ir.Null{}}
	case sqlast.LiteralString:
		return &Literal{Value: ir.String(lit.Value)}
	case sqlast.LiteralBool:
		return &Literal{Value: ir.Bool(lit.Value == "TRUE")}
	case sqlast.LiteralNumber:
		if i, err := strconv.ParseInt(lit.Value, 10, 64); err == nil && strconv.FormatInt(i, 10) == lit.Value {
			return &Literal{Value: ir.Int(i)}
		}
		return &Verbatim{SQL: lit.Value}
	case sqlast.LiteralBlob:
		return &Verbatim{SQL: "X'" + lit.Value + "'"}
	case sqlast.LiteralKeyword:
		return &Verbatim{SQL: lit.Value}
	default:
		panic(fmt.Sprintf("queryir.ToPlan: unhandled literal kind %d", lit.Kind))
	}
}
