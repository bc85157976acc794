package sqlast

import "fmt"

// Inspect traverses node depth-first, calling fn for every statement,
// select core, table expression and expression it reaches. Traversal of a
// subtree stops when fn returns false. Children are visited in the order
// their text appears in compiled SQL.
//
// node may be a Statement, *SelectCore, TableExpr or Expr.
func Inspect(node any, fn func(any) bool) {
	if node == nil || !fn(node) {
		return
	}
	switch n := node.(type) {
	case *RawFragment:
	case *SelectStatement:
		if n == nil {
			return
		}
		inspectWith(n.With, fn)
		for _, core := range n.Cores() {
			Inspect(core, fn)
		}
		inspectOrdering(n.OrderBy, fn)
		inspectExpr(n.Limit, fn)
		inspectExpr(n.Offset, fn)
	case *SelectCore:
		for _, col := range n.Columns {
			inspectExpr(col.Expr, fn)
		}
		if n.From != nil {
			Inspect(n.From, fn)
		}
		inspectExpr(n.Where, fn)
		for _, g := range n.GroupBy {
			inspectExpr(g, fn)
		}
		inspectExpr(n.Having, fn)
		for _, row := range n.Values {
			for _, v := range row {
				inspectExpr(v, fn)
			}
		}
	case *InsertStatement:
		inspectWith(n.With, fn)
		Inspect(n.Table, fn)
		for _, row := range n.Values {
			for _, v := range row {
				inspectExpr(v, fn)
			}
		}
		if n.Select != nil {
			Inspect(n.Select, fn)
		}
		if n.OnConflict != nil {
			inspectExpr(n.OnConflict.TargetWhere, fn)
			for _, a := range n.OnConflict.Set {
				inspectExpr(a.Value, fn)
			}
			inspectExpr(n.OnConflict.Where, fn)
		}
	case *UpdateStatement:
		inspectWith(n.With, fn)
		Inspect(n.Table, fn)
		for _, a := range n.Set {
			inspectExpr(a.Value, fn)
		}
		if n.From != nil {
			Inspect(n.From, fn)
		}
		inspectExpr(n.Where, fn)
	case *DeleteStatement:
		inspectWith(n.With, fn)
		Inspect(n.Table, fn)
		inspectExpr(n.Where, fn)
	case *TableName:
	case *SubqueryTable:
		Inspect(n.Select, fn)
	case *TableFunction:
		for _, a := range n.Args {
			inspectExpr(a, fn)
		}
	case *JoinExpr:
		Inspect(n.Left, fn)
		Inspect(n.Right, fn)
		inspectExpr(n.On, fn)
	case *Literal, *Parameter, *ColumnRef:
	case *BinaryExpr:
		inspectExpr(n.Left, fn)
		inspectExpr(n.Right, fn)
	case *UnaryExpr:
		inspectExpr(n.Operand, fn)
	case *BetweenExpr:
		inspectExpr(n.Expr, fn)
		inspectExpr(n.Low, fn)
		inspectExpr(n.High, fn)
	case *InExpr:
		inspectExpr(n.Expr, fn)
		for _, e := range n.List {
			inspectExpr(e, fn)
		}
		if n.Subquery != nil {
			Inspect(n.Subquery, fn)
		}
	case *FunctionCall:
		for _, a := range n.Args {
			inspectExpr(a, fn)
		}
		if n.Over != nil {
			for _, p := range n.Over.PartitionBy {
				inspectExpr(p, fn)
			}
			inspectOrdering(n.Over.OrderBy, fn)
		}
	case *CastExpr:
		inspectExpr(n.Expr, fn)
	case *CaseExpr:
		inspectExpr(n.Operand, fn)
		for _, w := range n.Whens {
			inspectExpr(w.Condition, fn)
			inspectExpr(w.Result, fn)
		}
		inspectExpr(n.Else, fn)
	case *SubqueryExpr:
		Inspect(n.Select, fn)
	case *ExistsExpr:
		Inspect(n.Select, fn)
	case *CollateExpr:
		inspectExpr(n.Expr, fn)
	case *RowValue:
		for _, e := range n.Items {
			inspectExpr(e, fn)
		}
	default:
		panic(fmt.Sprintf("sqlast.Inspect: unhandled node %T", node))
	}
}

func inspectExpr(e Expr, fn func(any) bool) {
	if e != nil {
		Inspect(e, fn)
	}
}

func inspectWith(w *WithClause, fn func(any) bool) {
	if w == nil {
		return
	}
	for _, cte := range w.CTEs {
		Inspect(cte.Select, fn)
	}
}

func inspectOrdering(terms []*OrderingTerm, fn func(any) bool) {
	for _, t := range terms {
		inspectExpr(t.Expr, fn)
	}
}

// Rewriter holds post-order replacement hooks. A nil hook leaves nodes of
// that category unchanged. Hooks receive a freshly rebuilt node whose
// children were already rewritten and return its replacement. Leaf
// expressions reach the Expr hook in source order.
type Rewriter struct {
	Expr   func(Expr) Expr
	Table  func(TableExpr) TableExpr
	Select func(*SelectStatement) *SelectStatement
	// Scope, when set, returns the rewriter used inside the SELECT of a
	// subquery expression (IN, EXISTS, scalar).
	Scope func(*SelectStatement) Rewriter
}

func (r Rewriter) enter(s *SelectStatement) Rewriter {
	if r.Scope == nil || s == nil {
		return r
	}
	return r.Scope(s)
}

// RewriteStatement rebuilds st bottom-up applying r's hooks.
func RewriteStatement(st Statement, r Rewriter) Statement {
	switch n := st.(type) {
	case *RawFragment:
		return n
	case *SelectStatement:
		return RewriteSelect(n, r)
	case *InsertStatement:
		cp := *n
		cp.With = rewriteWith(n.With, r)
		cp.Values = rewriteRows(n.Values, r)
		if n.Select != nil {
			cp.Select = RewriteSelect(n.Select, r)
		}
		if n.OnConflict != nil {
			oc := *n.OnConflict
			oc.TargetWhere = RewriteExpr(oc.TargetWhere, r)
			oc.Set = rewriteAssignments(oc.Set, r)
			oc.Where = RewriteExpr(oc.Where, r)
			cp.OnConflict = &oc
		}
		return &cp
	case *UpdateStatement:
		cp := *n
		cp.With = rewriteWith(n.With, r)
		cp.Set = rewriteAssignments(n.Set, r)
		if n.From != nil {
			cp.From = RewriteTable(n.From, r)
		}
		cp.Where = RewriteExpr(n.Where, r)
		return &cp
	case *DeleteStatement:
		cp := *n
		cp.With = rewriteWith(n.With, r)
		cp.Where = RewriteExpr(n.Where, r)
		return &cp
	default:
		panic(fmt.Sprintf("sqlast.RewriteStatement: unhandled statement %T", st))
	}
}

// RewriteSelect rebuilds a select statement bottom-up applying r's hooks.
func RewriteSelect(s *SelectStatement, r Rewriter) *SelectStatement {
	if s == nil {
		return nil
	}
	cp := *s
	cp.With = rewriteWith(s.With, r)
	cp.Core = rewriteCore(s.Core, r)
	if len(s.Compounds) > 0 {
		cp.Compounds = make([]*CompoundArm, len(s.Compounds))
		for i, arm := range s.Compounds {
			cp.Compounds[i] = &CompoundArm{Op: arm.Op, Core: rewriteCore(arm.Core, r)}
		}
	}
	cp.OrderBy = rewriteOrdering(s.OrderBy, r)
	cp.Limit = RewriteExpr(s.Limit, r)
	cp.Offset = RewriteExpr(s.Offset, r)
	if r.Select != nil {
		return r.Select(&cp)
	}
	return &cp
}

func rewriteCore(c *SelectCore, r Rewriter) *SelectCore {
	if c == nil {
		return nil
	}
	cp := *c
	if len(c.Columns) > 0 {
		cp.Columns = make([]*ResultColumn, len(c.Columns))
		for i, col := range c.Columns {
			nc := *col
			nc.Expr = RewriteExpr(col.Expr, r)
			cp.Columns[i] = &nc
		}
	}
	if c.From != nil {
		cp.From = RewriteTable(c.From, r)
	}
	cp.Where = RewriteExpr(c.Where, r)
	cp.GroupBy = rewriteExprs(c.GroupBy, r)
	cp.Having = RewriteExpr(c.Having, r)
	cp.Values = rewriteRows(c.Values, r)
	return &cp
}

// RewriteTable rebuilds a FROM item bottom-up applying r's hooks.
func RewriteTable(t TableExpr, r Rewriter) TableExpr {
	var out TableExpr
	switch n := t.(type) {
	case *TableName:
		cp := *n
		out = &cp
	case *SubqueryTable:
		out = &SubqueryTable{Select: RewriteSelect(n.Select, r), Alias: n.Alias}
	case *TableFunction:
		out = &TableFunction{Name: n.Name, Args: rewriteExprs(n.Args, r), Alias: n.Alias}
	case *JoinExpr:
		out = &JoinExpr{
			Left:  RewriteTable(n.Left, r),
			Kind:  n.Kind,
			Right: RewriteTable(n.Right, r),
			On:    RewriteExpr(n.On, r),
			Using: n.Using,
		}
	default:
		panic(fmt.Sprintf("sqlast.RewriteTable: unhandled table %T", t))
	}
	if r.Table != nil {
		return r.Table(out)
	}
	return out
}

// RewriteExpr rebuilds an expression bottom-up applying r's hooks.
func RewriteExpr(e Expr, r Rewriter) Expr {
	if e == nil {
		return nil
	}
	var out Expr
	switch n := e.(type) {
	case *Literal:
		cp := *n
		out = &cp
	case *Parameter:
		cp := *n
		out = &cp
	case *ColumnRef:
		cp := *n
		out = &cp
	case *BinaryExpr:
		out = &BinaryExpr{Op: n.Op, Left: RewriteExpr(n.Left, r), Right: RewriteExpr(n.Right, r)}
	case *UnaryExpr:
		out = &UnaryExpr{Op: n.Op, Operand: RewriteExpr(n.Operand, r)}
	case *BetweenExpr:
		out = &BetweenExpr{Expr: RewriteExpr(n.Expr, r), Not: n.Not, Low: RewriteExpr(n.Low, r), High: RewriteExpr(n.High, r)}
	case *InExpr:
		out = &InExpr{Expr: RewriteExpr(n.Expr, r), Not: n.Not, List: rewriteExprs(n.List, r), Subquery: RewriteSelect(n.Subquery, r.enter(n.Subquery))}
	case *FunctionCall:
		cp := *n
		cp.Args = rewriteExprs(n.Args, r)
		if n.Over != nil {
			cp.Over = &WindowSpec{PartitionBy: rewriteExprs(n.Over.PartitionBy, r), OrderBy: rewriteOrdering(n.Over.OrderBy, r)}
		}
		out = &cp
	case *CastExpr:
		out = &CastExpr{Expr: RewriteExpr(n.Expr, r), Type: n.Type}
	case *CaseExpr:
		ce := &CaseExpr{Operand: RewriteExpr(n.Operand, r)}
		for _, w := range n.Whens {
			ce.Whens = append(ce.Whens, &WhenClause{Condition: RewriteExpr(w.Condition, r), Result: RewriteExpr(w.Result, r)})
		}
		ce.Else = RewriteExpr(n.Else, r)
		out = ce
	case *SubqueryExpr:
		out = &SubqueryExpr{Select: RewriteSelect(n.Select, r.enter(n.Select))}
	case *ExistsExpr:
		out = &ExistsExpr{Not: n.Not, Select: RewriteSelect(n.Select, r.enter(n.Select))}
	case *CollateExpr:
		out = &CollateExpr{Expr: RewriteExpr(n.Expr, r), Collation: n.Collation}
	case *RowValue:
		out = &RowValue{Items: rewriteExprs(n.Items, r)}
	default:
		panic(fmt.Sprintf("sqlast.RewriteExpr: unhandled expression %T", e))
	}
	if r.Expr != nil {
		return r.Expr(out)
	}
	return out
}

func rewriteExprs(in []Expr, r Rewriter) []Expr {
	if in == nil {
		return nil
	}
	out := make([]Expr, len(in))
	for i, e := range in {
		out[i] = RewriteExpr(e, r)
	}
	return out
}

func rewriteRows(rows [][]Expr, r Rewriter) [][]Expr {
	if rows == nil {
		return nil
	}
	out := make([][]Expr, len(rows))
	for i, row := range rows {
		out[i] = rewriteExprs(row, r)
	}
	return out
}

func rewriteAssignments(in []*Assignment, r Rewriter) []*Assignment {
	if in == nil {
		return nil
	}
	out := make([]*Assignment, len(in))
	for i, a := range in {
		out[i] = &Assignment{Column: a.Column, Value: RewriteExpr(a.Value, r)}
	}
	return out
}

func rewriteOrdering(in []*OrderingTerm, r Rewriter) []*OrderingTerm {
	if in == nil {
		return nil
	}
	out := make([]*OrderingTerm, len(in))
	for i, t := range in {
		cp := *t
		cp.Expr = RewriteExpr(t.Expr, r)
		out[i] = &cp
	}
	return out
}

func rewriteWith(w *WithClause, r Rewriter) *WithClause {
	if w == nil {
		return nil
	}
	out := &WithClause{Recursive: w.Recursive}
	for _, cte := range w.CTEs {
		out.CTEs = append(out.CTEs, &CommonTableExpr{Name: cte.Name, Columns: cte.Columns, Select: RewriteSelect(cte.Select, r)})
	}
	return out
}

// TableNames returns every TableName reachable from node, including those
// inside subqueries and CTE bodies.
func TableNames(node any) []*TableName {
	var out []*TableName
	Inspect(node, func(n any) bool {
		if t, ok := n.(*TableName); ok {
			out = append(out, t)
		}
		return true
	})
	return out
}
