// Package sqlcompile serializes sqlast nodes back to SQLite SQL text.
//
// Output is deterministic and minimal: parentheses appear only where
// dropping them would change how the text parses. For every statement s the
// parser accepts, sqlparser.Parse(Compile(sqlparser.Parse(s))) yields an AST
// deep-equal to sqlparser.Parse(s).
package sqlcompile

import (
	"fmt"
	"strings"

	"github.com/roach88/lix/internal/sqlast"
)

// StatementSeparator joins statements in Compile output.
const StatementSeparator = ";\n"

// Compile renders a script of statements.
func Compile(stmts []sqlast.Statement) string {
	parts := make([]string, len(stmts))
	for i, st := range stmts {
		parts[i] = CompileStatement(st)
	}
	return strings.Join(parts, StatementSeparator)
}

// CompileStatement renders a single statement without a trailing semicolon.
func CompileStatement(st sqlast.Statement) string {
	var w writer
	w.statement(st)
	return w.String()
}

// CompileExpr renders an expression.
func CompileExpr(e sqlast.Expr) string {
	var w writer
	w.expr(e)
	return w.String()
}

// CompileTable renders a FROM-clause relation.
func CompileTable(t sqlast.TableExpr) string {
	var w writer
	w.table(t)
	return w.String()
}

type writer struct {
	strings.Builder
}

func (w *writer) statement(st sqlast.Statement) {
	switch s := st.(type) {
	case *sqlast.RawFragment:
		w.WriteString(s.SQL)
	case *sqlast.SelectStatement:
		w.selectStmt(s)
	case *sqlast.InsertStatement:
		w.insert(s)
	case *sqlast.UpdateStatement:
		w.update(s)
	case *sqlast.DeleteStatement:
		w.delete(s)
	default:
		panic(fmt.Sprintf("sqlcompile: unhandled statement %T", st))
	}
}

func (w *writer) with(wc *sqlast.WithClause) {
	if wc == nil || len(wc.CTEs) == 0 {
		return
	}
	w.WriteString("WITH ")
	if wc.Recursive {
		w.WriteString("RECURSIVE ")
	}
	for i, cte := range wc.CTEs {
		if i > 0 {
			w.WriteString(", ")
		}
		w.WriteString(sqlast.QuoteIdent(cte.Name))
		if len(cte.Columns) > 0 {
			w.WriteString("(")
			w.identList(cte.Columns)
			w.WriteString(")")
		}
		w.WriteString(" AS (")
		w.selectStmt(cte.Select)
		w.WriteString(")")
	}
	w.WriteString(" ")
}

func (w *writer) identList(names []string) {
	for i, n := range names {
		if i > 0 {
			w.WriteString(", ")
		}
		w.WriteString(sqlast.QuoteIdent(n))
	}
}

func (w *writer) selectStmt(s *sqlast.SelectStatement) {
	w.with(s.With)
	w.core(s.Core)
	for _, arm := range s.Compounds {
		w.WriteString(" ")
		w.WriteString(string(arm.Op))
		w.WriteString(" ")
		w.core(arm.Core)
	}
	if len(s.OrderBy) > 0 {
		w.WriteString(" ORDER BY ")
		w.ordering(s.OrderBy)
	}
	if s.Limit != nil || s.Offset != nil {
		w.WriteString(" LIMIT ")
		if s.Limit != nil {
			w.expr(s.Limit)
		} else {
			w.WriteString("-1")
		}
		if s.Offset != nil {
			w.WriteString(" OFFSET ")
			w.expr(s.Offset)
		}
	}
}

func (w *writer) core(c *sqlast.SelectCore) {
	if len(c.Values) > 0 {
		w.WriteString("VALUES ")
		w.rows(c.Values)
		return
	}
	w.WriteString("SELECT ")
	if c.Distinct {
		w.WriteString("DISTINCT ")
	}
	for i, col := range c.Columns {
		if i > 0 {
			w.WriteString(", ")
		}
		w.resultColumn(col)
	}
	if c.From != nil {
		w.WriteString(" FROM ")
		w.table(c.From)
	}
	if c.Where != nil {
		w.WriteString(" WHERE ")
		w.expr(c.Where)
	}
	if len(c.GroupBy) > 0 {
		w.WriteString(" GROUP BY ")
		w.exprList(c.GroupBy)
	}
	if c.Having != nil {
		w.WriteString(" HAVING ")
		w.expr(c.Having)
	}
}

func (w *writer) rows(rows [][]sqlast.Expr) {
	for i, row := range rows {
		if i > 0 {
			w.WriteString(", ")
		}
		w.WriteString("(")
		w.exprList(row)
		w.WriteString(")")
	}
}

func (w *writer) resultColumn(col *sqlast.ResultColumn) {
	switch {
	case col.Star && col.Table != "":
		w.WriteString(sqlast.QuoteIdent(col.Table))
		w.WriteString(".*")
	case col.Star:
		w.WriteString("*")
	default:
		w.expr(col.Expr)
		if col.Alias != "" {
			w.WriteString(" AS ")
			w.WriteString(sqlast.QuoteIdent(col.Alias))
		}
	}
}

func (w *writer) ordering(terms []*sqlast.OrderingTerm) {
	for i, t := range terms {
		if i > 0 {
			w.WriteString(", ")
		}
		w.expr(t.Expr)
		switch {
		case t.Desc:
			w.WriteString(" DESC")
		case t.Explicit:
			w.WriteString(" ASC")
		}
		if t.Nulls != "" {
			w.WriteString(" NULLS ")
			w.WriteString(t.Nulls)
		}
	}
}

func (w *writer) alias(a string) {
	if a != "" {
		w.WriteString(" AS ")
		w.WriteString(sqlast.QuoteIdent(a))
	}
}

func (w *writer) table(t sqlast.TableExpr) {
	switch tt := t.(type) {
	case *sqlast.TableName:
		w.tableName(tt)
	case *sqlast.SubqueryTable:
		w.WriteString("(")
		w.selectStmt(tt.Select)
		w.WriteString(")")
		w.alias(tt.Alias)
	case *sqlast.TableFunction:
		w.WriteString(tt.Name)
		w.WriteString("(")
		w.exprList(tt.Args)
		w.WriteString(")")
		w.alias(tt.Alias)
	case *sqlast.JoinExpr:
		w.table(tt.Left)
		if tt.Kind == sqlast.JoinComma {
			w.WriteString(", ")
		} else {
			w.WriteString(" ")
			w.WriteString(string(tt.Kind))
			w.WriteString(" ")
		}
		w.table(tt.Right)
		if tt.On != nil {
			w.WriteString(" ON ")
			w.expr(tt.On)
		}
		if len(tt.Using) > 0 {
			w.WriteString(" USING (")
			w.identList(tt.Using)
			w.WriteString(")")
		}
	default:
		panic(fmt.Sprintf("sqlcompile: unhandled table expression %T", t))
	}
}

func (w *writer) tableName(tn *sqlast.TableName) {
	if tn.Schema != "" {
		w.WriteString(sqlast.QuoteIdent(tn.Schema))
		w.WriteString(".")
	}
	w.WriteString(sqlast.QuoteIdent(tn.Name))
	w.alias(tn.Alias)
}

func (w *writer) insert(s *sqlast.InsertStatement) {
	w.with(s.With)
	w.WriteString("INSERT ")
	if s.Or != "" {
		w.WriteString("OR ")
		w.WriteString(s.Or)
		w.WriteString(" ")
	}
	w.WriteString("INTO ")
	w.tableName(s.Table)
	if len(s.Columns) > 0 {
		w.WriteString(" (")
		w.identList(s.Columns)
		w.WriteString(")")
	}
	switch {
	case s.DefaultValues:
		w.WriteString(" DEFAULT VALUES")
	case s.Select != nil:
		w.WriteString(" ")
		w.selectStmt(s.Select)
	default:
		w.WriteString(" VALUES ")
		w.rows(s.Values)
	}
	if oc := s.OnConflict; oc != nil {
		w.WriteString(" ON CONFLICT")
		if len(oc.Target) > 0 {
			w.WriteString(" (")
			w.identList(oc.Target)
			w.WriteString(")")
			if oc.TargetWhere != nil {
				w.WriteString(" WHERE ")
				w.expr(oc.TargetWhere)
			}
		}
		if oc.DoNothing {
			w.WriteString(" DO NOTHING")
			return
		}
		w.WriteString(" DO UPDATE SET ")
		w.assignments(oc.Set)
		if oc.Where != nil {
			w.WriteString(" WHERE ")
			w.expr(oc.Where)
		}
	}
}

func (w *writer) assignments(set []*sqlast.Assignment) {
	for i, a := range set {
		if i > 0 {
			w.WriteString(", ")
		}
		w.WriteString(sqlast.QuoteIdent(a.Column))
		w.WriteString(" = ")
		w.expr(a.Value)
	}
}

func (w *writer) update(s *sqlast.UpdateStatement) {
	w.with(s.With)
	w.WriteString("UPDATE ")
	if s.Or != "" {
		w.WriteString("OR ")
		w.WriteString(s.Or)
		w.WriteString(" ")
	}
	w.tableName(s.Table)
	w.WriteString(" SET ")
	w.assignments(s.Set)
	if s.From != nil {
		w.WriteString(" FROM ")
		w.table(s.From)
	}
	if s.Where != nil {
		w.WriteString(" WHERE ")
		w.expr(s.Where)
	}
}

func (w *writer) delete(s *sqlast.DeleteStatement) {
	w.with(s.With)
	w.WriteString("DELETE FROM ")
	w.tableName(s.Table)
	if s.Where != nil {
		w.WriteString(" WHERE ")
		w.expr(s.Where)
	}
}

func (w *writer) exprList(list []sqlast.Expr) {
	for i, e := range list {
		if i > 0 {
			w.WriteString(", ")
		}
		w.expr(e)
	}
}

// operand writes e, parenthesized when its precedence is below min.
func (w *writer) operand(e sqlast.Expr, min int) {
	if Precedence(e) < min {
		w.WriteString("(")
		w.expr(e)
		w.WriteString(")")
		return
	}
	w.expr(e)
}

func (w *writer) expr(e sqlast.Expr) {
	switch x := e.(type) {
	case *sqlast.Literal:
		w.literal(x)
	case *sqlast.Parameter:
		w.WriteString(x.Name)
	case *sqlast.ColumnRef:
		if x.Table != "" {
			w.WriteString(sqlast.QuoteIdent(x.Table))
			w.WriteString(".")
		}
		w.WriteString(sqlast.QuoteIdent(x.Column))
	case *sqlast.BinaryExpr:
		p := binaryPrecedence(x.Op)
		w.operand(x.Left, p)
		w.WriteString(" ")
		w.WriteString(x.Op)
		w.WriteString(" ")
		// Left-associative grammar: a right operand at the same level
		// keeps its parentheses.
		w.operand(x.Right, p+1)
	case *sqlast.UnaryExpr:
		w.unary(x)
	case *sqlast.BetweenExpr:
		w.operand(x.Expr, precEquality)
		if x.Not {
			w.WriteString(" NOT")
		}
		w.WriteString(" BETWEEN ")
		w.operand(x.Low, precEquality+1)
		w.WriteString(" AND ")
		w.operand(x.High, precEquality+1)
	case *sqlast.InExpr:
		w.operand(x.Expr, precEquality)
		if x.Not {
			w.WriteString(" NOT")
		}
		w.WriteString(" IN (")
		if x.Subquery != nil {
			w.selectStmt(x.Subquery)
		} else {
			w.exprList(x.List)
		}
		w.WriteString(")")
	case *sqlast.FunctionCall:
		w.function(x)
	case *sqlast.CastExpr:
		w.WriteString("CAST(")
		w.expr(x.Expr)
		w.WriteString(" AS ")
		w.WriteString(x.Type)
		w.WriteString(")")
	case *sqlast.CaseExpr:
		w.WriteString("CASE")
		if x.Operand != nil {
			w.WriteString(" ")
			w.expr(x.Operand)
		}
		for _, wc := range x.Whens {
			w.WriteString(" WHEN ")
			w.expr(wc.Condition)
			w.WriteString(" THEN ")
			w.expr(wc.Result)
		}
		if x.Else != nil {
			w.WriteString(" ELSE ")
			w.expr(x.Else)
		}
		w.WriteString(" END")
	case *sqlast.SubqueryExpr:
		w.WriteString("(")
		w.selectStmt(x.Select)
		w.WriteString(")")
	case *sqlast.ExistsExpr:
		if x.Not {
			w.WriteString("NOT ")
		}
		w.WriteString("EXISTS (")
		w.selectStmt(x.Select)
		w.WriteString(")")
	case *sqlast.CollateExpr:
		w.operand(x.Expr, precCollate)
		w.WriteString(" COLLATE ")
		w.WriteString(sqlast.QuoteIdent(x.Collation))
	case *sqlast.RowValue:
		w.WriteString("(")
		w.exprList(x.Items)
		w.WriteString(")")
	default:
		panic(fmt.Sprintf("sqlcompile: unhandled expression %T", e))
	}
}

func (w *writer) literal(l *sqlast.Literal) {
	switch l.Kind {
	case sqlast.LiteralNull:
		w.WriteString("NULL")
	case sqlast.LiteralString:
		w.WriteString(sqlast.QuoteString(l.Value))
	case sqlast.LiteralBlob:
		w.WriteString("X'")
		w.WriteString(l.Value)
		w.WriteString("'")
	case sqlast.LiteralNumber, sqlast.LiteralBool, sqlast.LiteralKeyword:
		w.WriteString(l.Value)
	default:
		panic(fmt.Sprintf("sqlcompile: unhandled literal kind %d", l.Kind))
	}
}

func (w *writer) unary(u *sqlast.UnaryExpr) {
	if u.Op == "NOT" {
		w.WriteString("NOT ")
		// NOT EXISTS would read back as a single ExistsExpr.
		if _, ok := u.Operand.(*sqlast.ExistsExpr); ok {
			w.WriteString("(")
			w.expr(u.Operand)
			w.WriteString(")")
			return
		}
		w.operand(u.Operand, precNot)
		return
	}
	w.WriteString(u.Op)
	switch o := u.Operand.(type) {
	case *sqlast.UnaryExpr:
		// "- -x" must not collapse into a "--" comment.
		w.WriteString("(")
		w.expr(o)
		w.WriteString(")")
		return
	case *sqlast.Literal:
		if strings.HasPrefix(o.Value, "-") || strings.HasPrefix(o.Value, "+") {
			w.WriteString("(")
			w.expr(o)
			w.WriteString(")")
			return
		}
	}
	w.operand(u.Operand, precUnary)
}

func (w *writer) function(f *sqlast.FunctionCall) {
	w.WriteString(f.Name)
	w.WriteString("(")
	switch {
	case f.Star:
		w.WriteString("*")
	default:
		if f.Distinct {
			w.WriteString("DISTINCT ")
		}
		w.exprList(f.Args)
	}
	w.WriteString(")")
	if f.Over != nil {
		w.WriteString(" OVER (")
		sep := ""
		if len(f.Over.PartitionBy) > 0 {
			w.WriteString("PARTITION BY ")
			w.exprList(f.Over.PartitionBy)
			sep = " "
		}
		if len(f.Over.OrderBy) > 0 {
			w.WriteString(sep)
			w.WriteString("ORDER BY ")
			w.ordering(f.Over.OrderBy)
		}
		w.WriteString(")")
	}
}
