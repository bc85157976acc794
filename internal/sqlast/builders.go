package sqlast

// Constructors for the node shapes rewriters build most often.

// Col builds an unqualified or qualified column reference.
// Col("a") -> a, Col("t", "a") -> t.a
func Col(parts ...string) *ColumnRef {
	switch len(parts) {
	case 1:
		return &ColumnRef{Column: parts[0]}
	case 2:
		return &ColumnRef{Table: parts[0], Column: parts[1]}
	default:
		panic("sqlast.Col: expected 1 or 2 parts")
	}
}

// Str builds a string literal.
func Str(s string) *Literal {
	return &Literal{Kind: LiteralString, Value: s}
}

// Num builds a numeric literal from its textual form.
func Num(n string) *Literal {
	return &Literal{Kind: LiteralNumber, Value: n}
}

// Null builds the NULL literal.
func Null() *Literal {
	return &Literal{Kind: LiteralNull, Value: "NULL"}
}

// Param builds a parameter reference.
func Param(name string) *Parameter {
	return &Parameter{Name: name}
}

// Bin builds a binary expression.
func Bin(op string, left, right Expr) *BinaryExpr {
	return &BinaryExpr{Op: op, Left: left, Right: right}
}

// Eq builds left = right.
func Eq(left, right Expr) *BinaryExpr {
	return Bin("=", left, right)
}

// Not builds NOT operand.
func Not(operand Expr) *UnaryExpr {
	return &UnaryExpr{Op: "NOT", Operand: operand}
}

// Fn builds a function call.
func Fn(name string, args ...Expr) *FunctionCall {
	return &FunctionCall{Name: name, Args: args}
}

// And folds the non-nil expressions into a left-deep AND chain.
// Returns nil when every input is nil.
func And(exprs ...Expr) Expr {
	var out Expr
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if out == nil {
			out = e
			continue
		}
		out = Bin("AND", out, e)
	}
	return out
}

// Or folds the non-nil expressions into a left-deep OR chain.
func Or(exprs ...Expr) Expr {
	var out Expr
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if out == nil {
			out = e
			continue
		}
		out = Bin("OR", out, e)
	}
	return out
}

// Conjuncts splits a top-level AND chain into its operands.
func Conjuncts(e Expr) []Expr {
	if e == nil {
		return nil
	}
	if b, ok := e.(*BinaryExpr); ok && b.Op == "AND" {
		return append(Conjuncts(b.Left), Conjuncts(b.Right)...)
	}
	return []Expr{e}
}

// Copy-and-set helpers. Each returns a shallow copy with one field replaced.

// WithWhere returns a copy of core with its WHERE replaced.
func (c *SelectCore) WithWhere(where Expr) *SelectCore {
	cp := *c
	cp.Where = where
	return &cp
}

// AndWhere returns a copy of core with extra ANDed onto its WHERE.
func (c *SelectCore) AndWhere(extra Expr) *SelectCore {
	return c.WithWhere(And(c.Where, extra))
}

// WithFrom returns a copy of core with its FROM replaced.
func (c *SelectCore) WithFrom(from TableExpr) *SelectCore {
	cp := *c
	cp.From = from
	return &cp
}

// WithColumns returns a copy of core with its projection replaced.
func (c *SelectCore) WithColumns(cols []*ResultColumn) *SelectCore {
	cp := *c
	cp.Columns = cols
	return &cp
}

// WithCore returns a copy of the statement with its first core replaced.
func (s *SelectStatement) WithCore(core *SelectCore) *SelectStatement {
	cp := *s
	cp.Core = core
	return &cp
}

// WithWith returns a copy of the statement with its WITH clause replaced.
func (s *SelectStatement) WithWith(with *WithClause) *SelectStatement {
	cp := *s
	cp.With = with
	return &cp
}

// PrependCTEs returns a WITH clause holding ctes followed by the CTEs of
// existing. The result is recursive when recursive is set or existing was.
func PrependCTEs(existing *WithClause, recursive bool, ctes ...*CommonTableExpr) *WithClause {
	out := &WithClause{Recursive: recursive}
	out.CTEs = append(out.CTEs, ctes...)
	if existing != nil {
		out.Recursive = out.Recursive || existing.Recursive
		out.CTEs = append(out.CTEs, existing.CTEs...)
	}
	return out
}

// SimpleSelect builds SELECT cols FROM from WHERE where.
func SimpleSelect(cols []*ResultColumn, from TableExpr, where Expr) *SelectStatement {
	return &SelectStatement{Core: &SelectCore{Columns: cols, From: from, Where: where}}
}

// Star builds a `*` projection entry.
func Star() *ResultColumn {
	return &ResultColumn{Star: true}
}

// As builds `expr AS alias`; alias may be empty.
func As(expr Expr, alias string) *ResultColumn {
	return &ResultColumn{Expr: expr, Alias: alias}
}
