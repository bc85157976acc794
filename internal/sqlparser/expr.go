package sqlparser

import (
	"strings"

	"github.com/roach88/lix/internal/sqlast"
)

// Expression grammar, lowest binding first:
//
//	or      := and { OR and }
//	and     := not { AND not }
//	not     := NOT not | equality
//	equality:= compare { (= == != <> IS [NOT] [NOT] IN|LIKE|GLOB|BETWEEN|ISNULL|NOTNULL) ... }
//	          where the right side of = and IS may itself be `not`
//	compare := bitwise { (< <= > >=) bitwise }
//	bitwise := additive { (& | << >>) additive }
//	additive:= mult { (+ -) mult }
//	mult    := concat { (* / %) concat }
//	concat  := unary { (|| -> ->>) unary }
//	unary   := (- + ~) unary | collate
//	collate := primary { COLLATE name }

func (p *parser) parseExpr() (sqlast.Expr, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (sqlast.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = sqlast.Bin("OR", left, right)
	}
	return left, nil
}

func (p *parser) parseAnd() (sqlast.Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = sqlast.Bin("AND", left, right)
	}
	return left, nil
}

func (p *parser) parseNot() (sqlast.Expr, error) {
	if p.isKeyword("NOT") && !p.isKeywordAt(1, "EXISTS") {
		p.pos++
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return sqlast.Not(operand), nil
	}
	return p.parseEquality()
}

func (p *parser) parseEquality() (sqlast.Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.Type == Operator {
			switch t.Value {
			case "=", "==", "!=", "<>":
				p.pos++
				right, err := p.parseEqualityOperand()
				if err != nil {
					return nil, err
				}
				left = sqlast.Bin(t.Value, left, right)
				continue
			}
			return left, nil
		}

		switch t.upper() {
		case "IS":
			p.pos++
			op := "IS"
			if p.acceptKeyword("NOT") {
				op = "IS NOT"
			}
			if p.isKeyword("DISTINCT") {
				return nil, unsupported("IS DISTINCT FROM")
			}
			right, err := p.parseEqualityOperand()
			if err != nil {
				return nil, err
			}
			left = sqlast.Bin(op, left, right)
		case "ISNULL":
			p.pos++
			left = sqlast.Bin("IS", left, sqlast.Null())
		case "NOTNULL":
			p.pos++
			left = sqlast.Bin("IS NOT", left, sqlast.Null())
		case "NOT":
			switch p.peekAt(1).upper() {
			case "NULL":
				p.pos += 2
				left = sqlast.Bin("IS NOT", left, sqlast.Null())
			case "IN", "LIKE", "GLOB", "BETWEEN":
				p.pos++
				left, err = p.parsePredicate(left, true)
				if err != nil {
					return nil, err
				}
			default:
				return left, nil
			}
		case "IN", "LIKE", "GLOB", "BETWEEN":
			left, err = p.parsePredicate(left, false)
			if err != nil {
				return nil, err
			}
		case "MATCH", "REGEXP":
			return nil, unsupported(t.upper())
		default:
			return left, nil
		}
	}
}

// parseEqualityOperand parses the right side of = and IS. A NOT prefix is
// accepted there and covers the rest of the equality chain: a = NOT b = c
// reads as a = NOT (b = c).
func (p *parser) parseEqualityOperand() (sqlast.Expr, error) {
	if p.isKeyword("NOT") && !p.isKeywordAt(1, "EXISTS") {
		return p.parseNot()
	}
	return p.parseComparison()
}

// parsePredicate parses IN, LIKE, GLOB or BETWEEN after the left operand
// (and an optional NOT) have been consumed.
func (p *parser) parsePredicate(left sqlast.Expr, not bool) (sqlast.Expr, error) {
	kw := p.next().upper()
	switch kw {
	case "IN":
		return p.parseIn(left, not)
	case "BETWEEN":
		low, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("AND"); err != nil {
			return nil, err
		}
		high, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		return &sqlast.BetweenExpr{Expr: left, Not: not, Low: low, High: high}, nil
	default: // LIKE, GLOB
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		if p.isKeyword("ESCAPE") {
			return nil, unsupported("ESCAPE")
		}
		op := kw
		if not {
			op = "NOT " + kw
		}
		return sqlast.Bin(op, left, right), nil
	}
}

func (p *parser) parseIn(left sqlast.Expr, not bool) (sqlast.Expr, error) {
	in := &sqlast.InExpr{Expr: left, Not: not}
	if err := p.expect(ParenOpen); err != nil {
		if p.isIdentStart() {
			// IN table-name
			return nil, unsupported("IN table")
		}
		return nil, err
	}
	if p.accept(ParenClose) {
		return in, nil
	}
	switch p.peek().upper() {
	case "SELECT", "VALUES", "WITH":
		sel, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		in.Subquery = sel
	default:
		list, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		in.List = list
	}
	if err := p.expect(ParenClose); err != nil {
		return nil, err
	}
	return in, nil
}

func (p *parser) parseBinaryLevel(ops []string, nextLevel func() (sqlast.Expr, error)) (sqlast.Expr, error) {
	left, err := nextLevel()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.Type != Operator || !contains(ops, t.Value) {
			return left, nil
		}
		p.pos++
		right, err := nextLevel()
		if err != nil {
			return nil, err
		}
		left = sqlast.Bin(t.Value, left, right)
	}
}

func contains(ops []string, op string) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}

func (p *parser) parseComparison() (sqlast.Expr, error) {
	return p.parseBinaryLevel([]string{"<", "<=", ">", ">="}, p.parseBitwise)
}

func (p *parser) parseBitwise() (sqlast.Expr, error) {
	return p.parseBinaryLevel([]string{"&", "|", "<<", ">>"}, p.parseAdditive)
}

func (p *parser) parseAdditive() (sqlast.Expr, error) {
	return p.parseBinaryLevel([]string{"+", "-"}, p.parseMultiplicative)
}

func (p *parser) parseMultiplicative() (sqlast.Expr, error) {
	return p.parseBinaryLevel([]string{"*", "/", "%"}, p.parseConcat)
}

func (p *parser) parseConcat() (sqlast.Expr, error) {
	return p.parseBinaryLevel([]string{"||", "->", "->>"}, p.parseUnary)
}

func (p *parser) parseUnary() (sqlast.Expr, error) {
	t := p.peek()
	if t.Type == Operator && (t.Value == "-" || t.Value == "+" || t.Value == "~") {
		p.pos++
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &sqlast.UnaryExpr{Op: t.Value, Operand: operand}, nil
	}
	return p.parseCollate()
}

func (p *parser) parseCollate() (sqlast.Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("COLLATE") {
		name, err := p.parseIdent()
		if err != nil {
			return nil, err
		}
		e = &sqlast.CollateExpr{Expr: e, Collation: name}
	}
	return e, nil
}

var timeKeywords = map[string]struct{}{
	"CURRENT_TIMESTAMP": {}, "CURRENT_DATE": {}, "CURRENT_TIME": {},
}

func (p *parser) parsePrimary() (sqlast.Expr, error) {
	t := p.peek()
	switch t.Type {
	case Number:
		p.pos++
		return sqlast.Num(t.Value), nil
	case String:
		p.pos++
		return sqlast.Str(t.Value), nil
	case Blob:
		p.pos++
		return &sqlast.Literal{Kind: sqlast.LiteralBlob, Value: t.Value}, nil
	case Param:
		p.pos++
		return sqlast.Param(t.Value), nil
	case ParenOpen:
		return p.parseParenthesized()
	case QuotedIdent:
		return p.parseNameExpr()
	case Word:
	default:
		return nil, p.errorf("expected expression")
	}

	switch kw := t.upper(); kw {
	case "NULL":
		p.pos++
		return sqlast.Null(), nil
	case "TRUE", "FALSE":
		if p.peekAt(1).Type == ParenOpen || p.peekAt(1).Type == Dot {
			return p.parseNameExpr()
		}
		p.pos++
		return &sqlast.Literal{Kind: sqlast.LiteralBool, Value: kw}, nil
	case "CASE":
		return p.parseCase()
	case "CAST":
		return p.parseCast()
	case "EXISTS":
		p.pos++
		return p.parseExists(false)
	case "NOT":
		if p.isKeywordAt(1, "EXISTS") {
			p.pos += 2
			return p.parseExists(true)
		}
		return nil, p.errorf("unexpected NOT")
	case "RAISE":
		return nil, unsupported("RAISE")
	}
	if _, ok := timeKeywords[t.upper()]; ok && p.peekAt(1).Type != ParenOpen {
		p.pos++
		return &sqlast.Literal{Kind: sqlast.LiteralKeyword, Value: t.upper()}, nil
	}
	if isHardKeyword(t.Value) {
		return nil, p.errorf("unexpected keyword %s", strings.ToUpper(t.Value))
	}
	return p.parseNameExpr()
}

// parseParenthesized handles `(expr)`, `(a, b)` and `(SELECT ...)`.
func (p *parser) parseParenthesized() (sqlast.Expr, error) {
	p.pos++ // (
	switch p.peek().upper() {
	case "SELECT", "VALUES", "WITH":
		sel, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		if err := p.expect(ParenClose); err != nil {
			return nil, err
		}
		return &sqlast.SubqueryExpr{Select: sel}, nil
	}
	items, err := p.parseExprList()
	if err != nil {
		return nil, err
	}
	if err := p.expect(ParenClose); err != nil {
		return nil, err
	}
	if len(items) == 1 {
		return items[0], nil
	}
	return &sqlast.RowValue{Items: items}, nil
}

func (p *parser) parseExists(not bool) (sqlast.Expr, error) {
	if err := p.expect(ParenOpen); err != nil {
		return nil, err
	}
	sel, err := p.parseSelect()
	if err != nil {
		return nil, err
	}
	if err := p.expect(ParenClose); err != nil {
		return nil, err
	}
	return &sqlast.ExistsExpr{Not: not, Select: sel}, nil
}

// parseNameExpr parses a column reference or function call starting at an
// identifier.
func (p *parser) parseNameExpr() (sqlast.Expr, error) {
	t := p.next()
	name := t.Value

	if p.peek().Type == ParenOpen && t.Type == Word {
		return p.parseFunctionCall(name)
	}
	if p.accept(Dot) {
		col, err := p.parseColumnName()
		if err != nil {
			return nil, err
		}
		if p.peek().Type == Dot {
			// schema.table.column
			return nil, unsupported("three-part column name")
		}
		return sqlast.Col(name, col), nil
	}
	return sqlast.Col(name), nil
}

// parseColumnName accepts any word after a qualifier, keywords included
// (t.key, t.value, t."order").
func (p *parser) parseColumnName() (string, error) {
	t := p.peek()
	if t.Type == Word || t.Type == QuotedIdent {
		p.pos++
		return t.Value, nil
	}
	return "", p.errorf("expected column name")
}

func (p *parser) parseFunctionCall(name string) (sqlast.Expr, error) {
	p.pos++ // (
	fn := &sqlast.FunctionCall{Name: name}
	switch {
	case p.isOperator("*"):
		p.pos++
		fn.Star = true
	case p.peek().Type == ParenClose:
	default:
		if p.acceptKeyword("DISTINCT") {
			fn.Distinct = true
		}
		args, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		fn.Args = args
		if p.isKeyword("ORDER") {
			return nil, unsupported("ordered aggregate")
		}
	}
	if err := p.expect(ParenClose); err != nil {
		return nil, err
	}
	if p.isKeyword("FILTER") && p.peekAt(1).Type == ParenOpen {
		return nil, unsupported("FILTER")
	}
	if p.isKeyword("OVER") {
		p.pos++
		spec, err := p.parseWindowSpec()
		if err != nil {
			return nil, err
		}
		fn.Over = spec
	}
	return fn, nil
}

func (p *parser) parseWindowSpec() (*sqlast.WindowSpec, error) {
	if p.peek().Type != ParenOpen {
		return nil, unsupported("named window")
	}
	p.pos++
	spec := &sqlast.WindowSpec{}
	if p.isKeyword("PARTITION") {
		p.pos++
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		exprs, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		spec.PartitionBy = exprs
	}
	if p.isKeyword("ORDER") {
		p.pos++
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		terms, err := p.parseOrderingTerms()
		if err != nil {
			return nil, err
		}
		spec.OrderBy = terms
	}
	if p.peek().Type != ParenClose {
		switch p.peek().upper() {
		case "ROWS", "RANGE", "GROUPS":
			return nil, unsupported("window frame")
		}
		if p.isIdentStart() {
			return nil, unsupported("named window")
		}
	}
	if err := p.expect(ParenClose); err != nil {
		return nil, err
	}
	return spec, nil
}

func (p *parser) parseCase() (sqlast.Expr, error) {
	p.pos++ // CASE
	c := &sqlast.CaseExpr{}
	if !p.isKeyword("WHEN") {
		operand, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Operand = operand
	}
	for p.acceptKeyword("WHEN") {
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		result, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Whens = append(c.Whens, &sqlast.WhenClause{Condition: cond, Result: result})
	}
	if len(c.Whens) == 0 {
		return nil, p.errorf("expected WHEN")
	}
	if p.acceptKeyword("ELSE") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Else = e
	}
	if err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *parser) parseCast() (sqlast.Expr, error) {
	p.pos++ // CAST
	if err := p.expect(ParenOpen); err != nil {
		return nil, err
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	var words []string
	for p.peek().Type == Word || p.peek().Type == QuotedIdent {
		words = append(words, p.next().Value)
	}
	if len(words) == 0 {
		return nil, p.errorf("expected type name")
	}
	typ := strings.Join(words, " ")
	if p.accept(ParenOpen) {
		// VARCHAR(20), DECIMAL(10, 2)
		var args []string
		for p.peek().Type != ParenClose {
			t := p.next()
			if t.Type == EOF {
				return nil, p.errorf("unterminated type arguments")
			}
			if t.Type == Comma {
				continue
			}
			args = append(args, t.Value)
		}
		p.pos++
		typ += "(" + strings.Join(args, ", ") + ")"
	}
	if err := p.expect(ParenClose); err != nil {
		return nil, err
	}
	return &sqlast.CastExpr{Expr: e, Type: typ}, nil
}
