package sqlparser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/lix/internal/sqlast"
)

// hardKeywords cannot appear as bare identifiers or implicit aliases.
// Other keywords (KEY, VALUE, FIRST, ...) are accepted as names.
var hardKeywords = map[string]struct{}{
	"ALL": {}, "AND": {}, "AS": {}, "ASC": {}, "BETWEEN": {}, "BY": {}, "CASE": {},
	"CAST": {}, "COLLATE": {}, "CROSS": {}, "DEFAULT": {}, "DELETE": {}, "DESC": {},
	"DISTINCT": {}, "ELSE": {}, "END": {}, "ESCAPE": {}, "EXCEPT": {}, "EXISTS": {},
	"FROM": {}, "FULL": {}, "GLOB": {}, "GROUP": {}, "HAVING": {}, "IN": {},
	"INDEXED": {}, "INNER": {}, "INSERT": {}, "INTERSECT": {}, "INTO": {}, "IS": {},
	"ISNULL": {}, "JOIN": {}, "LEFT": {}, "LIKE": {}, "LIMIT": {}, "NATURAL": {},
	"NOT": {}, "NOTNULL": {}, "NULL": {}, "OFFSET": {}, "ON": {}, "OR": {},
	"ORDER": {}, "OUTER": {}, "RETURNING": {}, "RIGHT": {}, "SELECT": {}, "SET": {},
	"THEN": {}, "UNION": {}, "UPDATE": {}, "USING": {}, "VALUES": {}, "WHEN": {},
	"WHERE": {}, "WINDOW": {}, "WITH": {},
}

func isHardKeyword(word string) bool {
	_, ok := hardKeywords[strings.ToUpper(word)]
	return ok
}

// Parse splits sql into statements and parses each one.
//
// SELECT, VALUES, WITH, INSERT, REPLACE, UPDATE and DELETE statements are
// parsed into typed nodes. Any other statement, and any statement that uses
// valid SQL the grammar subset does not model, is returned as a
// *sqlast.RawFragment holding its original text. Malformed input returns a
// *ParseError and no statements.
func Parse(sql string) ([]sqlast.Statement, error) {
	tokens, err := Tokenize(sql)
	if err != nil {
		return nil, err
	}
	p := &parser{src: sql, toks: tokens}

	var stmts []sqlast.Statement
	for {
		for p.peek().Type == Semicolon {
			p.pos++
		}
		if p.peek().Type == EOF {
			return stmts, nil
		}
		stmt, err := p.parseSegment()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
}

// ParseStatement parses exactly one statement.
func ParseStatement(sql string) (sqlast.Statement, error) {
	stmts, err := Parse(sql)
	if err != nil {
		return nil, err
	}
	if len(stmts) != 1 {
		return nil, &ParseError{Message: "expected exactly one statement", Line: 1, Column: 1}
	}
	return stmts[0], nil
}

// ParseSelect parses a single SELECT statement.
func ParseSelect(sql string) (*sqlast.SelectStatement, error) {
	stmt, err := ParseStatement(sql)
	if err != nil {
		return nil, err
	}
	sel, ok := stmt.(*sqlast.SelectStatement)
	if !ok {
		return nil, &ParseError{Message: "expected a SELECT statement", Line: 1, Column: 1}
	}
	return sel, nil
}

// ParseExpr parses a standalone expression.
func ParseExpr(sql string) (sqlast.Expr, error) {
	tokens, err := Tokenize(sql)
	if err != nil {
		return nil, err
	}
	p := &parser{src: sql, toks: tokens}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.peek().Type != EOF {
		return nil, p.errorf("unexpected trailing input")
	}
	return e, nil
}

type parser struct {
	src  string
	toks []Token
	pos  int
}

func (p *parser) peek() Token {
	return p.toks[p.pos]
}

func (p *parser) peekAt(off int) Token {
	if p.pos+off >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+off]
}

func (p *parser) next() Token {
	t := p.toks[p.pos]
	if t.Type != EOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(format string, args ...any) error {
	t := p.peek()
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	tok := t.Value
	if t.Type == EOF {
		tok = ""
		msg += " (unexpected end of input)"
	}
	return &ParseError{Message: msg, Token: tok, Offset: t.Start, Line: t.Line, Column: t.Col}
}

func unsupported(construct string) error {
	return &unsupportedError{construct: construct}
}

// isKeyword reports whether the current token is the given keyword.
func (p *parser) isKeyword(kw string) bool {
	return p.peek().upper() == kw
}

func (p *parser) isKeywordAt(off int, kw string) bool {
	return p.peekAt(off).upper() == kw
}

// acceptKeyword consumes kw if present.
func (p *parser) acceptKeyword(kw string) bool {
	if p.isKeyword(kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectKeyword(kw string) error {
	if !p.acceptKeyword(kw) {
		return p.errorf("expected %s", kw)
	}
	return nil
}

func (p *parser) accept(tt TokenType) bool {
	if p.peek().Type == tt {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(tt TokenType) error {
	if !p.accept(tt) {
		return p.errorf("expected %s", tt)
	}
	return nil
}

func (p *parser) isOperator(op string) bool {
	t := p.peek()
	return t.Type == Operator && t.Value == op
}

// parseIdent consumes an identifier: a bare word that is not a hard
// keyword, or a quoted identifier.
func (p *parser) parseIdent() (string, error) {
	t := p.peek()
	switch t.Type {
	case QuotedIdent:
		p.pos++
		return t.Value, nil
	case Word:
		if isHardKeyword(t.Value) {
			return "", p.errorf("unexpected keyword %s, expected identifier", strings.ToUpper(t.Value))
		}
		p.pos++
		return t.Value, nil
	default:
		return "", p.errorf("expected identifier")
	}
}

func (p *parser) isIdentStart() bool {
	t := p.peek()
	return t.Type == QuotedIdent || (t.Type == Word && !isHardKeyword(t.Value))
}

// parseSegment parses one statement, falling back to a raw fragment when
// the statement is outside the modeled grammar.
func (p *parser) parseSegment() (sqlast.Statement, error) {
	start := p.pos
	first := p.peek().upper()
	switch first {
	case "SELECT", "VALUES", "WITH", "INSERT", "REPLACE", "UPDATE", "DELETE":
	default:
		return p.rawFragment(start), nil
	}

	stmt, err := p.parseStatement()
	if err == nil {
		switch p.peek().Type {
		case Semicolon, EOF:
			return stmt, nil
		}
		switch p.peek().upper() {
		case "RETURNING", "WINDOW", "ORDER", "LIMIT":
			err = unsupported(p.peek().upper())
		default:
			return nil, p.errorf("unexpected token after end of statement")
		}
	}
	var ue *unsupportedError
	if errors.As(err, &ue) {
		p.pos = start
		return p.rawFragment(start), nil
	}
	return nil, err
}

// rawFragment consumes tokens up to the next top-level semicolon and returns
// the covered source text. BEGIN ... END blocks (trigger bodies) and
// parentheses are skipped as a unit.
func (p *parser) rawFragment(start int) *sqlast.RawFragment {
	depth, block := 0, 0
	for {
		t := p.peek()
		if t.Type == EOF {
			break
		}
		if t.Type == Semicolon && depth == 0 && block == 0 {
			break
		}
		switch {
		case t.Type == ParenOpen:
			depth++
		case t.Type == ParenClose:
			depth--
		case t.upper() == "BEGIN" && p.pos > start:
			block++
		case t.upper() == "CASE":
			block++
		case t.upper() == "END" && block > 0:
			block--
		}
		p.pos++
	}
	end := p.toks[start].Start
	if p.pos > start {
		end = p.toks[p.pos-1].End
	}
	return &sqlast.RawFragment{SQL: p.src[p.toks[start].Start:end]}
}

func (p *parser) parseStatement() (sqlast.Statement, error) {
	var with *sqlast.WithClause
	if p.isKeyword("WITH") {
		w, err := p.parseWith()
		if err != nil {
			return nil, err
		}
		with = w
	}
	switch p.peek().upper() {
	case "SELECT", "VALUES":
		sel, err := p.parseSelectBody()
		if err != nil {
			return nil, err
		}
		sel.With = with
		return sel, nil
	case "INSERT", "REPLACE":
		return p.parseInsert(with)
	case "UPDATE":
		return p.parseUpdate(with)
	case "DELETE":
		return p.parseDelete(with)
	default:
		return nil, p.errorf("expected SELECT, INSERT, UPDATE or DELETE")
	}
}

func (p *parser) parseWith() (*sqlast.WithClause, error) {
	if err := p.expectKeyword("WITH"); err != nil {
		return nil, err
	}
	w := &sqlast.WithClause{Recursive: p.acceptKeyword("RECURSIVE")}
	for {
		name, err := p.parseIdent()
		if err != nil {
			return nil, err
		}
		cte := &sqlast.CommonTableExpr{Name: name}
		if p.accept(ParenOpen) {
			cols, err := p.parseIdentList()
			if err != nil {
				return nil, err
			}
			cte.Columns = cols
			if err := p.expect(ParenClose); err != nil {
				return nil, err
			}
		}
		if err := p.expectKeyword("AS"); err != nil {
			return nil, err
		}
		if p.isKeyword("MATERIALIZED") || (p.isKeyword("NOT") && p.isKeywordAt(1, "MATERIALIZED")) {
			return nil, unsupported("MATERIALIZED")
		}
		if err := p.expect(ParenOpen); err != nil {
			return nil, err
		}
		sel, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		cte.Select = sel
		if err := p.expect(ParenClose); err != nil {
			return nil, err
		}
		w.CTEs = append(w.CTEs, cte)
		if !p.accept(Comma) {
			return w, nil
		}
	}
}

func (p *parser) parseIdentList() ([]string, error) {
	var out []string
	for {
		name, err := p.parseIdent()
		if err != nil {
			return nil, err
		}
		out = append(out, name)
		if !p.accept(Comma) {
			return out, nil
		}
	}
}

// parseSelect parses [WITH ...] select-body.
func (p *parser) parseSelect() (*sqlast.SelectStatement, error) {
	var with *sqlast.WithClause
	if p.isKeyword("WITH") {
		w, err := p.parseWith()
		if err != nil {
			return nil, err
		}
		with = w
	}
	sel, err := p.parseSelectBody()
	if err != nil {
		return nil, err
	}
	sel.With = with
	return sel, nil
}

func (p *parser) parseSelectBody() (*sqlast.SelectStatement, error) {
	core, err := p.parseCore()
	if err != nil {
		return nil, err
	}
	sel := &sqlast.SelectStatement{Core: core}
	for {
		var op sqlast.SetOp
		switch {
		case p.isKeyword("UNION") && p.isKeywordAt(1, "ALL"):
			p.pos += 2
			op = sqlast.UnionAll
		case p.acceptKeyword("UNION"):
			op = sqlast.Union
		case p.acceptKeyword("INTERSECT"):
			op = sqlast.Intersect
		case p.acceptKeyword("EXCEPT"):
			op = sqlast.Except
		}
		if op == "" {
			break
		}
		arm, err := p.parseCore()
		if err != nil {
			return nil, err
		}
		sel.Compounds = append(sel.Compounds, &sqlast.CompoundArm{Op: op, Core: arm})
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
		sel.OrderBy = terms
	}
	if p.acceptKeyword("LIMIT") {
		limit, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		sel.Limit = limit
		if p.acceptKeyword("OFFSET") {
			off, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			sel.Offset = off
		} else if p.accept(Comma) {
			// LIMIT <offset>, <count>
			count, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			sel.Offset = limit
			sel.Limit = count
		}
	}
	return sel, nil
}

func (p *parser) parseOrderingTerms() ([]*sqlast.OrderingTerm, error) {
	var terms []*sqlast.OrderingTerm
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		term := &sqlast.OrderingTerm{Expr: e}
		switch {
		case p.acceptKeyword("ASC"):
			term.Explicit = true
		case p.acceptKeyword("DESC"):
			term.Explicit = true
			term.Desc = true
		}
		if p.isKeyword("NULLS") {
			p.pos++
			switch {
			case p.acceptKeyword("FIRST"):
				term.Nulls = "FIRST"
			case p.acceptKeyword("LAST"):
				term.Nulls = "LAST"
			default:
				return nil, p.errorf("expected FIRST or LAST")
			}
		}
		terms = append(terms, term)
		if !p.accept(Comma) {
			return terms, nil
		}
	}
}

func (p *parser) parseCore() (*sqlast.SelectCore, error) {
	if p.acceptKeyword("VALUES") {
		rows, err := p.parseValueRows()
		if err != nil {
			return nil, err
		}
		return &sqlast.SelectCore{Values: rows}, nil
	}
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	core := &sqlast.SelectCore{}
	if p.acceptKeyword("DISTINCT") {
		core.Distinct = true
	} else {
		p.acceptKeyword("ALL")
	}
	for {
		col, err := p.parseResultColumn()
		if err != nil {
			return nil, err
		}
		core.Columns = append(core.Columns, col)
		if !p.accept(Comma) {
			break
		}
	}
	if p.acceptKeyword("FROM") {
		from, err := p.parseJoinSource()
		if err != nil {
			return nil, err
		}
		core.From = from
	}
	if p.acceptKeyword("WHERE") {
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		core.Where = where
	}
	if p.isKeyword("GROUP") {
		p.pos++
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		exprs, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		core.GroupBy = exprs
	}
	if p.acceptKeyword("HAVING") {
		having, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		core.Having = having
	}
	if p.isKeyword("WINDOW") {
		return nil, unsupported("WINDOW clause")
	}
	return core, nil
}

func (p *parser) parseValueRows() ([][]sqlast.Expr, error) {
	var rows [][]sqlast.Expr
	for {
		if err := p.expect(ParenOpen); err != nil {
			return nil, err
		}
		row, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		if err := p.expect(ParenClose); err != nil {
			return nil, err
		}
		rows = append(rows, row)
		if !p.accept(Comma) {
			return rows, nil
		}
	}
}

func (p *parser) parseExprList() ([]sqlast.Expr, error) {
	var out []sqlast.Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		if !p.accept(Comma) {
			return out, nil
		}
	}
}

func (p *parser) parseResultColumn() (*sqlast.ResultColumn, error) {
	if p.isOperator("*") {
		p.pos++
		return &sqlast.ResultColumn{Star: true}, nil
	}
	t := p.peek()
	if (t.Type == Word || t.Type == QuotedIdent) && p.peekAt(1).Type == Dot &&
		p.peekAt(2).Type == Operator && p.peekAt(2).Value == "*" {
		p.pos += 3
		return &sqlast.ResultColumn{Star: true, Table: t.Value}, nil
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	col := &sqlast.ResultColumn{Expr: e}
	alias, err := p.parseOptionalAlias(true)
	if err != nil {
		return nil, err
	}
	col.Alias = alias
	return col, nil
}

// parseOptionalAlias reads `[AS] alias`. String tokens are accepted as
// aliases when allowString is set (SQLite allows `expr AS 'x'`).
func (p *parser) parseOptionalAlias(allowString bool) (string, error) {
	if p.acceptKeyword("AS") {
		t := p.peek()
		if allowString && t.Type == String {
			p.pos++
			return t.Value, nil
		}
		return p.parseIdent()
	}
	if p.isIdentStart() {
		return p.parseIdent()
	}
	return "", nil
}

func (p *parser) parseJoinSource() (sqlast.TableExpr, error) {
	left, err := p.parseTableOrSubquery()
	if err != nil {
		return nil, err
	}
	for {
		var kind sqlast.JoinKind
		switch {
		case p.accept(Comma):
			kind = sqlast.JoinComma
		case p.isKeyword("NATURAL"):
			return nil, unsupported("NATURAL JOIN")
		case p.acceptKeyword("JOIN"):
			kind = sqlast.JoinPlain
		case p.isKeyword("INNER"):
			p.pos++
			if err := p.expectKeyword("JOIN"); err != nil {
				return nil, err
			}
			kind = sqlast.JoinInner
		case p.isKeyword("CROSS"):
			p.pos++
			if err := p.expectKeyword("JOIN"); err != nil {
				return nil, err
			}
			kind = sqlast.JoinCross
		case p.isKeyword("LEFT"), p.isKeyword("RIGHT"), p.isKeyword("FULL"):
			word := p.next().upper()
			p.acceptKeyword("OUTER")
			if err := p.expectKeyword("JOIN"); err != nil {
				return nil, err
			}
			kind = sqlast.JoinKind(word + " JOIN")
		default:
			return left, nil
		}
		right, err := p.parseTableOrSubquery()
		if err != nil {
			return nil, err
		}
		join := &sqlast.JoinExpr{Left: left, Kind: kind, Right: right}
		if kind != sqlast.JoinComma {
			switch {
			case p.acceptKeyword("ON"):
				on, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				join.On = on
			case p.acceptKeyword("USING"):
				if err := p.expect(ParenOpen); err != nil {
					return nil, err
				}
				cols, err := p.parseIdentList()
				if err != nil {
					return nil, err
				}
				if err := p.expect(ParenClose); err != nil {
					return nil, err
				}
				join.Using = cols
			}
		}
		left = join
	}
}

func (p *parser) parseTableOrSubquery() (sqlast.TableExpr, error) {
	if p.peek().Type == ParenOpen {
		switch p.peekAt(1).upper() {
		case "SELECT", "VALUES", "WITH":
		default:
			return nil, unsupported("parenthesized join")
		}
		p.pos++
		sel, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		if err := p.expect(ParenClose); err != nil {
			return nil, err
		}
		alias, err := p.parseOptionalAlias(false)
		if err != nil {
			return nil, err
		}
		return &sqlast.SubqueryTable{Select: sel, Alias: alias}, nil
	}

	name, err := p.parseIdent()
	if err != nil {
		return nil, err
	}
	if p.accept(ParenOpen) {
		fn := &sqlast.TableFunction{Name: name}
		if !p.accept(ParenClose) {
			args, err := p.parseExprList()
			if err != nil {
				return nil, err
			}
			fn.Args = args
			if err := p.expect(ParenClose); err != nil {
				return nil, err
			}
		}
		alias, err := p.parseOptionalAlias(false)
		if err != nil {
			return nil, err
		}
		fn.Alias = alias
		return fn, nil
	}
	tn := &sqlast.TableName{Name: name}
	if p.accept(Dot) {
		tbl, err := p.parseIdent()
		if err != nil {
			return nil, err
		}
		tn.Schema, tn.Name = name, tbl
	}
	if p.isKeyword("INDEXED") || (p.isKeyword("NOT") && p.isKeywordAt(1, "INDEXED")) {
		return nil, unsupported("INDEXED BY")
	}
	alias, err := p.parseOptionalAlias(false)
	if err != nil {
		return nil, err
	}
	tn.Alias = alias
	return tn, nil
}

func (p *parser) parseQualifiedTable() (*sqlast.TableName, error) {
	name, err := p.parseIdent()
	if err != nil {
		return nil, err
	}
	tn := &sqlast.TableName{Name: name}
	if p.accept(Dot) {
		tbl, err := p.parseIdent()
		if err != nil {
			return nil, err
		}
		tn.Schema, tn.Name = name, tbl
	}
	if p.acceptKeyword("AS") {
		alias, err := p.parseIdent()
		if err != nil {
			return nil, err
		}
		tn.Alias = alias
	}
	return tn, nil
}

var conflictResolutions = map[string]struct{}{
	"REPLACE": {}, "IGNORE": {}, "ABORT": {}, "FAIL": {}, "ROLLBACK": {},
}

func (p *parser) parseConflictResolution() (string, error) {
	if !p.acceptKeyword("OR") {
		return "", nil
	}
	word := p.peek().upper()
	if _, ok := conflictResolutions[word]; !ok {
		return "", p.errorf("expected conflict resolution after OR")
	}
	p.pos++
	return word, nil
}

func (p *parser) parseInsert(with *sqlast.WithClause) (sqlast.Statement, error) {
	ins := &sqlast.InsertStatement{With: with}
	if p.acceptKeyword("REPLACE") {
		ins.Or = "REPLACE"
	} else {
		if err := p.expectKeyword("INSERT"); err != nil {
			return nil, err
		}
		or, err := p.parseConflictResolution()
		if err != nil {
			return nil, err
		}
		ins.Or = or
	}
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	table, err := p.parseQualifiedTable()
	if err != nil {
		return nil, err
	}
	ins.Table = table
	if p.peek().Type == ParenOpen {
		p.pos++
		cols, err := p.parseIdentList()
		if err != nil {
			return nil, err
		}
		if err := p.expect(ParenClose); err != nil {
			return nil, err
		}
		ins.Columns = cols
	}
	switch {
	case p.acceptKeyword("VALUES"):
		rows, err := p.parseValueRows()
		if err != nil {
			return nil, err
		}
		ins.Values = rows
	case p.isKeyword("DEFAULT"):
		p.pos++
		if err := p.expectKeyword("VALUES"); err != nil {
			return nil, err
		}
		ins.DefaultValues = true
	case p.isKeyword("SELECT"), p.isKeyword("WITH"):
		sel, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		ins.Select = sel
	default:
		return nil, p.errorf("expected VALUES, SELECT or DEFAULT VALUES")
	}
	if p.isKeyword("ON") && p.isKeywordAt(1, "CONFLICT") {
		p.pos += 2
		oc, err := p.parseUpsert()
		if err != nil {
			return nil, err
		}
		ins.OnConflict = oc
		if p.isKeyword("ON") {
			return nil, unsupported("multiple ON CONFLICT clauses")
		}
	}
	return ins, nil
}

func (p *parser) parseUpsert() (*sqlast.OnConflict, error) {
	oc := &sqlast.OnConflict{}
	if p.accept(ParenOpen) {
		cols, err := p.parseIdentList()
		if err != nil {
			return nil, err
		}
		if err := p.expect(ParenClose); err != nil {
			return nil, err
		}
		oc.Target = cols
		if p.acceptKeyword("WHERE") {
			w, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			oc.TargetWhere = w
		}
	}
	if err := p.expectKeyword("DO"); err != nil {
		return nil, err
	}
	if p.acceptKeyword("NOTHING") {
		oc.DoNothing = true
		return oc, nil
	}
	if err := p.expectKeyword("UPDATE"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	set, err := p.parseAssignments()
	if err != nil {
		return nil, err
	}
	oc.Set = set
	if p.acceptKeyword("WHERE") {
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		oc.Where = w
	}
	return oc, nil
}

func (p *parser) parseAssignments() ([]*sqlast.Assignment, error) {
	var out []*sqlast.Assignment
	for {
		if p.peek().Type == ParenOpen {
			return nil, unsupported("row-value assignment")
		}
		col, err := p.parseIdent()
		if err != nil {
			return nil, err
		}
		if !p.isOperator("=") {
			return nil, p.errorf("expected = in assignment")
		}
		p.pos++
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		out = append(out, &sqlast.Assignment{Column: col, Value: val})
		if !p.accept(Comma) {
			return out, nil
		}
	}
}

func (p *parser) parseUpdate(with *sqlast.WithClause) (sqlast.Statement, error) {
	if err := p.expectKeyword("UPDATE"); err != nil {
		return nil, err
	}
	upd := &sqlast.UpdateStatement{With: with}
	or, err := p.parseConflictResolution()
	if err != nil {
		return nil, err
	}
	upd.Or = or
	table, err := p.parseQualifiedTable()
	if err != nil {
		return nil, err
	}
	upd.Table = table
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	set, err := p.parseAssignments()
	if err != nil {
		return nil, err
	}
	upd.Set = set
	if p.acceptKeyword("FROM") {
		from, err := p.parseJoinSource()
		if err != nil {
			return nil, err
		}
		upd.From = from
	}
	if p.acceptKeyword("WHERE") {
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		upd.Where = where
	}
	return upd, nil
}

func (p *parser) parseDelete(with *sqlast.WithClause) (sqlast.Statement, error) {
	if err := p.expectKeyword("DELETE"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.parseQualifiedTable()
	if err != nil {
		return nil, err
	}
	del := &sqlast.DeleteStatement{With: with, Table: table}
	if p.acceptKeyword("WHERE") {
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		del.Where = where
	}
	return del, nil
}
