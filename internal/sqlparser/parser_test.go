package sqlparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lix/internal/sqlast"
)

func TestTokenize_Basics(t *testing.T) {
	toks, err := Tokenize(`SELECT "a""b", 'it''s', x'0A', 1.5e3, ?2, :name -- trailing
	/* block */ FROM t;`)
	require.NoError(t, err)

	var types []TokenType
	var values []string
	for _, tok := range toks {
		types = append(types, tok.Type)
		values = append(values, tok.Value)
	}
	assert.Equal(t, []TokenType{
		Word, QuotedIdent, Comma, String, Comma, Blob, Comma, Number, Comma,
		Param, Comma, Param, Word, Word, Semicolon, EOF,
	}, types)
	assert.Equal(t, `a"b`, values[1])
	assert.Equal(t, "it's", values[3])
	assert.Equal(t, "0A", values[5])
	assert.Equal(t, "1.5e3", values[7])
	assert.Equal(t, "?2", values[9])
	assert.Equal(t, ":name", values[11])
	assert.Equal(t, 2, toks[12].Line)
}

func TestTokenize_Errors(t *testing.T) {
	for _, sql := range []string{"SELECT 'open", `SELECT "open`, "SELECT /* open", "SELECT #"} {
		_, err := Tokenize(sql)
		require.Error(t, err, sql)
		assert.True(t, IsParseError(err), sql)
	}
}

func TestParse_SimpleSelect(t *testing.T) {
	sel, err := ParseSelect("SELECT a, t.b AS bee FROM tbl t WHERE a = 1 AND b = ?")
	require.NoError(t, err)

	require.Len(t, sel.Core.Columns, 2)
	assert.Equal(t, sqlast.Col("a"), sel.Core.Columns[0].Expr)
	assert.Equal(t, sqlast.Col("t", "b"), sel.Core.Columns[1].Expr)
	assert.Equal(t, "bee", sel.Core.Columns[1].Alias)
	assert.Equal(t, &sqlast.TableName{Name: "tbl", Alias: "t"}, sel.Core.From)
	assert.Equal(t,
		sqlast.And(sqlast.Eq(sqlast.Col("a"), sqlast.Num("1")), sqlast.Eq(sqlast.Col("b"), sqlast.Param("?"))),
		sel.Core.Where)
}

func TestParse_Stars(t *testing.T) {
	sel, err := ParseSelect("SELECT *, t.* FROM t")
	require.NoError(t, err)
	assert.Equal(t, []*sqlast.ResultColumn{{Star: true}, {Star: true, Table: "t"}}, sel.Core.Columns)
}

func TestParse_Joins(t *testing.T) {
	sel, err := ParseSelect(`SELECT 1 FROM a
		INNER JOIN b ON a.id = b.id
		LEFT OUTER JOIN c USING (id)
		CROSS JOIN d, e`)
	require.NoError(t, err)

	outer, ok := sel.Core.From.(*sqlast.JoinExpr)
	require.True(t, ok)
	assert.Equal(t, sqlast.JoinComma, outer.Kind)
	cross := outer.Left.(*sqlast.JoinExpr)
	assert.Equal(t, sqlast.JoinCross, cross.Kind)
	left := cross.Left.(*sqlast.JoinExpr)
	assert.Equal(t, sqlast.JoinLeft, left.Kind)
	assert.Equal(t, []string{"id"}, left.Using)
	inner := left.Left.(*sqlast.JoinExpr)
	assert.Equal(t, sqlast.JoinInner, inner.Kind)
	assert.NotNil(t, inner.On)
}

func TestParse_Precedence(t *testing.T) {
	e, err := ParseExpr("a OR b AND NOT c = 1 + 2 * 3")
	require.NoError(t, err)

	want := sqlast.Bin("OR",
		sqlast.Col("a"),
		sqlast.Bin("AND",
			sqlast.Col("b"),
			sqlast.Not(sqlast.Eq(
				sqlast.Col("c"),
				sqlast.Bin("+", sqlast.Num("1"), sqlast.Bin("*", sqlast.Num("2"), sqlast.Num("3"))),
			)),
		),
	)
	assert.Equal(t, want, e)
}

func TestParse_NotAfterEquality(t *testing.T) {
	tests := []struct {
		sql  string
		want sqlast.Expr
	}{
		{"a = NOT b", sqlast.Eq(sqlast.Col("a"), sqlast.Not(sqlast.Col("b")))},
		{"a <> NOT b AND c", sqlast.Bin("AND",
			sqlast.Bin("<>", sqlast.Col("a"), sqlast.Not(sqlast.Col("b"))),
			sqlast.Col("c"))},
		{"a = NOT b = c", sqlast.Eq(sqlast.Col("a"), sqlast.Not(sqlast.Eq(sqlast.Col("b"), sqlast.Col("c"))))},
		{"a IS NOT NOT b", sqlast.Bin("IS NOT", sqlast.Col("a"), sqlast.Not(sqlast.Col("b")))},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			e, err := ParseExpr(tt.sql)
			require.NoError(t, err)
			assert.Equal(t, tt.want, e)
		})
	}

	st, err := ParseStatement("SELECT a = NOT b FROM t")
	require.NoError(t, err)
	_, ok := st.(*sqlast.SelectStatement)
	assert.True(t, ok)
}

func TestParse_Predicates(t *testing.T) {
	tests := []struct {
		sql  string
		want sqlast.Expr
	}{
		{"a IS NULL", sqlast.Bin("IS", sqlast.Col("a"), sqlast.Null())},
		{"a IS NOT NULL", sqlast.Bin("IS NOT", sqlast.Col("a"), sqlast.Null())},
		{"a ISNULL", sqlast.Bin("IS", sqlast.Col("a"), sqlast.Null())},
		{"a NOTNULL", sqlast.Bin("IS NOT", sqlast.Col("a"), sqlast.Null())},
		{"a NOT NULL", sqlast.Bin("IS NOT", sqlast.Col("a"), sqlast.Null())},
		{"a NOT LIKE 'x%'", sqlast.Bin("NOT LIKE", sqlast.Col("a"), sqlast.Str("x%"))},
		{"a GLOB '*'", sqlast.Bin("GLOB", sqlast.Col("a"), sqlast.Str("*"))},
		{"a BETWEEN 1 AND 2", &sqlast.BetweenExpr{Expr: sqlast.Col("a"), Low: sqlast.Num("1"), High: sqlast.Num("2")}},
		{"a NOT BETWEEN 1 AND 2", &sqlast.BetweenExpr{Expr: sqlast.Col("a"), Not: true, Low: sqlast.Num("1"), High: sqlast.Num("2")}},
		{"a IN (1, 2)", &sqlast.InExpr{Expr: sqlast.Col("a"), List: []sqlast.Expr{sqlast.Num("1"), sqlast.Num("2")}}},
		{"a NOT IN ()", &sqlast.InExpr{Expr: sqlast.Col("a"), Not: true}},
		{"(a, b)", &sqlast.RowValue{Items: []sqlast.Expr{sqlast.Col("a"), sqlast.Col("b")}}},
		{"x COLLATE NOCASE", &sqlast.CollateExpr{Expr: sqlast.Col("x"), Collation: "NOCASE"}},
		{"-x", &sqlast.UnaryExpr{Op: "-", Operand: sqlast.Col("x")}},
		{"TRUE", &sqlast.Literal{Kind: sqlast.LiteralBool, Value: "TRUE"}},
		{"CURRENT_TIMESTAMP", &sqlast.Literal{Kind: sqlast.LiteralKeyword, Value: "CURRENT_TIMESTAMP"}},
		{"j -> '$.a'", sqlast.Bin("->", sqlast.Col("j"), sqlast.Str("$.a"))},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			got, err := ParseExpr(tt.sql)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_ExistsCaseCastWindow(t *testing.T) {
	sel, err := ParseSelect(`SELECT
		CASE WHEN a > 1 THEN 'big' ELSE 'small' END AS size,
		CAST(b AS INTEGER),
		ROW_NUMBER() OVER (PARTITION BY c ORDER BY d DESC) AS rn,
		count(DISTINCT e)
	FROM t WHERE NOT EXISTS (SELECT 1 FROM u WHERE u.id = t.id)`)
	require.NoError(t, err)

	cs := sel.Core.Columns[0].Expr.(*sqlast.CaseExpr)
	assert.Nil(t, cs.Operand)
	assert.Len(t, cs.Whens, 1)
	assert.Equal(t, sqlast.Str("small"), cs.Else)

	assert.Equal(t, &sqlast.CastExpr{Expr: sqlast.Col("b"), Type: "INTEGER"}, sel.Core.Columns[1].Expr)

	fn := sel.Core.Columns[2].Expr.(*sqlast.FunctionCall)
	require.NotNil(t, fn.Over)
	assert.Equal(t, []sqlast.Expr{sqlast.Col("c")}, fn.Over.PartitionBy)
	assert.True(t, fn.Over.OrderBy[0].Desc)

	agg := sel.Core.Columns[3].Expr.(*sqlast.FunctionCall)
	assert.True(t, agg.Distinct)

	ex := sel.Core.Where.(*sqlast.ExistsExpr)
	assert.True(t, ex.Not)
}

func TestParse_CompoundOrderLimit(t *testing.T) {
	sel, err := ParseSelect("SELECT a FROM x UNION ALL SELECT a FROM y EXCEPT VALUES (1) ORDER BY a DESC LIMIT 5, 10")
	require.NoError(t, err)

	require.Len(t, sel.Compounds, 2)
	assert.Equal(t, sqlast.UnionAll, sel.Compounds[0].Op)
	assert.Equal(t, sqlast.Except, sel.Compounds[1].Op)
	assert.Equal(t, [][]sqlast.Expr{{sqlast.Num("1")}}, sel.Compounds[1].Core.Values)
	assert.Equal(t, sqlast.Num("10"), sel.Limit)
	assert.Equal(t, sqlast.Num("5"), sel.Offset)
}

func TestParse_WithRecursive(t *testing.T) {
	sel, err := ParseSelect(`WITH RECURSIVE chain(id, parent) AS (
		SELECT id, parent FROM v WHERE id = 'leaf'
		UNION ALL
		SELECT v.id, v.parent FROM v JOIN chain ON v.id = chain.parent
	) SELECT id FROM chain`)
	require.NoError(t, err)

	require.NotNil(t, sel.With)
	assert.True(t, sel.With.Recursive)
	assert.Equal(t, "chain", sel.With.CTEs[0].Name)
	assert.Equal(t, []string{"id", "parent"}, sel.With.CTEs[0].Columns)
	assert.True(t, sel.With.CTEs[0].Select.IsCompound())
}

func TestParse_Insert(t *testing.T) {
	st, err := ParseStatement(`INSERT OR IGNORE INTO kv (key, value) VALUES ('a', 1), ('b', 2)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value WHERE value <> excluded.value`)
	require.NoError(t, err)

	ins := st.(*sqlast.InsertStatement)
	assert.Equal(t, "IGNORE", ins.Or)
	assert.Equal(t, "kv", ins.Table.Name)
	assert.Equal(t, []string{"key", "value"}, ins.Columns)
	assert.Len(t, ins.Values, 2)
	require.NotNil(t, ins.OnConflict)
	assert.Equal(t, []string{"key"}, ins.OnConflict.Target)
	assert.False(t, ins.OnConflict.DoNothing)
	assert.Equal(t, "value", ins.OnConflict.Set[0].Column)
	assert.Equal(t, sqlast.Col("excluded", "value"), ins.OnConflict.Set[0].Value)
	assert.NotNil(t, ins.OnConflict.Where)
}

func TestParse_InsertVariants(t *testing.T) {
	st, err := ParseStatement("REPLACE INTO t SELECT * FROM u")
	require.NoError(t, err)
	ins := st.(*sqlast.InsertStatement)
	assert.Equal(t, "REPLACE", ins.Or)
	assert.NotNil(t, ins.Select)

	st, err = ParseStatement("INSERT INTO t DEFAULT VALUES ON CONFLICT DO NOTHING")
	require.NoError(t, err)
	ins = st.(*sqlast.InsertStatement)
	assert.True(t, ins.DefaultValues)
	assert.True(t, ins.OnConflict.DoNothing)
}

func TestParse_UpdateDelete(t *testing.T) {
	stmts, err := Parse("UPDATE t SET a = 1, b = b + 1 FROM u WHERE t.id = u.id; DELETE FROM t WHERE a = ? OR b = ?")
	require.NoError(t, err)
	require.Len(t, stmts, 2)

	upd := stmts[0].(*sqlast.UpdateStatement)
	assert.Len(t, upd.Set, 2)
	assert.Equal(t, &sqlast.TableName{Name: "u"}, upd.From)

	del := stmts[1].(*sqlast.DeleteStatement)
	or, ok := del.Where.(*sqlast.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "OR", or.Op)
}

func TestParse_RawFragments(t *testing.T) {
	sql := `CREATE TABLE t (a TEXT);
CREATE TRIGGER trg AFTER INSERT ON t BEGIN UPDATE t SET a = 1; END;
PRAGMA foreign_keys = ON;
SELECT a FROM t RETURNING a;
DELETE FROM t RETURNING *;
SELECT 1`
	stmts, err := Parse(sql)
	require.NoError(t, err)
	require.Len(t, stmts, 6)

	assert.Equal(t, &sqlast.RawFragment{SQL: "CREATE TABLE t (a TEXT)"}, stmts[0])
	assert.Equal(t, &sqlast.RawFragment{SQL: "CREATE TRIGGER trg AFTER INSERT ON t BEGIN UPDATE t SET a = 1; END"}, stmts[1])
	assert.Equal(t, &sqlast.RawFragment{SQL: "PRAGMA foreign_keys = ON"}, stmts[2])
	assert.Equal(t, &sqlast.RawFragment{SQL: "SELECT a FROM t RETURNING a"}, stmts[3])
	assert.Equal(t, &sqlast.RawFragment{SQL: "DELETE FROM t RETURNING *"}, stmts[4])
	assert.IsType(t, &sqlast.SelectStatement{}, stmts[5])
}

func TestParse_UnsupportedBecomesRaw(t *testing.T) {
	for _, sql := range []string{
		"SELECT a FROM t INDEXED BY idx",
		"SELECT a FROM t NATURAL JOIN u",
		"SELECT a FROM (t JOIN u)",
		"SELECT a LIKE 'x' ESCAPE '\\' FROM t",
		"SELECT count(*) FILTER (WHERE a) FROM t",
		"SELECT sum(a) OVER w FROM t WINDOW w AS (ORDER BY a)",
		"SELECT a IS DISTINCT FROM b FROM t",
		"UPDATE t SET (a, b) = (1, 2)",
	} {
		t.Run(sql, func(t *testing.T) {
			stmts, err := Parse(sql)
			require.NoError(t, err)
			require.Len(t, stmts, 1)
			assert.Equal(t, &sqlast.RawFragment{SQL: sql}, stmts[0])
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		sql   string
		token string
		line  int
	}{
		{"SELECT FROM t", "FROM", 1},
		{"SELECT a FROM", "", 1},
		{"SELECT a\nFROM t WHERE (a = 1", "", 2},
		{"INSERT INTO t VALUES 1", "1", 1},
		{"SELECT a b c FROM t", "c", 1},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			_, err := Parse(tt.sql)
			require.Error(t, err)

			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.token, pe.Token)
			assert.Equal(t, tt.line, pe.Line)
			assert.Contains(t, pe.Error(), "parse error at line")
		})
	}
}

func TestParse_KeywordsAsNames(t *testing.T) {
	sel, err := ParseSelect(`SELECT key, value, t.order FROM lix_key_value AS t`)
	require.NoError(t, err)
	assert.Equal(t, sqlast.Col("key"), sel.Core.Columns[0].Expr)
	assert.Equal(t, sqlast.Col("value"), sel.Core.Columns[1].Expr)
	assert.Equal(t, sqlast.Col("t", "order"), sel.Core.Columns[2].Expr)
}

func TestParse_EmptyInput(t *testing.T) {
	stmts, err := Parse("  ;; -- nothing\n")
	require.NoError(t, err)
	assert.Empty(t, stmts)
}
