package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lix/internal/ir"
	"github.com/roach88/lix/internal/sqlparser"
)

func mustPlan(t *testing.T, sql string) Plan {
	t.Helper()
	st, err := sqlparser.ParseStatement(sql)
	require.NoError(t, err)
	p, err := ToPlan(st)
	require.NoError(t, err)
	return p
}

func TestToPlan_OperatorStack(t *testing.T) {
	p := mustPlan(t, `WITH c AS (SELECT 1) SELECT DISTINCT a, count(*) AS n FROM t WHERE b = 'x' GROUP BY a HAVING count(*) > 1 ORDER BY 2 DESC LIMIT 10 OFFSET 5`)

	with, ok := p.(*With)
	require.True(t, ok, "expected With, got %T", p)
	require.Len(t, with.CTEs, 1)
	assert.Equal(t, "c", with.CTEs[0].Name)

	limit, ok := with.Body.(*Limit)
	require.True(t, ok)
	assert.Equal(t, &Literal{Value: ir.Int(10)}, limit.Count)
	assert.Equal(t, &Literal{Value: ir.Int(5)}, limit.Offset)

	sort, ok := limit.Input.(*Sort)
	require.True(t, ok)
	require.Len(t, sort.Keys, 1)
	assert.Equal(t, &Verbatim{SQL: "2"}, sort.Keys[0].Expr, "ordinals stay inline")
	assert.True(t, sort.Keys[0].Desc)

	proj, ok := sort.Input.(*Project)
	require.True(t, ok)
	assert.True(t, proj.Distinct)
	require.Len(t, proj.Columns, 2)
	assert.Equal(t, "n", proj.Columns[1].Alias)

	agg, ok := proj.Input.(*Aggregate)
	require.True(t, ok)
	assert.Equal(t, []Expr{&ColumnRef{Column: "a"}}, agg.GroupBy)
	require.NotNil(t, agg.Having)

	filter, ok := agg.Input.(*Filter)
	require.True(t, ok)
	assert.Equal(t, &Equals{Field: "b", Value: ir.String("x")}, filter.Predicate)
	assert.Equal(t, &Scan{Table: "t"}, filter.Input)
}

func TestToPlan_SelectWithoutFrom(t *testing.T) {
	p := mustPlan(t, `SELECT 1.5, X'ab', CURRENT_TIMESTAMP, NULL, TRUE`)
	proj, ok := p.(*Project)
	require.True(t, ok)
	assert.Nil(t, proj.Input)

	got := make([]Expr, len(proj.Columns))
	for i, c := range proj.Columns {
		got[i] = c.Expr
	}
	assert.Equal(t, []Expr{
		&Verbatim{SQL: "1.5"},
		&Verbatim{SQL: "X'ab'"},
		&Verbatim{SQL: "CURRENT_TIMESTAMP"},
		&Literal{Value: ir.Null{}},
		&Literal{Value: ir.Bool(true)},
	}, got)
}

func TestToPlan_Joins(t *testing.T) {
	p := mustPlan(t, `SELECT * FROM a JOIN b ON a.id = b.id LEFT JOIN (SELECT id FROM c) AS d USING (id), json_each(a.x)`)
	proj := p.(*Project)
	assert.True(t, proj.Columns[0].Star)

	outer, ok := proj.Input.(*Join)
	require.True(t, ok)
	assert.Equal(t, JoinComma, outer.Kind)
	assert.Equal(t, &TableFunc{Name: "json_each", Args: []Expr{&ColumnRef{Table: "a", Column: "x"}}}, outer.Right)

	left, ok := outer.Left.(*Join)
	require.True(t, ok)
	assert.Equal(t, JoinLeft, left.Kind)
	assert.Equal(t, []string{"id"}, left.Using)
	derived, ok := left.Right.(*Derived)
	require.True(t, ok)
	assert.Equal(t, "d", derived.Alias)

	inner, ok := left.Left.(*Join)
	require.True(t, ok)
	assert.Equal(t, JoinPlain, inner.Kind)
	assert.Equal(t, &Binary{Op: "=", Left: &ColumnRef{Table: "a", Column: "id"}, Right: &ColumnRef{Table: "b", Column: "id"}}, inner.On)
}

func TestToPlan_BooleanChains(t *testing.T) {
	p := mustPlan(t, `SELECT * FROM t WHERE a = 1 AND b = 2 AND (c = 3 AND d = 4) OR NOT e`)
	filter := p.(*Project).Input.(*Filter)

	or, ok := filter.Predicate.(*Or)
	require.True(t, ok)
	require.Len(t, or.Predicates, 2)

	and, ok := or.Predicates[0].(*And)
	require.True(t, ok)
	require.Len(t, and.Predicates, 3, "left spine flattens")
	nested, ok := and.Predicates[2].(*And)
	require.True(t, ok, "parenthesized right operand stays nested")
	assert.Len(t, nested.Predicates, 2)

	assert.Equal(t, &Not{Operand: &ColumnRef{Column: "e"}}, or.Predicates[1])
}

func TestToPlan_NumbersParameters(t *testing.T) {
	p := mustPlan(t, `SELECT * FROM t WHERE a = ? AND b = :name AND c = ?`)
	and := p.(*Project).Input.(*Filter).Predicate.(*And)
	assert.Equal(t, &Binary{Op: "=", Left: &ColumnRef{Column: "a"}, Right: &Param{Name: "?1"}}, and.Predicates[0])
	assert.Equal(t, &Binary{Op: "=", Left: &ColumnRef{Column: "b"}, Right: &Param{Name: ":name"}}, and.Predicates[1])
	assert.Equal(t, &Binary{Op: "=", Left: &ColumnRef{Column: "c"}, Right: &Param{Name: "?3"}}, and.Predicates[2])
}

func TestToPlan_Compound(t *testing.T) {
	p := mustPlan(t, `SELECT a FROM x UNION ALL SELECT a FROM y EXCEPT VALUES (1) ORDER BY 1`)
	sort := p.(*Sort)
	outer, ok := sort.Input.(*SetOp)
	require.True(t, ok)
	assert.Equal(t, "EXCEPT", outer.Op)
	assert.Equal(t, &Values{Rows: [][]Expr{{&Literal{Value: ir.Int(1)}}}}, outer.Right)
	inner, ok := outer.Left.(*SetOp)
	require.True(t, ok)
	assert.Equal(t, "UNION ALL", inner.Op)
}

func TestToPlan_Mutations(t *testing.T) {
	ins := mustPlan(t, `INSERT OR REPLACE INTO kv (k, v) VALUES ('a', 1), ('b', 2) ON CONFLICT (k) DO UPDATE SET v = excluded.v WHERE kv.v < excluded.v`).(*Insert)
	assert.Equal(t, "REPLACE", ins.Or)
	assert.Equal(t, &Scan{Table: "kv"}, ins.Table)
	values, ok := ins.Source.(*Values)
	require.True(t, ok)
	assert.Len(t, values.Rows, 2)
	require.NotNil(t, ins.OnConflict)
	assert.Equal(t, []string{"k"}, ins.OnConflict.Target)
	assert.Equal(t, []Assign{{Column: "v", Value: &ColumnRef{Table: "excluded", Column: "v"}}}, ins.OnConflict.Set)

	sel := mustPlan(t, `INSERT INTO kv SELECT * FROM other`).(*Insert)
	_, ok = sel.Source.(*Project)
	assert.True(t, ok)

	def := mustPlan(t, `INSERT INTO kv DEFAULT VALUES`).(*Insert)
	assert.Nil(t, def.Source)

	upd := mustPlan(t, `UPDATE t SET a = a + 1 WHERE id IN (1, 2)`).(*Update)
	assert.Equal(t, &Scan{Table: "t"}, upd.Table)
	require.Len(t, upd.Set, 1)
	assert.Equal(t, &In{Expr: &ColumnRef{Column: "id"}, List: []Expr{&Literal{Value: ir.Int(1)}, &Literal{Value: ir.Int(2)}}}, upd.Where)

	del := mustPlan(t, `DELETE FROM t WHERE NOT EXISTS (SELECT 1 FROM u WHERE u.id = t.id)`).(*Delete)
	exists, ok := del.Where.(*Exists)
	require.True(t, ok)
	assert.True(t, exists.Not)
}

func TestToPlan_Raw(t *testing.T) {
	p := mustPlan(t, `PRAGMA user_version`)
	assert.Equal(t, &Raw{SQL: "PRAGMA user_version"}, p)
}

func TestToPlan_Nil(t *testing.T) {
	_, err := ToPlan(nil)
	require.Error(t, err)
}

func TestToPlans(t *testing.T) {
	stmts, err := sqlparser.Parse(`SELECT 1; DELETE FROM t`)
	require.NoError(t, err)
	plans, err := ToPlans(stmts)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	_, ok := plans[1].(*Delete)
	assert.True(t, ok)
}
