package queryir

import "github.com/roach88/lix/internal/ir"

// Plan is a relational plan node.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern prevents external implementations and enables
// exhaustive type switches in backend compilers.
//
// Plan types:
//   - Scan, Derived, TableFunc: leaf relations
//   - Join: two relations combined by a join operator
//   - Filter, Aggregate, Project, Sort, Limit: unary operators
//   - SetOp: compound select (UNION, INTERSECT, EXCEPT)
//   - With: common table expressions scoped over a body
//   - Values: literal row set
//   - Insert, Update, Delete: mutations
//   - Raw: statement text the grammar subset does not model
type Plan interface {
	planNode()
}

// Expr is a scalar expression in a plan.
//
// This is a sealed interface. Predicates are expressions that evaluate to
// a boolean; there is no separate predicate type.
type Expr interface {
	exprNode()
}

// Scan reads a named table or view.
//
//	SELECT ... FROM <schema>.<table> AS <alias>
type Scan struct {
	Schema string
	Table  string
	Alias  string
}

func (*Scan) planNode() {}

// RefName returns the name rows of the scan are qualified by.
func (s *Scan) RefName() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.Table
}

// Derived is a subquery used as a relation: (<input>) AS <alias>.
type Derived struct {
	Input Plan
	Alias string
}

func (*Derived) planNode() {}

// TableFunc is a table-valued function such as json_each(x).
type TableFunc struct {
	Name  string
	Args  []Expr
	Alias string
}

func (*TableFunc) planNode() {}

// JoinKind names a join operator.
type JoinKind string

const (
	JoinComma JoinKind = ","
	JoinInner JoinKind = "INNER JOIN"
	JoinPlain JoinKind = "JOIN"
	JoinLeft  JoinKind = "LEFT JOIN"
	JoinRight JoinKind = "RIGHT JOIN"
	JoinFull  JoinKind = "FULL JOIN"
	JoinCross JoinKind = "CROSS JOIN"
)

// IsOuter reports whether the join keeps unmatched rows of either side.
func (k JoinKind) IsOuter() bool {
	return k == JoinLeft || k == JoinRight || k == JoinFull
}

// Join combines two relations.
//
// Semantics:
//
//	<left> <kind> <right> ON <on> | USING (<using>)
//
// Joins are left-deep when lowered from SQL: the left side of a chain of
// joins is itself a Join.
type Join struct {
	Kind  JoinKind
	Left  Plan
	Right Plan
	On    Expr
	Using []string
}

func (*Join) planNode() {}

// Filter keeps the input rows for which Predicate is true.
type Filter struct {
	Input     Plan
	Predicate Expr
}

func (*Filter) planNode() {}

// Aggregate groups its input.
//
//	GROUP BY <group_by> HAVING <having>
type Aggregate struct {
	Input   Plan
	GroupBy []Expr
	Having  Expr
}

func (*Aggregate) planNode() {}

// Column is one projected output column.
//
//	*        -> Star
//	t.*      -> Star with Table
//	expr AS alias
type Column struct {
	Star  bool
	Table string
	Expr  Expr
	Alias string
}

// Project computes the output columns of a query block. A nil Input is a
// SELECT without FROM.
type Project struct {
	Input    Plan
	Columns  []Column
	Distinct bool
}

func (*Project) planNode() {}

// SortKey is one ordering term.
type SortKey struct {
	Expr     Expr
	Desc     bool
	Explicit bool
	Nulls    string
}

// Sort orders its input.
type Sort struct {
	Input Plan
	Keys  []SortKey
}

func (*Sort) planNode() {}

// Limit truncates its input. Either Count or Offset may be nil.
type Limit struct {
	Input  Plan
	Count  Expr
	Offset Expr
}

func (*Limit) planNode() {}

// SetOp combines two query blocks with UNION, UNION ALL, INTERSECT or
// EXCEPT. Chains are left-deep.
type SetOp struct {
	Op    string
	Left  Plan
	Right Plan
}

func (*SetOp) planNode() {}

// CTE is one common table expression binding.
type CTE struct {
	Name    string
	Columns []string
	Plan    Plan
}

// With scopes CTE bindings over Body.
type With struct {
	Recursive bool
	CTEs      []CTE
	Body      Plan
}

func (*With) planNode() {}

// Values is a literal row set.
type Values struct {
	Rows [][]Expr
}

func (*Values) planNode() {}

// Assign is one SET entry.
type Assign struct {
	Column string
	Value  Expr
}

// Upsert is the ON CONFLICT clause of an Insert.
type Upsert struct {
	Target      []string
	TargetWhere Expr
	DoNothing   bool
	Set         []Assign
	Where       Expr
}

// Insert writes rows produced by Source into Table. Source is nil for
// DEFAULT VALUES.
type Insert struct {
	With       *With
	Or         string
	Table      *Scan
	Columns    []string
	Source     Plan
	OnConflict *Upsert
}

func (*Insert) planNode() {}

// Update rewrites rows of Table matching Where.
type Update struct {
	With  *With
	Or    string
	Table *Scan
	Set   []Assign
	From  Plan
	Where Expr
}

func (*Update) planNode() {}

// Delete removes rows of Table matching Where.
type Delete struct {
	With  *With
	Table *Scan
	Where Expr
}

func (*Delete) planNode() {}

// Raw is a statement carried as text.
type Raw struct {
	SQL string
}

func (*Raw) planNode() {}

// Literal is a constant value. Backends bind it as a parameter; it is
// never interpolated into SQL text.
type Literal struct {
	Value ir.Value
}

func (*Literal) exprNode() {}

// Verbatim is constant SQL text that has no ir.Value form or must stay
// inline: real numbers, blobs, CURRENT_TIMESTAMP and ordinal positions in
// ORDER BY and GROUP BY.
type Verbatim struct {
	SQL string
}

func (*Verbatim) exprNode() {}

// Param is a statement parameter: "?1", ":name", "@name" or "$name".
// Its value is looked up by name when the plan is compiled.
type Param struct {
	Name string
}

func (*Param) exprNode() {}

// ColumnRef references a column, optionally qualified.
type ColumnRef struct {
	Table  string
	Column string
}

func (*ColumnRef) exprNode() {}

// Equals represents a field-equals-literal predicate.
//
// Semantics:
//
//	<table>.<field> = <value>
//
// Example:
//
//	Equals{Field: "schema_key", Value: ir.String("lix_version_tip")}
//
// Translates to SQL:
//
//	schema_key = ?
type Equals struct {
	Table string
	Field string
	Value ir.Value
}

func (*Equals) exprNode() {}

// BoundEquals represents a field-equals-bound-variable predicate. The value
// comes from the compiler's BoundValues map under BoundVar.
//
//	BoundEquals{Field: "version_id", BoundVar: "version"}
//
// Translates to SQL:
//
//	version_id = ?
type BoundEquals struct {
	Table    string
	Field    string
	BoundVar string
}

func (*BoundEquals) exprNode() {}

// And is a conjunction. An empty And is always true.
//
// Lowering flattens only the left spine of an AND chain, so
// `a AND (b AND c)` keeps its nested shape.
type And struct {
	Predicates []Expr
}

func (*And) exprNode() {}

// Or is a disjunction, flattened like And.
type Or struct {
	Predicates []Expr
}

func (*Or) exprNode() {}

// Not negates a predicate.
type Not struct {
	Operand Expr
}

func (*Not) exprNode() {}

// Binary is any other binary operator: comparisons, IS, LIKE, GLOB,
// arithmetic, bitwise, concatenation and JSON arrows.
type Binary struct {
	Op    string
	Left  Expr
	Right Expr
}

func (*Binary) exprNode() {}

// Unary is a prefix -, + or ~.
type Unary struct {
	Op      string
	Operand Expr
}

func (*Unary) exprNode() {}

// Between is `Expr [NOT] BETWEEN Low AND High`.
type Between struct {
	Expr Expr
	Not  bool
	Low  Expr
	High Expr
}

func (*Between) exprNode() {}

// In tests membership in a list or a subquery.
type In struct {
	Expr     Expr
	Not      bool
	List     []Expr
	Subquery Plan
}

func (*In) exprNode() {}

// Exists tests whether Query yields any row.
type Exists struct {
	Not   bool
	Query Plan
}

func (*Exists) exprNode() {}

// Window is the OVER clause of a window function.
type Window struct {
	PartitionBy []Expr
	OrderBy     []SortKey
}

// Call is a scalar, aggregate or window function call.
type Call struct {
	Name     string
	Distinct bool
	Star     bool
	Args     []Expr
	Over     *Window
}

func (*Call) exprNode() {}

// Cast is CAST(Expr AS Type).
type Cast struct {
	Expr Expr
	Type string
}

func (*Cast) exprNode() {}

// When is one CASE branch.
type When struct {
	Condition Expr
	Result    Expr
}

// Case is CASE [Operand] WHEN ... THEN ... [ELSE ...] END.
type Case struct {
	Operand Expr
	Whens   []When
	Else    Expr
}

func (*Case) exprNode() {}

// Subquery is a scalar subquery.
type Subquery struct {
	Query Plan
}

func (*Subquery) exprNode() {}

// Collate is `Expr COLLATE name`.
type Collate struct {
	Expr      Expr
	Collation string
}

func (*Collate) exprNode() {}

// Row is a row value `(a, b, ...)`.
type Row struct {
	Items []Expr
}

func (*Row) exprNode() {}
