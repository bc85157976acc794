package sqlast

// Statement is one segment of a ;-separated SQL script.
//
// Statement types:
//   - SelectStatement: SELECT, VALUES and compound selects (UNION/INTERSECT/EXCEPT)
//   - InsertStatement, UpdateStatement, DeleteStatement
//   - RawFragment: anything the grammar subset does not model, kept verbatim
type Statement interface {
	statementNode()
}

// TableExpr is a relation in a FROM clause.
type TableExpr interface {
	tableNode()
}

// Expr is a scalar expression.
type Expr interface {
	exprNode()
}

// RawFragment is a statement retained as its original text.
// Raw fragments are passed through the pipeline untouched.
type RawFragment struct {
	SQL string
}

func (*RawFragment) statementNode() {}

// CommonTableExpr is a single WITH binding.
type CommonTableExpr struct {
	Name    string
	Columns []string
	Select  *SelectStatement
}

// WithClause holds the CTE list of a statement.
type WithClause struct {
	Recursive bool
	CTEs      []*CommonTableExpr
}

// SetOp names a compound select operator.
type SetOp string

const (
	Union     SetOp = "UNION"
	UnionAll  SetOp = "UNION ALL"
	Intersect SetOp = "INTERSECT"
	Except    SetOp = "EXCEPT"
)

// CompoundArm is one `<op> <core>` continuation of a compound select.
type CompoundArm struct {
	Op   SetOp
	Core *SelectCore
}

// SelectStatement is a (possibly compound) query.
//
// A plain select has no Compounds. ORDER BY, LIMIT and OFFSET apply to the
// whole compound result, matching SQLite.
type SelectStatement struct {
	With      *WithClause
	Core      *SelectCore
	Compounds []*CompoundArm
	OrderBy   []*OrderingTerm
	Limit     Expr
	Offset    Expr
}

func (*SelectStatement) statementNode() {}

// IsCompound reports whether the statement chains several cores.
func (s *SelectStatement) IsCompound() bool {
	return len(s.Compounds) > 0
}

// Cores returns the first core followed by every compound arm's core.
func (s *SelectStatement) Cores() []*SelectCore {
	cores := make([]*SelectCore, 0, 1+len(s.Compounds))
	cores = append(cores, s.Core)
	for _, arm := range s.Compounds {
		cores = append(cores, arm.Core)
	}
	return cores
}

// SelectCore is a single SELECT ... FROM ... WHERE ... GROUP BY ... HAVING,
// or a VALUES list when Values is non-empty.
type SelectCore struct {
	Distinct bool
	Columns  []*ResultColumn
	From     TableExpr
	Where    Expr
	GroupBy  []Expr
	Having   Expr
	Values   [][]Expr
}

// ResultColumn is one projection entry.
//
//	*        -> Star
//	t.*      -> Star with Table
//	expr [AS alias]
type ResultColumn struct {
	Star  bool
	Table string
	Expr  Expr
	Alias string
}

// OrderingTerm is one ORDER BY entry.
type OrderingTerm struct {
	Expr Expr
	Desc bool
	// Explicit records whether ASC/DESC was written, so compile(parse(s))
	// reproduces the same AST.
	Explicit bool
	Nulls    string // "", "FIRST" or "LAST"
}

// TableName references a named table or view.
type TableName struct {
	Schema string
	Name   string
	Alias  string
}

func (*TableName) tableNode() {}

// RefName returns the name the relation is referenced by in the query:
// the alias when present, otherwise the table name.
func (t *TableName) RefName() string {
	if t.Alias != "" {
		return t.Alias
	}
	return t.Name
}

// SubqueryTable is a derived table: (SELECT ...) AS alias.
type SubqueryTable struct {
	Select *SelectStatement
	Alias  string
}

func (*SubqueryTable) tableNode() {}

// TableFunction is a table-valued function such as json_each(x).
type TableFunction struct {
	Name  string
	Args  []Expr
	Alias string
}

func (*TableFunction) tableNode() {}

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

// JoinExpr is a left-deep join of two relations.
type JoinExpr struct {
	Left  TableExpr
	Kind  JoinKind
	Right TableExpr
	On    Expr
	Using []string
}

func (*JoinExpr) tableNode() {}

// LiteralKind classifies literal values.
type LiteralKind int

const (
	LiteralNull LiteralKind = iota
	LiteralNumber
	LiteralString
	LiteralBool
	LiteralBlob
	LiteralKeyword // CURRENT_TIMESTAMP, CURRENT_DATE, CURRENT_TIME
)

// Literal is a constant. Value holds the unquoted text: the decoded string
// for strings, the digits for numbers, "TRUE"/"FALSE" for booleans and the
// hex digits for blobs.
type Literal struct {
	Kind  LiteralKind
	Value string
}

func (*Literal) exprNode() {}

// Parameter is a bound parameter. Name is the token as written:
// "?", "?3", ":name", "@name" or "$name".
type Parameter struct {
	Name string
}

func (*Parameter) exprNode() {}

// ColumnRef references a column, optionally qualified.
type ColumnRef struct {
	Table  string
	Column string
}

func (*ColumnRef) exprNode() {}

// BinaryExpr is `Left Op Right`. Op is upper case:
// OR AND = == != <> < <= > >= IS "IS NOT" LIKE "NOT LIKE" GLOB "NOT GLOB"
// + - * / % || -> ->> & | << >>
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

func (*BinaryExpr) exprNode() {}

// UnaryExpr is a prefix operator: NOT, -, + or ~.
type UnaryExpr struct {
	Op      string
	Operand Expr
}

func (*UnaryExpr) exprNode() {}

// BetweenExpr is `Expr [NOT] BETWEEN Low AND High`.
type BetweenExpr struct {
	Expr Expr
	Not  bool
	Low  Expr
	High Expr
}

func (*BetweenExpr) exprNode() {}

// InExpr is `Expr [NOT] IN (list)` or `Expr [NOT] IN (subquery)`.
type InExpr struct {
	Expr     Expr
	Not      bool
	List     []Expr
	Subquery *SelectStatement
}

func (*InExpr) exprNode() {}

// WindowSpec is the OVER (...) clause of a window function call.
type WindowSpec struct {
	PartitionBy []Expr
	OrderBy     []*OrderingTerm
}

// FunctionCall is name(args) with optional DISTINCT, `*` and OVER.
type FunctionCall struct {
	Name     string
	Distinct bool
	Star     bool
	Args     []Expr
	Over     *WindowSpec
}

func (*FunctionCall) exprNode() {}

// CastExpr is CAST(Expr AS Type).
type CastExpr struct {
	Expr Expr
	Type string
}

func (*CastExpr) exprNode() {}

// WhenClause is one WHEN ... THEN ... branch.
type WhenClause struct {
	Condition Expr
	Result    Expr
}

// CaseExpr is CASE [Operand] WHEN ... THEN ... [ELSE ...] END.
type CaseExpr struct {
	Operand Expr
	Whens   []*WhenClause
	Else    Expr
}

func (*CaseExpr) exprNode() {}

// SubqueryExpr is a scalar subquery.
type SubqueryExpr struct {
	Select *SelectStatement
}

func (*SubqueryExpr) exprNode() {}

// ExistsExpr is [NOT] EXISTS (subquery).
type ExistsExpr struct {
	Not    bool
	Select *SelectStatement
}

func (*ExistsExpr) exprNode() {}

// CollateExpr is `Expr COLLATE name`.
type CollateExpr struct {
	Expr      Expr
	Collation string
}

func (*CollateExpr) exprNode() {}

// RowValue is a parenthesized expression list `(a, b, ...)`.
type RowValue struct {
	Items []Expr
}

func (*RowValue) exprNode() {}

// Assignment is one SET entry of UPDATE or ON CONFLICT DO UPDATE.
type Assignment struct {
	Column string
	Value  Expr
}

// OnConflict is the upsert clause of an INSERT.
type OnConflict struct {
	Target      []string
	TargetWhere Expr
	DoNothing   bool
	Set         []*Assignment
	Where       Expr
}

// InsertStatement is INSERT [OR x] INTO table [(cols)] VALUES ... | SELECT ... | DEFAULT VALUES.
type InsertStatement struct {
	With          *WithClause
	Or            string
	Table         *TableName
	Columns       []string
	Values        [][]Expr
	Select        *SelectStatement
	DefaultValues bool
	OnConflict    *OnConflict
}

func (*InsertStatement) statementNode() {}

// UpdateStatement is UPDATE [OR x] table SET ... [FROM ...] [WHERE ...].
type UpdateStatement struct {
	With  *WithClause
	Or    string
	Table *TableName
	Set   []*Assignment
	From  TableExpr
	Where Expr
}

func (*UpdateStatement) statementNode() {}

// DeleteStatement is DELETE FROM table [WHERE ...].
type DeleteStatement struct {
	With  *WithClause
	Table *TableName
	Where Expr
}

func (*DeleteStatement) statementNode() {}
