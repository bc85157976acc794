package queryir

import (
	"fmt"

	"github.com/roach88/lix/internal/ir"
)

// ValidationResult contains the structural analysis of a plan.
type ValidationResult struct {
	// IsValid indicates the plan has no structural problems.
	IsValid bool

	// Warnings lists every problem found, in traversal order.
	// Empty when IsValid is true.
	Warnings []string
}

// Validate checks a plan for mistakes SQLite would either reject late or
// silently accept with surprising results:
//  1. Nil plan or expression nodes
//  2. VALUES rows of differing width, INSERT column count mismatches
//  3. UPDATE without assignments
//  4. Compound arms projecting different column counts
//  5. Equality against a NULL literal (always unknown; use IS NULL)
//  6. RIGHT and FULL joins (need SQLite 3.39 or newer)
//
// Validate is a pure function with no side effects.
func Validate(p Plan) ValidationResult {
	v := &validator{
		warnings: []string{},
	}
	v.validatePlan(p)

	return ValidationResult{
		IsValid:  len(v.warnings) == 0,
		Warnings: v.warnings,
	}
}

// validator accumulates warnings during traversal.
type validator struct {
	warnings []string
}

func (v *validator) addWarning(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

func (v *validator) validatePlan(p Plan) {
	if p == nil {
		v.addWarning("nil plan node")
		return
	}

	switch n := p.(type) {
	case *Scan:
		if n.Table == "" {
			v.addWarning("scan without table name")
		}
	case *Derived:
		v.validatePlan(n.Input)
	case *TableFunc:
		v.validateExprs(n.Args)
	case *Join:
		v.validateJoin(n)
	case *Filter:
		v.validateOptPlan(n.Input)
		v.validateExpr(n.Predicate)
	case *Aggregate:
		v.validateOptPlan(n.Input)
		v.validateExprs(n.GroupBy)
		v.validateOptExpr(n.Having)
	case *Project:
		v.validateOptPlan(n.Input)
		if len(n.Columns) == 0 {
			v.addWarning("projection without columns")
		}
		for _, c := range n.Columns {
			if !c.Star {
				v.validateExpr(c.Expr)
			}
		}
	case *Sort:
		v.validatePlan(n.Input)
		v.validateSortKeys(n.Keys)
	case *Limit:
		v.validatePlan(n.Input)
		v.validateOptExpr(n.Count)
		v.validateOptExpr(n.Offset)
	case *SetOp:
		v.validatePlan(n.Left)
		v.validatePlan(n.Right)
		l, lok := Width(n.Left)
		r, rok := Width(n.Right)
		if lok && rok && l != r {
			v.addWarning("%s arms project %d and %d columns", n.Op, l, r)
		}
	case *With:
		for _, cte := range n.CTEs {
			v.validatePlan(cte.Plan)
			if w, ok := Width(cte.Plan); ok && len(cte.Columns) > 0 && w != len(cte.Columns) {
				v.addWarning("CTE %s declares %d columns but its query projects %d", cte.Name, len(cte.Columns), w)
			}
		}
		v.validatePlan(n.Body)
	case *Values:
		v.validateValues(n)
	case *Insert:
		v.validateInsert(n)
	case *Update:
		if len(n.Set) == 0 {
			v.addWarning("update of %s has no assignments", scanName(n.Table))
		}
		for _, a := range n.Set {
			v.validateExpr(a.Value)
		}
		v.validateOptPlan(n.From)
		v.validateOptExpr(n.Where)
	case *Delete:
		v.validateOptExpr(n.Where)
	case *Raw:
	default:
		v.addWarning("unknown plan type: %T", p)
	}
}

func (v *validator) validateOptPlan(p Plan) {
	if p != nil {
		v.validatePlan(p)
	}
}

func (v *validator) validateJoin(j *Join) {
	v.validatePlan(j.Left)
	v.validatePlan(j.Right)
	if j.Kind == JoinRight || j.Kind == JoinFull {
		v.addWarning("%s requires SQLite 3.39 or newer", j.Kind)
	}
	if j.On == nil && len(j.Using) == 0 && j.Kind.IsOuter() {
		v.addWarning("%s without ON or USING", j.Kind)
	}
	v.validateOptExpr(j.On)
}

func (v *validator) validateValues(vals *Values) {
	if len(vals.Rows) == 0 {
		v.addWarning("VALUES without rows")
		return
	}
	width := len(vals.Rows[0])
	for i, row := range vals.Rows {
		if len(row) != width {
			v.addWarning("VALUES row %d has %d columns, expected %d", i+1, len(row), width)
		}
		v.validateExprs(row)
	}
}

func (v *validator) validateInsert(ins *Insert) {
	if ins.Source == nil {
		return
	}
	v.validatePlan(ins.Source)
	if w, ok := Width(ins.Source); ok && len(ins.Columns) > 0 && w != len(ins.Columns) {
		v.addWarning("insert into %s names %d columns but supplies %d values", scanName(ins.Table), len(ins.Columns), w)
	}
	if oc := ins.OnConflict; oc != nil {
		if !oc.DoNothing && len(oc.Set) == 0 {
			v.addWarning("ON CONFLICT DO UPDATE without assignments")
		}
		for _, a := range oc.Set {
			v.validateExpr(a.Value)
		}
		v.validateOptExpr(oc.Where)
	}
}

func (v *validator) validateSortKeys(keys []SortKey) {
	for _, k := range keys {
		v.validateExpr(k.Expr)
	}
}

func (v *validator) validateExprs(list []Expr) {
	for _, e := range list {
		v.validateExpr(e)
	}
}

func (v *validator) validateOptExpr(e Expr) {
	if e != nil {
		v.validateExpr(e)
	}
}

func (v *validator) validateExpr(e Expr) {
	if e == nil {
		v.addWarning("nil expression node")
		return
	}

	switch n := e.(type) {
	case *Literal, *Verbatim, *Param, *ColumnRef, *BoundEquals:
	case *Equals:
		if _, isNull := n.Value.(ir.Null); isNull {
			v.addWarning("field '%s' compared to NULL - use IS NULL", n.Field)
		}
	case *And:
		v.validateExprs(n.Predicates)
	case *Or:
		v.validateExprs(n.Predicates)
	case *Not:
		v.validateExpr(n.Operand)
	case *Binary:
		v.validateExpr(n.Left)
		v.validateExpr(n.Right)
	case *Unary:
		v.validateExpr(n.Operand)
	case *Between:
		v.validateExpr(n.Expr)
		v.validateExpr(n.Low)
		v.validateExpr(n.High)
	case *In:
		v.validateExpr(n.Expr)
		v.validateExprs(n.List)
		v.validateOptPlan(n.Subquery)
	case *Exists:
		v.validatePlan(n.Query)
	case *Call:
		v.validateExprs(n.Args)
		if n.Over != nil {
			v.validateExprs(n.Over.PartitionBy)
			v.validateSortKeys(n.Over.OrderBy)
		}
	case *Cast:
		v.validateExpr(n.Expr)
	case *Case:
		v.validateOptExpr(n.Operand)
		for _, w := range n.Whens {
			v.validateExpr(w.Condition)
			v.validateExpr(w.Result)
		}
		v.validateOptExpr(n.Else)
	case *Subquery:
		v.validatePlan(n.Query)
	case *Collate:
		v.validateExpr(n.Expr)
	case *Row:
		v.validateExprs(n.Items)
	default:
		v.addWarning("unknown expression type: %T", e)
	}
}

// Width returns the number of columns a query plan produces, when it can be
// known without a catalog (no star projections, no bare scans).
func Width(p Plan) (int, bool) {
	switch n := p.(type) {
	case *Project:
		for _, c := range n.Columns {
			if c.Star {
				return 0, false
			}
		}
		return len(n.Columns), true
	case *Values:
		if len(n.Rows) == 0 {
			return 0, false
		}
		return len(n.Rows[0]), true
	case *Sort:
		return Width(n.Input)
	case *Limit:
		return Width(n.Input)
	case *SetOp:
		return Width(n.Left)
	case *With:
		return Width(n.Body)
	default:
		return 0, false
	}
}

func scanName(s *Scan) string {
	if s == nil {
		return "<nil>"
	}
	return s.Table
}
