package shape

import (
	"strings"

	"github.com/roach88/lix/internal/sqlast"
)

// Analyze returns a Shape for every reference to the virtual relation in a
// FROM clause of st, in source order. Nested selects, compound arms and
// CTE bodies are included.
//
// Only a top-level AND chain in the WHERE clause of the select that holds
// the reference narrows a shape. OR, NOT and nested conditions leave the
// columns they mention unconstrained.
func Analyze(st sqlast.Statement) ([]Shape, error) {
	var (
		shapes []Shape
		err    error
	)
	sqlast.Inspect(st, func(n any) bool {
		if err != nil {
			return false
		}
		switch n := n.(type) {
		case *sqlast.TableFunction:
			if strings.EqualFold(n.Name, VtableName) {
				err = &UnsupportedShapeError{Alias: n.Alias, Reason: "table-valued call of the state relation"}
			}
		case *sqlast.SelectCore:
			var found []Shape
			found, err = analyzeCore(n)
			shapes = append(shapes, found...)
		}
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return shapes, nil
}

func analyzeCore(core *sqlast.SelectCore) ([]Shape, error) {
	var refs []*sqlast.TableName
	relations := 0
	flattenFrom(core.From, func(t sqlast.TableExpr) {
		relations++
		if tn, ok := t.(*sqlast.TableName); ok && IsVtable(tn) {
			refs = append(refs, tn)
		}
	})
	if len(refs) == 0 {
		return nil, nil
	}

	var out []Shape
	for _, ref := range refs {
		a := &analyzer{alias: ref.RefName(), sole: relations == 1}
		if err := a.checkColumns(core); err != nil {
			return nil, err
		}
		s := Shape{Table: Table{Alias: a.alias}}
		s.SelectedColumns = a.selectedColumns(core)
		s.ReferencesPrimaryKey = a.referencesPK(core)
		a.narrow(core.Where, &s)
		out = append(out, s)
	}
	return out, nil
}

// flattenFrom calls fn for every relation of a join tree. Subquery
// relations are leaves; their own selects are analyzed separately.
func flattenFrom(t sqlast.TableExpr, fn func(sqlast.TableExpr)) {
	switch n := t.(type) {
	case nil:
	case *sqlast.JoinExpr:
		flattenFrom(n.Left, fn)
		flattenFrom(n.Right, fn)
	default:
		fn(n)
	}
}

type analyzer struct {
	alias string
	// sole is set when the reference is the only relation, so unqualified
	// columns belong to it.
	sole bool
}

func (a *analyzer) owns(c *sqlast.ColumnRef) bool {
	if c.Table == "" {
		return a.sole
	}
	return strings.EqualFold(c.Table, a.alias)
}

// checkColumns rejects qualified references to columns the relation does
// not have.
func (a *analyzer) checkColumns(core *sqlast.SelectCore) error {
	var err error
	sqlast.Inspect(core, func(n any) bool {
		c, ok := n.(*sqlast.ColumnRef)
		if ok && err == nil && c.Table != "" && strings.EqualFold(c.Table, a.alias) && !IsColumn(c.Column) {
			err = &UnsupportedShapeError{Alias: a.alias, Reason: "unknown column " + c.Column}
		}
		return err == nil
	})
	return err
}

func (a *analyzer) selectedColumns(core *sqlast.SelectCore) []string {
	cols := []string{}
	seen := map[string]bool{}
	for _, rc := range core.Columns {
		if rc.Star && (rc.Table == "" || strings.EqualFold(rc.Table, a.alias)) {
			return nil
		}
		sqlast.Inspect(rc.Expr, func(n any) bool {
			if c, ok := n.(*sqlast.ColumnRef); ok && a.owns(c) && !seen[strings.ToLower(c.Column)] {
				seen[strings.ToLower(c.Column)] = true
				cols = append(cols, strings.ToLower(c.Column))
			}
			return true
		})
	}
	return cols
}

func (a *analyzer) referencesPK(core *sqlast.SelectCore) bool {
	found := false
	sqlast.Inspect(core, func(n any) bool {
		if c, ok := n.(*sqlast.ColumnRef); ok && a.owns(c) && strings.EqualFold(c.Column, "_pk") {
			found = true
		}
		return !found
	})
	return found
}

// narrow applies the first usable constraint per column. Every conjunct of
// a top-level AND chain is implied by the WHERE clause, so any one of them
// is a safe filter.
func (a *analyzer) narrow(where sqlast.Expr, s *Shape) {
	for _, conj := range sqlast.Conjuncts(where) {
		col, values, current := a.constraint(conj)
		if col == "" {
			continue
		}
		switch col {
		case "schema_key":
			if s.SchemaKeys == nil && !current {
				s.SchemaKeys = values
			}
		case "entity_id":
			if s.EntityIDs == nil && !current {
				s.EntityIDs = values
			}
		case "version_id":
			if s.VersionID.Kind != VersionUnknown {
				continue
			}
			switch {
			case current:
				s.VersionID = VersionID{Kind: VersionCurrent, Values: []Value{{Kind: Current}}}
			case allKind(values, Literal):
				s.VersionID = VersionID{Kind: VersionLiteral, Values: values}
			default:
				s.VersionID = VersionID{Kind: VersionPlaceholder, Values: values}
			}
		}
	}
}

// constraint matches `col = value`, `value = col` and `col IN (values)`.
func (a *analyzer) constraint(e sqlast.Expr) (col string, values []Value, current bool) {
	switch n := e.(type) {
	case *sqlast.BinaryExpr:
		if n.Op != "=" && n.Op != "==" {
			return "", nil, false
		}
		c, other := a.filterColumn(n.Left), n.Right
		if c == "" {
			c, other = a.filterColumn(n.Right), n.Left
		}
		if c == "" {
			return "", nil, false
		}
		if c == "version_id" && isActiveVersion(other) {
			return c, nil, true
		}
		if v, ok := value(other); ok {
			return c, []Value{v}, false
		}
	case *sqlast.InExpr:
		if n.Not || n.Subquery != nil || len(n.List) == 0 {
			return "", nil, false
		}
		c := a.filterColumn(n.Expr)
		if c == "" {
			return "", nil, false
		}
		for _, item := range n.List {
			v, ok := value(item)
			if !ok {
				return "", nil, false
			}
			values = append(values, v)
		}
		return c, values, false
	}
	return "", nil, false
}

func (a *analyzer) filterColumn(e sqlast.Expr) string {
	c, ok := e.(*sqlast.ColumnRef)
	if !ok || !a.owns(c) {
		return ""
	}
	switch name := strings.ToLower(c.Column); name {
	case "schema_key", "entity_id", "version_id":
		return name
	}
	return ""
}

func value(e sqlast.Expr) (Value, bool) {
	switch n := e.(type) {
	case *sqlast.Literal:
		if n.Kind == sqlast.LiteralString {
			return Value{Kind: Literal, Literal: n.Value}, true
		}
	case *sqlast.Parameter:
		return Value{Kind: Placeholder, Token: n.Name}, true
	}
	return Value{}, false
}

// isActiveVersion matches (SELECT version_id FROM active_version).
func isActiveVersion(e sqlast.Expr) bool {
	sub, ok := e.(*sqlast.SubqueryExpr)
	if !ok || sub.Select == nil || sub.Select.IsCompound() || sub.Select.With != nil {
		return false
	}
	core := sub.Select.Core
	if core == nil || core.Where != nil || len(core.Columns) != 1 || core.Columns[0].Star {
		return false
	}
	col, ok := core.Columns[0].Expr.(*sqlast.ColumnRef)
	if !ok || !strings.EqualFold(col.Column, "version_id") {
		return false
	}
	t, ok := core.From.(*sqlast.TableName)
	if !ok {
		return false
	}
	return strings.EqualFold(t.Name, "active_version") || strings.EqualFold(t.Name, "internal_active_version")
}

func allKind(values []Value, k ValueKind) bool {
	for _, v := range values {
		if v.Kind != k {
			return false
		}
	}
	return true
}
