package entityview

import (
	"fmt"
	"strings"

	"github.com/roach88/lix/internal/sqlast"
)

// maxExpansionDepth bounds nested view expansion.
const maxExpansionDepth = 8

// Expand replaces every read of a view in st with its definition as a
// derived table under the same reference name. views maps view names to
// their definitions; names are matched case-insensitively. A name bound
// by a CTE of st is left alone.
//
// Expand reports whether anything was replaced.
func Expand(st sqlast.Statement, views map[string]*sqlast.SelectStatement) (sqlast.Statement, bool, error) {
	if len(views) == 0 {
		return st, false, nil
	}
	lookup := make(map[string]*sqlast.SelectStatement, len(views))
	for name, sel := range views {
		lookup[strings.ToLower(name)] = sel
	}
	shadowed := cteNames(st)

	expanded := false
	for depth := 0; ; depth++ {
		replaced := false
		st = sqlast.RewriteStatement(st, sqlast.Rewriter{Table: func(t sqlast.TableExpr) sqlast.TableExpr {
			tn, ok := t.(*sqlast.TableName)
			if !ok || (tn.Schema != "" && !strings.EqualFold(tn.Schema, "main")) {
				return t
			}
			name := strings.ToLower(tn.Name)
			sel, ok := lookup[name]
			if !ok || shadowed[name] {
				return t
			}
			replaced = true
			return &sqlast.SubqueryTable{Select: sel, Alias: tn.RefName()}
		}})
		if !replaced {
			return st, expanded, nil
		}
		expanded = true
		if depth == maxExpansionDepth {
			return nil, false, fmt.Errorf("expand views: nesting deeper than %d", maxExpansionDepth)
		}
	}
}

// cteNames collects the lower-cased names bound by any WITH clause of st.
func cteNames(st sqlast.Statement) map[string]bool {
	names := map[string]bool{}
	add := func(w *sqlast.WithClause) {
		if w == nil {
			return
		}
		for _, cte := range w.CTEs {
			names[strings.ToLower(cte.Name)] = true
		}
	}
	sqlast.Inspect(st, func(n any) bool {
		switch n := n.(type) {
		case *sqlast.SelectStatement:
			add(n.With)
		case *sqlast.InsertStatement:
			add(n.With)
		case *sqlast.UpdateStatement:
			add(n.With)
		case *sqlast.DeleteStatement:
			add(n.With)
		}
		return true
	})
	return names
}
