package vtable

import (
	"fmt"
	"strings"

	"github.com/roach88/lix/internal/shape"
	"github.com/roach88/lix/internal/sqlast"
	"github.com/roach88/lix/internal/sqlparser"
	"github.com/roach88/lix/internal/store"
)

// Options configure a rewrite.
type Options struct {
	// CacheTables maps schema keys to their cache table, as returned by
	// store.CacheTables.
	CacheTables map[string]string

	// IncludeTransaction adds the session's transaction buffer as the
	// highest priority source. The commit engine turns it off to read the
	// committed baseline.
	IncludeTransaction bool
}

// Report describes what a rewrite did.
type Report struct {
	Shapes []shape.Shape   `json:"shapes"`
	Filter *shape.Filter   `json:"filter"`
	Tables []string        `json:"cacheTables"`
	Joins  map[string]bool `json:"joins"`
}

// Rewrite replaces every read of the virtual relation in st with a CTE
// that resolves the effective state row per identity. Statements that do
// not read the relation are returned unchanged with a nil report.
//
// The target of an UPDATE or DELETE is never rewritten; use RewriteWrite
// for writes to the relation.
func Rewrite(st sqlast.Statement, opts Options) (sqlast.Statement, *Report, error) {
	if !readsVtable(st) {
		return st, nil, nil
	}
	st, _ = sqlast.NumberParameters(st)

	shapes, err := shape.Analyze(st)
	if err != nil {
		return nil, nil, err
	}

	rel := &relation{
		filter:             shape.Merge(shapes),
		includeTransaction: opts.IncludeTransaction,
	}
	rel.cacheTables = routeCacheTables(opts.CacheTables, rel.filter)
	rel.joinWriter = projects(st, shapes, "writer_key")
	rel.joinMetadata = projects(st, shapes, "metadata")

	ctes, err := rel.ctes()
	if err != nil {
		return nil, nil, err
	}

	out := sqlast.RewriteStatement(st, sqlast.Rewriter{Table: func(t sqlast.TableExpr) sqlast.TableExpr {
		tn, ok := t.(*sqlast.TableName)
		if !ok || !shape.IsVtable(tn) {
			return t
		}
		return &sqlast.TableName{Name: RelationName, Alias: tn.RefName()}
	}})
	out = withCTEs(out, ctes)

	report := &Report{
		Shapes: shapes,
		Filter: rel.filter,
		Tables: rel.cacheTables,
		Joins:  map[string]bool{"writer": rel.joinWriter, "metadata": rel.joinMetadata},
	}
	return out, report, nil
}

// readsVtable reports whether st reads the relation somewhere other than
// as the target of an UPDATE or DELETE.
func readsVtable(st sqlast.Statement) bool {
	var target *sqlast.TableName
	switch n := st.(type) {
	case *sqlast.UpdateStatement:
		target = n.Table
	case *sqlast.DeleteStatement:
		target = n.Table
	case *sqlast.InsertStatement:
		target = n.Table
	}
	found := false
	sqlast.Inspect(st, func(n any) bool {
		switch n := n.(type) {
		case *sqlast.TableName:
			if n != target && shape.IsVtable(n) {
				found = true
			}
		case *sqlast.TableFunction:
			if strings.EqualFold(n.Name, shape.VtableName) {
				found = true
			}
		}
		return !found
	})
	return found
}

// routeCacheTables returns the cache tables that can hold rows matching f.
// Literal schema keys limit the union to their own tables.
func routeCacheTables(tables map[string]string, f *shape.Filter) []string {
	if f != nil && f.SchemaKeys != nil {
		if keys, ok := shape.Literals(f.SchemaKeys); ok {
			picked := map[string]string{}
			for _, k := range keys {
				if table, ok := tables[k]; ok {
					picked[k] = table
				}
			}
			return store.SortedTables(picked)
		}
	}
	return store.SortedTables(tables)
}

// projects reports whether column can reach the output of st: a star
// projection, or any mention of the column name.
func projects(st sqlast.Statement, shapes []shape.Shape, column string) bool {
	for _, s := range shapes {
		if s.SelectedColumns == nil {
			return true
		}
	}
	found := false
	sqlast.Inspect(st, func(n any) bool {
		if c, ok := n.(*sqlast.ColumnRef); ok && strings.EqualFold(c.Column, column) {
			found = true
		}
		return !found
	})
	return found
}

func (r *relation) ctes() ([]*sqlast.CommonTableExpr, error) {
	sel, err := sqlparser.ParseSelect("WITH RECURSIVE " + r.sql() + " SELECT 1")
	if err != nil {
		return nil, fmt.Errorf("build state relation: %w", err)
	}
	return sel.With.CTEs, nil
}

// withCTEs prepends ctes to the statement's WITH clause.
func withCTEs(st sqlast.Statement, ctes []*sqlast.CommonTableExpr) sqlast.Statement {
	switch n := st.(type) {
	case *sqlast.SelectStatement:
		return n.WithWith(sqlast.PrependCTEs(n.With, true, ctes...))
	case *sqlast.InsertStatement:
		cp := *n
		cp.With = sqlast.PrependCTEs(n.With, true, ctes...)
		return &cp
	case *sqlast.UpdateStatement:
		cp := *n
		cp.With = sqlast.PrependCTEs(n.With, true, ctes...)
		return &cp
	case *sqlast.DeleteStatement:
		cp := *n
		cp.With = sqlast.PrependCTEs(n.With, true, ctes...)
		return &cp
	default:
		return st
	}
}
