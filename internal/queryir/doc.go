// Package queryir provides a relational plan representation of SQL
// statements.
//
// ARCHITECTURE:
//
// The plan is the second consumer of the parsed AST, next to the SQL text
// compiler. Engines and tools that want structure instead of text use it:
//
//	[sqlparser] → [sqlast] → [sqlcompile]  (SQL text)
//	                       → [queryir]     → [querysql] (parameterized SQL)
//
// A query block lowers to a fixed operator stack:
//
//	With(Limit(Sort(SetOp(Project(Aggregate(Filter(<from>)))))))
//
// where every operator is present only when the statement uses it. FROM
// items become Scan, Derived, TableFunc and left-deep Join nodes.
//
// SEALED INTERFACES:
//
// Plan and Expr are sealed interfaces using the marker method pattern.
// Only types in this package implement them, so backends can switch
// exhaustively:
//
//	switch n := plan.(type) {
//	case *queryir.Scan:
//	    // Handle scan
//	case *queryir.Project:
//	    // Handle projection
//	default:
//	    panic("unhandled plan node")
//	}
//
// VALUES:
//
// Literal values carry ir.Value and are always bound as parameters by
// backends, never interpolated. Constants with no exact ir.Value form
// (reals, blobs, CURRENT_TIMESTAMP, ORDER BY ordinals) are Verbatim.
package queryir
