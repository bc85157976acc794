// Package sqlast defines the typed syntax tree for the SQL subset the
// preprocessor understands.
//
// Statement, TableExpr and Expr are sealed interfaces using the marker method
// pattern (same as queryir): only types in this package implement them, so
// the parser, the compiler and the rewriters can switch exhaustively over
// node kinds. An unknown node kind reaching a switch is a programming error
// and panics.
//
// Nodes are treated as immutable values once built. Rewriters never modify
// a node in place; they construct new nodes with the copy-and-set helpers in
// builders.go (WithWhere, WithFrom, AndWhere, ...) and the generic
// TransformExpr / TransformSelect walkers in walk.go.
//
// Identifier names are stored unquoted. Whether an identifier needs quoting
// on output is decided by NeedsQuote, which consults the reserved word list.
package sqlast
