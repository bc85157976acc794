package sqlcompile

import "github.com/roach88/lix/internal/sqlast"

// Binding strength, loosest first. Mirrors the parser's grammar levels.
const (
	precOr = iota + 1
	precAnd
	precNot
	precEquality // = == != <> IS IN LIKE GLOB BETWEEN
	precComparison
	precBitwise
	precAdditive
	precMultiplicative
	precConcat // || -> ->>
	precUnary
	precCollate
	precPrimary
)

func binaryPrecedence(op string) int {
	switch op {
	case "OR":
		return precOr
	case "AND":
		return precAnd
	case "=", "==", "!=", "<>", "IS", "IS NOT", "LIKE", "NOT LIKE", "GLOB", "NOT GLOB":
		return precEquality
	case "<", "<=", ">", ">=":
		return precComparison
	case "&", "|", "<<", ">>":
		return precBitwise
	case "+", "-":
		return precAdditive
	case "*", "/", "%":
		return precMultiplicative
	case "||", "->", "->>":
		return precConcat
	default:
		panic("sqlcompile: unknown binary operator " + op)
	}
}

// Precedence returns how tightly e binds. Atoms bind tightest.
func Precedence(e sqlast.Expr) int {
	switch x := e.(type) {
	case *sqlast.BinaryExpr:
		return binaryPrecedence(x.Op)
	case *sqlast.UnaryExpr:
		if x.Op == "NOT" {
			return precNot
		}
		return precUnary
	case *sqlast.BetweenExpr, *sqlast.InExpr:
		return precEquality
	case *sqlast.CollateExpr:
		return precCollate
	default:
		return precPrimary
	}
}
