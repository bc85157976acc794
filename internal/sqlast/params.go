package sqlast

import (
	"strconv"
	"strings"
)

// NumberParameters rewrites anonymous `?` parameters of st into explicit
// `?N` form using SQLite's numbering: an anonymous parameter takes the
// largest index seen so far plus one, and named parameters take the next
// index on first use. Numbered parameters may then be repeated by
// rewriters without changing which argument they bind to.
//
// changed reports whether any parameter was renamed; when false st is
// returned as is.
func NumberParameters(st Statement) (out Statement, changed bool) {
	if _, ok := st.(*RawFragment); ok {
		return st, false
	}
	anonymous := false
	Inspect(st, func(n any) bool {
		if p, ok := n.(*Parameter); ok && p.Name == "?" {
			anonymous = true
		}
		return !anonymous
	})
	if !anonymous {
		return st, false
	}

	max := 0
	named := map[string]int{}
	out = RewriteStatement(st, Rewriter{Expr: func(e Expr) Expr {
		p, ok := e.(*Parameter)
		if !ok {
			return e
		}
		switch {
		case p.Name == "?":
			max++
			return &Parameter{Name: "?" + strconv.Itoa(max)}
		case strings.HasPrefix(p.Name, "?"):
			if n, err := strconv.Atoi(p.Name[1:]); err == nil && n > max {
				max = n
			}
		default:
			if _, seen := named[p.Name]; !seen {
				max++
				named[p.Name] = max
			}
		}
		return e
	}})
	return out, true
}

// ParameterCount returns the number of arguments st binds, following the
// same numbering rules as NumberParameters.
func ParameterCount(st Statement) int {
	max := 0
	named := map[string]struct{}{}
	Inspect(st, func(n any) bool {
		p, ok := n.(*Parameter)
		if !ok {
			return true
		}
		switch {
		case p.Name == "?":
			max++
		case strings.HasPrefix(p.Name, "?"):
			if n, err := strconv.Atoi(p.Name[1:]); err == nil && n > max {
				max = n
			}
		default:
			if _, seen := named[p.Name]; !seen {
				max++
				named[p.Name] = struct{}{}
			}
		}
		return true
	})
	return max
}
