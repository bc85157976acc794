package shape

// Filter is the combined constraint of every reference in a statement.
// A nil field is unconstrained. Versions may hold Current values.
type Filter struct {
	SchemaKeys []Value `json:"schemaKeys"`
	EntityIDs  []Value `json:"entityIds"`
	Versions   []Value `json:"versions"`
}

// Merge unions the shapes of one statement so a single relation can serve
// every reference. A dimension is constrained only when every shape
// constrains it.
//
// Merge returns nil when nothing can be narrowed: no shapes, no
// dimension constrained by all of them, or an anonymous "?" placeholder,
// which cannot be referenced a second time without shifting the
// arguments of later parameters.
func Merge(shapes []Shape) *Filter {
	if len(shapes) == 0 {
		return nil
	}
	f := &Filter{}
	schemaOK, entityOK, versionOK := true, true, true
	for _, s := range shapes {
		if s.SchemaKeys == nil {
			schemaOK = false
		}
		if s.EntityIDs == nil {
			entityOK = false
		}
		if s.VersionID.Kind == VersionUnknown {
			versionOK = false
		}
	}
	for _, s := range shapes {
		if schemaOK {
			f.SchemaKeys = union(f.SchemaKeys, s.SchemaKeys)
		}
		if entityOK {
			f.EntityIDs = union(f.EntityIDs, s.EntityIDs)
		}
		if versionOK {
			f.Versions = union(f.Versions, s.VersionID.Values)
		}
	}
	for _, vs := range [][]Value{f.SchemaKeys, f.EntityIDs, f.Versions} {
		for _, v := range vs {
			if v.Kind == Placeholder && v.Token == "?" {
				return nil
			}
		}
	}
	if f.SchemaKeys == nil && f.EntityIDs == nil && f.Versions == nil {
		return nil
	}
	return f
}

func union(dst, src []Value) []Value {
	if dst == nil {
		dst = []Value{}
	}
outer:
	for _, v := range src {
		for _, d := range dst {
			if d == v {
				continue outer
			}
		}
		dst = append(dst, v)
	}
	return dst
}

// Literals returns the literal strings of values and whether every value
// is a literal.
func Literals(values []Value) ([]string, bool) {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v.Kind != Literal {
			return nil, false
		}
		out = append(out, v.Literal)
	}
	return out, true
}
