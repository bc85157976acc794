package shape

import (
	"fmt"
	"strings"

	"github.com/roach88/lix/internal/sqlast"
)

// VtableName is the virtual relation that unions every state source.
const VtableName = "internal_state_vtable"

// Columns are the columns the virtual relation exposes, in order.
var Columns = []string{
	"entity_id",
	"schema_key",
	"file_id",
	"version_id",
	"plugin_key",
	"schema_version",
	"snapshot_content",
	"created_at",
	"updated_at",
	"change_id",
	"commit_id",
	"inherited_from_version_id",
	"untracked",
	"writer_key",
	"metadata",
	"_pk",
}

// ValueKind classifies a value a filter compares against.
type ValueKind int

const (
	// Literal is a string constant.
	Literal ValueKind = iota
	// Placeholder is a statement parameter, identified by its token.
	Placeholder
	// Current is the active version, resolved by the database.
	Current
)

func (k ValueKind) String() string {
	switch k {
	case Literal:
		return "literal"
	case Placeholder:
		return "placeholder"
	case Current:
		return "current"
	default:
		return fmt.Sprintf("ValueKind(%d)", int(k))
	}
}

// Value is one value a column is constrained to.
type Value struct {
	Kind ValueKind `json:"kind"`
	// Literal holds the string of a Literal.
	Literal string `json:"value,omitempty"`
	// Token holds the parameter name of a Placeholder, e.g. "?2" or ":id".
	Token string `json:"token,omitempty"`
}

// VersionKind classifies the version constraint of a reference.
type VersionKind int

const (
	VersionUnknown VersionKind = iota
	VersionLiteral
	VersionPlaceholder
	VersionCurrent
)

func (k VersionKind) String() string {
	switch k {
	case VersionLiteral:
		return "literal"
	case VersionPlaceholder:
		return "placeholder"
	case VersionCurrent:
		return "current"
	default:
		return "unknown"
	}
}

// VersionID is the version constraint of a reference. Values is empty when
// Kind is VersionUnknown.
type VersionID struct {
	Kind   VersionKind `json:"kind"`
	Values []Value     `json:"values,omitempty"`
}

// Table identifies the reference by the name its columns are qualified with.
type Table struct {
	Alias string `json:"alias"`
}

// Shape describes how one reference to the virtual relation is used.
type Shape struct {
	Table Table `json:"table"`

	// SchemaKeys and EntityIDs list the values the column is constrained
	// to. Nil means unconstrained.
	SchemaKeys []Value `json:"schemaKeys"`
	EntityIDs  []Value `json:"entityIds"`

	VersionID VersionID `json:"versionId"`

	// ReferencesPrimaryKey is set when the hidden _pk column is used.
	ReferencesPrimaryKey bool `json:"referencesPrimaryKey"`

	// SelectedColumns lists the projected columns of the reference. Nil
	// means every column (a star projection).
	SelectedColumns []string `json:"selectedColumns"`
}

// UnsupportedShapeError reports a reference the analyzer cannot classify.
// Rewriters leave such statements unchanged.
type UnsupportedShapeError struct {
	Alias  string
	Reason string
}

func (e *UnsupportedShapeError) Error() string {
	if e.Alias == "" {
		return fmt.Sprintf("UNSUPPORTED_SHAPE: %s", e.Reason)
	}
	return fmt.Sprintf("UNSUPPORTED_SHAPE: %s: %s", e.Alias, e.Reason)
}

// IsVtable reports whether t names the virtual relation.
func IsVtable(t *sqlast.TableName) bool {
	if t == nil || !strings.EqualFold(t.Name, VtableName) {
		return false
	}
	return t.Schema == "" || strings.EqualFold(t.Schema, "main") || strings.EqualFold(t.Schema, "temp")
}

// IsColumn reports whether name is a column of the virtual relation.
func IsColumn(name string) bool {
	for _, c := range Columns {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// References reports whether node reads or writes the virtual relation
// anywhere, including subqueries and CTE bodies.
func References(node any) bool {
	found := false
	sqlast.Inspect(node, func(n any) bool {
		switch n := n.(type) {
		case *sqlast.TableName:
			found = found || IsVtable(n)
		case *sqlast.TableFunction:
			found = found || strings.EqualFold(n.Name, VtableName)
		}
		return !found
	})
	return found
}
