package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
)

// View variants a schema may expose.
const (
	ViewState        = "state"
	ViewStateAll     = "state_all"
	ViewStateHistory = "state_history"
)

// Lixcol names accepted in x-lix-override-lixcols.
const (
	LixcolFileID    = "lixcol_file_id"
	LixcolPluginKey = "lixcol_plugin_key"
	LixcolVersionID = "lixcol_version_id"
	LixcolUntracked = "lixcol_untracked"
	LixcolMetadata  = "lixcol_metadata"
)

// Definition is a parsed entity schema: a JSON Schema document carrying
// x-lix-* metadata.
type Definition struct {
	// Key is x-lix-key, the schema's unique id and entity view name.
	Key string

	// Version is x-lix-version, stored as each change's schema_version.
	Version string

	// PrimaryKey lists the JSON pointers (x-lix-primary-key) whose values
	// form the entity id, joined with "~" when there are several.
	PrimaryKey []string

	// OverrideLixcols maps lixcol names to SQL expressions used as
	// defaults by entity view inserts (x-lix-override-lixcols).
	OverrideLixcols map[string]string

	// EntityViews lists the view variants generated for the schema
	// (x-lix-entity-views). Nil means every variant.
	EntityViews []string

	// Properties are the top-level property names, sorted.
	Properties []string

	// Raw is the schema document as registered.
	Raw json.RawMessage

	structured map[string]bool
	booleans   map[string]bool

	mu        sync.Mutex
	validator cue.Value
}

type document struct {
	Key             string                     `json:"x-lix-key"`
	Version         string                     `json:"x-lix-version"`
	PrimaryKey      []string                   `json:"x-lix-primary-key"`
	OverrideLixcols map[string]string          `json:"x-lix-override-lixcols"`
	EntityViews     []string                   `json:"x-lix-entity-views"`
	Properties      map[string]json.RawMessage `json:"properties"`
}

// Parse reads a schema document and compiles its validator.
func Parse(raw []byte) (*Definition, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &DefinitionError{Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if doc.Key == "" {
		return nil, &DefinitionError{Message: "x-lix-key is required"}
	}
	if doc.Version == "" {
		return nil, &DefinitionError{Key: doc.Key, Message: "x-lix-version is required"}
	}
	if len(doc.PrimaryKey) == 0 {
		return nil, &DefinitionError{Key: doc.Key, Message: "x-lix-primary-key is required"}
	}
	for _, p := range doc.PrimaryKey {
		if !strings.HasPrefix(p, "/") || len(p) < 2 {
			return nil, &DefinitionError{Key: doc.Key, Message: fmt.Sprintf("primary key %q is not a JSON pointer", p)}
		}
	}
	for name := range doc.OverrideLixcols {
		switch name {
		case LixcolFileID, LixcolPluginKey, LixcolVersionID, LixcolUntracked, LixcolMetadata:
		default:
			return nil, &DefinitionError{Key: doc.Key, Message: fmt.Sprintf("unknown lixcol override %q", name)}
		}
	}
	for _, v := range doc.EntityViews {
		switch v {
		case ViewState, ViewStateAll, ViewStateHistory:
		default:
			return nil, &DefinitionError{Key: doc.Key, Message: fmt.Sprintf("unknown entity view %q", v)}
		}
	}

	props := make([]string, 0, len(doc.Properties))
	structured, booleans := map[string]bool{}, map[string]bool{}
	for name, prop := range doc.Properties {
		props = append(props, name)
		types := propertyTypes(prop)
		switch {
		case onlyTypes(types, "object", "array"):
			structured[name] = true
		case onlyTypes(types, "boolean"):
			booleans[name] = true
		}
	}
	sort.Strings(props)

	validator, err := compileValidator(raw)
	if err != nil {
		return nil, &DefinitionError{Key: doc.Key, Message: err.Error()}
	}

	return &Definition{
		Key:             doc.Key,
		Version:         doc.Version,
		PrimaryKey:      doc.PrimaryKey,
		OverrideLixcols: doc.OverrideLixcols,
		EntityViews:     doc.EntityViews,
		Properties:      props,
		Raw:             json.RawMessage(raw),
		structured:      structured,
		booleans:        booleans,
		validator:       validator,
	}, nil
}

// HasView reports whether the schema generates the given view variant.
func (d *Definition) HasView(variant string) bool {
	if d.EntityViews == nil {
		return true
	}
	for _, v := range d.EntityViews {
		if v == variant {
			return true
		}
	}
	return false
}

// HasProperty reports whether name is a top-level property.
func (d *Definition) HasProperty(name string) bool {
	i := sort.SearchStrings(d.Properties, name)
	return i < len(d.Properties) && d.Properties[i] == name
}

// IsStructured reports whether a property holds an object or array, so
// SQL values bound to it are JSON text to embed rather than strings.
func (d *Definition) IsStructured(name string) bool {
	return d.structured[name]
}

// IsBoolean reports whether a property holds a JSON boolean. SQL has no
// boolean type, so writes convert 0 and 1.
func (d *Definition) IsBoolean(name string) bool {
	return d.booleans[name]
}

// propertyTypes returns the "type" keyword of a property schema as a list.
func propertyTypes(prop json.RawMessage) []string {
	var p struct {
		Type json.RawMessage `json:"type"`
	}
	if json.Unmarshal(prop, &p) != nil || len(p.Type) == 0 {
		return nil
	}
	var one string
	if json.Unmarshal(p.Type, &one) == nil {
		return []string{one}
	}
	var many []string
	if json.Unmarshal(p.Type, &many) != nil {
		return nil
	}
	return many
}

// onlyTypes reports whether types is non-empty and, ignoring "null",
// holds nothing but allowed.
func onlyTypes(types []string, allowed ...string) bool {
	found := false
	for _, t := range types {
		if t == "null" {
			continue
		}
		ok := false
		for _, a := range allowed {
			ok = ok || t == a
		}
		if !ok {
			return false
		}
		found = true
	}
	return found
}

// Override returns the SQL expression pinned for a lixcol, if any.
func (d *Definition) Override(lixcol string) (string, bool) {
	expr, ok := d.OverrideLixcols[lixcol]
	return expr, ok
}

// JSONPath converts a JSON pointer to the path syntax of SQLite's JSON
// functions: "/a/b" -> "$.a.b".
func JSONPath(pointer string) string {
	parts := strings.Split(strings.TrimPrefix(pointer, "/"), "/")
	var b strings.Builder
	b.WriteString("$")
	for _, p := range parts {
		p = strings.ReplaceAll(strings.ReplaceAll(p, "~1", "/"), "~0", "~")
		b.WriteString(".")
		if needsPathQuote(p) {
			b.WriteString(`"` + p + `"`)
		} else {
			b.WriteString(p)
		}
	}
	return b.String()
}

// PropertyPath is the JSON path of a top-level property.
func PropertyPath(name string) string {
	return JSONPath("/" + name)
}

func needsPathQuote(s string) bool {
	if s == "" {
		return true
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return true
		}
	}
	return false
}
