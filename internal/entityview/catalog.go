package entityview

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/lix/internal/ir"
	"github.com/roach88/lix/internal/schema"
	"github.com/roach88/lix/internal/shape"
	"github.com/roach88/lix/internal/sqlast"
	"github.com/roach88/lix/internal/sqlparser"
	"github.com/roach88/lix/internal/store"
)

// Variant identifies the kind of a view.
type Variant int

const (
	// Base is <key>: the active version only.
	Base Variant = iota
	// All is <key>_all: every version.
	All
	// History is <key>_history: the change log.
	History
	// State is the generic state view over the active version.
	State
	// StateAll is the generic state view over every version.
	StateAll
	// StateHistory is the generic change log view.
	StateHistory
)

func (v Variant) String() string {
	switch v {
	case Base:
		return "base"
	case All:
		return "all"
	case History:
		return "history"
	case State:
		return "state"
	case StateAll:
		return "state_all"
	case StateHistory:
		return "state_history"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// Writable reports whether DML on the variant can be translated.
func (v Variant) Writable() bool {
	return v != History && v != StateHistory
}

// View is one named view.
type View struct {
	Name    string
	Variant Variant
	// Schema is nil for the generic state views.
	Schema *schema.Definition
	// Select is the view's definition over the state relation.
	Select *sqlast.SelectStatement
}

// Catalog resolves view names. Names are matched case-insensitively.
type Catalog struct {
	views map[string]*View
}

// lixcols maps entity view lixcol_* columns to relation columns.
var lixcols = []struct{ lixcol, column string }{
	{"lixcol_entity_id", "entity_id"},
	{"lixcol_schema_key", "schema_key"},
	{"lixcol_file_id", "file_id"},
	{"lixcol_plugin_key", "plugin_key"},
	{"lixcol_schema_version", "schema_version"},
	{"lixcol_version_id", "version_id"},
	{"lixcol_inherited_from_version_id", "inherited_from_version_id"},
	{"lixcol_created_at", "created_at"},
	{"lixcol_updated_at", "updated_at"},
	{"lixcol_change_id", "change_id"},
	{"lixcol_commit_id", "commit_id"},
	{"lixcol_untracked", "untracked"},
	{"lixcol_writer_key", "writer_key"},
	{"lixcol_metadata", "metadata"},
}

// lixcolColumn returns the relation column behind a lixcol name.
func lixcolColumn(name string) (string, bool) {
	for _, l := range lixcols {
		if strings.EqualFold(l.lixcol, name) {
			return l.column, true
		}
	}
	return "", false
}

// stateColumns are the columns of the generic state views.
var stateColumns = []string{
	"entity_id", "schema_key", "file_id", "plugin_key", "schema_version",
	"snapshot_content", "created_at", "updated_at", "inherited_from_version_id",
	"change_id", "commit_id", "untracked", "writer_key", "metadata",
}

// activeVersionSQL selects the active version inside view definitions.
const activeVersionSQL = "(SELECT version_id FROM active_version)"

// NewCatalog builds the views of defs plus the generic state views.
func NewCatalog(defs []*schema.Definition) (*Catalog, error) {
	c := &Catalog{views: map[string]*View{}}
	generic := []struct {
		name    string
		variant Variant
		sql     string
	}{
		{schema.ViewState, State, stateSQL(false)},
		{schema.ViewStateAll, StateAll, stateSQL(true)},
		{schema.ViewStateHistory, StateHistory, historySQL(nil)},
	}
	for _, g := range generic {
		if err := c.add(g.name, g.variant, nil, g.sql); err != nil {
			return nil, err
		}
	}

	for _, d := range defs {
		variants := []struct {
			view    string
			suffix  string
			variant Variant
			sql     func() string
		}{
			{schema.ViewState, "", Base, func() string { return entitySQL(d, false) }},
			{schema.ViewStateAll, "_all", All, func() string { return entitySQL(d, true) }},
			{schema.ViewStateHistory, "_history", History, func() string { return historySQL(d) }},
		}
		for _, v := range variants {
			if !d.HasView(v.view) {
				continue
			}
			if err := c.add(d.Key+v.suffix, v.variant, d, v.sql()); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

func (c *Catalog) add(name string, variant Variant, d *schema.Definition, sql string) error {
	key := strings.ToLower(name)
	if _, dup := c.views[key]; dup {
		return &schema.DefinitionError{Key: name, Message: "view name collides with another view"}
	}
	sel, err := sqlparser.ParseSelect(sql)
	if err != nil {
		return fmt.Errorf("build view %s: %w", name, err)
	}
	c.views[key] = &View{Name: name, Variant: variant, Schema: d, Select: sel}
	return nil
}

// Lookup returns the view named name.
func (c *Catalog) Lookup(name string) (*View, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.views[strings.ToLower(name)]
	return v, ok
}

// Names returns every view name, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.views))
	for _, v := range c.views {
		names = append(names, v.Name)
	}
	sort.Strings(names)
	return names
}

// SQLViews returns each view's definition keyed by name.
func (c *Catalog) SQLViews() map[string]*sqlast.SelectStatement {
	out := make(map[string]*sqlast.SelectStatement, len(c.views))
	for _, v := range c.views {
		out[v.Name] = v.Select
	}
	return out
}

// versionFilterSQL is the version predicate of a base view: the pinned
// override when the schema has one, otherwise the active version.
func versionFilterSQL(d *schema.Definition) string {
	if expr, ok := d.Override(schema.LixcolVersionID); ok {
		return "version_id = " + expr
	}
	return "version_id = " + activeVersionSQL
}

func entitySQL(d *schema.Definition, all bool) string {
	var cols []string
	for _, p := range d.Properties {
		cols = append(cols, fmt.Sprintf("json_extract(snapshot_content, %s) AS %s",
			sqlast.QuoteString(schema.PropertyPath(p)), sqlast.QuoteIdent(p)))
	}
	for _, l := range lixcols {
		if l.column == "version_id" && !all {
			continue
		}
		cols = append(cols, l.column+" AS "+l.lixcol)
	}
	where := "schema_key = " + sqlast.QuoteString(d.Key)
	if !all {
		where += " AND " + versionFilterSQL(d)
	}
	return "SELECT " + strings.Join(cols, ", ") + " FROM " + shape.VtableName + " WHERE " + where
}

func stateSQL(all bool) string {
	cols := append([]string{}, stateColumns...)
	if all {
		cols = append(cols, "version_id")
	}
	sql := "SELECT " + strings.Join(cols, ", ") + " FROM " + shape.VtableName
	if !all {
		sql += " WHERE version_id = " + activeVersionSQL
	}
	return sql
}

// historySQL lists changes with the commit that recorded them. A nil
// definition lists changes of every schema.
func historySQL(d *schema.Definition) string {
	commitID := fmt.Sprintf("(SELECT json_extract(cm.snapshot_content, '$.id') FROM %s AS cm "+
		"JOIN %s AS el ON json_extract(el.snapshot_content, '$.change_set_id') = json_extract(cm.snapshot_content, '$.change_set_id') "+
		"WHERE json_extract(el.snapshot_content, '$.change_id') = ch.id AND cm.version_id = 'global' AND el.version_id = 'global' "+
		"AND cm.is_tombstone = 0 AND el.is_tombstone = 0 LIMIT 1)",
		store.CacheTableName(ir.SchemaCommit), store.CacheTableName(ir.SchemaChangeSetElement))

	var cols []string
	if d == nil {
		cols = []string{
			"ch.id AS change_id", "ch.entity_id", "ch.schema_key", "ch.file_id", "ch.plugin_key",
			"ch.schema_version", "ch.snapshot_content", "ch.metadata", "ch.created_at", commitID + " AS commit_id",
		}
		return "SELECT " + strings.Join(cols, ", ") + " FROM internal_change AS ch"
	}
	for _, p := range d.Properties {
		cols = append(cols, fmt.Sprintf("json_extract(ch.snapshot_content, %s) AS %s",
			sqlast.QuoteString(schema.PropertyPath(p)), sqlast.QuoteIdent(p)))
	}
	cols = append(cols,
		"ch.entity_id AS lixcol_entity_id",
		"ch.schema_key AS lixcol_schema_key",
		"ch.file_id AS lixcol_file_id",
		"ch.plugin_key AS lixcol_plugin_key",
		"ch.schema_version AS lixcol_schema_version",
		"ch.id AS lixcol_change_id",
		"ch.created_at AS lixcol_created_at",
		"ch.metadata AS lixcol_metadata",
		commitID+" AS lixcol_commit_id",
	)
	return "SELECT " + strings.Join(cols, ", ") + " FROM internal_change AS ch WHERE ch.schema_key = " + sqlast.QuoteString(d.Key)
}
