package vtable

import (
	"fmt"
	"strings"

	"github.com/roach88/lix/internal/ir"
	"github.com/roach88/lix/internal/shape"
	"github.com/roach88/lix/internal/sqlast"
	"github.com/roach88/lix/internal/store"
)

// Names of the CTEs a rewritten statement carries.
const (
	RelationName    = "lix_state_vtable"
	rankedName      = "lix_state_ranked"
	descriptorsName = "lix_version_descriptors"
	InheritanceName = "lix_version_inheritance"
	ParentName      = "lix_version_parent"
)

// maxInheritanceDepth bounds the inheritance walk so a descriptor cycle
// cannot recurse forever.
const maxInheritanceDepth = 64

// Source priorities. Lower wins within an identity.
const (
	rankTransaction = iota + 1
	rankUntracked
	rankCache
	rankInheritedCache
	rankInheritedUntracked
	rankInheritedTransaction
)

// relation renders the CTE definitions that stand in for the virtual
// relation.
type relation struct {
	filter             *shape.Filter
	cacheTables        []string
	includeTransaction bool
	joinWriter         bool
	joinMetadata       bool
}

// sql returns the body of a WITH RECURSIVE clause, without the keyword.
func (r *relation) sql() string {
	var ctes []string
	ctes = append(ctes, descriptorsName+"(version_id, inherits_from_version_id) AS ("+r.descriptors()+")")
	ctes = append(ctes, InheritanceName+"(version_id, ancestor_version_id, depth) AS ("+r.inheritance()+")")
	if r.includeTransaction {
		ctes = append(ctes, ParentName+"(version_id, parent_version_id) AS (SELECT version_id, ancestor_version_id FROM "+
			InheritanceName+" WHERE depth = 1)")
	}
	ctes = append(ctes, rankedName+" AS ("+r.ranked()+")")
	ctes = append(ctes, RelationName+" AS ("+r.final()+")")
	return strings.Join(ctes, ",\n")
}

// descriptors lists every live version descriptor. Buffered descriptors
// override committed ones so versions created in the open transaction
// resolve.
func (r *relation) descriptors() string {
	cache := store.CacheTableName(ir.SchemaVersionDescriptor)
	key := sqlast.QuoteString(ir.SchemaVersionDescriptor)
	global := sqlast.QuoteString(ir.GlobalVersion)
	committed := fmt.Sprintf(
		"SELECT json_extract(c.snapshot_content, '$.id'), json_extract(c.snapshot_content, '$.inherits_from_version_id') "+
			"FROM %s AS c WHERE c.version_id = %s AND c.is_tombstone = 0", cache, global)
	if !r.includeTransaction {
		return committed
	}
	return fmt.Sprintf(
		"SELECT json_extract(t.snapshot_content, '$.id'), json_extract(t.snapshot_content, '$.inherits_from_version_id') "+
			"FROM internal_transaction_state AS t WHERE t.schema_key = %s AND t.version_id = %s AND t.snapshot_content IS NOT NULL "+
			"UNION ALL %s AND NOT EXISTS (SELECT 1 FROM internal_transaction_state AS t "+
			"WHERE t.schema_key = %s AND t.version_id = %s AND t.entity_id = c.entity_id)",
		key, global, committed, key, global)
}

func (r *relation) inheritance() string {
	seed := fmt.Sprintf("SELECT d.version_id, d.inherits_from_version_id, 1 FROM %s AS d WHERE d.inherits_from_version_id IS NOT NULL",
		descriptorsName)
	if r.filter != nil && r.filter.Versions != nil {
		seed += " AND " + inList("d.version_id", r.filter.Versions)
	}
	step := fmt.Sprintf("SELECT i.version_id, d.inherits_from_version_id, i.depth + 1 FROM %s AS i "+
		"JOIN %s AS d ON d.version_id = i.ancestor_version_id "+
		"WHERE d.inherits_from_version_id IS NOT NULL AND i.depth < %d",
		InheritanceName, descriptorsName, maxInheritanceDepth)
	return seed + " UNION ALL " + step
}

func (r *relation) ranked() string {
	var sources []string
	if r.includeTransaction {
		sources = append(sources, r.transaction())
	}
	sources = append(sources, r.untracked())
	for _, table := range r.cacheTables {
		sources = append(sources, r.cache(table))
	}
	for _, table := range r.cacheTables {
		sources = append(sources, r.inheritedCache(table))
	}
	sources = append(sources, r.inheritedUntracked())
	if r.includeTransaction {
		sources = append(sources, r.inheritedTransaction())
	}
	return "SELECT s.*, ROW_NUMBER() OVER (PARTITION BY s.file_id, s.schema_key, s.entity_id, s.version_id " +
		"ORDER BY s.priority ASC, s.depth ASC, s.created_at DESC, s._pk DESC) AS lix_rn FROM (" +
		strings.Join(sources, " UNION ALL ") + ") AS s"
}

func (r *relation) final() string {
	cols := []string{
		"r.entity_id", "r.schema_key", "r.file_id", "r.version_id", "r.plugin_key",
		"r.schema_version", "r.snapshot_content", "r.created_at", "r.updated_at",
		"r.change_id", "r.commit_id", "r.inherited_from_version_id", "r.untracked",
	}
	from := rankedName + " AS r"
	if r.joinWriter {
		cols = append(cols, "COALESCE(r.writer_key, w.writer_key) AS writer_key")
		from += " LEFT JOIN internal_state_writer AS w ON w.file_id = r.file_id AND w.version_id = r.version_id " +
			"AND w.entity_id = r.entity_id AND w.schema_key = r.schema_key"
	} else {
		cols = append(cols, "r.writer_key")
	}
	if r.joinMetadata {
		cols = append(cols, "COALESCE(r.metadata, ch.metadata) AS metadata")
		from += " LEFT JOIN internal_change AS ch ON ch.id = r.change_id"
	} else {
		cols = append(cols, "r.metadata")
	}
	cols = append(cols, "r._pk")
	return "SELECT " + strings.Join(cols, ", ") + " FROM " + from +
		" WHERE r.lix_rn = 1 AND r.snapshot_content IS NOT NULL"
}

// pk renders the synthesized row identity of a source.
func pk(prefix, alias, versionCol string) string {
	return fmt.Sprintf("'%s~' || %s.file_id || '~' || %s.entity_id || '~' || %s", prefix, alias, alias, versionCol)
}

// where renders the filters pushed into a source. versionCol is the
// column holding the destination version.
func (r *relation) where(alias, versionCol string, extra ...string) string {
	conds := append([]string{}, extra...)
	if f := r.filter; f != nil {
		if f.SchemaKeys != nil {
			conds = append(conds, inList(alias+".schema_key", f.SchemaKeys))
		}
		if f.EntityIDs != nil {
			conds = append(conds, inList(alias+".entity_id", f.EntityIDs))
		}
		if f.Versions != nil {
			conds = append(conds, inList(versionCol, f.Versions))
		}
	}
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func (r *relation) transaction() string {
	return fmt.Sprintf("SELECT t.entity_id, t.schema_key, t.file_id, t.version_id, t.plugin_key, t.schema_version, "+
		"t.snapshot_content, t.created_at, t.created_at AS updated_at, t.id AS change_id, 'pending' AS commit_id, "+
		"NULL AS inherited_from_version_id, t.untracked, t.writer_key, t.metadata, %d AS priority, 0 AS depth, %s AS _pk "+
		"FROM internal_transaction_state AS t%s",
		rankTransaction, pk("T", "t", "t.version_id"), r.where("t", "t.version_id"))
}

func (r *relation) untracked() string {
	return fmt.Sprintf("SELECT u.entity_id, u.schema_key, u.file_id, u.version_id, u.plugin_key, u.schema_version, "+
		"u.snapshot_content, u.created_at, u.updated_at, 'untracked' AS change_id, 'untracked' AS commit_id, "+
		"NULL AS inherited_from_version_id, 1 AS untracked, NULL AS writer_key, NULL AS metadata, %d AS priority, 0 AS depth, %s AS _pk "+
		"FROM internal_untracked_state AS u%s",
		rankUntracked, pk("U", "u", "u.version_id"), r.where("u", "u.version_id"))
}

func (r *relation) cache(table string) string {
	return fmt.Sprintf("SELECT c.entity_id, c.schema_key, c.file_id, c.version_id, c.plugin_key, c.schema_version, "+
		"c.snapshot_content, c.created_at, c.updated_at, c.change_id, c.commit_id, "+
		"NULL AS inherited_from_version_id, 0 AS untracked, NULL AS writer_key, NULL AS metadata, %d AS priority, 0 AS depth, %s AS _pk "+
		"FROM %s AS c%s",
		rankCache, pk("C", "c", "c.version_id"), sqlast.QuoteIdent(table), r.where("c", "c.version_id"))
}

func (r *relation) inheritedCache(table string) string {
	return fmt.Sprintf("SELECT c.entity_id, c.schema_key, c.file_id, i.version_id, c.plugin_key, c.schema_version, "+
		"c.snapshot_content, c.created_at, c.updated_at, c.change_id, c.commit_id, "+
		"c.version_id AS inherited_from_version_id, 0 AS untracked, NULL AS writer_key, NULL AS metadata, %d AS priority, i.depth AS depth, %s AS _pk "+
		"FROM %s AS i JOIN %s AS c ON c.version_id = i.ancestor_version_id%s",
		rankInheritedCache, pk("CI", "c", "i.version_id"), InheritanceName, sqlast.QuoteIdent(table), r.where("c", "i.version_id"))
}

func (r *relation) inheritedUntracked() string {
	return fmt.Sprintf("SELECT u.entity_id, u.schema_key, u.file_id, i.version_id, u.plugin_key, u.schema_version, "+
		"u.snapshot_content, u.created_at, u.updated_at, 'untracked' AS change_id, 'untracked' AS commit_id, "+
		"u.version_id AS inherited_from_version_id, 1 AS untracked, NULL AS writer_key, NULL AS metadata, %d AS priority, i.depth AS depth, %s AS _pk "+
		"FROM %s AS i JOIN internal_untracked_state AS u ON u.version_id = i.ancestor_version_id%s",
		rankInheritedUntracked, pk("UI", "u", "i.version_id"), InheritanceName, r.where("u", "i.version_id"))
}

// inheritedTransaction walks one hop only: buffered rows of the immediate
// parent version.
func (r *relation) inheritedTransaction() string {
	return fmt.Sprintf("SELECT t.entity_id, t.schema_key, t.file_id, p.version_id, t.plugin_key, t.schema_version, "+
		"t.snapshot_content, t.created_at, t.created_at AS updated_at, t.id AS change_id, 'pending' AS commit_id, "+
		"t.version_id AS inherited_from_version_id, t.untracked, t.writer_key, t.metadata, %d AS priority, 1 AS depth, %s AS _pk "+
		"FROM %s AS p JOIN internal_transaction_state AS t ON t.version_id = p.parent_version_id%s",
		rankInheritedTransaction, pk("TI", "t", "p.version_id"), ParentName, r.where("t", "p.version_id"))
}

// inList renders `col = v` or `col IN (v1, v2)`.
func inList(col string, values []shape.Value) string {
	items := make([]string, len(values))
	for i, v := range values {
		items[i] = renderValue(v)
	}
	if len(items) == 1 {
		return col + " = " + items[0]
	}
	return col + " IN (" + strings.Join(items, ", ") + ")"
}

func renderValue(v shape.Value) string {
	switch v.Kind {
	case shape.Literal:
		return sqlast.QuoteString(v.Literal)
	case shape.Placeholder:
		return v.Token
	case shape.Current:
		return "(SELECT version_id FROM internal_active_version)"
	default:
		panic(fmt.Sprintf("vtable: unhandled value kind %v", v.Kind))
	}
}
