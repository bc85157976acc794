package sqlast

import "strings"

// reservedWords are keywords that must be quoted when used as identifiers.
// The list covers every keyword the parser gives meaning to plus the SQLite
// keywords that would otherwise change how a statement parses.
var reservedWords = map[string]struct{}{
	"ABORT": {}, "ACTION": {}, "ADD": {}, "ALL": {}, "ALTER": {}, "AND": {},
	"AS": {}, "ASC": {}, "BEGIN": {}, "BETWEEN": {}, "BY": {}, "CASE": {},
	"CAST": {}, "CHECK": {}, "COLLATE": {}, "COMMIT": {}, "CONFLICT": {},
	"CONSTRAINT": {}, "CREATE": {}, "CROSS": {}, "CURRENT_DATE": {},
	"CURRENT_TIME": {}, "CURRENT_TIMESTAMP": {}, "DEFAULT": {}, "DELETE": {},
	"DESC": {}, "DISTINCT": {}, "DO": {}, "DROP": {}, "ELSE": {}, "END": {},
	"ESCAPE": {}, "EXCEPT": {}, "EXISTS": {}, "FALSE": {}, "FILTER": {},
	"FIRST": {}, "FOREIGN": {}, "FROM": {}, "FULL": {}, "GLOB": {}, "GROUP": {},
	"HAVING": {}, "IN": {}, "INDEX": {}, "INDEXED": {}, "INNER": {}, "INSERT": {},
	"INTERSECT": {}, "INTO": {}, "IS": {}, "ISNULL": {}, "JOIN": {}, "KEY": {},
	"LAST": {}, "LEFT": {}, "LIKE": {}, "LIMIT": {}, "NATURAL": {}, "NOT": {},
	"NOTHING": {}, "NOTNULL": {}, "NULL": {}, "NULLS": {}, "OFFSET": {}, "ON": {},
	"OR": {}, "ORDER": {}, "OUTER": {}, "OVER": {}, "PARTITION": {}, "PRIMARY": {},
	"RECURSIVE": {}, "REFERENCES": {}, "REPLACE": {}, "RETURNING": {}, "RIGHT": {},
	"ROLLBACK": {}, "SELECT": {}, "SET": {}, "TABLE": {}, "THEN": {}, "TO": {},
	"TRANSACTION": {}, "TRUE": {}, "UNION": {}, "UNIQUE": {}, "UPDATE": {},
	"USING": {}, "VALUES": {}, "WHEN": {}, "WHERE": {}, "WINDOW": {}, "WITH": {},
}

// IsReserved reports whether word is a reserved keyword (case-insensitive).
func IsReserved(word string) bool {
	_, ok := reservedWords[strings.ToUpper(word)]
	return ok
}

// NeedsQuote reports whether name must be double-quoted to be read back as
// the same identifier.
func NeedsQuote(name string) bool {
	if name == "" || IsReserved(name) {
		return true
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
			if i == 0 {
				return true
			}
		default:
			return true
		}
	}
	return false
}

// QuoteIdent renders name as an identifier, quoting only when needed.
// Embedded double quotes are escaped by doubling.
func QuoteIdent(name string) string {
	if !NeedsQuote(name) {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteString renders s as a single-quoted SQL string literal.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
