package store

import (
	"database/sql"
	"encoding/json"

	"github.com/roach88/lix/internal/ir"
)

// jsonArg converts an optional JSON document to a bind argument. Absent and
// JSON null documents are stored as SQL NULL.
func jsonArg(doc json.RawMessage) any {
	if ir.IsNullSnapshot(doc) {
		return nil
	}
	return string(doc)
}

// jsonColumn converts a nullable TEXT column back to a JSON document.
func jsonColumn(s sql.NullString) json.RawMessage {
	if !s.Valid {
		return nil
	}
	return json.RawMessage(s.String)
}

func stringPtrArg(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func stringPtrColumn(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func boolArg(b bool) int {
	if b {
		return 1
	}
	return 0
}
