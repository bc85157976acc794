package schema

import (
	"errors"
	"fmt"
)

// SchemaViolationError reports a snapshot that does not satisfy its schema.
// Writes that fail validation are rejected before any state changes.
type SchemaViolationError struct {
	SchemaKey string
	Message   string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("SCHEMA_VIOLATION: snapshot for schema %s: %s", e.SchemaKey, e.Message)
}

// DefinitionError reports a schema document that cannot be registered.
type DefinitionError struct {
	Key     string
	Message string
}

func (e *DefinitionError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("INVALID_SCHEMA: %s", e.Message)
	}
	return fmt.Sprintf("INVALID_SCHEMA: %s: %s", e.Key, e.Message)
}

// IsSchemaViolation returns true if err is or wraps a SchemaViolationError.
func IsSchemaViolation(err error) bool {
	var sv *SchemaViolationError
	return errors.As(err, &sv)
}
