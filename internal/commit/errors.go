package commit

import (
	"errors"
	"fmt"
)

// ConsistencyError reports state a commit depends on that does not exist:
// a version without a descriptor or tip, a tip naming a missing commit, or
// a change for a schema without a cache table. It signals an invariant
// broken earlier and is never recovered from.
type ConsistencyError struct {
	// Kind names what is missing, e.g. "version" or "commit".
	Kind string
	// ID identifies the missing record.
	ID string
	// Message adds context.
	Message string
}

func (e *ConsistencyError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("CONSISTENCY: %s %q not found", e.Kind, e.ID)
	}
	return fmt.Sprintf("CONSISTENCY: %s %q not found: %s", e.Kind, e.ID, e.Message)
}

// IsConsistencyError reports whether err is or wraps a ConsistencyError.
func IsConsistencyError(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}
