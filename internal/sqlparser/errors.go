package sqlparser

import (
	"errors"
	"fmt"
)

// ParseError reports malformed SQL. It carries the offending token and its
// position so callers can point at the problem.
type ParseError struct {
	Message string
	Token   string
	Offset  int
	Line    int
	Column  int
}

func (e *ParseError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("parse error at line %d, column %d near %q: %s", e.Line, e.Column, e.Token, e.Message)
	}
	return fmt.Sprintf("parse error at line %d, column %d: %s", e.Line, e.Column, e.Message)
}

// IsParseError returns true if err is or wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// unsupportedError marks valid SQL that the grammar subset does not model.
// Parse turns it into a RawFragment instead of failing.
type unsupportedError struct {
	construct string
}

func (e *unsupportedError) Error() string {
	return "unsupported construct: " + e.construct
}
