package engine

import (
	"errors"
	"fmt"
)

// Error represents an error reported by the engine's public operations.
//
// Error includes structured fields for diagnostics. Errors raised by the
// layers below (parse errors, schema violations, consistency errors) are
// returned wrapped, not converted.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Details contains additional context.
	Details map[string]string
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeVersionNotFound indicates a version id that does not exist.
	ErrCodeVersionNotFound ErrorCode = "VERSION_NOT_FOUND"

	// ErrCodeVersionExists indicates CreateVersion with a taken id.
	ErrCodeVersionExists ErrorCode = "VERSION_EXISTS"

	// ErrCodeViewExists indicates a view name already in use.
	ErrCodeViewExists ErrorCode = "VIEW_EXISTS"

	// ErrCodeSchemaExists indicates a schema key and version already
	// registered.
	ErrCodeSchemaExists ErrorCode = "SCHEMA_EXISTS"

	// ErrCodeBuiltinSchema indicates an attempt to register a builtin key.
	ErrCodeBuiltinSchema ErrorCode = "BUILTIN_SCHEMA"

	// ErrCodeSessionClosed indicates use of a closed session.
	ErrCodeSessionClosed ErrorCode = "SESSION_CLOSED"

	// ErrCodeTransactionOpen indicates Begin inside a transaction.
	ErrCodeTransactionOpen ErrorCode = "TRANSACTION_OPEN"

	// ErrCodeNoTransaction indicates Commit or Rollback outside one.
	ErrCodeNoTransaction ErrorCode = "NO_TRANSACTION"

	// ErrCodeMultipleStatements indicates Query on a script.
	ErrCodeMultipleStatements ErrorCode = "MULTIPLE_STATEMENTS"

	// ErrCodeFileNotFound indicates a file id without a descriptor.
	ErrCodeFileNotFound ErrorCode = "FILE_NOT_FOUND"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if id, ok := e.Details["id"]; ok {
		return fmt.Sprintf("%s: %s (id=%s)", e.Code, e.Message, id)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code ErrorCode, msg string, details map[string]string) *Error {
	return &Error{Code: code, Message: msg, Details: details}
}

// HasCode reports whether err wraps an engine Error with code.
func HasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsVersionNotFound returns true if err reports a missing version.
func IsVersionNotFound(err error) bool {
	return HasCode(err, ErrCodeVersionNotFound)
}
