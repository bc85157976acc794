package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/lix/internal/schema"
)

// LoadMode controls how errors are handled during schema loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the schemas read from files and directories.
type LoadResult struct {
	Documents   []schema.Document
	Definitions []*schema.Definition
	FileCount   int
}

// Raw returns the JSON documents in load order.
func (r *LoadResult) Raw() [][]byte {
	out := make([][]byte, len(r.Documents))
	for i, d := range r.Documents {
		out[i] = d.Raw
	}
	return out
}

// LoadError represents an error that occurred during schema loading.
type LoadError struct {
	Code    string
	Message string
	Path    string
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadSchemas reads and parses schema files (*.json, *.yaml, *.yml,
// *.cue) from the given files and directories. A nil result means nothing
// could be read.
func LoadSchemas(mode LoadMode, paths ...string) (*LoadResult, []error) {
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: "schema path not found", Path: p}}
		}
	}

	docs, err := schema.ReadFiles(paths...)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}}
	}
	if len(paths) > 0 && len(docs) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no schema files found in %v", paths)}}
	}

	result := &LoadResult{FileCount: len(docs)}
	seen := map[string]string{}
	builtin := builtinKeys()

	var errs []error
	for _, doc := range docs {
		def, err := schema.Parse(doc.Raw)
		if err != nil {
			errs = append(errs, convertSchemaError(err, doc.Path))
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		switch {
		case builtin[def.Key]:
			errs = append(errs, &LoadError{Code: ErrCodeBuiltinKey, Message: fmt.Sprintf("schema key %q is reserved", def.Key), Path: doc.Path})
		case seen[def.Key+"@"+def.Version] != "":
			errs = append(errs, &LoadError{
				Code:    ErrCodeDuplicateKey,
				Message: fmt.Sprintf("schema %s version %s already defined in %s", def.Key, def.Version, seen[def.Key+"@"+def.Version]),
				Path:    doc.Path,
			})
		default:
			seen[def.Key+"@"+def.Version] = doc.Path
			result.Documents = append(result.Documents, doc)
			result.Definitions = append(result.Definitions, def)
			continue
		}
		if mode == LoadModeFailFast {
			return result, errs
		}
	}
	return result, errs
}

func builtinKeys() map[string]bool {
	out := map[string]bool{}
	defs, err := schema.Builtins()
	if err != nil {
		return out
	}
	for _, d := range defs {
		out[d.Key] = true
	}
	return out
}

// convertSchemaError converts a schema parse error to a LoadError.
func convertSchemaError(err error, path string) *LoadError {
	var defErr *schema.DefinitionError
	if errors.As(err, &defErr) {
		return &LoadError{Code: ErrCodeInvalidSchema, Message: defErr.Error(), Path: path}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: err.Error(), Path: path}
}

// Error code constants, shared by all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeNoFiles     = "E003" // No schema files found
	ErrCodeLoadFailed  = "E004" // Reading or converting a file failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeOpenFailed  = "E006" // Opening the lix failed
	ErrCodeWriteFailed = "E007" // File write error

	// Schema errors
	ErrCodeInvalidSchema = "E101" // Schema document rejected
	ErrCodeDuplicateKey  = "E102" // Same key and version twice
	ErrCodeBuiltinKey    = "E103" // Key of a builtin schema

	// Statement errors
	ErrCodeStatement = "E201" // Statement failed
	ErrCodeVersion   = "E202" // Version operation failed
	ErrCodeFile      = "E203" // File operation failed
)
