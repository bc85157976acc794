package schema

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"
	"cuelang.org/go/encoding/jsonschema"

	"github.com/roach88/lix/internal/ir"
)

// compileValidator turns a JSON Schema document into a CUE value that
// snapshots are unified with. x-lix-* keywords are ignored by the
// extractor.
func compileValidator(raw []byte) (cue.Value, error) {
	ctx := cuecontext.New()

	expr, err := cuejson.Extract("schema.json", raw)
	if err != nil {
		return cue.Value{}, fmt.Errorf("read schema: %w", err)
	}
	doc := ctx.BuildExpr(expr)
	if err := doc.Err(); err != nil {
		return cue.Value{}, formatCUEError(err)
	}

	file, err := jsonschema.Extract(doc, &jsonschema.Config{})
	if err != nil {
		return cue.Value{}, formatCUEError(err)
	}
	v := ctx.BuildFile(file)
	if err := v.Err(); err != nil {
		return cue.Value{}, formatCUEError(err)
	}
	return v, nil
}

// Validate checks a snapshot against the schema and returns its canonical
// JSON form. Violations are *SchemaViolationError.
func (d *Definition) Validate(snapshot []byte) ([]byte, error) {
	canonical, err := ir.CanonicalizeJSON(snapshot)
	if err != nil {
		return nil, &SchemaViolationError{SchemaKey: d.Key, Message: err.Error()}
	}

	// A cue.Value shares its runtime; values of one runtime must not be
	// used concurrently.
	d.mu.Lock()
	defer d.mu.Unlock()

	expr, err := cuejson.Extract("snapshot.json", canonical)
	if err != nil {
		return nil, &SchemaViolationError{SchemaKey: d.Key, Message: err.Error()}
	}
	data := d.validator.Context().BuildExpr(expr)
	if err := d.validator.Unify(data).Validate(cue.Concrete(true)); err != nil {
		return nil, &SchemaViolationError{SchemaKey: d.Key, Message: formatCUEError(err).Error()}
	}
	return canonical, nil
}

// formatCUEError flattens a CUE error list into one message.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if path := e.Path(); len(path) > 0 {
			msg = strings.Join(path, ".") + ": " + msg
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
