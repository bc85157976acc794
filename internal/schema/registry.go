package schema

import (
	"embed"
	"fmt"
	"sort"
	"sync"
)

//go:embed builtin/*.json
var builtinFS embed.FS

// Builtins parses the schemas lix's own entities use.
func Builtins() ([]*Definition, error) {
	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil, fmt.Errorf("read builtin schemas: %w", err)
	}
	out := make([]*Definition, 0, len(entries))
	for _, e := range entries {
		raw, err := builtinFS.ReadFile("builtin/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read builtin schema %s: %w", e.Name(), err)
		}
		def, err := Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("builtin schema %s: %w", e.Name(), err)
		}
		out = append(out, def)
	}
	return out, nil
}

// Registry holds the schemas known to an instance, keyed by x-lix-key.
//
// Thread-safety: Registry is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry returns a registry preloaded with the builtin schemas.
func NewRegistry() (*Registry, error) {
	r := &Registry{defs: map[string]*Definition{}}
	builtins, err := Builtins()
	if err != nil {
		return nil, err
	}
	for _, d := range builtins {
		r.defs[d.Key] = d
	}
	return r, nil
}

// Register adds or replaces a schema.
func (r *Registry) Register(d *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[d.Key] = d
}

// Lookup returns the schema registered under key.
func (r *Registry) Lookup(key string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[key]
	return d, ok
}

// All returns every registered schema ordered by key.
func (r *Registry) All() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Map returns a snapshot of the registry keyed by schema key.
func (r *Registry) Map() map[string]*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Definition, len(r.defs))
	for k, d := range r.defs {
		out[k] = d
	}
	return out
}

// ValidateSnapshot validates snapshot against the schema registered under
// schemaKey and returns its canonical form. It has the signature of the
// lix_validate_snapshot SQL function.
func (r *Registry) ValidateSnapshot(schemaKey, snapshot string) (string, error) {
	d, ok := r.Lookup(schemaKey)
	if !ok {
		return "", &SchemaViolationError{SchemaKey: schemaKey, Message: "schema is not registered"}
	}
	out, err := d.Validate([]byte(snapshot))
	if err != nil {
		return "", err
	}
	return string(out), nil
}
