package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/lix/internal/entityview"
	"github.com/roach88/lix/internal/ir"
	"github.com/roach88/lix/internal/schema"
	"github.com/roach88/lix/internal/store"
)

// storedSchema is the lix_stored_schema snapshot.
type storedSchema struct {
	Key     string          `json:"key"`
	Version string          `json:"version"`
	Value   json.RawMessage `json:"value"`
}

// RegisterSchema registers an entity schema: the document is stored as a
// lix_stored_schema entity in global, its cache table is created and its
// entity views become available to subsequent statements.
//
// Registering a key again with a new x-lix-version replaces the active
// definition; the same key and version is an error.
func (e *Engine) RegisterSchema(ctx context.Context, raw []byte) (*schema.Definition, error) {
	def, err := schema.Parse(raw)
	if err != nil {
		return nil, err
	}

	e.schemaMu.Lock()
	defer e.schemaMu.Unlock()

	if e.builtin[def.Key] {
		return nil, newError(ErrCodeBuiltinSchema,
			fmt.Sprintf("schema %q is builtin", def.Key), map[string]string{"id": def.Key})
	}
	if prev, ok := e.registry.Lookup(def.Key); ok && prev.Version == def.Version {
		return nil, newError(ErrCodeSchemaExists,
			fmt.Sprintf("schema %q version %s already registered", def.Key, def.Version),
			map[string]string{"id": def.Key})
	}

	// Views of the new schema must not collide with existing names.
	defs := []*schema.Definition{def}
	for _, d := range e.registry.All() {
		if d.Key != def.Key {
			defs = append(defs, d)
		}
	}
	if _, err := entityview.NewCatalog(defs); err != nil {
		return nil, err
	}
	e.depsMu.RLock()
	for name := range e.sqlViews {
		if def.Key == name {
			e.depsMu.RUnlock()
			return nil, newError(ErrCodeViewExists, fmt.Sprintf("view %q already defined", name), nil)
		}
	}
	e.depsMu.RUnlock()

	if _, err := e.Exec(ctx,
		`INSERT INTO lix_stored_schema (key, version, value) VALUES (?, ?, ?)`,
		def.Key, def.Version, string(def.Raw)); err != nil {
		return nil, fmt.Errorf("store schema %s: %w", def.Key, err)
	}
	if _, err := e.store.EnsureCacheTable(ctx, e.store.DB(), def.Key); err != nil {
		return nil, err
	}
	e.registry.Register(def)
	if err := e.refresh(ctx); err != nil {
		return nil, err
	}
	e.logger.Info("schema registered", "key", def.Key, "version", def.Version)
	return def, nil
}

// loadStoredSchemas registers every schema stored in global. When a key
// was stored in several versions the last one in entity id order wins.
func (e *Engine) loadStoredSchemas(ctx context.Context) error {
	rows, err := store.ListCacheRows(ctx, e.store.DB(), ir.SchemaStoredSchema, ir.GlobalVersion)
	if err != nil {
		return err
	}
	for _, r := range rows {
		var s storedSchema
		if err := json.Unmarshal(r.Snapshot, &s); err != nil {
			return fmt.Errorf("decode stored schema %s: %w", r.EntityID, err)
		}
		def, err := schema.Parse(s.Value)
		if err != nil {
			return fmt.Errorf("stored schema %s: %w", r.EntityID, err)
		}
		if _, err := e.store.EnsureCacheTable(ctx, e.store.DB(), def.Key); err != nil {
			return err
		}
		e.registry.Register(def)
	}
	e.logger.Debug("stored schemas loaded", "count", len(rows))
	return nil
}
