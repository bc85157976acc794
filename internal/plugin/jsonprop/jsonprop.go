// Package jsonprop is a plugin that tracks the top-level properties of
// JSON object files as entities.
package jsonprop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/roach88/lix/internal/ir"
	"github.com/roach88/lix/internal/plugin"
)

// Key is the plugin key.
const Key = "plugin_json"

// SchemaKey is the schema of the property entities.
const SchemaKey = "plugin_json_property"

// Schema is the definition of SchemaKey.
var Schema = []byte(`{
  "x-lix-key": "plugin_json_property",
  "x-lix-version": "1.0",
  "x-lix-primary-key": ["/property"],
  "x-lix-override-lixcols": {
    "lixcol_plugin_key": "'plugin_json'"
  },
  "type": "object",
  "properties": {
    "property": { "type": "string" },
    "value": {}
  },
  "required": ["property"],
  "additionalProperties": false
}`)

// Plugin implements plugin.Applier and plugin.Detector.
type Plugin struct{}

var (
	_ plugin.Applier  = Plugin{}
	_ plugin.Detector = Plugin{}
	_ plugin.Globber  = Plugin{}

	_ plugin.SchemaProvider = Plugin{}
)

func (Plugin) Key() string { return Key }

func (Plugin) DetectChangesGlob() string { return "*.json" }

func (Plugin) Schemas() [][]byte { return [][]byte{Schema} }

type property struct {
	Property string          `json:"property"`
	Value    json.RawMessage `json:"value"`
}

// ApplyChanges sets or deletes one property per change, in order.
func (Plugin) ApplyChanges(_ context.Context, in plugin.ApplyInput) (plugin.ApplyOutput, error) {
	doc, err := decode(in.File.Data)
	if err != nil {
		return plugin.ApplyOutput{}, err
	}
	for _, c := range in.Changes {
		if c.SchemaKey != SchemaKey {
			return plugin.ApplyOutput{}, fmt.Errorf("unexpected schema %q", c.SchemaKey)
		}
		if c.IsTombstone() {
			delete(doc, c.EntityID)
			continue
		}
		var p property
		if err := json.Unmarshal(c.Snapshot, &p); err != nil {
			return plugin.ApplyOutput{}, fmt.Errorf("decode change %s: %w", c.ID, err)
		}
		doc[c.EntityID] = p.Value
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return plugin.ApplyOutput{}, err
	}
	return plugin.ApplyOutput{FileData: out}, nil
}

// DetectChanges compares the properties of two file revisions.
func (Plugin) DetectChanges(_ context.Context, in plugin.DetectInput) ([]plugin.DetectedChange, error) {
	before := map[string]json.RawMessage{}
	if in.Before != nil {
		var err error
		if before, err = decode(in.Before.Data); err != nil {
			return nil, err
		}
	}
	after, err := decode(in.After.Data)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(before)+len(after))
	for k := range after {
		keys = append(keys, k)
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := []plugin.DetectedChange{}
	for _, k := range keys {
		next, ok := after[k]
		if !ok {
			out = append(out, plugin.DetectedChange{EntityID: k, SchemaKey: SchemaKey, SchemaVersion: "1.0"})
			continue
		}
		if prev, had := before[k]; had && sameJSON(prev, next) {
			continue
		}
		snapshot, err := json.Marshal(property{Property: k, Value: next})
		if err != nil {
			return nil, err
		}
		out = append(out, plugin.DetectedChange{
			EntityID:      k,
			SchemaKey:     SchemaKey,
			SchemaVersion: "1.0",
			Snapshot:      snapshot,
		})
	}
	return out, nil
}

func decode(data []byte) (map[string]json.RawMessage, error) {
	doc := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode json file: %w", err)
	}
	return doc, nil
}

func sameJSON(a, b json.RawMessage) bool {
	ca, errA := ir.CanonicalizeJSON(a)
	cb, errB := ir.CanonicalizeJSON(b)
	return errA == nil && errB == nil && bytes.Equal(ca, cb)
}
