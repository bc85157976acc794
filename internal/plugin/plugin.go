// Package plugin defines the contract between lix and the plugins that
// translate file bytes to entities and back.
//
// A plugin always has a key. Applying a change set needs an Applier;
// change detection needs a Detector. Both are optional interfaces a plugin
// implements when it supports the operation.
package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/lix/internal/ir"
)

// Plugin is the minimal plugin contract.
type Plugin interface {
	Key() string
}

// File is a file's descriptor and current bytes.
type File struct {
	ID   string `json:"id"`
	Path string `json:"path"`
	Data []byte `json:"-"`
}

// ApplyInput is passed to ApplyChanges.
type ApplyInput struct {
	File    File
	Changes []ir.Change
}

// ApplyOutput is the file content after applying changes.
type ApplyOutput struct {
	FileData []byte
}

// Applier reconstructs file bytes from entity changes.
type Applier interface {
	Plugin
	ApplyChanges(ctx context.Context, in ApplyInput) (ApplyOutput, error)
}

// DetectInput is passed to DetectChanges.
type DetectInput struct {
	Before *File
	After  File
}

// DetectedChange is one entity change found in a file edit. A nil
// Snapshot deletes the entity.
type DetectedChange struct {
	EntityID      string          `json:"entity_id"`
	SchemaKey     string          `json:"schema_key"`
	SchemaVersion string          `json:"schema_version"`
	Snapshot      json.RawMessage `json:"snapshot_content"`
}

// Detector derives entity changes from a file edit.
type Detector interface {
	Plugin
	DetectChanges(ctx context.Context, in DetectInput) ([]DetectedChange, error)
}

// Globber limits a plugin to the file paths matching its glob.
type Globber interface {
	DetectChangesGlob() string
}

// SchemaProvider is a plugin whose entities need schemas registered.
type SchemaProvider interface {
	Schemas() [][]byte
}

// PluginNotFoundError reports a change whose plugin is not registered.
type PluginNotFoundError struct {
	Key string
}

func (e *PluginNotFoundError) Error() string {
	return fmt.Sprintf("PLUGIN_NOT_FOUND: plugin %q is not registered", e.Key)
}

// PluginDoesNotSupportApplyError reports a plugin without ApplyChanges.
type PluginDoesNotSupportApplyError struct {
	Key string
}

func (e *PluginDoesNotSupportApplyError) Error() string {
	return fmt.Sprintf("PLUGIN_UNSUPPORTED_OPERATION: plugin %q does not support applyChanges", e.Key)
}

// Registry holds the plugins of an instance by key.
//
// Thread-safety: Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry returns a registry holding plugins.
func NewRegistry(plugins ...Plugin) (*Registry, error) {
	r := &Registry{plugins: map[string]Plugin{}}
	for _, p := range plugins {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds p. Keys must be unique.
func (r *Registry) Register(p Plugin) error {
	if p.Key() == "" {
		return fmt.Errorf("register plugin: empty key")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[p.Key()]; ok {
		return fmt.Errorf("register plugin: %q already registered", p.Key())
	}
	r.plugins[p.Key()] = p
	return nil
}

// Lookup returns the plugin registered under key.
func (r *Registry) Lookup(key string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[key]
	if !ok {
		return nil, &PluginNotFoundError{Key: key}
	}
	return p, nil
}

// Keys returns the registered keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.plugins))
	for k := range r.plugins {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ForPath returns the first plugin, by key order, whose glob matches
// filePath. Plugins without a glob never match.
func (r *Registry) ForPath(filePath string) (Plugin, bool) {
	for _, k := range r.Keys() {
		p, _ := r.Lookup(k)
		g, ok := p.(Globber)
		if !ok {
			continue
		}
		if matchGlob(g.DetectChangesGlob(), filePath) {
			return p, true
		}
	}
	return nil, false
}

// matchGlob matches the base name of filePath, or the whole path when the
// glob contains a slash.
func matchGlob(glob, filePath string) bool {
	target := path.Base(filePath)
	if strings.Contains(glob, "/") {
		target = filePath
	}
	ok, err := path.Match(glob, target)
	return err == nil && ok
}
