package schema

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// Document is a schema file converted to JSON.
type Document struct {
	Path string
	Raw  []byte
}

// IsSchemaFile reports whether path has an extension ReadFiles loads.
func IsSchemaFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml", ".cue":
		return true
	}
	return false
}

// ReadFiles reads schema documents from files and directories.
// Directories are walked for *.json, *.yaml, *.yml and *.cue files in
// lexical order. YAML and CUE documents are converted to JSON.
func ReadFiles(paths ...string) ([]Document, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("schema path: %w", err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		var found []string
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && IsSchemaFile(path) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", p, err)
		}
		sort.Strings(found)
		files = append(files, found...)
	}

	docs := make([]Document, 0, len(files))
	for _, f := range files {
		raw, err := ReadFile(f)
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document{Path: f, Raw: raw})
	}
	return docs, nil
}

// ReadFile reads one schema file and returns it as JSON.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return data, nil
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%s: parse YAML: %w", path, err)
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("%s: convert YAML: %w", path, err)
		}
		return raw, nil
	case ".cue":
		v := cuecontext.New().CompileBytes(data, cue.Filename(path))
		if err := v.Err(); err != nil {
			return nil, formatCUEError(err)
		}
		raw, err := v.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("%s: export CUE: %w", path, formatCUEError(err))
		}
		return raw, nil
	}
	return nil, fmt.Errorf("%s: unsupported schema file extension", path)
}
