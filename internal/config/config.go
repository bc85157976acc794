// Package config loads lix configuration files.
//
// A configuration file is YAML:
//
//	database: ./lix.db
//	deterministic:
//	  enabled: true
//	  seed: demo
//	schemas:
//	  - ./schemas
//	plugins:
//	  - plugin_json
//	views:
//	  open_todo: SELECT id, title FROM todo WHERE done = 0
//	log:
//	  level: debug
//	  format: json
//	max_conns: 8
//
// Relative schema paths are resolved against the file's directory.
// LIX_DB overrides database.
package config

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// EnvDatabase overrides Config.Database when set.
const EnvDatabase = "LIX_DB"

// Config is a parsed configuration file.
type Config struct {
	// Database is the SQLite file of the lix.
	Database string `yaml:"database"`

	Deterministic Deterministic `yaml:"deterministic,omitempty"`

	// Schemas lists schema files or directories of *.json and *.cue files.
	Schemas []string `yaml:"schemas,omitempty"`

	// Plugins lists plugin keys to enable.
	Plugins []string `yaml:"plugins,omitempty"`

	// Views maps names to SELECT statements registered as SQL views.
	Views map[string]string `yaml:"views,omitempty"`

	Log Log `yaml:"log,omitempty"`

	// MaxConns caps the connection pool. Zero keeps the default.
	MaxConns int `yaml:"max_conns,omitempty"`
}

// Deterministic configures deterministic ids and timestamps.
type Deterministic struct {
	Enabled bool   `yaml:"enabled"`
	Seed    string `yaml:"seed,omitempty"`
}

// Log configures the slog handler.
type Log struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level,omitempty"`
	// Format is text or json.
	Format string `yaml:"format,omitempty"`
}

// Default returns the configuration used without a file.
func Default() *Config {
	return &Config{
		Database: "lix.db",
		Log:      Log{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file. Unknown fields are errors.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.resolve(filepath.Dir(path))
	return cfg, nil
}

// Parse decodes configuration YAML on top of Default and applies the
// environment overrides.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if db := os.Getenv(EnvDatabase); db != "" {
		cfg.Database = db
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) resolve(base string) {
	for i, p := range c.Schemas {
		if !filepath.IsAbs(p) {
			c.Schemas[i] = filepath.Join(base, p)
		}
	}
}

// Validate checks field values.
func (c *Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if _, err := c.Log.level(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q: must be text or json", c.Log.Format)
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("max_conns must not be negative")
	}
	if c.Deterministic.Enabled && c.Deterministic.Seed == "" {
		c.Deterministic.Seed = "lix"
	}
	return nil
}

// ViewNames returns the configured view names in order.
func (c *Config) ViewNames() []string {
	names := make([]string, 0, len(c.Views))
	for n := range c.Views {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (l Log) level() (slog.Level, error) {
	switch l.Level {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level %q: must be debug, info, warn or error", l.Level)
}

// Logger builds the configured logger writing to w. verbose forces the
// debug level.
func (c *Config) Logger(w io.Writer, verbose bool) *slog.Logger {
	level, _ := c.Log.level()
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
