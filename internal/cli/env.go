package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/lix/internal/config"
	"github.com/roach88/lix/internal/engine"
	"github.com/roach88/lix/internal/plugin"
	"github.com/roach88/lix/internal/plugin/jsonprop"
)

// knownPlugins maps plugin keys accepted in configuration to constructors.
var knownPlugins = map[string]func() plugin.Plugin{
	jsonprop.Key: func() plugin.Plugin { return jsonprop.Plugin{} },
}

// PluginKeys returns the keys of the plugins the CLI can enable.
func PluginKeys() []string {
	keys := make([]string, 0, len(knownPlugins))
	for k := range knownPlugins {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// loadConfig reads --config (or the defaults) and applies --db.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.ConfigPath != "" {
		cfg, err = config.Load(o.ConfigPath)
	} else {
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		return nil, err
	}
	if o.Database != "" {
		cfg.Database = o.Database
	}
	return cfg, nil
}

// openEngine opens the configured lix with its schemas, plugins and views.
func (o *RootOptions) openEngine(cmd *cobra.Command) (*engine.Engine, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := cfg.Logger(cmd.ErrOrStderr(), o.Verbose)

	opts := []engine.Option{engine.WithLogger(logger)}
	if len(cfg.Schemas) > 0 {
		loaded, errs := LoadSchemas(LoadModeFailFast, cfg.Schemas...)
		if len(errs) > 0 {
			return nil, WrapExitError(ExitCommandError, "failed to load schemas", errs[0])
		}
		opts = append(opts, engine.WithSchemas(loaded.Raw()...))
	}
	for _, key := range cfg.Plugins {
		newPlugin, ok := knownPlugins[key]
		if !ok {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown plugin %q (known: %s)", key, strings.Join(PluginKeys(), ", ")))
		}
		opts = append(opts, engine.WithPlugins(newPlugin()))
	}
	if cfg.Deterministic.Enabled {
		opts = append(opts, engine.WithDeterministic(cfg.Deterministic.Seed))
	}
	if cfg.MaxConns > 0 {
		opts = append(opts, engine.WithMaxConns(cfg.MaxConns))
	}

	logger.Debug("opening lix", "path", cfg.Database)
	eng, err := engine.Open(commandContext(cmd), cfg.Database, opts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open lix", err)
	}
	for _, name := range cfg.ViewNames() {
		if err := eng.DefineView(name, cfg.Views[name]); err != nil {
			eng.Close()
			return nil, WrapExitError(ExitCommandError, "failed to define view", err)
		}
	}
	return eng, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// parseArgs converts --arg values to statement parameters. Values that
// parse as JSON scalars bind as numbers, booleans or null; everything
// else binds as text.
func parseArgs(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = parseArg(v)
	}
	return out
}

func parseArg(v string) any {
	var decoded any
	if err := json.Unmarshal([]byte(v), &decoded); err != nil {
		return v
	}
	switch d := decoded.(type) {
	case nil, bool:
		return d
	case float64:
		if d == float64(int64(d)) {
			return int64(d)
		}
		return d
	case string:
		return d
	}
	return v
}
