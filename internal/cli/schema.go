package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSchemaCommand creates the schema command group.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Validate, register and list schemas",
	}
	cmd.AddCommand(newSchemaValidateCommand(rootOpts))
	cmd.AddCommand(newSchemaRegisterCommand(rootOpts))
	cmd.AddCommand(newSchemaListCommand(rootOpts))
	return cmd
}

// SchemaValidateResult is the output of schema validate.
type SchemaValidateResult struct {
	Valid   bool            `json:"valid"`
	Files   int             `json:"files"`
	Schemas []SchemaSummary `json:"schemas"`
}

// SchemaSummary describes one schema.
type SchemaSummary struct {
	Key        string   `json:"key"`
	Version    string   `json:"version"`
	PrimaryKey []string `json:"primary_key"`
	Properties []string `json:"properties"`
	Builtin    bool     `json:"builtin,omitempty"`
}

func newSchemaValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>...",
		Short: "Validate schema files without opening a lix",
		Long: `Parse every schema file (*.json, *.yaml, *.yml, *.cue) under the given
files and directories and report all problems.

Examples:
  lix schema validate ./schemas
  lix schema validate todo.json project.cue --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)

			loaded, errs := LoadSchemas(LoadModeCollectAll, args...)
			if loaded == nil {
				return outputLoadErrors(formatter, errs, ExitCommandError)
			}
			if len(errs) > 0 {
				return outputLoadErrors(formatter, errs, ExitFailure)
			}

			out := SchemaValidateResult{Valid: true, Files: loaded.FileCount, Schemas: []SchemaSummary{}}
			for _, d := range loaded.Definitions {
				out.Schemas = append(out.Schemas, SchemaSummary{
					Key: d.Key, Version: d.Version, PrimaryKey: d.PrimaryKey, Properties: d.Properties,
				})
			}
			if rootOpts.Format == "json" {
				return formatter.Success(out)
			}
			fmt.Fprintf(formatter.Writer, "OK: %d schema(s) in %d file(s)\n", len(out.Schemas), out.Files)
			for _, s := range out.Schemas {
				fmt.Fprintf(formatter.Writer, "  %s@%s\n", s.Key, s.Version)
			}
			return nil
		},
	}
}

func newSchemaRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "register <path>...",
		Short: "Store schemas in the lix",
		Long: `Register schemas as stored schema entities so their entity views are
available to every later session.

Examples:
  lix schema register --db ./lix.db ./schemas/todo.json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)

			loaded, errs := LoadSchemas(LoadModeFailFast, args...)
			if loaded == nil {
				return outputLoadErrors(formatter, errs, ExitCommandError)
			}
			if len(errs) > 0 {
				return outputLoadErrors(formatter, errs, ExitFailure)
			}

			eng, err := rootOpts.openEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()

			ctx := commandContext(cmd)
			registered := []SchemaSummary{}
			for i, doc := range loaded.Documents {
				def, err := eng.RegisterSchema(ctx, doc.Raw)
				if err != nil {
					formatter.Error(ErrCodeInvalidSchema, err.Error(), map[string]string{"path": doc.Path})
					return WrapExitError(ExitFailure, "register failed", err)
				}
				formatter.VerboseLog("Registered %s from %s", def.Key, loaded.Documents[i].Path)
				registered = append(registered, SchemaSummary{
					Key: def.Key, Version: def.Version, PrimaryKey: def.PrimaryKey, Properties: def.Properties,
				})
			}
			if rootOpts.Format == "json" {
				return formatter.Success(registered)
			}
			for _, s := range registered {
				fmt.Fprintf(formatter.Writer, "Registered %s@%s\n", s.Key, s.Version)
			}
			return nil
		},
	}
}

func newSchemaListCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List the schemas known to the lix",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)

			eng, err := rootOpts.openEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()

			builtin := builtinKeys()
			out := []SchemaSummary{}
			for _, d := range eng.Schemas() {
				if builtin[d.Key] && !all {
					continue
				}
				out = append(out, SchemaSummary{
					Key: d.Key, Version: d.Version, PrimaryKey: d.PrimaryKey,
					Properties: d.Properties, Builtin: builtin[d.Key],
				})
			}
			if rootOpts.Format == "json" {
				return formatter.Success(out)
			}
			rows := make([]map[string]any, len(out))
			for i, s := range out {
				rows[i] = map[string]any{
					"key": s.Key, "version": s.Version,
					"primary_key": fmt.Sprint(s.PrimaryKey), "builtin": s.Builtin,
				}
			}
			return formatter.Rows([]string{"key", "version", "primary_key", "builtin"}, rows)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include builtin schemas")
	return cmd
}

// outputLoadErrors reports schema load errors and returns the exit error.
func outputLoadErrors(f *OutputFormatter, errs []error, code int) error {
	if f.Format == "json" {
		details := make([]CLIError, len(errs))
		for i, err := range errs {
			details[i] = CLIError{Code: ErrCodeGeneric, Message: err.Error()}
			if le, ok := err.(*LoadError); ok {
				details[i] = CLIError{Code: le.Code, Message: le.Message, Details: map[string]string{"path": le.Path}}
			}
		}
		f.Error(ErrCodeInvalidSchema, fmt.Sprintf("%d schema error(s)", len(errs)), details)
	} else {
		for _, err := range errs {
			fmt.Fprintf(f.Writer, "Error: %v\n", err)
		}
	}
	return NewExitError(code, fmt.Sprintf("%d schema error(s)", len(errs)))
}
