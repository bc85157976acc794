package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/lix/internal/preprocess"
)

// PreprocessOptions holds flags for the preprocess command.
type PreprocessOptions struct {
	*RootOptions
	File   string
	Args   []string
	Trace  bool
	Plan   bool
	Output string
}

// NewPreprocessCommand creates the preprocess command.
func NewPreprocessCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PreprocessOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "preprocess [sql]",
		Short: "Show the SQL a statement is rewritten to",
		Long: `Rewrite SQL against the lix's schemas without executing it.

Entity view reads and writes are lowered onto the state vtable, and the
vtable onto the physical cache and transaction tables. --trace lists the
output of every rewrite step. --plan lowers each rewritten statement to a
relational plan and prints it back with every literal parameterized.

Examples:
  lix preprocess --db ./lix.db "SELECT title FROM todo"
  lix preprocess --db ./lix.db --trace --format json "DELETE FROM todo WHERE id = 't1'"
  lix preprocess --db ./lix.db --plan "SELECT title FROM todo WHERE id = 't1'"`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreprocess(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "read SQL from a file (- for stdin)")
	cmd.Flags().StringArrayVar(&opts.Args, "arg", nil, "statement parameter (repeatable)")
	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "include the rewrite trace")
	cmd.Flags().BoolVar(&opts.Plan, "plan", false, "include the relational plan of each statement")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the JSON result to a file")

	return cmd
}

func runPreprocess(opts *PreprocessOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	sql, err := readSQL(args, opts.File, cmd.InOrStdin())
	if err != nil {
		return err
	}

	eng, err := opts.openEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	out, err := eng.Preprocess(preprocess.Input{
		SQL:        sql,
		Parameters: parseArgs(opts.Args),
		Trace:      opts.Trace,
		Plan:       opts.Plan,
	})
	if err != nil {
		formatter.Error(ErrCodeStatement, err.Error(), nil)
		return WrapExitError(ExitFailure, "preprocess failed", err)
	}
	formatter.VerboseLog("Rewrote %d statement(s)", len(out.Statements))

	if opts.Output != "" {
		if err := writeJSONFile(opts.Output, out); err != nil {
			formatter.Error(ErrCodeWriteFailed, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to write output", err)
		}
	}

	if opts.Format == "json" {
		return formatter.Success(out)
	}
	printPreprocess(formatter, out)
	if opts.Output != "" {
		fmt.Fprintf(formatter.Writer, "Wrote preprocess output to %s\n", opts.Output)
	}
	return nil
}

func printPreprocess(f *OutputFormatter, out preprocess.Output) {
	for i, st := range out.Statements {
		fmt.Fprintf(f.Writer, "-- statement %d\n%s;\n", i+1, st.SQL)
		if len(st.Parameters) > 0 {
			fmt.Fprintf(f.Writer, "-- parameters: %v\n", st.Parameters)
		}
		if st.Plan != nil {
			printPlan(f, st.Plan)
		}
	}
	if len(out.Trace) > 0 {
		fmt.Fprintln(f.Writer, "\nTrace:")
		for _, t := range out.Trace {
			fmt.Fprintf(f.Writer, "  [%d] %s\n", t.Statement+1, t.Step)
			if f.Verbose {
				payload, _ := json.Marshal(t.Payload)
				fmt.Fprintf(f.Writer, "      %s\n", payload)
			}
		}
	}
}

// writeJSONFile writes v as indented JSON.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func printPlan(f *OutputFormatter, p *preprocess.Plan) {
	if p.Error != "" {
		fmt.Fprintf(f.Writer, "-- plan: %s\n", p.Error)
		return
	}
	fmt.Fprintf(f.Writer, "-- plan (%s)\n%s;\n", p.Root, p.SQL)
	if len(p.Parameters) > 0 {
		fmt.Fprintf(f.Writer, "-- plan parameters: %v\n", p.Parameters)
	}
	for _, w := range p.Warnings {
		fmt.Fprintf(f.Writer, "-- warning: %s\n", w)
	}
}
