package cli

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/lix/internal/config"
	"github.com/roach88/lix/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios>",
		Short: "Run scenario files against fresh lixes",
		Long: `Run YAML scenarios, each against its own deterministic lix, and
check their assertions. A scenario with a <name>.golden file next to it
must also reproduce that trace exactly.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  lix test ./scenarios
  lix test ./scenarios --filter "todo_*"
  lix test ./scenarios --update
  lix test ./scenarios/versions.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern on the file name")

	return cmd
}

func runTests(opts *TestOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	files, err := harness.FindScenarios(path)
	if err != nil {
		var nf *harness.ScenarioNotFoundError
		if errors.As(err, &nf) {
			return NewExitError(ExitCommandError, fmt.Sprintf("scenarios not found: %s", path))
		}
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}
	if files, err = filterScenarios(files, opts.Filter); err != nil {
		return NewExitError(ExitCommandError, err.Error())
	}

	if len(files) == 0 {
		if opts.Format == "json" {
			return formatter.Success(&harness.SuiteResult{Results: []harness.ScenarioOutcome{}})
		}
		fmt.Fprintln(formatter.Writer, "No scenarios found.")
		return nil
	}

	// The harness discards engine logs unless asked for them.
	var logger *slog.Logger
	if opts.Verbose {
		logger = config.Default().Logger(cmd.ErrOrStderr(), true)
	}
	suite := harness.RunFiles(commandContext(cmd), files, logger)

	// Golden traces are checked after assertions; a scenario passes only
	// when both agree.
	suite.Passed, suite.Failed = 0, 0
	for i := range suite.Results {
		o := &suite.Results[i]
		if o.Result != nil {
			checkGolden(o, opts.Update)
		}
		if o.Pass {
			suite.Passed++
		} else {
			suite.Failed++
		}
	}

	if opts.Format == "json" {
		formatter.Success(suite)
	} else {
		printSuite(formatter, suite, opts.Update)
	}
	if suite.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", suite.Failed))
	}
	return nil
}

// filterScenarios keeps files whose name without extension matches filter.
func filterScenarios(files []string, filter string) ([]string, error) {
	if filter == "" {
		return files, nil
	}
	var out []string
	for _, f := range files {
		base := filepath.Base(f)
		matched, err := filepath.Match(filter, strings.TrimSuffix(base, filepath.Ext(base)))
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
		if matched {
			out = append(out, f)
		}
	}
	return out, nil
}

// goldenFilePath returns the golden file of a scenario file.
func goldenFilePath(scenarioFile string) string {
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(scenarioFile), name+".golden")
}

// checkGolden compares (or with update, rewrites) the golden trace of a
// scenario that ran, folding the outcome into o.
func checkGolden(o *harness.ScenarioOutcome, update bool) {
	trace, err := harness.MarshalTrace(o.Name, o.Result)
	if err != nil {
		o.Pass = false
		o.Errors = append(o.Errors, fmt.Sprintf("marshal trace: %v", err))
		return
	}
	goldenPath := goldenFilePath(o.Path)

	if update {
		if err := os.WriteFile(goldenPath, trace, 0o644); err != nil {
			o.Pass = false
			o.Errors = append(o.Errors, fmt.Sprintf("failed to update golden file: %v", err))
		}
		return
	}

	want, err := os.ReadFile(goldenPath)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		o.Pass = false
		o.Errors = append(o.Errors, fmt.Sprintf("read golden file: %v", err))
		return
	}
	if !bytes.Equal(bytes.TrimSpace(want), bytes.TrimSpace(trace)) {
		o.Pass = false
		o.Errors = append(o.Errors, "trace does not match golden file (run with --update to regenerate)")
	}
}

func printSuite(f *OutputFormatter, suite *harness.SuiteResult, updated bool) {
	for _, o := range suite.Results {
		name := o.Name
		if name == "" {
			name = filepath.Base(o.Path)
		}
		switch {
		case o.Pass && updated:
			fmt.Fprintf(f.Writer, "✓ %s (golden updated)\n", name)
		case o.Pass:
			fmt.Fprintf(f.Writer, "✓ %s\n", name)
		default:
			fmt.Fprintf(f.Writer, "✗ %s\n", name)
			for _, e := range o.Errors {
				fmt.Fprintf(f.Writer, "  %s\n", e)
			}
		}
	}
	fmt.Fprintf(f.Writer, "\n%d passed, %d failed, %d total\n", suite.Passed, suite.Failed, suite.TotalScenarios)
}
