package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	*RootOptions
	File string
	Args []string
}

// ExecResult is the output of the exec command.
type ExecResult struct {
	Statements   int   `json:"statements"`
	RowsAffected int64 `json:"rows_affected"`
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec [sql]",
		Short: "Execute SQL statements and commit them",
		Long: `Execute one or more SQL statements in a fresh session and commit
the resulting changes.

Entity views, the state views and raw SQL are all accepted. A failing
statement discards every change of the run.

Examples:
  lix exec --db ./lix.db "INSERT INTO todo (id, title) VALUES ('t1', 'Buy milk')"
  lix exec --db ./lix.db "UPDATE todo SET done = ? WHERE id = ?" --arg true --arg t1
  lix exec --db ./lix.db --file migrate.sql`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "read SQL from a file (- for stdin)")
	cmd.Flags().StringArrayVar(&opts.Args, "arg", nil, "statement parameter (repeatable; JSON scalars bind typed)")

	return cmd
}

func runExec(opts *ExecOptions, args []string, cmd *cobra.Command) error {
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

	res, err := eng.Exec(commandContext(cmd), sql, parseArgs(opts.Args)...)
	if err != nil {
		formatter.Error(ErrCodeStatement, err.Error(), nil)
		return WrapExitError(ExitFailure, "exec failed", err)
	}

	out := ExecResult{Statements: res.Statements, RowsAffected: res.RowsAffected}
	if opts.Format == "json" {
		return formatter.Success(out)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "OK: %d statement(s), %d row(s) affected\n", out.Statements, out.RowsAffected)
	return nil
}

// readSQL returns the SQL of the positional argument or of --file.
func readSQL(args []string, file string, stdin io.Reader) (string, error) {
	switch {
	case len(args) == 1 && file != "":
		return "", NewExitError(ExitCommandError, "pass SQL as an argument or with --file, not both")
	case len(args) == 1:
		return args[0], nil
	case file == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", WrapExitError(ExitCommandError, "failed to read stdin", err)
		}
		return string(data), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", WrapExitError(ExitCommandError, "failed to read SQL file", err)
		}
		return string(data), nil
	}
	return "", NewExitError(ExitCommandError, "no SQL given")
}
