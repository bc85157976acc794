package cli

import (
	"github.com/spf13/cobra"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	File string
	Args []string
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query [sql]",
		Short: "Run a SELECT and print the rows",
		Long: `Run a single statement and print its rows.

Entity views read the active version; <schema>_all views read every
version and <schema>_history views read committed history.

Examples:
  lix query --db ./lix.db "SELECT id, title FROM todo ORDER BY id"
  lix query --db ./lix.db "SELECT * FROM todo_all WHERE lixcol_version_id = ?" --arg feature --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "read SQL from a file (- for stdin)")
	cmd.Flags().StringArrayVar(&opts.Args, "arg", nil, "statement parameter (repeatable; JSON scalars bind typed)")

	return cmd
}

func runQuery(opts *QueryOptions, args []string, cmd *cobra.Command) error {
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

	ctx := commandContext(cmd)
	s, err := eng.Session(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open session", err)
	}
	defer s.Close()

	rows, err := s.Query(ctx, sql, parseArgs(opts.Args)...)
	if err != nil {
		formatter.Error(ErrCodeStatement, err.Error(), nil)
		return WrapExitError(ExitFailure, "query failed", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return WrapExitError(ExitFailure, "query failed", err)
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return WrapExitError(ExitFailure, "scan row", err)
		}
		row := make(map[string]any, len(columns))
		for i, c := range columns {
			if b, ok := vals[i].([]byte); ok {
				vals[i] = string(b)
			}
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return WrapExitError(ExitFailure, "query failed", err)
	}
	if out == nil {
		out = []map[string]any{}
	}
	return formatter.Rows(columns, out)
}
