package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/lix/internal/ir"
	"github.com/roach88/lix/internal/store"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	SchemaKey string
	EntityID  string
	FileID    string
	Limit     int
	All       bool
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "List recorded changes",
		Long: `List change records, oldest first. Changes to builtin schemas
(versions, commits, change sets) are hidden unless --all is given.

Examples:
  lix log --db ./lix.db --schema todo
  lix log --db ./lix.db --entity t1 --limit 5 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.SchemaKey, "schema", "", "only changes of this schema key")
	cmd.Flags().StringVar(&opts.EntityID, "entity", "", "only changes of this entity id")
	cmd.Flags().StringVar(&opts.FileID, "file", "", "only changes of this file id")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "show only the most recent n changes")
	cmd.Flags().BoolVar(&opts.All, "all", false, "include changes to builtin schemas")

	return cmd
}

func runLog(opts *LogOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	eng, err := opts.openEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	changes, err := store.ListChanges(commandContext(cmd), eng.Store().DB(), store.ChangeFilter{
		SchemaKey: opts.SchemaKey,
		EntityID:  opts.EntityID,
		FileID:    opts.FileID,
	})
	if err != nil {
		formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "list changes failed", err)
	}

	changes = filterChanges(changes, builtinKeys(), opts.All || opts.SchemaKey != "", opts.Limit)

	if opts.Format == "json" {
		return formatter.Success(changes)
	}
	rows := make([]map[string]any, len(changes))
	for i, c := range changes {
		snapshot := string(c.Snapshot)
		if c.IsTombstone() {
			snapshot = "(deleted)"
		}
		rows[i] = map[string]any{
			"created_at": c.CreatedAt, "id": c.ID, "schema_key": c.SchemaKey,
			"entity_id": c.EntityID, "snapshot": snapshot,
		}
	}
	return formatter.Rows([]string{"created_at", "id", "schema_key", "entity_id", "snapshot"}, rows)
}

// filterChanges drops builtin schema changes unless all is set and keeps
// the last limit entries when limit is positive.
func filterChanges(changes []ir.Change, builtin map[string]bool, all bool, limit int) []ir.Change {
	out := make([]ir.Change, 0, len(changes))
	for _, c := range changes {
		if !all && builtin[c.SchemaKey] {
			continue
		}
		out = append(out, c)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
