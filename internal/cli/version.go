package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/lix/internal/engine"
	"github.com/roach88/lix/internal/ir"
)

// NewVersionCommand creates the version command group.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "List, create and switch versions",
	}
	cmd.AddCommand(newVersionListCommand(rootOpts))
	cmd.AddCommand(newVersionCreateCommand(rootOpts))
	cmd.AddCommand(newVersionSwitchCommand(rootOpts))
	return cmd
}

// VersionInfo is one version as printed by the version commands.
type VersionInfo struct {
	ir.Version
	Active bool `json:"active"`
}

func newVersionListCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List versions",
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

			ctx := commandContext(cmd)
			versions, err := eng.Versions(ctx)
			if err != nil {
				formatter.Error(ErrCodeVersion, err.Error(), nil)
				return WrapExitError(ExitFailure, "list versions failed", err)
			}
			active, err := eng.ActiveVersion(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "read active version", err)
			}

			out := []VersionInfo{}
			for _, v := range versions {
				if v.Hidden && !all {
					continue
				}
				out = append(out, VersionInfo{Version: v, Active: v.ID == active})
			}
			if rootOpts.Format == "json" {
				return formatter.Success(out)
			}
			rows := make([]map[string]any, len(out))
			for i, v := range out {
				marker := ""
				if v.Active {
					marker = "*"
				}
				inherits := ""
				if v.InheritsFromVersionID != nil {
					inherits = *v.InheritsFromVersionID
				}
				rows[i] = map[string]any{
					"active": marker, "id": v.ID, "name": v.Name,
					"inherits_from": inherits, "commit_id": v.CommitID,
				}
			}
			return formatter.Rows([]string{"active", "id", "name", "inherits_from", "commit_id"}, rows)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include hidden versions")
	return cmd
}

func newVersionCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		opts     engine.VersionOptions
		switchTo bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a version",
		Long: `Create a version starting at the commit of --from (default: the
active version) and reading through to --inherits-from (default: --from).

Examples:
  lix version create --db ./lix.db --name feature
  lix version create --db ./lix.db --id v2 --from main --switch`,
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

			ctx := commandContext(cmd)
			if opts.From, err = resolveVersion(cmd, eng, opts.From); err != nil {
				return versionError(formatter, err)
			}
			if opts.InheritsFrom, err = resolveVersion(cmd, eng, opts.InheritsFrom); err != nil {
				return versionError(formatter, err)
			}
			v, err := eng.CreateVersion(ctx, opts)
			if err != nil {
				return versionError(formatter, err)
			}
			if switchTo {
				if err := eng.SwitchVersion(ctx, v.ID); err != nil {
					return versionError(formatter, err)
				}
			}

			if rootOpts.Format == "json" {
				return formatter.Success(VersionInfo{Version: v, Active: switchTo})
			}
			fmt.Fprintf(formatter.Writer, "Created version %s (%s)\n", v.Name, v.ID)
			if switchTo {
				fmt.Fprintf(formatter.Writer, "Switched to %s\n", v.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "id of the new version (default: generated)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "name of the new version (default: the id)")
	cmd.Flags().StringVar(&opts.From, "from", "", "version to start from, by id or name")
	cmd.Flags().StringVar(&opts.InheritsFrom, "inherits-from", "", "version to inherit from, by id or name")
	cmd.Flags().BoolVar(&opts.Hidden, "hidden", false, "hide the version from listings")
	cmd.Flags().BoolVar(&switchTo, "switch", false, "make the new version active")
	return cmd
}

func newVersionSwitchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "switch <id|name>",
		Short:         "Make a version active",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)

			eng, err := rootOpts.openEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()

			id, err := resolveVersion(cmd, eng, args[0])
			if err != nil {
				return versionError(formatter, err)
			}
			if err := eng.SwitchVersion(commandContext(cmd), id); err != nil {
				return versionError(formatter, err)
			}
			if rootOpts.Format == "json" {
				return formatter.Success(map[string]string{"active_version": id})
			}
			fmt.Fprintf(formatter.Writer, "Switched to %s\n", args[0])
			return nil
		},
	}
}

// resolveVersion maps a version id or name to its id. Empty stays empty.
func resolveVersion(cmd *cobra.Command, eng *engine.Engine, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	ctx := commandContext(cmd)
	if _, err := eng.Version(ctx, ref); err == nil {
		return ref, nil
	} else if !engine.IsVersionNotFound(err) {
		return "", err
	}
	versions, err := eng.Versions(ctx)
	if err != nil {
		return "", err
	}
	for _, v := range versions {
		if v.Name == ref {
			return v.ID, nil
		}
	}
	return "", fmt.Errorf("version %q not found", ref)
}

func versionError(f *OutputFormatter, err error) error {
	f.Error(ErrCodeVersion, err.Error(), nil)
	return WrapExitError(ExitFailure, "version command failed", err)
}
