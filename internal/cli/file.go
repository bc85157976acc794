package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// NewFileCommand creates the file command group.
func NewFileCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file",
		Short: "Write files through plugins and rebuild them from state",
	}
	cmd.AddCommand(newFileWriteCommand(rootOpts))
	cmd.AddCommand(newFileApplyCommand(rootOpts))
	return cmd
}

// FileWriteResult is the output of file write.
type FileWriteResult struct {
	ID    string `json:"id"`
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

func newFileWriteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "write <file-id> <lix-path> <local-file>",
		Short: "Store a local file in the active version",
		Long: `Store the bytes of a local file (- for stdin) as file <file-id> at
<lix-path>. The plugin matching <lix-path> turns the content into entity
changes, committed together with the file descriptor.

Examples:
  lix file write --db ./lix.db f1 /settings.json ./settings.json`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			fileID, lixPath, local := args[0], args[1], args[2]

			var (
				data []byte
				err  error
			)
			if local == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(local)
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read file", err)
			}

			eng, err := rootOpts.openEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.WriteFile(commandContext(cmd), fileID, lixPath, data); err != nil {
				formatter.Error(ErrCodeFile, err.Error(), map[string]string{"id": fileID})
				return WrapExitError(ExitFailure, "file write failed", err)
			}
			out := FileWriteResult{ID: fileID, Path: lixPath, Bytes: len(data)}
			if rootOpts.Format == "json" {
				return formatter.Success(out)
			}
			fmt.Fprintf(formatter.Writer, "Wrote %s (%d bytes) as %s\n", out.Path, out.Bytes, out.ID)
			return nil
		},
	}
}

func newFileApplyCommand(rootOpts *RootOptions) *cobra.Command {
	var version, output string
	cmd := &cobra.Command{
		Use:   "apply <file-id>",
		Short: "Rebuild a file from its entities",
		Long: `Rebuild the bytes of a file from the entities it owns in a version
(default: the active version) and print them, or write them with -o.

Examples:
  lix file apply --db ./lix.db f1
  lix file apply --db ./lix.db f1 --version feature -o settings.json`,
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

			versionID, err := resolveVersion(cmd, eng, version)
			if err != nil {
				return versionError(formatter, err)
			}
			ctx := commandContext(cmd)
			data, err := eng.ApplyFile(ctx, args[0], versionID)
			if err != nil {
				formatter.Error(ErrCodeFile, err.Error(), map[string]string{"id": args[0]})
				return WrapExitError(ExitFailure, "file apply failed", err)
			}

			if output != "" {
				if err := os.WriteFile(output, data, 0o644); err != nil {
					formatter.Error(ErrCodeWriteFailed, err.Error(), nil)
					return WrapExitError(ExitCommandError, "failed to write output", err)
				}
				formatter.VerboseLog("Wrote %d bytes to %s", len(data), output)
			}
			if rootOpts.Format == "json" {
				file, err := eng.File(ctx, args[0], versionID)
				if err != nil {
					return WrapExitError(ExitFailure, "read file descriptor", err)
				}
				return formatter.Success(map[string]any{
					"id": file.ID, "path": file.Path, "data": string(data),
				})
			}
			if output == "" {
				formatter.Writer.Write(data)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "version to read, by id or name (default: active)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the file content to a local path")
	return cmd
}
