package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/lix/internal/engine"
	"github.com/roach88/lix/internal/ir"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	All bool
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Execute statements from stdin and print commit events",
		Long: `Read SQL statements from stdin, each terminated by ';', execute them
one at a time and print the state_commit events they produce.

A failing statement is reported and the session continues. The command
stops at end of input or on Ctrl-C. With --format json every event is one
JSON line.

Examples:
  lix watch --db ./lix.db < changes.sql
  echo "INSERT INTO todo (id, title) VALUES ('t1', 'a');" | lix watch --db ./lix.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "include changes to builtin schemas")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	eng, err := opts.openEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	sub := eng.Subscribe()
	statements := readStatements(ctx, cmd.InOrStdin())
	builtin := builtinKeys()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer sub.Close()
		for {
			select {
			case <-gctx.Done():
				return nil
			case stmt, ok := <-statements:
				if !ok {
					return nil
				}
				if _, err := eng.Exec(gctx, stmt); err != nil {
					formatter.VerboseLog("statement failed: %s", stmt)
					fmt.Fprintf(formatter.GetErrWriter(), "Error [%s]: %v\n", ErrCodeStatement, err)
				}
			}
		}
	})
	g.Go(func() error {
		for {
			ev, err := sub.Next(gctx)
			switch {
			case errors.Is(err, engine.ErrSubscriptionClosed), errors.Is(err, context.Canceled):
				return nil
			case err != nil:
				return err
			}
			if err := printEvent(formatter, ev, builtin, opts.All); err != nil {
				return err
			}
		}
	})

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "watch failed", err)
	}
	return nil
}

// readStatements splits r into ';'-terminated statements. A trailing
// statement without ';' is sent at end of input. The channel closes at
// end of input or when ctx is done.
func readStatements(ctx context.Context, r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		var buf strings.Builder
		send := func() bool {
			stmt := strings.TrimSpace(buf.String())
			buf.Reset()
			if stmt == "" {
				return true
			}
			select {
			case out <- stmt:
				return true
			case <-ctx.Done():
				return false
			}
		}
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := scanner.Text()
			buf.WriteString(line)
			buf.WriteByte('\n')
			if strings.HasSuffix(strings.TrimSpace(line), ";") && !send() {
				return
			}
		}
		send()
	}()
	return out
}

// printEvent writes the visible changes of one commit event.
func printEvent(f *OutputFormatter, ev engine.StateCommitEvent, builtin map[string]bool, all bool) error {
	var changes []ir.CommittedChange
	for _, c := range ev.Changes {
		if all || !builtin[c.SchemaKey] {
			changes = append(changes, c)
		}
	}
	if len(changes) == 0 {
		return nil
	}

	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(engine.StateCommitEvent{Changes: changes})
	}
	fmt.Fprintf(f.Writer, "commit (%d change(s))\n", len(changes))
	for _, c := range changes {
		op := "upsert"
		if ir.IsNullSnapshot(c.Snapshot) {
			op = "delete"
		}
		if c.Untracked {
			op += " (untracked)"
		}
		fmt.Fprintf(f.Writer, "  %s %s %s version=%s\n", op, c.SchemaKey, c.EntityID, c.VersionID)
	}
	return nil
}
