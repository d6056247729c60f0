package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/nvandessel/ecsrepl/internal/repl"
)

func newREPLCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Start the interactive REPL (default)",
		Long: `Read commands from stdin and run them against a fresh store.

The prompt is shown only when stdin is a terminal, so scripts can be piped in:

  ecsrepl repl < party.txt
  ecsrepl --backend sqlite --log-level trace`,
		Args: cobra.NoArgs,
		RunE: runREPL,
	}
	cmd.Flags().Bool("deferred", false, "Queue mutations until the next read command (overrides config)")
	return cmd
}

func runREPL(cmd *cobra.Command, args []string) error {
	sess, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	deferred := sess.cfg.REPL.Deferred
	if f := cmd.Flags().Lookup("deferred"); f != nil && f.Changed {
		deferred, _ = cmd.Flags().GetBool("deferred")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	notifySignals(sigCh)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			sess.logger.Debug("interrupted")
			cancel()
		case <-ctx.Done():
		}
	}()

	in := cmd.InOrStdin()
	interactive := isTerminal(in)
	out := cmd.OutOrStdout()
	if interactive {
		fmt.Fprintf(out, "ecsrepl %s (%s backend). Type 'help' for commands.\n", version, sess.cfg.Store.Backend)
	}

	r := repl.New(sess.store, out, repl.Options{
		Relation:    sess.cfg.REPL.Relation,
		Prompt:      sess.cfg.REPL.Prompt,
		Interactive: interactive,
		Deferred:    deferred,
		Logger:      sess.logger,
		Journal:     sess.journal,
		Metrics:     sess.store.Gatherer(),
	})
	if err := r.Run(ctx, in); err != nil {
		return err
	}
	if interactive {
		fmt.Fprintln(out)
	}
	return nil
}

// isTerminal reports whether r is an interactive terminal.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
