package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvandessel/ecsrepl/internal/repl"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <script>",
		Short: "Run a REPL script and exit",
		Long: `Run every line of a script file against a fresh store, as if typed at the
REPL. Use "-" to read the script from stdin.

Examples:
  ecsrepl run party.txt
  ecsrepl run --backend sqlite party.txt
  ecsrepl run --stats party.txt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			showStats, _ := cmd.Flags().GetBool("stats")
			deferred, _ := cmd.Flags().GetBool("deferred")

			in, closeIn, err := openScript(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeIn()

			sess, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			out := cmd.OutOrStdout()
			r := repl.New(sess.store, out, repl.Options{
				Relation: sess.cfg.REPL.Relation,
				Deferred: deferred || sess.cfg.REPL.Deferred,
				Logger:   sess.logger,
				Journal:  sess.journal,
				Metrics:  sess.store.Gatherer(),
			})
			if err := r.Run(cmd.Context(), in); err != nil {
				return err
			}

			if showStats {
				fmt.Fprintln(out, "--- stats ---")
				r.Exec(cmd.Context(), "stats")
			}
			return nil
		},
	}
	cmd.Flags().Bool("stats", false, "Print store metrics after the script")
	cmd.Flags().Bool("deferred", false, "Queue mutations until the next read command")
	return cmd
}

// openScript opens path for reading, or stdin for "-".
func openScript(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open script: %w", err)
	}
	return f, func() { f.Close() }, nil
}
