package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/ecsrepl/internal/repl"
	"github.com/nvandessel/ecsrepl/internal/simulation"
)

func newCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare [script]",
		Short: "Run a script on every backend and report differences",
		Long: `Replay a script on the memory and SQLite backends side by side and report
the first line where their output differs. Without a script, or with
--builtin, a bundled scenario is used.

Examples:
  ecsrepl compare party.txt
  ecsrepl compare --builtin relations
  ecsrepl compare --list`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			builtin, _ := cmd.Flags().GetString("builtin")
			list, _ := cmd.Flags().GetBool("list")
			verbose, _ := cmd.Flags().GetBool("verbose")
			out := cmd.OutOrStdout()

			if list {
				names := simulation.BuiltinNames()
				if jsonOut {
					return json.NewEncoder(out).Encode(map[string]any{"scenarios": names})
				}
				for _, n := range names {
					fmt.Fprintln(out, n)
				}
				return nil
			}

			var sc simulation.Scenario
			var err error
			if len(args) == 1 {
				sc, err = simulation.LoadScenario(args[0])
			} else {
				sc, err = simulation.Builtin(builtin)
			}
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			result, err := simulation.NewRunner(simulation.DefaultBackends()...).
				WithOptions(repl.Options{Relation: cfg.REPL.Relation, Deferred: cfg.REPL.Deferred}).
				Run(cmd.Context(), sc)
			if err != nil {
				return fmt.Errorf("run %s: %w", sc.Name, err)
			}
			divergences := result.Divergences()

			if jsonOut {
				backends := make([]string, 0, len(result.Transcripts))
				for _, t := range result.Transcripts {
					backends = append(backends, t.Backend)
				}
				if err := json.NewEncoder(out).Encode(map[string]any{
					"scenario":    sc.Name,
					"backends":    backends,
					"lines":       len(sc.Lines),
					"divergences": divergences,
				}); err != nil {
					return err
				}
			} else {
				if verbose && len(result.Transcripts) > 0 {
					fmt.Fprint(out, result.Transcripts[0].Output())
					fmt.Fprintln(out, strings.Repeat("-", 40))
				}
				if len(divergences) == 0 {
					fmt.Fprintf(out, "%s: %d lines, all backends agree\n", sc.Name, len(sc.Lines))
				}
				for _, d := range divergences {
					fmt.Fprintf(out, "%s: diverged at %s\n", sc.Name, d)
				}
			}

			if len(divergences) > 0 {
				return fmt.Errorf("%d backend(s) diverged", len(divergences))
			}
			return nil
		},
	}
	cmd.Flags().String("builtin", "rpg", "Bundled scenario to run when no script is given")
	cmd.Flags().Bool("list", false, "List bundled scenarios")
	cmd.Flags().BoolP("verbose", "v", false, "Print the transcript before the verdict")
	return cmd
}
