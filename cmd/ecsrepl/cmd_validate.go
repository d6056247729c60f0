package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nvandessel/ecsrepl/internal/repl"
	"github.com/nvandessel/ecsrepl/internal/store"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [script]",
		Short: "Check the entity graph for consistency issues",
		Long: `Replay an optional script, then check the resulting store for consistency
issues. Script output is discarded.

This command checks for:
  - Dangling references (edges to entities that are no longer live)
  - Asymmetric edges (parent and child indexes disagree)
  - Self-references and cycles
  - SQLite integrity and foreign key problems (sqlite backend)

Examples:
  ecsrepl validate party.txt
  ecsrepl validate --backend sqlite --json party.txt`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			sess, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx := cmd.Context()
			if len(args) == 1 {
				in, closeIn, err := openScript(cmd, args[0])
				if err != nil {
					return err
				}
				defer closeIn()
				r := repl.New(sess.store, io.Discard, repl.Options{
					Relation: sess.cfg.REPL.Relation,
					Logger:   sess.logger,
					Journal:  sess.journal,
				})
				if err := r.Run(ctx, in); err != nil {
					return fmt.Errorf("replay script: %w", err)
				}
			}

			issues, err := store.Validate(ctx, sess.store)
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}
			return outputValidationResults(cmd.OutOrStdout(), issues, sess.cfg.Store.Backend, jsonOut)
		},
	}
}

// outputValidationResults formats and outputs validation results.
func outputValidationResults(w io.Writer, issues []store.ValidationError, backend string, jsonOut bool) error {
	valid := len(issues) == 0

	if jsonOut {
		if issues == nil {
			issues = []store.ValidationError{}
		}
		return json.NewEncoder(w).Encode(map[string]any{
			"valid":       valid,
			"backend":     backend,
			"issue_count": len(issues),
			"issues":      issues,
		})
	}

	fmt.Fprintf(w, "Validating %s store...\n", backend)
	if valid {
		fmt.Fprintln(w, "Store is consistent, no issues found.")
		return nil
	}
	fmt.Fprintf(w, "Found %d issue(s):\n", len(issues))
	for i, issue := range issues {
		fmt.Fprintf(w, "%d. %s\n", i+1, issue)
	}
	return nil
}
