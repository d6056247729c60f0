package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nvandessel/ecsrepl/internal/repl"
	"github.com/nvandessel/ecsrepl/internal/visualization"
)

func newGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph [script]",
		Short: "Visualize the entity graph",
		Long: `Replay an optional script, then output the resulting entity graph in DOT
(Graphviz) or JSON format. Script output is discarded.

Examples:
  ecsrepl graph party.txt | dot -Tsvg > party.svg
  ecsrepl graph --format json --relation member party.txt`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatFlag, _ := cmd.Flags().GetString("format")
			rel, _ := cmd.Flags().GetString("relation")
			all, _ := cmd.Flags().GetBool("all")

			format, err := visualization.ParseFormat(formatFlag)
			if err != nil {
				return err
			}

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

			switch {
			case all:
				rel = ""
			case rel == "":
				rel = sess.cfg.REPL.Relation
			}

			switch format {
			case visualization.FormatDOT:
				dot, err := visualization.RenderDOT(ctx, sess.store, rel)
				if err != nil {
					return fmt.Errorf("render DOT: %w", err)
				}
				fmt.Fprint(cmd.OutOrStdout(), dot)

			case visualization.FormatJSON:
				result, err := visualization.RenderJSON(ctx, sess.store, rel)
				if err != nil {
					return fmt.Errorf("render JSON: %w", err)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return fmt.Errorf("encode JSON: %w", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().String("format", "dot", "Output format: dot or json")
	cmd.Flags().String("relation", "", "Relation to draw (default from config)")
	cmd.Flags().Bool("all", false, "Draw every relation")
	return cmd
}
