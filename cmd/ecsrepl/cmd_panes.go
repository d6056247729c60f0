package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nvandessel/ecsrepl/internal/panes"
)

func newPanesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "panes",
		Short: "Run the pane/dataset subscription demo",
		Long: `Create three display panes subscribed to shared sensor datasets through the
deferred command queue, then delete one pane and show how subscriptions
follow. Datasets are deduplicated by key and linked to panes under the
"uses" relation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			sess, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx := cmd.Context()
			if !jsonOut {
				return panes.RunDemo(ctx, sess.store, cmd.OutOrStdout())
			}

			if err := panes.RunDemo(ctx, sess.store, io.Discard); err != nil {
				return err
			}
			r := panes.NewRegistry(sess.store)
			subs, err := r.Subscriptions(ctx)
			if err != nil {
				return fmt.Errorf("list subscriptions: %w", err)
			}
			stats, err := r.Stats(ctx)
			if err != nil {
				return fmt.Errorf("pane stats: %w", err)
			}
			rows := make([]map[string]any, 0, len(subs))
			for _, sub := range subs {
				names := make([]string, 0, len(sub.Panes))
				for _, p := range sub.Panes {
					names = append(names, p.Name())
				}
				rows = append(rows, map[string]any{
					"dataset": sub.Dataset.Key(),
					"id":      sub.Dataset.ID(),
					"panes":   names,
				})
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
				"subscriptions": rows,
				"stats":         stats,
			})
		},
	}
}
