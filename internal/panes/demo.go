package panes

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/nvandessel/ecsrepl/internal/store"
)

// RunDemo queues three panes over shared sensor datasets, processes them,
// prints the panes and subscriptions, deletes the third pane and prints the
// subscriptions again.
func RunDemo(ctx context.Context, s store.EntityStore, w io.Writer) error {
	r := NewRegistry(s)

	fmt.Fprintln(w, "=== Command-Based Pane Creation ===")
	r.EnqueuePane(800, 600, "temperature_sensor_1", "humidity_sensor_1")
	r.EnqueuePane(400, 300, "humidity_sensor_1")
	r.EnqueuePane(1024, 768, "temperature_sensor_1", "pressure_sensor_1")
	fmt.Fprintf(w, "Processing %d commands\n", r.Pending())
	if _, err := r.Process(ctx); err != nil {
		return fmt.Errorf("create panes: %w", err)
	}

	infos, err := r.Panes(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "\n=== Panes ===")
	for _, info := range infos {
		fmt.Fprintf(w, "%s %s %dx%d\n", info.Pane, info.Pane.Name(), info.Width, info.Height)
		if len(info.Datasets) == 0 {
			fmt.Fprintln(w, "  uses no datasets")
			continue
		}
		fmt.Fprintf(w, "  uses %d datasets: %s\n", len(info.Datasets), joinDatasets(info.Datasets))
	}

	if err := printSubscriptions(ctx, r, w); err != nil {
		return err
	}

	if len(infos) >= 3 {
		fmt.Fprintf(w, "\n=== Deleting %s ===\n", infos[2].Pane)
		if err := r.DeletePane(ctx, infos[2].Pane); err != nil {
			return fmt.Errorf("delete pane: %w", err)
		}
		if err := printSubscriptions(ctx, r, w); err != nil {
			return err
		}
	}

	st, err := r.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "\n=== Statistics ===")
	fmt.Fprintf(w, "panes: %d\ndatasets: %d\nlinks: %d\n", st.Panes, st.Datasets, st.Links)
	return nil
}

func printSubscriptions(ctx context.Context, r *Registry, w io.Writer) error {
	subs, err := r.Subscriptions(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "\n=== Dataset Subscriptions ===")
	for _, sub := range subs {
		fmt.Fprintf(w, "%s\n", sub.Dataset)
		if len(sub.Panes) == 0 {
			fmt.Fprintln(w, "  no pane subscriptions")
			continue
		}
		names := make([]string, 0, len(sub.Panes))
		for _, p := range sub.Panes {
			names = append(names, p.String())
		}
		fmt.Fprintf(w, "  subscribed by %d panes: %s\n", len(sub.Panes), strings.Join(names, ", "))
	}
	return nil
}

func joinDatasets(ds []DatasetHandle) string {
	parts := make([]string, 0, len(ds))
	for _, d := range ds {
		parts = append(parts, d.String())
	}
	return strings.Join(parts, ", ")
}
