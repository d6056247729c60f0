package repl

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nvandessel/ecsrepl/internal/metrics"
	"github.com/nvandessel/ecsrepl/internal/rpg"
	"github.com/nvandessel/ecsrepl/internal/store"
)

// names maps every live entity ID to its name.
func (r *Interpreter) names(ctx context.Context) (map[store.EntityID]string, []store.Snapshot, error) {
	snaps, err := r.s.Entities(ctx)
	if err != nil {
		return nil, nil, err
	}
	m := make(map[store.EntityID]string, len(snaps))
	for _, snap := range snaps {
		m[snap.ID] = snap.Name
	}
	return m, snaps, nil
}

func nameList(names map[store.EntityID]string, ids []store.EntityID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		if n, ok := names[id]; ok {
			parts[i] = n
		} else {
			parts[i] = "#" + strconv.FormatUint(uint64(id), 10)
		}
	}
	return strings.Join(parts, " ")
}

func sortedRelations(m map[string][]store.EntityID) []string {
	rels := make([]string, 0, len(m))
	for rel := range m {
		rels = append(rels, rel)
	}
	sort.Strings(rels)
	return rels
}

func (r *Interpreter) get(ctx context.Context, name string) error {
	id, err := r.s.Lookup(ctx, name)
	if err != nil {
		return err
	}
	snap, err := r.s.Entity(ctx, id)
	if err != nil {
		return err
	}
	names, _, err := r.names(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(r.out, "%s (%d)\n", snap.Name, snap.ID)
	if len(snap.Attributes) == 0 {
		fmt.Fprintln(r.out, "  no attributes")
	}
	for _, a := range snap.Attributes {
		switch a.Name {
		case rpg.AttrHealth:
			fmt.Fprintf(r.out, "  %s: %d (%s)\n", a.Name, a.Value, rpg.HealthTier(a.Value))
		case rpg.AttrMana:
			if maximum, ok := snap.Attribute(rpg.AttrMaxMana); ok {
				fmt.Fprintf(r.out, "  %s: %d/%d [%s] %d%% (%s)\n", a.Name, a.Value, maximum,
					rpg.ManaBar(a.Value, maximum), rpg.ManaPercent(a.Value, maximum), rpg.ManaTier(a.Value, maximum))
				continue
			}
			fmt.Fprintf(r.out, "  %s: %d\n", a.Name, a.Value)
		default:
			fmt.Fprintf(r.out, "  %s: %d\n", a.Name, a.Value)
		}
	}
	for _, rel := range sortedRelations(snap.Parents) {
		fmt.Fprintf(r.out, "  %s of: %s\n", rel, nameList(names, snap.Parents[rel]))
	}
	for _, rel := range sortedRelations(snap.Children) {
		fmt.Fprintf(r.out, "  %s: %s\n", rel, nameList(names, snap.Children[rel]))
	}
	return nil
}

// dump prints what changed since the previous dump boundary, then moves the
// boundary to the current epoch and advances the store past it.
func (r *Interpreter) dump(ctx context.Context, kind store.FilterKind) error {
	filter := store.Filter{Kind: kind, Since: r.since}
	snaps, err := r.s.Dump(ctx, filter)
	if err != nil {
		return err
	}
	names, _, err := r.names(ctx)
	if err != nil {
		return err
	}

	if kind == store.FilterAll {
		fmt.Fprintln(r.out, "== dump ==")
	} else {
		fmt.Fprintf(r.out, "== dump %s since epoch %d ==\n", kind, r.since)
	}
	if len(snaps) == 0 {
		fmt.Fprintln(r.out, "  (none)")
	}
	for _, snap := range snaps {
		fmt.Fprintf(r.out, "  %s\n", formatSnapshot(snap, names))
	}

	if kind == store.FilterAll {
		orphans, err := r.s.Orphans(ctx, r.opts.Relation)
		if err != nil {
			return err
		}
		if len(orphans) == 0 {
			fmt.Fprintf(r.out, "orphans (%s): none\n", r.opts.Relation)
		} else {
			fmt.Fprintf(r.out, "orphans (%s): %s\n", r.opts.Relation, nameList(names, orphans))
		}
	}

	cur, err := r.s.Epoch(ctx)
	if err != nil {
		return err
	}
	r.since = cur
	next, err := r.s.AdvanceEpoch(ctx)
	if err != nil {
		return err
	}
	r.journal("advance_epoch", map[string]any{"epoch": next})
	return nil
}

// formatSnapshot renders one dump line:
//
//	3 charlie created=1 modified=2 health=50 child->alice
func formatSnapshot(snap store.Snapshot, names map[store.EntityID]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s created=%d", snap.ID, snap.Name, snap.Created)
	if snap.Modified != 0 {
		fmt.Fprintf(&b, " modified=%d", snap.Modified)
	}
	if snap.Removed != 0 {
		fmt.Fprintf(&b, " removed=%d", snap.Removed)
	}
	for _, a := range snap.Attributes {
		fmt.Fprintf(&b, " %s=%d", a.Name, a.Value)
	}
	for _, rel := range sortedRelations(snap.Parents) {
		for _, p := range snap.Parents[rel] {
			fmt.Fprintf(&b, " %s->%s", rel, nameList(names, []store.EntityID{p}))
		}
	}
	return b.String()
}

func (r *Interpreter) tree(ctx context.Context, mode string) error {
	switch mode {
	case "dfs":
		fmt.Fprintf(r.out, "dfs (%s):\n", r.opts.Relation)
		empty := true
		err := store.WalkDFS(ctx, r.s, r.opts.Relation, func(snap store.Snapshot, depth int) {
			empty = false
			if depth == 0 {
				fmt.Fprintf(r.out, "  %s\n", snap.Name)
				return
			}
			fmt.Fprintf(r.out, "  %s└─ %s\n", strings.Repeat("   ", depth-1), snap.Name)
		})
		if err != nil {
			return err
		}
		if empty {
			fmt.Fprintln(r.out, "  (empty)")
		}
		return nil

	case "topo":
		order, err := r.s.TreeTopo(ctx, r.opts.Relation)
		if err != nil {
			return err
		}
		names, _, err := r.names(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "topo (%s):\n", r.opts.Relation)
		if len(order) == 0 {
			fmt.Fprintln(r.out, "  (empty)")
		}
		for i, id := range order {
			fmt.Fprintf(r.out, "  %d. %s\n", i+1, names[id])
		}
		return nil

	default:
		return fmt.Errorf("invalid tree mode %q: use dfs or topo", mode)
	}
}

func (r *Interpreter) list(ctx context.Context) error {
	_, snaps, err := r.names(ctx)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Fprintln(r.out, "no entities")
		return nil
	}
	for _, snap := range snaps {
		fmt.Fprintf(r.out, "%d %s\n", snap.ID, snap.Name)
	}
	return nil
}

func (r *Interpreter) validate(ctx context.Context) error {
	issues, err := store.Validate(ctx, r.s)
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		fmt.Fprintln(r.out, "store is consistent")
		return nil
	}
	fmt.Fprintf(r.out, "%d issue(s):\n", len(issues))
	for i, issue := range issues {
		fmt.Fprintf(r.out, "  %d. %s\n", i+1, issue)
	}
	return nil
}

func printStats(w io.Writer, g prometheus.Gatherer) error {
	samples, err := metrics.Summary(g)
	if err != nil {
		return err
	}
	for _, s := range samples {
		fmt.Fprintln(w, s)
	}
	return nil
}

var helpText = [][2]string{
	{"add entity <name>", "create an entity"},
	{"set <attr> <name> <value>", "set an integer attribute"},
	{"set-relation <rel> <child> parent <parent>", "make parent the only parent of child"},
	{"link-relation <rel> <child> parent <parent>", "add parent alongside existing ones"},
	{"rm-relation <rel> <child> parent <parent>", "remove one relation edge"},
	{"get <name>", "show attributes and relations"},
	{"remove <name> | rm <name>", "remove an entity"},
	{"dump [added|modified|removed]", "show changes since the last dump"},
	{"tick", "advance the epoch"},
	{"tree [dfs|topo]", "show the relation forest"},
	{"list", "list live entities"},
	{"cast <spell> <name> <cost>", "spend mana on a spell"},
	{"validate", "check relation indexes and storage"},
	{"echo <text>", "print text"},
	{"stats", "show store metrics"},
	{"help", "show this help"},
	{"quit | exit", "leave the REPL"},
}

func (r *Interpreter) help() {
	width := 0
	for _, h := range helpText {
		width = max(width, len(h[0]))
	}
	fmt.Fprintln(r.out, "commands:")
	for _, h := range helpText {
		fmt.Fprintf(r.out, "  %-*s  %s\n", width, h[0], h[1])
	}
}
