// Package visualization renders entity relation graphs in various output formats.
package visualization

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nvandessel/ecsrepl/internal/rpg"
	"github.com/nvandessel/ecsrepl/internal/store"
)

// Format specifies the output format for graph rendering.
type Format string

const (
	FormatDOT  Format = "dot"
	FormatJSON Format = "json"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatDOT, FormatJSON:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown format %q (valid: dot, json)", s)
	}
}

// tierColors maps health tiers to DOT fill colors.
var tierColors = map[rpg.Tier]string{
	rpg.TierHigh:   "mediumseagreen",
	rpg.TierMedium: "goldenrod",
	rpg.TierLow:    "tomato",
}

// Edge is one parent -> child link under a relation.
type Edge struct {
	Relation string         `json:"relation"`
	Parent   store.EntityID `json:"source"`
	Child    store.EntityID `json:"target"`
}

// RenderDOT produces a Graphviz DOT representation of the live entities and
// their relation edges. An empty rel renders every relation.
func RenderDOT(ctx context.Context, s store.EntityStore, rel string) (string, error) {
	snaps, err := s.Entities(ctx)
	if err != nil {
		return "", fmt.Errorf("list entities: %w", err)
	}

	var b strings.Builder
	b.WriteString("digraph ecs {\n")
	b.WriteString("  rankdir=TB;\n")
	b.WriteString("  node [shape=box, style=filled, fontname=\"Helvetica\"];\n")
	b.WriteString("  edge [fontname=\"Helvetica\", fontsize=10];\n\n")

	for _, snap := range snaps {
		color := "lightgray"
		tooltip := "no health"
		if hp, ok := snap.Attribute(rpg.AttrHealth); ok {
			color = tierColors[rpg.HealthTier(hp)]
			tooltip = fmt.Sprintf("health=%d", hp)
		}
		fmt.Fprintf(&b, "  %d [label=%q, fillcolor=%q, tooltip=%q];\n",
			snap.ID, truncate(snap.Name, 40), color, tooltip)
	}
	b.WriteString("\n")

	for _, e := range CollectEdges(snaps, rel) {
		fmt.Fprintf(&b, "  %d -> %d [label=%q];\n", e.Parent, e.Child, e.Relation)
	}

	b.WriteString("}\n")
	return b.String(), nil
}

// RenderJSON produces a JSON graph representation with nodes and edges arrays.
func RenderJSON(ctx context.Context, s store.EntityStore, rel string) (map[string]any, error) {
	snaps, err := s.Entities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}

	nodes := make([]map[string]any, 0, len(snaps))
	for _, snap := range snaps {
		attrs := make(map[string]int64, len(snap.Attributes))
		for _, a := range snap.Attributes {
			attrs[a.Name] = a.Value
		}
		node := map[string]any{
			"id":         snap.ID,
			"name":       snap.Name,
			"attributes": attrs,
			"created":    snap.Created,
		}
		if hp, ok := snap.Attribute(rpg.AttrHealth); ok {
			node["tier"] = rpg.HealthTier(hp)
		}
		nodes = append(nodes, node)
	}

	edges := CollectEdges(snaps, rel)
	if edges == nil {
		edges = []Edge{}
	}

	return map[string]any{
		"nodes":      nodes,
		"edges":      edges,
		"node_count": len(nodes),
		"edge_count": len(edges),
	}, nil
}

// CollectEdges gathers the parent edges of snaps, restricted to rel unless it
// is empty. Edges come out ordered by child, then relation, then parent.
func CollectEdges(snaps []store.Snapshot, rel string) []Edge {
	var result []Edge
	for _, snap := range snaps {
		rels := make([]string, 0, len(snap.Parents))
		for r := range snap.Parents {
			if rel == "" || r == rel {
				rels = append(rels, r)
			}
		}
		sort.Strings(rels)
		for _, r := range rels {
			for _, p := range snap.Parents[r] {
				result = append(result, Edge{Relation: r, Parent: p, Child: snap.ID})
			}
		}
	}
	return result
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
