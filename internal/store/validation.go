package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// ValidateName rejects empty names and names containing whitespace, which the
// line-oriented REPL could not address.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name: %w", ErrInvalidName)
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return fmt.Errorf("name %q contains whitespace: %w", name, ErrInvalidName)
	}
	return nil
}

// ValidationError describes a relation graph consistency issue.
type ValidationError struct {
	Entity   EntityID `json:"entity,omitempty"`
	Relation string   `json:"relation,omitempty"`
	Ref      EntityID `json:"ref,omitempty"`    // the problematic reference
	Issue    string   `json:"issue"`            // "dangling", "asymmetric", "self-reference", "cycle", "integrity"
	Detail   string   `json:"detail,omitempty"` // backend report for integrity issues
}

// String returns a human-readable description of the validation error.
func (e ValidationError) String() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Issue, e.Detail)
	}
	return fmt.Sprintf("%s: %d in %s references %d", e.Issue, e.Entity, e.Relation, e.Ref)
}

// IntegrityChecker is implemented by backends that can check their own
// storage, such as SQLiteEntityStore.
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context) ([]string, error)
}

// integrityChecker finds an IntegrityChecker in s or in the stores it wraps.
func integrityChecker(s EntityStore) (IntegrityChecker, bool) {
	for {
		if ic, ok := s.(IntegrityChecker); ok {
			return ic, true
		}
		w, ok := s.(interface{ Unwrap() EntityStore })
		if !ok {
			return nil, false
		}
		s = w.Unwrap()
	}
}

// Validate checks every relation of s for consistency. Returns validation
// errors for:
// - Dangling references (edges to entities that are no longer live)
// - Asymmetric edges (forward and reverse index disagree)
// - Self-references
// - Cycles
// - Storage integrity problems, for backends implementing IntegrityChecker
//
// A store that only accepted edges through its own guards returns nothing.
func Validate(ctx context.Context, s EntityStore) ([]ValidationError, error) {
	snaps, err := s.Entities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}

	byID := make(map[EntityID]Snapshot, len(snaps))
	rels := make(map[string]bool)
	for _, snap := range snaps {
		byID[snap.ID] = snap
		for rel := range snap.Parents {
			rels[rel] = true
		}
		for rel := range snap.Children {
			rels[rel] = true
		}
	}

	relNames := make([]string, 0, len(rels))
	for rel := range rels {
		relNames = append(relNames, rel)
	}
	sort.Strings(relNames)

	var errs []ValidationError
	for _, rel := range relNames {
		graph := make(map[EntityID][]EntityID)
		for _, snap := range snaps {
			for _, p := range snap.Parents[rel] {
				parent, live := byID[p]
				switch {
				case p == snap.ID:
					errs = append(errs, ValidationError{Entity: snap.ID, Relation: rel, Ref: p, Issue: "self-reference"})
				case !live:
					errs = append(errs, ValidationError{Entity: snap.ID, Relation: rel, Ref: p, Issue: "dangling"})
				default:
					if !containsID(parent.Children[rel], snap.ID) {
						errs = append(errs, ValidationError{Entity: snap.ID, Relation: rel, Ref: p, Issue: "asymmetric"})
					}
					graph[snap.ID] = append(graph[snap.ID], p)
				}
			}
			for _, c := range snap.Children[rel] {
				if _, live := byID[c]; !live {
					errs = append(errs, ValidationError{Entity: snap.ID, Relation: rel, Ref: c, Issue: "dangling"})
				}
			}
		}

		for _, cycle := range detectCycles(graph, snaps) {
			if len(cycle) >= 2 {
				errs = append(errs, ValidationError{Entity: cycle[0], Relation: rel, Ref: cycle[1], Issue: "cycle"})
			}
		}
	}

	if ic, ok := integrityChecker(s); ok {
		issues, err := ic.CheckIntegrity(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to check integrity: %w", err)
		}
		for _, issue := range issues {
			errs = append(errs, ValidationError{Issue: "integrity", Detail: issue})
		}
	}

	return errs, nil
}

func containsID(ids []EntityID, id EntityID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// detectCycles detects cycles in a directed graph using DFS with color marking.
// Nodes are started in creation order so reports are deterministic.
func detectCycles(graph map[EntityID][]EntityID, snaps []Snapshot) [][]EntityID {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done)
	color := make(map[EntityID]int)
	parent := make(map[EntityID]EntityID)
	var cycles [][]EntityID

	var dfs func(node EntityID)
	dfs = func(node EntityID) {
		color[node] = 1

		for _, neighbor := range graph[node] {
			if color[neighbor] == 1 {
				// Back edge: walk the DFS parents back to neighbor
				cycle := []EntityID{neighbor, node}
				current := node
				for current != neighbor {
					p, ok := parent[current]
					if !ok || p == neighbor {
						break
					}
					cycle = append(cycle, p)
					current = p
				}
				cycles = append(cycles, cycle)
				continue
			}
			if color[neighbor] == 0 {
				parent[neighbor] = node
				dfs(neighbor)
			}
		}

		color[node] = 2
	}

	for _, snap := range snaps {
		if color[snap.ID] == 0 {
			dfs(snap.ID)
		}
	}
	return cycles
}
