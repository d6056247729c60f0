package store

import (
	"container/heap"
	"context"
	"fmt"
	"slices"
)

// forest is a read-only view of one relation over the live entities. Both
// backends build it from snapshots so traversal orders match exactly.
type forest struct {
	order    []EntityID // live entities, creation order
	parents  map[EntityID][]EntityID
	children map[EntityID][]EntityID
}

func newForest(snaps []Snapshot, rel string) *forest {
	f := &forest{
		order:    make([]EntityID, 0, len(snaps)),
		parents:  make(map[EntityID][]EntityID),
		children: make(map[EntityID][]EntityID),
	}
	live := make(map[EntityID]bool, len(snaps))
	for _, snap := range snaps {
		live[snap.ID] = true
	}
	for _, snap := range snaps {
		f.order = append(f.order, snap.ID)
		for _, p := range snap.Parents[rel] {
			if !live[p] {
				continue
			}
			f.parents[snap.ID] = append(f.parents[snap.ID], p)
			f.children[p] = append(f.children[p], snap.ID)
		}
	}
	slices.Sort(f.order)
	for id := range f.children {
		slices.Sort(f.children[id])
	}
	return f
}

func (f *forest) roots() []EntityID {
	var roots []EntityID
	for _, id := range f.order {
		if len(f.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// walk visits the forest depth-first in pre-order, roots and siblings in
// creation order. A node reachable along several paths is visited once, at
// the depth of the first path.
func (f *forest) walk(fn func(id EntityID, depth int)) {
	visited := make(map[EntityID]bool, len(f.order))
	type frame struct {
		id    EntityID
		depth int
	}
	for _, root := range f.roots() {
		stack := []frame{{root, 0}}
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[top.id] {
				continue
			}
			visited[top.id] = true
			fn(top.id, top.depth)

			kids := f.children[top.id]
			for i := len(kids) - 1; i >= 0; i-- {
				if !visited[kids[i]] {
					stack = append(stack, frame{kids[i], top.depth + 1})
				}
			}
		}
	}
}

func (f *forest) dfsOrder() []EntityID {
	out := make([]EntityID, 0, len(f.order))
	f.walk(func(id EntityID, _ int) { out = append(out, id) })
	return out
}

// topo is Kahn's algorithm with the ready set ordered by creation.
func (f *forest) topo() ([]EntityID, error) {
	indegree := make(map[EntityID]int, len(f.order))
	ready := &idHeap{}
	for _, id := range f.order {
		indegree[id] = len(f.parents[id])
		if indegree[id] == 0 {
			heap.Push(ready, id)
		}
	}

	out := make([]EntityID, 0, len(f.order))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(EntityID)
		out = append(out, id)
		for _, c := range f.children[id] {
			indegree[c]--
			if indegree[c] == 0 {
				heap.Push(ready, c)
			}
		}
	}

	if len(out) != len(f.order) {
		return nil, fmt.Errorf("topological order covers %d of %d entities: %w", len(out), len(f.order), ErrCycleDetected)
	}
	return out, nil
}

func (f *forest) orphans() []EntityID {
	var out []EntityID
	for _, id := range f.order {
		if len(f.parents[id]) == 0 && len(f.children[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// idHeap is a min-heap of entity IDs.
type idHeap []EntityID

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x any)        { *h = append(*h, x.(EntityID)) }
func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// reachesAncestor reports whether target is start or one of its ancestors.
// The visited set keeps it finite on malformed graphs.
func reachesAncestor(start, target EntityID, parentsOf func(EntityID) []EntityID) bool {
	visited := make(map[EntityID]bool)
	queue := []EntityID{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == target {
			return true
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		queue = append(queue, parentsOf(id)...)
	}
	return false
}

func filterSnapshots(snaps []Snapshot, filter Filter) []Snapshot {
	out := make([]Snapshot, 0, len(snaps))
	for _, snap := range snaps {
		if filter.match(snap) {
			out = append(out, snap)
		}
	}
	return out
}

func removedSince(tombstones []Snapshot, since Epoch) []Snapshot {
	out := make([]Snapshot, 0)
	for _, t := range tombstones {
		if t.Removed > since {
			out = append(out, t)
		}
	}
	return out
}

// WalkDFS visits s's rel forest in the same order as TreeDFS, also reporting
// each entity's depth below its root.
func WalkDFS(ctx context.Context, s EntityStore, rel string, fn func(snap Snapshot, depth int)) error {
	snaps, err := s.Entities(ctx)
	if err != nil {
		return fmt.Errorf("list entities: %w", err)
	}
	byID := make(map[EntityID]Snapshot, len(snaps))
	for _, snap := range snaps {
		byID[snap.ID] = snap
	}
	newForest(snaps, rel).walk(func(id EntityID, depth int) {
		fn(byID[id], depth)
	})
	return nil
}
