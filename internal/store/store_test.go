package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
)

// backends lists every EntityStore implementation; each contract test runs
// against all of them.
func backends(t *testing.T) map[string]func() EntityStore {
	t.Helper()
	return map[string]func() EntityStore{
		"memory": func() EntityStore { return NewInMemoryEntityStore() },
		"sqlite": func() EntityStore {
			s, err := NewSQLiteEntityStore(context.Background())
			if err != nil {
				t.Fatalf("NewSQLiteEntityStore() error = %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s EntityStore)) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, newStore())
		})
	}
}

func mustCreate(t *testing.T, s EntityStore, names ...string) []EntityID {
	t.Helper()
	ids := make([]EntityID, 0, len(names))
	for _, name := range names {
		id, err := s.CreateEntity(context.Background(), name)
		if err != nil {
			t.Fatalf("CreateEntity(%q) error = %v", name, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func mustAdvance(t *testing.T, s EntityStore) Epoch {
	t.Helper()
	e, err := s.AdvanceEpoch(context.Background())
	if err != nil {
		t.Fatalf("AdvanceEpoch() error = %v", err)
	}
	return e
}

func ids(snaps []Snapshot) []EntityID {
	out := make([]EntityID, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, s.ID)
	}
	return out
}

func TestEntityStore_CreateEntity(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()

		got := mustCreate(t, s, "a", "b", "c")
		want := []EntityID{1, 2, 3}
		if !slices.Equal(got, want) {
			t.Errorf("CreateEntity() ids = %v, want %v", got, want)
		}

		if _, err := s.CreateEntity(ctx, "a"); !errors.Is(err, ErrAlreadyExists) {
			t.Errorf("CreateEntity(duplicate) error = %v, want ErrAlreadyExists", err)
		}
		for _, bad := range []string{"", "two words", "tab\tbed"} {
			if _, err := s.CreateEntity(ctx, bad); !errors.Is(err, ErrInvalidName) {
				t.Errorf("CreateEntity(%q) error = %v, want ErrInvalidName", bad, err)
			}
		}

		id, err := s.Lookup(ctx, "b")
		if err != nil || id != 2 {
			t.Errorf("Lookup(b) = %v, %v, want 2, nil", id, err)
		}
		if _, err := s.Lookup(ctx, "zzz"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Lookup(zzz) error = %v, want ErrNotFound", err)
		}
	})
}

func TestEntityStore_IDsNeverReused(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()
		created := mustCreate(t, s, "a", "b")
		if err := s.RemoveEntity(ctx, created[1]); err != nil {
			t.Fatalf("RemoveEntity() error = %v", err)
		}

		// The freed name can be reused, the freed ID cannot
		id, err := s.CreateEntity(ctx, "b")
		if err != nil {
			t.Fatalf("CreateEntity() error = %v", err)
		}
		if id != 3 {
			t.Errorf("CreateEntity() after remove = %d, want 3", id)
		}
	})
}

func TestEntityStore_Attributes(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()
		id := mustCreate(t, s, "hero")[0]

		if _, err := s.GetAttribute(ctx, id, "health"); !errors.Is(err, ErrAttributeMissing) {
			t.Errorf("GetAttribute(missing) error = %v, want ErrAttributeMissing", err)
		}
		if _, err := s.GetAttribute(ctx, 99, "health"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetAttribute(unknown entity) error = %v, want ErrNotFound", err)
		}
		if err := s.SetAttribute(ctx, 99, "health", 1); !errors.Is(err, ErrNotFound) {
			t.Errorf("SetAttribute(unknown entity) error = %v, want ErrNotFound", err)
		}

		for _, step := range []struct {
			name  string
			value int64
		}{
			{"health", 100},
			{"mana", 50},
			{"health", -5},
		} {
			if err := s.SetAttribute(ctx, id, step.name, step.value); err != nil {
				t.Fatalf("SetAttribute(%s) error = %v", step.name, err)
			}
		}

		got, err := s.GetAttribute(ctx, id, "health")
		if err != nil || got != -5 {
			t.Errorf("GetAttribute(health) = %d, %v, want -5, nil", got, err)
		}

		snap, err := s.Entity(ctx, id)
		if err != nil {
			t.Fatalf("Entity() error = %v", err)
		}
		want := []Attribute{{"health", -5}, {"mana", 50}}
		if !slices.Equal(snap.Attributes, want) {
			t.Errorf("Entity().Attributes = %v, want %v", snap.Attributes, want)
		}
	})
}

func TestEntityStore_SetRelationReplacesParent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()
		e := mustCreate(t, s, "child", "p1", "p2")

		if err := s.SetRelation(ctx, "child", e[0], e[1]); err != nil {
			t.Fatalf("SetRelation() error = %v", err)
		}
		if err := s.SetRelation(ctx, "child", e[0], e[2]); err != nil {
			t.Fatalf("SetRelation() error = %v", err)
		}

		parents, _ := s.Parents(ctx, "child", e[0])
		if !slices.Equal(parents, []EntityID{e[2]}) {
			t.Errorf("Parents() = %v, want [%d]", parents, e[2])
		}
		old, _ := s.Children(ctx, "child", e[1])
		if len(old) != 0 {
			t.Errorf("Children(old parent) = %v, want empty", old)
		}
		kids, _ := s.Children(ctx, "child", e[2])
		if !slices.Equal(kids, []EntityID{e[0]}) {
			t.Errorf("Children(new parent) = %v, want [%d]", kids, e[0])
		}
	})
}

func TestEntityStore_LinkRelation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()
		e := mustCreate(t, s, "pane", "d1", "d2")

		for _, d := range []EntityID{e[2], e[1], e[1]} {
			if err := s.LinkRelation(ctx, "uses", e[0], d); err != nil {
				t.Fatalf("LinkRelation() error = %v", err)
			}
		}

		parents, _ := s.Parents(ctx, "uses", e[0])
		if !slices.Equal(parents, []EntityID{e[1], e[2]}) {
			t.Errorf("Parents() = %v, want [%d %d]", parents, e[1], e[2])
		}

		if err := s.RemoveRelation(ctx, "uses", e[0], e[1]); err != nil {
			t.Fatalf("RemoveRelation() error = %v", err)
		}
		if err := s.RemoveRelation(ctx, "uses", e[0], e[1]); !errors.Is(err, ErrRelationMissing) {
			t.Errorf("RemoveRelation(again) error = %v, want ErrRelationMissing", err)
		}
		parents, _ = s.Parents(ctx, "uses", e[0])
		if !slices.Equal(parents, []EntityID{e[2]}) {
			t.Errorf("Parents() after remove = %v, want [%d]", parents, e[2])
		}
	})
}

func TestEntityStore_CycleGuard(t *testing.T) {
	tests := []struct {
		name   string
		edges  [][2]int // child, parent indexes into a, b, c
		child  int
		parent int
	}{
		{name: "self parent", child: 0, parent: 0},
		{name: "direct cycle", edges: [][2]int{{1, 0}}, child: 0, parent: 1},
		{name: "indirect cycle", edges: [][2]int{{1, 0}, {2, 1}}, child: 0, parent: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forEachBackend(t, func(t *testing.T, s EntityStore) {
				ctx := context.Background()
				e := mustCreate(t, s, "a", "b", "c")
				for _, edge := range tt.edges {
					if err := s.SetRelation(ctx, "child", e[edge[0]], e[edge[1]]); err != nil {
						t.Fatalf("SetRelation() error = %v", err)
					}
				}
				before, _ := s.Entities(ctx)

				for _, set := range []func(context.Context, string, EntityID, EntityID) error{s.SetRelation, s.LinkRelation} {
					err := set(ctx, "child", e[tt.child], e[tt.parent])
					if !errors.Is(err, ErrCycleDetected) {
						t.Errorf("relation error = %v, want ErrCycleDetected", err)
					}
				}

				after, _ := s.Entities(ctx)
				if len(after) != len(before) {
					t.Fatalf("Entities() changed size after rejected edge")
				}
				for i := range after {
					if !slices.Equal(after[i].Parents["child"], before[i].Parents["child"]) {
						t.Errorf("entity %d parents changed: %v -> %v", after[i].ID, before[i].Parents["child"], after[i].Parents["child"])
					}
				}
			})
		})
	}
}

func TestEntityStore_RelationsAreIndependent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()
		e := mustCreate(t, s, "a", "b")

		if err := s.SetRelation(ctx, "child", e[1], e[0]); err != nil {
			t.Fatalf("SetRelation() error = %v", err)
		}
		// The reverse edge is only a cycle within the same relation
		if err := s.SetRelation(ctx, "owns", e[0], e[1]); err != nil {
			t.Errorf("SetRelation(other relation) error = %v", err)
		}
	})
}

func TestEntityStore_RemoveEntity(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()
		e := mustCreate(t, s, "root", "mid", "leaf")
		s.SetRelation(ctx, "child", e[1], e[0])
		s.SetRelation(ctx, "child", e[2], e[1])
		s.SetAttribute(ctx, e[1], "health", 10)

		if err := s.RemoveEntity(ctx, e[1]); err != nil {
			t.Fatalf("RemoveEntity() error = %v", err)
		}
		if err := s.RemoveEntity(ctx, e[1]); !errors.Is(err, ErrNotFound) {
			t.Errorf("RemoveEntity(again) error = %v, want ErrNotFound", err)
		}
		if _, err := s.Entity(ctx, e[1]); !errors.Is(err, ErrNotFound) {
			t.Errorf("Entity(removed) error = %v, want ErrNotFound", err)
		}

		kids, _ := s.Children(ctx, "child", e[0])
		if len(kids) != 0 {
			t.Errorf("Children(root) = %v, want empty", kids)
		}
		parents, _ := s.Parents(ctx, "child", e[2])
		if len(parents) != 0 {
			t.Errorf("Parents(leaf) = %v, want empty", parents)
		}
		if err := s.SetRelation(ctx, "child", e[2], e[1]); !errors.Is(err, ErrNotFound) {
			t.Errorf("SetRelation(to removed) error = %v, want ErrNotFound", err)
		}

		tombs, _ := s.Dump(ctx, RemovedSince(0))
		if len(tombs) != 1 {
			t.Fatalf("Dump(removed) = %v, want one tombstone", tombs)
		}
		tomb := tombs[0]
		if tomb.ID != e[1] || tomb.Name != "mid" || tomb.Removed != 1 {
			t.Errorf("tombstone = %+v", tomb)
		}
		if v, ok := tomb.Attribute("health"); !ok || v != 10 {
			t.Errorf("tombstone health = %d, %v, want 10, true", v, ok)
		}
		if tomb.Parents != nil || tomb.Children != nil {
			t.Errorf("tombstone relations = %v / %v, want none", tomb.Parents, tomb.Children)
		}
	})
}

func TestEntityStore_ChangeTracking(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()

		start, _ := s.Epoch(ctx)
		if start != 1 {
			t.Fatalf("Epoch() = %d, want 1", start)
		}
		e := mustCreate(t, s, "a", "b")

		// Entities created in the current epoch are added, not modified
		added, _ := s.Dump(ctx, AddedSince(0))
		if !slices.Equal(ids(added), e) {
			t.Errorf("Dump(added since 0) = %v, want %v", ids(added), e)
		}
		modified, _ := s.Dump(ctx, ModifiedSince(0))
		if len(modified) != 0 {
			t.Errorf("Dump(modified since 0) = %v, want empty", ids(modified))
		}

		boundary, _ := s.Epoch(ctx)
		mustAdvance(t, s)

		c := mustCreate(t, s, "c")[0]
		if err := s.SetAttribute(ctx, e[0], "health", 1); err != nil {
			t.Fatal(err)
		}

		added, _ = s.Dump(ctx, AddedSince(boundary))
		if !slices.Equal(ids(added), []EntityID{c}) {
			t.Errorf("Dump(added) = %v, want [%d]", ids(added), c)
		}
		modified, _ = s.Dump(ctx, ModifiedSince(boundary))
		if !slices.Equal(ids(modified), []EntityID{e[0]}) {
			t.Errorf("Dump(modified) = %v, want [%d]", ids(modified), e[0])
		}

		// Reads never mark anything
		boundary, _ = s.Epoch(ctx)
		mustAdvance(t, s)
		s.GetAttribute(ctx, e[0], "health")
		s.Entities(ctx)
		s.TreeDFS(ctx, "child")
		modified, _ = s.Dump(ctx, ModifiedSince(boundary))
		if len(modified) != 0 {
			t.Errorf("Dump(modified) after reads = %v, want empty", ids(modified))
		}

		all, _ := s.Dump(ctx, All())
		if len(all) != 3 {
			t.Errorf("Dump(all) = %d entities, want 3", len(all))
		}
	})
}

func TestEntityStore_RelationMarksBothEnds(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()
		e := mustCreate(t, s, "child", "p1", "p2", "bystander")
		s.SetRelation(ctx, "child", e[0], e[1])

		boundary, _ := s.Epoch(ctx)
		mustAdvance(t, s)
		if err := s.SetRelation(ctx, "child", e[0], e[2]); err != nil {
			t.Fatal(err)
		}

		modified, _ := s.Dump(ctx, ModifiedSince(boundary))
		want := []EntityID{e[0], e[1], e[2]}
		if !slices.Equal(ids(modified), want) {
			t.Errorf("Dump(modified) = %v, want %v", ids(modified), want)
		}

		boundary, _ = s.Epoch(ctx)
		mustAdvance(t, s)
		if err := s.RemoveEntity(ctx, e[2]); err != nil {
			t.Fatal(err)
		}
		modified, _ = s.Dump(ctx, ModifiedSince(boundary))
		if !slices.Equal(ids(modified), []EntityID{e[0]}) {
			t.Errorf("Dump(modified) after remove = %v, want [%d]", ids(modified), e[0])
		}
		removed, _ := s.Dump(ctx, RemovedSince(boundary))
		if !slices.Equal(ids(removed), []EntityID{e[2]}) {
			t.Errorf("Dump(removed) = %v, want [%d]", ids(removed), e[2])
		}
	})
}

func TestEntityStore_Orphans(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()
		e := mustCreate(t, s, "a", "b", "c", "d")
		s.SetRelation(ctx, "child", e[1], e[0])
		s.SetRelation(ctx, "owns", e[3], e[2])

		got, err := s.Orphans(ctx, "child")
		if err != nil {
			t.Fatalf("Orphans() error = %v", err)
		}
		want := []EntityID{e[2], e[3]}
		if !slices.Equal(got, want) {
			t.Errorf("Orphans(child) = %v, want %v", got, want)
		}
	})
}

func TestEntityStore_TreeOrders(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()
		// root(1) -> a(2) -> a1(4); root -> b(3); lone(5); b -> late(6)
		e := mustCreate(t, s, "root", "a", "b", "a1", "lone", "late")
		s.SetRelation(ctx, "child", e[1], e[0])
		s.SetRelation(ctx, "child", e[2], e[0])
		s.SetRelation(ctx, "child", e[3], e[1])
		s.SetRelation(ctx, "child", e[5], e[2])

		dfs, err := s.TreeDFS(ctx, "child")
		if err != nil {
			t.Fatalf("TreeDFS() error = %v", err)
		}
		wantDFS := []EntityID{1, 2, 4, 3, 6, 5}
		if !slices.Equal(dfs, wantDFS) {
			t.Errorf("TreeDFS() = %v, want %v", dfs, wantDFS)
		}

		topo, err := s.TreeTopo(ctx, "child")
		if err != nil {
			t.Fatalf("TreeTopo() error = %v", err)
		}
		wantTopo := []EntityID{1, 2, 3, 4, 5, 6}
		if !slices.Equal(topo, wantTopo) {
			t.Errorf("TreeTopo() = %v, want %v", topo, wantTopo)
		}
	})
}

func TestEntityStore_TreeMultiParent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()
		e := mustCreate(t, s, "p1", "p2", "shared")
		s.LinkRelation(ctx, "uses", e[2], e[0])
		s.LinkRelation(ctx, "uses", e[2], e[1])

		dfs, _ := s.TreeDFS(ctx, "uses")
		if !slices.Equal(dfs, []EntityID{1, 3, 2}) {
			t.Errorf("TreeDFS() = %v, want [1 3 2]", dfs)
		}

		// shared waits for both parents
		topo, _ := s.TreeTopo(ctx, "uses")
		if !slices.Equal(topo, []EntityID{1, 2, 3}) {
			t.Errorf("TreeTopo() = %v, want [1 2 3]", topo)
		}
	})
}

func TestEntityStore_EmptyStore(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()
		dfs, err := s.TreeDFS(ctx, "child")
		if err != nil || len(dfs) != 0 {
			t.Errorf("TreeDFS() = %v, %v, want empty", dfs, err)
		}
		topo, err := s.TreeTopo(ctx, "child")
		if err != nil || len(topo) != 0 {
			t.Errorf("TreeTopo() = %v, %v, want empty", topo, err)
		}
		dump, err := s.Dump(ctx, All())
		if err != nil || len(dump) != 0 {
			t.Errorf("Dump() = %v, %v, want empty", dump, err)
		}
		orphans, err := s.Orphans(ctx, "child")
		if err != nil || len(orphans) != 0 {
			t.Errorf("Orphans() = %v, %v, want empty", orphans, err)
		}
	})
}

func TestEntityStore_InvalidRelationName(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s EntityStore) {
		e := mustCreate(t, s, "a", "b")
		err := s.SetRelation(context.Background(), "", e[0], e[1])
		if !errors.Is(err, ErrInvalidName) {
			t.Errorf("SetRelation(\"\") error = %v, want ErrInvalidName", err)
		}
	})
}

func TestEntityStore_BackendsAgree(t *testing.T) {
	ctx := context.Background()
	script := func(s EntityStore) []Snapshot {
		e := mustCreate(t, s, "w", "x", "y", "z")
		s.SetAttribute(ctx, e[0], "health", 90)
		s.SetRelation(ctx, "child", e[1], e[0])
		s.LinkRelation(ctx, "child", e[2], e[0])
		s.LinkRelation(ctx, "child", e[2], e[1])
		s.AdvanceEpoch(ctx)
		s.SetAttribute(ctx, e[3], "mana", 5)
		s.SetAttribute(ctx, e[0], "health", 70)
		s.RemoveRelation(ctx, "child", e[2], e[0])
		s.RemoveEntity(ctx, e[1])
		all, _ := s.Dump(ctx, All())
		tombs, _ := s.Dump(ctx, RemovedSince(0))
		return append(all, tombs...)
	}

	var results [][]Snapshot
	for _, newStore := range []func() EntityStore{
		backends(t)["memory"],
		backends(t)["sqlite"],
	} {
		results = append(results, script(newStore()))
	}

	mem, lite := results[0], results[1]
	if len(mem) != len(lite) {
		t.Fatalf("snapshot count memory=%d sqlite=%d", len(mem), len(lite))
	}
	for i := range mem {
		a, b := mem[i], lite[i]
		if a.ID != b.ID || a.Name != b.Name || a.Created != b.Created || a.Modified != b.Modified || a.Removed != b.Removed {
			t.Errorf("snapshot %d: memory=%+v sqlite=%+v", i, a, b)
		}
		if !slices.Equal(a.Attributes, b.Attributes) {
			t.Errorf("snapshot %d attributes: memory=%v sqlite=%v", i, a.Attributes, b.Attributes)
		}
		if !slices.Equal(a.Parents["child"], b.Parents["child"]) || !slices.Equal(a.Children["child"], b.Children["child"]) {
			t.Errorf("snapshot %d relations: memory=%v/%v sqlite=%v/%v", i, a.Parents, a.Children, b.Parents, b.Children)
		}
	}
}

func TestEntityStore_SetAttributesAllOrNothing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()
		id := mustCreate(t, s, "wizard")[0]
		if err := s.SetAttribute(ctx, id, "mana", 10); err != nil {
			t.Fatalf("SetAttribute() error = %v", err)
		}

		err := s.SetAttributes(ctx, id, Attribute{"mana", 99}, Attribute{"max mana", 99})
		if !errors.Is(err, ErrInvalidName) {
			t.Fatalf("SetAttributes(bad name) error = %v, want ErrInvalidName", err)
		}
		if v, _ := s.GetAttribute(ctx, id, "mana"); v != 10 {
			t.Errorf("mana after failed batch = %d, want 10", v)
		}
		if err := s.SetAttributes(ctx, 99, Attribute{"mana", 1}); !errors.Is(err, ErrNotFound) {
			t.Errorf("SetAttributes(unknown entity) error = %v, want ErrNotFound", err)
		}

		e := mustAdvance(t, s)
		if err := s.SetAttributes(ctx, id, Attribute{"max_mana", 40}, Attribute{"mana", 40}); err != nil {
			t.Fatalf("SetAttributes() error = %v", err)
		}
		snap, _ := s.Entity(ctx, id)
		want := []Attribute{{"mana", 40}, {"max_mana", 40}}
		if !slices.Equal(snap.Attributes, want) {
			t.Errorf("Attributes = %v, want %v", snap.Attributes, want)
		}
		if snap.Modified != e {
			t.Errorf("Modified = %d, want %d", snap.Modified, e)
		}
	})
}

func TestEntityStore_UpdateAttribute(t *testing.T) {
	errDenied := errors.New("denied")
	forEachBackend(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()
		id := mustCreate(t, s, "wizard")[0]
		if err := s.SetAttribute(ctx, id, "mana", 10); err != nil {
			t.Fatalf("SetAttribute() error = %v", err)
		}
		e := mustAdvance(t, s)

		decrement := func(cur int64) (int64, error) { return cur - 3, nil }
		if _, err := s.UpdateAttribute(ctx, id, "health", decrement); !errors.Is(err, ErrAttributeMissing) {
			t.Errorf("UpdateAttribute(missing) error = %v, want ErrAttributeMissing", err)
		}
		if _, err := s.UpdateAttribute(ctx, 99, "mana", decrement); !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateAttribute(unknown entity) error = %v, want ErrNotFound", err)
		}

		_, err := s.UpdateAttribute(ctx, id, "mana", func(int64) (int64, error) { return 0, errDenied })
		if !errors.Is(err, errDenied) {
			t.Fatalf("UpdateAttribute(failing fn) error = %v, want %v", err, errDenied)
		}
		snap, _ := s.Entity(ctx, id)
		if v, _ := snap.Attribute("mana"); v != 10 || snap.Modified == e {
			t.Errorf("after failing fn: mana = %d, modified = %d; want 10, not %d", v, snap.Modified, e)
		}

		got, err := s.UpdateAttribute(ctx, id, "mana", decrement)
		if err != nil || got != 7 {
			t.Fatalf("UpdateAttribute() = %d, %v, want 7, nil", got, err)
		}
		snap, _ = s.Entity(ctx, id)
		if v, _ := snap.Attribute("mana"); v != 7 || snap.Modified != e {
			t.Errorf("after update: mana = %d, modified = %d; want 7, %d", v, snap.Modified, e)
		}
	})
}

func TestEntityStore_UpdateAttributeConcurrent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()
		id := mustCreate(t, s, "wizard")[0]
		if err := s.SetAttribute(ctx, id, "mana", 50); err != nil {
			t.Fatalf("SetAttribute() error = %v", err)
		}

		spend := func(cur int64) (int64, error) {
			if cur < 1 {
				return 0, fmt.Errorf("current %d: out of mana", cur)
			}
			return cur - 1, nil
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for range 80 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.UpdateAttribute(ctx, id, "mana", spend); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if succeeded != 50 {
			t.Errorf("successful updates = %d, want 50", succeeded)
		}
		if v, _ := s.GetAttribute(ctx, id, "mana"); v != 0 {
			t.Errorf("mana = %d, want 0", v)
		}
	})
}
