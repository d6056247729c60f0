package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// relKey indexes one side of a relation: (relation, child) in the forward
// index and (relation, parent) in the reverse index.
type relKey struct {
	rel string
	id  EntityID
}

// entityRecord is the mutable state behind a live entity.
type entityRecord struct {
	id       EntityID
	name     string
	attrs    []Attribute
	created  Epoch
	modified Epoch
	rels     map[string]struct{} // relation names this entity has touched
}

// put overwrites name in place or appends it, keeping first-insertion order.
func (rec *entityRecord) put(name string, value int64) {
	for i := range rec.attrs {
		if rec.attrs[i].Name == name {
			rec.attrs[i].Value = value
			return
		}
	}
	rec.attrs = append(rec.attrs, Attribute{Name: name, Value: value})
}

// InMemoryEntityStore implements EntityStore with maps guarded by a single
// RWMutex: one writer at a time, readers see a consistent epoch.
type InMemoryEntityStore struct {
	mu         sync.RWMutex
	nextID     EntityID
	epoch      Epoch
	entities   map[EntityID]*entityRecord
	names      map[string]EntityID
	parents    map[relKey][]EntityID // (rel, child) -> parents, creation order
	children   map[relKey][]EntityID // (rel, parent) -> children, creation order
	tombstones []Snapshot
}

// NewInMemoryEntityStore creates an empty store at epoch 1.
func NewInMemoryEntityStore() *InMemoryEntityStore {
	return &InMemoryEntityStore{
		nextID:   1,
		epoch:    1,
		entities: make(map[EntityID]*entityRecord),
		names:    make(map[string]EntityID),
		parents:  make(map[relKey][]EntityID),
		children: make(map[relKey][]EntityID),
	}
}

// CreateEntity allocates a fresh ID bound to name.
func (s *InMemoryEntityStore) CreateEntity(ctx context.Context, name string) (EntityID, error) {
	if err := ValidateName(name); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.names[name]; exists {
		return 0, fmt.Errorf("entity %q: %w", name, ErrAlreadyExists)
	}

	id := s.nextID
	s.nextID++
	s.entities[id] = &entityRecord{
		id:      id,
		name:    name,
		created: s.epoch,
		rels:    make(map[string]struct{}),
	}
	s.names[name] = id
	return id, nil
}

// RemoveEntity deletes the entity, its attributes and every edge touching it.
func (s *InMemoryEntityStore) RemoveEntity(ctx context.Context, id EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entities[id]
	if !ok {
		return notFound(id)
	}

	// Tombstones keep identity and attributes only; edges die with the entity
	tomb := s.snapshotLocked(rec)
	tomb.Parents, tomb.Children = nil, nil
	tomb.Removed = s.epoch

	for rel := range rec.rels {
		up := relKey{rel, id}
		for _, p := range s.parents[up] {
			pk := relKey{rel, p}
			s.children[pk] = removeID(s.children[pk], id)
			if len(s.children[pk]) == 0 {
				delete(s.children, pk)
			}
			s.touchLocked(p)
		}
		delete(s.parents, up)

		for _, c := range s.children[up] {
			ck := relKey{rel, c}
			s.parents[ck] = removeID(s.parents[ck], id)
			if len(s.parents[ck]) == 0 {
				delete(s.parents, ck)
			}
			s.touchLocked(c)
		}
		delete(s.children, up)
	}

	delete(s.names, rec.name)
	delete(s.entities, id)
	s.tombstones = append(s.tombstones, tomb)
	return nil
}

// Lookup returns the ID of the live entity with the given name.
func (s *InMemoryEntityStore) Lookup(ctx context.Context, name string) (EntityID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.names[name]
	if !ok {
		return 0, fmt.Errorf("entity %q: %w", name, ErrNotFound)
	}
	return id, nil
}

// Entity returns a snapshot of one live entity.
func (s *InMemoryEntityStore) Entity(ctx context.Context, id EntityID) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.entities[id]
	if !ok {
		return Snapshot{}, notFound(id)
	}
	return s.snapshotLocked(rec), nil
}

// Entities returns every live entity in creation order.
func (s *InMemoryEntityStore) Entities(ctx context.Context) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshotsLocked(), nil
}

// SetAttribute creates or overwrites an attribute and marks the owner modified.
func (s *InMemoryEntityStore) SetAttribute(ctx context.Context, id EntityID, name string, value int64) error {
	return s.SetAttributes(ctx, id, Attribute{Name: name, Value: value})
}

// SetAttributes creates or overwrites several attributes at once.
func (s *InMemoryEntityStore) SetAttributes(ctx context.Context, id EntityID, attrs ...Attribute) error {
	for _, a := range attrs {
		if err := ValidateName(a.Name); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entities[id]
	if !ok {
		return notFound(id)
	}
	if len(attrs) == 0 {
		return nil
	}
	for _, a := range attrs {
		rec.put(a.Name, a.Value)
	}
	rec.modified = s.epoch
	return nil
}

// UpdateAttribute rewrites an existing attribute through fn.
func (s *InMemoryEntityStore) UpdateAttribute(ctx context.Context, id EntityID, name string, fn func(cur int64) (int64, error)) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entities[id]
	if !ok {
		return 0, notFound(id)
	}
	for i := range rec.attrs {
		if rec.attrs[i].Name != name {
			continue
		}
		v, err := fn(rec.attrs[i].Value)
		if err != nil {
			return 0, err
		}
		rec.attrs[i].Value = v
		rec.modified = s.epoch
		return v, nil
	}
	return 0, fmt.Errorf("entity %d attribute %q: %w", id, name, ErrAttributeMissing)
}

// GetAttribute reads an attribute without side effects.
func (s *InMemoryEntityStore) GetAttribute(ctx context.Context, id EntityID, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.entities[id]
	if !ok {
		return 0, notFound(id)
	}
	for _, a := range rec.attrs {
		if a.Name == name {
			return a.Value, nil
		}
	}
	return 0, fmt.Errorf("entity %d attribute %q: %w", id, name, ErrAttributeMissing)
}

// SetRelation makes parent the only parent of child under rel.
func (s *InMemoryEntityStore) SetRelation(ctx context.Context, rel string, child, parent EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkEdgeLocked(rel, child, parent); err != nil {
		return err
	}

	ck := relKey{rel, child}
	for _, old := range s.parents[ck] {
		if old == parent {
			continue
		}
		oldKey := relKey{rel, old}
		s.children[oldKey] = removeID(s.children[oldKey], child)
		if len(s.children[oldKey]) == 0 {
			delete(s.children, oldKey)
		}
		s.touchLocked(old)
	}
	s.parents[ck] = []EntityID{parent}
	pk := relKey{rel, parent}
	s.children[pk] = insertID(s.children[pk], child)

	s.noteRelLocked(rel, child, parent)
	return nil
}

// LinkRelation adds parent to child's parents under rel. Linking an existing
// edge is a no-op.
func (s *InMemoryEntityStore) LinkRelation(ctx context.Context, rel string, child, parent EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkEdgeLocked(rel, child, parent); err != nil {
		return err
	}

	ck := relKey{rel, child}
	if slices.Contains(s.parents[ck], parent) {
		return nil
	}
	s.parents[ck] = insertID(s.parents[ck], parent)
	pk := relKey{rel, parent}
	s.children[pk] = insertID(s.children[pk], child)

	s.noteRelLocked(rel, child, parent)
	return nil
}

// RemoveRelation deletes the edge child -> parent under rel.
func (s *InMemoryEntityStore) RemoveRelation(ctx context.Context, rel string, child, parent EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[child]; !ok {
		return notFound(child)
	}
	if _, ok := s.entities[parent]; !ok {
		return notFound(parent)
	}

	ck := relKey{rel, child}
	if !slices.Contains(s.parents[ck], parent) {
		return fmt.Errorf("%s %d -> %d: %w", rel, child, parent, ErrRelationMissing)
	}
	s.parents[ck] = removeID(s.parents[ck], parent)
	if len(s.parents[ck]) == 0 {
		delete(s.parents, ck)
	}
	pk := relKey{rel, parent}
	s.children[pk] = removeID(s.children[pk], child)
	if len(s.children[pk]) == 0 {
		delete(s.children, pk)
	}

	s.touchLocked(child)
	s.touchLocked(parent)
	return nil
}

// Parents returns child's parents under rel in creation order.
func (s *InMemoryEntityStore) Parents(ctx context.Context, rel string, child EntityID) ([]EntityID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.entities[child]; !ok {
		return nil, notFound(child)
	}
	return slices.Clone(s.parents[relKey{rel, child}]), nil
}

// Children returns parent's children under rel in creation order.
func (s *InMemoryEntityStore) Children(ctx context.Context, rel string, parent EntityID) ([]EntityID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.entities[parent]; !ok {
		return nil, notFound(parent)
	}
	return slices.Clone(s.children[relKey{rel, parent}]), nil
}

// Orphans returns entities with neither parents nor children under rel.
func (s *InMemoryEntityStore) Orphans(ctx context.Context, rel string) ([]EntityID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return newForest(s.snapshotsLocked(), rel).orphans(), nil
}

// Dump returns the entities selected by filter in creation order.
func (s *InMemoryEntityStore) Dump(ctx context.Context, filter Filter) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if filter.Kind == FilterRemoved {
		return removedSince(s.tombstones, filter.Since), nil
	}
	return filterSnapshots(s.snapshotsLocked(), filter), nil
}

// TreeDFS walks rel depth-first from each root.
func (s *InMemoryEntityStore) TreeDFS(ctx context.Context, rel string) ([]EntityID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return newForest(s.snapshotsLocked(), rel).dfsOrder(), nil
}

// TreeTopo orders rel parents-before-children.
func (s *InMemoryEntityStore) TreeTopo(ctx context.Context, rel string) ([]EntityID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return newForest(s.snapshotsLocked(), rel).topo()
}

// Epoch returns the current epoch.
func (s *InMemoryEntityStore) Epoch(ctx context.Context) (Epoch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.epoch, nil
}

// AdvanceEpoch increments the epoch and returns the new value.
func (s *InMemoryEntityStore) AdvanceEpoch(ctx context.Context) (Epoch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	return s.epoch, nil
}

// Close is a no-op for in-memory storage.
func (s *InMemoryEntityStore) Close() error {
	return nil
}

// checkEdgeLocked validates a prospective edge child -> parent.
func (s *InMemoryEntityStore) checkEdgeLocked(rel string, child, parent EntityID) error {
	if err := ValidateName(rel); err != nil {
		return err
	}
	if _, ok := s.entities[child]; !ok {
		return notFound(child)
	}
	if _, ok := s.entities[parent]; !ok {
		return notFound(parent)
	}
	if child == parent {
		return fmt.Errorf("%s %d -> %d: self-parenting: %w", rel, child, parent, ErrCycleDetected)
	}
	parentsOf := func(id EntityID) []EntityID { return s.parents[relKey{rel, id}] }
	if reachesAncestor(parent, child, parentsOf) {
		return fmt.Errorf("%s %d -> %d: %d is a descendant of %d: %w", rel, child, parent, parent, child, ErrCycleDetected)
	}
	return nil
}

func (s *InMemoryEntityStore) noteRelLocked(rel string, child, parent EntityID) {
	for _, id := range []EntityID{child, parent} {
		rec := s.entities[id]
		rec.rels[rel] = struct{}{}
		rec.modified = s.epoch
	}
}

func (s *InMemoryEntityStore) touchLocked(id EntityID) {
	if rec, ok := s.entities[id]; ok {
		rec.modified = s.epoch
	}
}

func (s *InMemoryEntityStore) snapshotsLocked() []Snapshot {
	ids := make([]EntityID, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	snaps := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		snaps = append(snaps, s.snapshotLocked(s.entities[id]))
	}
	return snaps
}

func (s *InMemoryEntityStore) snapshotLocked(rec *entityRecord) Snapshot {
	snap := Snapshot{
		ID:         rec.id,
		Name:       rec.name,
		Attributes: slices.Clone(rec.attrs),
		Created:    rec.created,
		Modified:   rec.modified,
	}
	for rel := range rec.rels {
		if ps := s.parents[relKey{rel, rec.id}]; len(ps) > 0 {
			if snap.Parents == nil {
				snap.Parents = make(map[string][]EntityID)
			}
			snap.Parents[rel] = slices.Clone(ps)
		}
		if cs := s.children[relKey{rel, rec.id}]; len(cs) > 0 {
			if snap.Children == nil {
				snap.Children = make(map[string][]EntityID)
			}
			snap.Children[rel] = slices.Clone(cs)
		}
	}
	return snap
}

// insertID adds id to a sorted slice if absent.
func insertID(ids []EntityID, id EntityID) []EntityID {
	i, found := slices.BinarySearch(ids, id)
	if found {
		return ids
	}
	return slices.Insert(ids, i, id)
}

// removeID deletes id from a sorted slice if present.
func removeID(ids []EntityID, id EntityID) []EntityID {
	i, found := slices.BinarySearch(ids, id)
	if !found {
		return ids
	}
	return slices.Delete(ids, i, i+1)
}
