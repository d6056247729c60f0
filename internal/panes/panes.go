// Package panes models display panes subscribing to shared datasets on top of
// an EntityStore. Panes and datasets are plain entities told apart by their
// kind attribute; the typed handles can only be obtained from a Registry, which
// checks that attribute.
package panes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nvandessel/ecsrepl/internal/store"
)

// Relation links a pane (child) to each dataset (parent) it uses.
const Relation = "uses"

// Attribute names and kind values.
const (
	AttrKind   = "kind"
	AttrWidth  = "width"
	AttrHeight = "height"

	KindPane    int64 = 1
	KindDataset int64 = 2
)

const datasetPrefix = "dataset:"

// ErrWrongKind is returned when an entity is not the kind of handle requested.
var ErrWrongKind = errors.New("wrong entity kind")

// PaneHandle refers to a live pane entity.
type PaneHandle struct {
	id   store.EntityID
	name string
}

// ID returns the underlying entity.
func (p PaneHandle) ID() store.EntityID { return p.id }

// Name returns the pane's entity name.
func (p PaneHandle) Name() string { return p.name }

func (p PaneHandle) String() string { return fmt.Sprintf("Pane(%d)", p.id) }

// DatasetHandle refers to a live dataset entity.
type DatasetHandle struct {
	id  store.EntityID
	key string
}

// ID returns the underlying entity.
func (d DatasetHandle) ID() store.EntityID { return d.id }

// Key returns the dataset key it was created with.
func (d DatasetHandle) Key() string { return d.key }

func (d DatasetHandle) String() string { return fmt.Sprintf("Dataset(%d %s)", d.id, d.key) }

// DatasetName is the entity name used for a dataset key.
func DatasetName(key string) string { return datasetPrefix + key }

// Registry creates and resolves panes and datasets. Mutations go through a
// command queue and are applied by Process.
type Registry struct {
	s        store.EntityStore
	queue    *store.Queue
	nextPane int
}

// NewRegistry creates a registry over s.
func NewRegistry(s store.EntityStore) *Registry {
	return &Registry{s: s, queue: store.NewQueue(), nextPane: 1}
}

// Pending returns the number of queued commands.
func (r *Registry) Pending() int { return r.queue.Len() }

// Pane resolves id to a pane handle.
func (r *Registry) Pane(ctx context.Context, id store.EntityID) (PaneHandle, error) {
	snap, err := r.expectKind(ctx, id, KindPane)
	if err != nil {
		return PaneHandle{}, err
	}
	return PaneHandle{id: snap.ID, name: snap.Name}, nil
}

// Dataset resolves id to a dataset handle.
func (r *Registry) Dataset(ctx context.Context, id store.EntityID) (DatasetHandle, error) {
	snap, err := r.expectKind(ctx, id, KindDataset)
	if err != nil {
		return DatasetHandle{}, err
	}
	return DatasetHandle{id: snap.ID, key: strings.TrimPrefix(snap.Name, datasetPrefix)}, nil
}

// LookupDataset resolves a dataset by key.
func (r *Registry) LookupDataset(ctx context.Context, key string) (DatasetHandle, error) {
	id, err := r.s.Lookup(ctx, DatasetName(key))
	if err != nil {
		return DatasetHandle{}, err
	}
	return r.Dataset(ctx, id)
}

func (r *Registry) expectKind(ctx context.Context, id store.EntityID, kind int64) (store.Snapshot, error) {
	snap, err := r.s.Entity(ctx, id)
	if err != nil {
		return store.Snapshot{}, err
	}
	if got, ok := snap.Attribute(AttrKind); !ok || got != kind {
		return store.Snapshot{}, fmt.Errorf("entity %d (%s): %w", id, snap.Name, ErrWrongKind)
	}
	return snap, nil
}

// EnqueuePane queues the creation of a pane using the given datasets and
// returns the name the pane will have. Datasets are created on first use and
// shared afterwards; repeated keys are linked once.
func (r *Registry) EnqueuePane(width, height int64, datasetKeys ...string) string {
	name := fmt.Sprintf("pane-%d", r.nextPane)
	r.nextPane++

	seen := make(map[string]bool, len(datasetKeys))
	keys := make([]string, 0, len(datasetKeys))
	for _, k := range datasetKeys {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	r.queue.Enqueue(
		&store.CreateEntityCmd{Name: name},
		&store.SetAttributeCmd{Entity: name, Attribute: AttrKind, Value: KindPane},
		&store.SetAttributeCmd{Entity: name, Attribute: AttrWidth, Value: width},
		&store.SetAttributeCmd{Entity: name, Attribute: AttrHeight, Value: height},
	)
	for _, k := range keys {
		r.queue.Enqueue(
			&ensureDatasetCmd{key: k},
			&store.RelationCmd{Op: store.EdgeLink, Relation: Relation, Child: name, Parent: DatasetName(k)},
		)
	}
	return name
}

// EnqueueDelete queues the removal of a pane. The store drops its dataset
// links with it.
func (r *Registry) EnqueueDelete(p PaneHandle) {
	r.queue.Enqueue(&store.RemoveEntityCmd{Name: p.name})
}

// Process applies every queued command and returns how many ran. The first
// failure is returned after the whole batch has been attempted.
func (r *Registry) Process(ctx context.Context) (int, error) {
	results := r.queue.Flush(ctx, r.s)
	return len(results), store.FirstError(results)
}

// CreatePane queues a pane, processes the queue and returns its handle.
func (r *Registry) CreatePane(ctx context.Context, width, height int64, datasetKeys ...string) (PaneHandle, error) {
	name := r.EnqueuePane(width, height, datasetKeys...)
	if _, err := r.Process(ctx); err != nil {
		return PaneHandle{}, err
	}
	id, err := r.s.Lookup(ctx, name)
	if err != nil {
		return PaneHandle{}, err
	}
	return r.Pane(ctx, id)
}

// DeletePane removes a pane immediately.
func (r *Registry) DeletePane(ctx context.Context, p PaneHandle) error {
	r.EnqueueDelete(p)
	_, err := r.Process(ctx)
	return err
}

// DatasetsForPane returns the datasets p uses in creation order.
func (r *Registry) DatasetsForPane(ctx context.Context, p PaneHandle) ([]DatasetHandle, error) {
	ids, err := r.s.Parents(ctx, Relation, p.id)
	if err != nil {
		return nil, err
	}
	out := make([]DatasetHandle, 0, len(ids))
	for _, id := range ids {
		d, err := r.Dataset(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// PanesForDataset returns the panes subscribed to d in creation order.
func (r *Registry) PanesForDataset(ctx context.Context, d DatasetHandle) ([]PaneHandle, error) {
	ids, err := r.s.Children(ctx, Relation, d.id)
	if err != nil {
		return nil, err
	}
	out := make([]PaneHandle, 0, len(ids))
	for _, id := range ids {
		p, err := r.Pane(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// PaneInfo is one row of the pane listing.
type PaneInfo struct {
	Pane     PaneHandle
	Width    int64
	Height   int64
	Datasets []DatasetHandle
}

// Subscription lists the panes subscribed to one dataset.
type Subscription struct {
	Dataset DatasetHandle
	Panes   []PaneHandle
}

// Panes lists every pane in creation order.
func (r *Registry) Panes(ctx context.Context) ([]PaneInfo, error) {
	snaps, err := r.s.Entities(ctx)
	if err != nil {
		return nil, err
	}
	var out []PaneInfo
	for _, snap := range snaps {
		if kind, _ := snap.Attribute(AttrKind); kind != KindPane {
			continue
		}
		p := PaneHandle{id: snap.ID, name: snap.Name}
		ds, err := r.DatasetsForPane(ctx, p)
		if err != nil {
			return nil, err
		}
		w, _ := snap.Attribute(AttrWidth)
		h, _ := snap.Attribute(AttrHeight)
		out = append(out, PaneInfo{Pane: p, Width: w, Height: h, Datasets: ds})
	}
	return out, nil
}

// Subscriptions reports, per dataset in creation order, the panes using it.
func (r *Registry) Subscriptions(ctx context.Context) ([]Subscription, error) {
	snaps, err := r.s.Entities(ctx)
	if err != nil {
		return nil, err
	}
	var out []Subscription
	for _, snap := range snaps {
		if kind, _ := snap.Attribute(AttrKind); kind != KindDataset {
			continue
		}
		d := DatasetHandle{id: snap.ID, key: strings.TrimPrefix(snap.Name, datasetPrefix)}
		ps, err := r.PanesForDataset(ctx, d)
		if err != nil {
			return nil, err
		}
		out = append(out, Subscription{Dataset: d, Panes: ps})
	}
	return out, nil
}

// Stats counts panes, datasets and pane-dataset links.
type Stats struct {
	Panes    int `json:"panes"`
	Datasets int `json:"datasets"`
	Links    int `json:"links"`
}

// Stats summarises the registry's entities.
func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	snaps, err := r.s.Entities(ctx)
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, snap := range snaps {
		switch kind, _ := snap.Attribute(AttrKind); kind {
		case KindPane:
			st.Panes++
			st.Links += len(snap.Parents[Relation])
		case KindDataset:
			st.Datasets++
		}
	}
	return st, nil
}

// ensureDatasetCmd creates the dataset for key unless it already exists.
type ensureDatasetCmd struct {
	key string
}

func (c *ensureDatasetCmd) Apply(ctx context.Context, s store.EntityStore) error {
	name := DatasetName(c.key)
	if _, err := s.Lookup(ctx, name); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	id, err := s.CreateEntity(ctx, name)
	if err != nil {
		return err
	}
	return s.SetAttribute(ctx, id, AttrKind, KindDataset)
}

func (c *ensureDatasetCmd) String() string { return "ensure " + DatasetName(c.key) }
