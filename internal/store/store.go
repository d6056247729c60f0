// Package store defines the EntityStore interface for entities, their numeric
// attributes, named parent/child relations and per-epoch change tracking.
package store

import (
	"context"
	"errors"
	"fmt"
)

// EntityID identifies an entity. IDs are assigned monotonically from 1 and
// are never reused, so numeric order is creation order.
type EntityID uint64

// Epoch is a change-tracking boundary. Stores start at epoch 1.
type Epoch uint64

// Sentinel errors. Stores wrap them with context; test with errors.Is.
var (
	ErrNotFound         = errors.New("entity not found")
	ErrAttributeMissing = errors.New("attribute missing")
	ErrCycleDetected    = errors.New("cycle detected")
	ErrAlreadyExists    = errors.New("entity already exists")
	ErrRelationMissing  = errors.New("relation missing")
	ErrInvalidName      = errors.New("invalid name")
)

// Attribute is a named numeric value owned by one entity.
type Attribute struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// Snapshot is a point-in-time copy of an entity.
type Snapshot struct {
	ID         EntityID              `json:"id"`
	Name       string                `json:"name"`
	Attributes []Attribute           `json:"attributes,omitempty"` // first-insertion order
	Parents    map[string][]EntityID `json:"parents,omitempty"`    // relation -> parents
	Children   map[string][]EntityID `json:"children,omitempty"`   // relation -> children
	Created    Epoch                 `json:"created"`
	Modified   Epoch                 `json:"modified,omitempty"` // 0 until mutated after creation
	Removed    Epoch                 `json:"removed,omitempty"`  // set only for tombstones
}

// Attribute returns the named attribute value and whether it is present.
func (s Snapshot) Attribute(name string) (int64, bool) {
	for _, a := range s.Attributes {
		if a.Name == name {
			return a.Value, true
		}
	}
	return 0, false
}

// FilterKind selects which entities Dump returns.
type FilterKind string

const (
	FilterAll      FilterKind = "all"
	FilterAdded    FilterKind = "added"
	FilterModified FilterKind = "modified"
	FilterRemoved  FilterKind = "removed"
)

// Filter selects entities for Dump. Since is exclusive: AddedSince(e) matches
// entities created in an epoch later than e.
type Filter struct {
	Kind  FilterKind
	Since Epoch
}

// All matches every live entity.
func All() Filter { return Filter{Kind: FilterAll} }

// AddedSince matches live entities created after epoch e.
func AddedSince(e Epoch) Filter { return Filter{Kind: FilterAdded, Since: e} }

// ModifiedSince matches live entities mutated after epoch e. Entities that
// were only created are never matched.
func ModifiedSince(e Epoch) Filter { return Filter{Kind: FilterModified, Since: e} }

// RemovedSince matches tombstones of entities removed after epoch e.
func RemovedSince(e Epoch) Filter { return Filter{Kind: FilterRemoved, Since: e} }

// ParseFilterKind maps the REPL spelling of a dump filter to a FilterKind.
func ParseFilterKind(s string) (FilterKind, error) {
	switch FilterKind(s) {
	case "", FilterAll:
		return FilterAll, nil
	case FilterAdded, FilterModified, FilterRemoved:
		return FilterKind(s), nil
	default:
		return "", fmt.Errorf("unknown dump filter %q (use added, modified or removed)", s)
	}
}

// match reports whether snap passes a live-entity filter.
func (f Filter) match(snap Snapshot) bool {
	switch f.Kind {
	case FilterAdded:
		return snap.Created > f.Since
	case FilterModified:
		return snap.Modified > f.Since
	case FilterRemoved:
		return false
	default:
		return true
	}
}

// EntityStore defines the interface for storing and querying entities.
type EntityStore interface {
	// Entity lifecycle
	CreateEntity(ctx context.Context, name string) (EntityID, error)
	RemoveEntity(ctx context.Context, id EntityID) error
	Lookup(ctx context.Context, name string) (EntityID, error)
	Entity(ctx context.Context, id EntityID) (Snapshot, error)
	Entities(ctx context.Context) ([]Snapshot, error)

	// Attributes
	SetAttribute(ctx context.Context, id EntityID, name string, value int64) error
	GetAttribute(ctx context.Context, id EntityID, name string) (int64, error)
	// SetAttributes writes every attribute or none of them.
	SetAttributes(ctx context.Context, id EntityID, attrs ...Attribute) error
	// UpdateAttribute replaces an existing attribute with fn(current) in one
	// step and returns the new value. If fn fails nothing is written. fn runs
	// with the store locked and must not call back into it.
	UpdateAttribute(ctx context.Context, id EntityID, name string, fn func(cur int64) (int64, error)) (int64, error)

	// Relations. SetRelation replaces every prior parent of child under rel;
	// LinkRelation adds one more parent edge.
	SetRelation(ctx context.Context, rel string, child, parent EntityID) error
	LinkRelation(ctx context.Context, rel string, child, parent EntityID) error
	RemoveRelation(ctx context.Context, rel string, child, parent EntityID) error
	Parents(ctx context.Context, rel string, child EntityID) ([]EntityID, error)
	Children(ctx context.Context, rel string, parent EntityID) ([]EntityID, error)

	// Queries
	Orphans(ctx context.Context, rel string) ([]EntityID, error)
	Dump(ctx context.Context, filter Filter) ([]Snapshot, error)
	TreeDFS(ctx context.Context, rel string) ([]EntityID, error)
	TreeTopo(ctx context.Context, rel string) ([]EntityID, error)

	// Change tracking
	Epoch(ctx context.Context) (Epoch, error)
	AdvanceEpoch(ctx context.Context) (Epoch, error)

	Close() error
}

func notFound(id EntityID) error {
	return fmt.Errorf("entity %d: %w", id, ErrNotFound)
}
