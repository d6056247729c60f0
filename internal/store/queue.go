package store

import (
	"context"
	"fmt"
	"sync"
)

// Command is a deferred store mutation. Commands name entities rather than
// holding IDs so a command may refer to an entity created earlier in the
// same batch.
type Command interface {
	Apply(ctx context.Context, s EntityStore) error
	String() string
}

// Result reports the outcome of one flushed command.
type Result struct {
	Command Command
	Err     error
}

// Queue stages commands and applies them in FIFO order on Flush.
type Queue struct {
	mu      sync.Mutex
	pending []Command
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue stages cmds after any already pending.
func (q *Queue) Enqueue(cmds ...Command) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, cmds...)
}

// Len returns the number of pending commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// drain takes ownership of the pending commands.
func (q *Queue) drain() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	cmds := q.pending
	q.pending = nil
	return cmds
}

// Flush applies every pending command against s. A failed command leaves the
// store as it was for that command; the rest still run. Commands enqueued
// while flushing wait for the next Flush.
func (q *Queue) Flush(ctx context.Context, s EntityStore) []Result {
	cmds := q.drain()
	results := make([]Result, 0, len(cmds))
	for _, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			results = append(results, Result{Command: cmd, Err: err})
			continue
		}
		results = append(results, Result{Command: cmd, Err: cmd.Apply(ctx, s)})
	}
	return results
}

// FirstError returns the first failure in results, if any.
func FirstError(results []Result) error {
	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("%s: %w", r.Command, r.Err)
		}
	}
	return nil
}

// CreateEntityCmd creates a named entity. ID is set once applied.
type CreateEntityCmd struct {
	Name string
	ID   EntityID
}

func (c *CreateEntityCmd) Apply(ctx context.Context, s EntityStore) error {
	id, err := s.CreateEntity(ctx, c.Name)
	if err != nil {
		return err
	}
	c.ID = id
	return nil
}

func (c *CreateEntityCmd) String() string { return "create " + c.Name }

// RemoveEntityCmd removes a named entity.
type RemoveEntityCmd struct {
	Name string
}

func (c *RemoveEntityCmd) Apply(ctx context.Context, s EntityStore) error {
	id, err := s.Lookup(ctx, c.Name)
	if err != nil {
		return err
	}
	return s.RemoveEntity(ctx, id)
}

func (c *RemoveEntityCmd) String() string { return "remove " + c.Name }

// SetAttributeCmd writes one attribute.
type SetAttributeCmd struct {
	Entity    string
	Attribute string
	Value     int64
}

func (c *SetAttributeCmd) Apply(ctx context.Context, s EntityStore) error {
	id, err := s.Lookup(ctx, c.Entity)
	if err != nil {
		return err
	}
	return s.SetAttribute(ctx, id, c.Attribute, c.Value)
}

func (c *SetAttributeCmd) String() string {
	return fmt.Sprintf("set %s %s %d", c.Attribute, c.Entity, c.Value)
}

// EdgeOp selects how a RelationCmd changes the edge set.
type EdgeOp int

const (
	EdgeSet    EdgeOp = iota // SetRelation
	EdgeLink                 // LinkRelation
	EdgeRemove               // RemoveRelation
)

// RelationCmd adds, replaces or removes the edge Child -> Parent.
type RelationCmd struct {
	Op       EdgeOp
	Relation string
	Child    string
	Parent   string
}

func (c *RelationCmd) Apply(ctx context.Context, s EntityStore) error {
	child, err := s.Lookup(ctx, c.Child)
	if err != nil {
		return err
	}
	parent, err := s.Lookup(ctx, c.Parent)
	if err != nil {
		return err
	}
	switch c.Op {
	case EdgeLink:
		return s.LinkRelation(ctx, c.Relation, child, parent)
	case EdgeRemove:
		return s.RemoveRelation(ctx, c.Relation, child, parent)
	default:
		return s.SetRelation(ctx, c.Relation, child, parent)
	}
}

func (c *RelationCmd) String() string {
	verb := "set-relation"
	switch c.Op {
	case EdgeLink:
		verb = "link-relation"
	case EdgeRemove:
		verb = "rm-relation"
	}
	return fmt.Sprintf("%s %s %s parent %s", verb, c.Relation, c.Child, c.Parent)
}
