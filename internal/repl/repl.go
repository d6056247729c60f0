// Package repl interprets the line-oriented command language that drives an
// EntityStore: creating entities, setting attributes and relations, casting
// spells and printing change dumps and tree views.
//
// The interpreter owns the dump boundary. Each dump reports what changed
// after the previous dump and then advances the store's epoch, so the next
// dump starts from a clean slate.
package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nvandessel/ecsrepl/internal/logging"
	"github.com/nvandessel/ecsrepl/internal/rpg"
	"github.com/nvandessel/ecsrepl/internal/store"
)

// Options configures an Interpreter. The zero value is usable.
type Options struct {
	// Relation is the relation set-relation, tree and dump use. Default "child".
	Relation string

	// Prompt is written before each line when Interactive is set.
	Prompt      string
	Interactive bool

	// Deferred queues mutations until the next tick, dump, tree, list, get
	// or quit.
	Deferred bool

	Logger  *slog.Logger
	Journal *logging.Journal

	// Metrics, when set, backs the stats command.
	Metrics prometheus.Gatherer
}

// Interpreter executes REPL lines against a store.
type Interpreter struct {
	s     store.EntityStore
	out   io.Writer
	opts  Options
	log   *slog.Logger
	queue *store.Queue
	since store.Epoch // last dump boundary
}

// New creates an interpreter writing its output to out.
func New(s store.EntityStore, out io.Writer, opts Options) *Interpreter {
	if opts.Relation == "" {
		opts.Relation = "child"
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Interpreter{
		s:     s,
		out:   out,
		opts:  opts,
		log:   log,
		queue: store.NewQueue(),
	}
}

// Run reads lines from in until EOF, quit or ctx is done. Command errors are
// printed and do not stop the loop; only read errors are returned. Queued
// commands are flushed before Run returns, even after cancellation.
func (r *Interpreter) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Reading happens off the loop so cancellation is seen while a terminal
	// read is blocked. The reader sends exactly one value on readErr before
	// closing lines.
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				readErr <- ctx.Err()
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		if ctx.Err() != nil {
			r.Flush(context.WithoutCancel(ctx))
			return nil
		}
		if r.opts.Interactive {
			fmt.Fprint(r.out, r.opts.Prompt)
		}

		select {
		case <-ctx.Done():
			continue
		case line, ok := <-lines:
			if !ok {
				err := <-readErr
				if ctx.Err() != nil {
					r.Flush(context.WithoutCancel(ctx))
					return nil
				}
				r.Flush(ctx)
				if err != nil {
					return fmt.Errorf("reading input: %w", err)
				}
				return nil
			}
			if quit := r.Exec(ctx, line); quit {
				return nil
			}
		}
	}
}

// Exec runs one line and reports whether it asked to quit.
func (r *Interpreter) Exec(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return false
	}
	r.log.Log(ctx, logging.LevelTrace, "exec", "line", line)

	quit, err := r.execute(ctx, line)
	if err != nil {
		var unknown unknownCommandError
		if errors.As(err, &unknown) {
			fmt.Fprintf(r.out, "unknown command: %s\n", line)
		} else {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
		r.log.Debug("command failed", "line", line, "error", err)
	}
	return quit
}

type unknownCommandError struct{}

func (unknownCommandError) Error() string { return "unknown command" }

type usageError struct{ usage string }

func (e usageError) Error() string { return "usage: " + e.usage }

func (r *Interpreter) execute(ctx context.Context, line string) (bool, error) {
	args := strings.Fields(line)

	switch args[0] {
	case "add":
		if len(args) != 3 || args[1] != "entity" {
			return false, usageError{"add entity <name>"}
		}
		return false, r.add(ctx, args[2])

	case "set":
		if len(args) != 4 {
			return false, usageError{"set <attribute> <name> <value>"}
		}
		return false, r.set(ctx, args[1], args[2], args[3])

	case "set-relation", "link-relation", "rm-relation":
		if len(args) != 5 || args[3] != "parent" {
			return false, usageError{args[0] + " <relation> <child> parent <parent>"}
		}
		op := store.EdgeSet
		switch args[0] {
		case "link-relation":
			op = store.EdgeLink
		case "rm-relation":
			op = store.EdgeRemove
		}
		return false, r.relation(ctx, &store.RelationCmd{Op: op, Relation: args[1], Child: args[2], Parent: args[4]})

	case "get":
		if len(args) != 2 {
			return false, usageError{"get <name>"}
		}
		r.Flush(ctx)
		return false, r.get(ctx, args[1])

	case "remove", "rm":
		if len(args) != 2 {
			return false, usageError{args[0] + " <name>"}
		}
		return false, r.remove(ctx, args[1])

	case "dump":
		if len(args) > 2 {
			return false, usageError{"dump [added|modified|removed]"}
		}
		kind := store.FilterAll
		if len(args) == 2 {
			k, err := store.ParseFilterKind(args[1])
			if err != nil {
				return false, err
			}
			kind = k
		}
		r.Flush(ctx)
		return false, r.dump(ctx, kind)

	case "tick":
		r.Flush(ctx)
		e, err := r.s.AdvanceEpoch(ctx)
		if err != nil {
			return false, err
		}
		r.journal("advance_epoch", map[string]any{"epoch": e})
		fmt.Fprintf(r.out, "epoch %d\n", e)
		return false, nil

	case "tree":
		mode := "dfs"
		if len(args) == 2 {
			mode = args[1]
		} else if len(args) > 2 {
			return false, usageError{"tree [dfs|topo]"}
		}
		r.Flush(ctx)
		return false, r.tree(ctx, mode)

	case "list":
		r.Flush(ctx)
		return false, r.list(ctx)

	case "cast":
		spell, caster, cost, err := parseCast(args)
		if err != nil {
			return false, err
		}
		r.Flush(ctx)
		return false, r.cast(ctx, spell, caster, cost)

	case "validate":
		if len(args) != 1 {
			return false, usageError{"validate"}
		}
		r.Flush(ctx)
		return false, r.validate(ctx)

	case "echo":
		fmt.Fprintln(r.out, strings.TrimSpace(strings.TrimPrefix(line, "echo")))
		return false, nil

	case "stats":
		return false, r.stats()

	case "help":
		r.help()
		return false, nil

	case "quit", "exit":
		r.Flush(ctx)
		return true, nil

	default:
		return false, unknownCommandError{}
	}
}

// parseCast accepts "cast <spell> <caster> <cost>" and
// "cast <spell> by <caster> for <cost>".
func parseCast(args []string) (spell, caster string, cost int64, err error) {
	var costArg string
	switch {
	case len(args) == 4:
		spell, caster, costArg = args[1], args[2], args[3]
	case len(args) == 6 && args[2] == "by" && args[4] == "for":
		spell, caster, costArg = args[1], args[3], args[5]
	default:
		return "", "", 0, usageError{"cast <spell> <caster> <cost> | cast <spell> by <caster> for <cost>"}
	}
	cost, err = parseValue(costArg)
	return spell, caster, cost, err
}

func parseValue(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: expected an integer", s)
	}
	return v, nil
}

func (r *Interpreter) add(ctx context.Context, name string) error {
	if r.opts.Deferred {
		return r.enqueue(&store.CreateEntityCmd{Name: name})
	}
	id, err := r.s.CreateEntity(ctx, name)
	if err != nil {
		return err
	}
	r.journal("create_entity", map[string]any{"name": name, "id": id})
	fmt.Fprintf(r.out, "added %s (%d)\n", name, id)
	return nil
}

func (r *Interpreter) set(ctx context.Context, attr, name, value string) error {
	if err := store.ValidateName(attr); err != nil {
		return err
	}
	v, err := parseValue(value)
	if err != nil {
		return err
	}

	if r.opts.Deferred {
		cmds := []store.Command{&store.SetAttributeCmd{Entity: name, Attribute: attr, Value: v}}
		if attr == rpg.AttrMana {
			cmds = append(cmds, &store.SetAttributeCmd{Entity: name, Attribute: rpg.AttrMaxMana, Value: v})
		}
		return r.enqueue(cmds...)
	}

	id, err := r.s.Lookup(ctx, name)
	if err != nil {
		return err
	}
	switch attr {
	case rpg.AttrMana:
		err = rpg.SetMana(ctx, r.s, id, v)
	case rpg.AttrHealth:
		err = rpg.SetHealth(ctx, r.s, id, v)
	default:
		err = r.s.SetAttribute(ctx, id, attr, v)
	}
	if err != nil {
		return err
	}
	r.journal("set_attribute", map[string]any{"name": name, "attribute": attr, "value": v})
	fmt.Fprintf(r.out, "set %s of %s to %d\n", attr, name, v)
	return nil
}

func (r *Interpreter) relation(ctx context.Context, cmd *store.RelationCmd) error {
	if r.opts.Deferred {
		return r.enqueue(cmd)
	}
	if err := cmd.Apply(ctx, r.s); err != nil {
		return err
	}
	r.journalRelation(cmd)
	if cmd.Op == store.EdgeRemove {
		fmt.Fprintf(r.out, "removed %s: %s -> %s\n", cmd.Relation, cmd.Child, cmd.Parent)
	} else {
		fmt.Fprintf(r.out, "%s: %s -> %s\n", cmd.Relation, cmd.Child, cmd.Parent)
	}
	return nil
}

func (r *Interpreter) remove(ctx context.Context, name string) error {
	cmd := &store.RemoveEntityCmd{Name: name}
	if r.opts.Deferred {
		return r.enqueue(cmd)
	}
	if err := cmd.Apply(ctx, r.s); err != nil {
		return err
	}
	r.journal("remove_entity", map[string]any{"name": name})
	fmt.Fprintf(r.out, "removed %s\n", name)
	return nil
}

func (r *Interpreter) cast(ctx context.Context, spell, caster string, cost int64) error {
	id, err := r.s.Lookup(ctx, caster)
	if err != nil {
		return err
	}
	res, err := rpg.Cast(ctx, r.s, id, spell, cost)
	if err != nil {
		switch {
		case errors.Is(err, rpg.ErrInsufficientResource):
			return fmt.Errorf("%s doesn't have enough mana: %w", caster, err)
		case errors.Is(err, store.ErrAttributeMissing):
			return fmt.Errorf("%s has no mana to cast spells", caster)
		}
		return err
	}
	r.journal("cast", map[string]any{"name": caster, "spell": spell, "cost": cost, "remaining": res.Remaining})
	fmt.Fprintf(r.out, "%s casts %s for %d mana! %s\n", caster, res.Spell, res.Cost, res.Effect)
	if res.Exhausted {
		fmt.Fprintf(r.out, "%s's mana is completely exhausted!\n", caster)
	}
	return nil
}

func (r *Interpreter) stats() error {
	if r.opts.Metrics == nil {
		return errors.New("metrics are not enabled for this store")
	}
	return printStats(r.out, r.opts.Metrics)
}

// enqueue stages cmds in deferred mode.
func (r *Interpreter) enqueue(cmds ...store.Command) error {
	r.queue.Enqueue(cmds...)
	for _, c := range cmds {
		fmt.Fprintf(r.out, "queued: %s\n", c)
	}
	return nil
}

// Flush applies queued commands, printing each failure. It is a no-op
// outside deferred mode.
func (r *Interpreter) Flush(ctx context.Context) {
	if r.queue.Len() == 0 {
		return
	}
	results := r.queue.Flush(ctx, r.s)
	applied := 0
	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(r.out, "error: %s: %v\n", res.Command, res.Err)
			continue
		}
		applied++
		switch c := res.Command.(type) {
		case *store.CreateEntityCmd:
			r.journal("create_entity", map[string]any{"name": c.Name, "id": c.ID})
		case *store.SetAttributeCmd:
			r.journal("set_attribute", map[string]any{"name": c.Entity, "attribute": c.Attribute, "value": c.Value})
		case *store.RelationCmd:
			r.journalRelation(c)
		case *store.RemoveEntityCmd:
			r.journal("remove_entity", map[string]any{"name": c.Name})
		}
	}
	fmt.Fprintf(r.out, "applied %d of %d queued commands\n", applied, len(results))
}

func (r *Interpreter) journalRelation(c *store.RelationCmd) {
	op := "set_relation"
	if c.Op == store.EdgeRemove {
		op = "remove_relation"
	} else if c.Op == store.EdgeLink {
		op = "link_relation"
	}
	r.journal(op, map[string]any{"relation": c.Relation, "child": c.Child, "parent": c.Parent})
}

func (r *Interpreter) journal(op string, fields map[string]any) {
	r.opts.Journal.Record(op, fields)
	r.log.Debug("applied", "op", op)
}
