package simulation

import (
	"bytes"
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/ecsrepl/internal/repl"
	"github.com/nvandessel/ecsrepl/internal/store"
)

// Backend opens a fresh store for one run.
type Backend struct {
	Name string
	Open func(ctx context.Context) (store.EntityStore, error)
}

// DefaultBackends returns the in-memory and SQLite backends.
func DefaultBackends() []Backend {
	return []Backend{
		{
			Name: "memory",
			Open: func(context.Context) (store.EntityStore, error) {
				return store.NewInMemoryEntityStore(), nil
			},
		},
		{
			Name: "sqlite",
			Open: func(ctx context.Context) (store.EntityStore, error) {
				return store.NewSQLiteEntityStore(ctx)
			},
		},
	}
}

// Runner replays scenarios against a fixed set of backends.
type Runner struct {
	backends []Backend
	opts     repl.Options
}

// NewRunner creates a runner over backends.
func NewRunner(backends ...Backend) *Runner {
	return &Runner{backends: backends}
}

// WithOptions sets the interpreter options used for every backend. Prompting
// is always off.
func (r *Runner) WithOptions(opts repl.Options) *Runner {
	opts.Interactive = false
	r.opts = opts
	return r
}

// Run executes the scenario on every backend concurrently. Each backend has
// its own store, so runs share nothing.
func (r *Runner) Run(ctx context.Context, sc Scenario) (SimulationResult, error) {
	if len(r.backends) == 0 {
		return SimulationResult{}, fmt.Errorf("no backends to run %s on", sc.Name)
	}

	transcripts := make([]Transcript, len(r.backends))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range r.backends {
		g.Go(func() error {
			t, err := r.runOne(gctx, b, sc)
			if err != nil {
				return fmt.Errorf("backend %s: %w", b.Name, err)
			}
			transcripts[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SimulationResult{}, err
	}

	return SimulationResult{Scenario: sc.Name, Transcripts: transcripts}, nil
}

func (r *Runner) runOne(ctx context.Context, b Backend, sc Scenario) (Transcript, error) {
	s, err := b.Open(ctx)
	if err != nil {
		return Transcript{}, fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	var buf bytes.Buffer
	interp := repl.New(s, &buf, r.opts)
	t := Transcript{Backend: b.Name}

	quit := false
	for i, line := range sc.Lines {
		if err := ctx.Err(); err != nil {
			return Transcript{}, err
		}
		quit = interp.Exec(ctx, line)
		t.Steps = append(t.Steps, Step{Line: i + 1, Input: line, Output: buf.String()})
		buf.Reset()
		if quit {
			break
		}
	}

	if !quit {
		interp.Flush(ctx)
		if buf.Len() > 0 {
			t.Steps = append(t.Steps, Step{Line: len(sc.Lines) + 1, Input: "<eof>", Output: buf.String()})
		}
	}
	return t, nil
}
