// Package sweep runs the full trace-annotate-mine pipeline once per
// watchpoint budget in a list, so the grammars produced under different
// `W` values can be compared ( scenario 6, "Watchpoint-budget
// sweep"). It is reusable test/diagnostic surface, not a distinct CLI
// verb: cmd/gminer's ordinary run uses a single configured W, and only
// the sweep tooling iterates over several.
package sweep

import (
	"context"
	"fmt"

	"github.com/dekarrin/gdbminer/internal/adapter"
	"github.com/dekarrin/gdbminer/internal/annotator"
	"github.com/dekarrin/gdbminer/internal/grammar"
	"github.com/dekarrin/gdbminer/internal/miner"
	"github.com/dekarrin/gdbminer/internal/mlog"
	"github.com/dekarrin/gdbminer/internal/oracle"
	"github.com/dekarrin/gdbminer/internal/tracer"
	"github.com/dekarrin/gdbminer/internal/types"
)

// Seed is one input to trace, along with the bytes that reach the parser
// over whichever input channel the caller has already prepared via
// program/args/stdin in Run.
type Seed struct {
	Name  string
	Len   int
	Args  []string
	Stdin []byte
}

// Options carries the parts of Tracer.Options that stay fixed across a
// sweep; WatchpointCount is supplied per-point by the caller of Run.
type Options struct {
	Program           string
	Entrypoint        string
	ExitpointSymbol   string
	InputBufferSymbol string
	IgnoreRegex       string
	CallSiteMode      oracle.Mode
	DelayPolicy       bool
	MaxRetries        int
}

// NewAdapter constructs a fresh, unlaunched Adapter for one seed's trace.
// Adapters are not reusable across launches, so the sweep harness asks
// for a new one per (seed, W) point.
type NewAdapter func() (adapter.Adapter, error)

// Point is one (seed set, W) result of a sweep.
type Point struct {
	WatchpointCount int
	Grammar         *grammar.Grammar

	// Failures maps seed name to the error encountered tracing it at this
	// W, for seeds that did not produce a trace.
	Failures map[string]error
}

// Run traces every seed in seeds once for each watchpoint count in
// watchpointCounts, folding each W's traces into its own grammar via a
// fresh miner.Miner. Entrypoint is also the grammar's start nonterminal.
func Run(ctx context.Context, newAdapter NewAdapter, opts Options, seeds []Seed, watchpointCounts []int, log *mlog.Logger) ([]Point, error) {
	points := make([]Point, 0, len(watchpointCounts))

	for _, w := range watchpointCounts {
		m := miner.New(types.CallSiteKey{Function: opts.Entrypoint})
		failures := map[string]error{}

		for _, seed := range seeds {
			trace, err := traceOne(ctx, newAdapter, opts, w, seed, log)
			if err != nil {
				failures[seed.Name] = err
				continue
			}
			m.Ingest(trace)
		}

		g := m.Grammar()
		g.PruneUnreachable()

		points = append(points, Point{
			WatchpointCount: w,
			Grammar:         g,
			Failures:        failures,
		})
	}

	return points, nil
}

func traceOne(ctx context.Context, newAdapter NewAdapter, opts Options, w int, seed Seed, log *mlog.Logger) (*types.Trace, error) {
	a, err := newAdapter()
	if err != nil {
		return nil, fmt.Errorf("sweep: new adapter for seed %s: %w", seed.Name, err)
	}

	o, err := oracle.New(a, opts.IgnoreRegex, opts.CallSiteMode)
	if err != nil {
		return nil, err
	}

	tr := tracer.New(a, o, log, tracer.Options{
		Entrypoint:        opts.Entrypoint,
		ExitpointSymbol:   opts.ExitpointSymbol,
		InputBufferSymbol: opts.InputBufferSymbol,
		WatchpointCount:   w,
		DelayPolicy:       opts.DelayPolicy,
		MaxRetries:        opts.MaxRetries,
	})

	raw, err := tr.Run(ctx, opts.Program, seed.Args, seed.Stdin, seed.Name, seed.Len)
	if err != nil {
		return nil, err
	}

	return annotator.Annotate(raw, seed.Stdin, o.ShouldIgnore)
}
