package sweep

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dekarrin/gdbminer/internal/adapter"
	"github.com/dekarrin/gdbminer/internal/mlog"
	"github.com/dekarrin/gdbminer/internal/oracle"
)

// scriptedAdapter replays a fixed, deterministic sequence of stops for one
// "1+2"-shaped seed, independent of the watchpoint budget under test: the
// Scheduler's window size changes internal bookkeeping but not which
// addresses eventually get hit for this fixture.
type scriptedAdapter struct {
	adapter.Adapter

	base    uint64
	stops   []adapter.StopEvent
	btSeq   [][]adapter.Frame
	contIdx int
	btIdx   int

	nextWatchID int
}

func (a *scriptedAdapter) Launch(ctx context.Context, program string, args []string, stdin []byte) error {
	return nil
}

func (a *scriptedAdapter) SetBreakpoint(location string) error { return nil }

func (a *scriptedAdapter) ContinueUntilStop(ctx context.Context) (adapter.StopEvent, error) {
	ev := a.stops[a.contIdx]
	a.contIdx++
	return ev, nil
}

func (a *scriptedAdapter) GetBacktrace() ([]adapter.Frame, error) {
	bt := a.btSeq[a.btIdx]
	a.btIdx++
	return bt, nil
}

func (a *scriptedAdapter) ResolveSymbol(name string) (uint64, error) {
	return a.base, nil
}

func (a *scriptedAdapter) SetWatchpoint(addr uint64, length int, kind adapter.WatchpointKind) (adapter.WatchpointId, error) {
	a.nextWatchID++
	return adapter.WatchpointId(a.nextWatchID), nil
}

func (a *scriptedAdapter) ClearWatchpoint(id adapter.WatchpointId) error { return nil }

func (a *scriptedAdapter) Close() error { return nil }

func newCalcAdapter() adapter.Adapter {
	const base = 0x601040
	sum := adapter.Frame{Symbol: "parse_sum", File: "calc.c", Line: 5}
	primary := adapter.Frame{Symbol: "parse_primary", File: "calc.c", Line: 12}

	return &scriptedAdapter{
		base: base,
		stops: []adapter.StopEvent{
			{Kind: adapter.StopBreakpoint},
			{Kind: adapter.StopWatchpointHit, Addr: base + 0},
			{Kind: adapter.StopWatchpointHit, Addr: base + 1},
			{Kind: adapter.StopWatchpointHit, Addr: base + 2},
		},
		btSeq: [][]adapter.Frame{
			{sum},
			{primary, sum},
			{sum},
			{primary, sum},
		},
	}
}

func Test_Sweep_Run_produces_one_point_per_watchpoint_count(t *testing.T) {
	opts := Options{
		Program:           "/bin/calc",
		Entrypoint:        "parse_sum",
		InputBufferSymbol: "input_buf",
		CallSiteMode:      oracle.FunctionOnly,
	}
	seeds := []Seed{{Name: "seed1", Len: 3, Stdin: []byte("1+2")}}
	log := mlog.NewWriter(mlog.DEBUG, discard{})

	points, err := Run(context.Background(), func() (adapter.Adapter, error) {
		return newCalcAdapter(), nil
	}, opts, seeds, []int{1, 4}, log)

	require.NoError(t, err)
	require.Len(t, points, 2)

	for _, p := range points {
		assert.Empty(t, p.Failures)
		require.NotNil(t, p.Grammar)
		assert.True(t, p.Grammar.Has("parse_sum"))
		assert.True(t, p.Grammar.Has("parse_primary"))
	}
}

func Test_Sweep_Run_records_trace_failures_without_aborting_other_points(t *testing.T) {
	opts := Options{
		Program:           "/bin/calc",
		Entrypoint:        "parse_sum",
		InputBufferSymbol: "input_buf",
		CallSiteMode:      oracle.FunctionOnly,
	}
	seeds := []Seed{{Name: "seed1", Len: 3, Stdin: []byte("1+2")}}
	log := mlog.NewWriter(mlog.DEBUG, discard{})

	calls := 0
	points, err := Run(context.Background(), func() (adapter.Adapter, error) {
		calls++
		if calls == 1 {
			return nil, assertErr("boom")
		}
		return newCalcAdapter(), nil
	}, opts, seeds, []int{1, 4}, log)

	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Contains(t, points[0].Failures, "seed1")
	assert.Empty(t, points[1].Failures)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
