package tracer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dekarrin/gdbminer/internal/adapter"
	"github.com/dekarrin/gdbminer/internal/mlog"
	"github.com/dekarrin/gdbminer/internal/oracle"
)

// scriptedAdapter replays a fixed sequence of stop events and backtraces,
// enough to drive the Tracer's frame-diffing and attribution logic without
// a real debugger.
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

func Test_Tracer_traces_calc_like_seed(t *testing.T) {
	const base = 0x601040

	sum := adapter.Frame{Symbol: "parse_sum", File: "calc.c", Line: 5}
	primary := adapter.Frame{Symbol: "parse_primary", File: "calc.c", Line: 12}

	fa := &scriptedAdapter{
		base: base,
		stops: []adapter.StopEvent{
			{Kind: adapter.StopBreakpoint},
			{Kind: adapter.StopWatchpointHit, Addr: base + 0},
			{Kind: adapter.StopWatchpointHit, Addr: base + 1},
			{Kind: adapter.StopWatchpointHit, Addr: base + 2},
		},
		btSeq: [][]adapter.Frame{
			{sum},                // at entry
			{primary, sum},       // reading '1'
			{sum},                // reading '+', parse_primary has returned
			{primary, sum},       // reading '2', a fresh parse_primary activation
		},
	}

	o, err := oracle.New(fa, "", oracle.FunctionOnly)
	require.NoError(t, err)

	log := mlog.NewWriter(mlog.DEBUG, discard{})
	tr := New(fa, o, log, Options{
		Entrypoint:        "parse_sum",
		InputBufferSymbol: "input_buf",
		WatchpointCount:   4,
	})

	raw, err := tr.Run(context.Background(), "/bin/calc", nil, []byte("1+2"), "seed1", 3)
	require.NoError(t, err)
	require.NotNil(t, raw.Root)
	assert.False(t, raw.Truncated)

	root := raw.Root
	assert.Equal(t, "parse_sum", root.Frame.Key.Function)
	assert.Equal(t, 0, root.Range.Lo)
	assert.Equal(t, 3, root.Range.Hi)
	assert.Equal(t, []int{1}, root.Direct)

	require.Len(t, root.Children, 2)
	assert.Equal(t, "parse_primary", root.Children[0].Frame.Key.Function)
	assert.Equal(t, []int{0}, root.Children[0].Direct)
	assert.Equal(t, "parse_primary", root.Children[1].Frame.Key.Function)
	assert.Equal(t, []int{2}, root.Children[1].Direct)

	// Two distinct activations of the same call site must not collapse.
	assert.NotEqual(t, root.Children[0].Frame.Activation, root.Children[1].Frame.Activation)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
