package annotator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dekarrin/gdbminer/internal/tracer"
	"github.com/dekarrin/gdbminer/internal/types"
)

func key(fn string) types.CallSiteKey { return types.CallSiteKey{Function: fn} }

func noIgnore(string) bool { return false }

func Test_Annotate_calc_like_tree(t *testing.T) {
	seed := []byte("1+2")

	primary1 := &tracer.RawNode{Frame: types.FrameId{Key: key("parse_primary")}, Direct: []int{0}}
	primary2 := &tracer.RawNode{Frame: types.FrameId{Key: key("parse_primary")}, Direct: []int{2}}
	root := &tracer.RawNode{
		Frame:    types.FrameId{Key: key("parse_sum")},
		Children: []*tracer.RawNode{primary1, primary2},
		Direct:   []int{1},
	}

	raw := &tracer.RawTrace{SeedName: "seed1", Length: len(seed), Root: root}

	trace, err := Annotate(raw, seed, noIgnore)
	require.NoError(t, err)
	require.NotNil(t, trace.Root)

	assert.Equal(t, 0, trace.Root.Range.Lo)
	assert.Equal(t, 3, trace.Root.Range.Hi)
	assert.False(t, trace.PartiallyConsumed)
	assert.Equal(t, seed, trace.Yield())

	require.Len(t, trace.Root.Children, 2)
	assert.Equal(t, 1, len(trace.Root.Owned))
	assert.Equal(t, "+", string(trace.Root.Owned[0].Bytes))
}

func Test_Annotate_splices_ignored_frames(t *testing.T) {
	seed := []byte("ab")

	leaf := &tracer.RawNode{Frame: types.FrameId{Key: key("parse_char")}, Direct: []int{0}}
	thunk := &tracer.RawNode{
		Frame:    types.FrameId{Key: key("_dl_runtime_resolve")},
		Children: []*tracer.RawNode{leaf},
	}
	root := &tracer.RawNode{
		Frame:    types.FrameId{Key: key("parse_all")},
		Children: []*tracer.RawNode{thunk},
		Direct:   []int{1},
	}

	raw := &tracer.RawTrace{SeedName: "seed2", Length: len(seed), Root: root}
	ignore := func(symbol string) bool { return symbol == "_dl_runtime_resolve" }

	trace, err := Annotate(raw, seed, ignore)
	require.NoError(t, err)
	require.Len(t, trace.Root.Children, 1)
	assert.Equal(t, "parse_char", trace.Root.Children[0].Frame.Key.Function)
}

func Test_Annotate_unread_tail_flags_partial(t *testing.T) {
	seed := []byte("1;garbage")

	root := &tracer.RawNode{Frame: types.FrameId{Key: key("parse_stmt")}, Direct: []int{0}}
	raw := &tracer.RawTrace{SeedName: "seed3", Length: len(seed), Root: root}

	trace, err := Annotate(raw, seed, noIgnore)
	require.NoError(t, err)
	assert.True(t, trace.PartiallyConsumed)
	require.Len(t, trace.Root.Owned, 2)
	assert.Equal(t, ";garbage", string(trace.Root.Owned[len(trace.Root.Owned)-1].Bytes))
}

func Test_Annotate_detects_overlapping_siblings(t *testing.T) {
	seed := []byte("xx")

	a := &tracer.RawNode{Frame: types.FrameId{Key: key("a")}, Direct: []int{0, 1}}
	b := &tracer.RawNode{Frame: types.FrameId{Key: key("b")}, Direct: []int{1}}
	root := &tracer.RawNode{
		Frame:    types.FrameId{Key: key("root")},
		Children: []*tracer.RawNode{a, b},
	}

	raw := &tracer.RawTrace{SeedName: "seed4", Length: len(seed), Root: root}

	_, err := Annotate(raw, seed, noIgnore)
	assert.Error(t, err)
}
