package scheduler

import (
	"testing"

	"github.com/dekarrin/gdbminer/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(fn string) types.FrameId {
	return types.FrameId{Key: types.CallSiteKey{Function: fn}}
}

func Test_New_validates_inputs(t *testing.T) {
	_, err := New(-1, 4, false)
	assert.Error(t, err)

	_, err = New(10, -1, false)
	assert.Error(t, err)
}

func Test_Scheduler_initial_window(t *testing.T) {
	s, err := New(10, 4, false)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, s.Armed())
	assert.Equal(t, 0, s.Frontier())
}

func Test_Scheduler_SingleStep_mode_arms_one_software_watchpoint(t *testing.T) {
	s, err := New(5, 0, false)
	require.NoError(t, err)
	assert.True(t, s.SingleStep())
	assert.Equal(t, []int{0}, s.Armed())
	assert.NoError(t, s.CheckInvariant())
}

func Test_Scheduler_immediate_policy_slides_window(t *testing.T) {
	s, err := New(10, 4, false)
	require.NoError(t, err)

	att, ok := s.AttributeHit(0, frame("parse_expr"), 0)
	require.True(t, ok)
	assert.Equal(t, 0, att.Index)

	assert.Equal(t, []int{1, 2, 3, 4}, s.Armed())
	assert.Equal(t, 1, s.Frontier())
}

func Test_Scheduler_rewind_of_already_hit_index_is_ignored(t *testing.T) {
	s, err := New(5, 2, false)
	require.NoError(t, err)

	_, ok := s.AttributeHit(0, frame("f"), 0)
	require.True(t, ok)

	_, ok = s.AttributeHit(0, frame("f"), 0)
	assert.False(t, ok, "re-read of an already-hit index must not be a new assignment")
}

func Test_Scheduler_delay_policy_finalizes_to_innermost_reader(t *testing.T) {
	s, err := New(5, 3, true)
	require.NoError(t, err)

	_, ok := s.AttributeHit(0, frame("shallow"), 0)
	assert.False(t, ok, "first read under delay policy is only tentative")
	assert.False(t, s.Done())

	att, ok := s.AttributeHit(0, frame("deep"), 1)
	require.True(t, ok, "a deeper re-read finalizes attribution")
	assert.Equal(t, "deep", att.Frame.Key.Function)
	assert.Equal(t, 1, att.Depth)
}

func Test_Scheduler_delay_policy_shallower_reread_does_not_finalize(t *testing.T) {
	s, err := New(5, 3, true)
	require.NoError(t, err)

	_, ok := s.AttributeHit(0, frame("shallow"), 2)
	assert.False(t, ok)

	// A re-read at the same or a shallower depth must not finalize or
	// overwrite the pending attribution.
	_, ok = s.AttributeHit(0, frame("sibling"), 1)
	assert.False(t, ok)
}

func Test_Scheduler_delay_policy_finalizes_on_frame_return(t *testing.T) {
	s, err := New(5, 3, true)
	require.NoError(t, err)

	_, ok := s.AttributeHit(0, frame("shallow"), 0)
	assert.False(t, ok)

	finalized := s.NotifyFrameReturned(0)
	require.Len(t, finalized, 1)
	assert.Equal(t, 0, finalized[0].Index)
	assert.Equal(t, "shallow", finalized[0].Frame.Key.Function)

	// Second call at the same depth finds nothing left pending.
	assert.Empty(t, s.NotifyFrameReturned(0))
}

func Test_Scheduler_CheckInvariant(t *testing.T) {
	s, err := New(10, 4, false)
	require.NoError(t, err)
	assert.NoError(t, s.CheckInvariant())

	s.armed.Add(99) // force an over-capacity state to exercise the check
	assert.Error(t, s.CheckInvariant())
}

func Test_Scheduler_Done_once_all_indices_resolved(t *testing.T) {
	s, err := New(2, 2, false)
	require.NoError(t, err)

	_, _ = s.AttributeHit(0, frame("f"), 0)
	assert.False(t, s.Done())

	_, _ = s.AttributeHit(1, frame("f"), 0)
	assert.True(t, s.Done())
}
