// Package scheduler implements the Watchpoint Scheduler: it
// decides which input indices are currently armed for watchpoint hits, and
// resolves the delayed-watchpoint policy that biases attribution toward the
// innermost frame that reads a byte.
package scheduler

import (
	"sort"

	"github.com/dekarrin/gdbminer/internal/mmerr"
	"github.com/dekarrin/gdbminer/internal/types"
	"github.com/dekarrin/gdbminer/internal/util"
)

// Attribution records that input index Index was (tentatively or finally)
// read by the frame identified by Frame at call-stack depth Depth.
type Attribution struct {
	Index int
	Frame types.FrameId
	Depth int
}

// Scheduler tracks which of the n input indices are armed, which are
// resolved (Hit), and — under the delay policy — which are pending a final
// attribution.
//
// A Scheduler is not safe for concurrent use; the core is single-threaded
// per trace.
type Scheduler struct {
	n     int
	w     int
	delay bool

	armed   util.KeySet[int]
	hit     util.KeySet[int]
	pending map[int]Attribution
}

// New constructs a Scheduler for an input of length n and a watchpoint
// capacity w (w == 0 degrades to single-stepping "edge
// cases"). delay selects the delayed-watchpoint policy.
func New(n, w int, delay bool) (*Scheduler, error) {
	if n < 0 {
		return nil, mmerr.ConfigInvalid("input_length", "must be non-negative")
	}
	if w < 0 {
		return nil, mmerr.ConfigInvalid("watchpoint_count", "must be non-negative")
	}
	s := &Scheduler{
		n:       n,
		w:       w,
		delay:   delay,
		armed:   util.NewKeySet[int](),
		hit:     util.NewKeySet[int](),
		pending: map[int]Attribution{},
	}
	s.replan()
	return s, nil
}

// SingleStep reports whether the scheduler is in the W=0 degraded mode. No
// hardware watchpoint slots are available, so the single index in Armed()
// must be realized as a software watchpoint, which the backend implements
// by single-stepping internally (: "slow but correct").
func (s *Scheduler) SingleStep() bool {
	return s.w == 0
}

// Frontier returns f = min([0,n) \ Hit), the smallest input index not yet
// resolved.
func (s *Scheduler) Frontier() int {
	for i := 0; i < s.n; i++ {
		if !s.hit.Has(i) {
			return i
		}
	}
	return s.n
}

// Done reports whether every index has been resolved and no delayed
// attribution remains outstanding.
func (s *Scheduler) Done() bool {
	return s.Frontier() >= s.n && len(s.pending) == 0
}

// Armed returns the sorted indices currently armed, i.e. the ones the
// Tracer must have a watchpoint installed for.
func (s *Scheduler) Armed() []int {
	indices := s.armed.Elements()
	sort.Ints(indices)
	return indices
}

// CheckInvariant reports WatchpointBudgetExceeded if the armed set has
// grown past capacity, which would indicate a scheduler bug. In
// the W=0 degraded mode, capacity is the single software watchpoint slot
// the Tracer cycles through one index at a time.
func (s *Scheduler) CheckInvariant() error {
	capacity := s.w
	if capacity == 0 {
		capacity = 1
	}
	if s.armed.Len() > capacity {
		return mmerr.WatchpointBudgetExceeded(s.armed.Len(), capacity)
	}
	return nil
}

// AttributeHit processes a watchpoint or single-step read of index at the
// given frame and depth. It returns the Attribution once it is finalized
// (hit), or ok == false if the read only produced a tentative attribution
// under the delay policy, or if the index was already resolved and the
// read is to be silently ignored per the "re-arming across resets" rule.
func (s *Scheduler) AttributeHit(index int, frame types.FrameId, depth int) (att Attribution, ok bool) {
	if index < 0 || index >= s.n {
		return Attribution{}, false
	}
	if s.hit.Has(index) {
		// Already attributed; a rewind re-read unblocks execution but must
		// not be treated as a new assignment.
		return Attribution{}, false
	}

	if !s.delay {
		att = Attribution{Index: index, Frame: frame, Depth: depth}
		s.finalize(index, att)
		return att, true
	}

	existing, isPending := s.pending[index]
	if !isPending {
		s.pending[index] = Attribution{Index: index, Frame: frame, Depth: depth}
		return Attribution{}, false
	}

	if depth > existing.Depth {
		// A deeper frame re-read the same byte; bias attribution toward it.
		att = Attribution{Index: index, Frame: frame, Depth: depth}
		s.finalize(index, att)
		return att, true
	}

	// Shallower or equal-depth re-read of a still-pending index: ignore,
	// keep the existing pending attribution intact.
	return Attribution{}, false
}

// NotifyFrameReturned finalizes any attribution still pending at exactly
// the given depth, because execution has left that depth without a
// deeper read occurring (the delay-policy resolution rule). It
// returns the newly finalized attributions in ascending index order.
func (s *Scheduler) NotifyFrameReturned(depth int) []Attribution {
	var finalized []Attribution
	for idx, att := range s.pending {
		if att.Depth == depth {
			finalized = append(finalized, att)
		}
	}
	sort.Slice(finalized, func(i, j int) bool { return finalized[i].Index < finalized[j].Index })
	for _, att := range finalized {
		s.finalize(att.Index, att)
	}
	return finalized
}

func (s *Scheduler) finalize(index int, att Attribution) {
	s.hit.Add(index)
	delete(s.pending, index)
	s.replan()
}

// replan implements the forward sliding window: indices below the
// frontier are dropped from Armed, and the window is filled up to W
// starting at the frontier.
func (s *Scheduler) replan() {
	f := s.Frontier()
	for _, idx := range s.armed.Elements() {
		if idx < f {
			s.armed.Remove(idx)
		}
	}
	window := s.w
	if window == 0 {
		// Degraded mode: one software watchpoint, cycled one index at a
		// time rather than a full W-wide window.
		window = 1
	}
	for i := f; i < s.n && s.armed.Len() < window; i++ {
		if !s.hit.Has(i) {
			s.armed.Add(i)
		}
	}
}
