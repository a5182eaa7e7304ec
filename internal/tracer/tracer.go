// Package tracer implements the Tracer Loop: it drives one
// traced process through a single seed, using the Debugger Adapter, the
// Symbol & Frame Oracle, and the Watchpoint Scheduler to build a raw call
// tree with input-index attributions. The raw tree is handed to
// internal/annotator for range closure and gap filling.
package tracer

import (
	"context"

	"github.com/google/uuid"

	"github.com/dekarrin/gdbminer/internal/adapter"
	"github.com/dekarrin/gdbminer/internal/mlog"
	"github.com/dekarrin/gdbminer/internal/mmerr"
	"github.com/dekarrin/gdbminer/internal/oracle"
	"github.com/dekarrin/gdbminer/internal/scheduler"
	"github.com/dekarrin/gdbminer/internal/types"
)

// RawNode is one call activation as discovered by backtrace diffing,
// before the Annotator's ignored-frame splicing, range closure, and gap
// filling turn it into a types.ParseNode.
type RawNode struct {
	Frame    types.FrameId
	Parent   *RawNode
	Children []*RawNode

	// Direct holds the input indices attributed straight to this frame, in
	// attribution order (not necessarily numeric order, though in practice
	// a conventional recursive-descent parser reads monotonically).
	Direct []int

	// Range is set once the frame closes; Lo/Hi span this frame's own
	// direct reads and all descendant ranges.
	Range  types.ConsumedRange
	closed bool
}

// RawTrace is the Tracer's raw output for one seed.
type RawTrace struct {
	RunID     uuid.UUID
	SeedName  string
	Length    int
	Root      *RawNode
	Truncated bool
}

// Options configures a Tracer.
type Options struct {
	Entrypoint        string
	ExitpointSymbol   string // optional; empty disables the exit breakpoint
	InputBufferSymbol string
	WatchpointCount   int
	DelayPolicy       bool
	MaxRetries        int
}

// Tracer drives one Adapter through the state machine of 
type Tracer struct {
	adapter adapter.Adapter
	oracle  *oracle.Oracle
	log     *mlog.Logger
	opts    Options

	nextActivation uint64
}

// New constructs a Tracer. a must not yet be launched.
func New(a adapter.Adapter, o *oracle.Oracle, log *mlog.Logger, opts Options) *Tracer {
	return &Tracer{adapter: a, oracle: o, log: log, opts: opts}
}

// Run traces one seed, retrying the whole trace up to opts.MaxRetries
// times on BackendUnresponsive/DebuggerProtocolError, program is
// the path to the target binary and args/stdin carry the seed on whichever
// input channel the caller has already prepared.
func (t *Tracer) Run(ctx context.Context, program string, args []string, stdin []byte, seedName string, seedLen int) (*RawTrace, error) {
	var lastErr error
	attempts := t.opts.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		trace, err := t.runOnce(ctx, program, args, stdin, seedName, seedLen)
		if err == nil {
			return trace, nil
		}
		kind, known := mmerr.KindOf(err)
		if !known || (kind != mmerr.KindBackendUnresponsive && kind != mmerr.KindDebuggerProtocolError) {
			return nil, err
		}
		lastErr = err
		t.log.Warningf("seed %s: attempt %d/%d failed (%v), retrying with a fresh launch", seedName, attempt+1, attempts, err)
	}
	return nil, lastErr
}

func (t *Tracer) runOnce(ctx context.Context, program string, args []string, stdin []byte, seedName string, seedLen int) (*RawTrace, error) {
	log := t.log.WithSeed(seedName)

	if err := t.adapter.SetBreakpoint(t.opts.Entrypoint); err != nil {
		return nil, mmerr.DebuggerProtocolError("set entry breakpoint", err)
	}
	if t.opts.ExitpointSymbol != "" {
		if err := t.adapter.SetBreakpoint(t.opts.ExitpointSymbol); err != nil {
			return nil, mmerr.DebuggerProtocolError("set exit breakpoint", err)
		}
	}
	if err := t.adapter.Launch(ctx, program, args, stdin); err != nil {
		return nil, mmerr.BackendUnresponsive("launch", err)
	}
	defer t.adapter.Close()

	entryStop, err := t.adapter.ContinueUntilStop(ctx)
	if err != nil {
		return nil, mmerr.BackendUnresponsive("continue-to-entry", err)
	}
	if entryStop.Kind != adapter.StopBreakpoint {
		return t.aborted(seedName, seedLen, nil, "did not reach entrypoint: "+entryStop.String())
	}

	base, err := t.oracle.ResolveInputBuffer(t.opts.InputBufferSymbol)
	if err != nil {
		return nil, err
	}

	bt, err := t.adapter.GetBacktrace()
	if err != nil {
		return nil, mmerr.DebuggerProtocolError("backtrace at entry", err)
	}
	if len(bt) == 0 {
		return nil, mmerr.DebuggerProtocolError("backtrace at entry", nil)
	}
	d0 := depthOf(0, bt)

	sched, err := scheduler.New(seedLen, t.opts.WatchpointCount, t.opts.DelayPolicy)
	if err != nil {
		return nil, err
	}

	root := &RawNode{Frame: types.FrameId{Key: t.oracle.CallSiteKeyFor(bt, 0), Depth: 0, Activation: t.activation()}}
	run := &runState{
		t:         t,
		log:       log,
		runID:     uuid.New(),
		base:      base,
		d0:        d0,
		sched:     sched,
		root:      root,
		openStack: []*RawNode{root},
		watchIDs:  map[int]adapter.WatchpointId{},
	}

	if err := run.replan(); err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return run.truncated(seedName, seedLen), nil
		}

		stop, err := t.adapter.ContinueUntilStop(ctx)
		if err != nil {
			return nil, mmerr.BackendUnresponsive("continue", err)
		}

		if stop.Kind != adapter.StopExited {
			bt, err = t.adapter.GetBacktrace()
			if err != nil {
				return nil, mmerr.DebuggerProtocolError("backtrace at stop", err)
			}
			if err := run.reconcile(bt); err != nil {
				return nil, err
			}
		}

		switch stop.Kind {
		case adapter.StopWatchpointHit:
			if stop.Write {
				return nil, mmerr.DebuggerProtocolError(
					"write to input buffer detected; parser is assumed read-only over its input", nil)
			}
			if err := run.handleHit(stop, bt); err != nil {
				return nil, err
			}
			if sched.Done() {
				return run.finish(seedName, seedLen), nil
			}

		case adapter.StopBreakpoint:
			// Exitpoint, or a return past d0 surfaced as a breakpoint by
			// the backend; either way tracing for this seed is complete.
			return run.finish(seedName, seedLen), nil

		case adapter.StopExited:
			return run.finish(seedName, seedLen), nil

		case adapter.StopSignal, adapter.StopTimeout:
			return run.truncated(seedName, seedLen), nil
		}
	}
}

func (t *Tracer) activation() uint64 {
	t.nextActivation++
	return t.nextActivation
}

func (t *Tracer) aborted(seedName string, seedLen int, root *RawNode, reason string) (*RawTrace, error) {
	t.log.Warningf("seed %s aborted: %s", seedName, reason)
	return &RawTrace{SeedName: seedName, Length: seedLen, Root: root, Truncated: true}, nil
}

// runState carries the mutable state of one in-progress trace.
type runState struct {
	t     *Tracer
	log   *mlog.Logger
	runID uuid.UUID
	base  uint64
	d0    int
	sched *scheduler.Scheduler

	root      *RawNode
	openStack []*RawNode
	watchIDs  map[int]adapter.WatchpointId
}

// reconcile compares bt (top-of-stack first) against the open-node stack
// and opens or closes RawNodes so the stack matches reality.
func (r *runState) reconcile(bt []adapter.Frame) error {
	frames := relevantFrames(bt, r.d0)

	for len(frames) > len(r.openStack) {
		// New frames entered since the last event; open from the
		// shallowest undiscovered one so parent linkage is correct.
		idx := len(r.openStack)
		parent := r.openStack[len(r.openStack)-1]
		btIdx := len(bt) - 1 - frames[idx].depth
		child := &RawNode{
			Parent: parent,
			Frame: types.FrameId{
				Key:        r.t.oracle.CallSiteKeyFor(bt, btIdx),
				Depth:      frames[idx].depth - r.d0,
				Activation: r.t.activation(),
			},
		}
		parent.Children = append(parent.Children, child)
		r.openStack = append(r.openStack, child)
		r.log.Debugf("opened frame %s", child.Frame)
	}

	for len(frames) < len(r.openStack) {
		popped := r.openStack[len(r.openStack)-1]
		r.openStack = r.openStack[:len(r.openStack)-1]
		r.closeNode(popped)
		r.log.Debugf("closed frame %s, range=%v", popped.Frame, popped.Range)
	}

	return r.replan()
}

func (r *runState) closeNode(n *RawNode) {
	depth := n.Frame.Depth + r.d0
	for _, fin := range r.sched.NotifyFrameReturned(depth) {
		n.Direct = append(n.Direct, fin.Index)
	}
	n.Range = computeRange(n)
	n.closed = true
}

func (r *runState) handleHit(stop adapter.StopEvent, bt []adapter.Frame) error {
	i := int(stop.Addr - r.base)
	top := r.t.oracle.FirstNonIgnored(bt, 0)
	depth := depthOf(top, bt)
	if depth < r.d0 {
		depth = r.d0
	}
	node := r.openStack[depth-r.d0]

	att, ok := r.sched.AttributeHit(i, node.Frame, depth)
	if ok {
		target := r.openStack[att.Depth-r.d0]
		target.Direct = append(target.Direct, att.Index)
	}
	return r.replan()
}

// replan re-arms watchpoints (or the single software slot) to match the
// scheduler's current Armed() window.
func (r *runState) replan() error {
	if err := r.sched.CheckInvariant(); err != nil {
		return err
	}
	want := map[int]bool{}
	for _, idx := range r.sched.Armed() {
		want[idx] = true
		if _, already := r.watchIDs[idx]; already {
			continue
		}
		id, err := r.t.adapter.SetWatchpoint(r.base+uint64(idx), 1, adapter.WatchRead)
		if err != nil {
			return mmerr.DebuggerProtocolError("set watchpoint", err)
		}
		r.watchIDs[idx] = id
	}
	for idx, id := range r.watchIDs {
		if !want[idx] {
			if err := r.t.adapter.ClearWatchpoint(id); err != nil {
				return mmerr.DebuggerProtocolError("clear watchpoint", err)
			}
			delete(r.watchIDs, idx)
		}
	}
	return nil
}

func (r *runState) finish(seedName string, seedLen int) *RawTrace {
	r.drain()
	return &RawTrace{RunID: r.runID, SeedName: seedName, Length: seedLen, Root: r.root}
}

func (r *runState) truncated(seedName string, seedLen int) *RawTrace {
	r.drain()
	return &RawTrace{RunID: r.runID, SeedName: seedName, Length: seedLen, Root: r.root, Truncated: true}
}

// drain closes every still-open node in LIFO order,
// "AtExit → close all open ParseNodes in LIFO order."
func (r *runState) drain() {
	for len(r.openStack) > 0 {
		n := r.openStack[len(r.openStack)-1]
		r.openStack = r.openStack[:len(r.openStack)-1]
		r.closeNode(n)
	}
}

type frameDepth struct {
	depth int
}

// relevantFrames returns the frames of bt at or below the entrypoint's
// depth (i.e. part of the traced call tree), ordered shallowest first
// (root, ..., innermost), alongside each frame's stable depth-from-root.
func relevantFrames(bt []adapter.Frame, d0 int) []frameDepth {
	var out []frameDepth
	for i := len(bt) - 1; i >= 0; i-- {
		d := depthOf(i, bt)
		if d < d0 {
			continue
		}
		out = append(out, frameDepth{depth: d})
	}
	return out
}

// depthOf computes a frame's depth-from-root, which stays stable across
// stops even as bt's length changes with further calls.
func depthOf(idxFromTop int, bt []adapter.Frame) int {
	return len(bt) - 1 - idxFromTop
}

func computeRange(n *RawNode) types.ConsumedRange {
	lo, hi := -1, -1
	consider := func(v int) {
		if lo == -1 || v < lo {
			lo = v
		}
		if v+1 > hi {
			hi = v + 1
		}
	}
	for _, idx := range n.Direct {
		consider(idx)
	}
	for _, c := range n.Children {
		if c.Range.Empty() && len(c.Direct) == 0 && len(c.Children) == 0 {
			continue
		}
		if lo == -1 || c.Range.Lo < lo {
			lo = c.Range.Lo
		}
		if c.Range.Hi > hi {
			hi = c.Range.Hi
		}
	}
	if lo == -1 {
		return types.ConsumedRange{}
	}
	return types.ConsumedRange{Lo: lo, Hi: hi}
}
