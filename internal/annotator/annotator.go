// Package annotator implements the Tree Annotator: it turns a
// Tracer's raw call tree into a well-formed types.Trace by splicing out
// ignored frames, closing ranges bottom-up, filling the gaps between
// children with owned terminal spans, and applying the unread-tail policy.
package annotator

import (
	"fmt"

	"github.com/dekarrin/gdbminer/internal/mmerr"
	"github.com/dekarrin/gdbminer/internal/tracer"
	"github.com/dekarrin/gdbminer/internal/types"
)

// Annotate converts raw into a types.Trace over seed. ignore is the same
// predicate the Oracle used during tracing; the Tracer opens a
// RawNode for every backtrace frame regardless of ignore status, so
// splicing must happen here rather than during tracing.
func Annotate(raw *tracer.RawTrace, seed []byte, ignore func(symbol string) bool) (*types.Trace, error) {
	trace := &types.Trace{
		RunID:     raw.RunID,
		SeedName:  raw.SeedName,
		Length:    raw.Length,
		Truncated: raw.Truncated,
	}

	if raw.Root == nil {
		return trace, nil
	}

	raw.Root.Children = spliceChildren(raw.Root.Children, ignore)

	root, err := build(raw.Root, seed, raw.SeedName)
	if err != nil {
		return nil, err
	}
	root.Truncated = raw.Truncated

	if root.Range.Hi < raw.Length {
		tail := types.OwnedSpan{
			Range: types.ConsumedRange{Lo: root.Range.Hi, Hi: raw.Length},
			Bytes: append([]byte(nil), seed[root.Range.Hi:raw.Length]...),
		}
		root.Owned = append(root.Owned, tail)
		root.Range.Hi = raw.Length
		trace.PartiallyConsumed = true
	}

	trace.Root = root
	return trace, nil
}

// spliceChildren removes any child whose symbol matches ignore, promoting
// its own (already-spliced) children into its place,
func spliceChildren(children []*tracer.RawNode, ignore func(string) bool) []*tracer.RawNode {
	out := make([]*tracer.RawNode, 0, len(children))
	for _, c := range children {
		c.Children = spliceChildren(c.Children, ignore)
		if ignore(c.Frame.Key.Function) {
			out = append(out, c.Children...)
		} else {
			out = append(out, c)
		}
	}
	return out
}

// build recursively converts a spliced RawNode into a types.ParseNode,
// performing range closure and gap filling at each level.
func build(n *tracer.RawNode, seed []byte, seedName string) (*types.ParseNode, error) {
	children := make([]*types.ParseNode, 0, len(n.Children))
	for _, c := range n.Children {
		child, err := build(c, seed, seedName)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}

	for i := 1; i < len(children); i++ {
		if children[i].Range.Lo < children[i-1].Range.Hi {
			return nil, mmerr.InconsistentTree(seedName, fmt.Sprintf(
				"overlapping sibling ranges [%d,%d) and [%d,%d) under %s",
				children[i-1].Range.Lo, children[i-1].Range.Hi,
				children[i].Range.Lo, children[i].Range.Hi, n.Frame.Key))
		}
	}

	lo, hi := closure(n.Direct, children)
	owned := gapFill(lo, hi, children, seed)

	return &types.ParseNode{
		Frame:    n.Frame,
		Range:    types.ConsumedRange{Lo: lo, Hi: hi},
		Children: children,
		Owned:    owned,
	}, nil
}

// closure computes ranges: lo/hi propagate up from direct reads and
// child ranges.
func closure(direct []int, children []*types.ParseNode) (lo, hi int) {
	lo, hi = -1, -1
	for _, idx := range direct {
		if lo == -1 || idx < lo {
			lo = idx
		}
		if idx+1 > hi {
			hi = idx + 1
		}
	}
	for _, c := range children {
		if c.Range.Empty() {
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
		return 0, 0
	}
	return lo, hi
}

// gapFill fills gaps: every sub-range of [lo,hi) not covered
// by a child becomes an owned terminal span over the raw seed bytes.
func gapFill(lo, hi int, children []*types.ParseNode, seed []byte) []types.OwnedSpan {
	var spans []types.OwnedSpan
	cursor := lo
	for _, c := range children {
		if c.Range.Lo > cursor {
			spans = append(spans, types.OwnedSpan{
				Range: types.ConsumedRange{Lo: cursor, Hi: c.Range.Lo},
				Bytes: append([]byte(nil), seed[cursor:c.Range.Lo]...),
			})
		}
		if c.Range.Hi > cursor {
			cursor = c.Range.Hi
		}
	}
	if cursor < hi {
		spans = append(spans, types.OwnedSpan{
			Range: types.ConsumedRange{Lo: cursor, Hi: hi},
			Bytes: append([]byte(nil), seed[cursor:hi]...),
		})
	}
	return spans
}
