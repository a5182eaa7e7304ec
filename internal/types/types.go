// Package types contains the core data model shared by the tracer and the
// miner: the identity of a call-site activation, the half-open range of
// input it consumed, and the tree those activations form for a single
// traced seed.
package types

import (
	"fmt"

	"github.com/google/uuid"
)

// CallSiteKey is a stable identifier for "the same call in the grammar
// sense." Two activations with an identical CallSiteKey derive the same
// nonterminal.
type CallSiteKey struct {
	// Function is the demangled source-level function symbol of the callee.
	Function string

	// CallSite is the file:line of the call expression in the caller, used
	// only when the Oracle is configured for call-site-qualified keys. It is
	// empty when the Oracle is in function-only mode (the default, per the
	// open question in the design notes).
	CallSite string
}

// String gives the canonical text form of a CallSiteKey, used both as a
// nonterminal name and as a map key during mining.
func (k CallSiteKey) String() string {
	if k.CallSite == "" {
		return k.Function
	}
	return fmt.Sprintf("%s@%s", k.Function, k.CallSite)
}

// FrameId is the runtime identity of one call activation during a single
// trace. Two activations of the same CallSiteKey within one trace (e.g. a
// recursive call) are distinguished by Depth and Activation.
type FrameId struct {
	Key        CallSiteKey
	Depth      int
	Activation uint64
}

func (f FrameId) String() string {
	return fmt.Sprintf("%s#%d@%d", f.Key, f.Activation, f.Depth)
}

// ConsumedRange is a half-open [Lo, Hi) interval over input byte indices.
type ConsumedRange struct {
	Lo int
	Hi int
}

// Len returns the number of indices in the range.
func (r ConsumedRange) Len() int {
	return r.Hi - r.Lo
}

// Empty returns whether the range spans zero indices.
func (r ConsumedRange) Empty() bool {
	return r.Hi <= r.Lo
}

// Contains returns whether index i falls within the range.
func (r ConsumedRange) Contains(i int) bool {
	return i >= r.Lo && i < r.Hi
}

// OwnedSpan is a sub-range of a ParseNode's ConsumedRange not covered by any
// child, carrying the raw bytes consumed directly by that frame. It is
// emitted by the Miner as a terminal literal.
type OwnedSpan struct {
	Range ConsumedRange
	Bytes []byte
}

// ParseNode is one activation in a parse tree: a frame identity, the range
// of input it (and its descendants) consumed, its ordered children, and the
// spans of input it consumed directly rather than via a child.
//
// Children and OwnedSpans are stored separately but are ordered so that,
// interleaved by range, they reconstruct the left-to-right derivation: see
// Symbols.
type ParseNode struct {
	Frame    FrameId
	Range    ConsumedRange
	Children []*ParseNode
	Owned    []OwnedSpan

	// Truncated marks a node whose subtree was cut short by a crash, signal,
	// or timeout ( edge cases, §7 TraceTruncated).
	Truncated bool
}

// Symbol is one element of the left-to-right interleaving of a ParseNode's
// owned spans and children, in range order. It is either a terminal literal
// (Node == nil) or a reference to a child (Node != nil).
type Symbol struct {
	Literal []byte
	Node    *ParseNode
}

// IsTerminal returns whether the symbol is a literal rather than a child
// reference.
func (s Symbol) IsTerminal() bool {
	return s.Node == nil
}

// Symbols interleaves a node's owned spans and children in increasing range
// order, producing the sequence the Miner turns into one grammar
// alternative. It assumes Children and Owned are already each sorted and
// non-overlapping, which the Annotator guarantees.
func (n *ParseNode) Symbols() []Symbol {
	syms := make([]Symbol, 0, len(n.Children)+len(n.Owned))
	ci, oi := 0, 0
	for ci < len(n.Children) || oi < len(n.Owned) {
		useChild := false
		if ci < len(n.Children) && oi < len(n.Owned) {
			useChild = n.Children[ci].Range.Lo <= n.Owned[oi].Range.Lo
		} else if ci < len(n.Children) {
			useChild = true
		}

		if useChild {
			syms = append(syms, Symbol{Node: n.Children[ci]})
			ci++
		} else {
			syms = append(syms, Symbol{Literal: n.Owned[oi].Bytes})
			oi++
		}
	}
	return syms
}

// String returns a prettified, line-by-line representation of the parse
// tree rooted at n, suitable for operator-facing debug output and for
// comparing two trees structurally.
func (n *ParseNode) String() string {
	return n.leveledStr("", "")
}

func (n *ParseNode) leveledStr(firstPrefix, contPrefix string) string {
	out := fmt.Sprintf("%s(%s %d-%d)", firstPrefix, n.Frame.Key, n.Range.Lo, n.Range.Hi)
	syms := n.Symbols()
	for i, sym := range syms {
		last := i+1 == len(syms)
		var nextFirst, nextCont string
		if last {
			nextFirst = contPrefix + `  \-: `
			nextCont = contPrefix + "      "
		} else {
			nextFirst = contPrefix + "  |-: "
			nextCont = contPrefix + "  |   "
		}
		if sym.IsTerminal() {
			out += fmt.Sprintf("\n%s(TERM %q)", nextFirst, string(sym.Literal))
		} else {
			out += "\n" + sym.Node.leveledStr(nextFirst, nextCont)
		}
	}
	return out
}

// Trace is the root ParseNode produced for one seed, tagged with a RunID
// that identifies the single trace attempt that produced it (each attempt,
// including a retry, gets a fresh one). The grammar file carries no RunID.
type Trace struct {
	RunID     uuid.UUID
	SeedName  string
	Root      *ParseNode
	Length    int
	Truncated bool

	// PartiallyConsumed is set when Root.Range.Hi < Length: the parser
	// returned before consuming the whole seed.
	PartiallyConsumed bool
}

// Yield concatenates the terminal literals of t's tree in left-to-right
// order, reproducing the seed text the tree was derived from.
func (t *Trace) Yield() []byte {
	if t.Root == nil {
		return nil
	}
	return yield(t.Root)
}

func yield(n *ParseNode) []byte {
	var out []byte
	for _, sym := range n.Symbols() {
		if sym.IsTerminal() {
			out = append(out, sym.Literal...)
		} else {
			out = append(out, yield(sym.Node)...)
		}
	}
	return out
}
