// Package miner implements the Grammar Inducer: it folds a
// multiset of annotated parse trees into a single grammar, fusing
// nonterminals by CallSiteKey and extracting one alternative per visited
// ParseNode.
package miner

import (
	"github.com/dekarrin/gdbminer/internal/grammar"
	"github.com/dekarrin/gdbminer/internal/types"
)

// Miner accumulates alternatives from a sequence of traces into one
// Grammar. It is not safe for concurrent use; the core is single-threaded
//.
type Miner struct {
	g *grammar.Grammar
}

// New returns a Miner whose grammar's start nonterminal is the entrypoint's
// CallSiteKey.
func New(entrypoint types.CallSiteKey) *Miner {
	return &Miner{g: grammar.New(entrypoint.String())}
}

// Ingest folds one trace's tree into the grammar being built. Traces must
// be ingested in a deterministic order (seeds in their
// lexical file order) for the resulting grammar's alternative order to be
// reproducible.
func (m *Miner) Ingest(t *types.Trace) {
	if t == nil || t.Root == nil {
		return
	}
	m.visit(t.Root)
}

func (m *Miner) visit(n *types.ParseNode) {
	nonterminal := n.Frame.Key.String()
	m.g.AddAlternative(nonterminal, alternativeFor(n))
	for _, c := range n.Children {
		m.visit(c)
	}
}

// alternativeFor extracts the single alternative a ParseNode contributes to
// its nonterminal: the left-to-right interleaving of its owned spans
// (terminal literals) and children (nonterminal references), with adjacent
// terminal literals coalesced ( "Alternative extraction",
// "Literal coalescing"). A node with an empty ConsumedRange yields the
// empty (epsilon) production.
func alternativeFor(n *types.ParseNode) grammar.Production {
	if n.Range.Empty() {
		return grammar.Production{}
	}

	syms := n.Symbols()
	prod := make(grammar.Production, 0, len(syms))
	for _, sym := range syms {
		if sym.IsTerminal() {
			lit := string(sym.Literal)
			if last := len(prod) - 1; last >= 0 && !prod[last].IsRef() {
				prod[last] = grammar.Term(prod[last].Literal + lit)
				continue
			}
			prod = append(prod, grammar.Term(lit))
			continue
		}
		prod = append(prod, grammar.NonTerm(sym.Node.Frame.Key.String()))
	}
	return prod
}

// Grammar returns the grammar built so far. Callers should call
// PruneUnreachable on it once all traces have been ingested (
// "Reachability pruning").
func (m *Miner) Grammar() *grammar.Grammar {
	return m.g
}
