// Package grammar contains the grammar data model produced by the miner:
// a mapping from nonterminal name to a set of alternatives, each alternative
// a sequence of terminal literals and nonterminal references.
package grammar

import (
	"fmt"
	"strings"

	"github.com/dekarrin/gdbminer/internal/util"
)

// Symbol is one element of an alternative: either a terminal literal or a
// reference to another nonterminal.
type Symbol struct {
	// Ref is the referenced nonterminal name. Empty when the symbol is a
	// terminal.
	Ref string

	// Literal is the terminal's byte string. Empty (and meaningless) when
	// Ref is set.
	Literal string
}

// IsRef returns whether the symbol is a nonterminal reference.
func (s Symbol) IsRef() bool {
	return s.Ref != ""
}

func (s Symbol) String() string {
	if s.IsRef() {
		return fmt.Sprintf("<%s>", s.Ref)
	}
	return fmt.Sprintf("%q", s.Literal)
}

// Term returns a terminal Symbol holding the given literal bytes.
func Term(lit string) Symbol {
	return Symbol{Literal: lit}
}

// NonTerm returns a Symbol referencing the given nonterminal.
func NonTerm(name string) Symbol {
	return Symbol{Ref: name}
}

// Production is one alternative right-hand side: a left-to-right sequence
// of symbols. An empty Production is the epsilon alternative.
type Production []Symbol

// key returns a string uniquely identifying the symbol sequence, used for
// byte-identity deduplication.
func (p Production) key() string {
	var sb strings.Builder
	for _, sym := range p {
		if sym.IsRef() {
			sb.WriteString("\x01R")
			sb.WriteString(sym.Ref)
		} else {
			sb.WriteString("\x01T")
			sb.WriteString(sym.Literal)
		}
	}
	return sb.String()
}

func (p Production) String() string {
	parts := make([]string, len(p))
	for i, sym := range p {
		parts[i] = sym.String()
	}
	return strings.Join(parts, " ")
}

// Rule is all alternatives collected for one nonterminal, in the order they
// were first observed ( "Output form": insertion order is
// preserved to aid diffing).
type Rule struct {
	NonTerminal string
	Alts        []Production

	seen util.KeySet[string]
}

// Add appends p to the rule's alternatives if an alternative with the same
// symbol sequence isn't already present. Returns whether it was added.
func (r *Rule) Add(p Production) bool {
	if r.seen == nil {
		r.seen = util.NewKeySet[string]()
	}
	k := p.key()
	if r.seen.Has(k) {
		return false
	}
	r.seen.Add(k)
	r.Alts = append(r.Alts, p)
	return true
}

// Grammar is a mapping from nonterminal name to its Rule, plus the
// distinguished start nonterminal.
type Grammar struct {
	Start string

	rules map[string]*Rule
	order []string
}

// New returns an empty Grammar with the given start nonterminal.
func New(start string) *Grammar {
	return &Grammar{
		Start: start,
		rules: make(map[string]*Rule),
	}
}

// Rule returns the Rule for name, creating an empty one (and recording
// insertion order) if it doesn't already exist.
func (g *Grammar) Rule(name string) *Rule {
	r, ok := g.rules[name]
	if !ok {
		r = &Rule{NonTerminal: name}
		g.rules[name] = r
		g.order = append(g.order, name)
	}
	return r
}

// Has returns whether name is a key in the grammar.
func (g *Grammar) Has(name string) bool {
	_, ok := g.rules[name]
	return ok
}

// AddAlternative records p as an alternative of nonterminal, deduplicating
// by symbol-sequence identity. Returns whether a new alternative was added.
func (g *Grammar) AddAlternative(nonterminal string, p Production) bool {
	return g.Rule(nonterminal).Add(p)
}

// Nonterminals returns all nonterminal names in insertion order.
func (g *Grammar) Nonterminals() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Validate checks the invariants of  "Grammar": the start
// nonterminal is present, every reference on a right-hand side points to a
// present key, and no alternative is empty unless it is legitimately an
// epsilon production (callers mark those explicitly by adding a zero-length
// Production, which is always accepted — there is no way to distinguish an
// accidental empty production from a legitimate one at this layer, so the
// Miner is responsible for only ever calling AddAlternative with an empty
// Production when the source frame truly consumed no input).
func (g *Grammar) Validate() error {
	if g.Start == "" {
		return fmt.Errorf("grammar: no start nonterminal set")
	}
	if !g.Has(g.Start) {
		return fmt.Errorf("grammar: start nonterminal %q has no rule", g.Start)
	}
	for _, name := range g.order {
		for _, alt := range g.rules[name].Alts {
			for _, sym := range alt {
				if sym.IsRef() && !g.Has(sym.Ref) {
					return fmt.Errorf("grammar: nonterminal %q alternative %q references undefined nonterminal %q", name, alt, sym.Ref)
				}
			}
		}
	}
	return nil
}

// PruneUnreachable removes every nonterminal not reachable from Start.
func (g *Grammar) PruneUnreachable() {
	reachable := util.NewKeySet[string]()
	var visit func(name string)
	visit = func(name string) {
		if reachable.Has(name) {
			return
		}
		reachable.Add(name)
		r, ok := g.rules[name]
		if !ok {
			return
		}
		for _, alt := range r.Alts {
			for _, sym := range alt {
				if sym.IsRef() {
					visit(sym.Ref)
				}
			}
		}
	}
	if g.Start != "" {
		visit(g.Start)
	}

	newOrder := make([]string, 0, len(g.order))
	for _, name := range g.order {
		if reachable.Has(name) {
			newOrder = append(newOrder, name)
		} else {
			delete(g.rules, name)
		}
	}
	g.order = newOrder
}

// Merge folds other's alternatives into g, nonterminal by nonterminal,
// under set union semantics. g's start
// symbol is unchanged; other must share the same start symbol or Merge
// panics, since a grammar has exactly one entrypoint.
func (g *Grammar) Merge(other *Grammar) {
	if g.Start == "" {
		g.Start = other.Start
	} else if other.Start != "" && g.Start != other.Start {
		panic(fmt.Sprintf("grammar: cannot merge grammars with differing start symbols %q and %q", g.Start, other.Start))
	}
	for _, name := range other.order {
		for _, alt := range other.rules[name].Alts {
			g.AddAlternative(name, alt)
		}
	}
}

// String returns a deterministic, human-readable rendering of the grammar,
// one nonterminal per line-group, in insertion order.
func (g *Grammar) String() string {
	var sb strings.Builder
	for _, name := range g.order {
		r := g.rules[name]
		sb.WriteString(fmt.Sprintf("<%s> ::=", name))
		for i, alt := range r.Alts {
			if i > 0 {
				sb.WriteString("\n" + strings.Repeat(" ", len(name)+2) + "  |")
			}
			if len(alt) == 0 {
				sb.WriteString(" ε")
			} else {
				sb.WriteString(" " + alt.String())
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
