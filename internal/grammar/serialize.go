package grammar

import "encoding/json"

// fileForm is the on-disk shape of a grammar file ( "Files
// produced"): an object with a "grammar" entry mapping nonterminal name
// (bracketed) to a list of alternatives, each alternative a list of
// strings, and a "start" entry naming the start nonterminal. A string
// prefixed with "<" and suffixed with ">" denotes a nonterminal reference;
// any other string is a literal.
type fileForm struct {
	Grammar map[string][][]string `json:"grammar"`
	Start   string                `json:"start"`
}

// MarshalJSON writes g in the canonical serialization of /§6.
// Alternative order within each nonterminal is preserved (insertion order);
// nonterminal keys are emitted in sorted order (encoding/json sorts map
// keys), so re-running the Miner over identical input produces
// byte-identical output ("Determinism").
func (g *Grammar) MarshalJSON() ([]byte, error) {
	ff := fileForm{
		Grammar: make(map[string][][]string, len(g.order)),
		Start:   g.Start,
	}
	for _, name := range g.order {
		alts := g.rules[name].Alts
		encoded := make([][]string, len(alts))
		for i, alt := range alts {
			row := make([]string, len(alt))
			for j, sym := range alt {
				if sym.IsRef() {
					row[j] = "<" + sym.Ref + ">"
				} else {
					row[j] = sym.Literal
				}
			}
			encoded[i] = row
		}
		ff.Grammar["<"+name+">"] = encoded
	}
	return json.MarshalIndent(ff, "", "  ")
}

// UnmarshalJSON reads a grammar file written by MarshalJSON. Nonterminal
// iteration order from a Go map is not guaranteed, so after unmarshaling,
// Nonterminals() reflects Go's randomized map order rather than the
// original file's insertion order; callers needing diff-stability should
// treat a round-tripped grammar as a fresh one, not expect its order to
// match the source file.
func (g *Grammar) UnmarshalJSON(data []byte) error {
	var ff fileForm
	if err := json.Unmarshal(data, &ff); err != nil {
		return err
	}
	g.Start = ff.Start
	g.rules = make(map[string]*Rule, len(ff.Grammar))
	g.order = nil
	for key, alts := range ff.Grammar {
		name := key
		if len(key) >= 2 && key[0] == '<' && key[len(key)-1] == '>' {
			name = key[1 : len(key)-1]
		}
		r := &Rule{NonTerminal: name}
		for _, row := range alts {
			prod := make(Production, len(row))
			for i, s := range row {
				if len(s) >= 2 && s[0] == '<' && s[len(s)-1] == '>' {
					prod[i] = NonTerm(s[1 : len(s)-1])
				} else {
					prod[i] = Term(s)
				}
			}
			r.Add(prod)
		}
		g.rules[name] = r
		g.order = append(g.order, name)
	}
	return nil
}
