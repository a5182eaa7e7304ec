// Package replshell implements an interactive grammar browser: an operator
// types a nonterminal name and sees its alternatives. cmd/gminer has no
// subcommand that starts it.
// The read loop is grounded on internal/input.InteractiveCommandReader's
// readline-backed prompt.
package replshell

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/dekarrin/gdbminer/internal/grammar"
)

// Shell is an interactive readline session over one loaded grammar. It
// must have Close called on it before disposal to tear down readline
// resources.
type Shell struct {
	rl *readline.Instance
	g  *grammar.Grammar
	w  io.Writer
}

// New opens a readline session browsing g. Output is written to w (the
// caller's stdout, normally).
func New(g *grammar.Grammar, w io.Writer) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt: "gminer> ",
	})
	if err != nil {
		return nil, fmt.Errorf("create readline config: %w", err)
	}
	return &Shell{rl: rl, g: g, w: w}, nil
}

// Close tears down readline resources.
func (s *Shell) Close() error {
	return s.rl.Close()
}

// Run reads commands until the operator quits or input ends. Recognized
// commands are "list" (all nonterminal names), "<name>" (show a
// nonterminal's alternatives), and "quit"/"exit".
func (s *Shell) Run() error {
	for {
		line, err := s.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}
		s.dispatch(line)
	}
}

func (s *Shell) dispatch(line string) {
	if line == "list" {
		for _, name := range s.g.Nonterminals() {
			fmt.Fprintln(s.w, name)
		}
		return
	}

	name := strings.TrimSpace(strings.TrimPrefix(line, "<"))
	name = strings.TrimSuffix(name, ">")
	if !s.g.Has(name) {
		fmt.Fprintf(s.w, "no such nonterminal: %s\n", name)
		return
	}

	rule := s.g.Rule(name)
	for _, alt := range rule.Alts {
		if len(alt) == 0 {
			fmt.Fprintln(s.w, "  (epsilon)")
			continue
		}
		fmt.Fprintf(s.w, "  %s\n", alt.String())
	}
}
