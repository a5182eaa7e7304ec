// Package oracle implements the Symbol & Frame Oracle: given a
// stopped debugger state, it resolves the call-site identity and depth of
// the top frame, the input-buffer base address, and which symbols should
// be treated as transparent.
package oracle

import (
	"regexp"
	"strconv"

	"github.com/dekarrin/gdbminer/internal/adapter"
	"github.com/dekarrin/gdbminer/internal/mmerr"
	"github.com/dekarrin/gdbminer/internal/types"
)

// defaultIgnoreRegex matches dynamic-linker thunks and the handful of
// backend helper symbols a stripped-down stub might still expose.
const defaultIgnoreRegex = `^(_dl_|\.plt|__libc_|_init$|_fini$|_start$)`

// Mode selects whether CallSiteKey includes the caller's call site (
// open question). FunctionOnly is the default.
type Mode int

const (
	FunctionOnly Mode = iota
	FunctionAndCallSite
)

// Oracle resolves symbol and frame identity from a stopped Adapter.
type Oracle struct {
	adapter adapter.Adapter
	ignore  *regexp.Regexp
	mode    Mode

	bufferBase uint64
	bufferSet  bool
}

// New constructs an Oracle over a. ignoreRegex may be empty, in which case
// defaultIgnoreRegex is used.
func New(a adapter.Adapter, ignoreRegex string, mode Mode) (*Oracle, error) {
	if ignoreRegex == "" {
		ignoreRegex = defaultIgnoreRegex
	}
	re, err := regexp.Compile(ignoreRegex)
	if err != nil {
		return nil, mmerr.ConfigInvalid("ignore_functions_regex", err.Error())
	}
	return &Oracle{adapter: a, ignore: re, mode: mode}, nil
}

// ShouldIgnore reports whether symbol matches the configured ignore
// predicate and should be spliced out of the call tree.
func (o *Oracle) ShouldIgnore(symbol string) bool {
	return o.ignore.MatchString(symbol)
}

// ResolveInputBuffer reads and caches the input-buffer base address,
// assumed stable for the duration of a trace (: "the parser is
// assumed not to relocate its input").
func (o *Oracle) ResolveInputBuffer(symbolOrAddr string) (uint64, error) {
	if o.bufferSet {
		return o.bufferBase, nil
	}
	addr, err := resolveAddrOrSymbol(o.adapter, symbolOrAddr)
	if err != nil {
		return 0, mmerr.SymbolNotFound(symbolOrAddr)
	}
	o.bufferBase = addr
	o.bufferSet = true
	return addr, nil
}

// ResolveEntry resolves the entrypoint symbol or address configured for the
// run.
func (o *Oracle) ResolveEntry(symbolOrAddr string) (uint64, error) {
	addr, err := resolveAddrOrSymbol(o.adapter, symbolOrAddr)
	if err != nil {
		return 0, mmerr.SymbolNotFound(symbolOrAddr)
	}
	return addr, nil
}

func resolveAddrOrSymbol(a adapter.Adapter, symbolOrAddr string) (uint64, error) {
	return a.ResolveSymbol(symbolOrAddr)
}

// CallSiteKeyFor builds the CallSiteKey for the frame at backtrace index
// idx (0 == innermost), consulting the caller's frame (idx+1) for the call
// site location when the Oracle is in FunctionAndCallSite mode.
func (o *Oracle) CallSiteKeyFor(bt []adapter.Frame, idx int) types.CallSiteKey {
	key := types.CallSiteKey{Function: bt[idx].Symbol}
	if o.mode == FunctionAndCallSite && idx+1 < len(bt) {
		caller := bt[idx+1]
		if caller.File != "" {
			key.CallSite = caller.File + ":" + strconv.Itoa(caller.Line)
		}
	}
	return key
}

// FirstNonIgnored walks bt from idx downward (toward the root) and returns
// the index of the first frame whose symbol does not match the ignore
// predicate, used by the Tracer Loop to attribute a watchpoint hit to "the
// first non-ignored frame at depth >= d0".
func (o *Oracle) FirstNonIgnored(bt []adapter.Frame, fromIdx int) int {
	for i := fromIdx; i < len(bt); i++ {
		if !o.ShouldIgnore(bt[i].Symbol) {
			return i
		}
	}
	return len(bt) - 1
}
