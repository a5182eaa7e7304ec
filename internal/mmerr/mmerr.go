// Package mmerr defines the error kinds of the tracer/miner pipeline and
// their propagation policy. Each kind carries a human-readable message
// and, where applicable, the error it wraps.
package mmerr

import "fmt"

// Kind identifies one of the error kinds enumerated
type Kind string

const (
	KindConfigInvalid            Kind = "ConfigInvalid"
	KindSymbolNotFound           Kind = "SymbolNotFound"
	KindBackendUnresponsive      Kind = "BackendUnresponsive"
	KindDebuggerProtocolError    Kind = "DebuggerProtocolError"
	KindWatchpointBudgetExceeded Kind = "WatchpointBudgetExceeded"
	KindInconsistentTree         Kind = "InconsistentTree"
	KindTraceTruncated           Kind = "TraceTruncated"
	KindInputNotFullyConsumed    Kind = "InputNotFullyConsumed"
	KindGrammarReferenceMissing  Kind = "GrammarReferenceMissing"
)

// pipelineError is the concrete error type for every kind in this package.
// It carries the kind, a message, and an optional wrapped cause.
type pipelineError struct {
	kind Kind
	msg  string
	wrap error
}

func (e *pipelineError) Error() string {
	if e.wrap != nil {
		return fmt.Sprintf("%s: %s: %s", e.kind, e.msg, e.wrap.Error())
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *pipelineError) Unwrap() error {
	return e.wrap
}

func newErr(k Kind, format string, a ...any) error {
	return &pipelineError{kind: k, msg: fmt.Sprintf(format, a...)}
}

func wrapErr(k Kind, wrapped error, format string, a ...any) error {
	return &pipelineError{kind: k, msg: fmt.Sprintf(format, a...), wrap: wrapped}
}

// KindOf returns the Kind of err and whether err is one of this package's
// errors (directly or via Unwrap).
func KindOf(err error) (Kind, bool) {
	var pe *pipelineError
	for err != nil {
		if p, ok := err.(*pipelineError); ok {
			pe = p
			break
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	if pe == nil {
		return "", false
	}
	return pe.kind, true
}

// ConfigInvalid reports a configuration record that failed validation.
// Fatal at startup.
func ConfigInvalid(field, reason string) error {
	return newErr(KindConfigInvalid, "field %q: %s", field, reason)
}

// SymbolNotFound reports that the entrypoint, exitpoint, or input-buffer
// symbol could not be resolved in the target binary. Fatal at startup.
func SymbolNotFound(name string) error {
	return newErr(KindSymbolNotFound, "symbol %q not found", name)
}

// BackendUnresponsive reports that a debugger command did not return within
// its configured timeout. Retried up to a small bound by the tracer.
func BackendUnresponsive(command string, wrapped error) error {
	return wrapErr(KindBackendUnresponsive, wrapped, "command %q did not respond", command)
}

// DebuggerProtocolError reports a malformed or unexpected response from the
// debugger backend. Retried up to a small bound by the tracer.
func DebuggerProtocolError(detail string, wrapped error) error {
	return wrapErr(KindDebuggerProtocolError, wrapped, "%s", detail)
}

// WatchpointBudgetExceeded reports that the scheduler attempted to arm more
// watchpoints than the backend's capacity allows. Indicates a scheduler
// invariant violation; fatal.
func WatchpointBudgetExceeded(requested, capacity int) error {
	return newErr(KindWatchpointBudgetExceeded, "requested %d watchpoints, capacity is %d", requested, capacity)
}

// InconsistentTree reports that two sibling ranges in a raw trace
// overlapped, a watchpoint-timing artifact. Retried once; then the seed is
// skipped and logged.
func InconsistentTree(seed, detail string) error {
	return newErr(KindInconsistentTree, "seed %q: %s", seed, detail)
}

// TraceTruncated reports that a trace ended early due to a crash, signal,
// or timeout. Non-fatal; the partial tree still feeds the miner.
func TraceTruncated(seed, reason string) error {
	return newErr(KindTraceTruncated, "seed %q: %s", seed, reason)
}

// InputNotFullyConsumed reports that the parser returned before consuming
// the whole seed. Non-fatal; the unread tail is appended as a literal span.
func InputNotFullyConsumed(seed string, consumed, total int) error {
	return newErr(KindInputNotFullyConsumed, "seed %q: consumed %d of %d bytes", seed, consumed, total)
}

// GrammarReferenceMissing reports that the miner produced a right-hand side
// referring to an absent nonterminal, an implementation bug. Fatal.
func GrammarReferenceMissing(from, to string) error {
	return newErr(KindGrammarReferenceMissing, "nonterminal %q references undefined nonterminal %q", from, to)
}
