// Package adapter implements the Debugger Adapter: a uniform
// capability set over a native debugger, satisfied by three backends
// (direct, memory-sandbox, on-chip) that differ only in how they reach the
// underlying debugger process and how much watchpoint capacity they report.
package adapter

import (
	"context"
	"fmt"
)

// WatchpointKind selects what kind of memory access a watchpoint traps.
type WatchpointKind int

const (
	WatchRead WatchpointKind = iota
	WatchWrite
	WatchReadWrite
)

// WatchpointId identifies a watchpoint previously set with SetWatchpoint.
type WatchpointId int

// StopKind tags the reason execution stopped.
type StopKind int

const (
	StopBreakpoint StopKind = iota
	StopWatchpointHit
	StopSignal
	StopExited
	StopTimeout
)

// StopEvent is the tagged result of ContinueUntilStop.
type StopEvent struct {
	Kind StopKind

	// WatchpointID/Addr are set when Kind == StopWatchpointHit.
	WatchpointID WatchpointId
	Addr         uint64
	// Write is set when the watchpoint that fired was a write watchpoint,
	// used to detect a parser rewriting its own input buffer.
	Write bool

	// SignalName is set when Kind == StopSignal (e.g. "SIGSEGV").
	SignalName string

	// ExitCode is set when Kind == StopExited.
	ExitCode int
}

func (e StopEvent) String() string {
	switch e.Kind {
	case StopBreakpoint:
		return "breakpoint"
	case StopWatchpointHit:
		return fmt.Sprintf("watchpoint-hit(id=%d, addr=0x%x)", e.WatchpointID, e.Addr)
	case StopSignal:
		return fmt.Sprintf("signal(%s)", e.SignalName)
	case StopExited:
		return fmt.Sprintf("exited(%d)", e.ExitCode)
	case StopTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Frame is one entry of a backtrace. GetBacktrace returns frames innermost
// first (index 0 == top of stack, the currently executing frame).
type Frame struct {
	// Symbol is the demangled function name, or a synthetic
	// "0x<address>" name if no symbol could be resolved.
	Symbol string

	// File and Line are the source location of the call site that produced
	// this frame (i.e. the line in the caller from which the call was
	// made), empty/zero if unavailable.
	File string
	Line int

	// PC is the frame's program counter.
	PC uint64

	// CFA is the frame's canonical frame address, used as a stable stack
	// identity independent of PC when diffing backtraces across stops.
	CFA uint64
}

// Adapter is the full capability set a debugger backend must provide. All methods are synchronous
// and must return within the backend's configured per-command timeout or
// fail with a BackendUnresponsive-classed error.
type Adapter interface {
	// Launch starts program with args. stdin carries the seed bytes for the
	// "stdin" input channel (it is empty for the "file" input channel, where
	// the seed is instead passed as a file argument already present in
	// args); the backends in this package do not deliver stdin bytes to the
	// inferior.
	Launch(ctx context.Context, program string, args []string, stdin []byte) error

	// SetBreakpoint sets a breakpoint at a symbol or "file:line" location.
	SetBreakpoint(location string) error

	// ContinueUntilStop resumes the inferior and blocks until it stops for
	// any reason.
	ContinueUntilStop(ctx context.Context) (StopEvent, error)

	// StepInstruction executes exactly one machine instruction.
	StepInstruction(ctx context.Context) (StopEvent, error)

	// StepOut runs until the current frame returns.
	StepOut(ctx context.Context) (StopEvent, error)

	// ReadMemory reads len bytes starting at addr.
	ReadMemory(addr uint64, length int) ([]byte, error)

	// WriteMemory writes data starting at addr.
	WriteMemory(addr uint64, data []byte) error

	// GetRegisters returns the current general-purpose register set, keyed
	// by architecture register name (e.g. "rip", "rsp", "pc", "sp").
	GetRegisters() (map[string]uint64, error)

	// ResolveSymbol returns the address of a named function or global.
	ResolveSymbol(name string) (uint64, error)

	// GetBacktrace returns the current call stack, innermost frame first.
	GetBacktrace() ([]Frame, error)

	// SetWatchpoint arms a watchpoint of the given kind over [addr,
	// addr+length).
	SetWatchpoint(addr uint64, length int, kind WatchpointKind) (WatchpointId, error)

	// ClearWatchpoint disarms a previously set watchpoint.
	ClearWatchpoint(id WatchpointId) error

	// WatchpointCapacity returns how many watchpoints may be armed at once.
	// A memory-sandboxed backend inflates this value to hide that its
	// watchpoints are implemented in software rather than hardware.
	WatchpointCapacity() int

	// Close terminates the inferior (if still running) and releases the
	// debugger session. It is always safe to call, including after a prior
	// error, and must be idempotent.
	Close() error
}
