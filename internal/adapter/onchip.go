package adapter

import (
	"context"
	"fmt"
	"time"
)

// OnChipBackend drives a hardware probe over the GDB remote serial protocol
// by launching a local gdb that connects to a gdbserver stub listening at a
// configured address (the "on-chip" backend). It reuses
// DirectBackend's MI command/response plumbing — the underlying transport
// to the probe is handled entirely by gdb's own "target remote" support —
// and reports the device's small fixed watchpoint count as-is.
type OnChipBackend struct {
	*DirectBackend
	gdbServerAddress string
}

// NewOnChipBackend returns an OnChipBackend that, once Launch is called,
// connects the underlying gdb session to serverAddress (host:port, as
// produced by a gdbserver-compatible stub) and reports capacity hardware
// watchpoints.
func NewOnChipBackend(gdbPath string, timeout time.Duration, serverAddress string, capacity int) *OnChipBackend {
	return &OnChipBackend{
		DirectBackend:    NewDirectBackend(gdbPath, timeout, capacity),
		gdbServerAddress: serverAddress,
	}
}

// Launch starts gdb without running the inferior locally, loads program's
// symbols, and connects to the configured remote stub, matching the
// sequence `gdb --interpreter=mi2 program`, `-target-select remote
// host:port`, `-exec-continue` that a human operator would type to attach
// to a probe already holding the target at its reset vector.
func (o *OnChipBackend) Launch(ctx context.Context, program string, args []string, stdin []byte) error {
	if err := o.DirectBackend.launchSuspended(ctx, program, args); err != nil {
		return err
	}
	_, err := o.DirectBackend.sendCommand(fmt.Sprintf("-target-select remote %s", o.gdbServerAddress))
	return err
}
