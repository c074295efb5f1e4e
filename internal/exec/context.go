// Package exec carries the execution context every buffer operation runs under.
//
// The context replaces a process-wide "current mode / current device": callers pass it
// explicitly to each accessor, so two goroutines can drive different devices without
// touching shared state.
package exec

import (
	"fmt"
	"log/slog"

	"github.com/born-ml/syncedmem/internal/device"
	"github.com/born-ml/syncedmem/internal/host"
)

// Mode selects whether an accelerator context is active.
type Mode int

// Supported execution modes.
const (
	CPU Mode = iota
	GPU
)

// String returns a human-readable mode name.
func (m Mode) String() string {
	switch m {
	case CPU:
		return "CPU"
	case GPU:
		return "GPU"
	default:
		return "Unknown"
	}
}

// Context is the execution context passed to buffer operations.
type Context struct {
	Mode    Mode           // GPU enables pinned host allocations.
	Device  int            // Current device ordinal.
	Runtime device.Runtime // Device memory service (nil = host only).
	Host    *host.Allocator
	Logger  *slog.Logger
}

// CPUContext returns a host-only context.
func CPUContext(h *host.Allocator, logger *slog.Logger) Context {
	return Context{Mode: CPU, Host: h, Logger: logger}
}

// GPUContext returns an accelerator context on device dev of rt.
func GPUContext(rt device.Runtime, dev int, h *host.Allocator, logger *slog.Logger) Context {
	return Context{Mode: GPU, Device: dev, Runtime: rt, Host: h, Logger: logger}
}

// OnDevice returns a copy of c switched to device dev.
func (c Context) OnDevice(dev int) Context {
	c.Device = dev
	return c
}

// Accelerated reports whether an accelerator context is active.
func (c Context) Accelerated() bool {
	return c.Mode == GPU
}

// Log returns the context logger, or a discarding logger.
func (c Context) Log() *slog.Logger {
	if c.Logger == nil {
		return discard
	}
	return c.Logger
}

// String describes the context for diagnostics.
func (c Context) String() string {
	if c.Runtime == nil {
		return c.Mode.String()
	}
	return fmt.Sprintf("%s(%s:%d)", c.Mode, c.Runtime.Name(), c.Device)
}

var discard = slog.New(slog.DiscardHandler)
