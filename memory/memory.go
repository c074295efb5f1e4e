// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package memory

import (
	"log/slog"

	"github.com/born-ml/syncedmem/internal/device"
	"github.com/born-ml/syncedmem/internal/exec"
	"github.com/born-ml/syncedmem/internal/host"
	"github.com/born-ml/syncedmem/internal/memory"
)

// Buffer is a lazily synchronized host/device byte buffer.
type Buffer = memory.Buffer

// Head is the synchronization state of a Buffer.
type Head = memory.Head

// Synchronization states.
const (
	Uninitialized = memory.Uninitialized // Nothing allocated yet.
	HeadAtHost    = memory.HeadAtHost    // Host copy is authoritative.
	HeadAtDevice  = memory.HeadAtDevice  // Device copy is authoritative.
	Synced        = memory.Synced        // Both copies hold the same bytes.
)

// Context is the execution context passed to buffer operations.
type Context = exec.Context

// Mode selects whether an accelerator context is active.
type Mode = exec.Mode

// Execution modes.
const (
	CPU = exec.CPU
	GPU = exec.GPU
)

// Runtime is a device memory service such as backend/sim or backend/webgpu.
type Runtime = device.Runtime

// Stream is an ordered queue of asynchronous device work.
type Stream = device.Stream

// Ptr is an opaque device pointer.
type Ptr = device.Ptr

// HostAllocator allocates host memory for buffers.
type HostAllocator = host.Allocator

// HostConfig configures a HostAllocator.
type HostConfig = host.Config

// Buffer errors, carried by the panic value of a failed operation.
var (
	ErrNegativeSize   = memory.ErrNegativeSize
	ErrReleased       = memory.ErrReleased
	ErrNilAttach      = memory.ErrNilAttach
	ErrAttachTooSmall = memory.ErrAttachTooSmall
	ErrNotHeadAtHost  = memory.ErrNotHeadAtHost
)

// Device errors.
var (
	ErrOutOfMemory    = device.ErrOutOfMemory
	ErrDeviceMismatch = device.ErrDeviceMismatch
	ErrInvalidDevice  = device.ErrInvalidDevice
	ErrNoRuntime      = device.ErrNoRuntime
)

// New creates a buffer of size bytes. Nothing is allocated until first access.
func New(size int) *Buffer {
	return memory.New(size)
}

// NewContext returns a GPU context on device 0 of rt, or a CPU context if rt is nil.
// It uses the default host allocator and slog.Default.
func NewContext(rt Runtime) Context {
	h := host.New(host.DefaultConfig())
	if rt == nil {
		return exec.CPUContext(h, slog.Default())
	}
	return exec.GPUContext(rt, 0, h, slog.Default())
}

// CPUContext returns a host-only context.
func CPUContext(h *HostAllocator, logger *slog.Logger) Context {
	return exec.CPUContext(h, logger)
}

// GPUContext returns an accelerator context on device dev of rt.
func GPUContext(rt Runtime, dev int, h *HostAllocator, logger *slog.Logger) Context {
	return exec.GPUContext(rt, dev, h, logger)
}

// DefaultHostConfig pins host memory where the platform allows and aligns the rest to 64 bytes.
func DefaultHostConfig() HostConfig {
	return host.DefaultConfig()
}

// NewHostAllocator creates a host allocator.
func NewHostAllocator(cfg HostConfig) *HostAllocator {
	return host.New(cfg)
}
