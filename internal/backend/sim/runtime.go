// Package sim implements an in-process simulated device runtime.
//
// Each simulated device owns a separate address space of Go byte slices. Pointers are opaque
// handles that are only meaningful to the Runtime that issued them, so a host slice can never
// be mistaken for device memory. Streams queue their work and execute it in order on
// Synchronize, which makes the window between issuing and completing an asynchronous copy
// observable in tests.
package sim

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/born-ml/syncedmem/internal/device"
	"github.com/born-ml/syncedmem/internal/parallel"
)

const (
	// ptrBase is the first handle handed out; keeps handles clear of small integers.
	ptrBase = 0x7f0000000000
	// ptrAlign spaces handles like a device allocator aligns allocations.
	ptrAlign = 256
)

// Config controls the simulated runtime.
type Config struct {
	Devices     int             // Number of simulated devices.
	MemoryLimit int             // Per-device byte limit (0 = unlimited).
	Parallel    parallel.Config // Chunking for large memsets and copies.
	Logger      *slog.Logger    // Debug log of allocations and transfers (nil = discard).
}

// DefaultConfig returns a single-device runtime without a memory limit.
func DefaultConfig() Config {
	return Config{
		Devices:  1,
		Parallel: parallel.DefaultConfig(),
	}
}

// Stats counts runtime activity since creation.
type Stats struct {
	Allocs            int64 // Successful Malloc calls.
	Frees             int64 // Successful Free calls.
	LiveAllocations   int   // Allocations not yet freed.
	LiveBytes         int64 // Bytes held by live allocations.
	PeakBytes         int64 // High-water mark of LiveBytes.
	Memsets           int64 // Completed Memset calls.
	HostToDevice      int64 // Completed host->device transfers (sync and async).
	DeviceToHost      int64 // Completed device->host transfers (sync and async).
	AsyncIssued       int64 // MemcpyAsync calls accepted.
	BytesHostToDevice int64
	BytesDeviceToHost int64
}

// allocation is one simulated device allocation.
type allocation struct {
	dev  int
	data []byte
}

// Runtime is a simulated multi-device runtime.
// It is safe for concurrent use.
type Runtime struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	allocs map[device.Ptr]*allocation
	next   uintptr
	used   []int
	stats  Stats
}

// Verify interface compliance.
var _ device.Runtime = (*Runtime)(nil)

// New creates a simulated runtime.
func New(cfg Config) (*Runtime, error) {
	if cfg.Devices <= 0 {
		return nil, fmt.Errorf("sim: device count must be positive, got %d", cfg.Devices)
	}
	if cfg.MemoryLimit < 0 {
		return nil, fmt.Errorf("sim: negative memory limit %d", cfg.MemoryLimit)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runtime{
		cfg:    cfg,
		logger: logger.With("runtime", "sim"),
		allocs: make(map[device.Ptr]*allocation),
		next:   ptrBase,
		used:   make([]int, cfg.Devices),
	}, nil
}

// Name returns the runtime name.
func (r *Runtime) Name() string {
	return "sim"
}

// DeviceCount returns the number of simulated devices.
func (r *Runtime) DeviceCount() int {
	return r.cfg.Devices
}

// Malloc allocates size bytes on dev.
func (r *Runtime) Malloc(dev, size int) (device.Ptr, error) {
	if err := device.CheckDevice(r, dev); err != nil {
		return 0, err
	}
	if size < 0 {
		return 0, fmt.Errorf("sim: negative allocation size %d", size)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.MemoryLimit > 0 && r.used[dev]+size > r.cfg.MemoryLimit {
		return 0, fmt.Errorf("%w: device %d: %d bytes requested, %d of %d in use",
			device.ErrOutOfMemory, dev, size, r.used[dev], r.cfg.MemoryLimit)
	}

	p := device.Ptr(r.next)
	r.next += uintptr((size + ptrAlign) / ptrAlign * ptrAlign)
	r.allocs[p] = &allocation{dev: dev, data: make([]byte, size)}
	r.used[dev] += size

	r.stats.Allocs++
	r.stats.LiveAllocations++
	r.stats.LiveBytes += int64(size)
	r.stats.PeakBytes = max(r.stats.PeakBytes, r.stats.LiveBytes)

	r.logger.Debug("malloc", "device", dev, "ptr", p, "size", size)
	return p, nil
}

// Free releases an allocation.
func (r *Runtime) Free(dev int, p device.Ptr) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.lookupLocked(dev, p)
	if err != nil {
		return err
	}
	delete(r.allocs, p)
	r.used[a.dev] -= len(a.data)

	r.stats.Frees++
	r.stats.LiveAllocations--
	r.stats.LiveBytes -= int64(len(a.data))

	r.logger.Debug("free", "device", dev, "ptr", p, "size", len(a.data))
	return nil
}

// Memset sets size bytes at p to value.
func (r *Runtime) Memset(dev int, p device.Ptr, value byte, size int) error {
	a, err := r.lookup(dev, p)
	if err != nil {
		return err
	}
	if size < 0 || size > len(a.data) {
		return fmt.Errorf("%w: memset of %d bytes into %d-byte allocation %s", device.ErrOutOfRange, size, len(a.data), p)
	}

	parallel.Fill(a.data[:size], value, r.cfg.Parallel)

	r.mu.Lock()
	r.stats.Memsets++
	r.mu.Unlock()
	return nil
}

// Memcpy copies len(host) bytes between host and p, synchronously.
func (r *Runtime) Memcpy(dev int, kind device.CopyKind, host []byte, p device.Ptr) error {
	a, err := r.lookup(dev, p)
	if err != nil {
		return err
	}
	if err := checkRange(a, host, p); err != nil {
		return err
	}
	return r.transfer(kind, host, a)
}

// MemcpyAsync enqueues a transfer on s. Pointer and range are validated at issue time,
// bytes move when the stream executes the operation.
func (r *Runtime) MemcpyAsync(kind device.CopyKind, host []byte, p device.Ptr, s device.Stream) error {
	st, ok := s.(*Stream)
	if !ok || st.rt != r {
		return fmt.Errorf("sim: stream %T was not created by this runtime", s)
	}
	a, err := r.lookup(st.dev, p)
	if err != nil {
		return err
	}
	if err := checkRange(a, host, p); err != nil {
		return err
	}
	if kind != device.HostToDevice && kind != device.DeviceToHost {
		return fmt.Errorf("%w: %d", device.ErrUnsupportedCopy, kind)
	}

	// The pointer may be freed before the stream runs; resolve it again then.
	if err := st.enqueue(func() error {
		a, err := r.lookup(st.dev, p)
		if err != nil {
			return err
		}
		if err := checkRange(a, host, p); err != nil {
			return err
		}
		return r.transfer(kind, host, a)
	}); err != nil {
		return err
	}

	r.mu.Lock()
	r.stats.AsyncIssued++
	r.mu.Unlock()

	r.logger.Debug("memcpy async issued", "kind", kind, "ptr", p, "size", len(host), "device", st.dev)
	return nil
}

// NewStream creates a stream on dev.
func (r *Runtime) NewStream(dev int) (device.Stream, error) {
	if err := device.CheckDevice(r, dev); err != nil {
		return nil, err
	}
	return newStream(r, dev), nil
}

// PointerDevice returns the device owning p.
func (r *Runtime) PointerDevice(p device.Ptr) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.allocs[p]
	if !ok {
		return 0, fmt.Errorf("%w: %s", device.ErrInvalidPointer, p)
	}
	return a.dev, nil
}

// Snapshot returns a copy of the device bytes at p without synchronizing any stream.
// Tests use it to observe device memory directly.
func (r *Runtime) Snapshot(p device.Ptr) ([]byte, error) {
	r.mu.Lock()
	a, ok := r.allocs[p]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", device.ErrInvalidPointer, p)
	}
	out := make([]byte, len(a.data))
	copy(out, a.data)
	return out, nil
}

// Stats returns a snapshot of runtime counters.
func (r *Runtime) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// transfer moves bytes between host and a and records the transfer.
func (r *Runtime) transfer(kind device.CopyKind, host []byte, a *allocation) error {
	switch kind {
	case device.HostToDevice:
		parallel.Copy(a.data, host, r.cfg.Parallel)
	case device.DeviceToHost:
		parallel.Copy(host, a.data, r.cfg.Parallel)
	default:
		return fmt.Errorf("%w: %d", device.ErrUnsupportedCopy, kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if kind == device.HostToDevice {
		r.stats.HostToDevice++
		r.stats.BytesHostToDevice += int64(len(host))
	} else {
		r.stats.DeviceToHost++
		r.stats.BytesDeviceToHost += int64(len(host))
	}
	return nil
}

func (r *Runtime) lookup(dev int, p device.Ptr) (*allocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupLocked(dev, p)
}

// lookupLocked resolves p and checks it belongs to dev (must hold mu).
func (r *Runtime) lookupLocked(dev int, p device.Ptr) (*allocation, error) {
	if err := device.CheckDevice(r, dev); err != nil {
		return nil, err
	}
	a, ok := r.allocs[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", device.ErrInvalidPointer, p)
	}
	if a.dev != dev {
		return nil, fmt.Errorf("%w: %s lives on device %d, not %d", device.ErrDeviceMismatch, p, a.dev, dev)
	}
	return a, nil
}

func checkRange(a *allocation, host []byte, p device.Ptr) error {
	if len(host) > len(a.data) {
		return fmt.Errorf("%w: %d bytes into %d-byte allocation %s", device.ErrOutOfRange, len(host), len(a.data), p)
	}
	return nil
}
