// Package host allocates host-addressable memory for synchronized buffers.
//
// Three allocation paths exist:
//   - pinned: page-locked memory the device can transfer by DMA without staging,
//     tried only while an accelerator context is active;
//   - vector-aligned: 64-byte aligned memory from the Apache Arrow Go allocator,
//     the alignment vector math libraries expect;
//   - plain: the Go heap.
//
// Every allocation reports whether it came from the pinned path, and the matching
// Free must be given the same flag.
package host

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/born-ml/syncedmem/internal/fatal"
	"github.com/born-ml/syncedmem/internal/parallel"
)

// Common errors.
var (
	ErrHostAlloc         = errors.New("host allocation failed")
	ErrHostFree          = errors.New("host free failed")
	ErrPinnedUnsupported = errors.New("pinned host memory not supported on this platform")
)

// Config selects the allocation paths.
type Config struct {
	Pinned        bool             // Try page-locked memory in accelerator contexts.
	VectorAligned bool             // Use the 64-byte aligned allocator instead of the Go heap.
	Vector        memory.Allocator // Aligned allocator (nil = memory.NewGoAllocator()).
	Parallel      parallel.Config  // Chunking for Fill.
	Logger        *slog.Logger     // Fallback warnings and fatal diagnostics (nil = discard).
}

// DefaultConfig enables pinning where the platform supports it and vector alignment.
func DefaultConfig() Config {
	return Config{
		Pinned:        PinnedSupported(),
		VectorAligned: true,
		Parallel:      parallel.DefaultConfig(),
	}
}

// PlainConfig returns a config that only uses the Go heap.
func PlainConfig() Config {
	return Config{Parallel: parallel.DefaultConfig()}
}

// PinnedSupported reports whether this platform can page-lock host memory.
func PinnedSupported() bool {
	return pinnedSupported()
}

// Stats reports live bytes per allocation path.
type Stats struct {
	PinnedBytes int64
	VectorBytes int64
	PlainBytes  int64
	PinFailures int64 // Pinned attempts that fell back to another path.
	Allocs      int64
	Frees       int64
}

// Allocator allocates host memory. It is safe for concurrent use.
type Allocator struct {
	cfg    Config
	vector memory.Allocator
	logger *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a host allocator.
func New(cfg Config) *Allocator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	vector := cfg.Vector
	if vector == nil {
		vector = memory.NewGoAllocator()
	}
	return &Allocator{
		cfg:    cfg,
		vector: vector,
		logger: logger,
	}
}

// Config returns the allocator configuration.
func (a *Allocator) Config() Config {
	return a.cfg
}

// Alloc returns size bytes of host memory and whether the pinned path served it.
// accel reports whether an accelerator context is active; pinning is only tried then.
// A failed final allocation is fatal.
func (a *Allocator) Alloc(size int, accel bool) (buf []byte, pinned bool) {
	if size < 0 {
		fatal.Panicf(a.logger, ErrHostAlloc, "host allocation of negative size %d", size)
	}
	// Zero-size requests still get a real allocation so the slice has an address.
	n := max(size, 1)

	if accel && a.cfg.Pinned {
		b, err := allocPinned(n)
		if err == nil {
			a.record(func(s *Stats) { s.PinnedBytes += int64(cap(b)); s.Allocs++ })
			return b[:size], true
		}
		a.logger.Warn("pinned host allocation failed, falling back", "size", size, "error", err)
		a.record(func(s *Stats) { s.PinFailures++ })
	}

	if a.cfg.VectorAligned {
		b := a.vector.Allocate(n)
		if len(b) < n {
			fatal.Panicf(a.logger, ErrHostAlloc, "host allocation of size %d failed", size)
		}
		a.record(func(s *Stats) { s.VectorBytes += int64(cap(b)); s.Allocs++ })
		return b[:size], false
	}

	b := make([]byte, n)
	a.record(func(s *Stats) { s.PlainBytes += int64(cap(b)); s.Allocs++ })
	return b[:size], false
}

// Free releases buf through the path that allocated it.
func (a *Allocator) Free(buf []byte, pinned bool) {
	if cap(buf) == 0 {
		return
	}
	full := buf[:cap(buf)]

	switch {
	case pinned:
		fatal.Check(a.logger, freePinned(full), "pinned host free of %d bytes", cap(buf))
		a.record(func(s *Stats) { s.PinnedBytes -= int64(cap(full)) })
	case a.cfg.VectorAligned:
		a.vector.Free(full)
		a.record(func(s *Stats) { s.VectorBytes -= int64(cap(full)) })
	default:
		a.record(func(s *Stats) { s.PlainBytes -= int64(cap(full)) })
	}
	a.record(func(s *Stats) { s.Frees++ })
}

// Fill sets every byte of buf to v.
func (a *Allocator) Fill(buf []byte, v byte) {
	parallel.Fill(buf, v, a.cfg.Parallel)
}

// Stats returns a snapshot of allocator counters.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (a *Allocator) record(f func(*Stats)) {
	a.mu.Lock()
	f(&a.stats)
	a.mu.Unlock()
}
