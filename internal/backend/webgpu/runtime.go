//go:build windows

// Package webgpu implements a device runtime on top of WebGPU.
// Uses go-webgpu (github.com/go-webgpu/webgpu) for zero-CGO WebGPU bindings.
//
// WebGPU exposes a single adapter per runtime, so DeviceCount is always 1. Device memory is a
// storage buffer; the pointer handed out is an opaque handle into the runtime's buffer table.
// Buffer sizes are rounded up to a multiple of 4 as WebGPU copy commands require.
package webgpu

import (
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/born-ml/syncedmem/internal/device"
)

const (
	storageUsage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst
	uploadUsage  = wgpu.BufferUsageCopySrc
	readUsage    = wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst

	handleBase = 0x10000
	copyAlign  = 4
)

// Config controls the WebGPU runtime.
type Config struct {
	HighPerformance bool         // Prefer a discrete adapter.
	MaxBatchSize    int          // Commands a stream accumulates before submitting (0 = until Synchronize).
	Logger          *slog.Logger // Debug log of allocations and transfers (nil = discard).
}

// DefaultConfig prefers the high-performance adapter and batches without limit.
func DefaultConfig() Config {
	return Config{HighPerformance: true}
}

// Stats reports device memory usage.
type Stats struct {
	LiveAllocations int
	LiveBytes       uint64 // Aligned sizes.
	PeakBytes       uint64
	PoolCreated     uint64
	PoolHits        uint64
	PoolMisses      uint64
	Pooled          int
}

// allocation is one storage buffer behind a handle.
type allocation struct {
	buffer  *wgpu.Buffer
	size    int    // Requested size.
	aligned uint64 // Buffer size.
}

// Runtime is a WebGPU device runtime. It is safe for concurrent use.
type Runtime struct {
	cfg    Config
	logger *slog.Logger

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	pool     *bufferPool
	fence    *wgpu.Buffer // Read back to wait for submitted work.

	mu        sync.Mutex
	allocs    map[device.Ptr]*allocation
	next      uintptr
	liveBytes uint64
	peakBytes uint64
}

// Verify interface compliance.
var _ device.Runtime = (*Runtime)(nil)

// New opens the default WebGPU adapter.
// Returns an error if WebGPU is not available or initialization fails.
func New(cfg Config) (rt *Runtime, err error) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			rt = nil
			err = fmt.Errorf("webgpu: native library not available: %v", r)
		}
	}()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	opts := &wgpu.RequestAdapterOptions{}
	if cfg.HighPerformance {
		opts.PowerPreference = wgpu.PowerPreferenceHighPerformance
	}

	instance := wgpu.CreateInstance(nil)
	adapter, err := instance.RequestAdapter(opts)
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request adapter: %w", err)
	}
	dev, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request device: %w", err)
	}
	queue := dev.GetQueue()
	if queue == nil {
		dev.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to get queue")
	}

	return &Runtime{
		cfg:      cfg,
		logger:   logger.With("runtime", "webgpu"),
		instance: instance,
		adapter:  adapter,
		device:   dev,
		queue:    queue,
		pool:     newBufferPool(dev),
		fence:    dev.CreateBuffer(&wgpu.BufferDescriptor{Usage: storageUsage, Size: copyAlign}),
		allocs:   make(map[device.Ptr]*allocation),
		next:     handleBase,
	}, nil
}

// IsAvailable checks if WebGPU is available on this system.
func IsAvailable() (available bool) {
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	instance := wgpu.CreateInstance(nil)
	defer instance.Release()

	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		return false
	}
	adapter.Release()
	return true
}

// Name returns the runtime name.
func (r *Runtime) Name() string {
	return "webgpu"
}

// DeviceCount returns 1: a runtime drives one adapter.
func (r *Runtime) DeviceCount() int {
	return 1
}

// Malloc allocates a storage buffer of at least size bytes.
func (r *Runtime) Malloc(dev, size int) (device.Ptr, error) {
	if err := device.CheckDevice(r, dev); err != nil {
		return 0, err
	}
	if size < 0 {
		return 0, fmt.Errorf("webgpu: negative allocation size %d", size)
	}

	aligned := alignCopy(size)
	buffer := r.pool.acquire(aligned)
	if buffer == nil {
		return 0, fmt.Errorf("%w: webgpu: buffer of %d bytes", device.ErrOutOfMemory, aligned)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := device.Ptr(r.next)
	r.next += uintptr(aligned)
	r.allocs[p] = &allocation{buffer: buffer, size: size, aligned: aligned}
	r.liveBytes += aligned
	r.peakBytes = max(r.peakBytes, r.liveBytes)

	r.logger.Debug("malloc", "ptr", p, "size", size, "aligned", aligned)
	return p, nil
}

// Free returns the buffer behind p to the pool.
func (r *Runtime) Free(dev int, p device.Ptr) error {
	r.mu.Lock()
	a, err := r.lookupLocked(dev, p)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	delete(r.allocs, p)
	r.liveBytes -= a.aligned
	r.mu.Unlock()

	r.pool.release(a.buffer, a.aligned)
	r.logger.Debug("free", "ptr", p, "size", a.size)
	return nil
}

// Memset sets size bytes at p to value by uploading a filled staging buffer.
func (r *Runtime) Memset(dev int, p device.Ptr, value byte, size int) error {
	a, err := r.lookup(dev, p)
	if err != nil {
		return err
	}
	if size < 0 || size > a.size {
		return fmt.Errorf("%w: memset of %d bytes into %d-byte allocation %s", device.ErrOutOfRange, size, a.size, p)
	}
	if size == 0 {
		return nil
	}

	fill := make([]byte, a.aligned)
	if size < a.size {
		// Copies move whole words; keep the bytes past size.
		if fill, err = r.readBuffer(a.buffer, a.aligned); err != nil {
			return err
		}
	}
	for i := range fill[:size] {
		fill[i] = value
	}
	return r.upload(fill, a.buffer)
}

// Memcpy copies len(host) bytes between host and p and waits for the transfer.
func (r *Runtime) Memcpy(dev int, kind device.CopyKind, host []byte, p device.Ptr) error {
	a, err := r.lookup(dev, p)
	if err != nil {
		return err
	}
	if len(host) > a.size {
		return fmt.Errorf("%w: %d bytes into %d-byte allocation %s", device.ErrOutOfRange, len(host), a.size, p)
	}
	if len(host) == 0 {
		return nil
	}

	switch kind {
	case device.HostToDevice:
		data, err := r.padded(host, a)
		if err != nil {
			return err
		}
		return r.upload(data, a.buffer)
	case device.DeviceToHost:
		data, err := r.readBuffer(a.buffer, a.aligned)
		if err != nil {
			return err
		}
		copy(host, data)
		return nil
	default:
		return fmt.Errorf("%w: %d", device.ErrUnsupportedCopy, kind)
	}
}

// MemcpyAsync records a host-to-device copy on s. The host bytes are staged at issue time;
// the copy is submitted when the stream flushes. Device-to-host needs a map and is
// only available synchronously.
func (r *Runtime) MemcpyAsync(kind device.CopyKind, host []byte, p device.Ptr, s device.Stream) error {
	st, ok := s.(*Stream)
	if !ok || st.rt != r {
		return fmt.Errorf("webgpu: stream %T was not created by this runtime", s)
	}
	if kind != device.HostToDevice {
		return fmt.Errorf("%w: async %s", device.ErrUnsupportedCopy, kind)
	}
	a, err := r.lookup(st.dev, p)
	if err != nil {
		return err
	}
	if len(host) > a.size {
		return fmt.Errorf("%w: %d bytes into %d-byte allocation %s", device.ErrOutOfRange, len(host), a.size, p)
	}
	if len(host) == 0 {
		return nil
	}

	data, err := r.padded(host, a)
	if err != nil {
		return err
	}
	staging := r.createBuffer(data, uploadUsage)
	encoder := r.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(staging, 0, a.buffer, 0, uint64(len(data)))
	cmd := encoder.Finish(nil)

	if err := st.record(cmd, staging); err != nil {
		staging.Release()
		return err
	}
	r.logger.Debug("memcpy async issued", "ptr", p, "size", len(host))
	return nil
}

// NewStream creates a command batch on dev.
func (r *Runtime) NewStream(dev int) (device.Stream, error) {
	if err := device.CheckDevice(r, dev); err != nil {
		return nil, err
	}
	return newStream(r, dev), nil
}

// PointerDevice returns 0 for any handle this runtime issued.
func (r *Runtime) PointerDevice(p device.Ptr) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.allocs[p]; !ok {
		return 0, fmt.Errorf("%w: %s", device.ErrInvalidPointer, p)
	}
	return 0, nil
}

// Stats returns current memory usage.
func (r *Runtime) Stats() Stats {
	created, hits, misses, pooled := r.pool.stats()

	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		LiveAllocations: len(r.allocs),
		LiveBytes:       r.liveBytes,
		PeakBytes:       r.peakBytes,
		PoolCreated:     created,
		PoolHits:        hits,
		PoolMisses:      misses,
		Pooled:          pooled,
	}
}

// Release frees every live allocation and the WebGPU objects.
// Must be called when the runtime is no longer needed.
func (r *Runtime) Release() {
	r.mu.Lock()
	for p, a := range r.allocs {
		a.buffer.Release()
		delete(r.allocs, p)
	}
	r.liveBytes = 0
	r.mu.Unlock()

	if r.pool != nil {
		r.pool.clear()
	}
	if r.fence != nil {
		r.fence.Release()
		r.fence = nil
	}
	if r.queue != nil {
		r.queue.Release()
		r.queue = nil
	}
	if r.device != nil {
		r.device.Release()
		r.device = nil
	}
	if r.adapter != nil {
		r.adapter.Release()
		r.adapter = nil
	}
	if r.instance != nil {
		r.instance.Release()
		r.instance = nil
	}
}

// upload copies data into dst through a mapped staging buffer and waits for completion.
func (r *Runtime) upload(data []byte, dst *wgpu.Buffer) error {
	staging := r.createBuffer(data, uploadUsage)
	defer staging.Release()

	encoder := r.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(staging, 0, dst, 0, uint64(len(data)))
	r.queue.Submit(encoder.Finish(nil))

	// Mapping a readback of dst waits for the copy to finish.
	_, err := r.readBuffer(dst, copyAlign)
	return err
}

// createBuffer creates a buffer with data uploaded at creation.
func (r *Runtime) createBuffer(data []byte, usage wgpu.BufferUsage) *wgpu.Buffer {
	size := uint64(len(data))
	buffer := r.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            usage,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})

	mappedPtr := buffer.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mapped := unsafe.Slice((*byte)(mappedPtr), size)
	copy(mapped, data)
	buffer.Unmap()
	return buffer
}

// readBuffer reads size bytes back from src.
// Uses a staging buffer since storage buffers can't be mapped directly.
func (r *Runtime) readBuffer(src *wgpu.Buffer, size uint64) ([]byte, error) {
	staging := r.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: readUsage,
		Size:  size,
	})
	defer staging.Release()

	encoder := r.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)
	r.queue.Submit(encoder.Finish(nil))

	if err := staging.MapAsync(r.device, wgpu.MapModeRead, 0, size); err != nil {
		return nil, fmt.Errorf("webgpu: failed to map staging buffer: %w", err)
	}
	mappedPtr := staging.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mapped := unsafe.Slice((*byte)(mappedPtr), size)
	out := make([]byte, size)
	copy(out, mapped)
	staging.Unmap()
	return out, nil
}

// padded returns host extended to a 4-byte multiple. The padding keeps the
// allocation's current tail bytes so a short copy leaves them intact.
func (r *Runtime) padded(host []byte, a *allocation) ([]byte, error) {
	n := alignCopy(len(host))
	if uint64(len(host)) == n {
		return host, nil
	}
	out := make([]byte, n)
	if len(host) < a.size {
		cur, err := r.readBuffer(a.buffer, n)
		if err != nil {
			return nil, fmt.Errorf("webgpu: read allocation tail: %w", err)
		}
		copy(out, cur)
	}
	copy(out, host)
	return out, nil
}

// wait blocks until every submitted command has completed.
func (r *Runtime) wait() error {
	_, err := r.readBuffer(r.fence, copyAlign)
	return err
}

func (r *Runtime) lookup(dev int, p device.Ptr) (*allocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupLocked(dev, p)
}

// lookupLocked resolves p (must hold mu).
func (r *Runtime) lookupLocked(dev int, p device.Ptr) (*allocation, error) {
	if err := device.CheckDevice(r, dev); err != nil {
		return nil, err
	}
	a, ok := r.allocs[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", device.ErrInvalidPointer, p)
	}
	return a, nil
}

// alignCopy rounds size up to the copy alignment; zero becomes one word.
func alignCopy(size int) uint64 {
	n := uint64(max(size, 1)) //nolint:gosec // G115: size checked non-negative by callers
	return (n + copyAlign - 1) &^ (copyAlign - 1)
}
