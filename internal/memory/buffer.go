// Package memory implements the synchronized host/device buffer.
//
// A Buffer is one logical block of bytes that may live in host memory, device memory, or both.
// Accessors allocate and copy on demand, so callers ask for the side they need and never
// track staleness themselves.
//
// A Buffer is not safe for concurrent use. It owns at most one host allocation and one device
// allocation; externally attached memory is borrowed and never freed.
package memory

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/born-ml/syncedmem/internal/device"
	"github.com/born-ml/syncedmem/internal/exec"
	"github.com/born-ml/syncedmem/internal/fatal"
	"github.com/born-ml/syncedmem/internal/host"
)

// Common errors.
var (
	ErrNegativeSize   = errors.New("negative buffer size")
	ErrReleased       = errors.New("buffer used after release")
	ErrNilAttach      = errors.New("attach of nil pointer")
	ErrAttachTooSmall = errors.New("attached memory smaller than buffer")
	ErrNotHeadAtHost  = errors.New("async push requires head at host")
)

// defaultHost serves contexts that carry no host allocator.
var defaultHost = host.New(host.DefaultConfig())

// noCopy lets go vet's copylocks check flag value copies of Buffer.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Buffer is a lazily synchronized host/device byte buffer.
// Use Move to transfer ownership; never copy a Buffer by value.
type Buffer struct {
	noCopy noCopy //nolint:unused // go vet copylocks marker

	id   uuid.UUID
	size int
	head Head

	host       []byte
	ownsHost   bool
	hostPinned bool
	hostAlloc  *host.Allocator

	dev         device.Ptr
	ownsDevice  bool
	deviceID    int
	hasDeviceID bool
	runtime     device.Runtime
	inFlight    device.Stream // Stream of the last AsyncPush, waited on before freeing.

	logger   *slog.Logger
	released bool
}

// New creates a buffer of size bytes. Nothing is allocated until first access.
// A negative size is fatal.
func New(size int) *Buffer {
	b := &Buffer{
		id:     uuid.New(),
		size:   size,
		head:   Uninitialized,
		logger: slog.New(slog.DiscardHandler),
	}
	if size < 0 {
		fatal.Panicf(nil, ErrNegativeSize, "new buffer of size %d", size)
	}
	return b
}

// ID returns the buffer's log identifier.
func (b *Buffer) ID() uuid.UUID {
	return b.id
}

// Size returns the buffer length in bytes.
func (b *Buffer) Size() int {
	return b.size
}

// Head returns the current synchronization state.
func (b *Buffer) Head() Head {
	return b.head
}

// DeviceID returns the device the buffer is bound to, if any device operation happened.
func (b *Buffer) DeviceID() (int, bool) {
	return b.deviceID, b.hasDeviceID
}

// OwnsHost reports whether Release frees the host memory.
func (b *Buffer) OwnsHost() bool {
	return b.ownsHost
}

// OwnsDevice reports whether Release frees the device memory.
func (b *Buffer) OwnsDevice() bool {
	return b.ownsDevice
}

// HostPinned reports whether the owned host memory came from the pinned path.
func (b *Buffer) HostPinned() bool {
	return b.hostPinned
}

// DevicePointer returns the device pointer without synchronizing anything.
// The bytes behind it may be stale or, after AsyncPush, still in flight.
func (b *Buffer) DevicePointer() (device.Ptr, bool) {
	return b.dev, !b.dev.IsNil()
}

// Released reports whether Release or Move has been called.
func (b *Buffer) Released() bool {
	return b.released
}

// String describes the buffer for diagnostics.
func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer(%s, size=%d, head=%s)", b.id, b.size, b.head)
}

// HostView makes the host copy current and returns it.
// The slice must be treated as read-only; use MutableHostView to write.
func (b *Buffer) HostView(ctx exec.Context) []byte {
	b.ensureHost(ctx)
	return b.host
}

// MutableHostView makes the host copy current and returns it for writing.
// The device copy is considered stale from here on, even if its bytes are untouched.
func (b *Buffer) MutableHostView(ctx exec.Context) []byte {
	b.ensureHost(ctx)
	b.setHead(ctx, HeadAtHost)
	return b.host
}

// DeviceView makes the device copy current and returns its pointer.
// The memory must be treated as read-only; use MutableDeviceView to write.
func (b *Buffer) DeviceView(ctx exec.Context) device.Ptr {
	b.ensureDevice(ctx)
	return b.dev
}

// MutableDeviceView makes the device copy current and returns its pointer for writing.
// The host copy is considered stale from here on.
func (b *Buffer) MutableDeviceView(ctx exec.Context) device.Ptr {
	b.ensureDevice(ctx)
	b.setHead(ctx, HeadAtDevice)
	return b.dev
}

// AttachHost installs externally owned host memory. Owned host memory is freed first.
// data must hold at least Size bytes; the buffer never frees it.
func (b *Buffer) AttachHost(ctx exec.Context, data []byte) {
	b.checkLive(ctx)
	if data == nil {
		fatal.Assertf(ctx.Log(), ErrNilAttach, "buffer %s: attach host", b.id)
	}
	if len(data) < b.size {
		fatal.Assertf(ctx.Log(), ErrAttachTooSmall, "buffer %s: attach host of %d bytes, need %d", b.id, len(data), b.size)
	}

	b.freeHost()
	b.host = data[:b.size]
	b.ownsHost = false
	b.hostPinned = false
	b.hostAlloc = nil
	b.setHead(ctx, HeadAtHost)
}

// AttachDevice installs externally owned device memory on ctx's device.
// Owned device memory is freed first; the buffer never frees p.
func (b *Buffer) AttachDevice(ctx exec.Context, p device.Ptr) {
	b.checkLive(ctx)
	b.checkDevice(ctx)
	if p.IsNil() {
		fatal.Assertf(ctx.Log(), ErrNilAttach, "buffer %s: attach device", b.id)
	}

	b.freeDevice()
	b.dev = p
	b.ownsDevice = false
	b.setHead(ctx, HeadAtDevice)
}

// AsyncPush issues an asynchronous host-to-device copy on s and returns immediately.
//
// The head must be HeadAtHost. Device memory is allocated if absent. The head is left at
// HeadAtHost: the copy is in flight, not observed. The caller must call s.Synchronize before
// relying on the device bytes, and must not write the host slice until then.
// Freeing either side (Release, AttachHost, AttachDevice) waits for s first.
func (b *Buffer) AsyncPush(ctx exec.Context, s device.Stream) {
	b.checkLive(ctx)
	if b.head != HeadAtHost {
		fatal.Assertf(ctx.Log(), ErrNotHeadAtHost, "buffer %s: async push in state %s", b.id, b.head)
	}
	b.checkDevice(ctx)
	if s.Device() != b.deviceID {
		fatal.Assertf(ctx.Log(), device.ErrDeviceMismatch, "buffer %s: stream on device %d, buffer on device %d", b.id, s.Device(), b.deviceID)
	}

	if b.dev.IsNil() {
		b.allocDevice(ctx)
	}
	b.deviceAllocator(ctx).CopyAsync(device.HostToDevice, b.host, b.dev, s)
	b.inFlight = s
	ctx.Log().Debug("async push issued", "buffer", b.id, "size", b.size, "device", b.deviceID)
}

// Release frees owned memory through the allocators that produced it.
// Borrowed memory is left untouched. Release is idempotent.
func (b *Buffer) Release() {
	if b.released {
		return
	}
	b.freeHost()
	b.freeDevice()
	b.released = true
	b.logger.Debug("buffer released", "buffer", b.id)
}

// Move transfers ownership of everything b holds to a new Buffer.
// b is left released; using it afterwards is fatal.
func (b *Buffer) Move() *Buffer {
	if b.released {
		fatal.Assertf(b.logger, ErrReleased, "buffer %s: move", b.id)
	}
	nb := &Buffer{
		id:          b.id,
		size:        b.size,
		head:        b.head,
		host:        b.host,
		ownsHost:    b.ownsHost,
		hostPinned:  b.hostPinned,
		hostAlloc:   b.hostAlloc,
		dev:         b.dev,
		ownsDevice:  b.ownsDevice,
		deviceID:    b.deviceID,
		hasDeviceID: b.hasDeviceID,
		runtime:     b.runtime,
		inFlight:    b.inFlight,
		logger:      b.logger,
	}

	b.host, b.ownsHost, b.hostAlloc = nil, false, nil
	b.dev, b.ownsDevice = 0, false
	b.inFlight = nil
	b.released = true
	return nb
}

// ensureHost makes the host copy current.
func (b *Buffer) ensureHost(ctx exec.Context) {
	b.checkLive(ctx)
	switch b.head {
	case Uninitialized:
		b.allocHost(ctx)
		b.hostAlloc.Fill(b.host, 0)
		b.setHead(ctx, HeadAtHost)
	case HeadAtDevice:
		if b.host == nil {
			b.allocHost(ctx)
		}
		device.NewAllocator(b.runtime, ctx.Log()).Copy(b.deviceID, device.DeviceToHost, b.host, b.dev)
		b.setHead(ctx, Synced)
	case HeadAtHost, Synced:
	}
}

// ensureDevice makes the device copy current.
func (b *Buffer) ensureDevice(ctx exec.Context) {
	b.checkLive(ctx)
	b.checkDevice(ctx)
	switch b.head {
	case Uninitialized:
		b.allocDevice(ctx)
		b.deviceAllocator(ctx).Memset(b.deviceID, b.dev, 0, b.size)
		b.setHead(ctx, HeadAtDevice)
	case HeadAtHost:
		if b.dev.IsNil() {
			b.allocDevice(ctx)
		}
		b.deviceAllocator(ctx).Copy(b.deviceID, device.HostToDevice, b.host, b.dev)
		b.setHead(ctx, Synced)
	case HeadAtDevice, Synced:
	}
}

// checkDevice binds the buffer to ctx's runtime and device on first use and
// rejects any later operation under a different device.
func (b *Buffer) checkDevice(ctx exec.Context) {
	log := ctx.Log()
	if ctx.Runtime == nil {
		fatal.Panicf(log, device.ErrNoRuntime, "buffer %s: device operation in %s context", b.id, ctx)
	}
	if err := device.CheckDevice(ctx.Runtime, ctx.Device); err != nil {
		fatal.Assertf(log, err, "buffer %s", b.id)
	}

	if !b.hasDeviceID {
		b.deviceID = ctx.Device
		b.hasDeviceID = true
		b.runtime = ctx.Runtime
		b.logger = log
		return
	}
	if b.runtime != ctx.Runtime {
		fatal.Assertf(log, device.ErrDeviceMismatch, "buffer %s: bound to runtime %s, context uses %s",
			b.id, b.runtime.Name(), ctx.Runtime.Name())
	}
	if ctx.Device != b.deviceID {
		fatal.Assertf(log, device.ErrDeviceMismatch, "buffer %s: device %d used, buffer lives on device %d",
			b.id, ctx.Device, b.deviceID)
	}
	if b.ownsDevice && !b.dev.IsNil() {
		if got := b.deviceAllocator(ctx).PointerDevice(b.dev); got != b.deviceID {
			fatal.Assertf(log, device.ErrDeviceMismatch, "buffer %s: pointer %s lives on device %d, buffer on device %d",
				b.id, b.dev, got, b.deviceID)
		}
	}
}

func (b *Buffer) checkLive(ctx exec.Context) {
	if b.released {
		fatal.Assertf(ctx.Log(), ErrReleased, "buffer %s", b.id)
	}
}

func (b *Buffer) allocHost(ctx exec.Context) {
	h := ctx.Host
	if h == nil {
		h = defaultHost
	}
	b.host, b.hostPinned = h.Alloc(b.size, ctx.Accelerated())
	b.hostAlloc = h
	b.ownsHost = true
	b.logger = ctx.Log()
}

func (b *Buffer) allocDevice(ctx exec.Context) {
	b.dev = b.deviceAllocator(ctx).Alloc(b.deviceID, b.size)
	b.ownsDevice = true
}

func (b *Buffer) deviceAllocator(ctx exec.Context) device.Allocator {
	return device.NewAllocator(b.runtime, ctx.Log())
}

func (b *Buffer) freeHost() {
	b.waitInFlight()
	if b.ownsHost && b.host != nil {
		b.hostAlloc.Free(b.host, b.hostPinned)
	}
	b.host = nil
	b.ownsHost = false
	b.hostPinned = false
	b.hostAlloc = nil
}

func (b *Buffer) freeDevice() {
	b.waitInFlight()
	if b.ownsDevice && !b.dev.IsNil() {
		device.NewAllocator(b.runtime, b.logger).Free(b.deviceID, b.dev)
	}
	b.dev = 0
	b.ownsDevice = false
}

// waitInFlight synchronizes the stream of a pending AsyncPush, which may still read the host
// slice and write the device pointer. A stream released by its owner has already drained.
func (b *Buffer) waitInFlight() {
	s := b.inFlight
	if s == nil {
		return
	}
	b.inFlight = nil
	if err := s.Synchronize(); !errors.Is(err, device.ErrStreamReleased) {
		fatal.Check(b.logger, err, "buffer %s: wait for async push on device %d", b.id, s.Device())
	}
}

func (b *Buffer) setHead(ctx exec.Context, h Head) {
	if b.head == h {
		return
	}
	ctx.Log().Debug("head changed", "buffer", b.id, "from", b.head, "to", h, "size", b.size)
	b.head = h
}
