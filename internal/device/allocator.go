package device

import (
	"log/slog"

	"github.com/born-ml/syncedmem/internal/fatal"
)

// Allocator wraps a Runtime and treats every runtime failure as fatal.
// A failed allocation, copy or free means the device context is broken and the
// caller cannot continue against it.
type Allocator struct {
	rt     Runtime
	logger *slog.Logger
}

// NewAllocator creates a fatal-on-failure allocator over rt.
// A nil rt is itself fatal: there is no device to allocate on.
func NewAllocator(rt Runtime, logger *slog.Logger) Allocator {
	if rt == nil {
		fatal.Panicf(logger, ErrNoRuntime, "device allocator")
	}
	return Allocator{rt: rt, logger: logger}
}

// Runtime returns the wrapped runtime.
func (a Allocator) Runtime() Runtime {
	return a.rt
}

// Alloc allocates size bytes on dev.
func (a Allocator) Alloc(dev, size int) Ptr {
	p, err := a.rt.Malloc(dev, size)
	fatal.Check(a.logger, err, "%s: device %d: allocation of size %d failed", a.rt.Name(), dev, size)
	if p.IsNil() && size > 0 {
		fatal.Panicf(a.logger, ErrOutOfMemory, "%s: device %d: allocation of size %d returned nil", a.rt.Name(), dev, size)
	}
	return p
}

// Free releases p on dev.
func (a Allocator) Free(dev int, p Ptr) {
	fatal.Check(a.logger, a.rt.Free(dev, p), "%s: device %d: free of %s failed", a.rt.Name(), dev, p)
}

// Memset fills size bytes at p with value.
func (a Allocator) Memset(dev int, p Ptr, value byte, size int) {
	fatal.Check(a.logger, a.rt.Memset(dev, p, value, size), "%s: device %d: memset of %d bytes at %s failed", a.rt.Name(), dev, size, p)
}

// Copy performs a synchronous transfer of len(host) bytes.
func (a Allocator) Copy(dev int, kind CopyKind, host []byte, p Ptr) {
	fatal.Check(a.logger, a.rt.Memcpy(dev, kind, host, p), "%s: device %d: %s copy of %d bytes failed", a.rt.Name(), dev, kind, len(host))
}

// CopyAsync enqueues a transfer of len(host) bytes on s.
func (a Allocator) CopyAsync(kind CopyKind, host []byte, p Ptr, s Stream) {
	fatal.Check(a.logger, a.rt.MemcpyAsync(kind, host, p, s), "%s: stream on device %d: async %s copy of %d bytes failed", a.rt.Name(), s.Device(), kind, len(host))
}

// PointerDevice returns the device that owns p.
func (a Allocator) PointerDevice(p Ptr) int {
	dev, err := a.rt.PointerDevice(p)
	fatal.Check(a.logger, err, "%s: pointer attributes of %s", a.rt.Name(), p)
	return dev
}
