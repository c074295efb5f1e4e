// Package device defines the raw device memory service the synchronized buffer delegates to.
//
// A Runtime is an opaque allocate/free/memset/copy provider for one or more accelerator
// devices. Runtimes report failures as errors; Allocator turns them into fatal panics.
package device

import (
	"errors"
	"fmt"
)

// Ptr is an opaque device-side address. The zero value means "no pointer".
type Ptr uintptr

// IsNil reports whether p is the zero pointer.
func (p Ptr) IsNil() bool {
	return p == 0
}

// String returns the pointer in hexadecimal.
func (p Ptr) String() string {
	return fmt.Sprintf("0x%x", uintptr(p))
}

// CopyKind is the direction of a host/device transfer.
type CopyKind int

// Supported transfer directions.
const (
	HostToDevice CopyKind = iota
	DeviceToHost
)

// String returns a human-readable direction.
func (k CopyKind) String() string {
	switch k {
	case HostToDevice:
		return "HostToDevice"
	case DeviceToHost:
		return "DeviceToHost"
	default:
		return "Unknown"
	}
}

// Common errors.
var (
	ErrOutOfMemory     = errors.New("device out of memory")
	ErrInvalidPointer  = errors.New("invalid device pointer")
	ErrInvalidDevice   = errors.New("invalid device ordinal")
	ErrOutOfRange      = errors.New("transfer exceeds allocation")
	ErrDeviceMismatch  = errors.New("device context mismatch")
	ErrNoRuntime       = errors.New("no device runtime in context")
	ErrStreamReleased  = errors.New("stream already released")
	ErrUnsupportedCopy = errors.New("unsupported copy direction")
)

// Runtime is the raw device memory service.
//
// Implementations must be safe for concurrent use by multiple buffers.
type Runtime interface {
	// Name returns a human-readable runtime name.
	Name() string

	// DeviceCount returns the number of addressable devices (ordinals 0..n-1).
	DeviceCount() int

	// Malloc allocates size bytes on device dev. Contents are unspecified.
	Malloc(dev, size int) (Ptr, error)

	// Free releases an allocation made by Malloc on dev.
	Free(dev int, p Ptr) error

	// Memset sets the first size bytes at p to value. Synchronous.
	Memset(dev int, p Ptr, value byte, size int) error

	// Memcpy copies len(host) bytes between host and the allocation at p.
	// It blocks until the transfer has completed.
	Memcpy(dev int, kind CopyKind, host []byte, p Ptr) error

	// MemcpyAsync enqueues a transfer on s and returns immediately.
	// The host slice must stay untouched until s.Synchronize returns.
	MemcpyAsync(kind CopyKind, host []byte, p Ptr, s Stream) error

	// NewStream creates an ordered work queue on device dev.
	NewStream(dev int) (Stream, error)

	// PointerDevice returns the ordinal of the device that owns p.
	PointerDevice(p Ptr) (int, error)
}

// Stream is an ordered device work queue.
// Operations enqueued on the same stream execute in issue order.
type Stream interface {
	// Device returns the ordinal the stream belongs to.
	Device() int

	// Synchronize blocks until every operation enqueued so far has completed.
	Synchronize() error

	// Release frees the stream. Pending work is completed first.
	Release() error
}

// CheckDevice validates dev against rt.DeviceCount.
func CheckDevice(rt Runtime, dev int) error {
	if dev < 0 || dev >= rt.DeviceCount() {
		return fmt.Errorf("%w: %d (runtime %s has %d)", ErrInvalidDevice, dev, rt.Name(), rt.DeviceCount())
	}
	return nil
}
