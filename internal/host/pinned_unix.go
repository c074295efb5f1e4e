//go:build linux || darwin || freebsd

package host

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func pinnedSupported() bool {
	return true
}

// allocPinned maps anonymous pages and locks them in physical memory.
// The mapping is rounded up to whole pages; the returned slice has cap of the mapping.
func allocPinned(size int) ([]byte, error) {
	page := unix.Getpagesize()
	n := (size + page - 1) / page * page

	b, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", n, err)
	}
	if err := unix.Mlock(b); err != nil {
		_ = unix.Munmap(b)
		return nil, fmt.Errorf("mlock %d bytes: %w", n, err)
	}
	return b[:size], nil
}

// freePinned unlocks and unmaps a mapping returned by allocPinned.
func freePinned(b []byte) error {
	b = b[:cap(b)]
	if err := unix.Munlock(b); err != nil {
		return fmt.Errorf("%w: munlock: %w", ErrHostFree, err)
	}
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("%w: munmap: %w", ErrHostFree, err)
	}
	return nil
}
