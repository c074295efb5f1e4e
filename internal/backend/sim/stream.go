package sim

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/born-ml/syncedmem/internal/device"
)

// Stream is an ordered queue of pending device operations.
// Operations run in issue order when Synchronize (or Release) is called.
type Stream struct {
	rt  *Runtime
	dev int

	mu       sync.Mutex
	pending  *queue.Queue // of func() error
	released bool
}

// Verify interface compliance.
var _ device.Stream = (*Stream)(nil)

func newStream(rt *Runtime, dev int) *Stream {
	return &Stream{
		rt:      rt,
		dev:     dev,
		pending: queue.New(),
	}
}

// Device returns the ordinal the stream belongs to.
func (s *Stream) Device() int {
	return s.dev
}

// Pending returns the number of operations not yet executed.
func (s *Stream) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Length()
}

// Synchronize executes every pending operation in issue order.
// It stops at the first failing operation; the rest stay queued.
func (s *Stream) Synchronize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return device.ErrStreamReleased
	}
	return s.drainLocked()
}

// Release completes pending work and closes the stream.
func (s *Stream) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	err := s.drainLocked()
	s.released = true
	return err
}

func (s *Stream) enqueue(op func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return device.ErrStreamReleased
	}
	s.pending.Add(op)
	return nil
}

// drainLocked runs queued operations (must hold mu).
func (s *Stream) drainLocked() error {
	for s.pending.Length() > 0 {
		op := s.pending.Peek().(func() error)
		if err := op(); err != nil {
			return err
		}
		s.pending.Remove()
	}
	return nil
}
