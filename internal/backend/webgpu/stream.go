//go:build windows

package webgpu

import (
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/born-ml/syncedmem/internal/device"
)

// Stream batches copy commands and submits them together.
// Commands are submitted on Synchronize, or earlier once Config.MaxBatchSize is reached.
type Stream struct {
	rt  *Runtime
	dev int

	mu       sync.Mutex
	pending  []*wgpu.CommandBuffer
	staging  []*wgpu.Buffer // Upload sources kept alive until the batch completes.
	released bool
}

// Verify interface compliance.
var _ device.Stream = (*Stream)(nil)

func newStream(rt *Runtime, dev int) *Stream {
	return &Stream{rt: rt, dev: dev}
}

// Device returns the ordinal the stream belongs to.
func (s *Stream) Device() int {
	return s.dev
}

// Pending returns the number of recorded commands not yet submitted.
func (s *Stream) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Synchronize submits pending commands and waits for the GPU to finish them.
func (s *Stream) Synchronize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return device.ErrStreamReleased
	}
	return s.finishLocked()
}

// Release completes pending work and closes the stream.
func (s *Stream) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	err := s.finishLocked()
	s.released = true
	return err
}

// record appends cmd to the batch. staging is released once the batch completes.
func (s *Stream) record(cmd *wgpu.CommandBuffer, staging *wgpu.Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return device.ErrStreamReleased
	}

	s.pending = append(s.pending, cmd)
	s.staging = append(s.staging, staging)

	// Auto-flush if batch size limit is reached (0 = no limit).
	if n := s.rt.cfg.MaxBatchSize; n > 0 && len(s.pending) >= n {
		s.submitLocked()
	}
	return nil
}

// submitLocked hands the batch to the queue without waiting (must hold mu).
func (s *Stream) submitLocked() {
	if len(s.pending) == 0 {
		return
	}
	s.rt.queue.Submit(s.pending...)
	s.pending = s.pending[:0]
}

// finishLocked submits the batch, waits, and drops the staging buffers (must hold mu).
func (s *Stream) finishLocked() error {
	s.submitLocked()
	if len(s.staging) == 0 {
		return nil
	}
	if err := s.rt.wait(); err != nil {
		return err
	}
	for _, b := range s.staging {
		b.Release()
	}
	s.staging = s.staging[:0]
	return nil
}
