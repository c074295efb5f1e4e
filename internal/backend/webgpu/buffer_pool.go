//go:build windows

package webgpu

import (
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"
)

// sizeClass groups pooled buffers so a lookup only scans buffers of similar size.
type sizeClass int

const (
	smallClass sizeClass = iota
	mediumClass
	largeClass
	numClasses
)

const (
	smallThreshold  = 4 * 1024
	mediumThreshold = 1024 * 1024
	maxPooled       = 64 // Per class.
)

type pooledBuffer struct {
	buffer *wgpu.Buffer
	size   uint64
}

// bufferPool recycles device buffers released by Free.
// All pooled buffers share storageUsage, so only size has to match.
type bufferPool struct {
	device *wgpu.Device

	mu      sync.Mutex
	classes [numClasses][]pooledBuffer

	created uint64
	hits    uint64
	misses  uint64
}

func newBufferPool(device *wgpu.Device) *bufferPool {
	return &bufferPool{device: device}
}

// acquire returns a buffer of exactly size bytes, reusing a pooled one when possible.
// Exact sizes keep CopyBufferToBuffer ranges equal to the allocation.
func (p *bufferPool) acquire(size uint64) *wgpu.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := classOf(size)
	for i, pb := range p.classes[c] {
		if pb.size == size {
			p.classes[c] = append(p.classes[c][:i], p.classes[c][i+1:]...)
			p.hits++
			return pb.buffer
		}
	}

	p.misses++
	p.created++
	return p.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: storageUsage,
		Size:  size,
	})
}

// release returns buffer to the pool, or destroys it when its class is full.
func (p *bufferPool) release(buffer *wgpu.Buffer, size uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := classOf(size)
	if len(p.classes[c]) >= maxPooled {
		buffer.Release()
		return
	}
	p.classes[c] = append(p.classes[c], pooledBuffer{buffer: buffer, size: size})
}

// clear destroys every pooled buffer.
func (p *bufferPool) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for c := range p.classes {
		for _, pb := range p.classes[c] {
			pb.buffer.Release()
		}
		p.classes[c] = nil
	}
}

func (p *bufferPool) stats() (created, hits, misses uint64, pooled int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for c := range p.classes {
		pooled += len(p.classes[c])
	}
	return p.created, p.hits, p.misses, pooled
}

func classOf(size uint64) sizeClass {
	switch {
	case size < smallThreshold:
		return smallClass
	case size < mediumThreshold:
		return mediumClass
	default:
		return largeClass
	}
}
