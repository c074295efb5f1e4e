package sim

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/syncedmem/internal/device"
)

func TestStreamDefersUntilSynchronize(t *testing.T) {
	rt := newTestRuntime(t, 1)

	p, err := rt.Malloc(0, 64)
	require.NoError(t, err)

	s, err := rt.NewStream(0)
	require.NoError(t, err)
	defer s.Release()

	src := bytes.Repeat([]byte{0xCD}, 64)
	require.NoError(t, rt.MemcpyAsync(device.HostToDevice, src, p, s))

	stream := s.(*Stream)
	assert.Equal(t, 1, stream.Pending())

	before, err := rt.Snapshot(p)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 64), before, "copy must not land before the barrier")
	assert.Equal(t, int64(0), rt.Stats().HostToDevice)
	assert.Equal(t, int64(1), rt.Stats().AsyncIssued)

	require.NoError(t, s.Synchronize())
	assert.Equal(t, 0, stream.Pending())

	after, err := rt.Snapshot(p)
	require.NoError(t, err)
	assert.Equal(t, src, after)
	assert.Equal(t, int64(1), rt.Stats().HostToDevice)
}

func TestStreamPreservesOrder(t *testing.T) {
	rt := newTestRuntime(t, 1)

	p, err := rt.Malloc(0, 4)
	require.NoError(t, err)
	s, err := rt.NewStream(0)
	require.NoError(t, err)

	first := []byte{1, 1, 1, 1}
	second := []byte{2, 2, 2, 2}
	require.NoError(t, rt.MemcpyAsync(device.HostToDevice, first, p, s))
	require.NoError(t, rt.MemcpyAsync(device.HostToDevice, second, p, s))

	back := make([]byte, 4)
	require.NoError(t, rt.MemcpyAsync(device.DeviceToHost, back, p, s))
	require.NoError(t, s.Synchronize())

	assert.Equal(t, second, back)
}

func TestStreamReadsHostAtExecution(t *testing.T) {
	rt := newTestRuntime(t, 1)

	p, err := rt.Malloc(0, 2)
	require.NoError(t, err)
	s, err := rt.NewStream(0)
	require.NoError(t, err)

	host := []byte{1, 2}
	require.NoError(t, rt.MemcpyAsync(device.HostToDevice, host, p, s))
	host[0] = 9 // Caller broke the contract: mutation before the barrier is visible.
	require.NoError(t, s.Synchronize())

	got, err := rt.Snapshot(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 2}, got)
}

func TestStreamRelease(t *testing.T) {
	rt := newTestRuntime(t, 1)

	p, err := rt.Malloc(0, 1)
	require.NoError(t, err)
	s, err := rt.NewStream(0)
	require.NoError(t, err)

	require.NoError(t, rt.MemcpyAsync(device.HostToDevice, []byte{7}, p, s))
	require.NoError(t, s.Release(), "release drains pending work")

	got, err := rt.Snapshot(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, got)

	assert.ErrorIs(t, s.Synchronize(), device.ErrStreamReleased)
	assert.ErrorIs(t, rt.MemcpyAsync(device.HostToDevice, []byte{8}, p, s), device.ErrStreamReleased)
	assert.NoError(t, s.Release(), "second release is a no-op")
}

func TestStreamForeignRuntime(t *testing.T) {
	a := newTestRuntime(t, 1)
	b := newTestRuntime(t, 1)

	p, err := a.Malloc(0, 1)
	require.NoError(t, err)
	s, err := b.NewStream(0)
	require.NoError(t, err)

	assert.Error(t, a.MemcpyAsync(device.HostToDevice, []byte{1}, p, s))
}

func TestStreamDeviceMismatch(t *testing.T) {
	rt := newTestRuntime(t, 2)

	p, err := rt.Malloc(0, 1)
	require.NoError(t, err)
	s, err := rt.NewStream(1)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Device())

	err = rt.MemcpyAsync(device.HostToDevice, []byte{1}, p, s)
	assert.ErrorIs(t, err, device.ErrDeviceMismatch)

	_, err = rt.NewStream(5)
	assert.ErrorIs(t, err, device.ErrInvalidDevice)
}

func TestStreamOpOnFreedPointer(t *testing.T) {
	rt := newTestRuntime(t, 1)

	p, err := rt.Malloc(0, 16)
	require.NoError(t, err)
	s, err := rt.NewStream(0)
	require.NoError(t, err)

	require.NoError(t, rt.MemcpyAsync(device.HostToDevice, make([]byte, 16), p, s))
	require.NoError(t, rt.Free(0, p))

	assert.ErrorIs(t, s.Synchronize(), device.ErrInvalidPointer, "queued copy must not write freed memory")
	assert.Equal(t, int64(0), rt.Stats().HostToDevice)
}
