package memory

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/syncedmem/internal/backend/sim"
	"github.com/born-ml/syncedmem/internal/device"
	"github.com/born-ml/syncedmem/internal/fatal"
	"github.com/born-ml/syncedmem/internal/host"
)

func TestDeviceIDRecordedOnFirstUse(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := env.ctx.OnDevice(2)

	b := New(8)
	defer b.Release()
	b.MutableDeviceView(ctx)

	id, bound := b.DeviceID()
	require.True(t, bound)
	assert.Equal(t, 2, id)

	p, _ := b.DevicePointer()
	dev, err := env.rt.PointerDevice(p)
	require.NoError(t, err)
	assert.Equal(t, 2, dev, "memory allocated on the context device")
}

func TestDeviceMismatchIsFatal(t *testing.T) {
	env := newTestEnv(t, 2)
	b := New(8)
	defer b.Release()

	b.MutableDeviceView(env.ctx)
	other := env.ctx.OnDevice(1)

	for name, op := range map[string]func(){
		"DeviceView":        func() { b.DeviceView(other) },
		"MutableDeviceView": func() { b.MutableDeviceView(other) },
		"AttachDevice":      func() { b.AttachDevice(other, device.Ptr(0x1000)) },
	} {
		t.Run(name, func(t *testing.T) {
			err := fatal.Recover(op)
			require.Error(t, err, "operation on another device must not return normally")
			assert.ErrorIs(t, err, device.ErrDeviceMismatch)
			assert.True(t, fatal.IsAssertion(err))
		})
	}

	id, _ := b.DeviceID()
	assert.Equal(t, 0, id, "device id never changes")
	assert.Equal(t, HeadAtDevice, b.Head())
}

func TestDeviceMismatchAfterHostRoundTrip(t *testing.T) {
	env := newTestEnv(t, 2)
	b := New(4)
	defer b.Release()

	copy(b.MutableHostView(env.ctx.OnDevice(1)), []byte{1, 2, 3, 4})
	b.DeviceView(env.ctx.OnDevice(1))

	// Host accessors are not device operations.
	b.MutableHostView(env.ctx)

	err := fatal.Recover(func() { b.DeviceView(env.ctx) })
	assert.ErrorIs(t, err, device.ErrDeviceMismatch)
}

func TestRuntimeMismatchIsFatal(t *testing.T) {
	env := newTestEnv(t, 1)
	b := New(4)
	defer b.Release()
	b.DeviceView(env.ctx)

	other, err := sim.New(sim.DefaultConfig())
	require.NoError(t, err)
	ctx := env.ctx
	ctx.Runtime = other

	err = fatal.Recover(func() { b.DeviceView(ctx) })
	assert.ErrorIs(t, err, device.ErrDeviceMismatch)
}

func TestInvalidDeviceOrdinalIsFatal(t *testing.T) {
	env := newTestEnv(t, 1)
	b := New(4)

	err := fatal.Recover(func() { b.DeviceView(env.ctx.OnDevice(3)) })
	assert.ErrorIs(t, err, device.ErrInvalidDevice)
	_, bound := b.DeviceID()
	assert.False(t, bound)
}

func TestDeviceOutOfMemoryIsFatal(t *testing.T) {
	env := newTestEnv(t, 1)
	rt, err := sim.New(sim.Config{Devices: 1, MemoryLimit: 64})
	require.NoError(t, err)
	ctx := env.ctx
	ctx.Runtime = rt

	b := New(65)
	err = fatal.Recover(func() { b.DeviceView(ctx) })
	assert.ErrorIs(t, err, device.ErrOutOfMemory)
	assert.Contains(t, err.Error(), "size 65")
	assert.False(t, fatal.IsAssertion(err), "exhaustion is not a usage error")
}

func TestAsyncPush(t *testing.T) {
	env := newTestEnv(t, 1)
	b := New(512)
	defer b.Release()

	pattern := bytes.Repeat([]byte{0x3C}, 512)
	copy(b.MutableHostView(env.ctx), pattern)

	s, err := env.rt.NewStream(0)
	require.NoError(t, err)
	defer s.Release()

	b.AsyncPush(env.ctx, s)
	assert.Equal(t, HeadAtHost, b.Head(), "async push never advances the head")
	assert.True(t, b.OwnsDevice())

	p, ok := b.DevicePointer()
	require.True(t, ok, "device memory allocated at issue time")

	// No barrier yet: the device allocation exists but the bytes have not landed.
	inFlight, err := env.rt.Snapshot(p)
	require.NoError(t, err)
	assert.Len(t, inFlight, 512)
	assert.NotEqual(t, pattern, inFlight)

	require.NoError(t, s.Synchronize())
	landed, err := env.rt.Snapshot(p)
	require.NoError(t, err)
	assert.Equal(t, pattern, landed)
	assert.Equal(t, HeadAtHost, b.Head(), "the barrier is the caller's, state is unchanged")

	// The next device read still synchronizes through the normal path.
	assert.Equal(t, p, b.DeviceView(env.ctx))
	assert.Equal(t, Synced, b.Head())
}

func TestAsyncPushReusesDeviceMemory(t *testing.T) {
	env := newTestEnv(t, 1)
	b := New(4)
	defer b.Release()

	p := b.MutableDeviceView(env.ctx)
	copy(b.MutableHostView(env.ctx), []byte{4, 3, 2, 1})

	s, err := env.rt.NewStream(0)
	require.NoError(t, err)
	b.AsyncPush(env.ctx, s)
	require.NoError(t, s.Release())

	got, _ := b.DevicePointer()
	assert.Equal(t, p, got)
	assert.Equal(t, 1, env.rt.Stats().LiveAllocations)

	snap, err := env.rt.Snapshot(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 3, 2, 1}, snap)
}

func TestAsyncPushRequiresHeadAtHost(t *testing.T) {
	env := newTestEnv(t, 1)
	s, err := env.rt.NewStream(0)
	require.NoError(t, err)

	for name, setup := range map[string]func(*Buffer){
		"uninitialized":  func(*Buffer) {},
		"head at device": func(b *Buffer) { b.MutableDeviceView(env.ctx) },
		"synced":         func(b *Buffer) { b.MutableHostView(env.ctx); b.DeviceView(env.ctx) },
	} {
		t.Run(name, func(t *testing.T) {
			b := New(4)
			defer b.Release()
			setup(b)

			err := fatal.Recover(func() { b.AsyncPush(env.ctx, s) })
			assert.ErrorIs(t, err, ErrNotHeadAtHost)
			assert.Zero(t, s.(*sim.Stream).Pending())
		})
	}
}

func TestAsyncPushStreamOnOtherDevice(t *testing.T) {
	env := newTestEnv(t, 2)
	b := New(4)
	defer b.Release()
	b.MutableHostView(env.ctx)

	s, err := env.rt.NewStream(1)
	require.NoError(t, err)

	err = fatal.Recover(func() { b.AsyncPush(env.ctx, s) })
	assert.ErrorIs(t, err, device.ErrDeviceMismatch)
}

func TestReleaseWaitsForAsyncPush(t *testing.T) {
	env := newTestEnv(t, 1)
	pinning := host.New(host.Config{Pinned: true, VectorAligned: true, Vector: env.mem})
	ctx := env.ctx
	ctx.Host = pinning

	b := New(4096)
	copy(b.MutableHostView(ctx), bytes.Repeat([]byte{0x5A}, 4096))

	s, err := env.rt.NewStream(0)
	require.NoError(t, err)
	b.AsyncPush(ctx, s)

	b.Release()
	assert.Zero(t, s.(*sim.Stream).Pending(), "release drains the pending push")
	assert.Equal(t, int64(1), env.rt.Stats().HostToDevice)
	require.NoError(t, s.Synchronize())
	require.NoError(t, s.Release())

	env.assertNoLeaks(t)
	assert.Equal(t, int64(0), pinning.Stats().PinnedBytes)
}

func TestAttachHostWaitsForAsyncPush(t *testing.T) {
	env := newTestEnv(t, 1)
	b := New(4)
	defer b.Release()
	copy(b.MutableHostView(env.ctx), []byte{1, 2, 3, 4})

	s, err := env.rt.NewStream(0)
	require.NoError(t, err)
	defer s.Release()
	b.AsyncPush(env.ctx, s)

	b.AttachHost(env.ctx, []byte{9, 9, 9, 9})

	p, _ := b.DevicePointer()
	snap, err := env.rt.Snapshot(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, snap, "pushed bytes landed before the host memory was freed")
	assert.Equal(t, 0, env.mem.CurrentAlloc())
}

func TestReleaseAfterStreamReleased(t *testing.T) {
	env := newTestEnv(t, 1)
	b := New(4)
	b.MutableHostView(env.ctx)

	s, err := env.rt.NewStream(0)
	require.NoError(t, err)
	b.AsyncPush(env.ctx, s)
	require.NoError(t, s.Release())

	assert.NotPanics(t, b.Release, "a released stream has nothing left to wait for")
	env.assertNoLeaks(t)
}

func TestMisusedAsyncPushLeavesDeviceUnbound(t *testing.T) {
	env := newTestEnv(t, 2)
	s, err := env.rt.NewStream(1)
	require.NoError(t, err)

	b := New(4)
	defer b.Release()
	err = fatal.Recover(func() { b.AsyncPush(env.ctx, s) })
	assert.ErrorIs(t, err, ErrNotHeadAtHost)

	_, bound := b.DeviceID()
	assert.False(t, bound, "a rejected push does not bind a device")

	b.MutableHostView(env.ctx.OnDevice(1))
	b.AsyncPush(env.ctx.OnDevice(1), s)
	id, _ := b.DeviceID()
	assert.Equal(t, 1, id)
	require.NoError(t, s.Release())
}
