package fatal

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestCheckNil(t *testing.T) {
	err := Recover(func() {
		Check(nil, nil, "alloc of %d bytes", 16)
	})
	assert.NoError(t, err)
}

func TestCheckPanics(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	err := Recover(func() {
		Check(logger, errBoom, "alloc of %d bytes", 16)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "alloc of 16 bytes")
	assert.False(t, IsAssertion(err))
	assert.Contains(t, logs.String(), "alloc of 16 bytes")
	assert.Contains(t, logs.String(), "level=ERROR")
}

func TestAssertf(t *testing.T) {
	err := Recover(func() {
		Assertf(slog.New(slog.DiscardHandler), errBoom, "device %d != %d", 1, 0)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.True(t, IsAssertion(err))
	assert.Contains(t, err.Error(), "device 1 != 0")
}

func TestRecoverNonError(t *testing.T) {
	assert.PanicsWithValue(t, "plain", func() {
		_ = Recover(func() { panic("plain") })
	})
}
