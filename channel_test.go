package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoop(t *testing.T) *Loop {
	t.Helper()
	l, err := NewLoop()
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestChannelInterestMaskMutators(t *testing.T) {
	l := newTestLoop(t)
	r, w, err := newPipePair()
	require.NoError(t, err)
	defer closeFD(r)
	defer closeFD(w)

	ch := NewChannel(l, r)
	assert.True(t, ch.IsNoneEvent())

	ch.EnableReading()
	assert.True(t, ch.IsReading())
	assert.False(t, ch.IsWriting())

	ch.EnableWriting()
	assert.True(t, ch.IsWriting())

	ch.DisableWriting()
	assert.False(t, ch.IsWriting())

	ch.DisableAll()
	assert.True(t, ch.IsNoneEvent())
}

func TestChannelHandleEventDispatchOrder(t *testing.T) {
	l := newTestLoop(t)
	ch := NewChannel(l, 0)

	var order []string
	ch.SetCloseCallback(func() { order = append(order, "close") })
	ch.SetErrorCallback(func() { order = append(order, "error") })
	ch.SetReadCallback(func(int64) { order = append(order, "read") })
	ch.SetWriteCallback(func() { order = append(order, "write") })

	// Hangup without readable takes precedence over everything else: only
	// the close callback runs.
	ch.setRevents(EventHangup | EventError | EventWrite)
	ch.HandleEvent(0)
	assert.Equal(t, []string{"close"}, order)
}

func TestChannelHandleEventSuppressesCloseWhenReadable(t *testing.T) {
	l := newTestLoop(t)
	ch := NewChannel(l, 0)

	var order []string
	ch.SetCloseCallback(func() { order = append(order, "close") })
	ch.SetReadCallback(func(int64) { order = append(order, "read") })

	ch.setRevents(EventHangup | EventRead)
	ch.HandleEvent(0)
	assert.Equal(t, []string{"read"}, order)
}
