package reactor

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcceptorAcceptsConnection(t *testing.T) {
	l := newTestLoop(t)
	done := startLoop(t, l)
	t.Cleanup(func() { l.Quit(); <-done })

	a, err := NewAcceptor(l, "127.0.0.1:0", NoReusePort, nil, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { l.RunInLoop(func() { _ = a.Close() }) })

	local, err := getsockname(a.listenFd)
	require.NoError(t, err)

	accepted := make(chan int, 1)
	a.SetNewConnectionCallback(func(fd int, peer *net.TCPAddr) {
		accepted <- fd
		assert.NotNil(t, peer)
	})
	l.RunInLoop(a.Listen)

	conn, err := net.Dial("tcp", local.String())
	require.NoError(t, err)
	defer conn.Close()

	select {
	case fd := <-accepted:
		assert.Greater(t, fd, 0)
		_ = closeFD(fd)
	case <-time.After(2 * time.Second):
		t.Fatal("acceptor did not accept connection")
	}
}

func TestAcceptorClosesUnhandledConnectionWhenNoCallbackSet(t *testing.T) {
	l := newTestLoop(t)
	done := startLoop(t, l)
	t.Cleanup(func() { l.Quit(); <-done })

	a, err := NewAcceptor(l, "127.0.0.1:0", NoReusePort, nil, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { l.RunInLoop(func() { _ = a.Close() }) })

	local, err := getsockname(a.listenFd)
	require.NoError(t, err)
	l.RunInLoop(a.Listen)

	conn, err := net.Dial("tcp", local.String())
	require.NoError(t, err)
	defer conn.Close()

	// With no connection callback installed, the Acceptor closes the
	// accepted fd immediately; the peer should observe EOF.
	buf := make([]byte, 1)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	assert.Equal(t, 0, n)
	assert.Error(t, err)
}
