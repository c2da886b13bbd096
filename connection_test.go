package reactor

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// acceptOneConnection starts a listening socket, dials it once, and
// returns the accepted fd/addrs plus the dialed net.Conn (the test's
// handle on the peer side).
func acceptOneConnection(t *testing.T) (fd int, local, peer *net.TCPAddr, client net.Conn) {
	t.Helper()
	listenFd, boundAddr, err := newListenSocket("127.0.0.1:0", NoReusePort)
	require.NoError(t, err)
	defer closeFD(listenFd)

	accepted := make(chan struct {
		fd   int
		peer *net.TCPAddr
	}, 1)
	go func() {
		// Poll-free accept: the listening fd is non-blocking, so retry
		// briefly until the dial below lands.
		for i := 0; i < 200; i++ {
			connFd, p, err := acceptConn(listenFd)
			if err == nil {
				accepted <- struct {
					fd   int
					peer *net.TCPAddr
				}{connFd, p}
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	client, err = net.Dial("tcp", boundAddr.String())
	require.NoError(t, err)

	select {
	case a := <-accepted:
		local, err = getsockname(a.fd)
		require.NoError(t, err)
		return a.fd, local, a.peer, client
	case <-time.After(2 * time.Second):
		t.Fatal("accept did not complete")
		return 0, nil, nil, nil
	}
}

func TestConnectionEchoesSingleMessage(t *testing.T) {
	l := newTestLoop(t)
	done := startLoop(t, l)
	t.Cleanup(func() { l.Quit(); <-done })

	fd, local, peer, client := acceptOneConnection(t)
	defer client.Close()

	conn := newConnection(l, "test-conn", fd, local, peer, defaultHighWaterMark, nil, nil)
	received := make(chan string, 1)
	conn.SetMessageCallback(func(c *Connection, buf *Buffer, _ time.Time) {
		received <- buf.RetrieveAllAsString()
		c.Send([]byte("pong"))
	})
	l.RunInLoop(conn.establish)

	_, err := client.Write([]byte("ping"))
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, "ping", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("message callback did not fire")
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf[:n]))
}

func TestConnectionFiresConnectionCallbackOnEstablishAndClose(t *testing.T) {
	l := newTestLoop(t)
	done := startLoop(t, l)
	t.Cleanup(func() { l.Quit(); <-done })

	fd, local, peer, client := acceptOneConnection(t)

	states := make(chan ConnState, 2)
	conn := newConnection(l, "test-conn", fd, local, peer, defaultHighWaterMark, nil, nil)
	conn.SetConnectionCallback(func(c *Connection) {
		states <- ConnState(c.state.Load())
	})
	l.RunInLoop(conn.establish)

	select {
	case s := <-states:
		assert.Equal(t, StateConnected, s)
	case <-time.After(2 * time.Second):
		t.Fatal("connection callback did not fire on establish")
	}

	client.Close()

	select {
	case s := <-states:
		assert.Equal(t, StateDisconnected, s)
	case <-time.After(2 * time.Second):
		t.Fatal("connection callback did not fire on close")
	}
}

func TestConnectionHighWaterMarkFiresOnceOnUpwardCrossing(t *testing.T) {
	l := newTestLoop(t)
	done := startLoop(t, l)
	t.Cleanup(func() { l.Quit(); <-done })

	fd, local, peer, client := acceptOneConnection(t)
	defer client.Close()

	const mark = 16
	conn := newConnection(l, "test-conn", fd, local, peer, mark, nil, nil)
	crossings := make(chan int, 8)
	conn.SetHighWaterMarkCallback(func(c *Connection, size int) { crossings <- size })
	l.RunInLoop(conn.establish)

	// Don't read on the client side, so the server's writes back up in
	// its own output buffer once the kernel socket buffer fills.
	big := make([]byte, 1<<20)
	for i := 0; i < 4; i++ {
		conn.Send(big)
	}

	select {
	case size := <-crossings:
		assert.GreaterOrEqual(t, size, mark)
	case <-time.After(2 * time.Second):
		t.Fatal("high watermark callback did not fire")
	}

	select {
	case <-crossings:
		t.Fatal("high watermark callback fired more than once for a single upward crossing")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestConnectionShutdownIsIdempotent(t *testing.T) {
	l := newTestLoop(t)
	done := startLoop(t, l)
	t.Cleanup(func() { l.Quit(); <-done })

	fd, local, peer, client := acceptOneConnection(t)
	defer client.Close()

	conn := newConnection(l, "test-conn", fd, local, peer, defaultHighWaterMark, nil, nil)
	l.RunInLoop(conn.establish)

	conn.Shutdown()
	conn.Shutdown()
	conn.Shutdown()

	// The peer should observe EOF from the half-close; multiple Shutdown
	// calls must not panic or double-close the fd.
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	n, err := client.Read(buf)
	assert.Equal(t, 0, n)
	assert.Error(t, err)
}

func TestConnectionSendDropsDataWhenNotConnected(t *testing.T) {
	l := newTestLoop(t)
	done := startLoop(t, l)
	t.Cleanup(func() { l.Quit(); <-done })

	fd, local, peer, client := acceptOneConnection(t)
	defer client.Close()
	defer closeFD(fd)

	// Never call establish: the connection stays Connecting.
	conn := newConnection(l, "test-conn", fd, local, peer, defaultHighWaterMark, nil, nil)
	conn.Send([]byte("dropped"))

	_ = client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 1)
	_, err := client.Read(buf)
	assert.Error(t, err) // timeout, not data
}
