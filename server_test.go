package reactor

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, threads int) (*Server, *Loop) {
	t.Helper()
	base := newTestLoop(t)
	srv, err := NewServer(base, "127.0.0.1:0", "test", WithMetricsRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	srv.SetThreadNum(threads)
	srv.SetMessageCallback(func(c *Connection, buf *Buffer, _ time.Time) {
		c.Send([]byte(buf.RetrieveAllAsString()))
	})
	require.NoError(t, srv.Start())

	done := startLoop(t, base)
	t.Cleanup(func() {
		_ = srv.Close()
		base.Quit()
		<-done
		for _, l := range srv.pool.AllLoops() {
			l.Quit()
		}
	})
	return srv, base
}

func dialServer(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	local, err := getsockname(srv.acceptor.listenFd)
	require.NoError(t, err)
	conn, err := net.Dial("tcp", local.String())
	require.NoError(t, err)
	return conn
}

func TestServerEchoesSingleMessageEndToEnd(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	conn := dialServer(t, srv)
	defer conn.Close()

	_, err := conn.Write([]byte("hello"))
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 5)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestServerNamesConnectionsUniquely(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	var conns []net.Conn
	for i := 0; i < 3; i++ {
		c := dialServer(t, srv)
		conns = append(conns, c)
		defer c.Close()
		_, _ = c.Write([]byte("x"))
		buf := make([]byte, 1)
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err := c.Read(buf)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return len(srv.Connections()) == 3
	}, 2*time.Second, 10*time.Millisecond)

	names := make(map[string]bool)
	for name := range srv.Connections() {
		assert.False(t, names[name], "duplicate connection name %q", name)
		names[name] = true
	}
}

func TestServerDistributesConnectionsAcrossWorkerLoops(t *testing.T) {
	srv, _ := newTestServer(t, 3)

	var conns []net.Conn
	var mu sync.Mutex
	for i := 0; i < 9; i++ {
		c := dialServer(t, srv)
		mu.Lock()
		conns = append(conns, c)
		mu.Unlock()
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	require.Eventually(t, func() bool {
		return len(srv.Connections()) == 9
	}, 2*time.Second, 10*time.Millisecond)

	loops := make(map[*Loop]int)
	for _, c := range srv.Connections() {
		loops[c.GetLoop()]++
	}
	assert.Len(t, loops, 3)
	for _, count := range loops {
		assert.Equal(t, 3, count)
	}
}

func TestServerCloseTearsDownEchoedConnection(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	conn := dialServer(t, srv)
	defer conn.Close()

	_, err := conn.Write([]byte("drain-me"))
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 8)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "drain-me", string(buf[:n]))

	require.NoError(t, srv.Close())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(buf)
	assert.Error(t, err) // EOF: server side torn down
}
