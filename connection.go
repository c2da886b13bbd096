package reactor

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

// ConnState is a Connection's position in its four-state lifecycle.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ConnectionCallback fires when a Connection becomes Connected and again
// when it becomes Disconnected.
type ConnectionCallback func(conn *Connection)

// MessageCallback fires whenever bytes are read from the peer. The
// callback must drain the bytes it consumes from buf via buf.Retrieve
// (or one of the RetrieveX helpers).
type MessageCallback func(conn *Connection, buf *Buffer, receiveTime time.Time)

// WriteCompleteCallback fires once the output buffer fully drains.
type WriteCompleteCallback func(conn *Connection)

// HighWaterMarkCallback fires on each upward crossing of the configured
// high-watermark threshold.
type HighWaterMarkCallback func(conn *Connection, currentSize int)

// Connection is a single accepted TCP connection, pinned to the I/O Loop
// that constructed it for its entire lifetime.
type Connection struct {
	loop *Loop
	name string
	fd   int

	channel    *Channel
	localAddr  *net.TCPAddr
	peerAddr   *net.TCPAddr

	state atomic.Int32

	inputBuffer   *Buffer
	outputBuffer  *Buffer
	highWaterMark int
	faulted       bool

	connectionCallback     ConnectionCallback
	messageCallback        MessageCallback
	writeCompleteCallback  WriteCompleteCallback
	highWaterMarkCallback  HighWaterMarkCallback
	closeCallback          func(*Connection)

	logger  *logiface.Logger[*izerolog.Event]
	metrics *serverMetrics
}

// newConnection binds fd to a fresh Channel on loop, installs the four
// internal handlers, and enables TCP keep-alive. Initial state is
// Connecting. The caller is responsible for calling establish once the
// Connection has been registered wherever it needs to be found (e.g. the
// Server's name map) and the loop is ready to run callbacks.
func newConnection(loop *Loop, name string, fd int, local, peer *net.TCPAddr, highWaterMark int, logger *logiface.Logger[*izerolog.Event], metrics *serverMetrics) *Connection {
	if logger == nil {
		logger = disabledLogger
	}
	c := &Connection{
		loop:          loop,
		name:          name,
		fd:            fd,
		localAddr:     local,
		peerAddr:      peer,
		inputBuffer:   NewBuffer(),
		outputBuffer:  NewBuffer(),
		highWaterMark: highWaterMark,
		logger:        logger,
		metrics:       metrics,
	}
	c.state.Store(int32(StateConnecting))

	c.channel = NewChannel(loop, fd)
	c.channel.SetOwner(c)
	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetCloseCallback(c.handleClose)
	c.channel.SetErrorCallback(c.handleError)

	_ = setKeepAlive(fd)

	return c
}

// Name returns the connection's unique name, "<server>-<ip:port>#<seq>".
func (c *Connection) Name() string { return c.name }

// LocalAddr returns the locally bound address.
func (c *Connection) LocalAddr() *net.TCPAddr { return c.localAddr }

// PeerAddr returns the remote peer's address.
func (c *Connection) PeerAddr() *net.TCPAddr { return c.peerAddr }

// Connected reports whether the connection is currently in the
// Connected state. Safe to call from any goroutine.
func (c *Connection) Connected() bool {
	return ConnState(c.state.Load()) == StateConnected
}

// GetLoop returns the I/O Loop this connection is pinned to.
func (c *Connection) GetLoop() *Loop { return c.loop }

// SetConnectionCallback installs the connect/disconnect notification.
func (c *Connection) SetConnectionCallback(cb ConnectionCallback) { c.connectionCallback = cb }

// SetMessageCallback installs the inbound-data handler.
func (c *Connection) SetMessageCallback(cb MessageCallback) { c.messageCallback = cb }

// SetWriteCompleteCallback installs the output-buffer-drained handler.
func (c *Connection) SetWriteCompleteCallback(cb WriteCompleteCallback) {
	c.writeCompleteCallback = cb
}

// SetHighWaterMarkCallback installs the upward-crossing notification.
func (c *Connection) SetHighWaterMarkCallback(cb HighWaterMarkCallback) {
	c.highWaterMarkCallback = cb
}

// setCloseCallback installs the server's internal teardown hook; not
// part of the public API.
func (c *Connection) setCloseCallback(cb func(*Connection)) { c.closeCallback = cb }

// establish transitions Connecting -> Connected, enables reading, and
// invokes the user connection callback. Must run on the connection's
// loop.
func (c *Connection) establish() {
	c.state.Store(int32(StateConnected))
	c.channel.EnableReading()
	if c.connectionCallback != nil {
		c.connectionCallback(c)
	}
	if c.metrics != nil {
		c.metrics.connectionsActive.Inc()
	}
}

func (c *Connection) handleRead(when int64) {
	n, err := c.inputBuffer.ReadFromFD(c.fd)
	switch {
	case n > 0:
		if c.metrics != nil {
			c.metrics.bytesReadTotal.Add(float64(n))
		}
		if c.messageCallback != nil {
			c.messageCallback(c, c.inputBuffer, time.Unix(0, when))
		}
	case n == 0:
		c.handleClose()
	default:
		c.logger.Err().Err(err).Str("conn", c.name).Log("reactor: read error")
		c.handleError()
	}
}

func (c *Connection) handleWrite() {
	if !c.channel.IsWriting() {
		return
	}
	n, err := c.outputBuffer.WriteToFD(c.fd)
	if err != nil {
		if err != unix.EAGAIN {
			c.logger.Warning().Err(err).Str("conn", c.name).Log("reactor: write error")
		}
		return
	}
	if c.metrics != nil {
		c.metrics.bytesWrittenTotal.Add(float64(n))
	}
	c.outputBuffer.Retrieve(n)
	if c.outputBuffer.ReadableBytes() == 0 {
		c.channel.DisableWriting()
		if c.writeCompleteCallback != nil {
			cb := c.writeCompleteCallback
			c.loop.QueueInLoop(func() { cb(c) })
		}
		if ConnState(c.state.Load()) == StateDisconnecting {
			c.shutdownInLoop()
		}
	}
}

func (c *Connection) handleClose() {
	if ConnState(c.state.Load()) == StateDisconnected {
		return
	}
	c.state.Store(int32(StateDisconnected))
	c.channel.DisableAll()

	if c.connectionCallback != nil {
		c.connectionCallback(c)
	}
	if c.metrics != nil {
		c.metrics.connectionsActive.Dec()
	}
	if c.closeCallback != nil {
		c.closeCallback(c)
	}
}

func (c *Connection) handleError() {
	_ = socketError(c.fd)
	c.logger.Warning().Str("conn", c.name).Log("reactor: socket error")
}

// Send queues bytes for delivery to the peer. Callable from any
// goroutine. If the connection is not Connected, data is silently
// dropped.
func (c *Connection) Send(data []byte) {
	if ConnState(c.state.Load()) != StateConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(data)
		return
	}
	payload := append([]byte(nil), data...)
	c.loop.QueueInLoop(func() { c.sendInLoop(payload) })
}

func (c *Connection) sendInLoop(data []byte) {
	if ConnState(c.state.Load()) == StateDisconnected {
		return
	}

	var (
		written int
		err     error
	)
	if c.outputBuffer.ReadableBytes() == 0 && !c.channel.IsWriting() {
		written, err = unix.Write(c.fd, data)
		if err != nil {
			written = 0
			if err != unix.EAGAIN {
				if err == unix.EPIPE || err == unix.ECONNRESET {
					c.faulted = true
				} else {
					c.logger.Err().Err(err).Str("conn", c.name).Log("reactor: write failed")
					c.faulted = true
				}
				return
			}
		} else if c.metrics != nil {
			c.metrics.bytesWrittenTotal.Add(float64(written))
		}

		if written == len(data) {
			if c.writeCompleteCallback != nil {
				cb := c.writeCompleteCallback
				c.loop.QueueInLoop(func() { cb(c) })
			}
			return
		}
	}

	if c.faulted {
		return
	}

	remaining := data[written:]
	before := c.outputBuffer.ReadableBytes()
	c.outputBuffer.Append(remaining)
	after := c.outputBuffer.ReadableBytes()

	if before < c.highWaterMark && after >= c.highWaterMark {
		if c.metrics != nil {
			c.metrics.highWaterMarkTotal.Inc()
		}
		if c.highWaterMarkCallback != nil {
			cb := c.highWaterMarkCallback
			size := after
			c.loop.QueueInLoop(func() { cb(c, size) })
		}
	}

	if !c.channel.IsWriting() {
		c.channel.EnableWriting()
	}
}

// Shutdown transitions Connected -> Disconnecting and schedules the
// half-close, which only takes effect immediately if there is no
// pending outbound data; otherwise the write handler performs it once
// the output buffer drains. Calling Shutdown more than once results in
// at most one shutdown(WR) syscall, since the second call observes a
// state other than Connected.
func (c *Connection) Shutdown() {
	if !c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnecting)) {
		return
	}
	c.loop.RunInLoop(c.shutdownInLoop)
}

func (c *Connection) shutdownInLoop() {
	if !c.channel.IsWriting() {
		_ = shutdownWrite(c.fd)
	}
}

// connectDestroyed is scheduled by the Server's remove_connection on
// this connection's own loop. If still Connected it routes through the
// same teardown handleClose uses, then removes the Channel from the
// Poller entirely.
func (c *Connection) connectDestroyed() {
	if ConnState(c.state.Load()) == StateConnected {
		c.state.Store(int32(StateDisconnected))
		c.channel.DisableAll()
		if c.connectionCallback != nil {
			c.connectionCallback(c)
		}
		if c.metrics != nil {
			c.metrics.connectionsActive.Dec()
		}
	}
	c.channel.Remove()
	_ = unix.Close(c.fd)
}
