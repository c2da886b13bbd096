package reactor

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
)

// ThreadInitCallback is invoked once per worker loop, on that loop's own
// goroutine, right after it is constructed and before it starts serving
// I/O.
type ThreadInitCallback func(loop *Loop)

// Server wires an Acceptor to a LoopPool to Connection construction,
// tracks live connections by name, and exposes the user-facing
// callbacks.
type Server struct {
	baseLoop *Loop
	name     string
	addr     string

	pool     *LoopPool
	acceptor *Acceptor

	logger  *logiface.Logger[*izerolog.Event]
	metrics *serverMetrics

	highWaterMark int

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	highWaterMarkCallback HighWaterMarkCallback
	threadInitCallback    ThreadInitCallback

	mu          sync.Mutex
	connections map[string]*Connection
	nextConnID  atomic.Uint64

	started atomic.Int32
}

// NewServer constructs a Server listening on addr, with baseLoop hosting
// its Acceptor. It does not start listening; call Start for that.
func NewServer(baseLoop *Loop, addr string, name string, opts ...ServerOption) (*Server, error) {
	cfg := resolveServerOptions(opts)

	metrics := newServerMetrics()

	acceptor, err := NewAcceptor(baseLoop, addr, cfg.portReuse, cfg.logger, cfg.acceptRateLimiter, metrics)
	if err != nil {
		return nil, err
	}

	s := &Server{
		baseLoop:      baseLoop,
		name:          name,
		addr:          addr,
		pool:          NewLoopPool(baseLoop, name),
		acceptor:      acceptor,
		logger:        cfg.logger,
		metrics:       metrics,
		highWaterMark: cfg.highWaterMark,
		connections:   make(map[string]*Connection),
	}
	s.metrics.register(cfg.registerer)
	acceptor.SetNewConnectionCallback(s.newConnection)

	return s, nil
}

// SetThreadNum forwards to the underlying LoopPool; must be called
// before Start.
func (s *Server) SetThreadNum(n int) { s.pool.SetThreadNum(n) }

// SetConnectionCallback installs the default connect/disconnect handler
// for every Connection this server creates.
func (s *Server) SetConnectionCallback(cb ConnectionCallback) { s.connectionCallback = cb }

// SetMessageCallback installs the default inbound-data handler.
func (s *Server) SetMessageCallback(cb MessageCallback) { s.messageCallback = cb }

// SetWriteCompleteCallback installs the default output-drained handler.
func (s *Server) SetWriteCompleteCallback(cb WriteCompleteCallback) { s.writeCompleteCallback = cb }

// SetHighWaterMarkCallback installs the default high-watermark handler.
func (s *Server) SetHighWaterMarkCallback(cb HighWaterMarkCallback) { s.highWaterMarkCallback = cb }

// SetThreadInitCallback installs a hook run once per worker loop.
func (s *Server) SetThreadInitCallback(cb ThreadInitCallback) { s.threadInitCallback = cb }

// Start is idempotent: only the first call starts the LoopPool and
// schedules the Acceptor's Listen on the base loop.
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(0, 1) {
		return nil
	}

	s.baseLoop.SetTickObserver(s.observeTick(s.baseLoop))

	if err := s.pool.Start(func(loop *Loop) {
		loop.SetTickObserver(s.observeTick(loop))
		if s.threadInitCallback != nil {
			s.threadInitCallback(loop)
		}
	}); err != nil {
		return err
	}

	s.baseLoop.RunInLoop(s.acceptor.Listen)
	return nil
}

// observeTick returns a closure feeding reactor_loop_tick_duration_seconds
// for the given loop, labelled by its diagnostic name.
func (s *Server) observeTick(loop *Loop) func(time.Duration) {
	if s.metrics == nil {
		return nil
	}
	return func(d time.Duration) {
		s.metrics.loopTickDuration.WithLabelValues(loop.Name()).Observe(d.Seconds())
	}
}

func (s *Server) newConnection(fd int, peer *net.TCPAddr) {
	loop := s.pool.NextLoop()

	local, err := getsockname(fd)
	if err != nil {
		s.logger.Warning().Err(err).Log("reactor: getsockname failed, closing accepted connection")
		_ = closeFD(fd)
		return
	}

	id := s.nextConnID.Add(1)
	name := fmt.Sprintf("%s-%s#%d", s.name, addrString(peer), id)

	conn := newConnection(loop, name, fd, local, peer, s.highWaterMark, s.logger, s.metrics)
	conn.SetConnectionCallback(s.connectionCallback)
	conn.SetMessageCallback(s.messageCallback)
	conn.SetWriteCompleteCallback(s.writeCompleteCallback)
	conn.SetHighWaterMarkCallback(s.highWaterMarkCallback)
	conn.setCloseCallback(s.removeConnection)

	s.mu.Lock()
	s.connections[name] = conn
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.connectionsTotal.WithLabelValues(loop.name).Inc()
	}

	loop.RunInLoop(conn.establish)
}

// removeConnection hops to the base loop (the map is owned there), drops
// the entry, then schedules connectDestroyed on the connection's own
// loop.
func (s *Server) removeConnection(conn *Connection) {
	s.baseLoop.RunInLoop(func() {
		s.mu.Lock()
		delete(s.connections, conn.Name())
		s.mu.Unlock()
		conn.GetLoop().QueueInLoop(conn.connectDestroyed)
	})
}

// Connections returns a snapshot of the currently tracked connections,
// keyed by name.
func (s *Server) Connections() map[string]*Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*Connection, len(s.connections))
	for k, v := range s.connections {
		out[k] = v
	}
	return out
}

// Close tears down every tracked connection and the Acceptor: iterate
// the map, clear each entry, schedule connectDestroyed on the
// respective loop.
func (s *Server) Close() error {
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.connections = make(map[string]*Connection)
	s.mu.Unlock()

	for _, c := range conns {
		c := c
		c.GetLoop().QueueInLoop(c.connectDestroyed)
	}

	result := make(chan error, 1)
	s.baseLoop.RunInLoop(func() {
		result <- s.acceptor.Close()
	})
	return <-result
}
