package reactor

import (
	"net"
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

// NewConnectionCallback is invoked on the base loop when the Acceptor
// accepts a new connection.
type NewConnectionCallback func(fd int, peer *net.TCPAddr)

// Acceptor owns the listening socket and the Channel that watches it for
// read readiness.
type Acceptor struct {
	loop     *Loop
	listenFd int
	channel  *Channel
	logger   *logiface.Logger[*izerolog.Event]
	limiter  *catrate.Limiter
	metrics  *serverMetrics

	listening             bool
	newConnectionCallback NewConnectionCallback
}

const emfileLimiterCategory = "emfile"

// newDefaultAcceptRateLimiter returns the 1-log-line-per-second limiter
// used when no WithAcceptRateLimiter option is supplied.
func newDefaultAcceptRateLimiter() *catrate.Limiter {
	return catrate.NewLimiter(map[time.Duration]int{
		time.Second: 1,
	})
}

// NewAcceptor binds a non-blocking, close-on-exec listening socket for
// addr on loop, with SO_REUSEADDR (and SO_REUSEPORT, if requested) set.
func NewAcceptor(loop *Loop, addr string, reuse PortReuse, logger *logiface.Logger[*izerolog.Event], limiter *catrate.Limiter, metrics *serverMetrics) (*Acceptor, error) {
	fd, _, err := newListenSocket(addr, reuse)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = disabledLogger
	}
	if limiter == nil {
		limiter = newDefaultAcceptRateLimiter()
	}

	a := &Acceptor{
		loop:     loop,
		listenFd: fd,
		logger:   logger,
		limiter:  limiter,
		metrics:  metrics,
	}
	a.channel = NewChannel(loop, fd)
	a.channel.SetReadCallback(a.handleRead)
	return a, nil
}

// SetNewConnectionCallback installs the handler invoked for each newly
// accepted connection.
func (a *Acceptor) SetNewConnectionCallback(cb NewConnectionCallback) {
	a.newConnectionCallback = cb
}

// Listen enables read-interest on the listening socket. Must be called
// on the Acceptor's loop.
func (a *Acceptor) Listen() {
	a.listening = true
	a.channel.EnableReading()
}

func (a *Acceptor) handleRead(int64) {
	connFd, peer, err := acceptConn(a.listenFd)
	if err != nil {
		a.handleAcceptError(err)
		return
	}
	if a.newConnectionCallback != nil {
		a.newConnectionCallback(connFd, peer)
	} else {
		_ = unix.Close(connFd)
	}
}

func (a *Acceptor) handleAcceptError(err error) {
	if err == unix.EMFILE || err == unix.ENFILE {
		if a.metrics != nil {
			a.metrics.acceptErrorsTotal.WithLabelValues(emfileLimiterCategory).Inc()
		}
		if _, ok := a.limiter.Allow(emfileLimiterCategory); ok {
			a.logger.Err().Err(err).Log("reactor: accept failed, too many open files")
		}
		return
	}
	if a.metrics != nil {
		a.metrics.acceptErrorsTotal.WithLabelValues("other").Inc()
	}
	a.logger.Err().Err(err).Log("reactor: accept failed")
}

// Close closes the listening socket. Must be called on the Acceptor's
// loop.
func (a *Acceptor) Close() error {
	a.channel.DisableAll()
	a.channel.Remove()
	return unix.Close(a.listenFd)
}
