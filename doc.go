// Package reactor is a non-blocking TCP server library built on the
// multi-reactor pattern: one Loop per goroutine, each owning a level-
// triggered readiness demultiplexer, dispatching to per-connection
// callbacks registered by application code.
//
// # Architecture
//
// A [Server] owns an [Acceptor] bound to a base [Loop] and a [LoopPool] of
// I/O loops. Accepted connections are handed to I/O loops in round-robin
// order; all subsequent reads, writes, and closes for a [Connection] run
// on its assigned Loop and never migrate.
//
// # Platform support
//
// Readiness is implemented using platform-native level-triggered
// mechanisms:
//   - Linux: epoll
//   - Darwin/BSD: kqueue
//
// There is no Windows/IOCP variant.
//
// # Thread safety
//
// [Connection.Send] and [Connection.Shutdown] are safe to call from any
// goroutine; they hop onto the connection's owning Loop via
// [Loop.RunInLoop] / [Loop.QueueInLoop]. [Channel] mutation and all
// callback invocation are confined to the owning Loop's goroutine; see
// DESIGN.md for how "one loop per thread" is realized as "one loop per
// goroutine" in Go.
//
// # Usage
//
//	base, err := reactor.NewLoop()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	srv, err := reactor.NewServer(base, "0.0.0.0:9981", "echo")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv.SetThreadNum(4)
//	srv.SetMessageCallback(func(conn *reactor.Connection, buf *reactor.Buffer, _ time.Time) {
//	    conn.Send([]byte(buf.RetrieveAllAsString()))
//	})
//	srv.Start()
//
//	if err := base.Run(); err != nil {
//	    log.Fatal(err)
//	}
package reactor
