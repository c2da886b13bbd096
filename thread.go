package reactor

import (
	"fmt"
	"sync/atomic"
)

// threadCounter assigns each unnamed worker a stable default name,
// mirroring the numbered defaults ("Thread1", "Thread2", ...) a Thread
// wrapper computes when the caller doesn't supply one.
var threadCounter atomic.Int64

// thread wraps a single goroutine with a name and a start/join signal.
// The computed default name is assigned back to the name field rather
// than left in a local only used for logging, so later lookups by name
// (diagnostics, metrics labels) see the same value the goroutine runs
// under.
type thread struct {
	name string
	fn   func()
	done chan struct{}
}

// newThread returns a thread that will run fn. If name is empty, a
// default of the form "Thread<n>" is computed and assigned.
func newThread(name string, fn func()) *thread {
	if name == "" {
		name = fmt.Sprintf("Thread%d", threadCounter.Add(1))
	}
	return &thread{name: name, fn: fn, done: make(chan struct{})}
}

// start launches the thread's goroutine.
func (t *thread) start() {
	go func() {
		defer close(t.done)
		t.fn()
	}()
}

// join blocks until the thread's goroutine returns.
func (t *thread) join() {
	<-t.done
}
