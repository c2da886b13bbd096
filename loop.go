package reactor

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
)

// pollTimeout bounds every Poller.Poll call: a fixed 10-second timeout
// ensures a Quit flag flipped by a foreign goroutine (and the wake it
// triggers) is observed within one polling cycle even if the wake write
// is somehow lost.
const pollTimeout = 10 * time.Second

// Loop is a single-threaded (single-goroutine) event loop: it polls a
// Poller, dispatches ready Channels, then drains a cross-goroutine queue
// of deferred tasks, repeating until Quit. A Loop must only have its
// Channels mutated, and its callbacks invoked, from the goroutine that
// calls Run — see IsInLoopThread.
type Loop struct {
	poller Poller

	wakeReadFd  int
	wakeWriteFd int
	wakeChannel *Channel

	mu             sync.Mutex
	pending        *pendingTasks
	callingPending bool

	running  atomic.Bool
	quitting atomic.Bool
	// goroutineID is the id of the goroutine currently executing Run, or 0
	// if the loop is not running. This is the Go adaptation of the
	// teacher's thread-local pointer: captured at Run entry, cleared at
	// exit, compared by IsInLoopThread.
	goroutineID atomic.Uint64

	logger *logiface.Logger[*izerolog.Event]

	// tickObserver, if set, is called with the wall-clock duration of each
	// poll-dispatch-drain iteration; Server wires this to the
	// reactor_loop_tick_duration_seconds histogram.
	tickObserver func(time.Duration)
	name         string
}

// NewLoop constructs a Loop with a platform-native Poller and wake
// descriptor, but does not start running it; call Run to do that.
func NewLoop(opts ...LoopOption) (*Loop, error) {
	cfg := resolveLoopOptions(opts)

	poller, err := NewPoller()
	if err != nil {
		return nil, err
	}

	readFd, writeFd, err := createWakeFd()
	if err != nil {
		_ = poller.Close()
		return nil, err
	}

	l := &Loop{
		poller:      poller,
		wakeReadFd:  readFd,
		wakeWriteFd: writeFd,
		pending:     newPendingTasks(),
		logger:      cfg.logger,
	}
	l.wakeChannel = NewChannel(l, readFd)
	l.wakeChannel.SetReadCallback(func(int64) {
		if err := drainWakeFd(l.wakeReadFd); err != nil {
			l.logger.Warning().Err(err).Log("reactor: failed to drain wake descriptor")
		}
	})
	l.wakeChannel.EnableReading()

	return l, nil
}

// setName is used by LoopPool to give worker loops diagnostic names; it
// is not part of the public API.
func (l *Loop) setName(name string) { l.name = name }

// Name returns the loop's diagnostic name, set by LoopPool for worker
// loops and empty for a bare base loop unless assigned otherwise.
func (l *Loop) Name() string { return l.name }

// SetTickObserver installs a hook called with the wall-clock duration of
// each poll-dispatch-drain iteration. Must be called before Run.
func (l *Loop) SetTickObserver(observer func(time.Duration)) { l.tickObserver = observer }

// Run is the main loop routine: clear ready list, poll, dispatch ready
// channels, drain deferred tasks, repeat, until Quit is called. Run must
// be called from the goroutine that will own this Loop for its entire
// lifetime; calling it again from within the loop itself returns
// ErrReentrantRun, and from another goroutine while it is running returns
// ErrLoopAlreadyRunning.
func (l *Loop) Run() error {
	if l.IsInLoopThread() {
		return ErrReentrantRun
	}
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopAlreadyRunning
	}
	l.goroutineID.Store(getGoroutineID())
	defer func() {
		l.goroutineID.Store(0)
		l.running.Store(false)
	}()

	for !l.quitting.Load() {
		start := time.Now()

		ready, when, err := l.poller.Poll(pollTimeout)
		if err != nil {
			l.logger.Err().Err(err).Log("reactor: poll failed")
			continue
		}

		whenNanos := when.UnixNano()
		for _, ch := range ready {
			ch.HandleEvent(whenNanos)
		}

		l.drainPending()

		if l.tickObserver != nil {
			l.tickObserver(time.Since(start))
		}
	}

	return nil
}

// Quit sets the quit flag and, if necessary, wakes the loop so it is
// observed promptly rather than at the next 10-second poll timeout.
func (l *Loop) Quit() {
	l.quitting.Store(true)
	if !l.IsInLoopThread() {
		_ = l.WakeUp()
	}
}

// IsInLoopThread reports whether the calling goroutine is the one
// currently executing Run.
func (l *Loop) IsInLoopThread() bool {
	id := l.goroutineID.Load()
	return id != 0 && id == getGoroutineID()
}

// RunInLoop executes task immediately if called from the loop's own
// goroutine, otherwise defers it via QueueInLoop.
func (l *Loop) RunInLoop(task func()) {
	if l.IsInLoopThread() {
		task()
		return
	}
	l.QueueInLoop(task)
}

// QueueInLoop appends task to the deferred queue under the loop's mutex,
// waking the loop if the caller is off-loop or if the loop is currently
// mid-drain (so a task submitted by a running task is not starved until
// the next poll interval).
func (l *Loop) QueueInLoop(task func()) {
	l.mu.Lock()
	l.pending.Push(task)
	shouldWake := !l.IsInLoopThread() || l.callingPending
	l.mu.Unlock()

	if shouldWake {
		_ = l.WakeUp()
	}
}

// drainPending swaps the entire pending queue out under the lock, then
// runs every task without holding it.
func (l *Loop) drainPending() {
	l.mu.Lock()
	l.callingPending = true
	tasks := l.pending.PopAll()
	l.mu.Unlock()

	for _, task := range tasks {
		task()
	}

	l.mu.Lock()
	l.callingPending = false
	l.mu.Unlock()
}

// WakeUp writes to the wake descriptor, breaking the loop out of a
// blocked Poll call. Safe to call from any goroutine, including the
// loop's own.
func (l *Loop) WakeUp() error {
	return writeWake(l.wakeWriteFd)
}

// UpdateChannel registers ch with this loop's Poller, or updates its
// interest mask if already registered.
func (l *Loop) UpdateChannel(ch *Channel) error {
	return l.poller.UpdateChannel(ch)
}

// RemoveChannel unregisters ch from this loop's Poller. ch's interest
// mask must already be empty.
func (l *Loop) RemoveChannel(ch *Channel) error {
	return l.poller.RemoveChannel(ch)
}

// HasChannel reports whether ch is currently registered with this
// loop's Poller.
func (l *Loop) HasChannel(ch *Channel) bool {
	return l.poller.HasChannel(ch)
}

// Close releases the loop's wake descriptor and Poller resources. Run
// must have returned before calling Close.
func (l *Loop) Close() error {
	l.wakeChannel.DisableAll()
	l.wakeChannel.Remove()
	_ = closeWakeFd(l.wakeReadFd, l.wakeWriteFd)
	return l.poller.Close()
}

// getGoroutineID parses the numeric goroutine id out of a runtime.Stack
// dump, the same technique used process-wide to enforce "at most one
// loop per thread" in systems without a language-level thread-local.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
