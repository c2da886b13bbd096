package reactor

// ChannelState tracks a Channel's registration lifecycle with its Loop's
// Poller, mirroring the three states a muduo Channel cycles through.
type ChannelState int

const (
	// ChannelNew means the Channel has never been added to a Poller.
	ChannelNew ChannelState = iota
	// ChannelAdded means the Channel is currently registered.
	ChannelAdded
	// ChannelDeleted means the Channel was registered and then removed; it
	// may be re-added later without losing its callbacks.
	ChannelDeleted
)

// Channel binds one file descriptor to a Loop and a set of event
// callbacks. It does not own the fd: closing it is the owner's
// responsibility (Acceptor, Connection, or the Loop's wake descriptor).
//
// A Channel is only ever mutated from its owning Loop's goroutine. The
// owner field is an ordinary Go reference recorded by SetOwner; nothing
// in this package reads it.
type Channel struct {
	loop   *Loop
	fd     int
	events IOEvents // interest mask
	revents IOEvents // events reported by the last poll
	state  ChannelState

	readCallback  func(when int64)
	writeCallback func()
	closeCallback func()
	errorCallback func()

	// owner is a back-reference to whatever higher-level object (typically
	// *Connection) installed the callbacks above; Channel itself never
	// dereferences it.
	owner any

	eventHandling bool
	addedToLoop   bool
}

// NewChannel returns a Channel for fd, owned by loop. The Channel starts
// with no interest registered; call EnableReading/EnableWriting to
// request events, which also adds it to the Loop's Poller.
func NewChannel(loop *Loop, fd int) *Channel {
	return &Channel{
		loop:  loop,
		fd:    fd,
		state: ChannelNew,
	}
}

// Fd returns the underlying file descriptor.
func (c *Channel) Fd() int { return c.fd }

// SetOwner records a reference to the object that configured this
// Channel's callbacks.
func (c *Channel) SetOwner(owner any) { c.owner = owner }

// SetReadCallback installs the handler invoked when fd becomes readable,
// or when the peer closes (EventHangup-without-readable is surfaced via
// CloseCallback instead). when is the poll-return timestamp in Unix nanos.
func (c *Channel) SetReadCallback(cb func(when int64)) { c.readCallback = cb }

// SetWriteCallback installs the handler invoked when fd becomes writable.
func (c *Channel) SetWriteCallback(cb func()) { c.writeCallback = cb }

// SetCloseCallback installs the handler invoked on hangup.
func (c *Channel) SetCloseCallback(cb func()) { c.closeCallback = cb }

// SetErrorCallback installs the handler invoked on a socket error event.
func (c *Channel) SetErrorCallback(cb func()) { c.errorCallback = cb }

// EnableReading adds EventRead to the interest mask and updates the
// Poller registration.
func (c *Channel) EnableReading() {
	c.events |= EventRead
	c.update()
}

// DisableReading removes EventRead from the interest mask.
func (c *Channel) DisableReading() {
	c.events &^= EventRead
	c.update()
}

// EnableWriting adds EventWrite to the interest mask.
func (c *Channel) EnableWriting() {
	c.events |= EventWrite
	c.update()
}

// DisableWriting removes EventWrite from the interest mask.
func (c *Channel) DisableWriting() {
	c.events &^= EventWrite
	c.update()
}

// DisableAll clears the entire interest mask. The Poller then drops the
// fd from its kernel interest set and marks the Channel ChannelDeleted;
// its callbacks are kept, so a later Enable call re-adds it.
func (c *Channel) DisableAll() {
	c.events = 0
	c.update()
}

// IsWriting reports whether EventWrite is currently in the interest mask.
func (c *Channel) IsWriting() bool { return c.events&EventWrite != 0 }

// IsReading reports whether EventRead is currently in the interest mask.
func (c *Channel) IsReading() bool { return c.events&EventRead != 0 }

// IsNoneEvent reports whether the interest mask is empty.
func (c *Channel) IsNoneEvent() bool { return c.events == 0 }

func (c *Channel) update() {
	c.addedToLoop = true
	c.loop.UpdateChannel(c)
}

// Remove unregisters the Channel from its Loop's Poller. The caller must
// ensure the interest mask is already empty and no event handling for
// this Channel is in progress.
func (c *Channel) Remove() {
	c.addedToLoop = false
	c.loop.RemoveChannel(c)
}

// setRevents records the events reported for this Channel by the last
// Poller.Poll call; only the Loop calls this.
func (c *Channel) setRevents(ev IOEvents) { c.revents = ev }

// HandleEvent dispatches the revents recorded by the last poll to the
// installed callbacks, in the fixed precedence order required by
// level-triggered demultiplexing: hangup-without-read first, which invokes
// only the close callback and skips the rest (a peer that closed and sent
// nothing else should not also try to read), then error, then read, then
// write.
func (c *Channel) HandleEvent(when int64) {
	c.eventHandling = true
	defer func() { c.eventHandling = false }()

	if c.revents&EventHangup != 0 && c.revents&EventRead == 0 {
		if c.closeCallback != nil {
			c.closeCallback()
		}
		return
	}
	if c.revents&EventError != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}
	if c.revents&EventRead != 0 {
		if c.readCallback != nil {
			c.readCallback(when)
		}
	}
	if c.revents&EventWrite != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
}
