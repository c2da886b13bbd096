//go:build darwin

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// kqueuePoller implements Poller with kqueue/kevent. Darwin has no
// single "interest mask" update call, so EnableReading/EnableWriting
// translate into separate EV_ADD/EV_DELETE kevents per filter.
type kqueuePoller struct {
	kq       int
	channels map[int]*Channel
	eventBuf []unix.Kevent_t
}

// NewPoller returns the platform-native Poller implementation.
func NewPoller() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueuePoller{
		kq:       kq,
		channels: make(map[int]*Channel),
		eventBuf: make([]unix.Kevent_t, 16),
	}, nil
}

func (p *kqueuePoller) Poll(timeout time.Duration) ([]*Channel, time.Time, error) {
	ts := unix.NsecToTimespec(int64(timeout))
	n, err := unix.Kevent(p.kq, nil, p.eventBuf, &ts)
	when := time.Now()
	if err != nil {
		if err == unix.EINTR {
			return nil, when, nil
		}
		return nil, when, err
	}

	merged := make(map[int]IOEvents, n)
	for i := 0; i < n; i++ {
		kev := p.eventBuf[i]
		fd := int(kev.Ident)
		var ev IOEvents
		switch kev.Filter {
		case unix.EVFILT_READ:
			ev = EventRead
		case unix.EVFILT_WRITE:
			ev = EventWrite
		}
		if kev.Flags&unix.EV_EOF != 0 {
			ev |= EventHangup
		}
		if kev.Flags&unix.EV_ERROR != 0 {
			ev |= EventError
		}
		merged[fd] |= ev
	}

	ready := make([]*Channel, 0, len(merged))
	for fd, ev := range merged {
		ch, ok := p.channels[fd]
		if !ok {
			continue
		}
		ch.setRevents(ev)
		ready = append(ready, ch)
	}

	if n == len(p.eventBuf) {
		p.eventBuf = make([]unix.Kevent_t, len(p.eventBuf)*2)
	}

	return ready, when, nil
}

func (p *kqueuePoller) changeFilter(fd int, filter int16, enable bool) error {
	flags := uint16(unix.EV_ADD | unix.EV_ENABLE)
	if !enable {
		flags = unix.EV_DELETE
	}
	kev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: filter,
		Flags:  flags,
	}
	_, err := unix.Kevent(p.kq, []unix.Kevent_t{kev}, nil, nil)
	if err != nil && !enable && err == unix.ENOENT {
		return nil
	}
	return err
}

func (p *kqueuePoller) UpdateChannel(ch *Channel) error {
	wasAdded := ch.state == ChannelAdded
	prev, hadPrev := p.channels[ch.fd]
	_ = prev

	if err := p.changeFilter(ch.fd, unix.EVFILT_READ, ch.events&EventRead != 0); err != nil {
		return err
	}
	if err := p.changeFilter(ch.fd, unix.EVFILT_WRITE, ch.events&EventWrite != 0); err != nil {
		return err
	}

	if ch.IsNoneEvent() {
		delete(p.channels, ch.fd)
		if wasAdded {
			ch.state = ChannelDeleted
		}
		return nil
	}

	p.channels[ch.fd] = ch
	if !hadPrev {
		ch.state = ChannelAdded
	} else {
		ch.state = ChannelAdded
	}
	return nil
}

func (p *kqueuePoller) RemoveChannel(ch *Channel) error {
	_ = p.changeFilter(ch.fd, unix.EVFILT_READ, false)
	_ = p.changeFilter(ch.fd, unix.EVFILT_WRITE, false)
	delete(p.channels, ch.fd)
	ch.state = ChannelNew
	return nil
}

func (p *kqueuePoller) HasChannel(ch *Channel) bool {
	existing, ok := p.channels[ch.fd]
	return ok && existing == ch
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.kq)
}
