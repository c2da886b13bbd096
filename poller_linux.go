//go:build linux

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller implements Poller with epoll_create1/epoll_ctl/epoll_wait.
// It grows its ready-event scratch buffer geometrically whenever a Poll
// call fills it completely, so a busy server amortizes the cost of a
// large connection count down to a handful of reallocations.
type epollPoller struct {
	epfd     int
	channels map[int]*Channel // fd -> Channel
	eventBuf []unix.EpollEvent
}

// NewPoller returns the platform-native Poller implementation.
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{
		epfd:     epfd,
		channels: make(map[int]*Channel),
		eventBuf: make([]unix.EpollEvent, 16),
	}, nil
}

func eventsToEpoll(ev IOEvents) uint32 {
	var out uint32
	if ev&EventRead != 0 {
		out |= unix.EPOLLIN | unix.EPOLLPRI
	}
	if ev&EventWrite != 0 {
		out |= unix.EPOLLOUT
	}
	return out
}

func epollToEvents(mask uint32) IOEvents {
	var ev IOEvents
	if mask&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		ev |= EventRead
	}
	if mask&unix.EPOLLOUT != 0 {
		ev |= EventWrite
	}
	if mask&unix.EPOLLERR != 0 {
		ev |= EventError
	}
	if mask&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		ev |= EventHangup
	}
	return ev
}

func (p *epollPoller) Poll(timeout time.Duration) ([]*Channel, time.Time, error) {
	ms := int(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		ms = 1
	}
	n, err := unix.EpollWait(p.epfd, p.eventBuf, ms)
	when := time.Now()
	if err != nil {
		if err == unix.EINTR {
			return nil, when, nil
		}
		return nil, when, err
	}

	ready := make([]*Channel, 0, n)
	for i := 0; i < n; i++ {
		ev := p.eventBuf[i]
		ch, ok := p.channels[int(ev.Fd)]
		if !ok {
			continue
		}
		ch.setRevents(epollToEvents(ev.Events))
		ready = append(ready, ch)
	}

	if n == len(p.eventBuf) {
		p.eventBuf = make([]unix.EpollEvent, len(p.eventBuf)*2)
	}

	return ready, when, nil
}

func (p *epollPoller) UpdateChannel(ch *Channel) error {
	if ch.IsNoneEvent() {
		if ch.state == ChannelAdded {
			if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, ch.fd, nil); err != nil {
				return err
			}
			delete(p.channels, ch.fd)
			ch.state = ChannelDeleted
		}
		return nil
	}

	ev := &unix.EpollEvent{Events: eventsToEpoll(ch.events), Fd: int32(ch.fd)}
	switch ch.state {
	case ChannelNew, ChannelDeleted:
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, ch.fd, ev); err != nil {
			return err
		}
	case ChannelAdded:
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, ch.fd, ev); err != nil {
			return err
		}
	}
	p.channels[ch.fd] = ch
	ch.state = ChannelAdded
	return nil
}

func (p *epollPoller) RemoveChannel(ch *Channel) error {
	if ch.state == ChannelAdded {
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, ch.fd, nil); err != nil {
			return err
		}
	}
	delete(p.channels, ch.fd)
	ch.state = ChannelNew
	return nil
}

func (p *epollPoller) HasChannel(ch *Channel) bool {
	existing, ok := p.channels[ch.fd]
	return ok && existing == ch
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
