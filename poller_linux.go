//go:build linux

package coro

import "golang.org/x/sys/unix"

// epollPoller is the Linux rawPoller backend. It is a thin, non-caching
// wrapper over epoll_ctl/epoll_wait; the userspace desired/last-sent mask
// diffing lives one layer up in poller, per spec.md §4.C.
type epollPoller struct {
	epfd     int
	wakeupFD *wakeupFD
}

func newRawPoller() (rawPoller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, Wrap(ErrIO, err)
	}
	wfd, err := newWakeupFD()
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wfd.readFD(), &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakeupSentinelFD),
	}); err != nil {
		wfd.close()
		unix.Close(epfd)
		return nil, Wrap(ErrIO, err)
	}
	return &epollPoller{epfd: epfd, wakeupFD: wfd}, nil
}

func eventsToEpoll(events IOEvents) uint32 {
	var e uint32
	if events&EventIn != 0 {
		e |= unix.EPOLLIN
	}
	if events&EventOut != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToEvents(e uint32) IOEvents {
	var events IOEvents
	if e&unix.EPOLLIN != 0 {
		events |= EventIn
	}
	if e&unix.EPOLLOUT != 0 {
		events |= EventOut
	}
	if e&unix.EPOLLERR != 0 {
		events |= EventErr
	}
	if e&unix.EPOLLHUP != 0 || e&unix.EPOLLRDHUP != 0 {
		events |= EventHup
	}
	return events
}

func (p *epollPoller) add(fd int, events IOEvents) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: eventsToEpoll(events),
		Fd:     int32(fd),
	})
}

func (p *epollPoller) modify(fd int, events IOEvents) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: eventsToEpoll(events),
		Fd:     int32(fd),
	})
}

func (p *epollPoller) remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wakeupSentinelFD is never a real registered fd (those come from the
// transport layer's accepted/dialed sockets); it tags the eventfd event so
// wait can drain it without surfacing it through event().
const wakeupSentinelFD = -1

func (p *epollPoller) wait(timeoutMs int, out []rawEvent) (int, error) {
	var buf [256]unix.EpollEvent
	window := buf[:]
	if len(out) < len(window) {
		window = window[:len(out)]
	}
	n, err := unix.EpollWait(p.epfd, window, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, Wrap(ErrIO, err)
	}
	count := 0
	for i := 0; i < n; i++ {
		if int32(buf[i].Fd) == wakeupSentinelFD {
			p.wakeupFD.drain()
			continue
		}
		out[count] = rawEvent{fd: int(buf[i].Fd), events: epollToEvents(buf[i].Events)}
		count++
	}
	return count, nil
}

func (p *epollPoller) wake() error {
	return p.wakeupFD.signal()
}

func (p *epollPoller) close() error {
	p.wakeupFD.close()
	return unix.Close(p.epfd)
}
