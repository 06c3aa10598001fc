//go:build darwin

package coro

import "golang.org/x/sys/unix"

// kqueuePoller is the Darwin/BSD rawPoller backend. kqueue has no separate
// "modify" call; re-submitting EV_ADD for a filter already registered
// updates it in place, so add and modify share an implementation.
type kqueuePoller struct {
	kq       int
	wakeupFD *wakeupFD
}

func newRawPoller() (rawPoller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, Wrap(ErrIO, err)
	}
	unix.CloseOnExec(kq)
	wfd, err := newWakeupFD()
	if err != nil {
		unix.Close(kq)
		return nil, err
	}
	changes := []unix.Kevent_t{{
		Ident:  uint64(wfd.readFD()),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_ENABLE,
	}}
	if _, err := unix.Kevent(kq, changes, nil, nil); err != nil {
		wfd.close()
		unix.Close(kq)
		return nil, Wrap(ErrIO, err)
	}
	return &kqueuePoller{kq: kq, wakeupFD: wfd}, nil
}

func (p *kqueuePoller) submit(fd int, events IOEvents) error {
	var changes []unix.Kevent_t
	if events&EventIn != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_ENABLE})
	} else {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE})
	}
	if events&EventOut != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_ENABLE})
	} else {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE})
	}
	// EV_DELETE on a filter that was never added returns ENOENT; that's the
	// expected steady state for a socket only ever watched on one direction,
	// so it's not an error worth surfacing.
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	if err != nil && err != unix.ENOENT {
		return Wrap(ErrIO, err)
	}
	return nil
}

func (p *kqueuePoller) add(fd int, events IOEvents) error    { return p.submit(fd, events) }
func (p *kqueuePoller) modify(fd int, events IOEvents) error { return p.submit(fd, events) }

func (p *kqueuePoller) remove(fd int) error {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	if err != nil && err != unix.ENOENT {
		return Wrap(ErrIO, err)
	}
	return nil
}

func (p *kqueuePoller) wait(timeoutMs int, out []rawEvent) (int, error) {
	var buf [256]unix.Kevent_t
	window := buf[:]
	if len(out) < len(window) {
		window = window[:len(out)]
	}
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * int64(1e6))
		ts = &t
	}
	n, err := unix.Kevent(p.kq, nil, window, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, Wrap(ErrIO, err)
	}
	count := 0
	for i := 0; i < n; i++ {
		ev := window[i]
		fd := int(ev.Ident)
		if fd == p.wakeupFD.readFD() && ev.Filter == unix.EVFILT_READ {
			p.wakeupFD.drain()
			continue
		}
		var events IOEvents
		switch ev.Filter {
		case unix.EVFILT_READ:
			events = EventIn
		case unix.EVFILT_WRITE:
			events = EventOut
		}
		if ev.Flags&unix.EV_EOF != 0 {
			events |= EventHup
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			events |= EventErr
		}
		out[count] = rawEvent{fd: fd, events: events}
		count++
	}
	return count, nil
}

func (p *kqueuePoller) wake() error {
	return p.wakeupFD.signal()
}

func (p *kqueuePoller) close() error {
	p.wakeupFD.close()
	return unix.Close(p.kq)
}
