package coro

// IOEvents is a bitmask of the readiness conditions a poller can report.
type IOEvents uint8

const (
	EventIn IOEvents = 1 << iota
	EventOut
	EventErr
	EventHup
)

// rawPoller is the per-platform syscall backend (epoll on Linux, kqueue on
// Darwin/BSD) that poller drives. It speaks in terms of immediate kernel
// calls only; none of the userspace caching lives here.
type rawPoller interface {
	add(fd int, events IOEvents) error
	modify(fd int, events IOEvents) error
	remove(fd int) error
	wait(timeoutMs int, out []rawEvent) (int, error)
	wake() error
	close() error
}

type rawEvent struct {
	fd     int
	events IOEvents
}

type fdState struct {
	desired  IOEvents
	lastSent IOEvents
	inDirty  bool
}

// poller implements the apoll contract from spec.md §4.C: ctl queues a
// desired-mask change without touching the kernel; wait flushes every queued
// change (diffed against what was last told to the kernel, so repeated
// add/remove of the same fd between two waits costs nothing) and then blocks;
// event drains the resulting batch one readiness report at a time, silently
// discarding reports for events no longer desired.
type poller struct {
	raw     rawPoller
	fds     map[int]*fdState
	dirty   []int
	pending []rawEvent
	drained int
	scratch []rawEvent
}

func newPoller() (*poller, error) {
	raw, err := newRawPoller()
	if err != nil {
		return nil, err
	}
	return &poller{
		raw:     raw,
		fds:     make(map[int]*fdState),
		scratch: make([]rawEvent, 256),
	}, nil
}

// ctl queues fd's desired event mask. A zero mask means "interested in
// nothing", which is equivalent to removal and is diffed identically.
func (p *poller) ctl(fd int, desired IOEvents) {
	st, ok := p.fds[fd]
	if !ok {
		st = &fdState{}
		p.fds[fd] = st
	}
	if st.desired == desired {
		return
	}
	st.desired = desired
	if !st.inDirty {
		st.inDirty = true
		p.dirty = append(p.dirty, fd)
	}
}

func (p *poller) flush() error {
	for _, fd := range p.dirty {
		st, ok := p.fds[fd]
		if !ok {
			continue
		}
		st.inDirty = false
		if st.desired == st.lastSent {
			continue
		}
		var err error
		switch {
		case st.desired == 0:
			err = p.raw.remove(fd)
			delete(p.fds, fd)
		case st.lastSent == 0:
			err = p.raw.add(fd, st.desired)
		default:
			err = p.raw.modify(fd, st.desired)
		}
		if st2, ok := p.fds[fd]; ok {
			st2.lastSent = st.desired
		}
		if err != nil {
			return err
		}
	}
	p.dirty = p.dirty[:0]
	return nil
}

// wait flushes queued ctl changes, blocks until at least one event or the
// timeout elapses, and buffers the resulting batch for event to drain.
// timeoutMs of -1 blocks indefinitely; 0 polls without blocking.
func (p *poller) wait(timeoutMs int) error {
	if err := p.flush(); err != nil {
		return err
	}
	n, err := p.raw.wait(timeoutMs, p.scratch)
	if err != nil {
		return err
	}
	p.pending = p.scratch[:n]
	p.drained = 0
	return nil
}

// event drains one event from the batch buffered by the last wait call,
// reporting only bits the fd is still desired to watch (a desired write that
// already fired and was removed before drain must not resurface). It returns
// ok=false once the batch is exhausted.
func (p *poller) event() (fd int, events IOEvents, ok bool) {
	for p.drained < len(p.pending) {
		e := p.pending[p.drained]
		p.drained++
		st, known := p.fds[e.fd]
		if !known {
			continue
		}
		reported := e.events & (st.desired | EventErr | EventHup)
		if reported == 0 {
			continue
		}
		return e.fd, reported, true
	}
	return 0, 0, false
}

// wake interrupts a concurrent blocked wait call from another goroutine, so
// the run-loop notices a pushed ingress closure without waiting out a timer.
func (p *poller) wake() error {
	return p.raw.wake()
}

func (p *poller) close() error {
	return p.raw.close()
}
