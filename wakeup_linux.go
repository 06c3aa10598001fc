//go:build linux

package coro

import "golang.org/x/sys/unix"

// wakeupFD lets a goroutine outside the run-loop (e.g. a task pushing onto
// the ingress queue) interrupt a blocked epoll_wait. Linux gets a single
// eventfd serving as both read and write end.
type wakeupFD struct {
	fd int
}

func newWakeupFD() (*wakeupFD, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, Wrap(ErrIO, err)
	}
	return &wakeupFD{fd: fd}, nil
}

func (w *wakeupFD) readFD() int { return w.fd }

func (w *wakeupFD) signal() error {
	var buf [8]byte
	buf[7] = 1
	_, err := unix.Write(w.fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return Wrap(ErrIO, err)
	}
	return nil
}

func (w *wakeupFD) drain() {
	var buf [8]byte
	for {
		if _, err := unix.Read(w.fd, buf[:]); err != nil {
			return
		}
	}
}

func (w *wakeupFD) close() {
	unix.Close(w.fd)
}
