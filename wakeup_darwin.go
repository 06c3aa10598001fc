//go:build darwin

package coro

import "golang.org/x/sys/unix"

// wakeupFD is the Darwin counterpart of the Linux eventfd wakeup: kqueue has
// no portable eventfd equivalent exposed by golang.org/x/sys/unix, so this
// uses the traditional self-pipe, registered for read-readiness like any
// other fd.
type wakeupFD struct {
	r, w int
}

func newWakeupFD() (*wakeupFD, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, Wrap(ErrIO, err)
	}
	if err := setNonblock(fds[0]); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, Wrap(ErrIO, err)
	}
	if err := setNonblock(fds[1]); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, Wrap(ErrIO, err)
	}
	return &wakeupFD{r: fds[0], w: fds[1]}, nil
}

func (w *wakeupFD) readFD() int { return w.r }

func (w *wakeupFD) signal() error {
	_, err := unix.Write(w.w, []byte{1})
	if err != nil && err != unix.EAGAIN {
		return Wrap(ErrIO, err)
	}
	return nil
}

func (w *wakeupFD) drain() {
	var buf [64]byte
	for {
		if _, err := unix.Read(w.r, buf[:]); err != nil {
			return
		}
	}
}

func (w *wakeupFD) close() {
	unix.Close(w.r)
	unix.Close(w.w)
}
