//go:build linux || darwin

package coro

import "golang.org/x/sys/unix"

// setNonblock puts fd into non-blocking mode, the only mode transports in
// this runtime ever use a raw fd in: blocking would stall the single
// run-loop goroutine for every other task.
func setNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}

func closeFD(fd int) error {
	return unix.Close(fd)
}

func readFD(fd int, buf []byte) (int, error) {
	n, err := unix.Read(fd, buf)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func writeFD(fd int, buf []byte) (int, error) {
	n, err := unix.Write(fd, buf)
	if err != nil {
		return 0, err
	}
	return n, nil
}
