//go:build linux || darwin

package transport

import "golang.org/x/sys/unix"

func setNonblock(fd int) error { return unix.SetNonblock(fd, true) }
func closeFD(fd int) error     { return unix.Close(fd) }

func readFD(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

func writeFD(fd int, buf []byte) (int, error) {
	return unix.Write(fd, buf)
}
