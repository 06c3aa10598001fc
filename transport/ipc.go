package transport

import (
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/coroio/coro"
	"github.com/coroio/coro/socket"
)

// IPCConn is a connected Unix domain stream socket, the local-machine
// byte-stream leaf from spec.md §4.H. Wire behavior is identical to TCPConn;
// only construction differs.
type IPCConn struct {
	sched *coro.Scheduler
	fd    int
	addr  net.Addr

	mu sync.Mutex
	socket.ErrState
}

// Close implements coro.Closer: an immediate, non-blocking teardown. Use
// CloseGraceful for the spec's close(ipc, deadline) contract.
func (c *IPCConn) Close() error { return closeFD(c.fd) }

// CloseGraceful implements spec.md §4.H's close(ipc, deadline): shuts the
// write half down, drains inbound until EOF or deadline, then closes the fd.
// Identical in structure to TCPConn.CloseGraceful; IPC's wire behavior is the
// same SOCK_STREAM shutdown/read-to-EOF dance, just over AF_UNIX.
func (c *IPCConn) CloseGraceful(t *coro.Task, deadline coro.Deadline) error {
	c.mu.Lock()
	c.MarkDone()
	c.mu.Unlock()
	_ = unix.Shutdown(c.fd, unix.SHUT_WR)

	var buf [4096]byte
	for {
		n, err := readFD(c.fd, buf[:])
		if err != nil {
			if err == unix.EAGAIN {
				if _, werr := c.sched.WaitFD(t, c.fd, coro.EventIn, deadline); werr != nil {
					break
				}
				continue
			}
			break
		}
		if n == 0 {
			break
		}
	}
	return closeFD(c.fd)
}

func (c *IPCConn) Done() error {
	c.mu.Lock()
	c.MarkDone()
	c.mu.Unlock()
	return unix.Shutdown(c.fd, unix.SHUT_WR)
}

func (c *IPCConn) SendList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) error {
	c.mu.Lock()
	if err := c.GuardSend(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()
	for list.Len() > 0 {
		n, err := writeFD(c.fd, list[0].Data)
		if err != nil {
			if err == unix.EAGAIN {
				if _, werr := c.sched.WaitFD(t, c.fd, coro.EventOut, deadline); werr != nil {
					c.mu.Lock()
					c.FailOut()
					c.mu.Unlock()
					return werr
				}
				continue
			}
			c.mu.Lock()
			c.FailOut()
			c.mu.Unlock()
			return coro.Wrap(coro.ErrIO, err)
		}
		list = list.Consume(n)
	}
	return nil
}

func (c *IPCConn) RecvList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) error {
	c.mu.Lock()
	if err := c.GuardRecv(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()
	for list.Len() > 0 {
		n, err := readFD(c.fd, list[0].Data)
		if err != nil {
			if err == unix.EAGAIN {
				if _, werr := c.sched.WaitFD(t, c.fd, coro.EventIn, deadline); werr != nil {
					c.mu.Lock()
					c.FailIn()
					c.mu.Unlock()
					return werr
				}
				continue
			}
			c.mu.Lock()
			c.FailIn()
			c.mu.Unlock()
			return coro.Wrap(coro.ErrIO, err)
		}
		if n == 0 {
			c.mu.Lock()
			c.MarkEOF()
			c.mu.Unlock()
			return coro.ErrClosedOrderly
		}
		list = list.Consume(n)
	}
	return nil
}

// IPCListener accepts inbound Unix domain stream connections.
type IPCListener struct {
	sched *coro.Scheduler
	fd    int
	addr  *net.UnixAddr
}

// ListenIPC binds a Unix domain socket at path. The caller is responsible
// for removing a stale socket file from a prior run before calling this.
func ListenIPC(sched *coro.Scheduler, path string, backlog int) (*IPCListener, error) {
	if len(path) >= len(unix.RawSockaddrUnix{}.Path) {
		return nil, coro.ErrNameTooLong
	}
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, coro.Wrap(coro.ErrIO, err)
	}
	if err := setNonblock(fd); err != nil {
		unix.Close(fd)
		return nil, coro.Wrap(coro.ErrIO, err)
	}
	sa := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, coro.Wrap(coro.ErrIO, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, coro.Wrap(coro.ErrIO, err)
	}
	return &IPCListener{sched: sched, fd: fd, addr: &net.UnixAddr{Name: path, Net: "unix"}}, nil
}

func (l *IPCListener) Close() error   { return closeFD(l.fd) }
func (l *IPCListener) Addr() net.Addr { return l.addr }

func (l *IPCListener) Accept(t *coro.Task, deadline coro.Deadline) (*IPCConn, error) {
	if err := l.sched.AllowAccept("ipc-accept"); err != nil {
		return nil, err
	}
	for {
		nfd, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN {
				if _, werr := l.sched.WaitFD(t, l.fd, coro.EventIn, deadline); werr != nil {
					return nil, werr
				}
				continue
			}
			return nil, coro.Wrap(coro.ErrIO, err)
		}
		return &IPCConn{sched: l.sched, fd: nfd, addr: l.addr}, nil
	}
}

// DialIPC connects to the Unix domain socket at path.
func DialIPC(sched *coro.Scheduler, t *coro.Task, path string, deadline coro.Deadline) (*IPCConn, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, coro.Wrap(coro.ErrIO, err)
	}
	if err := setNonblock(fd); err != nil {
		unix.Close(fd)
		return nil, coro.Wrap(coro.ErrIO, err)
	}
	sa := &unix.SockaddrUnix{Name: path}
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, classifyConnectErr(err)
	}
	if err == unix.EINPROGRESS {
		if _, werr := sched.WaitFD(t, fd, coro.EventOut, deadline); werr != nil {
			unix.Close(fd)
			return nil, werr
		}
	}
	return &IPCConn{sched: sched, fd: fd, addr: &net.UnixAddr{Name: path, Net: "unix"}}, nil
}
