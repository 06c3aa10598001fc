// Package transport implements the non-blocking TCP, UDP, and IPC leaves
// from spec.md §4.H, plus the happy-eyeballs dual-stack connector, all
// driven through the scheduler's apoll-backed WaitFD rather than net.Conn,
// so a single run-loop goroutine's poller is the only place readiness is
// ever waited on.
package transport

import (
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/coroio/coro"
	"github.com/coroio/coro/socket"
)

// TCPConn is a connected, non-blocking TCP byte stream. It implements
// socket.ByteStream; SendList/RecvList never return a partial transfer.
type TCPConn struct {
	sched *coro.Scheduler
	fd    int
	addr  net.Addr
	peer  net.Addr

	mu sync.Mutex
	socket.ErrState
}

// Close implements coro.Closer: an immediate, non-blocking teardown (no FIN
// handshake, no drain), the right behavior for the handle table's
// cancel-on-close contract, which must never block the canceling goroutine.
// Callers that want the spec's graceful close(tcp, deadline) — flush
// outbound, send FIN, drain inbound until EOF or deadline — use
// CloseGraceful instead.
func (c *TCPConn) Close() error {
	return closeFD(c.fd)
}

// CloseGraceful implements spec.md §4.H's close(tcp, deadline): it shuts the
// write half down (sending FIN; any bytes already accepted by SendList are
// already flushed to the kernel send buffer, since this runtime's sends are
// synchronous per call with no further application-level queue to drain),
// then reads and discards until the peer's FIN (EOF) arrives or deadline
// fires, before the final syscall close. Draining is best-effort: a deadline
// or cancellation during the drain still proceeds to close the fd.
func (c *TCPConn) CloseGraceful(t *coro.Task, deadline coro.Deadline) error {
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

// Done implements coro.Doner: shuts the write half down (TCP half-close),
// matching the spec's hdone contract for a socket that still wants to read.
func (c *TCPConn) Done() error {
	c.mu.Lock()
	c.MarkDone()
	c.mu.Unlock()
	return unix.Shutdown(c.fd, unix.SHUT_WR)
}

func (c *TCPConn) LocalAddr() net.Addr  { return c.addr }
func (c *TCPConn) RemoteAddr() net.Addr { return c.peer }

// SendList writes every byte in list, blocking (cooperatively) until the
// socket accepts it all, an error occurs, or deadline/cancellation fires.
func (c *TCPConn) SendList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) error {
	c.mu.Lock()
	if err := c.GuardSend(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	for list.Len() > 0 {
		buf := list[0].Data
		n, err := writeFD(c.fd, buf)
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

// RecvList reads exactly list.Len() bytes, or fails; bytes already read from
// the wire before a failure are not exposed (spec.md §4.G: partial success
// is never observable), though the underlying fd of course keeps whatever
// the kernel has not yet delivered.
func (c *TCPConn) RecvList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) error {
	c.mu.Lock()
	if err := c.GuardRecv(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	for list.Len() > 0 {
		buf := list[0].Data
		n, err := readFD(c.fd, buf)
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

// TCPListener accepts inbound non-blocking TCP connections.
type TCPListener struct {
	sched *coro.Scheduler
	fd    int
	addr  net.Addr
}

// ListenTCP binds and listens on addr ("host:port", per net.ResolveTCPAddr),
// with backlog as the listen(2) backlog.
func ListenTCP(sched *coro.Scheduler, addr string, backlog int) (*TCPListener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, coro.Wrap(coro.ErrInvalid, err)
	}
	domain := unix.AF_INET
	if tcpAddr.IP != nil && tcpAddr.IP.To4() == nil {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, coro.Wrap(coro.ErrIO, err)
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if err := setNonblock(fd); err != nil {
		unix.Close(fd)
		return nil, coro.Wrap(coro.ErrIO, err)
	}
	sa, err := sockaddrFromTCP(tcpAddr)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, coro.Wrap(coro.ErrIO, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, coro.Wrap(coro.ErrIO, err)
	}
	var local net.Addr = tcpAddr
	if bound, gerr := unix.Getsockname(fd); gerr == nil {
		if a := sockaddrToTCPAddr(bound); a != nil {
			local = a // reports the kernel-chosen port when addr asked for 0
		}
	}
	return &TCPListener{sched: sched, fd: fd, addr: local}, nil
}

func (l *TCPListener) Close() error { return closeFD(l.fd) }

func (l *TCPListener) Addr() net.Addr { return l.addr }

// Accept blocks until a connection arrives, the deadline fires, or the
// calling task is canceled.
func (l *TCPListener) Accept(t *coro.Task, deadline coro.Deadline) (*TCPConn, error) {
	if err := l.sched.AllowAccept("tcp-accept"); err != nil {
		return nil, err
	}
	for {
		nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN {
				if _, werr := l.sched.WaitFD(t, l.fd, coro.EventIn, deadline); werr != nil {
					return nil, werr
				}
				continue
			}
			return nil, coro.Wrap(coro.ErrIO, err)
		}
		peer := sockaddrToTCPAddr(sa)
		return &TCPConn{sched: l.sched, fd: nfd, addr: l.addr, peer: peer}, nil
	}
}

// DialTCP connects to addr, non-blocking, racing the connect(2) EINPROGRESS
// completion against deadline/cancellation via WaitFD on the write side.
func DialTCP(sched *coro.Scheduler, t *coro.Task, addr string, deadline coro.Deadline) (*TCPConn, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, coro.Wrap(coro.ErrInvalid, err)
	}
	return dialTCPAddr(sched, t, tcpAddr, deadline)
}

// DialTCPMode resolves host under one of spec.md §6's IP resolver modes
// (IPV4/IPV6/PREF_IPV4/PREF_IPV6) before connecting, for callers that need
// explicit address-family control rather than DialTCP's net.ResolveTCPAddr
// default (which behaves like IPPreferIPv4).
func DialTCPMode(sched *coro.Scheduler, t *coro.Task, host string, port int, mode IPMode, deadline coro.Deadline) (*TCPConn, error) {
	addr, err := ResolveRemote(t, host, port, mode, deadline)
	if err != nil {
		return nil, err
	}
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return nil, coro.ErrInvalid
	}
	return dialTCPAddr(sched, t, tcpAddr, deadline)
}

func dialTCPAddr(sched *coro.Scheduler, t *coro.Task, tcpAddr *net.TCPAddr, deadline coro.Deadline) (*TCPConn, error) {
	domain := unix.AF_INET
	if tcpAddr.IP != nil && tcpAddr.IP.To4() == nil {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, coro.Wrap(coro.ErrIO, err)
	}
	if err := setNonblock(fd); err != nil {
		unix.Close(fd)
		return nil, coro.Wrap(coro.ErrIO, err)
	}
	sa, err := sockaddrFromTCP(tcpAddr)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
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
		if serr, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR); gerr == nil && serr != 0 {
			unix.Close(fd)
			return nil, classifyConnectErr(unix.Errno(serr))
		}
	}
	return &TCPConn{sched: sched, fd: fd, addr: nil, peer: tcpAddr}, nil
}

func classifyConnectErr(err error) error {
	switch err {
	case unix.ECONNREFUSED:
		return coro.Wrap(coro.ErrConnRefused, err)
	case unix.ENETUNREACH:
		return coro.Wrap(coro.ErrNetUnreach, err)
	case unix.EHOSTUNREACH:
		return coro.Wrap(coro.ErrHostUnreach, err)
	case unix.EACCES, unix.EPERM:
		return coro.Wrap(coro.ErrAccessDenied, err)
	case unix.EAFNOSUPPORT:
		return coro.Wrap(coro.ErrAddrFamily, err)
	default:
		return coro.Wrap(coro.ErrIO, err)
	}
}
