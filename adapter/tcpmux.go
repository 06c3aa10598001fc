package adapter

import (
	"golang.org/x/sys/unix"

	"github.com/coroio/coro"
	"github.com/coroio/coro/socket"
	"github.com/coroio/coro/transport"
)

// TCPMux multiplexes many named services onto one TCP port via an
// out-of-process broker reachable over a Unix domain socket: a listener
// registers a service name and then receives already-accepted connection
// fds passed over that socket (SCM_RIGHTS); a client instead TCP-connects
// straight to the broker's public port and names its desired service with a
// CRLF-terminated line before the broker splices the raw TCP connection
// through to the registered listener.
type TCPMux struct {
	sched *coro.Scheduler
	fd    int
}

// RegisterTCPMux connects to the broker's Unix domain socket at brokerPath
// and registers name, returning a TCPMux whose Accept receives passed
// connection fds for that service.
func RegisterTCPMux(sched *coro.Scheduler, t *coro.Task, brokerPath, name string, deadline coro.Deadline) (*TCPMux, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, coro.Wrap(coro.ErrIO, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, coro.Wrap(coro.ErrIO, err)
	}
	sa := &unix.SockaddrUnix{Name: brokerPath}
	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, coro.Wrap(coro.ErrIO, err)
	}
	if _, err := sched.WaitFD(t, fd, coro.EventOut, deadline); err != nil {
		unix.Close(fd)
		return nil, err
	}
	m := &TCPMux{sched: sched, fd: fd}
	if err := m.sendLine(t, "register "+name, deadline); err != nil {
		unix.Close(fd)
		return nil, err
	}
	ack, err := m.recvLine(t, deadline)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if ack != "ok" {
		unix.Close(fd)
		return nil, coro.ErrProtocol
	}
	return m, nil
}

func (m *TCPMux) Close() error { return unix.Close(m.fd) }

// Accept blocks until the broker passes a new connection fd for this
// service's name, then wraps it as a byte stream.
func (m *TCPMux) Accept(t *coro.Task, deadline coro.Deadline) (socket.ByteStream, error) {
	for {
		buf := make([]byte, 1)
		oob := make([]byte, unix.CmsgSpace(4))
		n, oobn, _, _, err := unix.Recvmsg(m.fd, buf, oob, 0)
		if err != nil {
			if err == unix.EAGAIN {
				if _, werr := m.sched.WaitFD(t, m.fd, coro.EventIn, deadline); werr != nil {
					return nil, werr
				}
				continue
			}
			return nil, coro.Wrap(coro.ErrIO, err)
		}
		if n == 0 {
			return nil, coro.ErrClosedOrderly
		}
		cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil || len(cmsgs) == 0 {
			return nil, coro.ErrProtocol
		}
		fds, err := unix.ParseUnixRights(&cmsgs[0])
		if err != nil || len(fds) == 0 {
			return nil, coro.ErrProtocol
		}
		connFd := fds[0]
		if err := unix.SetNonblock(connFd, true); err != nil {
			unix.Close(connFd)
			return nil, coro.Wrap(coro.ErrIO, err)
		}
		return newMuxConn(m.sched, connFd), nil
	}
}

func (m *TCPMux) sendLine(t *coro.Task, line string, deadline coro.Deadline) error {
	payload := append([]byte(line), '\r', '\n')
	for len(payload) > 0 {
		n, err := unix.Write(m.fd, payload)
		if err != nil {
			if err == unix.EAGAIN {
				if _, werr := m.sched.WaitFD(t, m.fd, coro.EventOut, deadline); werr != nil {
					return werr
				}
				continue
			}
			return coro.Wrap(coro.ErrIO, err)
		}
		payload = payload[n:]
	}
	return nil
}

func (m *TCPMux) recvLine(t *coro.Task, deadline coro.Deadline) (string, error) {
	var line []byte
	var one [1]byte
	for {
		n, err := unix.Read(m.fd, one[:])
		if err != nil {
			if err == unix.EAGAIN {
				if _, werr := m.sched.WaitFD(t, m.fd, coro.EventIn, deadline); werr != nil {
					return "", werr
				}
				continue
			}
			return "", coro.Wrap(coro.ErrIO, err)
		}
		if n == 0 {
			return "", coro.ErrClosedOrderly
		}
		if one[0] == '\n' {
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			return string(line), nil
		}
		line = append(line, one[0])
	}
}

// muxConn wraps a passed-fd connection as a plain byte stream, mirroring
// transport.TCPConn's EAGAIN-retry shape locally since the passed fd never
// goes through transport's own constructors.
type muxConn struct {
	sched *coro.Scheduler
	fd    int
	socket.ErrState
}

func newMuxConn(sched *coro.Scheduler, fd int) *muxConn {
	return &muxConn{sched: sched, fd: fd}
}

func (c *muxConn) Close() error { return unix.Close(c.fd) }

func (c *muxConn) SendList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) error {
	if err := c.GuardSend(); err != nil {
		return err
	}
	for list.Len() > 0 {
		n, err := unix.Write(c.fd, list[0].Data)
		if err != nil {
			if err == unix.EAGAIN {
				if _, werr := c.sched.WaitFD(t, c.fd, coro.EventOut, deadline); werr != nil {
					c.FailOut()
					return werr
				}
				continue
			}
			c.FailOut()
			return coro.Wrap(coro.ErrIO, err)
		}
		list = list.Consume(n)
	}
	return nil
}

func (c *muxConn) RecvList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) error {
	if err := c.GuardRecv(); err != nil {
		return err
	}
	for list.Len() > 0 {
		n, err := unix.Read(c.fd, list[0].Data)
		if err != nil {
			if err == unix.EAGAIN {
				if _, werr := c.sched.WaitFD(t, c.fd, coro.EventIn, deadline); werr != nil {
					c.FailIn()
					return werr
				}
				continue
			}
			c.FailIn()
			return coro.Wrap(coro.ErrIO, err)
		}
		if n == 0 {
			c.MarkEOF()
			return coro.ErrClosedOrderly
		}
		list = list.Consume(n)
	}
	return nil
}

// DialTCPMux connects to the broker's public TCP address, names the desired
// service via a CRLF-terminated line, and returns the now-spliced
// connection as a plain byte stream.
func DialTCPMux(sched *coro.Scheduler, t *coro.Task, brokerAddr, name string, deadline coro.Deadline) (socket.ByteStream, error) {
	conn, err := transport.DialTCP(sched, t, brokerAddr, deadline)
	if err != nil {
		return nil, err
	}
	crlf, err := AttachCRLF(conn)
	if err != nil {
		return nil, err
	}
	if err := crlf.SendLine(t, []byte(name), deadline); err != nil {
		return nil, err
	}
	return crlf.Detach(deadline), nil
}
