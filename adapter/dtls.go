package adapter

import (
	"io"
	"net"
	"time"

	"github.com/pion/dtls/v3"

	"github.com/coroio/coro"
	"github.com/coroio/coro/socket"
)

// pktConnShim adapts a socket.Message plus a bound Task to the net.Conn
// interface pion/dtls requires of its transport: each Read/Write call must
// move exactly one datagram, which is precisely msock's contract, so the
// shim is a straight translation rather than any buffering layer.
type pktConnShim struct {
	t        *coro.Task
	inner    socket.Message
	deadline coro.Deadline
}

func (c *pktConnShim) Read(p []byte) (int, error) {
	n, err := c.inner.MRecvList(c.t, coro.Of(p), c.deadline)
	if err != nil {
		if err == coro.ErrClosedOrderly {
			return 0, io.EOF
		}
		return 0, err
	}
	return n, nil
}

func (c *pktConnShim) Write(p []byte) (int, error) {
	if err := c.inner.MSendList(c.t, coro.Of(p), c.deadline); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *pktConnShim) Close() error { return nil }

func (c *pktConnShim) LocalAddr() net.Addr  { return nil }
func (c *pktConnShim) RemoteAddr() net.Addr { return nil }

func (c *pktConnShim) SetDeadline(_ time.Time) error      { return nil }
func (c *pktConnShim) SetReadDeadline(_ time.Time) error  { return nil }
func (c *pktConnShim) SetWriteDeadline(_ time.Time) error { return nil }

// DTLS adapts an inner message socket (a connected transport.UDPSocket, per
// spec.md §4.H) to an encrypted one via pion/dtls, the UDP-shaped sibling of
// tls.go's crypto/tls wrapping: DTLS is a named, mandatory adapter (spec.md
// §2 table row I, §4.I, §6), unlike the OpenSSL BIO collaborator the spec
// explicitly excludes. It implements socket.Message: one MSendList/MRecvList
// call moves exactly one DTLS application-data record, matching pion/dtls's
// own one-record-per-Read/Write Conn semantics.
type DTLS struct {
	inner socket.Message
	conn  *dtls.Conn
	shim  *pktConnShim
}

// AttachDTLSClient performs a DTLS client handshake atop inner using cfg.
// Unlike crypto/tls's lazy handshake, pion/dtls's Client/Server run the
// handshake inline, so ClientWithContext is what carries task cancellation.
func AttachDTLSClient(t *coro.Task, inner socket.Message, cfg *dtls.Config, deadline coro.Deadline) (*DTLS, error) {
	shim := &pktConnShim{t: t, inner: inner, deadline: deadline}
	conn, err := dtls.ClientWithContext(taskContext(t), shim, cfg)
	if err != nil {
		return nil, coro.Wrap(coro.ErrProtocol, err)
	}
	return &DTLS{inner: inner, conn: conn, shim: shim}, nil
}

// AttachDTLSServer performs a DTLS server handshake atop inner using cfg
// (which must carry at least one certificate, or a PSK callback).
func AttachDTLSServer(t *coro.Task, inner socket.Message, cfg *dtls.Config, deadline coro.Deadline) (*DTLS, error) {
	shim := &pktConnShim{t: t, inner: inner, deadline: deadline}
	conn, err := dtls.ServerWithContext(taskContext(t), shim, cfg)
	if err != nil {
		return nil, coro.Wrap(coro.ErrProtocol, err)
	}
	return &DTLS{inner: inner, conn: conn, shim: shim}, nil
}

// MSendList encrypts list and sends it as a single DTLS record.
func (c *DTLS) MSendList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) error {
	c.shim.t, c.shim.deadline = t, deadline
	if _, err := c.conn.Write(list.Bytes()); err != nil {
		return translateDTLSErr(err)
	}
	return nil
}

// MRecvList receives and decrypts exactly one DTLS record into list's
// backing storage, reporting its size.
func (c *DTLS) MRecvList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) (int, error) {
	c.shim.t, c.shim.deadline = t, deadline
	buf := make([]byte, list.Len())
	n, err := c.conn.Read(buf)
	if err != nil {
		return 0, translateDTLSErr(err)
	}
	remaining := buf[:n]
	for _, seg := range list {
		k := copy(seg.Data, remaining)
		remaining = remaining[k:]
		if len(remaining) == 0 {
			break
		}
	}
	return n, nil
}

// Done closes the DTLS association, sending a close_notify alert. Unlike
// stream TLS's CloseWrite, DTLS has no half-close of application data — a
// datagram transport has no notion of a pending write queue to flush before
// signaling EOF — so Done and a full Close are the same operation here.
func (c *DTLS) Done() error {
	if err := c.conn.Close(); err != nil {
		return translateDTLSErr(err)
	}
	return nil
}

// Detach waits (bounded by deadline) for the peer's close_notify, then
// returns the wrapped message socket.
func (c *DTLS) Detach(t *coro.Task, deadline coro.Deadline) (socket.Message, error) {
	c.shim.t, c.shim.deadline = t, deadline
	var buf [2048]byte
	for {
		_, err := c.conn.Read(buf[:])
		if err == nil {
			continue
		}
		if err == io.EOF {
			return c.inner, nil
		}
		return nil, translateDTLSErr(err)
	}
}

func translateDTLSErr(err error) error {
	if err == io.EOF {
		return coro.ErrClosedOrderly
	}
	if ce, ok := err.(*coro.CoreError); ok {
		return ce
	}
	return coro.Wrap(coro.ErrProtocol, err)
}
