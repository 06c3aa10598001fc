package adapter

import (
	"crypto/tls"
	"io"
	"net"
	"time"

	"github.com/coroio/coro"
	"github.com/coroio/coro/socket"
)

// netConnShim adapts a socket.ByteStream plus a bound Task to the net.Conn
// interface crypto/tls requires. There is no separate "WANT_READ/WANT_WRITE"
// followup loop to drive here — crypto/tls already performs its own
// synchronous Read/Write retry internally — so the shim's job is purely
// translating one blocking call shape into the other, with deadline/
// cancellation riding along via the bound Task and a reconfigurable
// per-op deadline standing in for SetDeadline.
type netConnShim struct {
	t        *coro.Task
	inner    socket.ByteStream
	deadline coro.Deadline
}

func (c *netConnShim) Read(p []byte) (int, error) {
	if err := c.inner.RecvList(c.t, coro.Of(p), c.deadline); err != nil {
		if err == coro.ErrClosedOrderly {
			return 0, io.EOF
		}
		return 0, err
	}
	return len(p), nil
}

func (c *netConnShim) Write(p []byte) (int, error) {
	if err := c.inner.SendList(c.t, coro.Of(p), c.deadline); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *netConnShim) Close() error { return nil }

func (c *netConnShim) LocalAddr() net.Addr  { return nil }
func (c *netConnShim) RemoteAddr() net.Addr { return nil }

func (c *netConnShim) SetDeadline(_ time.Time) error     { return nil }
func (c *netConnShim) SetReadDeadline(_ time.Time) error { return nil }
func (c *netConnShim) SetWriteDeadline(_ time.Time) error {
	return nil
}

// TLS adapts an inner byte stream to an encrypted one via Go's standard
// crypto/tls, the equivalent of the spec's OpenSSL-BIO adapter (out of scope
// per spec.md §1; crypto/tls fills the same role). It implements
// socket.ByteStream.
type TLS struct {
	inner socket.ByteStream
	conn  *tls.Conn
	shim  *netConnShim
}

// AttachTLSClient performs a TLS client handshake atop inner using cfg.
func AttachTLSClient(t *coro.Task, inner socket.ByteStream, cfg *tls.Config, deadline coro.Deadline) (*TLS, error) {
	shim := &netConnShim{t: t, inner: inner, deadline: deadline}
	conn := tls.Client(shim, cfg)
	if err := conn.HandshakeContext(taskContext(t)); err != nil {
		return nil, coro.Wrap(coro.ErrProtocol, err)
	}
	return &TLS{inner: inner, conn: conn, shim: shim}, nil
}

// AttachTLSServer performs a TLS server handshake atop inner using cfg
// (which must carry at least one certificate).
func AttachTLSServer(t *coro.Task, inner socket.ByteStream, cfg *tls.Config, deadline coro.Deadline) (*TLS, error) {
	shim := &netConnShim{t: t, inner: inner, deadline: deadline}
	conn := tls.Server(shim, cfg)
	if err := conn.HandshakeContext(taskContext(t)); err != nil {
		return nil, coro.Wrap(coro.ErrProtocol, err)
	}
	return &TLS{inner: inner, conn: conn, shim: shim}, nil
}

// SendList writes list through the TLS record layer. deadline governs the
// underlying shim's blocking reads/writes for this call only.
func (c *TLS) SendList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) error {
	c.shim.t, c.shim.deadline = t, deadline
	for _, seg := range list {
		if _, err := c.conn.Write(seg.Data); err != nil {
			return translateTLSErr(err)
		}
	}
	return nil
}

// RecvList reads exactly list.Len() bytes through the TLS record layer.
func (c *TLS) RecvList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) error {
	c.shim.t, c.shim.deadline = t, deadline
	for _, seg := range list {
		if _, err := io.ReadFull(c.conn, seg.Data); err != nil {
			return translateTLSErr(err)
		}
	}
	return nil
}

// Done sends a close_notify alert, the TLS equivalent of a half-close.
func (c *TLS) Done() error {
	if err := c.conn.CloseWrite(); err != nil {
		return translateTLSErr(err)
	}
	return nil
}

// Detach waits (bounded by deadline) for the peer's close_notify, then
// returns the wrapped byte stream.
func (c *TLS) Detach(t *coro.Task, deadline coro.Deadline) (socket.ByteStream, error) {
	c.shim.t, c.shim.deadline = t, deadline
	var buf [256]byte
	for {
		_, err := c.conn.Read(buf[:])
		if err == nil {
			continue
		}
		if err == io.EOF {
			return c.inner, nil
		}
		return nil, translateTLSErr(err)
	}
}

func translateTLSErr(err error) error {
	if err == io.EOF {
		return coro.ErrClosedOrderly
	}
	if ce, ok := err.(*coro.CoreError); ok {
		return ce
	}
	return coro.Wrap(coro.ErrProtocol, err)
}
