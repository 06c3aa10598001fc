package adapter

import (
	"bytes"

	"github.com/coroio/coro"
	"github.com/coroio/coro/socket"
)

var crlfTerm = []byte{'\r', '\n'}

// CRLF is Suffix specialized to a "\r\n" terminator, the framing http and
// the line-oriented adapters build on. Send rejects any payload containing
// an embedded CRLF (the caller must encode around it, e.g. header-value
// escaping); receive treats an empty line (a message whose payload is zero
// bytes) as the stream's terminator, reporting it as ErrClosedOrderly rather
// than an empty message.
type CRLF struct {
	suffix *Suffix
}

// AttachCRLF wraps inner in CRLF-terminated line framing.
func AttachCRLF(inner socket.ByteStream) (*CRLF, error) {
	s, err := AttachSuffix(inner, crlfTerm)
	if err != nil {
		return nil, err
	}
	return &CRLF{suffix: s}, nil
}

func (c *CRLF) Detach(deadline coro.Deadline) socket.ByteStream {
	return c.suffix.Detach(deadline)
}

// SendLine writes payload followed by CRLF. payload must not itself contain
// a CRLF sequence.
func (c *CRLF) SendLine(t *coro.Task, payload []byte, deadline coro.Deadline) error {
	if bytes.Contains(payload, crlfTerm) {
		return coro.ErrInvalid
	}
	return c.suffix.MSendList(t, coro.Of(payload), deadline)
}

// RecvLine reads one line into buf, returning its length. An empty line
// (immediate CRLF) is reported as coro.ErrClosedOrderly, matching the HTTP
// adapter's end-of-headers convention.
func (c *CRLF) RecvLine(t *coro.Task, buf []byte, deadline coro.Deadline) (int, error) {
	n, err := c.suffix.MRecvList(t, coro.Of(buf), deadline)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, coro.ErrClosedOrderly
	}
	return n, nil
}
