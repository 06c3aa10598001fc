// Package adapter implements the composable protocol-adapter stack from
// spec.md §4.I: each adapter attaches atop an inner socket.ByteStream or
// socket.Message and exposes one of those same interfaces outward, so
// adapters compose by wrapping. Most pass the caller's Iolist through; WSRaw
// and DTLS copy it into one contiguous buffer.
package adapter

import (
	"github.com/coroio/coro"
	"github.com/coroio/coro/socket"
)

// Prefix frames messages atop a byte stream with a fixed-width unsigned
// length prefix (1-8 bytes). It implements socket.Message.
type Prefix struct {
	inner socket.ByteStream
	width int
	order coro.ByteOrder
}

// AttachPrefix wraps inner in a length-prefix message framer. width must be
// 1..8; order selects big- or little-endian encoding of the prefix.
func AttachPrefix(inner socket.ByteStream, width int, order coro.ByteOrder) (*Prefix, error) {
	if width < 1 || width > 8 {
		return nil, coro.ErrInvalid
	}
	return &Prefix{inner: inner, width: width, order: order}, nil
}

// Detach returns the wrapped byte stream. There is no in-flight handshake to
// finish, so deadline is unused; it is accepted for symmetry with other
// adapters' Detach signatures.
func (p *Prefix) Detach(deadline coro.Deadline) socket.ByteStream {
	return p.inner
}

// MSendList writes the length prefix, then list's payload, as two SendList
// calls against the inner stream.
func (p *Prefix) MSendList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) error {
	var hdr [8]byte
	n := uint64(list.Len())
	coro.PutUint(hdr[:p.width], n, p.width, p.order)
	if err := p.inner.SendList(t, coro.Of(hdr[:p.width]), deadline); err != nil {
		return err
	}
	return p.inner.SendList(t, list, deadline)
}

// MRecvList reads the prefix, then exactly that many bytes. If list cannot
// hold the whole message, the message is still drained off the wire (so the
// stream stays framed for the next call) but MRecvList reports EMSGSIZE.
func (p *Prefix) MRecvList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) (int, error) {
	var hdr [8]byte
	if err := p.inner.RecvList(t, coro.Of(hdr[:p.width]), deadline); err != nil {
		return 0, err
	}
	size := int(coro.GetUint(hdr[:p.width], p.width, p.order))

	if list.Len() < size {
		if err := p.drain(t, size, deadline); err != nil {
			return 0, err
		}
		return size, coro.ErrMessageTooLarge
	}
	return size, p.inner.RecvList(t, takeIolist(list, size), deadline)
}

// takeIolist returns the leading n bytes of list as a fresh Iolist, trimming
// the final segment if n falls inside it. Prefix uses this to bound a receive
// to exactly one message's length; Term uses it to view the bytes received.
func takeIolist(list coro.Iolist, n int) coro.Iolist {
	var out coro.Iolist
	for _, seg := range list {
		if n <= 0 {
			break
		}
		if len(seg.Data) > n {
			out = append(out, coro.IOBuf{Data: seg.Data[:n]})
			n = 0
			break
		}
		out = append(out, seg)
		n -= len(seg.Data)
	}
	return out
}

// drain reads and discards n bytes, used when the caller's buffer is too
// small to hold a message that must still be removed from the wire.
func (p *Prefix) drain(t *coro.Task, n int, deadline coro.Deadline) error {
	const chunk = 4096
	buf := make([]byte, chunk)
	for n > 0 {
		k := n
		if k > chunk {
			k = chunk
		}
		if err := p.inner.RecvList(t, coro.Of(buf[:k]), deadline); err != nil {
			return err
		}
		n -= k
	}
	return nil
}
