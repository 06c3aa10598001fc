package adapter

import (
	"io"
	"net"

	"github.com/coroio/coro"
)

// memStream adapts a net.Pipe() half to socket.ByteStream for adapter tests:
// deadlines are ignored since net.Pipe's Read/Write already block exactly
// the way these tests need, with no fd or scheduler involved.
type memStream struct {
	conn net.Conn
}

func newMemPipe() (*memStream, *memStream) {
	a, b := net.Pipe()
	return &memStream{conn: a}, &memStream{conn: b}
}

func (m *memStream) SendList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) error {
	for _, seg := range list {
		if _, err := m.conn.Write(seg.Data); err != nil {
			return coro.Wrap(coro.ErrIO, err)
		}
	}
	return nil
}

func (m *memStream) RecvList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) error {
	for _, seg := range list {
		if _, err := io.ReadFull(m.conn, seg.Data); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return coro.ErrClosedOrderly
			}
			return coro.Wrap(coro.ErrIO, err)
		}
	}
	return nil
}

func (m *memStream) Close() error { return m.conn.Close() }
