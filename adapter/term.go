package adapter

import (
	"github.com/coroio/coro"
	"github.com/coroio/coro/socket"
)

// Term adds an explicit terminator message atop an inner socket.Message:
// Done sends one message equal to term; once a received message equals
// term, that and every subsequent MRecvList call latches ErrClosedOrderly,
// matching the spec's "done sends the terminator; receive, on seeing it,
// latches EPIPE" contract.
type Term struct {
	inner socket.Message
	term  []byte
	eof   bool
}

// AttachTerm wraps inner, using term as the sentinel terminator message.
func AttachTerm(inner socket.Message, term []byte) *Term {
	return &Term{inner: inner, term: append([]byte(nil), term...)}
}

// Detach returns the wrapped message socket. deadline is unused; no
// handshake to finish here (a bare Term, unlike Hup, always sends its
// terminator via Done, not Detach).
func (m *Term) Detach(deadline coro.Deadline) socket.Message {
	return m.inner
}

// Done sends the terminator message, signaling an orderly half-close to the
// peer.
func (m *Term) Done(t *coro.Task, deadline coro.Deadline) error {
	return m.inner.MSendList(t, coro.Of(m.term), deadline)
}

func (m *Term) MSendList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) error {
	return m.inner.MSendList(t, list, deadline)
}

func (m *Term) MRecvList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) (int, error) {
	if m.eof {
		return 0, coro.ErrClosedOrderly
	}
	n, err := m.inner.MRecvList(t, list, deadline)
	if err != nil {
		return n, err
	}
	if n == len(m.term) && bytesEqual(takeIolist(list, n).Bytes(), m.term) {
		m.eof = true
		return 0, coro.ErrClosedOrderly
	}
	return n, nil
}
