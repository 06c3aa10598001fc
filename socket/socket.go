// Package socket defines the byte- and message-oriented socket interfaces
// every transport and protocol adapter in this runtime implements, plus the
// sticky per-direction error state shared by all of them.
package socket

import (
	"github.com/coroio/coro"
)

// ByteStream is the bsock vtable from spec.md §4.G: byte semantics, no
// message boundaries. A call transfers either every requested byte or none
// (partial success is never observable to the caller): on a failed receive,
// bytes already read off the wire are retained by the implementation for the
// next successful call, and the socket is marked failed so every subsequent
// op in that direction returns coro.ErrConnReset.
type ByteStream interface {
	SendList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) error
	RecvList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) error
}

// Message is the msock vtable: each call sends or receives exactly one
// complete message. A receive into a too-small buffer fails EMSGSIZE and
// marks the socket failed; a receive with a nil list discards the message
// and returns its size.
type Message interface {
	MSendList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) error
	MRecvList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) (size int, err error)
}

// ErrState is the sticky per-direction failure tracking shared by every
// ByteStream/Message implementation in this runtime: once a direction has
// errored, every future op in that direction returns ErrConnReset; once
// Done was called outbound, every future send returns ErrClosedOrderly;
// once a clean EOF was observed inbound, every future receive returns
// ErrClosedOrderly. Embed it by value in a socket's struct and call its
// guard methods at the top of SendList/RecvList.
type ErrState struct {
	inErr, outErr   bool
	inDone, outDone bool
}

// GuardSend returns the sticky error for an outbound op, if any, checking
// outErr before outDone (a socket that failed while also being told Done is
// reported as failed, since that's the more specific diagnosis).
func (s *ErrState) GuardSend() error {
	if s.outErr {
		return coro.ErrConnReset
	}
	if s.outDone {
		return coro.ErrClosedOrderly
	}
	return nil
}

// GuardRecv is GuardSend's inbound counterpart.
func (s *ErrState) GuardRecv() error {
	if s.inErr {
		return coro.ErrConnReset
	}
	if s.inDone {
		return coro.ErrClosedOrderly
	}
	return nil
}

// FailOut marks the outbound direction permanently failed.
func (s *ErrState) FailOut() { s.outErr = true }

// FailIn marks the inbound direction permanently failed.
func (s *ErrState) FailIn() { s.inErr = true }

// MarkDone marks the outbound direction cleanly half-closed (hdone).
func (s *ErrState) MarkDone() { s.outDone = true }

// MarkEOF marks the inbound direction as having observed a clean EOF.
func (s *ErrState) MarkEOF() { s.inDone = true }
