package adapter

import (
	"github.com/coroio/coro"
	"github.com/coroio/coro/socket"
)

// Hup wraps Term, additionally tracking whether this side ever sent a
// message. Detach uses that to skip sending the terminator for a peer that
// was silent the whole connection — there is nothing to terminate.
type Hup struct {
	term *Term
	sent bool
}

// AttachHup wraps inner with terminator-message framing and silent-peer
// detach tracking.
func AttachHup(inner socket.Message, term []byte) *Hup {
	return &Hup{term: AttachTerm(inner, term)}
}

func (h *Hup) MSendList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) error {
	if err := h.term.MSendList(t, list, deadline); err != nil {
		return err
	}
	h.sent = true
	return nil
}

func (h *Hup) MRecvList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) (int, error) {
	return h.term.MRecvList(t, list, deadline)
}

// Detach sends the terminator, unless this side never sent a message, then
// returns the wrapped message socket.
func (h *Hup) Detach(t *coro.Task, deadline coro.Deadline) (socket.Message, error) {
	if h.sent {
		if err := h.term.Done(t, deadline); err != nil {
			return nil, err
		}
	}
	return h.term.Detach(deadline), nil
}
