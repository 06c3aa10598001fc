package adapter

import (
	"github.com/coroio/coro"
	"github.com/coroio/coro/socket"
)

const maxSuffixLen = 32

// Suffix frames messages atop a byte stream with a fixed terminator
// sequence (up to 32 bytes). It implements socket.Message. Send never scans
// the payload for the terminator — callers are trusted not to embed it — but
// receive reads byte-by-byte through a sliding window so a terminator split
// across two reads is still recognized.
type Suffix struct {
	inner socket.ByteStream
	term  []byte
}

// AttachSuffix wraps inner in a terminator-framed message adapter. term must
// be 1..32 bytes.
func AttachSuffix(inner socket.ByteStream, term []byte) (*Suffix, error) {
	if len(term) == 0 || len(term) > maxSuffixLen {
		return nil, coro.ErrInvalid
	}
	return &Suffix{inner: inner, term: append([]byte(nil), term...)}, nil
}

func (s *Suffix) Detach(deadline coro.Deadline) socket.ByteStream {
	return s.inner
}

// MSendList writes list's payload followed by the terminator.
func (s *Suffix) MSendList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) error {
	if err := s.inner.SendList(t, list, deadline); err != nil {
		return err
	}
	return s.inner.SendList(t, coro.Of(s.term), deadline)
}

// MRecvList reads one byte at a time, maintaining a sliding window of the
// last len(term) bytes, until the window matches term. Bytes read before the
// terminator are copied into list; if list runs out of room first, the
// message is still drained to the terminator (preserving the stream's
// framing) and EMSGSIZE is reported.
func (s *Suffix) MRecvList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) (int, error) {
	window := make([]byte, 0, len(s.term))
	var one [1]byte
	n := 0
	overflowed := false
	dst := list

	for {
		if err := s.inner.RecvList(t, coro.Of(one[:]), deadline); err != nil {
			return n, err
		}
		window = append(window, one[0])
		if len(window) > len(s.term) {
			spill := window[0]
			window = window[1:]
			if !overflowed {
				if !putByte(&dst, spill) {
					overflowed = true
				}
				n++
			}
		}
		if len(window) == len(s.term) && bytesEqual(window, s.term) {
			break
		}
	}
	if overflowed {
		return n, coro.ErrMessageTooLarge
	}
	return n, nil
}

// putByte writes b into the front of *dst, advancing past a fully-consumed
// segment, and reports whether there was room.
func putByte(dst *coro.Iolist, b byte) bool {
	l := *dst
	for len(l) > 0 && len(l[0].Data) == 0 {
		l = l[1:]
	}
	if len(l) == 0 {
		*dst = l
		return false
	}
	l[0].Data[0] = b
	l[0].Data = l[0].Data[1:]
	*dst = l
	return true
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
