package coro

// IOBuf is one scatter/gather buffer segment. A byte-stream send/recv call
// accepts a slice of these instead of a single []byte, so callers can build a
// message out of pre-existing buffers (header, body, trailer) without an
// extra copy.
type IOBuf struct {
	Data []byte
}

// Iolist is an ordered list of buffer segments. Unlike the C implementation's
// iolist_t, which is an intrusive singly-linked list carrying a reserved bit
// to detect accidental cycles, this is a plain slice: Go has no manual
// pointer wiring for a caller to get wrong, so there is no cycle to detect.
type Iolist []IOBuf

// Len returns the total byte length across every segment.
func (l Iolist) Len() int {
	n := 0
	for _, b := range l {
		n += len(b.Data)
	}
	return n
}

// Bytes flattens the list into a single contiguous slice. Prefer iterating
// segments directly (via WriteTo-style loops) on hot paths; Bytes is for
// callers that need one []byte, e.g. to hand to a library outside this
// runtime's control.
func (l Iolist) Bytes() []byte {
	out := make([]byte, 0, l.Len())
	for _, b := range l {
		out = append(out, b.Data...)
	}
	return out
}

// Of builds an Iolist from one or more byte slices, the common case of a
// caller with a single buffer to send.
func Of(bufs ...[]byte) Iolist {
	l := make(Iolist, len(bufs))
	for i, b := range bufs {
		l[i] = IOBuf{Data: b}
	}
	return l
}

// Consume removes the first n bytes from the front of the list, splitting a
// segment if n falls inside it. Transport and tcpmux send/recv loops use
// this to skip the bytes already transferred by a partial read or write
// without copying the remainder.
func (l Iolist) Consume(n int) Iolist {
	return l.consume(n)
}

func (l Iolist) consume(n int) Iolist {
	for n > 0 && len(l) > 0 {
		seg := l[0].Data
		if n < len(seg) {
			l[0].Data = seg[n:]
			return l
		}
		n -= len(seg)
		l = l[1:]
	}
	return l
}
