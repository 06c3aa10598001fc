package adapter

import (
	"strconv"
	"strings"

	"github.com/coroio/coro"
	"github.com/coroio/coro/socket"
)

// HTTP implements the line-oriented HTTP/1.1 framing from spec.md §4.I/§6:
// request line, status line, and header fields, each CRLF-terminated, ending
// in an empty line. It is built atop CRLF rather than reusing Term/Hup,
// since spec.md's "term(empty line)" here means exactly CRLF's own
// empty-line convention, not a distinct sentinel message.
type HTTP struct {
	crlf *CRLF
}

// AttachHTTP wraps inner in HTTP/1.1 line framing.
func AttachHTTP(inner socket.ByteStream) (*HTTP, error) {
	c, err := AttachCRLF(inner)
	if err != nil {
		return nil, err
	}
	return &HTTP{crlf: c}, nil
}

// Detach unwraps CRLF and returns the underlying byte stream.
func (h *HTTP) Detach(deadline coro.Deadline) socket.ByteStream {
	return h.crlf.Detach(deadline)
}

// SendRequestLine writes "METHOD SP RESOURCE SP HTTP/1.1".
func (h *HTTP) SendRequestLine(t *coro.Task, method, resource string, deadline coro.Deadline) error {
	line := method + " " + resource + " HTTP/1.1"
	return h.crlf.SendLine(t, []byte(line), deadline)
}

// RecvRequestLine reads and parses a request line.
func (h *HTTP) RecvRequestLine(t *coro.Task, deadline coro.Deadline) (method, resource string, err error) {
	var buf [8192]byte
	n, err := h.crlf.RecvLine(t, buf[:], deadline)
	if err != nil {
		return "", "", err
	}
	parts := strings.SplitN(string(buf[:n]), " ", 3)
	if len(parts) != 3 || parts[2] != "HTTP/1.1" {
		return "", "", coro.ErrProtocol
	}
	return parts[0], parts[1], nil
}

// SendStatusLine writes "HTTP/1.1 SP code SP reason".
func (h *HTTP) SendStatusLine(t *coro.Task, code int, reason string, deadline coro.Deadline) error {
	if code < 100 || code > 599 {
		return coro.ErrInvalid
	}
	line := "HTTP/1.1 " + strconv.Itoa(code) + " " + reason
	return h.crlf.SendLine(t, []byte(line), deadline)
}

// RecvStatusLine reads and parses a status line.
func (h *HTTP) RecvStatusLine(t *coro.Task, deadline coro.Deadline) (code int, reason string, err error) {
	var buf [8192]byte
	n, err := h.crlf.RecvLine(t, buf[:], deadline)
	if err != nil {
		return 0, "", err
	}
	parts := strings.SplitN(string(buf[:n]), " ", 3)
	if len(parts) < 2 || parts[0] != "HTTP/1.1" {
		return 0, "", coro.ErrProtocol
	}
	code, cerr := strconv.Atoi(parts[1])
	if cerr != nil || code < 100 || code > 599 {
		return 0, "", coro.ErrProtocol
	}
	if len(parts) == 3 {
		reason = parts[2]
	}
	return code, reason, nil
}

// SendHeaderField writes "Name: value".
func (h *HTTP) SendHeaderField(t *coro.Task, name, value string, deadline coro.Deadline) error {
	if !isValidHeaderName(name) {
		return coro.ErrInvalid
	}
	line := name + ": " + strings.TrimSpace(value)
	return h.crlf.SendLine(t, []byte(line), deadline)
}

// RecvHeaderField reads and parses one header field. The caller should stop
// calling this (and move on to the body, if any) when it instead sees
// coro.ErrClosedOrderly, signaling the empty line that ends the header block.
func (h *HTTP) RecvHeaderField(t *coro.Task, deadline coro.Deadline) (name, value string, err error) {
	var buf [8192]byte
	n, err := h.crlf.RecvLine(t, buf[:], deadline)
	if err != nil {
		return "", "", err
	}
	line := string(buf[:n])
	idx := strings.IndexByte(line, ':')
	if idx < 0 || !isValidHeaderName(line[:idx]) {
		return "", "", coro.ErrProtocol
	}
	return line[:idx], strings.TrimSpace(line[idx+1:]), nil
}

// Done sends the empty line that ends the header block.
func (h *HTTP) Done(t *coro.Task, deadline coro.Deadline) error {
	return h.crlf.SendLine(t, nil, deadline)
}

func isValidHeaderName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}
