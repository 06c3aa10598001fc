package adapter

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"strings"

	"github.com/coroio/coro"
	"github.com/coroio/coro/socket"
)

const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// acceptKey computes the RFC 6455 Sec-WebSocket-Accept value for a given
// Sec-WebSocket-Key: Base64(SHA1(key ++ GUID)). SHA-1 is used only for this
// key derivation and carries no security claim.
func acceptKey(clientKey string) string {
	sum := sha1.Sum([]byte(clientKey + websocketGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func newClientKey() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", coro.Wrap(coro.ErrIO, err)
	}
	return base64.StdEncoding.EncodeToString(raw[:]), nil
}

// DialWebSocket performs the RFC 6455 client opening handshake atop inner
// (a plain byte stream, e.g. a TCP connection) using resource and host as
// the request target and Host header, then returns a WSRaw frame codec in
// client (masking) mode.
func DialWebSocket(t *coro.Task, inner socket.ByteStream, host, resource string, deadline coro.Deadline) (*WSRaw, error) {
	h, err := AttachHTTP(inner)
	if err != nil {
		return nil, err
	}
	key, err := newClientKey()
	if err != nil {
		return nil, err
	}
	if err := h.SendRequestLine(t, "GET", resource, deadline); err != nil {
		return nil, err
	}
	headers := [][2]string{
		{"Host", host},
		{"Upgrade", "websocket"},
		{"Connection", "Upgrade"},
		{"Sec-WebSocket-Key", key},
		{"Sec-WebSocket-Version", "13"},
	}
	for _, kv := range headers {
		if err := h.SendHeaderField(t, kv[0], kv[1], deadline); err != nil {
			return nil, err
		}
	}
	if err := h.Done(t, deadline); err != nil {
		return nil, err
	}

	code, _, err := h.RecvStatusLine(t, deadline)
	if err != nil {
		return nil, err
	}
	if code != 101 {
		return nil, coro.ErrProtocol
	}
	got := make(map[string]string)
	for {
		name, value, herr := h.RecvHeaderField(t, deadline)
		if herr == coro.ErrClosedOrderly {
			break
		}
		if herr != nil {
			return nil, herr
		}
		got[strings.ToLower(name)] = value
	}
	if !strings.EqualFold(got["upgrade"], "websocket") || !strings.Contains(strings.ToLower(got["connection"]), "upgrade") {
		return nil, coro.ErrProtocol
	}
	if got["sec-websocket-accept"] != acceptKey(key) {
		return nil, coro.ErrProtocol
	}
	return AttachWSRaw(h.Detach(deadline), true), nil
}

// AcceptWebSocket performs the RFC 6455 server opening handshake atop inner,
// validating the client's request and Upgrade headers, then returns a WSRaw
// frame codec in server (non-masking) mode.
func AcceptWebSocket(t *coro.Task, inner socket.ByteStream, deadline coro.Deadline) (*WSRaw, error) {
	h, err := AttachHTTP(inner)
	if err != nil {
		return nil, err
	}
	method, _, err := h.RecvRequestLine(t, deadline)
	if err != nil {
		return nil, err
	}
	if method != "GET" {
		return nil, coro.ErrProtocol
	}
	got := make(map[string]string)
	for {
		name, value, herr := h.RecvHeaderField(t, deadline)
		if herr == coro.ErrClosedOrderly {
			break
		}
		if herr != nil {
			return nil, herr
		}
		got[strings.ToLower(name)] = value
	}
	clientKey := got["sec-websocket-key"]
	if clientKey == "" || !strings.EqualFold(got["upgrade"], "websocket") ||
		!strings.Contains(strings.ToLower(got["connection"]), "upgrade") {
		return nil, coro.ErrProtocol
	}

	if err := h.SendStatusLine(t, 101, "Switching Protocols", deadline); err != nil {
		return nil, err
	}
	headers := [][2]string{
		{"Upgrade", "websocket"},
		{"Connection", "Upgrade"},
		{"Sec-WebSocket-Accept", acceptKey(clientKey)},
	}
	for _, kv := range headers {
		if err := h.SendHeaderField(t, kv[0], kv[1], deadline); err != nil {
			return nil, err
		}
	}
	if err := h.Done(t, deadline); err != nil {
		return nil, err
	}
	return AttachWSRaw(h.Detach(deadline), false), nil
}

// SendClose writes a close frame with a 2-byte status code and optional
// UTF-8 reason, then waits for the peer's own close frame (drained via
// MRecvList) bounded by deadline, matching spec.md's detach contract.
func SendClose(t *coro.Task, ws *WSRaw, status uint16, reason string, deadline coro.Deadline) error {
	payload := make([]byte, 2+len(reason))
	payload[0] = byte(status >> 8)
	payload[1] = byte(status)
	copy(payload[2:], reason)
	if err := ws.SendFrame(t, OpClose, payload, deadline); err != nil {
		return err
	}
	if ws.closed {
		return nil
	}
	var discard [256]byte
	for {
		_, err := ws.MRecvList(t, coro.Of(discard[:]), deadline)
		if err == coro.ErrClosedOrderly {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
