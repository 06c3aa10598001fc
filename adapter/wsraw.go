package adapter

import (
	"encoding/binary"
	"math/rand"

	"github.com/coroio/coro"
	"github.com/coroio/coro/socket"
)

// WebSocket opcodes, per RFC 6455 §11.8.
const (
	OpContinuation byte = 0x0
	OpText         byte = 0x1
	OpBinary       byte = 0x2
	OpClose        byte = 0x8
	OpPing         byte = 0x9
	OpPong         byte = 0xA
)

const maxControlPayload = 125

// WSRaw is the RFC 6455 frame codec without the opening HTTP handshake, for
// callers that perform (or already performed) the handshake separately. It
// implements socket.Message, defaulting to the binary opcode; SendText and
// LastOpcode give access to the text/binary distinction spec.md tracks per
// message.
type WSRaw struct {
	inner  socket.ByteStream
	client bool // true: this side masks outgoing frames, rejects masked incoming
	lastOp byte
	closed bool
}

// AttachWSRaw wraps inner in the WebSocket frame codec. client selects
// whether this endpoint is the masking side (true) or the non-masking
// server side (false), per RFC 6455's asymmetric masking rule.
func AttachWSRaw(inner socket.ByteStream, client bool) *WSRaw {
	return &WSRaw{inner: inner, client: client}
}

func (w *WSRaw) Detach(deadline coro.Deadline) socket.ByteStream {
	return w.inner
}

// MSendList sends list as a single unfragmented binary message.
func (w *WSRaw) MSendList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) error {
	return w.SendFrame(t, OpBinary, list.Bytes(), deadline)
}

// SendText sends payload as a single unfragmented text message.
func (w *WSRaw) SendText(t *coro.Task, payload []byte, deadline coro.Deadline) error {
	return w.SendFrame(t, OpText, payload, deadline)
}

// SendFrame writes one complete, unfragmented frame with the given opcode.
// Control opcodes (close/ping/pong) larger than 125 bytes are rejected.
func (w *WSRaw) SendFrame(t *coro.Task, opcode byte, payload []byte, deadline coro.Deadline) error {
	if isControlOpcode(opcode) && len(payload) > maxControlPayload {
		return coro.ErrProtocol
	}
	header := encodeHeader(true, opcode, len(payload), w.client)
	if err := w.inner.SendList(t, coro.Of(header), deadline); err != nil {
		return err
	}
	if !w.client {
		return w.inner.SendList(t, coro.Of(payload), deadline)
	}
	masked := make([]byte, len(payload))
	var key [4]byte
	binary.LittleEndian.PutUint32(key[:], rand.Uint32())
	for i, b := range payload {
		masked[i] = b ^ key[i%4]
	}
	if err := w.inner.SendList(t, coro.Of(key[:]), deadline); err != nil {
		return err
	}
	return w.inner.SendList(t, coro.Of(masked), deadline)
}

// MRecvList reads one complete message, reassembling fragmentation
// internally, and reports its total size. Call LastOpcode afterwards if the
// caller needs to distinguish text from binary.
func (w *WSRaw) MRecvList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) (int, error) {
	total := 0
	dst := list
	for {
		opcode, payload, fin, err := w.recvOneFrame(t, deadline)
		if err != nil {
			return total, err
		}
		if isControlOpcode(opcode) {
			if err := w.handleControl(t, opcode, payload, deadline); err != nil {
				return total, err
			}
			if opcode == OpClose {
				return total, coro.ErrClosedOrderly
			}
			continue
		}
		if opcode != OpContinuation {
			w.lastOp = opcode
		}
		for _, b := range payload {
			if !putByte(&dst, b) {
				return total, coro.ErrMessageTooLarge
			}
			total++
		}
		if fin {
			return total, nil
		}
	}
}

// LastOpcode reports the data opcode (text or binary) of the most recently
// completed MRecvList call.
func (w *WSRaw) LastOpcode() byte { return w.lastOp }

func (w *WSRaw) handleControl(t *coro.Task, opcode byte, payload []byte, deadline coro.Deadline) error {
	switch opcode {
	case OpPing:
		return w.SendFrame(t, OpPong, payload, deadline)
	case OpPong:
		return nil
	case OpClose:
		w.closed = true
		return nil
	default:
		return coro.ErrProtocol
	}
}

func (w *WSRaw) recvOneFrame(t *coro.Task, deadline coro.Deadline) (opcode byte, payload []byte, fin bool, err error) {
	var b [2]byte
	if err := w.inner.RecvList(t, coro.Of(b[:]), deadline); err != nil {
		return 0, nil, false, err
	}
	fin = b[0]&0x80 != 0
	if b[0]&0x70 != 0 {
		return 0, nil, false, coro.ErrProtocol
	}
	opcode = b[0] & 0x0F
	masked := b[1]&0x80 != 0
	if masked == w.client {
		// A client must only receive unmasked frames; a server must only
		// receive masked ones.
		return 0, nil, false, coro.ErrProtocol
	}
	length := uint64(b[1] & 0x7F)
	switch length {
	case 126:
		var ext [2]byte
		if err := w.inner.RecvList(t, coro.Of(ext[:]), deadline); err != nil {
			return 0, nil, false, err
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if err := w.inner.RecvList(t, coro.Of(ext[:]), deadline); err != nil {
			return 0, nil, false, err
		}
		length = binary.BigEndian.Uint64(ext[:])
	}
	if isControlOpcode(opcode) && (length > maxControlPayload || !fin) {
		return 0, nil, false, coro.ErrProtocol
	}
	var key [4]byte
	if masked {
		if err := w.inner.RecvList(t, coro.Of(key[:]), deadline); err != nil {
			return 0, nil, false, err
		}
	}
	payload = make([]byte, length)
	if length > 0 {
		if err := w.inner.RecvList(t, coro.Of(payload), deadline); err != nil {
			return 0, nil, false, err
		}
	}
	if masked {
		for i := range payload {
			payload[i] ^= key[i%4]
		}
	}
	return opcode, payload, fin, nil
}

func isControlOpcode(opcode byte) bool {
	return opcode&0x08 != 0
}

func encodeHeader(fin bool, opcode byte, length int, masked bool) []byte {
	var b0 byte
	if fin {
		b0 = 0x80
	}
	b0 |= opcode
	var maskBit byte
	if masked {
		maskBit = 0x80
	}
	switch {
	case length < 126:
		return []byte{b0, maskBit | byte(length)}
	case length <= 0xFFFF:
		hdr := make([]byte, 4)
		hdr[0], hdr[1] = b0, maskBit|126
		binary.BigEndian.PutUint16(hdr[2:], uint16(length))
		return hdr
	default:
		hdr := make([]byte, 10)
		hdr[0], hdr[1] = b0, maskBit|127
		binary.BigEndian.PutUint64(hdr[2:], uint64(length))
		return hdr
	}
}
