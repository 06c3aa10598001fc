package adapter

import (
	"net"

	"github.com/coroio/coro"
	"github.com/coroio/coro/socket"
)

// SOCKS5 method identifiers, RFC 1928 §3.
const (
	socks5MethodNoAuth   byte = 0x00
	socks5MethodUserPass byte = 0x02
	socks5MethodNone     byte = 0xFF
)

// SOCKS5 address types, RFC 1928 §4.
const (
	socks5AddrIPv4   byte = 0x01
	socks5AddrDomain byte = 0x03
	socks5AddrIPv6   byte = 0x04
)

// SOCKS5 reply codes, RFC 1928 §6, and their CoreError translation.
var socks5ReplyErr = map[byte]*coro.CoreError{
	0x01: coro.ErrIO,
	0x02: coro.ErrAccessDenied,
	0x03: coro.ErrNetUnreach,
	0x04: coro.ErrHostUnreach,
	0x05: coro.ErrConnRefused,
	0x06: coro.ErrTimeout,
	0x07: coro.ErrOpNotSupported,
	0x08: coro.ErrAddrFamily,
}

// SOCKS5Target is the destination a client requests and a server receives,
// addressed by literal IP or by domain name (exactly one of IP/Name is set).
type SOCKS5Target struct {
	IP   net.IP
	Name string
	Port uint16
}

// DialSOCKS5 performs the client side of the SOCKS5 handshake atop inner: a
// method selection (no-auth, or user/pass if username is non-empty) followed
// by a CONNECT request for target. On success it returns inner itself, now
// positioned to carry the proxied byte stream, per RFC 1928's "same
// connection" model.
func DialSOCKS5(t *coro.Task, inner socket.ByteStream, target SOCKS5Target, username, password string, deadline coro.Deadline) (socket.ByteStream, error) {
	methods := []byte{socks5MethodNoAuth}
	if username != "" {
		methods = []byte{socks5MethodUserPass}
	}
	greeting := append([]byte{0x05, byte(len(methods))}, methods...)
	if err := inner.SendList(t, coro.Of(greeting), deadline); err != nil {
		return nil, err
	}
	var choice [2]byte
	if err := inner.RecvList(t, coro.Of(choice[:]), deadline); err != nil {
		return nil, err
	}
	if choice[0] != 0x05 || choice[1] == socks5MethodNone {
		return nil, coro.ErrProtocol
	}
	if choice[1] == socks5MethodUserPass {
		if err := socks5UserPassAuth(t, inner, username, password, deadline); err != nil {
			return nil, err
		}
	}

	req, err := encodeSOCKS5Request(target)
	if err != nil {
		return nil, err
	}
	if err := inner.SendList(t, coro.Of(req), deadline); err != nil {
		return nil, err
	}
	if err := recvSOCKS5Reply(t, inner, deadline); err != nil {
		return nil, err
	}
	return inner, nil
}

func socks5UserPassAuth(t *coro.Task, inner socket.ByteStream, username, password string, deadline coro.Deadline) error {
	if len(username) > 255 || len(password) > 255 {
		return coro.ErrInvalid
	}
	buf := append([]byte{0x01, byte(len(username))}, username...)
	buf = append(buf, byte(len(password)))
	buf = append(buf, password...)
	if err := inner.SendList(t, coro.Of(buf), deadline); err != nil {
		return err
	}
	var resp [2]byte
	if err := inner.RecvList(t, coro.Of(resp[:]), deadline); err != nil {
		return err
	}
	if resp[1] != 0x00 {
		return coro.ErrAccessDenied
	}
	return nil
}

func encodeSOCKS5Request(target SOCKS5Target) ([]byte, error) {
	req := []byte{0x05, 0x01, 0x00}
	switch {
	case target.IP != nil && target.IP.To4() != nil:
		req = append(req, socks5AddrIPv4)
		req = append(req, target.IP.To4()...)
	case target.IP != nil:
		ip16 := target.IP.To16()
		if ip16 == nil {
			return nil, coro.ErrAddrFamily
		}
		req = append(req, socks5AddrIPv6)
		req = append(req, ip16...)
	case target.Name != "":
		if len(target.Name) > 255 {
			return nil, coro.ErrNameTooLong
		}
		req = append(req, socks5AddrDomain, byte(len(target.Name)))
		req = append(req, target.Name...)
	default:
		return nil, coro.ErrInvalid
	}
	req = append(req, byte(target.Port>>8), byte(target.Port))
	return req, nil
}

func recvSOCKS5Reply(t *coro.Task, inner socket.ByteStream, deadline coro.Deadline) error {
	var hdr [4]byte
	if err := inner.RecvList(t, coro.Of(hdr[:]), deadline); err != nil {
		return err
	}
	if hdr[0] != 0x05 {
		return coro.ErrProtocol
	}
	if hdr[1] != 0x00 {
		if ce, ok := socks5ReplyErr[hdr[1]]; ok {
			return ce
		}
		return coro.ErrIO
	}
	return discardSOCKS5Addr(t, inner, hdr[3], deadline)
}

func discardSOCKS5Addr(t *coro.Task, inner socket.ByteStream, atyp byte, deadline coro.Deadline) error {
	var n int
	switch atyp {
	case socks5AddrIPv4:
		n = 4
	case socks5AddrIPv6:
		n = 16
	case socks5AddrDomain:
		var l [1]byte
		if err := inner.RecvList(t, coro.Of(l[:]), deadline); err != nil {
			return err
		}
		n = int(l[0])
	default:
		return coro.ErrProtocol
	}
	buf := make([]byte, n+2) // + BND.PORT
	return inner.RecvList(t, coro.Of(buf), deadline)
}

// AcceptSOCKS5 performs the server side of the handshake: method selection
// (optionally gated by authenticate, called only when the client offers
// user/pass) followed by reading the client's CONNECT request. The caller
// is responsible for actually establishing the requested connection and
// then calling SendSOCKS5Reply with the outcome.
func AcceptSOCKS5(t *coro.Task, inner socket.ByteStream, authenticate func(user, pass string) bool, deadline coro.Deadline) (SOCKS5Target, error) {
	var hdr [2]byte
	if err := inner.RecvList(t, coro.Of(hdr[:]), deadline); err != nil {
		return SOCKS5Target{}, err
	}
	if hdr[0] != 0x05 || hdr[1] == 0 {
		return SOCKS5Target{}, coro.ErrProtocol
	}
	methods := make([]byte, hdr[1])
	if err := inner.RecvList(t, coro.Of(methods), deadline); err != nil {
		return SOCKS5Target{}, err
	}

	chosen := socks5MethodNone
	for _, m := range methods {
		if m == socks5MethodUserPass && authenticate != nil {
			chosen = socks5MethodUserPass
			break
		}
		if m == socks5MethodNoAuth && authenticate == nil {
			chosen = socks5MethodNoAuth
		}
	}
	if err := inner.SendList(t, coro.Of([]byte{0x05, chosen}), deadline); err != nil {
		return SOCKS5Target{}, err
	}
	if chosen == socks5MethodNone {
		return SOCKS5Target{}, coro.ErrProtocol
	}
	if chosen == socks5MethodUserPass {
		if err := socks5ServeAuth(t, inner, authenticate, deadline); err != nil {
			return SOCKS5Target{}, err
		}
	}

	var req [4]byte
	if err := inner.RecvList(t, coro.Of(req[:]), deadline); err != nil {
		return SOCKS5Target{}, err
	}
	if req[0] != 0x05 || req[1] != 0x01 {
		return SOCKS5Target{}, coro.ErrOpNotSupported
	}
	target, err := recvSOCKS5Addr(t, inner, req[3], deadline)
	if err != nil {
		return SOCKS5Target{}, err
	}
	return target, nil
}

func socks5ServeAuth(t *coro.Task, inner socket.ByteStream, authenticate func(user, pass string) bool, deadline coro.Deadline) error {
	var v [2]byte
	if err := inner.RecvList(t, coro.Of(v[:]), deadline); err != nil {
		return err
	}
	user := make([]byte, v[1])
	if err := inner.RecvList(t, coro.Of(user), deadline); err != nil {
		return err
	}
	var pl [1]byte
	if err := inner.RecvList(t, coro.Of(pl[:]), deadline); err != nil {
		return err
	}
	pass := make([]byte, pl[0])
	if err := inner.RecvList(t, coro.Of(pass), deadline); err != nil {
		return err
	}
	ok := authenticate(string(user), string(pass))
	status := byte(0x01)
	if ok {
		status = 0x00
	}
	if err := inner.SendList(t, coro.Of([]byte{0x01, status}), deadline); err != nil {
		return err
	}
	if !ok {
		return coro.ErrAccessDenied
	}
	return nil
}

func recvSOCKS5Addr(t *coro.Task, inner socket.ByteStream, atyp byte, deadline coro.Deadline) (SOCKS5Target, error) {
	var target SOCKS5Target
	switch atyp {
	case socks5AddrIPv4:
		buf := make([]byte, 4)
		if err := inner.RecvList(t, coro.Of(buf), deadline); err != nil {
			return target, err
		}
		target.IP = net.IP(buf)
	case socks5AddrIPv6:
		buf := make([]byte, 16)
		if err := inner.RecvList(t, coro.Of(buf), deadline); err != nil {
			return target, err
		}
		target.IP = net.IP(buf)
	case socks5AddrDomain:
		var l [1]byte
		if err := inner.RecvList(t, coro.Of(l[:]), deadline); err != nil {
			return target, err
		}
		buf := make([]byte, l[0])
		if err := inner.RecvList(t, coro.Of(buf), deadline); err != nil {
			return target, err
		}
		target.Name = string(buf)
	default:
		return target, coro.ErrAddrFamily
	}
	var port [2]byte
	if err := inner.RecvList(t, coro.Of(port[:]), deadline); err != nil {
		return target, err
	}
	target.Port = uint16(port[0])<<8 | uint16(port[1])
	return target, nil
}

// SendSOCKS5Reply sends the server's reply to a CONNECT request. replyErr is
// nil for success; otherwise it is translated to the matching SOCKS5 reply
// code (falling back to general failure for an error with no direct
// mapping). bound is the address the proxy actually bound for the relayed
// connection, echoed back to the client per RFC 1928.
func SendSOCKS5Reply(t *coro.Task, inner socket.ByteStream, replyErr error, bound *net.TCPAddr, deadline coro.Deadline) error {
	code := byte(0x00)
	if replyErr != nil {
		code = 0x01
		for k, v := range socks5ReplyErr {
			if v.Is(replyErr) {
				code = k
				break
			}
		}
	}
	reply := []byte{0x05, code, 0x00}
	if bound != nil && bound.IP.To4() != nil {
		reply = append(reply, socks5AddrIPv4)
		reply = append(reply, bound.IP.To4()...)
	} else if bound != nil {
		reply = append(reply, socks5AddrIPv6)
		reply = append(reply, bound.IP.To16()...)
	} else {
		reply = append(reply, socks5AddrIPv4, 0, 0, 0, 0)
	}
	port := uint16(0)
	if bound != nil {
		port = uint16(bound.Port)
	}
	reply = append(reply, byte(port>>8), byte(port))
	return inner.SendList(t, coro.Of(reply), deadline)
}
