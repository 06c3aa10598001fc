package transport

import (
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/coroio/coro"
	"github.com/coroio/coro/socket"
)

// UDPSocket is a UDP message socket implementing socket.Message: each
// MSendList/MRecvList call transfers exactly one datagram. Per spec.md
// §4.H it may be bound, connected, both, or neither; Connect puts it in
// connected mode, where MSendList needs no explicit destination (it goes to
// the connected peer) and MRecvList only ever sees that peer's datagrams —
// connect(2) on a SOCK_DGRAM socket makes the kernel itself drop datagrams
// from any other source, so no userspace source-address filtering is
// needed once connected.
type UDPSocket struct {
	sched *coro.Scheduler
	fd    int
	local net.Addr

	mu        sync.Mutex
	connected bool
	remote    net.Addr
	socket.ErrState
}

// Close implements coro.Closer.
func (u *UDPSocket) Close() error { return closeFD(u.fd) }

func (u *UDPSocket) LocalAddr() net.Addr { return u.local }

// RemoteAddr returns the connected peer, or nil if this socket is not
// connected.
func (u *UDPSocket) RemoteAddr() net.Addr {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.remote
}

// ListenUDP binds a UDP socket for receiving datagrams. The returned socket
// is unconnected; call Connect to fix a default peer, or use SendTo/RecvFrom
// to address multiple peers from the one bound socket.
func ListenUDP(sched *coro.Scheduler, addr string) (*UDPSocket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, coro.Wrap(coro.ErrInvalid, err)
	}
	domain := unix.AF_INET
	if udpAddr.IP != nil && udpAddr.IP.To4() == nil {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return nil, coro.Wrap(coro.ErrIO, err)
	}
	if err := setNonblock(fd); err != nil {
		unix.Close(fd)
		return nil, coro.Wrap(coro.ErrIO, err)
	}
	sa, err := sockaddrFromUDP(udpAddr)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, coro.Wrap(coro.ErrIO, err)
	}
	var local net.Addr = udpAddr
	if bound, gerr := unix.Getsockname(fd); gerr == nil {
		if a := sockaddrToUDPAddr(bound); a != nil {
			local = a // reports the kernel-chosen port when addr asked for 0
		}
	}
	return &UDPSocket{sched: sched, fd: fd, local: local}, nil
}

// DialUDP creates an unbound, connected UDP socket: the common "client"
// construction, equivalent to ListenUDP(sched, ":0") followed by Connect.
func DialUDP(sched *coro.Scheduler, addr string) (*UDPSocket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, coro.Wrap(coro.ErrInvalid, err)
	}
	domain := unix.AF_INET
	if udpAddr.IP != nil && udpAddr.IP.To4() == nil {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return nil, coro.Wrap(coro.ErrIO, err)
	}
	if err := setNonblock(fd); err != nil {
		unix.Close(fd)
		return nil, coro.Wrap(coro.ErrIO, err)
	}
	u := &UDPSocket{sched: sched, fd: fd}
	if err := u.Connect(addr); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if bound, gerr := unix.Getsockname(fd); gerr == nil {
		u.local = sockaddrToUDPAddr(bound) // connect(2) bound an ephemeral port
	}
	return u, nil
}

// Connect fixes addr as this socket's default peer: subsequent MSendList
// calls need no destination, and the kernel restricts MRecvList to
// datagrams actually sent by that peer.
func (u *UDPSocket) Connect(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return coro.Wrap(coro.ErrInvalid, err)
	}
	sa, err := sockaddrFromUDP(udpAddr)
	if err != nil {
		return err
	}
	if err := unix.Connect(u.fd, sa); err != nil {
		return classifyConnectErr(err)
	}
	u.mu.Lock()
	u.connected = true
	u.remote = udpAddr
	u.mu.Unlock()
	return nil
}

// MSendList sends list as a single datagram to the connected peer. The
// socket must be connected (see Connect); an unconnected socket serving
// multiple peers uses SendTo instead.
func (u *UDPSocket) MSendList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) error {
	u.mu.Lock()
	if err := u.GuardSend(); err != nil {
		u.mu.Unlock()
		return err
	}
	if !u.connected {
		u.mu.Unlock()
		return coro.ErrInvalid
	}
	u.mu.Unlock()

	payload := list.Bytes()
	for {
		_, err := writeFD(u.fd, payload)
		if err == nil {
			return nil
		}
		if err == unix.EAGAIN {
			if _, werr := u.sched.WaitFD(t, u.fd, coro.EventOut, deadline); werr != nil {
				return werr
			}
			continue
		}
		u.mu.Lock()
		u.FailOut()
		u.mu.Unlock()
		return coro.Wrap(coro.ErrIO, err)
	}
}

// MRecvList receives exactly one datagram from the connected peer into
// list's backing storage, reporting its size. A datagram larger than list's
// total capacity fails EMSGSIZE and marks the socket failed, per spec.md
// §4.G's msock contract. The socket must be connected.
func (u *UDPSocket) MRecvList(t *coro.Task, list coro.Iolist, deadline coro.Deadline) (int, error) {
	u.mu.Lock()
	if err := u.GuardRecv(); err != nil {
		u.mu.Unlock()
		return 0, err
	}
	if !u.connected {
		u.mu.Unlock()
		return 0, coro.ErrInvalid
	}
	u.mu.Unlock()

	capacity := list.Len()
	buf := make([]byte, capacity+1) // +1 so a too-large datagram is detectable
	for {
		n, err := readFD(u.fd, buf)
		if err != nil {
			if err == unix.EAGAIN {
				if _, werr := u.sched.WaitFD(t, u.fd, coro.EventIn, deadline); werr != nil {
					return 0, werr
				}
				continue
			}
			u.mu.Lock()
			u.FailIn()
			u.mu.Unlock()
			return 0, coro.Wrap(coro.ErrIO, err)
		}
		if n > capacity {
			u.mu.Lock()
			u.FailIn()
			u.mu.Unlock()
			return 0, coro.ErrMessageTooLarge
		}
		remaining := buf[:n]
		for _, seg := range list {
			k := copy(seg.Data, remaining)
			remaining = remaining[k:]
		}
		return n, nil
	}
}

// SendTo sends list as a single datagram to dst, for an unconnected socket
// addressing multiple peers (e.g. a DTLS listener fanning associations out
// per source address).
func (u *UDPSocket) SendTo(t *coro.Task, list coro.Iolist, dst net.Addr, deadline coro.Deadline) error {
	u.mu.Lock()
	if err := u.GuardSend(); err != nil {
		u.mu.Unlock()
		return err
	}
	u.mu.Unlock()

	udpDst, ok := dst.(*net.UDPAddr)
	if !ok {
		return coro.ErrInvalid
	}
	sa, err := sockaddrFromUDP(udpDst)
	if err != nil {
		return err
	}
	payload := list.Bytes()
	for {
		err := unix.Sendto(u.fd, payload, 0, sa)
		if err == nil {
			return nil
		}
		if err == unix.EAGAIN {
			if _, werr := u.sched.WaitFD(t, u.fd, coro.EventOut, deadline); werr != nil {
				return werr
			}
			continue
		}
		u.mu.Lock()
		u.FailOut()
		u.mu.Unlock()
		return coro.Wrap(coro.ErrIO, err)
	}
}

// RecvFrom receives exactly one datagram into list's backing storage from
// any source, reporting that source address and the datagram's size.
func (u *UDPSocket) RecvFrom(t *coro.Task, list coro.Iolist, deadline coro.Deadline) (n int, src net.Addr, err error) {
	u.mu.Lock()
	if gerr := u.GuardRecv(); gerr != nil {
		u.mu.Unlock()
		return 0, nil, gerr
	}
	u.mu.Unlock()

	capacity := list.Len()
	buf := make([]byte, capacity+1) // +1 so a too-large datagram is detectable
	for {
		rn, from, rerr := unix.Recvfrom(u.fd, buf, 0)
		if rerr != nil {
			if rerr == unix.EAGAIN {
				if _, werr := u.sched.WaitFD(t, u.fd, coro.EventIn, deadline); werr != nil {
					return 0, nil, werr
				}
				continue
			}
			u.mu.Lock()
			u.FailIn()
			u.mu.Unlock()
			return 0, nil, coro.Wrap(coro.ErrIO, rerr)
		}
		if rn > capacity {
			u.mu.Lock()
			u.FailIn()
			u.mu.Unlock()
			return 0, nil, coro.ErrMessageTooLarge
		}
		remaining := buf[:rn]
		for _, seg := range list {
			k := copy(seg.Data, remaining)
			remaining = remaining[k:]
		}
		return rn, sockaddrToUDPAddr(from), nil
	}
}
