package transport

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/coroio/coro"
)

func sockaddrFromTCP(addr *net.TCPAddr) (unix.Sockaddr, error) {
	if addr.IP == nil || addr.IP.To4() != nil {
		var sa unix.SockaddrInet4
		sa.Port = addr.Port
		if ip4 := addr.IP.To4(); ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return &sa, nil
	}
	ip16 := addr.IP.To16()
	if ip16 == nil {
		return nil, coro.ErrAddrFamily
	}
	var sa unix.SockaddrInet6
	sa.Port = addr.Port
	copy(sa.Addr[:], ip16)
	return &sa, nil
}

func sockaddrToTCPAddr(sa unix.Sockaddr) net.Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append([]byte(nil), v.Addr[:]...), Port: v.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append([]byte(nil), v.Addr[:]...), Port: v.Port}
	default:
		return nil
	}
}

func sockaddrFromUDP(addr *net.UDPAddr) (unix.Sockaddr, error) {
	if addr.IP == nil || addr.IP.To4() != nil {
		var sa unix.SockaddrInet4
		sa.Port = addr.Port
		if ip4 := addr.IP.To4(); ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return &sa, nil
	}
	ip16 := addr.IP.To16()
	if ip16 == nil {
		return nil, coro.ErrAddrFamily
	}
	var sa unix.SockaddrInet6
	sa.Port = addr.Port
	copy(sa.Addr[:], ip16)
	return &sa, nil
}

func sockaddrToUDPAddr(sa unix.Sockaddr) net.Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.UDPAddr{IP: append([]byte(nil), v.Addr[:]...), Port: v.Port}
	case *unix.SockaddrInet6:
		return &net.UDPAddr{IP: append([]byte(nil), v.Addr[:]...), Port: v.Port}
	default:
		return nil
	}
}
