package transport

import (
	"context"
	"net"
	"time"

	"github.com/coroio/coro"
)

// IPMode selects which address family an IP resolver call prefers or
// requires, per spec.md §6's IPV4/IPV6/PREF_IPV4/PREF_IPV6 resolver modes
// (grounded on the original implementation's ipaddr_local/ipaddr_remote mode
// switch in original_source/ipaddr.c).
type IPMode int

const (
	// IPPreferIPv4 is the zero value and the original's mode-0 default:
	// IPv4 if available, IPv6 otherwise.
	IPPreferIPv4 IPMode = iota
	IPOnlyIPv4
	IPOnlyIPv6
	IPPreferIPv6
)

// ResolveLocal resolves name (which may be empty for INADDR_ANY/in6addr_any,
// a literal IP address, or a local interface name) to a bindable address,
// honoring mode. Unlike ResolveRemote this never touches the network or
// blocks a task: interface enumeration and literal parsing are both local,
// synchronous operations.
func ResolveLocal(name string, port int, mode IPMode) (net.Addr, error) {
	if name == "" {
		return ipAnyAddr(port, mode), nil
	}
	if ip := net.ParseIP(name); ip != nil {
		return literalAddr(ip, port, mode)
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, coro.Wrap(coro.ErrInvalid, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, coro.Wrap(coro.ErrIO, err)
	}
	var v4, v6 net.IP
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			if v4 == nil {
				v4 = ip4
			}
		} else if v6 == nil {
			v6 = ipNet.IP
		}
	}
	ip := chooseByMode(v4, v6, mode)
	if ip == nil {
		return nil, coro.ErrAddrFamily
	}
	return &net.TCPAddr{IP: ip, Port: port}, nil
}

// ResolveRemote resolves name (a literal address or a DNS hostname) to a
// connectable address, honoring mode, bounded by deadline and the calling
// task's cancellation. A literal address short-circuits the DNS path
// entirely, matching the original's "try literal first" behavior. DNS
// lookups run on their own goroutine (net.DefaultResolver has no
// scheduler-aware blocking primitive of its own) so the calling task still
// yields cooperatively: this goroutine, not the run-loop, blocks on the
// network.
func ResolveRemote(t *coro.Task, name string, port int, mode IPMode, deadline coro.Deadline) (net.Addr, error) {
	if ip := net.ParseIP(name); ip != nil {
		return literalAddr(ip, port, mode)
	}

	type lookupResult struct {
		addrs []net.IPAddr
		err   error
	}
	resultCh := make(chan lookupResult, 1)
	go func() {
		addrs, err := net.DefaultResolver.LookupIPAddr(context.Background(), name)
		resultCh <- lookupResult{addrs, err}
	}()

	timerC, stop := deadlineTimer(deadline)
	defer stop()
	var cancelC <-chan struct{}
	if t != nil {
		cancelC = t.CancelSignal()
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, coro.Wrap(coro.ErrHostUnreach, res.err)
		}
		var v4, v6 net.IP
		for _, a := range res.addrs {
			if ip4 := a.IP.To4(); ip4 != nil {
				if v4 == nil {
					v4 = ip4
				}
			} else if v6 == nil {
				v6 = a.IP
			}
		}
		ip := chooseByMode(v4, v6, mode)
		if ip == nil {
			return nil, coro.ErrHostUnreach
		}
		return &net.TCPAddr{IP: ip, Port: port}, nil
	case <-timerC:
		return nil, coro.ErrTimeout
	case <-cancelC:
		return nil, coro.ErrCanceled
	}
}

func deadlineTimer(deadline coro.Deadline) (<-chan time.Time, func()) {
	if deadline == coro.NoDeadline {
		return nil, func() {}
	}
	if deadline == coro.ImmediateDeadline {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch, func() {}
	}
	d := time.Until(time.UnixMilli(int64(deadline)))
	if d < 0 {
		d = 0
	}
	timer := time.NewTimer(d)
	return timer.C, func() { timer.Stop() }
}

func ipAnyAddr(port int, mode IPMode) net.Addr {
	if mode == IPOnlyIPv6 {
		return &net.TCPAddr{IP: net.IPv6zero, Port: port}
	}
	return &net.TCPAddr{IP: net.IPv4zero, Port: port}
}

func literalAddr(ip net.IP, port int, mode IPMode) (net.Addr, error) {
	if ip4 := ip.To4(); ip4 != nil {
		if mode == IPOnlyIPv6 {
			return nil, coro.ErrAddrFamily
		}
		return &net.TCPAddr{IP: ip4, Port: port}, nil
	}
	if mode == IPOnlyIPv4 {
		return nil, coro.ErrAddrFamily
	}
	return &net.TCPAddr{IP: ip, Port: port}, nil
}

// chooseByMode picks v4 or v6 per mode, matching original_source/ipaddr.c's
// switch: IPOnlyIPv4/IPOnlyIPv6 require that family, PreferIPv4/PreferIPv6
// fall back to the other family if the preferred one is absent.
func chooseByMode(v4, v6 net.IP, mode IPMode) net.IP {
	switch mode {
	case IPOnlyIPv4:
		return v4
	case IPOnlyIPv6:
		return v6
	case IPPreferIPv6:
		if v6 != nil {
			return v6
		}
		return v4
	default: // IPPreferIPv4
		if v4 != nil {
			return v4
		}
		return v6
	}
}

