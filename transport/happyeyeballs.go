package transport

import (
	"context"
	"net"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/coroio/coro"
)

// happyEyeballsDelay is the default stagger between successive connection
// attempts, matching spec.md §4.H's explicit 300ms inter-attempt delay.
//
// happyEyeballsIPv6Preference is how long address resolution waits for both
// the A and AAAA queries to land before committing to whatever has arrived:
// spec.md §4.H documents this as "prefers IPv6 for the first 50ms" — within
// that window a host with working IPv6 gets to lead the attempt order, but
// resolution never blocks on a slow or absent AAAA response past it.
const (
	happyEyeballsDelay          = 300 * time.Millisecond
	happyEyeballsIPv6Preference = 50 * time.Millisecond
)

// DialHappyEyeballs resolves host, races TCP connection attempts across its
// IPv6 and IPv4 addresses staggered by delay (0 selects happyEyeballsDelay),
// and returns the first successful connection, canceling every other
// in-flight attempt. If limiter is non-nil, each attempt must acquire it
// before dialing; passing the scheduler's AcceptLimiter makes the attempts
// share a budget with listener Accept calls on that scheduler.
func DialHappyEyeballs(sched *coro.Scheduler, t *coro.Task, host, port string, delay time.Duration, deadline coro.Deadline, limiter *catrate.Limiter) (*TCPConn, error) {
	if delay <= 0 {
		delay = happyEyeballsDelay
	}
	ordered := resolveHappyEyeballs(host)
	if len(ordered) == 0 {
		return nil, coro.ErrHostUnreach
	}

	type attemptResult struct {
		conn *TCPConn
		err  error
	}
	results := make(chan attemptResult, len(ordered))
	bundle := coro.NewBundle(sched)

	for i, ip := range ordered {
		i, ip := i, ip
		bundle.Go("happy-eyeballs-attempt", func(attemptTask *coro.Task) error {
			if i > 0 {
				if err := sched.Sleep(attemptTask, coro.DeadlineAfter(delay*time.Duration(i))); err != nil {
					return nil
				}
			}
			if limiter != nil {
				if _, ok := limiter.Allow("connect"); !ok {
					results <- attemptResult{nil, coro.ErrOverload}
					return nil
				}
			}
			addr := net.JoinHostPort(ip.String(), port)
			conn, err := DialTCP(sched, attemptTask, addr, deadline)
			results <- attemptResult{conn, err}
			return nil
		})
	}

	var lastErr error = coro.ErrHostUnreach
	for range ordered {
		select {
		case res := <-results:
			if res.err == nil {
				go func() { _ = bundle.Close() }()
				return res.conn, nil
			}
			lastErr = res.err
		case <-t.CancelSignal():
			_ = bundle.Close()
			return nil, coro.ErrCanceled
		}
	}
	_ = bundle.Close()
	return nil, lastErr
}

// resolveHappyEyeballs issues the A and AAAA queries in parallel (spec.md
// §4.H) and waits up to happyEyeballsIPv6Preference for both to land before
// ordering the combined result, so a host with no usable IPv6 route doesn't
// stall connection attempts behind a slow or absent AAAA response.
func resolveHappyEyeballs(host string) []net.IP {
	v6ch := make(chan []net.IP, 1)
	v4ch := make(chan []net.IP, 1)
	go func() {
		addrs, _ := net.DefaultResolver.LookupIP(context.Background(), "ip6", host)
		v6ch <- addrs
	}()
	go func() {
		addrs, _ := net.DefaultResolver.LookupIP(context.Background(), "ip4", host)
		v4ch <- addrs
	}()

	var v6, v4 []net.IP
	haveV6, haveV4 := false, false
	timer := time.NewTimer(happyEyeballsIPv6Preference)
	defer timer.Stop()
	for !(haveV6 && haveV4) {
		select {
		case v6 = <-v6ch:
			haveV6 = true
		case v4 = <-v4ch:
			haveV4 = true
		case <-timer.C:
			haveV6, haveV4 = true, true // stop waiting; take whatever already arrived
		}
	}
	// A query that answered after the preference window elapsed is still
	// worth picking up if it's already sitting in its channel.
	if len(v6) == 0 {
		select {
		case v6 = <-v6ch:
		default:
		}
	}
	if len(v4) == 0 {
		select {
		case v4 = <-v4ch:
		default:
		}
	}
	return interleaveByFamily(v6, v4)
}

// interleaveByFamily orders addresses IPv6-first alternating with IPv4,
// matching the address-family interleaving RFC 8305 recommends so neither
// family is starved when a host has many of one kind.
func interleaveByFamily(v6, v4 []net.IP) []net.IP {
	var out []net.IP
	for len(v6) > 0 || len(v4) > 0 {
		if len(v6) > 0 {
			out = append(out, v6[0])
			v6 = v6[1:]
		}
		if len(v4) > 0 {
			out = append(out, v4[0])
			v4 = v4[1:]
		}
	}
	return out
}
