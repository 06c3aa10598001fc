package transport

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coroio/coro"
)

func Test_InterleaveByFamily_AlternatesStartingWithV6(t *testing.T) {
	v6 := []net.IP{net.ParseIP("::1"), net.ParseIP("::2")}
	v4 := []net.IP{net.ParseIP("10.0.0.1")}

	got := interleaveByFamily(v6, v4)
	require.Equal(t, []net.IP{
		net.ParseIP("::1"),
		net.ParseIP("10.0.0.1"),
		net.ParseIP("::2"),
	}, got)
}

func Test_InterleaveByFamily_EmptyFamilyIsSkipped(t *testing.T) {
	v4 := []net.IP{net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2")}
	got := interleaveByFamily(nil, v4)
	require.Equal(t, v4, got)
}

func Test_DialHappyEyeballs_ConnectsToLiteralHost(t *testing.T) {
	sched := newTestScheduler(t)
	ln, err := ListenTCP(sched, "127.0.0.1:0", 8)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan struct{}, 1)
	sched.Go(nil, "acceptor", func(tk *coro.Task) error {
		conn, aerr := ln.Accept(tk, coro.NoDeadline)
		if aerr != nil {
			return aerr
		}
		accepted <- struct{}{}
		return conn.Close()
	})

	tcpAddr := ln.Addr().(*net.TCPAddr)
	port := strconv.Itoa(tcpAddr.Port)

	var conn *TCPConn
	result := make(chan error, 1)
	sched.Go(nil, "dialer", func(tk *coro.Task) error {
		var derr error
		conn, derr = DialHappyEyeballs(sched, tk, "127.0.0.1", port, 10*time.Millisecond, coro.DeadlineAfter(2*time.Second), nil)
		result <- derr
		return nil
	})
	require.NoError(t, <-result)
	require.NotNil(t, conn)
	defer conn.Close()

	select {
	case <-accepted:
	case <-time.After(time.Second):
		t.Fatal("listener never accepted the happy-eyeballs connection")
	}
}

func Test_DialHappyEyeballs_NoAddressesReturnsHostUnreach(t *testing.T) {
	sched := newTestScheduler(t)
	result := make(chan error, 1)
	sched.Go(nil, "dialer", func(tk *coro.Task) error {
		_, derr := DialHappyEyeballs(sched, tk, "this-host-does-not-resolve.invalid", "80", 10*time.Millisecond, coro.DeadlineAfter(2*time.Second), nil)
		result <- derr
		return nil
	})
	require.ErrorIs(t, <-result, coro.ErrHostUnreach)
}
