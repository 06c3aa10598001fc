package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coroio/coro"
)

func newTestScheduler(t *testing.T) *coro.Scheduler {
	t.Helper()
	s, err := coro.NewScheduler()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Test_TCP_DialAcceptRoundTripsBytes(t *testing.T) {
	sched := newTestScheduler(t)
	ln, err := ListenTCP(sched, "127.0.0.1:0", 8)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *TCPConn, 1)
	sched.Go(nil, "acceptor", func(tk *coro.Task) error {
		conn, aerr := ln.Accept(tk, coro.NoDeadline)
		if aerr != nil {
			return aerr
		}
		accepted <- conn
		return nil
	})

	result := make(chan error, 1)
	var client *TCPConn
	sched.Go(nil, "dialer", func(tk *coro.Task) error {
		var derr error
		client, derr = DialTCP(sched, tk, ln.Addr().String(), coro.DeadlineAfter(time.Second))
		result <- derr
		return nil
	})
	require.NoError(t, <-result)
	defer client.Close()

	server := <-accepted
	defer server.Close()

	sched.Go(nil, "writer", func(tk *coro.Task) error {
		return client.SendList(tk, coro.Of([]byte("ping")), coro.DeadlineAfter(time.Second))
	})

	recvDone := make(chan error, 1)
	buf := make([]byte, 4)
	sched.Go(nil, "reader", func(tk *coro.Task) error {
		recvDone <- server.RecvList(tk, coro.Of(buf), coro.DeadlineAfter(time.Second))
		return nil
	})
	require.NoError(t, <-recvDone)
	require.Equal(t, "ping", string(buf))
}

func Test_TCP_DialRefusedReturnsConnRefused(t *testing.T) {
	sched := newTestScheduler(t)
	ln, err := ListenTCP(sched, "127.0.0.1:0", 8)
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	result := make(chan error, 1)
	sched.Go(nil, "dialer", func(tk *coro.Task) error {
		_, derr := DialTCP(sched, tk, addr, coro.DeadlineAfter(time.Second))
		result <- derr
		return nil
	})
	require.ErrorIs(t, <-result, coro.ErrConnRefused)
}

func Test_TCP_RecvListReturnsClosedOrderlyOnPeerFin(t *testing.T) {
	sched := newTestScheduler(t)
	ln, err := ListenTCP(sched, "127.0.0.1:0", 8)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *TCPConn, 1)
	sched.Go(nil, "acceptor", func(tk *coro.Task) error {
		conn, aerr := ln.Accept(tk, coro.NoDeadline)
		if aerr != nil {
			return aerr
		}
		accepted <- conn
		return nil
	})

	var client *TCPConn
	result := make(chan error, 1)
	sched.Go(nil, "dialer", func(tk *coro.Task) error {
		var derr error
		client, derr = DialTCP(sched, tk, ln.Addr().String(), coro.DeadlineAfter(time.Second))
		result <- derr
		return nil
	})
	require.NoError(t, <-result)

	server := <-accepted
	require.NoError(t, client.Close())

	buf := make([]byte, 4)
	recvDone := make(chan error, 1)
	sched.Go(nil, "reader", func(tk *coro.Task) error {
		recvDone <- server.RecvList(tk, coro.Of(buf), coro.DeadlineAfter(time.Second))
		return nil
	})
	require.ErrorIs(t, <-recvDone, coro.ErrClosedOrderly)
	require.NoError(t, server.Close())
}

func Test_TCP_CloseGracefulDrainsThenCloses(t *testing.T) {
	sched := newTestScheduler(t)
	ln, err := ListenTCP(sched, "127.0.0.1:0", 8)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *TCPConn, 1)
	sched.Go(nil, "acceptor", func(tk *coro.Task) error {
		conn, aerr := ln.Accept(tk, coro.NoDeadline)
		if aerr != nil {
			return aerr
		}
		accepted <- conn
		return nil
	})

	var client *TCPConn
	result := make(chan error, 1)
	sched.Go(nil, "dialer", func(tk *coro.Task) error {
		var derr error
		client, derr = DialTCP(sched, tk, ln.Addr().String(), coro.DeadlineAfter(time.Second))
		result <- derr
		return nil
	})
	require.NoError(t, <-result)
	server := <-accepted

	sched.Go(nil, "closer", func(tk *coro.Task) error {
		require.NoError(t, server.SendList(tk, coro.Of([]byte("bye")), coro.DeadlineAfter(time.Second)))
		return server.CloseGraceful(tk, coro.DeadlineAfter(time.Second))
	})

	buf := make([]byte, 3)
	recvDone := make(chan error, 1)
	sched.Go(nil, "reader", func(tk *coro.Task) error {
		recvDone <- client.RecvList(tk, coro.Of(buf), coro.DeadlineAfter(time.Second))
		return nil
	})
	require.NoError(t, <-recvDone)
	require.Equal(t, "bye", string(buf))
}
