package transport

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coroio/coro"
)

func Test_IPC_DialAcceptRoundTripsBytes(t *testing.T) {
	sched := newTestScheduler(t)
	sockPath := filepath.Join(t.TempDir(), "coro.sock")

	ln, err := ListenIPC(sched, sockPath, 8)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *IPCConn, 1)
	sched.Go(nil, "acceptor", func(tk *coro.Task) error {
		conn, aerr := ln.Accept(tk, coro.NoDeadline)
		if aerr != nil {
			return aerr
		}
		accepted <- conn
		return nil
	})

	var client *IPCConn
	result := make(chan error, 1)
	sched.Go(nil, "dialer", func(tk *coro.Task) error {
		var derr error
		client, derr = DialIPC(sched, tk, sockPath, coro.DeadlineAfter(time.Second))
		result <- derr
		return nil
	})
	require.NoError(t, <-result)
	defer client.Close()

	server := <-accepted
	defer server.Close()

	sched.Go(nil, "writer", func(tk *coro.Task) error {
		return client.SendList(tk, coro.Of([]byte("hola")), coro.DeadlineAfter(time.Second))
	})

	buf := make([]byte, 4)
	recvDone := make(chan error, 1)
	sched.Go(nil, "reader", func(tk *coro.Task) error {
		recvDone <- server.RecvList(tk, coro.Of(buf), coro.DeadlineAfter(time.Second))
		return nil
	})
	require.NoError(t, <-recvDone)
	require.Equal(t, "hola", string(buf))
}

func Test_IPC_ListenPathTooLongFails(t *testing.T) {
	sched := newTestScheduler(t)
	padding := make([]byte, 200)
	for i := range padding {
		padding[i] = 'a'
	}
	_, err := ListenIPC(sched, "/tmp/"+string(padding), 8)
	require.ErrorIs(t, err, coro.ErrNameTooLong)
}

func Test_IPC_CloseGracefulDrainsThenCloses(t *testing.T) {
	sched := newTestScheduler(t)
	sockPath := filepath.Join(t.TempDir(), "coro.sock")

	ln, err := ListenIPC(sched, sockPath, 8)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *IPCConn, 1)
	sched.Go(nil, "acceptor", func(tk *coro.Task) error {
		conn, aerr := ln.Accept(tk, coro.NoDeadline)
		if aerr != nil {
			return aerr
		}
		accepted <- conn
		return nil
	})

	var client *IPCConn
	result := make(chan error, 1)
	sched.Go(nil, "dialer", func(tk *coro.Task) error {
		var derr error
		client, derr = DialIPC(sched, tk, sockPath, coro.DeadlineAfter(time.Second))
		result <- derr
		return nil
	})
	require.NoError(t, <-result)
	server := <-accepted

	sched.Go(nil, "closer", func(tk *coro.Task) error {
		require.NoError(t, server.SendList(tk, coro.Of([]byte("ok")), coro.DeadlineAfter(time.Second)))
		return server.CloseGraceful(tk, coro.DeadlineAfter(time.Second))
	})

	buf := make([]byte, 2)
	recvDone := make(chan error, 1)
	sched.Go(nil, "reader", func(tk *coro.Task) error {
		recvDone <- client.RecvList(tk, coro.Of(buf), coro.DeadlineAfter(time.Second))
		return nil
	})
	require.NoError(t, <-recvDone)
	require.Equal(t, "ok", string(buf))
}
