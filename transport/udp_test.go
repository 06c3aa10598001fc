package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coroio/coro"
)

func Test_UDP_ConnectedRoundTripsDatagram(t *testing.T) {
	sched := newTestScheduler(t)
	server, err := ListenUDP(sched, "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	client, err := DialUDP(sched, server.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, server.Connect(client.LocalAddr().String()))

	sendDone := make(chan error, 1)
	sched.Go(nil, "sender", func(tk *coro.Task) error {
		sendDone <- client.MSendList(tk, coro.Of([]byte("ping")), coro.DeadlineAfter(time.Second))
		return nil
	})
	require.NoError(t, <-sendDone)

	buf := make([]byte, 8)
	recvN := make(chan int, 1)
	recvErr := make(chan error, 1)
	sched.Go(nil, "receiver", func(tk *coro.Task) error {
		n, rerr := server.MRecvList(tk, coro.Of(buf), coro.DeadlineAfter(time.Second))
		recvN <- n
		recvErr <- rerr
		return nil
	})
	require.NoError(t, <-recvErr)
	require.Equal(t, 4, <-recvN)
	require.Equal(t, "ping", string(buf[:4]))
}

func Test_UDP_MSendListRequiresConnected(t *testing.T) {
	sched := newTestScheduler(t)
	u, err := ListenUDP(sched, "127.0.0.1:0")
	require.NoError(t, err)
	defer u.Close()

	done := make(chan error, 1)
	sched.Go(nil, "sender", func(tk *coro.Task) error {
		done <- u.MSendList(tk, coro.Of([]byte("x")), coro.DeadlineAfter(time.Second))
		return nil
	})
	require.ErrorIs(t, <-done, coro.ErrInvalid)
}

func Test_UDP_SendToRecvFromUnconnectedSocket(t *testing.T) {
	sched := newTestScheduler(t)
	server, err := ListenUDP(sched, "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	client, err := ListenUDP(sched, "127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	sendDone := make(chan error, 1)
	sched.Go(nil, "sender", func(tk *coro.Task) error {
		sendDone <- client.SendTo(tk, coro.Of([]byte("hi")), server.LocalAddr(), coro.DeadlineAfter(time.Second))
		return nil
	})
	require.NoError(t, <-sendDone)

	buf := make([]byte, 8)
	type recvResult struct {
		n   int
		src string
		err error
	}
	recvCh := make(chan recvResult, 1)
	sched.Go(nil, "receiver", func(tk *coro.Task) error {
		n, src, rerr := server.RecvFrom(tk, coro.Of(buf), coro.DeadlineAfter(time.Second))
		addr := ""
		if src != nil {
			addr = src.String()
		}
		recvCh <- recvResult{n, addr, rerr}
		return nil
	})
	res := <-recvCh
	require.NoError(t, res.err)
	require.Equal(t, 2, res.n)
	require.Equal(t, "hi", string(buf[:2]))
	require.Equal(t, client.LocalAddr().String(), res.src)
}

func Test_UDP_MRecvListTooLargeDatagramFails(t *testing.T) {
	sched := newTestScheduler(t)
	server, err := ListenUDP(sched, "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	client, err := DialUDP(sched, server.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, server.Connect(client.LocalAddr().String()))

	sendDone := make(chan error, 1)
	sched.Go(nil, "sender", func(tk *coro.Task) error {
		sendDone <- client.MSendList(tk, coro.Of([]byte("too big for the buffer")), coro.DeadlineAfter(time.Second))
		return nil
	})
	require.NoError(t, <-sendDone)

	small := make([]byte, 4)
	recvErr := make(chan error, 1)
	sched.Go(nil, "receiver", func(tk *coro.Task) error {
		_, rerr := server.MRecvList(tk, coro.Of(small), coro.DeadlineAfter(time.Second))
		recvErr <- rerr
		return nil
	})
	require.ErrorIs(t, <-recvErr, coro.ErrMessageTooLarge)
}
